// Package engine routes gateway events to commands, setup, reconciliation
// and cleanup.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/tinyland-inc/reactroles/pkg/autorole"
	"github.com/tinyland-inc/reactroles/pkg/bindings"
	"github.com/tinyland-inc/reactroles/pkg/bus"
	"github.com/tinyland-inc/reactroles/pkg/dispatch"
	"github.com/tinyland-inc/reactroles/pkg/logger"
	"github.com/tinyland-inc/reactroles/pkg/platform"
	"github.com/tinyland-inc/reactroles/pkg/reconcile"
	"github.com/tinyland-inc/reactroles/pkg/roles"
	"github.com/tinyland-inc/reactroles/pkg/setup"
)

const component = "engine"

const helpText = `**Reaction roles**
I need the Manage Roles and Add Reactions permissions, and I can only hand out roles below my highest role.

Start a message with %TRIGGER% and put role markers anywhere in it:
%TRIGGER% pick a colour: {ROLE:Red} {ROLE:Blue} or {ROLE:123456789012345678}

I add one reaction per role. Reacting gives you the role, removing the reaction takes it away.
A marker holds a role id, a role mention or a role name (case-insensitive).

%TRIGGER% autorole <role> [role...] gives roles to everyone who joins
%TRIGGER% autorole clear stops that
%TRIGGER% autorole shows the current list`

// HelpText returns the help message for trigger.
func HelpText(trigger string) string {
	return strings.ReplaceAll(helpText, "%TRIGGER%", trigger)
}

type Options struct {
	Trigger            string
	RequireManageRoles bool
}

// Deps are the collaborators an Engine routes to. AutoRoles may be nil.
type Deps struct {
	Bus        *bus.MessageBus
	Client     platform.Client
	Store      bindings.Store
	Setup      *setup.Orchestrator
	Reconciler *reconcile.Reconciler
	AutoRoles  *autorole.Service
}

type Engine struct {
	opts Options
	Deps
}

func New(opts Options, deps Deps) *Engine {
	if opts.Trigger == "" {
		opts.Trigger = "@roles"
	}
	return &Engine{opts: opts, Deps: deps}
}

// DirectMessageNotifier sends reconcile failure notices as DMs via the bus.
func DirectMessageNotifier(mb *bus.MessageBus) reconcile.Notifier {
	return func(ctx context.Context, userID, content string) {
		if err := mb.PublishOutbound(ctx, bus.OutboundMessage{UserID: userID, Content: content}); err != nil {
			logger.WarnCF(component, "Failure notice dropped", map[string]any{"user_id": userID, "error": err})
		}
	}
}

// Run moves inbound events into d until ctx is done or the bus closes. The
// caller closes d afterwards to drain queued work.
func (e *Engine) Run(ctx context.Context, d *dispatch.Dispatcher) error {
	for {
		ev, ok := e.Bus.ConsumeInbound(ctx)
		if !ok {
			return nil
		}
		if err := d.Submit(ctx, ev); err != nil {
			if ctx.Err() != nil || errors.Is(err, dispatch.ErrClosed) {
				return nil
			}
			logger.ErrorCF(component, "Event not dispatched", map[string]any{
				"kind":       string(ev.Kind),
				"message_id": ev.MessageID,
				"error":      err,
			})
		}
	}
}

// Handle processes one event; it is the dispatcher's handler.
func (e *Engine) Handle(ctx context.Context, ev bus.Event) {
	switch ev.Kind {
	case bus.MessageCreated:
		e.handleMessage(ctx, ev)
	case bus.MessageDeleted:
		e.handleDeleted(ctx, ev)
	case bus.ReactionAdded:
		_, _ = e.Reconciler.Added(ctx, reactionOf(ev))
	case bus.ReactionRemoved:
		_, _ = e.Reconciler.Removed(ctx, reactionOf(ev))
	case bus.MemberJoined:
		e.handleJoined(ctx, ev)
	default:
		logger.DebugCF(component, "Ignoring event", map[string]any{"kind": string(ev.Kind)})
	}
}

func reactionOf(ev bus.Event) reconcile.Reaction {
	return reconcile.Reaction{
		GuildID:   ev.GuildID,
		ChannelID: ev.ChannelID,
		MessageID: ev.MessageID,
		UserID:    ev.UserID,
		Emoji:     ev.Emoji,
	}
}

func (e *Engine) handleMessage(ctx context.Context, ev bus.Event) {
	if ev.UserIsBot || ev.GuildID == "" {
		return
	}
	rest, ok := e.commandText(ev.Content)
	if !ok {
		return
	}

	command, args := splitCommand(rest)
	switch strings.ToLower(command) {
	case "", "help":
		e.reply(ctx, ev.ChannelID, HelpText(e.opts.Trigger))
		return
	case "autorole", "auto":
		e.handleAutoRole(ctx, ev, args)
		return
	}

	if len(roles.ParseTokens(rest)) == 0 {
		e.reply(ctx, ev.ChannelID, HelpText(e.opts.Trigger))
		return
	}
	if !e.allowed(ctx, ev) {
		return
	}

	attempt := e.Setup.Run(ctx, setup.Request{
		GuildID:   ev.GuildID,
		ChannelID: ev.ChannelID,
		MessageID: ev.MessageID,
		Content:   rest,
	})
	switch attempt.Status {
	case setup.StatusCompleted:
		e.reply(ctx, ev.ChannelID, Legend(attempt.Bindings))
	case setup.StatusFailed:
		e.reply(ctx, ev.ChannelID, "Could not set up role reactions:\n"+attempt.Failure.Report())
	}
}

// Legend lists which reaction grants which role, one binding per line.
func Legend(bs []bindings.Binding) string {
	var b strings.Builder
	b.WriteString("React to get a role:")
	for _, binding := range bs {
		fmt.Fprintf(&b, "\n%s → <@&%s>", binding.Emoji, binding.RoleID)
	}
	return b.String()
}

func (e *Engine) handleAutoRole(ctx context.Context, ev bus.Event, args string) {
	if e.AutoRoles == nil {
		e.reply(ctx, ev.ChannelID, "Auto roles are not available.")
		return
	}
	if strings.TrimSpace(args) != "" && !e.allowed(ctx, ev) {
		return
	}
	reply, err := e.AutoRoles.Command(ctx, ev.GuildID, args)
	if err != nil {
		logger.WarnCF(component, "Auto role command failed", map[string]any{
			"guild_id": ev.GuildID,
			"user_id":  ev.UserID,
			"error":    err,
		})
		reply = "Could not update auto roles:\n" + err.Error()
	}
	e.reply(ctx, ev.ChannelID, reply)
}

// allowed applies the Manage Roles gate, replying when the author fails it.
func (e *Engine) allowed(ctx context.Context, ev bus.Event) bool {
	if !e.opts.RequireManageRoles {
		return true
	}
	ok, err := e.Client.CanManageRoles(ctx, ev.UserID, ev.ChannelID)
	if err != nil {
		logger.WarnCF(component, "Permission check failed", map[string]any{
			"guild_id": ev.GuildID,
			"user_id":  ev.UserID,
			"error":    err,
		})
		e.reply(ctx, ev.ChannelID, "Could not check your permissions, try again later.")
		return false
	}
	if !ok {
		e.reply(ctx, ev.ChannelID, "You need the Manage Roles permission to do that.")
	}
	return ok
}

func (e *Engine) handleDeleted(ctx context.Context, ev bus.Event) {
	err := e.Store.Remove(ctx, ev.MessageID)
	switch {
	case err == nil:
		logger.InfoCF(component, "Bindings removed with their message", map[string]any{
			"guild_id":   ev.GuildID,
			"message_id": ev.MessageID,
		})
	case errors.Is(err, bindings.ErrNotFound):
	default:
		logger.ErrorCF(component, "Could not remove bindings", map[string]any{
			"message_id": ev.MessageID,
			"error":      err,
		})
	}
}

func (e *Engine) handleJoined(ctx context.Context, ev bus.Event) {
	if ev.UserIsBot || e.AutoRoles == nil {
		return
	}
	if err := e.AutoRoles.MemberJoined(ctx, ev.GuildID, ev.UserID); err != nil {
		logger.WarnCF(component, "Auto roles incomplete for new member", map[string]any{
			"guild_id": ev.GuildID,
			"user_id":  ev.UserID,
			"error":    err,
		})
	}
}

func (e *Engine) reply(ctx context.Context, channelID, content string) {
	if err := e.Bus.PublishOutbound(ctx, bus.OutboundMessage{ChannelID: channelID, Content: content}); err != nil {
		logger.WarnCF(component, "Reply dropped", map[string]any{"channel_id": channelID, "error": err})
	}
}

// commandText strips the trigger or the bot's mention and reports whether
// content was addressed to the bot at all.
func (e *Engine) commandText(content string) (string, bool) {
	content = strings.TrimSpace(content)
	prefixes := []string{e.opts.Trigger}
	if self := e.Client.SelfID(); self != "" {
		prefixes = append(prefixes, "<@"+self+">", "<@!"+self+">")
	}
	for _, p := range prefixes {
		if len(content) < len(p) || !strings.EqualFold(content[:len(p)], p) {
			continue
		}
		rest := content[len(p):]
		if rest != "" && !startsWithSpace(rest) {
			continue
		}
		return strings.TrimSpace(rest), true
	}
	return "", false
}

func startsWithSpace(s string) bool {
	for _, r := range s {
		return unicode.IsSpace(r)
	}
	return false
}

func splitCommand(s string) (string, string) {
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}
