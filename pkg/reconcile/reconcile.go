// Package reconcile keeps role membership in step with reactions on bound
// messages.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/tinyland-inc/reactroles/pkg/bindings"
	"github.com/tinyland-inc/reactroles/pkg/logger"
	"github.com/tinyland-inc/reactroles/pkg/metrics"
	"github.com/tinyland-inc/reactroles/pkg/platform"
)

const component = "reconcile"

type Action string

const (
	Grant  Action = "grant"
	Revoke Action = "revoke"
)

type Outcome string

const (
	// OutcomeApplied means the platform accepted the grant or revoke.
	OutcomeApplied Outcome = "applied"
	// OutcomeIgnored covers unbound messages, unbound emojis and the bot's
	// own reactions.
	OutcomeIgnored Outcome = "ignored"
	OutcomeFailed  Outcome = "failed"
)

// Reaction is one add or remove event.
type Reaction struct {
	GuildID   string
	ChannelID string
	MessageID string
	UserID    string
	Emoji     string
}

// Notifier tells a user privately that their reaction could not be applied.
type Notifier func(ctx context.Context, userID, content string)

type Option func(*Reconciler)

// WithNotifier enables failure DMs.
func WithNotifier(n Notifier) Option {
	return func(r *Reconciler) { r.notify = n }
}

// Reconciler holds no per-event state; duplicate deliveries are absorbed by
// grant and revoke being idempotent on the platform.
type Reconciler struct {
	store   bindings.Store
	client  platform.Client
	metrics *metrics.Metrics
	notify  Notifier
}

func New(store bindings.Store, client platform.Client, m *metrics.Metrics, opts ...Option) *Reconciler {
	r := &Reconciler{store: store, client: client, metrics: m}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Added grants the bound role. Failures are logged, counted and returned;
// they are never retried.
func (r *Reconciler) Added(ctx context.Context, ev Reaction) (Outcome, error) {
	return r.apply(ctx, Grant, ev)
}

// Removed revokes the bound role.
func (r *Reconciler) Removed(ctx context.Context, ev Reaction) (Outcome, error) {
	return r.apply(ctx, Revoke, ev)
}

func (r *Reconciler) apply(ctx context.Context, action Action, ev Reaction) (Outcome, error) {
	if self := r.client.SelfID(); self != "" && ev.UserID == self {
		r.metrics.IncReconcile(string(action), string(OutcomeIgnored))
		return OutcomeIgnored, nil
	}

	roleID, err := r.store.FindRole(ctx, ev.MessageID, ev.Emoji)
	if errors.Is(err, bindings.ErrNotFound) {
		r.metrics.IncReconcile(string(action), string(OutcomeIgnored))
		return OutcomeIgnored, nil
	}
	if err != nil {
		return r.failed(ctx, action, ev, "", fmt.Errorf("find role: %w", err))
	}

	switch action {
	case Grant:
		err = r.client.GrantRole(ctx, ev.GuildID, ev.UserID, roleID)
	case Revoke:
		err = r.client.RevokeRole(ctx, ev.GuildID, ev.UserID, roleID)
	}
	if err != nil {
		return r.failed(ctx, action, ev, roleID, platform.Wrap(string(action)+" role", err))
	}

	r.metrics.IncReconcile(string(action), string(OutcomeApplied))
	logger.DebugCF(component, "Role membership updated", map[string]any{
		"action":     string(action),
		"guild_id":   ev.GuildID,
		"message_id": ev.MessageID,
		"user_id":    ev.UserID,
		"emoji":      ev.Emoji,
		"role_id":    roleID,
	})
	return OutcomeApplied, nil
}

func (r *Reconciler) failed(ctx context.Context, action Action, ev Reaction, roleID string, err error) (Outcome, error) {
	r.metrics.IncReconcile(string(action), string(OutcomeFailed))
	logger.WarnCF(component, "Reaction not applied", map[string]any{
		"action":     string(action),
		"guild_id":   ev.GuildID,
		"message_id": ev.MessageID,
		"user_id":    ev.UserID,
		"emoji":      ev.Emoji,
		"role_id":    roleID,
		"error":      err,
	})
	if r.notify != nil {
		r.notify(ctx, ev.UserID, FailureNotice(r.guildName(ctx, ev.GuildID), action, roleID, err))
	}
	return OutcomeFailed, err
}

// guildName falls back to the id when the name cannot be looked up.
func (r *Reconciler) guildName(ctx context.Context, guildID string) string {
	name, err := r.client.GuildName(ctx, guildID)
	if err != nil || name == "" {
		logger.DebugCF(component, "Guild name lookup failed", map[string]any{
			"guild_id": guildID,
			"error":    err,
		})
		return guildID
	}
	return name
}

// FailureNotice is the DM text sent when a reaction could not be applied.
// Platform errors are shown verbatim; anything else is our own fault and
// its details stay in the log.
func FailureNotice(guild string, action Action, roleID string, err error) string {
	what := "update your roles"
	if roleID != "" {
		verb := "give you"
		if action == Revoke {
			verb = "remove"
		}
		what = fmt.Sprintf("%s the role <@&%s>", verb, roleID)
	}
	if !platform.IsExternal(err) {
		return fmt.Sprintf("Server: %s\nError: could not %s: something went wrong on our side", guild, what)
	}
	return fmt.Sprintf("Server: %s\nError: could not %s: %v", guild, what, err)
}
