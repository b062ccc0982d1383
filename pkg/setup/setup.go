// Package setup turns a command message into a persisted BindingSet.
//
// Each attempt walks Parsing, Resolving, Allocating, Posting and Persisting.
// A failure at any stage ends the attempt in StatusFailed; reactions already
// posted are removed again before the failure is reported.
package setup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tinyland-inc/reactroles/pkg/bindings"
	"github.com/tinyland-inc/reactroles/pkg/logger"
	"github.com/tinyland-inc/reactroles/pkg/metrics"
	"github.com/tinyland-inc/reactroles/pkg/platform"
	"github.com/tinyland-inc/reactroles/pkg/roles"
)

const component = "setup"

// Status is the stage an attempt is in, or how it ended.
type Status string

const (
	StatusParsing    Status = "parsing"
	StatusResolving  Status = "resolving"
	StatusAllocating Status = "allocating"
	StatusPosting    Status = "posting"
	StatusPersisting Status = "persisting"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	// StatusNoOp means the message carried no role markers.
	StatusNoOp Status = "noop"
)

// Request is the message a setup runs against.
type Request struct {
	GuildID   string
	ChannelID string
	MessageID string
	Content   string
}

// Attempt records one run of the state machine.
type Attempt struct {
	ID      string
	Request Request
	Status  Status
	// Stages lists every non-terminal stage entered, in order.
	Stages   []Status
	Bindings []bindings.Binding
	Failure  *Failure
	// Residue holds emojis a rollback could not remove.
	Residue   []string
	StartTime time.Time
	EndTime   time.Time
}

// Failure aggregates every error that ended an attempt.
type Failure struct {
	Stage Status
	Errs  []error
}

func (f *Failure) Error() string {
	parts := make([]string, len(f.Errs))
	for i, err := range f.Errs {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("setup failed while %s: %s", f.Stage, strings.Join(parts, "; "))
}

func (f *Failure) Unwrap() []error { return f.Errs }

// Report renders one human-readable line per failed reference or call.
func (f *Failure) Report() string {
	lines := make([]string, 0, len(f.Errs))
	for _, err := range f.Errs {
		lines = append(lines, describe(err))
	}
	return strings.Join(lines, "\n")
}

func describe(err error) string {
	var roleErr *roles.Error
	var ext *platform.ExternalError
	switch {
	case errors.As(err, &roleErr):
		switch roleErr.Kind {
		case roles.KindUnknownRoleID:
			return fmt.Sprintf("%s: no role with id %s in this server", roleErr, roleErr.Ref)
		case roles.KindUnknownRoleName:
			return fmt.Sprintf("%s: no role named %q in this server", roleErr, roleErr.Ref)
		case roles.KindAmbiguousRoleName:
			return fmt.Sprintf("%s: use the role id instead", roleErr)
		default:
			return roleErr.Error()
		}
	case errors.Is(err, bindings.ErrDuplicateMessage):
		return "DuplicateMessage: this message is already a role message"
	case errors.As(err, &ext):
		return fmt.Sprintf("ExternalCallFailed(%s): %v", ext.Op, ext.Err)
	default:
		return err.Error()
	}
}

// Orchestrator runs setup attempts. It holds no per-attempt state and is
// safe for concurrent use across messages.
type Orchestrator struct {
	store   bindings.Store
	client  platform.Client
	palette roles.Palette
	metrics *metrics.Metrics
}

// NewOrchestrator returns an orchestrator allocating from palette.
func NewOrchestrator(store bindings.Store, client platform.Client, palette roles.Palette, m *metrics.Metrics) *Orchestrator {
	if len(palette) == 0 {
		palette = roles.DefaultPalette()
	}
	return &Orchestrator{store: store, client: client, palette: palette, metrics: m}
}

// Run executes one attempt to completion. It never returns a partially
// applied result: a Failed attempt has no stored set and, unless Residue is
// non-empty, no reactions left on the message.
func (o *Orchestrator) Run(ctx context.Context, req Request) *Attempt {
	a := &Attempt{
		ID:        uuid.NewString(),
		Request:   req,
		StartTime: time.Now(),
	}
	o.run(ctx, a)
	a.EndTime = time.Now()
	o.metrics.ObserveSetup(string(a.Status), a.EndTime.Sub(a.StartTime))

	fields := a.logFields()
	switch a.Status {
	case StatusCompleted:
		fields["bindings"] = len(a.Bindings)
		logger.InfoCF(component, "Setup completed", fields)
	case StatusFailed:
		fields["stage"] = string(a.Failure.Stage)
		fields["error"] = a.Failure
		logger.WarnCF(component, "Setup failed", fields)
	}
	return a
}

func (o *Orchestrator) run(ctx context.Context, a *Attempt) {
	req := a.Request

	a.enter(StatusParsing)
	refs := roles.ParseTokens(req.Content)
	if len(refs) == 0 {
		a.Status = StatusNoOp
		return
	}
	if _, err := o.store.Get(ctx, req.MessageID); err == nil {
		a.fail(StatusParsing, bindings.ErrDuplicateMessage)
		return
	} else if !errors.Is(err, bindings.ErrNotFound) {
		a.fail(StatusParsing, err)
		return
	}

	a.enter(StatusResolving)
	guildRoles, err := o.client.ListGuildRoles(ctx, req.GuildID)
	if err != nil {
		a.fail(StatusResolving, platform.Wrap("list guild roles", err))
		return
	}
	ids, errs := roles.NewResolver(guildRoles).Resolve(refs)
	if len(errs) > 0 {
		a.fail(StatusResolving, errs...)
		return
	}

	a.enter(StatusAllocating)
	emojis, err := o.palette.Allocate(ids)
	if err != nil {
		a.fail(StatusAllocating, err)
		return
	}
	set := bindings.BindingSet{
		GuildID:   req.GuildID,
		ChannelID: req.ChannelID,
		MessageID: req.MessageID,
		Bindings:  make([]bindings.Binding, len(ids)),
	}
	for i, id := range ids {
		set.Bindings[i] = bindings.Binding{Emoji: emojis[i], RoleID: id}
	}

	a.enter(StatusPosting)
	posted := make([]string, 0, len(emojis))
	for _, emoji := range emojis {
		if err := o.client.PostReaction(ctx, req.ChannelID, req.MessageID, emoji); err != nil {
			o.rollback(ctx, a, posted)
			a.fail(StatusPosting, platform.Wrap("post reaction "+emoji, err))
			return
		}
		posted = append(posted, emoji)
	}

	a.enter(StatusPersisting)
	if err := o.store.Put(ctx, set); err != nil {
		o.rollback(ctx, a, posted)
		a.fail(StatusPersisting, err)
		return
	}

	a.Bindings = set.Bindings
	a.Status = StatusCompleted
}

// rollback removes the bot's reactions in reverse order. Removals that fail
// are recorded as residue and logged; they do not change the outcome.
func (o *Orchestrator) rollback(ctx context.Context, a *Attempt, posted []string) {
	for i := len(posted) - 1; i >= 0; i-- {
		emoji := posted[i]
		if err := o.client.RemoveReaction(ctx, a.Request.ChannelID, a.Request.MessageID, emoji, ""); err != nil {
			a.Residue = append(a.Residue, emoji)
			o.metrics.IncRollbackResidue()
			fields := a.logFields()
			fields["emoji"] = emoji
			fields["error"] = err
			logger.ErrorCF(component, "Rollback left a reaction attached", fields)
		}
	}
}

func (a *Attempt) enter(s Status) {
	a.Status = s
	a.Stages = append(a.Stages, s)
}

func (a *Attempt) fail(stage Status, errs ...error) {
	a.Status = StatusFailed
	a.Failure = &Failure{Stage: stage, Errs: errs}
}

func (a *Attempt) logFields() map[string]any {
	return map[string]any{
		"attempt_id": a.ID,
		"guild_id":   a.Request.GuildID,
		"channel_id": a.Request.ChannelID,
		"message_id": a.Request.MessageID,
	}
}
