package setup

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tinyland-inc/reactroles/pkg/bindings"
	"github.com/tinyland-inc/reactroles/pkg/bindings/bindingstest"
	"github.com/tinyland-inc/reactroles/pkg/platform"
	"github.com/tinyland-inc/reactroles/pkg/platform/platformtest"
	"github.com/tinyland-inc/reactroles/pkg/roles"
)

const (
	guild   = "g1"
	channel = "c1"
	message = "m1"
)

var palette = roles.Palette{"A", "B", "C", "D"}

func newFixture() (*Orchestrator, *bindingstest.Memory, *platformtest.Fake) {
	store := bindingstest.NewMemory()
	fake := platformtest.New("bot")
	fake.SetRoles(guild, roles.Role{ID: "111", Name: "Red"}, roles.Role{ID: "222", Name: "Blue"})
	return NewOrchestrator(store, fake, palette, nil), store, fake
}

func request(content string) Request {
	return Request{GuildID: guild, ChannelID: channel, MessageID: message, Content: content}
}

func TestRun_Completed(t *testing.T) {
	o, store, fake := newFixture()

	a := o.Run(context.Background(), request("@roles react here {ROLE:111} or {ROLE:Blue}"))
	if a.Status != StatusCompleted {
		t.Fatalf("status = %s, failure = %v", a.Status, a.Failure)
	}
	if a.ID == "" {
		t.Error("attempt id not set")
	}

	want := []bindings.Binding{{Emoji: "A", RoleID: "111"}, {Emoji: "B", RoleID: "222"}}
	got, err := store.Get(context.Background(), message)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(want, got.Bindings); diff != "" {
		t.Fatalf("bindings (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"A", "B"}, fake.Reactions(message)); diff != "" {
		t.Fatalf("reactions (-want +got):\n%s", diff)
	}
	wantStages := []Status{StatusParsing, StatusResolving, StatusAllocating, StatusPosting, StatusPersisting}
	if diff := cmp.Diff(wantStages, a.Stages); diff != "" {
		t.Fatalf("stages (-want +got):\n%s", diff)
	}
}

func TestRun_NoTokensIsNoOp(t *testing.T) {
	o, store, fake := newFixture()
	a := o.Run(context.Background(), request("@roles hello there"))
	if a.Status != StatusNoOp || a.Failure != nil {
		t.Fatalf("status = %s, failure = %v", a.Status, a.Failure)
	}
	if store.Len() != 0 || len(fake.Reactions(message)) != 0 {
		t.Fatal("no-op must not touch store or platform")
	}
}

func TestRun_UnknownNameFailsWithoutReactions(t *testing.T) {
	o, store, fake := newFixture()
	fake.SetRoles(guild, roles.Role{ID: "111", Name: "Red"})

	a := o.Run(context.Background(), request("@roles react here {ROLE:111} or {ROLE:Blue}"))
	if a.Status != StatusFailed {
		t.Fatalf("status = %s", a.Status)
	}
	if a.Failure.Stage != StatusResolving {
		t.Fatalf("stage = %s", a.Failure.Stage)
	}
	if !strings.Contains(a.Failure.Report(), `UnknownRoleName("Blue")`) {
		t.Fatalf("report does not name the reference: %q", a.Failure.Report())
	}
	if len(fake.Reactions(message)) != 0 {
		t.Fatalf("reactions left attached: %v", fake.Reactions(message))
	}
	if store.Len() != 0 {
		t.Fatal("failed setup persisted bindings")
	}
}

func TestRun_ReportListsEveryFailure(t *testing.T) {
	o, _, _ := newFixture()
	a := o.Run(context.Background(), request("{ROLE:Green} {ROLE:999} {ROLE:Red} {ROLE:Green}"))
	if a.Status != StatusFailed {
		t.Fatalf("status = %s", a.Status)
	}
	lines := strings.Split(a.Failure.Report(), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 report lines, got %q", lines)
	}
	if !strings.HasPrefix(lines[0], `UnknownRoleName("Green")`) || !strings.HasPrefix(lines[1], `UnknownRoleId("999")`) {
		t.Fatalf("unexpected report %q", lines)
	}
	if !errors.Is(a.Failure, &roles.Error{Kind: roles.KindUnknownRoleID}) {
		t.Fatal("failure should unwrap to the resolver errors")
	}
}

func TestRun_PaletteExhausted(t *testing.T) {
	o, store, fake := newFixture()
	fake.SetRoles(guild,
		roles.Role{ID: "1", Name: "a"}, roles.Role{ID: "2", Name: "b"}, roles.Role{ID: "3", Name: "c"},
		roles.Role{ID: "4", Name: "d"}, roles.Role{ID: "5", Name: "e"},
	)
	a := o.Run(context.Background(), request("{ROLE:1}{ROLE:2}{ROLE:3}{ROLE:4}{ROLE:5}"))
	if a.Status != StatusFailed || a.Failure.Stage != StatusAllocating {
		t.Fatalf("status = %s, failure = %v", a.Status, a.Failure)
	}
	if !errors.Is(a.Failure, &roles.Error{Kind: roles.KindPaletteExhausted}) {
		t.Fatalf("expected PaletteExhausted, got %v", a.Failure)
	}
	if store.Len() != 0 || len(fake.Reactions(message)) != 0 {
		t.Fatal("exhausted palette must not be truncated silently")
	}
}

func TestRun_PostFailureRollsBack(t *testing.T) {
	o, store, fake := newFixture()
	fake.FailOn("PostReaction", 1, nil)

	a := o.Run(context.Background(), request("{ROLE:111} {ROLE:222}"))
	if a.Status != StatusFailed || a.Failure.Stage != StatusPosting {
		t.Fatalf("status = %s, failure = %v", a.Status, a.Failure)
	}
	if !platform.IsExternal(a.Failure) {
		t.Fatalf("expected ExternalCallFailed, got %v", a.Failure)
	}
	if len(fake.Reactions(message)) != 0 {
		t.Fatalf("posted reaction not rolled back: %v", fake.Reactions(message))
	}
	if store.Len() != 0 {
		t.Fatal("bindings persisted after failed post")
	}
}

func TestRun_PersistFailureRollsBack(t *testing.T) {
	o, store, fake := newFixture()
	store.PutErr = errors.New("disk full")

	a := o.Run(context.Background(), request("{ROLE:111} {ROLE:222}"))
	if a.Status != StatusFailed || a.Failure.Stage != StatusPersisting {
		t.Fatalf("status = %s, failure = %v", a.Status, a.Failure)
	}
	if len(fake.Reactions(message)) != 0 {
		t.Fatalf("reactions left attached: %v", fake.Reactions(message))
	}
	if len(a.Residue) != 0 {
		t.Fatalf("unexpected residue %v", a.Residue)
	}
}

func TestRun_RollbackResidueRecorded(t *testing.T) {
	o, store, fake := newFixture()
	store.PutErr = errors.New("disk full")
	fake.FailOn("RemoveReaction", 0, nil)

	a := o.Run(context.Background(), request("{ROLE:111} {ROLE:222}"))
	if a.Status != StatusFailed {
		t.Fatalf("status = %s", a.Status)
	}
	if diff := cmp.Diff([]string{"B", "A"}, a.Residue); diff != "" {
		t.Fatalf("residue (-want +got):\n%s", diff)
	}
}

func TestRun_DuplicateMessageKeepsExistingReactions(t *testing.T) {
	o, store, fake := newFixture()
	if a := o.Run(context.Background(), request("{ROLE:111}")); a.Status != StatusCompleted {
		t.Fatalf("first setup: %s %v", a.Status, a.Failure)
	}

	a := o.Run(context.Background(), request("{ROLE:222}"))
	if a.Status != StatusFailed || !errors.Is(a.Failure, bindings.ErrDuplicateMessage) {
		t.Fatalf("expected DuplicateMessage, got %s %v", a.Status, a.Failure)
	}
	if diff := cmp.Diff([]string{"A"}, fake.Reactions(message)); diff != "" {
		t.Fatalf("existing reactions changed (-want +got):\n%s", diff)
	}
	got, _ := store.Get(context.Background(), message)
	if got.Bindings[0].RoleID != "111" {
		t.Fatalf("original set changed: %+v", got)
	}
}

func TestRun_ListRolesFailure(t *testing.T) {
	o, _, fake := newFixture()
	fake.FailOn("ListGuildRoles", 0, nil)
	a := o.Run(context.Background(), request("{ROLE:111}"))
	if a.Status != StatusFailed || a.Failure.Stage != StatusResolving {
		t.Fatalf("status = %s, failure = %v", a.Status, a.Failure)
	}
	if !strings.HasPrefix(a.Failure.Report(), "ExternalCallFailed(") {
		t.Fatalf("report = %q", a.Failure.Report())
	}
}
