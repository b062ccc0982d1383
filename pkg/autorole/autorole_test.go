package autorole

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/tinyland-inc/reactroles/pkg/platform/platformtest"
	"github.com/tinyland-inc/reactroles/pkg/roles"
)

type memSettings struct {
	mu    sync.Mutex
	roles map[string][]string
}

func (m *memSettings) AutoRoles(_ context.Context, guildID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.roles[guildID]...), nil
}

func (m *memSettings) SetAutoRoles(_ context.Context, guildID string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(ids) == 0 {
		delete(m.roles, guildID)
		return nil
	}
	m.roles[guildID] = append([]string(nil), ids...)
	return nil
}

func newService(max int) (*Service, *memSettings, *platformtest.Fake) {
	settings := &memSettings{roles: map[string][]string{}}
	fake := platformtest.New("bot")
	fake.SetRoles("g1",
		roles.Role{ID: "1", Name: "Member"},
		roles.Role{ID: "2", Name: "News"},
		roles.Role{ID: "3", Name: "Events"},
	)
	return New(settings, fake, max, nil), settings, fake
}

func TestCommand_SetShowClear(t *testing.T) {
	s, settings, _ := newService(25)
	ctx := context.Background()

	reply, err := s.Command(ctx, "g1", "member <@&2> 2")
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if reply != "Auto roles set: <@&1>, <@&2>" {
		t.Fatalf("reply = %q", reply)
	}

	reply, err = s.Command(ctx, "g1", "")
	if err != nil || reply != "Current auto roles: <@&1>, <@&2>" {
		t.Fatalf("show: %q %v", reply, err)
	}

	if _, err := s.Command(ctx, "g1", "CLEAR"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if ids, _ := settings.AutoRoles(ctx, "g1"); len(ids) != 0 {
		t.Fatalf("auto roles after clear = %v", ids)
	}
	reply, _ = s.Command(ctx, "g1", "")
	if !strings.HasPrefix(reply, "No auto roles are set.") {
		t.Fatalf("show after clear = %q", reply)
	}
}

func TestCommand_UnknownRoleKeepsPreviousList(t *testing.T) {
	s, settings, _ := newService(25)
	ctx := context.Background()
	if _, err := s.Command(ctx, "g1", "1"); err != nil {
		t.Fatalf("set: %v", err)
	}

	_, err := s.Command(ctx, "g1", "News Missing")
	if !errors.Is(err, &roles.Error{Kind: roles.KindUnknownRoleName, Ref: "Missing"}) {
		t.Fatalf("expected UnknownRoleName(Missing), got %v", err)
	}
	if ids, _ := settings.AutoRoles(ctx, "g1"); len(ids) != 1 || ids[0] != "1" {
		t.Fatalf("failed command changed the list: %v", ids)
	}
}

func TestCommand_UnparsableFieldRejected(t *testing.T) {
	s, settings, _ := newService(25)
	long := strings.Repeat("x", 36)

	reply, err := s.Command(context.Background(), "g1", long+" Member")
	if !errors.Is(err, &roles.Error{Kind: roles.KindUnknownRoleName, Ref: long}) {
		t.Fatalf("expected UnknownRoleName for %q, got reply=%q err=%v", long, reply, err)
	}
	if got := settings.roles["g1"]; len(got) != 0 {
		t.Fatalf("nothing should be stored, got %v", got)
	}
}

func TestCommand_TooMany(t *testing.T) {
	s, _, _ := newService(2)
	if _, err := s.Command(context.Background(), "g1", "1 2 3"); !errors.Is(err, ErrTooMany) {
		t.Fatalf("expected ErrTooMany, got %v", err)
	}
}

func TestMemberJoined_GrantsEveryRole(t *testing.T) {
	s, settings, fake := newService(25)
	ctx := context.Background()
	_ = settings.SetAutoRoles(ctx, "g1", []string{"1", "3"})

	if err := s.MemberJoined(ctx, "g1", "u1"); err != nil {
		t.Fatalf("member joined: %v", err)
	}
	got := fake.MemberRoles("g1", "u1")
	if len(got) != 2 || got[0] != "1" || got[1] != "3" {
		t.Fatalf("member roles = %v", got)
	}
}

func TestMemberJoined_ContinuesAfterFailure(t *testing.T) {
	s, settings, fake := newService(25)
	ctx := context.Background()
	_ = settings.SetAutoRoles(ctx, "g1", []string{"1", "2", "3"})
	fake.FailOn("GrantRole", 0, nil)

	err := s.MemberJoined(ctx, "g1", "u1")
	if err == nil {
		t.Fatal("expected joined error")
	}
	if grants, _ := fake.Calls(); grants != 3 {
		t.Fatalf("grant attempts = %d, want 3", grants)
	}
}
