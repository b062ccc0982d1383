package sweeper

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tinyland-inc/reactroles/pkg/bindings"
	"github.com/tinyland-inc/reactroles/pkg/bindings/bindingstest"
	"github.com/tinyland-inc/reactroles/pkg/platform/platformtest"
)

func seed(t *testing.T, store bindings.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		err := store.Put(context.Background(), bindings.BindingSet{
			GuildID: "g1", ChannelID: "c1", MessageID: id,
			Bindings: []bindings.Binding{{Emoji: "A", RoleID: "111"}},
		})
		if err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}
}

func TestSweep_RemovesDeletedMessagesOnly(t *testing.T) {
	store := bindingstest.NewMemory()
	fake := platformtest.New("bot")
	seed(t, store, "m1", "m2", "m3", "m4")
	fake.DeleteMessage("m2")
	fake.DeleteMessage("m4")

	n, err := New(store, fake, 2, nil).Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("removed %d, want 2", n)
	}
	for id, want := range map[string]bool{"m1": true, "m2": false, "m3": true, "m4": false} {
		_, err := store.Get(context.Background(), id)
		if got := err == nil; got != want {
			t.Errorf("%s present = %v, want %v", id, got, want)
		}
	}
}

func TestSweep_TransportErrorKeepsBindings(t *testing.T) {
	store := bindingstest.NewMemory()
	fake := platformtest.New("bot")
	seed(t, store, "m1")
	fake.DeleteMessage("m1")
	fake.FailOn("MessageExists", 0, errors.New("gateway timeout"))

	n, err := New(store, fake, 1, nil).Sweep(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("sweep: %d %v", n, err)
	}
	if store.Len() != 1 {
		t.Fatal("binding removed on transport error")
	}
}

func TestSweep_ManySets(t *testing.T) {
	store := bindingstest.NewMemory()
	fake := platformtest.New("bot")
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("m%d", i)
		seed(t, store, id)
		if i%2 == 0 {
			fake.DeleteMessage(id)
		}
	}
	n, err := New(store, fake, 4, nil).Sweep(context.Background())
	if err != nil || n != 20 {
		t.Fatalf("sweep: %d %v", n, err)
	}
	if store.Len() != 20 {
		t.Fatalf("remaining = %d, want 20", store.Len())
	}
}

func TestRun_InvalidSchedule(t *testing.T) {
	s := New(bindingstest.NewMemory(), platformtest.New("bot"), 1, nil)
	if err := s.Run(context.Background(), "not a cron"); err == nil {
		t.Fatal("expected error")
	}
}

func TestRun_SweepsAtStartAndStopsOnCancel(t *testing.T) {
	store := bindingstest.NewMemory()
	fake := platformtest.New("bot")
	seed(t, store, "m1")
	fake.DeleteMessage("m1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(store, fake, 1, nil).Run(ctx, "0 0 1 1 *") }()

	deadline := time.After(2 * time.Second)
	for store.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("startup sweep did not run")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
