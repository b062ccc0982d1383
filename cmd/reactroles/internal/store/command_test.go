package store

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/reactroles/cmd/reactroles/internal"
	"github.com/tinyland-inc/reactroles/pkg/bindings"
	"github.com/tinyland-inc/reactroles/pkg/bindings/bindingstest"
	"github.com/tinyland-inc/reactroles/pkg/bindings/sqlite"
	"github.com/tinyland-inc/reactroles/pkg/platform/platformtest"
)

func TestNewStoreCommand(t *testing.T) {
	cmd := NewStoreCommand()

	require.NotNil(t, cmd)
	assert.Equal(t, "store", cmd.Use)
	assert.True(t, cmd.HasExample())
	assert.True(t, cmd.HasSubCommands())
	assert.Nil(t, cmd.RunE)

	for _, name := range []string{"list", "remove", "prune"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
}

func seed(t *testing.T, store bindings.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, bindings.BindingSet{
		GuildID: "g1", ChannelID: "c1", MessageID: "m1",
		Bindings: []bindings.Binding{{Emoji: "🇦", RoleID: "111"}, {Emoji: "🇧", RoleID: "222"}},
	}))
	require.NoError(t, store.Put(ctx, bindings.BindingSet{
		GuildID: "g2", ChannelID: "c2", MessageID: "m2",
		Bindings: []bindings.Binding{{Emoji: "🇦", RoleID: "333"}},
	}))
}

func TestListSets(t *testing.T) {
	store := bindingstest.NewMemory()
	seed(t, store)

	var out bytes.Buffer
	require.NoError(t, listSets(context.Background(), store, "", &out))
	assert.Contains(t, out.String(), "m1  guild=g1 channel=c1")
	assert.Contains(t, out.String(), "🇧 -> 222")
	assert.Contains(t, out.String(), "2 binding set(s)")

	out.Reset()
	require.NoError(t, listSets(context.Background(), store, "g2", &out))
	assert.NotContains(t, out.String(), "m1")
	assert.Contains(t, out.String(), "1 binding set(s)")
}

func TestPrune(t *testing.T) {
	store := bindingstest.NewMemory()
	seed(t, store)
	fake := platformtest.New("bot")
	fake.DeleteMessage("m2")

	var out bytes.Buffer
	require.NoError(t, prune(context.Background(), store, fake, 2, &out))
	assert.Equal(t, "Pruned 1 binding set(s)\n", out.String())
	assert.Equal(t, 1, store.Len())
}

func TestRemoveCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	dbPath := filepath.Join(dir, "bindings.db")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"storage":{"path":"`+dbPath+`"}}`), 0o600))
	internal.ConfigPath = cfgPath
	t.Cleanup(func() { internal.ConfigPath = "" })

	db, err := sqlite.Open(context.Background(), dbPath)
	require.NoError(t, err)
	seed(t, db)
	require.NoError(t, db.Close())

	cmd := NewStoreCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"remove", "m1"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Removed binding set for message m1")

	cmd = NewStoreCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"remove", "m1"})
	assert.ErrorContains(t, cmd.Execute(), "no binding set for message m1")

	out.Reset()
	cmd = NewStoreCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"list"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "1 binding set(s)")
}
