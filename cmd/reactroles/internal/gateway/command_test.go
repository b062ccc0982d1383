package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/reactroles/pkg/bus"
	"github.com/tinyland-inc/reactroles/pkg/config"
	"github.com/tinyland-inc/reactroles/pkg/dispatch"
	"github.com/tinyland-inc/reactroles/pkg/health"
	"github.com/tinyland-inc/reactroles/pkg/metrics"
	"github.com/tinyland-inc/reactroles/pkg/platform/platformtest"
	"github.com/tinyland-inc/reactroles/pkg/roles"
)

func TestNewGatewayCommand(t *testing.T) {
	cmd := NewGatewayCommand()

	require.NotNil(t, cmd)
	assert.Equal(t, "gateway", cmd.Use)
	assert.Equal(t, []string{"g"}, cmd.Aliases)
	assert.Nil(t, cmd.Run)
	assert.NotNil(t, cmd.RunE)
	assert.NotNil(t, cmd.Flags().Lookup("debug"))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "bindings.db")
	cfg.Roles.MaxPerMessage = 2
	cfg.Discord.RequireManageRoles = false
	return cfg
}

func threeRoles() *platformtest.Fake {
	fake := platformtest.New("bot")
	fake.SetRoles("g1",
		roles.Role{ID: "111", Name: "Red"},
		roles.Role{ID: "222", Name: "Blue"},
		roles.Role{ID: "333", Name: "Green"},
	)
	return fake
}

func TestNewServices_WiresPipeline(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	mb := bus.NewMessageBus()
	defer mb.Close()
	fake := threeRoles()

	svc, err := newServices(ctx, cfg, mb, fake, metrics.MustNew(prometheus.NewRegistry()))
	require.NoError(t, err)
	defer svc.store.Close()

	d := dispatch.New(ctx, 2, 4, svc.engine.Handle, nil)
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- svc.engine.Run(runCtx, d) }()

	require.NoError(t, mb.PublishInbound(ctx, bus.Event{
		Kind: bus.MessageCreated, GuildID: "g1", ChannelID: "c1", MessageID: "m1",
		UserID: "mod", Content: "@roles {ROLE:Red} {ROLE:Blue}",
	}))
	require.Eventually(t, func() bool {
		_, err := svc.store.Get(ctx, "m1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	set, err := svc.store.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, set.Bindings, 2)
	assert.Len(t, fake.Reactions("m1"), 2)

	stop()
	require.NoError(t, <-done)
	require.NoError(t, d.Close())
}

func TestNewServices_PaletteLimit(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	mb := bus.NewMessageBus()
	defer mb.Close()
	fake := threeRoles()

	svc, err := newServices(ctx, cfg, mb, fake, nil)
	require.NoError(t, err)
	defer svc.store.Close()

	svc.engine.Handle(ctx, bus.Event{
		Kind: bus.MessageCreated, GuildID: "g1", ChannelID: "c1", MessageID: "m1",
		UserID: "mod", Content: "@roles {ROLE:Red} {ROLE:Blue} {ROLE:Green}",
	})

	assert.Empty(t, fake.Reactions("m1"))
	reply, ok := mb.SubscribeOutbound(ctx)
	require.True(t, ok)
	assert.Contains(t, reply.Content, "Could not set up role reactions")
}

func TestNewServices_BadStoragePath(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Path = ""

	_, err := newServices(context.Background(), cfg, bus.NewMessageBus(), platformtest.New("bot"), nil)
	require.Error(t, err)
}

type stubChannel struct {
	running, ready bool
	startErr       error
	stops          int
}

func (c *stubChannel) Name() string { return "stub" }
func (c *stubChannel) Start(context.Context) error {
	if c.startErr != nil {
		return c.startErr
	}
	c.running, c.ready = true, true
	return nil
}
func (c *stubChannel) Stop(context.Context) error {
	c.stops++
	c.running, c.ready = false, false
	return nil
}
func (c *stubChannel) IsRunning() bool { return c.running }
func (c *stubChannel) Ready() bool { return c.ready }
func (c *stubChannel) IsAllowed(string) bool { return true }

func readyStatus(t *testing.T, hs *health.Server) int {
	t.Helper()
	rec := httptest.NewRecorder()
	hs.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	return rec.Code
}

func TestChannelLifecycle(t *testing.T) {
	ctx := context.Background()
	ch := &stubChannel{}
	hs := health.NewServer("127.0.0.1", 0, prometheus.NewRegistry())
	registerChannel(hs, ch)

	assert.Equal(t, http.StatusServiceUnavailable, readyStatus(t, hs))
	require.NoError(t, startChannel(ctx, ch))
	assert.Equal(t, http.StatusOK, readyStatus(t, hs))

	stopChannel(ctx, ch)
	stopChannel(ctx, ch)
	assert.Equal(t, 1, ch.stops)
	assert.Equal(t, http.StatusServiceUnavailable, readyStatus(t, hs))
}

func TestStartChannel_Error(t *testing.T) {
	ch := &stubChannel{startErr: errors.New("bad token")}
	err := startChannel(context.Background(), ch)
	assert.ErrorContains(t, err, "error starting stub channel: bad token")
}
