package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinyland-inc/reactroles/cmd/reactroles/internal"
	"github.com/tinyland-inc/reactroles/pkg/autorole"
	"github.com/tinyland-inc/reactroles/pkg/bindings"
	"github.com/tinyland-inc/reactroles/pkg/bindings/sqlite"
	"github.com/tinyland-inc/reactroles/pkg/bus"
	"github.com/tinyland-inc/reactroles/pkg/channels"
	"github.com/tinyland-inc/reactroles/pkg/config"
	"github.com/tinyland-inc/reactroles/pkg/dispatch"
	"github.com/tinyland-inc/reactroles/pkg/engine"
	"github.com/tinyland-inc/reactroles/pkg/health"
	"github.com/tinyland-inc/reactroles/pkg/logger"
	"github.com/tinyland-inc/reactroles/pkg/metrics"
	"github.com/tinyland-inc/reactroles/pkg/platform"
	"github.com/tinyland-inc/reactroles/pkg/reconcile"
	"github.com/tinyland-inc/reactroles/pkg/roles"
	"github.com/tinyland-inc/reactroles/pkg/setup"
	"github.com/tinyland-inc/reactroles/pkg/sweeper"
)

const shutdownTimeout = 10 * time.Second

// services is everything behind the gateway session, built against any
// platform.Client.
type services struct {
	store   *sqlite.Store
	engine  *engine.Engine
	sweeper *sweeper.Sweeper
}

func newServices(ctx context.Context, cfg *config.Config, mb *bus.MessageBus, client platform.Client, m *metrics.Metrics) (*services, error) {
	db, err := sqlite.Open(ctx, cfg.StoragePath())
	if err != nil {
		return nil, fmt.Errorf("error opening binding store: %w", err)
	}
	store, err := bindings.NewCachedStore(db, cfg.Storage.CacheSize)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	var opts []reconcile.Option
	if cfg.Discord.NotifyFailures {
		opts = append(opts, reconcile.WithNotifier(engine.DirectMessageNotifier(mb)))
	}
	palette := roles.DefaultPalette().Limit(cfg.Roles.MaxPerMessage)

	eng := engine.New(engine.Options{
		Trigger:            cfg.Discord.Trigger,
		RequireManageRoles: cfg.Discord.RequireManageRoles,
	}, engine.Deps{
		Bus:        mb,
		Client:     client,
		Store:      store,
		Setup:      setup.NewOrchestrator(store, client, palette, m),
		Reconciler: reconcile.New(store, client, m, opts...),
		AutoRoles:  autorole.New(db, client, cfg.Roles.MaxAutoRoles, m),
	})

	return &services{
		store:   db,
		engine:  eng,
		sweeper: sweeper.New(store, client, cfg.Sweeper.Concurrency, m),
	}, nil
}

func gatewayCmd(debug bool) error {
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("🔍 Debug mode enabled")
	}
	defer logger.Sync()

	cfg, err := internal.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.Discord.Token == "" {
		return fmt.Errorf("discord.token is required (or set REACTROLES_DISCORD_TOKEN)")
	}

	msgBus := bus.NewMessageBusSize(cfg.Workers.QueueSize * cfg.Workers.Shards)
	defer msgBus.Close()

	discord, err := channels.NewDiscordChannel(cfg.Discord, msgBus)
	if err != nil {
		return fmt.Errorf("error creating discord channel: %w", err)
	}

	m := metrics.Default()

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	outCtx, stopOut := context.WithCancel(context.Background())
	defer stopOut()

	svc, err := newServices(runCtx, cfg, msgBus, discord, m)
	if err != nil {
		return err
	}
	defer svc.store.Close()
	fmt.Printf("✓ Binding store open at %s\n", cfg.StoragePath())

	dispatcher := dispatch.New(runCtx, cfg.Workers.Shards, cfg.Workers.QueueSize, svc.engine.Handle, m)

	healthServer := health.NewServer(cfg.Gateway.Host, cfg.Gateway.Port, nil)
	registerChannel(healthServer, discord)
	go func() {
		if err := healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("health", "Health server error", map[string]any{"error": err.Error()})
		}
	}()
	fmt.Printf("✓ Health endpoints available at http://%s:%d/health, /ready and /metrics\n", cfg.Gateway.Host, cfg.Gateway.Port)

	var delivery errgroup.Group
	delivery.Go(func() error {
		channels.DeliverOutbound(outCtx, msgBus, discord)
		return nil
	})

	var workers errgroup.Group
	workers.Go(func() error {
		return svc.engine.Run(runCtx, dispatcher)
	})
	if cfg.Sweeper.Enabled {
		workers.Go(func() error {
			return svc.sweeper.Run(runCtx, cfg.Sweeper.Schedule)
		})
		fmt.Printf("✓ Sweeper scheduled (%s)\n", cfg.Sweeper.Schedule)
	}

	if err := startChannel(runCtx, discord); err != nil {
		stopRun()
		_ = workers.Wait()
		_ = dispatcher.Close()
		return err
	}
	fmt.Printf("✓ %s session open\n", discord.Name())
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")

	// Stop intake first, then drain queued events while replies can still go out.
	stopChannel(context.Background(), discord)
	stopRun()
	if err := workers.Wait(); err != nil {
		logger.ErrorCF("gateway", "Worker exited with error", map[string]any{"error": err.Error()})
	}
	_ = dispatcher.Close()
	stopOut()
	_ = delivery.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = healthServer.Stop(shutdownCtx)
	fmt.Println("✓ Gateway stopped")

	return nil
}

func registerChannel(hs *health.Server, ch channels.Channel) {
	hs.RegisterCheck(ch.Name(), ch.Ready)
}

func startChannel(ctx context.Context, ch channels.Channel) error {
	if err := ch.Start(ctx); err != nil {
		return fmt.Errorf("error starting %s channel: %w", ch.Name(), err)
	}
	return nil
}

func stopChannel(ctx context.Context, ch channels.Channel) {
	if !ch.IsRunning() {
		return
	}
	if err := ch.Stop(ctx); err != nil {
		logger.WarnCF("gateway", "Channel stop failed", map[string]any{
			"channel": ch.Name(),
			"error":   err.Error(),
		})
	}
}
