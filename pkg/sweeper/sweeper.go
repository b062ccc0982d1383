// Package sweeper removes binding sets whose message has been deleted while
// the bot was not listening.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"
	"golang.org/x/sync/errgroup"

	"github.com/tinyland-inc/reactroles/pkg/bindings"
	"github.com/tinyland-inc/reactroles/pkg/logger"
	"github.com/tinyland-inc/reactroles/pkg/metrics"
	"github.com/tinyland-inc/reactroles/pkg/platform"
)

const component = "sweeper"

type Sweeper struct {
	store       bindings.Store
	client      platform.Client
	concurrency int
	metrics     *metrics.Metrics
}

// New returns a sweeper checking up to concurrency messages at once.
func New(store bindings.Store, client platform.Client, concurrency int, m *metrics.Metrics) *Sweeper {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Sweeper{store: store, client: client, concurrency: concurrency, metrics: m}
}

// Sweep checks every stored set once. Only a positive "message is gone"
// answer removes a set; transport errors keep it for the next run.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	var sets []bindings.BindingSet
	if err := s.store.Scan(ctx, func(set bindings.BindingSet) error {
		sets = append(sets, set)
		return nil
	}); err != nil {
		return 0, fmt.Errorf("scan bindings: %w", err)
	}

	var removed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, set := range sets {
		g.Go(func() error {
			exists, err := s.client.MessageExists(gctx, set.ChannelID, set.MessageID)
			if err != nil {
				logger.WarnCF(component, "Could not check message, keeping bindings", map[string]any{
					"message_id": set.MessageID,
					"channel_id": set.ChannelID,
					"error":      err,
				})
				return nil
			}
			if exists {
				return nil
			}
			if err := s.store.Remove(gctx, set.MessageID); err != nil && !errors.Is(err, bindings.ErrNotFound) {
				return fmt.Errorf("remove %s: %w", set.MessageID, err)
			}
			removed.Add(1)
			logger.InfoCF(component, "Removed bindings for deleted message", map[string]any{
				"message_id": set.MessageID,
				"guild_id":   set.GuildID,
			})
			return nil
		})
	}
	err := g.Wait()
	n := int(removed.Load())
	s.metrics.AddSwept(n)
	return n, err
}

// Run sweeps immediately, then on every tick of the cron schedule until ctx
// is done.
func (s *Sweeper) Run(ctx context.Context, schedule string) error {
	if !gronx.New().IsValid(schedule) {
		return fmt.Errorf("invalid sweeper schedule %q", schedule)
	}
	for {
		n, err := s.Sweep(ctx)
		if err != nil && ctx.Err() == nil {
			logger.ErrorCF(component, "Sweep failed", map[string]any{"error": err})
		} else {
			logger.DebugCF(component, "Sweep finished", map[string]any{"removed": n})
		}

		next, err := gronx.NextTickAfter(schedule, time.Now(), false)
		if err != nil {
			return fmt.Errorf("next sweep: %w", err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
