// Package dispatch runs event handlers on a fixed set of worker shards.
// Events with the same key always land on the same shard, so they are handled
// one at a time in submission order; different keys proceed in parallel.
package dispatch

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/tinyland-inc/reactroles/pkg/bus"
	"github.com/tinyland-inc/reactroles/pkg/metrics"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("dispatcher closed")

// Handler processes one event. The context is not cancelled by shutdown:
// Close waits for queued work to finish instead.
type Handler func(ctx context.Context, ev bus.Event)

type Dispatcher struct {
	shards  []chan bus.Event
	handler Handler
	metrics *metrics.Metrics
	group   errgroup.Group

	mu     sync.RWMutex
	closed bool
}

// New starts shards workers, each with a queue of queueSize events.
func New(ctx context.Context, shards, queueSize int, handler Handler, m *metrics.Metrics) *Dispatcher {
	if shards <= 0 {
		shards = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	d := &Dispatcher{
		shards:  make([]chan bus.Event, shards),
		handler: handler,
		metrics: m,
	}
	workCtx := context.WithoutCancel(ctx)
	for i := range d.shards {
		queue := make(chan bus.Event, queueSize)
		d.shards[i] = queue
		label := strconv.Itoa(i)
		d.group.Go(func() error {
			for ev := range queue {
				d.metrics.SetQueueDepth(label, len(queue))
				d.handler(workCtx, ev)
			}
			return nil
		})
	}
	return d
}

// Submit queues ev on its key's shard, blocking while that shard is full.
func (d *Dispatcher) Submit(ctx context.Context, ev bus.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.IncRejected()
		return ErrClosed
	}
	idx := d.shardFor(ev.Key())
	queue := d.shards[idx]
	select {
	case queue <- ev:
		d.metrics.SetQueueDepth(strconv.Itoa(idx), len(queue))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) shardFor(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(d.shards)))
}

// Close stops accepting events and waits until every queued event has been
// handled. It is safe to call more than once.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, queue := range d.shards {
			close(queue)
		}
	}
	d.mu.Unlock()
	return d.group.Wait()
}
