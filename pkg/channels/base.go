package channels

import (
	"context"
	"sync/atomic"

	"github.com/tinyland-inc/reactroles/pkg/bus"
	"github.com/tinyland-inc/reactroles/pkg/logger"
	"github.com/tinyland-inc/reactroles/pkg/platform"
)

// Channel is a gateway connection the process starts, health-checks and
// stops.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	// Ready is true once the session can take events.
	Ready() bool
	IsAllowed(guildID string) bool
}

type BaseChannel struct {
	bus       *bus.MessageBus
	running   atomic.Bool
	name      string
	allowList []string
}

func NewBaseChannel(name string, bus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		bus:       bus,
		name:      name,
		allowList: allowList,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

func (c *BaseChannel) SetRunning(running bool) {
	c.running.Store(running)
}

// IsAllowed reports whether events from guildID are handled. An empty allow
// list admits every guild.
func (c *BaseChannel) IsAllowed(guildID string) bool {
	if len(c.allowList) == 0 {
		return true
	}
	for _, allowed := range c.allowList {
		if guildID == allowed {
			return true
		}
	}
	return false
}

// HandleEvent publishes ev if its guild is allowed. It blocks while the bus
// is full so gateway events are never silently dropped.
func (c *BaseChannel) HandleEvent(ctx context.Context, ev bus.Event) {
	if !c.IsAllowed(ev.GuildID) {
		return
	}
	if err := c.bus.PublishInbound(ctx, ev); err != nil {
		logger.WarnCF(c.name, "Event dropped", map[string]any{
			"kind":       string(ev.Kind),
			"message_id": ev.MessageID,
			"error":      err,
		})
	}
}

// DeliverOutbound sends every outbound message through client until ctx is
// done or the bus closes. Delivery failures are logged, not retried.
func DeliverOutbound(ctx context.Context, mb *bus.MessageBus, client platform.Client) {
	for {
		msg, ok := mb.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		var err error
		if msg.UserID != "" {
			err = client.SendDirectMessage(ctx, msg.UserID, msg.Content)
		} else {
			err = client.SendMessage(ctx, msg.ChannelID, msg.Content)
		}
		if err != nil {
			logger.WarnCF("channels", "Outbound message not delivered", map[string]any{
				"channel_id": msg.ChannelID,
				"user_id":    msg.UserID,
				"error":      err,
			})
		}
	}
}
