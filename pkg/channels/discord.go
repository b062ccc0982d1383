package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/tinyland-inc/reactroles/pkg/bus"
	"github.com/tinyland-inc/reactroles/pkg/config"
	"github.com/tinyland-inc/reactroles/pkg/logger"
	"github.com/tinyland-inc/reactroles/pkg/platform"
	"github.com/tinyland-inc/reactroles/pkg/roles"
)

const (
	discordName          = "discord"
	discordMaxMessageLen = 2000
)

// DiscordChannel is the gateway session. It turns gateway events into bus
// events and implements platform.Client over the REST API.
type DiscordChannel struct {
	*BaseChannel
	session *discordgo.Session

	selfID atomic.Value
	ready  atomic.Bool

	mu  sync.Mutex
	ctx context.Context
}

var (
	_ Channel         = (*DiscordChannel)(nil)
	_ platform.Client = (*DiscordChannel)(nil)
)

func NewDiscordChannel(cfg config.DiscordConfig, messageBus *bus.MessageBus) (*DiscordChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent
	// Handlers run in gateway order; each only enqueues onto the bus.
	session.SyncEvents = true

	c := &DiscordChannel{
		BaseChannel: NewBaseChannel(discordName, messageBus, cfg.AllowGuilds),
		session:     session,
		ctx:         context.Background(),
	}
	c.selfID.Store("")
	return c, nil
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC(discordName, "Starting Discord gateway session")

	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	c.session.AddHandler(c.onReady)
	c.session.AddHandler(c.onResumed)
	c.session.AddHandler(c.onDisconnect)
	c.session.AddHandler(c.onMessageCreate)
	c.session.AddHandler(c.onMessageDelete)
	c.session.AddHandler(c.onMessageDeleteBulk)
	c.session.AddHandler(c.onReactionAdd)
	c.session.AddHandler(c.onReactionRemove)
	c.session.AddHandler(c.onMemberAdd)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	c.SetRunning(true)
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC(discordName, "Stopping Discord gateway session")
	c.SetRunning(false)
	c.ready.Store(false)
	if err := c.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}
	return nil
}

// Ready reports whether the gateway session is connected and identified.
func (c *DiscordChannel) Ready() bool {
	return c.ready.Load()
}

func (c *DiscordChannel) SelfID() string {
	return c.selfID.Load().(string)
}

func (c *DiscordChannel) eventContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

func (c *DiscordChannel) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	if r.User != nil {
		c.selfID.Store(r.User.ID)
	}
	c.ready.Store(true)
	logger.InfoCF(discordName, "Discord session ready", map[string]any{
		"user_id": c.SelfID(),
		"guilds":  len(r.Guilds),
	})
}

func (c *DiscordChannel) onResumed(_ *discordgo.Session, _ *discordgo.Resumed) {
	c.ready.Store(true)
	logger.InfoC(discordName, "Discord session resumed")
}

func (c *DiscordChannel) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	c.ready.Store(false)
	logger.WarnC(discordName, "Discord session disconnected")
}

func (c *DiscordChannel) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if ev, ok := messageCreatedEvent(m); ok {
		c.HandleEvent(c.eventContext(), ev)
	}
}

func (c *DiscordChannel) onMessageDelete(_ *discordgo.Session, m *discordgo.MessageDelete) {
	c.HandleEvent(c.eventContext(), bus.Event{
		Kind:      bus.MessageDeleted,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
	})
}

func (c *DiscordChannel) onMessageDeleteBulk(_ *discordgo.Session, m *discordgo.MessageDeleteBulk) {
	ctx := c.eventContext()
	for _, ev := range bulkDeleteEvents(m) {
		c.HandleEvent(ctx, ev)
	}
}

func (c *DiscordChannel) onReactionAdd(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
	c.HandleEvent(c.eventContext(), reactionEvent(bus.ReactionAdded, r.MessageReaction))
}

func (c *DiscordChannel) onReactionRemove(_ *discordgo.Session, r *discordgo.MessageReactionRemove) {
	c.HandleEvent(c.eventContext(), reactionEvent(bus.ReactionRemoved, r.MessageReaction))
}

func (c *DiscordChannel) onMemberAdd(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if ev, ok := memberJoinedEvent(m); ok {
		c.HandleEvent(c.eventContext(), ev)
	}
}

func messageCreatedEvent(m *discordgo.MessageCreate) (bus.Event, bool) {
	if m == nil || m.Message == nil || m.Author == nil || m.GuildID == "" {
		return bus.Event{}, false
	}
	return bus.Event{
		Kind:      bus.MessageCreated,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		UserID:    m.Author.ID,
		UserIsBot: m.Author.Bot,
		Content:   m.Content,
	}, true
}

func bulkDeleteEvents(m *discordgo.MessageDeleteBulk) []bus.Event {
	events := make([]bus.Event, 0, len(m.Messages))
	for _, id := range m.Messages {
		events = append(events, bus.Event{
			Kind:      bus.MessageDeleted,
			GuildID:   m.GuildID,
			ChannelID: m.ChannelID,
			MessageID: id,
		})
	}
	return events
}

func reactionEvent(kind bus.EventKind, r *discordgo.MessageReaction) bus.Event {
	return bus.Event{
		Kind:      kind,
		GuildID:   r.GuildID,
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		UserID:    r.UserID,
		Emoji:     r.Emoji.APIName(),
	}
}

func memberJoinedEvent(m *discordgo.GuildMemberAdd) (bus.Event, bool) {
	if m == nil || m.Member == nil || m.User == nil {
		return bus.Event{}, false
	}
	return bus.Event{
		Kind:      bus.MemberJoined,
		GuildID:   m.GuildID,
		UserID:    m.User.ID,
		UserIsBot: m.User.Bot,
	}, true
}

func (c *DiscordChannel) PostReaction(ctx context.Context, channelID, messageID, emoji string) error {
	err := c.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx))
	return platform.Wrap("post reaction", err)
}

func (c *DiscordChannel) RemoveReaction(ctx context.Context, channelID, messageID, emoji, userID string) error {
	if userID == "" {
		userID = "@me"
	}
	err := c.session.MessageReactionRemove(channelID, messageID, emoji, userID, discordgo.WithContext(ctx))
	return platform.Wrap("remove reaction", err)
}

func (c *DiscordChannel) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	err := c.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx))
	return platform.Wrap("grant role", err)
}

func (c *DiscordChannel) RevokeRole(ctx context.Context, guildID, userID, roleID string) error {
	err := c.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx))
	return platform.Wrap("revoke role", err)
}

// ListGuildRoles omits @everyone, which shares the guild's id and cannot be
// granted.
func (c *DiscordChannel) ListGuildRoles(ctx context.Context, guildID string) ([]roles.Role, error) {
	guildRoles, err := c.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, platform.Wrap("list guild roles", err)
	}
	return convertRoles(guildID, guildRoles), nil
}

func convertRoles(guildID string, guildRoles []*discordgo.Role) []roles.Role {
	out := make([]roles.Role, 0, len(guildRoles))
	for _, r := range guildRoles {
		if r == nil || r.ID == guildID {
			continue
		}
		out = append(out, roles.Role{ID: r.ID, Name: r.Name})
	}
	return out
}

// GuildName reads the gateway's guild cache before falling back to REST.
func (c *DiscordChannel) GuildName(ctx context.Context, guildID string) (string, error) {
	if g, err := c.session.State.Guild(guildID); err == nil && g.Name != "" {
		return g.Name, nil
	}
	g, err := c.session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", platform.Wrap("get guild", err)
	}
	return g.Name, nil
}

// SendMessage never pings: role and user mentions render but notify no one.
func (c *DiscordChannel) SendMessage(ctx context.Context, channelID, content string) error {
	for _, chunk := range splitMessage(content, discordMaxMessageLen) {
		msg := &discordgo.MessageSend{
			Content:         chunk,
			AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
		}
		if _, err := c.session.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx)); err != nil {
			return platform.Wrap("send message", err)
		}
	}
	return nil
}

func (c *DiscordChannel) SendDirectMessage(ctx context.Context, userID, content string) error {
	dm, err := c.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Wrap("open direct message", err)
	}
	return c.SendMessage(ctx, dm.ID, content)
}

func (c *DiscordChannel) MessageExists(ctx context.Context, channelID, messageID string) (bool, error) {
	_, err := c.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err == nil {
		return true, nil
	}
	if isGone(err) {
		return false, nil
	}
	return false, platform.Wrap("fetch message", err)
}

func isGone(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Message == nil {
		return false
	}
	switch restErr.Message.Code {
	case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel:
		return true
	}
	return false
}

func (c *DiscordChannel) CanManageRoles(ctx context.Context, userID, channelID string) (bool, error) {
	perms, err := c.session.UserChannelPermissions(userID, channelID, discordgo.WithContext(ctx))
	if err != nil {
		return false, platform.Wrap("channel permissions", err)
	}
	return perms&discordgo.PermissionAdministrator != 0 || perms&discordgo.PermissionManageRoles != 0, nil
}

// splitMessage breaks content into chunks of at most limit runes, preferring
// line boundaries.
func splitMessage(content string, limit int) []string {
	if len([]rune(content)) <= limit {
		return []string{content}
	}
	var chunks []string
	var current strings.Builder
	currentLen := 0
	flush := func() {
		if currentLen > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentLen = 0
		}
	}
	for _, line := range strings.SplitAfter(content, "\n") {
		runes := []rune(line)
		for len(runes) > 0 {
			room := limit - currentLen
			if len(runes) <= room {
				current.WriteString(string(runes))
				currentLen += len(runes)
				break
			}
			if currentLen > 0 {
				flush()
				continue
			}
			current.WriteString(string(runes[:limit]))
			currentLen = limit
			runes = runes[limit:]
			flush()
		}
	}
	flush()
	return chunks
}
