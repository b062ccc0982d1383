package bus

// EventKind names the gateway events the engine consumes.
type EventKind string

const (
	MessageCreated  EventKind = "message_created"
	MessageDeleted  EventKind = "message_deleted"
	ReactionAdded   EventKind = "reaction_added"
	ReactionRemoved EventKind = "reaction_removed"
	MemberJoined    EventKind = "member_joined"
)

// Event is one inbound gateway event. UserID is the author, reactor or
// joining member depending on Kind. Fields not meaningful for Kind are empty.
type Event struct {
	Kind      EventKind `json:"kind"`
	GuildID   string    `json:"guild_id"`
	ChannelID string    `json:"channel_id,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	UserIsBot bool      `json:"user_is_bot,omitempty"`
	Content   string    `json:"content,omitempty"`
	Emoji     string    `json:"emoji,omitempty"`
}

// Key is the ordering key: events sharing a key are handled in arrival order.
// Message-scoped events order by message id, member joins by guild and user.
func (e Event) Key() string {
	if e.MessageID != "" {
		return e.MessageID
	}
	return e.GuildID + ":" + e.UserID
}

// OutboundMessage is a reply. Exactly one of ChannelID and UserID is set;
// UserID means a direct message.
type OutboundMessage struct {
	ChannelID string `json:"channel_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Content   string `json:"content"`
}
