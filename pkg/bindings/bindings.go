// Package bindings defines the durable mapping from a setup message to its
// (emoji, role) pairs and the contract every binding store implements.
package bindings

import (
	"context"
	"errors"
	"fmt"

	"github.com/tinyland-inc/reactroles/pkg/roles"
)

var (
	// ErrNotFound is returned when no BindingSet (or no binding for an emoji)
	// exists for the requested message.
	ErrNotFound = errors.New("binding not found")
	// ErrDuplicateMessage is returned by Put when the message already has a
	// BindingSet. Setup is one-shot per message.
	ErrDuplicateMessage = errors.New("message already has bindings")
)

// Binding pairs one reaction emoji with the role it grants.
type Binding struct {
	Emoji  string `json:"emoji"`
	RoleID string `json:"role_id"`
}

// BindingSet is every binding attached to one message.
type BindingSet struct {
	GuildID   string    `json:"guild_id"`
	ChannelID string    `json:"channel_id"`
	MessageID string    `json:"message_id"`
	Bindings  []Binding `json:"bindings"`
}

// Validate checks identifiers are present and that emojis and role ids are
// each pairwise distinct within the set.
func (s BindingSet) Validate() error {
	if s.GuildID == "" || s.ChannelID == "" || s.MessageID == "" {
		return fmt.Errorf("binding set requires guild, channel and message ids")
	}
	if len(s.Bindings) == 0 {
		return fmt.Errorf("binding set for message %s has no bindings", s.MessageID)
	}
	emojis := make(map[string]struct{}, len(s.Bindings))
	roleIDs := make(map[string]struct{}, len(s.Bindings))
	for _, b := range s.Bindings {
		if b.Emoji == "" || b.RoleID == "" {
			return fmt.Errorf("binding set for message %s has an empty binding", s.MessageID)
		}
		key := roles.NormalizeEmoji(b.Emoji)
		if _, dup := emojis[key]; dup {
			return fmt.Errorf("emoji %s bound twice on message %s", b.Emoji, s.MessageID)
		}
		if _, dup := roleIDs[b.RoleID]; dup {
			return fmt.Errorf("role %s bound twice on message %s", b.RoleID, s.MessageID)
		}
		emojis[key] = struct{}{}
		roleIDs[b.RoleID] = struct{}{}
	}
	return nil
}

// RoleFor returns the role bound to emoji, comparing normalized glyphs.
func (s BindingSet) RoleFor(emoji string) (string, bool) {
	key := roles.NormalizeEmoji(emoji)
	for _, b := range s.Bindings {
		if roles.NormalizeEmoji(b.Emoji) == key {
			return b.RoleID, true
		}
	}
	return "", false
}

// Clone returns a deep copy so callers never share the Bindings slice.
func (s BindingSet) Clone() BindingSet {
	out := s
	out.Bindings = append([]Binding(nil), s.Bindings...)
	return out
}

// Store owns every BindingSet. Implementations must make Put, Remove durable
// before returning and must never expose a partially written set.
type Store interface {
	// Put atomically creates set; ErrDuplicateMessage if one exists.
	Put(ctx context.Context, set BindingSet) error
	// Get returns a copy of the set for messageID or ErrNotFound.
	Get(ctx context.Context, messageID string) (BindingSet, error)
	// Remove deletes the set for messageID; ErrNotFound if absent.
	Remove(ctx context.Context, messageID string) error
	// FindRole is the reaction hot path: the role bound to emoji on messageID,
	// or ErrNotFound for an unknown message or emoji.
	FindRole(ctx context.Context, messageID, emoji string) (string, error)
	// Scan calls fn for every stored set, stopping at the first error.
	Scan(ctx context.Context, fn func(BindingSet) error) error
}
