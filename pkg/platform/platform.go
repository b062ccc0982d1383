// Package platform describes the chat-platform operations the engine calls.
// The Discord channel implements Client; tests use platformtest.Fake.
package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/tinyland-inc/reactroles/pkg/roles"
)

// Client is every outbound call the core needs. Any method may fail with an
// *ExternalError; callers treat that as a failure of one operation only.
type Client interface {
	PostReaction(ctx context.Context, channelID, messageID, emoji string) error
	// RemoveReaction removes userID's reaction, or the bot's own when userID
	// is empty.
	RemoveReaction(ctx context.Context, channelID, messageID, emoji, userID string) error
	GrantRole(ctx context.Context, guildID, userID, roleID string) error
	RevokeRole(ctx context.Context, guildID, userID, roleID string) error
	ListGuildRoles(ctx context.Context, guildID string) ([]roles.Role, error)
	// GuildName is the server's display name.
	GuildName(ctx context.Context, guildID string) (string, error)
	SendMessage(ctx context.Context, channelID, content string) error
	SendDirectMessage(ctx context.Context, userID, content string) error
	// MessageExists is false with a nil error only when the platform
	// positively reports the message as deleted.
	MessageExists(ctx context.Context, channelID, messageID string) (bool, error)
	// CanManageRoles reports whether userID holds Manage Roles or
	// Administrator in channelID.
	CanManageRoles(ctx context.Context, userID, channelID string) (bool, error)
	// SelfID is the bot's user id, empty before the session is ready.
	SelfID() string
}

// ExternalError is ExternalCallFailed: a platform call that did not succeed.
type ExternalError struct {
	Op  string
	Err error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ExternalError) Unwrap() error { return e.Err }

// Wrap returns nil for a nil err, otherwise an *ExternalError for op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ext *ExternalError
	if errors.As(err, &ext) {
		return err
	}
	return &ExternalError{Op: op, Err: err}
}

// IsExternal reports whether err came from the platform.
func IsExternal(err error) bool {
	var ext *ExternalError
	return errors.As(err, &ext)
}
