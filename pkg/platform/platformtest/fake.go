// Package platformtest provides an in-memory platform.Client for tests.
package platformtest

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/tinyland-inc/reactroles/pkg/platform"
	"github.com/tinyland-inc/reactroles/pkg/roles"
)

// ErrInjected is the default error returned by failing operations.
var ErrInjected = errors.New("injected failure")

// Reaction is one reaction the fake has seen posted.
type Reaction struct {
	ChannelID string
	MessageID string
	Emoji     string
}

// Sent is one channel message or direct message.
type Sent struct {
	To      string
	Content string
}

// Fake records every call. Role membership has set semantics so granting a
// held role is a no-op, like the real platform.
type Fake struct {
	mu sync.Mutex

	self      string
	names     map[string]string
	roles     map[string][]roles.Role
	members   map[string]map[string]map[string]struct{}
	reactions map[string][]Reaction
	deleted   map[string]bool
	managers  map[string]bool
	failures  map[string]failure

	grantCalls  int
	revokeCalls int
	messages    []Sent
	directs     []Sent
}

type failure struct {
	afterCalls int
	calls      int
	err        error
}

// New returns a Fake whose bot user id is selfID.
func New(selfID string) *Fake {
	return &Fake{
		self:      selfID,
		names:     map[string]string{},
		roles:     map[string][]roles.Role{},
		members:   map[string]map[string]map[string]struct{}{},
		reactions: map[string][]Reaction{},
		deleted:   map[string]bool{},
		managers:  map[string]bool{},
		failures:  map[string]failure{},
	}
}

var _ platform.Client = (*Fake)(nil)

// SetRoles replaces the guild's role list.
func (f *Fake) SetRoles(guildID string, rs ...roles.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[guildID] = append([]roles.Role(nil), rs...)
}

// SetGuildName sets the name GuildName reports. Unnamed guilds report their id.
func (f *Fake) SetGuildName(guildID, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names[guildID] = name
}

// SetManager marks userID as holding Manage Roles everywhere.
func (f *Fake) SetManager(userID string, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.managers[userID] = ok
}

// DeleteMessage makes MessageExists report messageID as gone.
func (f *Fake) DeleteMessage(messageID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted[messageID] = true
}

// FailOn makes op fail with err once afterCalls calls to it have succeeded.
// op is the method name, e.g. "PostReaction". A nil err uses ErrInjected.
func (f *Fake) FailOn(op string, afterCalls int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	f.failures[op] = failure{afterCalls: afterCalls, err: err}
}

func (f *Fake) check(op string) error {
	fl, ok := f.failures[op]
	if !ok {
		return nil
	}
	fl.calls++
	f.failures[op] = fl
	if fl.calls > fl.afterCalls {
		return platform.Wrap(op, fl.err)
	}
	return nil
}

func (f *Fake) SelfID() string { return f.self }

func (f *Fake) PostReaction(_ context.Context, channelID, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("PostReaction"); err != nil {
		return err
	}
	f.reactions[messageID] = append(f.reactions[messageID], Reaction{ChannelID: channelID, MessageID: messageID, Emoji: emoji})
	return nil
}

func (f *Fake) RemoveReaction(_ context.Context, _, messageID, emoji, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("RemoveReaction"); err != nil {
		return err
	}
	if userID != "" && userID != f.self {
		return nil
	}
	kept := f.reactions[messageID][:0]
	for _, r := range f.reactions[messageID] {
		if r.Emoji != emoji {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		delete(f.reactions, messageID)
		return nil
	}
	f.reactions[messageID] = kept
	return nil
}

func (f *Fake) GrantRole(_ context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grantCalls++
	if err := f.check("GrantRole"); err != nil {
		return err
	}
	guild := f.members[guildID]
	if guild == nil {
		guild = map[string]map[string]struct{}{}
		f.members[guildID] = guild
	}
	if guild[userID] == nil {
		guild[userID] = map[string]struct{}{}
	}
	guild[userID][roleID] = struct{}{}
	return nil
}

func (f *Fake) RevokeRole(_ context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokeCalls++
	if err := f.check("RevokeRole"); err != nil {
		return err
	}
	if held := f.members[guildID][userID]; held != nil {
		delete(held, roleID)
	}
	return nil
}

func (f *Fake) ListGuildRoles(_ context.Context, guildID string) ([]roles.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("ListGuildRoles"); err != nil {
		return nil, err
	}
	return append([]roles.Role(nil), f.roles[guildID]...), nil
}

func (f *Fake) GuildName(_ context.Context, guildID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("GuildName"); err != nil {
		return "", err
	}
	if name, ok := f.names[guildID]; ok {
		return name, nil
	}
	return guildID, nil
}

func (f *Fake) SendMessage(_ context.Context, channelID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("SendMessage"); err != nil {
		return err
	}
	f.messages = append(f.messages, Sent{To: channelID, Content: content})
	return nil
}

func (f *Fake) SendDirectMessage(_ context.Context, userID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("SendDirectMessage"); err != nil {
		return err
	}
	f.directs = append(f.directs, Sent{To: userID, Content: content})
	return nil
}

func (f *Fake) MessageExists(_ context.Context, _, messageID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("MessageExists"); err != nil {
		return false, err
	}
	return !f.deleted[messageID], nil
}

func (f *Fake) CanManageRoles(_ context.Context, userID, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check("CanManageRoles"); err != nil {
		return false, err
	}
	return f.managers[userID], nil
}

// Reactions returns the emojis currently attached to messageID, in post order.
func (f *Fake) Reactions(messageID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.reactions[messageID] {
		out = append(out, r.Emoji)
	}
	return out
}

// MemberRoles returns the sorted role ids userID holds in guildID.
func (f *Fake) MemberRoles(guildID, userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for id := range f.members[guildID][userID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Calls returns how many GrantRole and RevokeRole calls were made.
func (f *Fake) Calls() (grants, revokes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.grantCalls, f.revokeCalls
}

// Messages returns channel messages sent so far.
func (f *Fake) Messages() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.messages...)
}

// DirectMessages returns DMs sent so far.
func (f *Fake) DirectMessages() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.directs...)
}
