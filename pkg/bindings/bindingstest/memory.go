// Package bindingstest provides an in-memory bindings.Store for tests.
package bindingstest

import (
	"context"
	"sync"

	"github.com/tinyland-inc/reactroles/pkg/bindings"
)

// Memory is a map-backed Store. PutErr, when set, fails every Put.
type Memory struct {
	mu     sync.Mutex
	sets   map[string]bindings.BindingSet
	order  []string
	PutErr error
}

func NewMemory() *Memory {
	return &Memory{sets: map[string]bindings.BindingSet{}}
}

var _ bindings.Store = (*Memory)(nil)

func (m *Memory) Put(_ context.Context, set bindings.BindingSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return m.PutErr
	}
	if err := set.Validate(); err != nil {
		return err
	}
	if _, ok := m.sets[set.MessageID]; ok {
		return bindings.ErrDuplicateMessage
	}
	m.sets[set.MessageID] = set.Clone()
	m.order = append(m.order, set.MessageID)
	return nil
}

func (m *Memory) Get(_ context.Context, messageID string) (bindings.BindingSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[messageID]
	if !ok {
		return bindings.BindingSet{}, bindings.ErrNotFound
	}
	return set.Clone(), nil
}

func (m *Memory) Remove(_ context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sets[messageID]; !ok {
		return bindings.ErrNotFound
	}
	delete(m.sets, messageID)
	for i, id := range m.order {
		if id == messageID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) FindRole(ctx context.Context, messageID, emoji string) (string, error) {
	set, err := m.Get(ctx, messageID)
	if err != nil {
		return "", err
	}
	roleID, ok := set.RoleFor(emoji)
	if !ok {
		return "", bindings.ErrNotFound
	}
	return roleID, nil
}

func (m *Memory) Scan(ctx context.Context, fn func(bindings.BindingSet) error) error {
	m.mu.Lock()
	sets := make([]bindings.BindingSet, 0, len(m.order))
	for _, id := range m.order {
		sets = append(sets, m.sets[id].Clone())
	}
	m.mu.Unlock()
	for _, set := range sets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(set); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of stored sets.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sets)
}
