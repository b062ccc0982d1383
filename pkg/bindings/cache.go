package bindings

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 4096

// CachedStore puts an LRU of whole BindingSets in front of a Store so the
// reaction hot path rarely touches disk. Misses are remembered too: most
// reactions land on messages that are not setup messages at all.
type CachedStore struct {
	Store
	sets *lru.Cache[string, cacheEntry]

	// gen is bumped by every Put and Remove. A miss only fills the cache if
	// no mutation happened while it was reading the inner store.
	mu  sync.Mutex
	gen uint64
}

type cacheEntry struct {
	set     BindingSet
	missing bool
}

// NewCachedStore wraps inner with a cache of up to size entries.
func NewCachedStore(inner Store, size int) (*CachedStore, error) {
	if inner == nil {
		return nil, fmt.Errorf("inner store is required")
	}
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("create binding cache: %w", err)
	}
	return &CachedStore{Store: inner, sets: cache}, nil
}

func (c *CachedStore) Put(ctx context.Context, set BindingSet) error {
	if err := c.Store.Put(ctx, set); err != nil {
		return err
	}
	c.mu.Lock()
	c.gen++
	c.sets.Add(set.MessageID, cacheEntry{set: set.Clone()})
	c.mu.Unlock()
	return nil
}

func (c *CachedStore) Remove(ctx context.Context, messageID string) error {
	c.invalidate(messageID)
	err := c.Store.Remove(ctx, messageID)
	c.invalidate(messageID)
	return err
}

func (c *CachedStore) invalidate(messageID string) {
	c.mu.Lock()
	c.gen++
	c.sets.Remove(messageID)
	c.mu.Unlock()
}

func (c *CachedStore) Get(ctx context.Context, messageID string) (BindingSet, error) {
	entry, err := c.load(ctx, messageID)
	if err != nil {
		return BindingSet{}, err
	}
	if entry.missing {
		return BindingSet{}, ErrNotFound
	}
	return entry.set.Clone(), nil
}

func (c *CachedStore) FindRole(ctx context.Context, messageID, emoji string) (string, error) {
	entry, err := c.load(ctx, messageID)
	if err != nil {
		return "", err
	}
	if entry.missing {
		return "", ErrNotFound
	}
	roleID, ok := entry.set.RoleFor(emoji)
	if !ok {
		return "", ErrNotFound
	}
	return roleID, nil
}

func (c *CachedStore) load(ctx context.Context, messageID string) (cacheEntry, error) {
	if entry, ok := c.sets.Get(messageID); ok {
		return entry, nil
	}
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	var entry cacheEntry
	set, err := c.Store.Get(ctx, messageID)
	switch {
	case errors.Is(err, ErrNotFound):
		entry = cacheEntry{missing: true}
	case err != nil:
		return cacheEntry{}, err
	default:
		entry = cacheEntry{set: set}
	}

	c.mu.Lock()
	if c.gen == gen {
		c.sets.Add(messageID, entry)
	}
	c.mu.Unlock()
	return entry, nil
}
