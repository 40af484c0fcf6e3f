// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

package cache

import (
	"context"
	"sync"

	"github.com/samber/oops"

	"github.com/guildhall/guildhall/internal/access"
	"github.com/guildhall/guildhall/internal/access/store"
)

type memberIndex map[string]struct{}

// MemoryCache is an in-process Cache. Entries do not expire; they live until
// invalidated or flushed.
type MemoryCache struct {
	mu       sync.RWMutex
	epoch    uint64
	entries  map[string]map[string]access.CapabilitySet
	deps     map[string]Dependencies
	byRole   map[string]memberIndex
	byServer map[string]memberIndex
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries:  make(map[string]map[string]access.CapabilitySet),
		deps:     make(map[string]Dependencies),
		byRole:   make(map[string]memberIndex),
		byServer: make(map[string]memberIndex),
	}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key Key) (access.CapabilitySet, bool, error) {
	c.mu.RLock()
	set, ok := c.entries[key.MemberID][key.field()]
	c.mu.RUnlock()
	recordLookup("memory", ok)
	return set, ok, nil
}

// Epoch implements Cache.
func (c *MemoryCache) Epoch(context.Context) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch, nil
}

// Put implements Cache.
func (c *MemoryCache) Put(_ context.Context, key Key, set access.CapabilitySet, deps Dependencies) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if deps.Epoch != c.epoch {
		stalePuts.WithLabelValues("memory").Inc()
		return nil
	}

	fields, ok := c.entries[key.MemberID]
	if !ok {
		fields = make(map[string]access.CapabilitySet)
		c.entries[key.MemberID] = fields
	}
	fields[key.field()] = set

	c.index(c.byServer, deps.ServerID, key.MemberID)
	for _, id := range deps.RoleIDs {
		c.index(c.byRole, id, key.MemberID)
	}
	prev := c.deps[key.MemberID]
	c.deps[key.MemberID] = Dependencies{
		ServerID: deps.ServerID,
		RoleIDs:  union(prev.RoleIDs, deps.RoleIDs),
		Epoch:    c.epoch,
	}
	return nil
}

func (c *MemoryCache) index(idx map[string]memberIndex, id, memberID string) {
	if id == "" {
		return
	}
	members, ok := idx[id]
	if !ok {
		members = make(memberIndex)
		idx[id] = members
	}
	members[memberID] = struct{}{}
}

func union(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Invalidate implements Cache and store.InvalidationSink.
func (c *MemoryCache) Invalidate(_ context.Context, inv store.Invalidation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch inv.Kind {
	case store.InvalidateMember:
		c.epoch++
		c.evict(inv.ID)
	case store.InvalidateRole:
		c.epoch++
		for id := range c.byRole[inv.ID] {
			c.evict(id)
		}
		delete(c.byRole, inv.ID)
	case store.InvalidateServer:
		c.epoch++
		for id := range c.byServer[inv.ID] {
			c.evict(id)
		}
		delete(c.byServer, inv.ID)
	default:
		return oops.In("cache").Code("INVALID_INVALIDATION").
			With("kind", inv.Kind).Errorf("unknown invalidation kind")
	}
	return nil
}

// evict drops a member's entries and index memberships. Caller holds mu.
func (c *MemoryCache) evict(memberID string) {
	delete(c.entries, memberID)
	deps, ok := c.deps[memberID]
	if !ok {
		return
	}
	delete(c.deps, memberID)
	if members := c.byServer[deps.ServerID]; members != nil {
		delete(members, memberID)
		if len(members) == 0 {
			delete(c.byServer, deps.ServerID)
		}
	}
	for _, id := range deps.RoleIDs {
		if members := c.byRole[id]; members != nil {
			delete(members, memberID)
			if len(members) == 0 {
				delete(c.byRole, id)
			}
		}
	}
}

// Flush implements Cache.
func (c *MemoryCache) Flush(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.entries = make(map[string]map[string]access.CapabilitySet)
	c.deps = make(map[string]Dependencies)
	c.byRole = make(map[string]memberIndex)
	c.byServer = make(map[string]memberIndex)
	return nil
}

// Len returns the number of cached sets.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, fields := range c.entries {
		n += len(fields)
	}
	return n
}

var _ Cache = (*MemoryCache)(nil)
