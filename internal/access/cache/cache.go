// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

// Package cache memoizes effective capability sets per member and scope, and
// drops them when the grant store reports a change.
//
// Entries are keyed by member; reverse indexes from role and server IDs to
// members let a role or server change evict every member it touches without
// a scan. A stale entry is only possible between a committed write and the
// arrival of its invalidation.
//
// Every invalidation and flush advances a cache-wide epoch. Readers take the
// epoch before loading a member and pass it to Put, which drops the set if
// the epoch has moved since: the set may predate a write whose invalidation
// found nothing to evict.
package cache

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/guildhall/guildhall/internal/access"
	"github.com/guildhall/guildhall/internal/access/store"
)

// Key identifies one cached effective set.
type Key struct {
	MemberID string
	Scope    access.Scope
	TargetID string
}

func (k Key) field() string {
	scope := k.Scope
	if scope == "" {
		scope = access.ScopeServer
	}
	return string(scope) + ":" + k.TargetID
}

// Dependencies lists what a cached set was computed from. A change to the
// server or any listed role evicts the entry. Epoch is the cache epoch read
// before the member was loaded.
type Dependencies struct {
	ServerID string
	RoleIDs  []string
	Epoch    uint64
}

// DependenciesOf returns the dependencies of a loaded member.
func DependenciesOf(m *access.Member) Dependencies {
	return Dependencies{ServerID: m.ServerID, RoleIDs: m.RoleIDs()}
}

// Cache stores effective capability sets.
type Cache interface {
	// Get returns the cached set and whether it was present.
	Get(ctx context.Context, key Key) (access.CapabilitySet, bool, error)
	// Epoch returns the current invalidation epoch.
	Epoch(ctx context.Context) (uint64, error)
	// Put stores set unless the epoch has moved past deps.Epoch.
	Put(ctx context.Context, key Key, set access.CapabilitySet, deps Dependencies) error
	// Invalidate evicts everything the change could affect.
	Invalidate(ctx context.Context, inv store.Invalidation) error
	// Flush evicts everything. Used after missed notifications.
	Flush(ctx context.Context) error
}

var (
	lookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildhall_access_cache_lookups_total",
		Help: "Effective-set cache lookups by backend and result",
	}, []string{"backend", "result"})
	stalePuts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildhall_access_cache_stale_puts_total",
		Help: "Effective sets dropped because an invalidation raced the load",
	}, []string{"backend"})
)

func recordLookup(backend string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	lookups.WithLabelValues(backend, result).Inc()
}

// Nop is a Cache that stores nothing.
type Nop struct{}

// Get always misses.
func (Nop) Get(context.Context, Key) (access.CapabilitySet, bool, error) {
	return access.CapabilitySet{}, false, nil
}

// Epoch is always zero.
func (Nop) Epoch(context.Context) (uint64, error) { return 0, nil }

// Put discards the set.
func (Nop) Put(context.Context, Key, access.CapabilitySet, Dependencies) error { return nil }

// Invalidate does nothing.
func (Nop) Invalidate(context.Context, store.Invalidation) error { return nil }

// Flush does nothing.
func (Nop) Flush(context.Context) error { return nil }

var (
	_ Cache                  = Nop{}
	_ store.InvalidationSink = Nop{}
)
