// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

package cache

import (
	"context"
	"errors"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/guildhall/guildhall/internal/access"
	"github.com/guildhall/guildhall/internal/access/store"
)

const (
	defaultKeyPrefix = "guildhall"
	defaultTTL       = 10 * time.Minute
	flushBatch       = 500
)

// encMode writes entries with RFC 8949 core deterministic encoding so equal
// sets produce equal bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}
	if decMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic("cache: CBOR decoder initialization failed: " + err.Error())
	}
}

// redisEntry is the stored form of one effective set.
type redisEntry struct {
	Capabilities []string `cbor:"1,keyasint"`
	StoredAt     int64    `cbor:"2,keyasint"`
}

// RedisOption configures a RedisCache.
type RedisOption func(*RedisCache)

// WithTTL sets how long entries and index sets live without a refresh.
func WithTTL(ttl time.Duration) RedisOption {
	return func(c *RedisCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithKeyPrefix namespaces every key, for sharing one Redis between
// deployments.
func WithKeyPrefix(prefix string) RedisOption {
	return func(c *RedisCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// RedisCache is a Cache shared between processes. Each member's sets live
// in one hash so a member invalidation is a single DEL; role and server
// reverse indexes are Redis sets of member IDs. The epoch is a counter key
// that Put watches, so a racing invalidation aborts the write.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewRedisCache creates a RedisCache on client.
func NewRedisCache(client redis.UniversalClient, opts ...RedisOption) *RedisCache {
	c := &RedisCache{client: client, ttl: defaultTTL, prefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) memberKey(id string) string { return c.prefix + ":eff:" + id }
func (c *RedisCache) roleKey(id string) string   { return c.prefix + ":role:" + id + ":members" }
func (c *RedisCache) serverKey(id string) string { return c.prefix + ":server:" + id + ":members" }
func (c *RedisCache) epochKey() string            { return c.prefix + ":epoch" }

func readEpoch(ctx context.Context, cmd redis.Cmdable, key string) (uint64, error) {
	n, err := cmd.Get(ctx, key).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Epoch implements Cache.
func (c *RedisCache) Epoch(ctx context.Context) (uint64, error) {
	n, err := readEpoch(ctx, c.client, c.epochKey())
	if err != nil {
		return 0, oops.In("cache").Code("CACHE_READ_FAILED").Wrap(err)
	}
	return n, nil
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key Key) (access.CapabilitySet, bool, error) {
	raw, err := c.client.HGet(ctx, c.memberKey(key.MemberID), key.field()).Bytes()
	if errors.Is(err, redis.Nil) {
		recordLookup("redis", false)
		return access.CapabilitySet{}, false, nil
	}
	if err != nil {
		return access.CapabilitySet{}, false, oops.In("cache").Code("CACHE_READ_FAILED").
			With("member_id", key.MemberID).Wrap(err)
	}

	var entry redisEntry
	if err := decMode.Unmarshal(raw, &entry); err != nil {
		return access.CapabilitySet{}, false, oops.In("cache").Code("CACHE_DECODE_FAILED").
			With("member_id", key.MemberID).Wrap(err)
	}
	caps := make([]access.Capability, len(entry.Capabilities))
	for i, s := range entry.Capabilities {
		caps[i] = access.Capability(s)
	}
	recordLookup("redis", true)
	return access.NewCapabilitySet(caps...), true, nil
}

// Put implements Cache. The hash and index sets are written in one MULTI
// guarded by a WATCH on the epoch key.
func (c *RedisCache) Put(ctx context.Context, key Key, set access.CapabilitySet, deps Dependencies) error {
	raw, err := encMode.Marshal(redisEntry{Capabilities: set.Strings(), StoredAt: time.Now().Unix()})
	if err != nil {
		return oops.In("cache").Code("CACHE_ENCODE_FAILED").Wrap(err)
	}

	memberKey := c.memberKey(key.MemberID)
	stale := false
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		epoch, err := readEpoch(ctx, tx, c.epochKey())
		if err != nil {
			return err
		}
		if epoch != deps.Epoch {
			stale = true
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, memberKey, key.field(), raw)
			p.Expire(ctx, memberKey, c.ttl)
			if deps.ServerID != "" {
				p.SAdd(ctx, c.serverKey(deps.ServerID), key.MemberID)
				p.Expire(ctx, c.serverKey(deps.ServerID), c.ttl)
			}
			for _, id := range deps.RoleIDs {
				p.SAdd(ctx, c.roleKey(id), key.MemberID)
				p.Expire(ctx, c.roleKey(id), c.ttl)
			}
			return nil
		})
		return err
	}, c.epochKey())
	if errors.Is(err, redis.TxFailedErr) {
		stale, err = true, nil
	}
	if stale {
		stalePuts.WithLabelValues("redis").Inc()
	}
	if err != nil {
		return oops.In("cache").Code("CACHE_WRITE_FAILED").
			With("member_id", key.MemberID).Wrap(err)
	}
	return nil
}

// Invalidate implements Cache and store.InvalidationSink.
func (c *RedisCache) Invalidate(ctx context.Context, inv store.Invalidation) error {
	switch inv.Kind {
	case store.InvalidateMember, store.InvalidateRole, store.InvalidateServer:
	default:
		return oops.In("cache").Code("INVALID_INVALIDATION").
			With("kind", inv.Kind).Errorf("unknown invalidation kind")
	}
	if err := c.client.Incr(ctx, c.epochKey()).Err(); err != nil {
		return c.invalidateErr(inv, err)
	}

	var indexKey string
	switch inv.Kind {
	case store.InvalidateMember:
		if err := c.client.Del(ctx, c.memberKey(inv.ID)).Err(); err != nil {
			return c.invalidateErr(inv, err)
		}
		return nil
	case store.InvalidateRole:
		indexKey = c.roleKey(inv.ID)
	case store.InvalidateServer:
		indexKey = c.serverKey(inv.ID)
	}

	members, err := c.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return c.invalidateErr(inv, err)
	}
	keys := make([]string, 0, len(members)+1)
	for _, id := range members {
		keys = append(keys, c.memberKey(id))
	}
	keys = append(keys, indexKey)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return c.invalidateErr(inv, err)
	}
	return nil
}

func (c *RedisCache) invalidateErr(inv store.Invalidation, err error) error {
	return oops.In("cache").Code("CACHE_INVALIDATE_FAILED").
		With("kind", inv.Kind).With("id", inv.ID).Wrap(err)
}

// Flush implements Cache by deleting every key under the prefix except the
// epoch, which is advanced instead.
func (c *RedisCache) Flush(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.epochKey()).Err(); err != nil {
		return oops.In("cache").Code("CACHE_FLUSH_FAILED").Wrap(err)
	}
	var cursor uint64
	for {
		found, next, err := c.client.Scan(ctx, cursor, c.prefix+":*", flushBatch).Result()
		if err != nil {
			return oops.In("cache").Code("CACHE_FLUSH_FAILED").Wrap(err)
		}
		keys := found[:0]
		for _, k := range found {
			if k != c.epochKey() {
				keys = append(keys, k)
			}
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return oops.In("cache").Code("CACHE_FLUSH_FAILED").Wrap(err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

var _ Cache = (*RedisCache)(nil)
