// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/guildhall/guildhall/internal/access/store"
)

// Default reconnect backoff.
const (
	defaultReconnectInitial = 100 * time.Millisecond
	defaultReconnectMax     = 30 * time.Second
)

// Listener abstracts the LISTEN/NOTIFY connection. The returned channel
// emits raw payloads and closes when the connection is lost or ctx ends.
type Listener interface {
	Listen(ctx context.Context) (<-chan string, error)
}

var (
	invalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guildhall_access_cache_invalidations_total",
		Help: "Invalidation notifications applied, by kind",
	}, []string{"kind"})

	reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guildhall_access_cache_listener_reconnects_total",
		Help: "Times the invalidation listener re-established its connection",
	})
)

// InvalidatorOption configures an Invalidator.
type InvalidatorOption func(*Invalidator)

// WithReconnectBackoff sets the exponential backoff bounds used while the
// listener cannot connect.
func WithReconnectBackoff(initial, maxInterval time.Duration) InvalidatorOption {
	return func(i *Invalidator) {
		i.initial = initial
		i.max = maxInterval
	}
}

// Invalidator applies store notifications to a Cache.
type Invalidator struct {
	cache    Cache
	listener Listener
	initial  time.Duration
	max      time.Duration

	mu    sync.Mutex
	ready bool
}

// NewInvalidator creates an Invalidator. Call Run to start it.
func NewInvalidator(c Cache, l Listener, opts ...InvalidatorOption) *Invalidator {
	inv := &Invalidator{
		cache:    c,
		listener: l,
		initial:  defaultReconnectInitial,
		max:      defaultReconnectMax,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Ready reports whether the listener is currently connected. While it is
// not, cached entries may miss changes.
func (i *Invalidator) Ready() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.ready
}

func (i *Invalidator) setReady(v bool) {
	i.mu.Lock()
	i.ready = v
	i.mu.Unlock()
}

// Run listens until ctx is cancelled, reconnecting with exponential backoff.
// Every (re)connect flushes the cache, since notifications sent while
// disconnected are lost. Run returns nil on cancellation.
func (i *Invalidator) Run(ctx context.Context) error {
	first := true
	for {
		ch, err := i.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !first {
			reconnects.Inc()
		}
		first = false

		if err := i.cache.Flush(ctx); err != nil {
			slog.WarnContext(ctx, "cache flush after listener connect failed", "error", err)
		}
		i.setReady(true)
		i.consume(ctx, ch)
		i.setReady(false)

		if ctx.Err() != nil {
			return nil
		}
		slog.WarnContext(ctx, "invalidation listener disconnected, reconnecting")
	}
}

func (i *Invalidator) connect(ctx context.Context) (<-chan string, error) {
	backoff := retry.WithCappedDuration(i.max, retry.NewExponential(i.initial))

	var ch <-chan string
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		ch, err = i.listener.Listen(ctx)
		if err != nil {
			slog.WarnContext(ctx, "invalidation listener connect failed", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, oops.In("cache").Code("LISTEN_FAILED").Wrap(err)
	}
	return ch, nil
}

func (i *Invalidator) consume(ctx context.Context, ch <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			i.apply(ctx, payload)
		}
	}
}

func (i *Invalidator) apply(ctx context.Context, payload string) {
	inv, err := store.ParseInvalidation(payload)
	if err != nil {
		slog.WarnContext(ctx, "ignoring malformed invalidation", "payload", payload, "error", err)
		return
	}
	if err := i.cache.Invalidate(ctx, inv); err != nil {
		// A failed eviction leaves stale entries behind; flushing is the
		// only safe fallback.
		slog.ErrorContext(ctx, "cache invalidation failed, flushing",
			"kind", string(inv.Kind), "id", inv.ID, "error", err)
		if ferr := i.cache.Flush(ctx); ferr != nil {
			slog.ErrorContext(ctx, "cache flush failed", "error", ferr)
		}
		return
	}
	invalidations.WithLabelValues(string(inv.Kind)).Inc()
}
