// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

package main

import (
	"context"
	"net"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/guildhall/guildhall/internal/access/cache"
	"github.com/guildhall/guildhall/internal/access/store"
	"github.com/guildhall/guildhall/internal/config"
	"github.com/guildhall/guildhall/internal/observability"
)

// ServeDeps holds the serve command's injectable dependencies. Nil fields
// use the production implementations.
type ServeDeps struct {
	// BackendFactory opens the member store.
	// Default: a pgx pool behind store.PostgresStore.
	BackendFactory func(ctx context.Context, databaseURL string) (Backend, error)

	// ListenerFactory creates the invalidation listener.
	// Default: store.NewPgListener
	ListenerFactory func(databaseURL string) cache.Listener

	// RedisClientFactory creates the client for the redis cache backend.
	// Default: redis.NewClient
	RedisClientFactory func(cfg config.RedisConfig) redis.UniversalClient

	// ObservabilityServerFactory creates the metrics and health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, checks ...observability.ReadinessCheck) ObservabilityServer

	// Listen binds the API listener.
	// Default: net.Listen
	Listen func(network, address string) (net.Listener, error)
}

// Backend is the member store the engine reads from.
type Backend interface {
	store.MemberLoader
	Ping(ctx context.Context) error
	Close()
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

type postgresBackend struct {
	*store.PostgresStore
	pool *pgxpool.Pool
}

func (b *postgresBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx) //nolint:wrapcheck // readiness probes log the raw error
}

func (b *postgresBackend) Close() {
	b.pool.Close()
}

func openPostgres(ctx context.Context, databaseURL string) (Backend, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}
	return &postgresBackend{PostgresStore: store.NewPostgresStore(pool), pool: pool}, nil
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.BackendFactory == nil {
		out.BackendFactory = openPostgres
	}
	if out.ListenerFactory == nil {
		out.ListenerFactory = func(url string) cache.Listener { return store.NewPgListener(url) }
	}
	if out.RedisClientFactory == nil {
		out.RedisClientFactory = func(cfg config.RedisConfig) redis.UniversalClient {
			return redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, checks ...observability.ReadinessCheck) ObservabilityServer {
			return observability.NewServer(addr, checks...)
		}
	}
	if out.Listen == nil {
		out.Listen = net.Listen
	}
	return &out
}
