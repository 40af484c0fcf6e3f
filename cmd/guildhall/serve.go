// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/guildhall/guildhall/internal/access/audit"
	"github.com/guildhall/guildhall/internal/access/cache"
	"github.com/guildhall/guildhall/internal/access/policy"
	"github.com/guildhall/guildhall/internal/api"
	"github.com/guildhall/guildhall/internal/config"
	"github.com/guildhall/guildhall/internal/logging"
	"github.com/guildhall/guildhall/internal/observability"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization API",
		Long: `Run the HTTP authorization API backed by PostgreSQL, with an
effective-set cache kept fresh by database notifications.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags(), configFile)
			if err != nil {
				return err //nolint:wrapcheck // config errors carry their own code
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServeWithDeps(ctx, cfg, cmd, nil)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps runs until ctx is cancelled or a server fails, then shuts
// everything down in reverse order.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	logging.SetDefault("guildhall", version, cfg.Log.Format, level)

	slog.Info("starting guildhall",
		"http_addr", cfg.HTTP.Addr,
		"cache_backend", cfg.Cache.Backend,
		"audit_mode", cfg.Audit.Mode,
	)

	backend, err := deps.BackendFactory(ctx, cfg.Database.URL)
	if err != nil {
		return oops.Code("SERVE_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer backend.Close()
	slog.Info("connected to database")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	effective, invalidator, closeCache := buildCache(cfg, deps)
	defer closeCache()

	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	if invalidator != nil {
		wg.Go(func() {
			if err := invalidator.Run(ctx); err != nil {
				slog.Error("invalidation listener failed, triggering shutdown", "error", err)
				cancel()
			}
		})
	}

	mode, err := audit.ParseMode(cfg.Audit.Mode)
	if err != nil {
		return err //nolint:wrapcheck // already coded
	}
	auditLog := audit.NewLogger(mode, audit.NewSlogWriter(slog.Default()), audit.WithBuffer(cfg.Audit.Buffer))
	defer func() {
		if err := auditLog.Close(); err != nil {
			slog.Warn("error closing audit logger", "error", err)
		}
	}()

	engine := policy.NewEngine(backend, policy.WithCache(effective), policy.WithAuditLogger(auditLog))

	var middleware []func(http.Handler) http.Handler
	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		checks := []observability.ReadinessCheck{{Name: "database", Check: backend.Ping}}
		if invalidator != nil {
			checks = append(checks, observability.ReadinessCheck{Name: "invalidation", Check: func(context.Context) error {
				if !invalidator.Ready() {
					return errors.New("listener not connected")
				}
				return nil
			}})
		}
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, checks...)
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return oops.Code("SERVE_FAILED").With("operation", "start observability server").Wrap(err)
		}
		wg.Go(func() { monitorServerErrors(ctx, cancel, obsErrCh, "observability") })
		middleware = append(middleware, obsServer.Metrics().Middleware)
	}

	listener, err := deps.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		stopObservability(obsServer)
		return oops.Code("SERVE_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	httpSrv := &http.Server{
		Handler:           api.NewHandler(engine).Router(middleware...),
		ReadHeaderTimeout: 10 * time.Second,
	}
	apiErrCh := make(chan error, 1)
	go func() {
		defer close(apiErrCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			apiErrCh <- serveErr
		}
	}()

	cmd.Println("Guildhall started")
	slog.Info("guildhall ready", "http_addr", listener.Addr().String())

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-apiErrCh:
		serveErr = oops.Code("SERVE_FAILED").With("server", "api").Wrap(err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("error stopping API server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}
	cancel()

	slog.Info("shutdown complete")
	return serveErr
}

// buildCache returns the configured effective-set cache, the invalidator
// that keeps it fresh (nil when caching is off), and a cleanup func.
func buildCache(cfg *config.Config, deps *ServeDeps) (cache.Cache, *cache.Invalidator, func()) {
	switch cfg.Cache.Backend {
	case config.CacheRedis:
		client := deps.RedisClientFactory(cfg.Redis)
		c := cache.NewRedisCache(client, cache.WithTTL(cfg.Cache.TTL))
		return c, cache.NewInvalidator(c, deps.ListenerFactory(cfg.Database.URL)), func() {
			if err := client.Close(); err != nil {
				slog.Warn("error closing redis client", "error", err)
			}
		}
	case config.CacheMemory:
		c := cache.NewMemoryCache()
		return c, cache.NewInvalidator(c, deps.ListenerFactory(cfg.Database.URL)), func() {}
	default:
		return cache.Nop{}, nil, func() {}
	}
}

func stopObservability(s ObservabilityServer) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		slog.Warn("failed to stop observability server during cleanup", "error", err)
	}
}

// monitorServerErrors cancels ctx when a server reports a failure. It
// returns when the channel closes or ctx ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
