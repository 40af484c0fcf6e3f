// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func started(t *testing.T, checks ...ReadinessCheck) *Server {
	t.Helper()
	server := NewServer("127.0.0.1:0", checks...)
	_, err := server.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})
	return server
}

func get(t *testing.T, server *Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get("http://" + server.Addr() + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_MetricsExposesDefaultAndOwnRegistry(t *testing.T) {
	server := started(t)
	server.Metrics().RequestsTotal.WithLabelValues("/members/{memberID}/capabilities", "GET", "200").Inc()

	status, body := get(t, server, "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "go_goroutines")
	assert.Contains(t, body, "guildhall_http_requests_total")
}

func TestServer_Liveness(t *testing.T) {
	server := started(t, ReadinessCheck{Name: "db", Check: func(context.Context) error {
		return errors.New("down")
	}})

	status, body := get(t, server, "/healthz/liveness")
	assert.Equal(t, http.StatusOK, status, "liveness ignores readiness checks")
	assert.Equal(t, "ok", strings.TrimSpace(body))
}

func TestServer_Readiness(t *testing.T) {
	ok := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("unavailable") }

	tests := []struct {
		name   string
		checks []ReadinessCheck
		status int
		body   string
	}{
		{"no checks", nil, http.StatusOK, "ok"},
		{"all passing", []ReadinessCheck{{"database", ok}, {"invalidator", ok}}, http.StatusOK, "ok"},
		{"one failing", []ReadinessCheck{{"database", ok}, {"invalidator", fail}}, http.StatusServiceUnavailable, "not ready: invalidator"},
		{"both failing", []ReadinessCheck{{"database", fail}, {"invalidator", fail}}, http.StatusServiceUnavailable, "not ready: database, invalidator"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := started(t, tt.checks...)
			status, body := get(t, server, "/healthz/readiness")
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.body, strings.TrimSpace(body))
		})
	}
}

func TestServer_StartStop(t *testing.T) {
	server := NewServer("127.0.0.1:0")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx), "stop before start is a no-op")

	errCh, err := server.Start()
	require.NoError(t, err)

	_, err = server.Start()
	require.Error(t, err, "double start")

	require.NoError(t, server.Stop(ctx))
	select {
	case err, open := <-errCh:
		assert.False(t, open && err != nil, "unexpected serve error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("error channel not closed after stop")
	}
}

func TestServer_ErrorChannelReportsServeFailure(t *testing.T) {
	server := NewServer("127.0.0.1:0")
	errCh, err := server.Start()
	require.NoError(t, err)
	require.NoError(t, server.listener.Close())

	select {
	case serveErr := <-errCh:
		assert.Error(t, serveErr)
	case <-time.After(2 * time.Second):
		t.Fatal("serve failure not reported")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Stop(ctx)
}

func TestMetrics_MiddlewareLabelsByRoutePattern(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/members/{memberID}/capabilities", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/ok", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("fine"))
	})

	for _, path := range []string{"/members/m1/capabilities", "/members/m2/capabilities", "/ok", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.InDelta(t, 2, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/members/{memberID}/capabilities", "GET", "204")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/ok", "GET", "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("unmatched", "GET", "404")), 0)
}
