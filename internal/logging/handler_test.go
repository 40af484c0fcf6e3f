// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/guildhall/guildhall/internal/access"
	"github.com/guildhall/guildhall/pkg/errutil"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "not JSON: %s", buf.String())
	return entry
}

func TestSetup_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("guildhall", "1.0.0", "json", slog.LevelInfo, &buf)

	logger.Info("resolved")

	entry := decode(t, &buf)
	assert.Equal(t, "resolved", entry["msg"])
	assert.Equal(t, "guildhall", entry["service"])
	assert.Equal(t, "1.0.0", entry["version"])
	assert.Contains(t, entry, "time")
	assert.NotContains(t, entry, "actor_id")
	assert.NotContains(t, entry, "trace_id")
}

func TestSetup_TextAndDefaultFormat(t *testing.T) {
	var buf bytes.Buffer
	Setup("guildhall", "1.0.0", "text", nil, &buf).Info("text line")
	assert.Contains(t, buf.String(), "service=guildhall")

	buf.Reset()
	Setup("guildhall", "1.0.0", "", nil, &buf).Info("json line")
	decode(t, &buf)
}

func TestHandler_TraceAndActor(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("guildhall", "dev", "json", nil, &buf)

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))
	ctx = access.WithActor(ctx, "m-42")

	logger.With("component", "api").InfoContext(ctx, "checked")

	entry := decode(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
	assert.Equal(t, "m-42", entry["actor_id"])
	assert.Equal(t, "api", entry["component"])
}

func TestSetup_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("guildhall", "dev", "json", slog.LevelWarn, &buf)

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn("kept")
	assert.Equal(t, "kept", decode(t, &buf)["msg"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("trace")
	errutil.AssertErrorCode(t, err, "INVALID_LOG_LEVEL")
}

func TestSetDefault(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	logger := SetDefault("guildhall", "2.0.0", "json", slog.LevelDebug)
	assert.Same(t, logger, slog.Default())
}
