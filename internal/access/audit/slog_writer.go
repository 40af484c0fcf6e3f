// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

package audit

import (
	"context"
	"log/slog"
)

// SlogWriter writes each entry as one structured log record.
type SlogWriter struct {
	logger *slog.Logger
}

// NewSlogWriter creates a SlogWriter. A nil logger uses slog.Default.
func NewSlogWriter(logger *slog.Logger) *SlogWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogWriter{logger: logger.With("component", "access_audit")}
}

func (w *SlogWriter) attrs(e Entry) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("operation", string(e.Operation)),
		slog.String("server_id", e.ServerID),
		slog.String("member_id", e.MemberID),
		slog.Bool("granted", e.Granted),
		slog.String("reason", e.Reason),
		slog.Int64("duration_us", e.DurationUS),
	}
	if e.Capability != "" {
		attrs = append(attrs, slog.String("capability", string(e.Capability)), slog.String("scope", string(e.Scope)))
	}
	if e.TargetID != "" {
		attrs = append(attrs, slog.String("target_id", e.TargetID))
	}
	if e.SourceID != "" {
		attrs = append(attrs, slog.String("source_kind", string(e.SourceKind)), slog.String("source_id", e.SourceID))
	}
	return attrs
}

func (w *SlogWriter) level(e Entry) slog.Level {
	if e.Granted {
		return slog.LevelInfo
	}
	return slog.LevelWarn
}

// WriteSync logs the entry with the caller's context so trace ids propagate.
func (w *SlogWriter) WriteSync(ctx context.Context, e Entry) error {
	w.logger.LogAttrs(ctx, w.level(e), "access decision", w.attrs(e)...)
	return nil
}

// WriteAsync logs the entry without a request context.
func (w *SlogWriter) WriteAsync(e Entry) error {
	w.logger.LogAttrs(context.Background(), w.level(e), "access decision", w.attrs(e)...)
	return nil
}

// Close is a no-op.
func (w *SlogWriter) Close() error { return nil }
