// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

// Package audit records authorization decisions for "why was this denied"
// diagnostics.
//
// # Modes
//
//   - ModeMinimal: superuser bypasses and explicit denials
//   - ModeDenialsOnly: every denial, including DEFAULT_DENY, plus bypasses
//   - ModeAll: everything
//
// Denials and bypasses are written synchronously on the caller's goroutine.
// Allows (ModeAll only) go through a bounded channel drained by one consumer
// goroutine; when the channel is full the entry is dropped and
// guildhall_access_audit_dropped_total is incremented. Close drains the
// channel before closing the writer.
//
// Records are not persisted by this package. SlogWriter emits one structured
// log line per entry.
//
//	logger := audit.NewLogger(audit.ModeDenialsOnly, audit.NewSlogWriter(slog.Default()))
//	defer logger.Close()
package audit
