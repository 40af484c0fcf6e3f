// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/guildhall/guildhall/internal/access/store"
	"github.com/guildhall/guildhall/pkg/errutil"
)

const problemTypeBase = "https://guildhall.dev/problems/"

// Problem is an RFC 7807 problem details body.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	Code   string `json:"code,omitempty"`
}

// statusFor maps an error code to an HTTP status.
func statusFor(err error, code string) int {
	switch {
	case errors.Is(err, store.ErrNotFound), strings.HasSuffix(code, "_NOT_FOUND"):
		return http.StatusNotFound
	case strings.HasPrefix(code, "INVALID_"), code == "VALIDATION_FAILED":
		return http.StatusBadRequest
	case code == "PERMISSION_DENIED":
		return http.StatusForbidden
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), code == "CANCELLED":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeProblem(w http.ResponseWriter, r *http.Request, err error) {
	code := errutil.ErrorCode(err)
	status := statusFor(err, code)

	p := Problem{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Code:   code,
	}
	if code != "" {
		p.Type = problemTypeBase + strings.ToLower(strings.ReplaceAll(code, "_", "-"))
	}
	if status < http.StatusInternalServerError {
		p.Detail = err.Error()
	} else {
		errutil.LogErrorContext(r.Context(), slog.Default(), "request failed", err)
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(p) //nolint:errcheck // client went away
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}
