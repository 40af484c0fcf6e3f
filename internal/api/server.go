// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

// Package api exposes the authorization engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"

	"github.com/guildhall/guildhall/internal/access"
	"github.com/guildhall/guildhall/internal/access/policy"
)

// ActorHeader carries the calling member's ID.
const ActorHeader = "X-Guildhall-Member"

const maxBodyBytes = 1 << 20

// Authorizer is the engine surface the API serves.
type Authorizer interface {
	Resolve(ctx context.Context, req policy.Request) (access.Result, error)
	Explain(ctx context.Context, req policy.Request) (access.Explanation, error)
	EffectiveCapabilities(ctx context.Context, memberID string, scope access.Scope, targetID string) (access.CapabilitySet, error)
	CanManage(ctx context.Context, actorID, targetID string, action access.ModerationAction) (access.ManageDecision, error)
}

// Handler serves the /v1 API.
type Handler struct {
	engine    Authorizer
	validator *validator.Validate
}

// NewHandler creates a Handler.
func NewHandler(engine Authorizer) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{engine: engine, validator: v}
}

// Router returns the full HTTP handler. extra middleware runs first, ahead
// of request IDs, panic recovery, and logging.
func (h *Handler) Router(extra ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(extra...)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(actorFromHeader)
	r.Route("/v1", h.MountRoutes)
	return r
}

// MountRoutes registers the API routes on r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/members/{memberID}", func(r chi.Router) {
		r.Get("/permissions/{capability}", h.resolve)
		r.Get("/permissions/{capability}/explain", h.explain)
		r.Get("/capabilities", h.capabilities)
	})
	r.Post("/moderation/check", h.checkManage)
}

func actorFromHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(ActorHeader)); id != "" {
			r = r.WithContext(access.WithActor(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.DebugContext(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type decisionResponse struct {
	MemberID   string            `json:"member_id"`
	Capability access.Capability `json:"capability"`
	Scope      access.Scope      `json:"scope"`
	TargetID   string            `json:"target_id,omitempty"`
	access.Result
}

func (h *Handler) parseRequest(r *http.Request) (policy.Request, error) {
	q := r.URL.Query()
	return policy.ParseRequest(
		chi.URLParam(r, "memberID"),
		chi.URLParam(r, "capability"),
		q.Get("scope"),
		q.Get("target"),
	)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseRequest(r)
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	res, err := h.engine.Resolve(r.Context(), req)
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decisionResponse{
		MemberID:   req.MemberID,
		Capability: req.Query.Capability,
		Scope:      req.Query.Scope,
		TargetID:   req.Query.TargetID,
		Result:     res,
	})
}

func (h *Handler) explain(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseRequest(r)
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	ex, err := h.engine.Explain(r.Context(), req)
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

type capabilitiesResponse struct {
	MemberID     string       `json:"member_id"`
	Scope        access.Scope `json:"scope"`
	TargetID     string       `json:"target_id,omitempty"`
	Capabilities []string     `json:"capabilities"`
}

// capabilities serves the effective set. The optional filter parameter is a
// glob over capability names, e.g. MANAGE_*.
func (h *Handler) capabilities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	memberID := chi.URLParam(r, "memberID")
	scope, err := access.ParseScope(q.Get("scope"))
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	target := strings.TrimSpace(q.Get("target"))

	var allowed access.CapabilitySet
	filter := q.Get("filter")
	if filter != "" {
		matched, err := access.MatchCapabilities(filter)
		if err != nil {
			writeProblem(w, r, err)
			return
		}
		allowed = access.NewCapabilitySet(matched...)
	}

	set, err := h.engine.EffectiveCapabilities(r.Context(), memberID, scope, target)
	if err != nil {
		writeProblem(w, r, err)
		return
	}

	names := make([]string, 0, set.Len())
	for _, c := range set.Slice() {
		if filter == "" || allowed.Has(c) {
			names = append(names, string(c))
		}
	}
	writeJSON(w, http.StatusOK, capabilitiesResponse{
		MemberID:     memberID,
		Scope:        scope,
		TargetID:     target,
		Capabilities: names,
	})
}

type manageRequest struct {
	ActorID  string `json:"actor_id" validate:"omitempty,max=128"`
	TargetID string `json:"target_id" validate:"required,max=128"`
	Action   string `json:"action" validate:"required,max=32"`
}

type manageResponse struct {
	ActorID  string                  `json:"actor_id"`
	TargetID string                  `json:"target_id"`
	Action   access.ModerationAction `json:"action"`
	access.ManageDecision
}

// checkManage answers a hierarchy question. actor_id defaults to the member
// named in the actor header.
func (h *Handler) checkManage(w http.ResponseWriter, r *http.Request) {
	var body manageRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeProblem(w, r, oops.In("api").Code("INVALID_BODY").Wrap(err))
		return
	}
	if err := h.validator.Struct(body); err != nil {
		writeProblem(w, r, validationProblem(err))
		return
	}
	if body.ActorID == "" {
		actor, ok := access.ActorFromContext(r.Context())
		if !ok {
			writeProblem(w, r, oops.In("api").Code("INVALID_REQUEST").
				Errorf("actor_id is required when no %s header is sent", ActorHeader))
			return
		}
		body.ActorID = actor
	}
	action, err := access.ParseModerationAction(body.Action)
	if err != nil {
		writeProblem(w, r, err)
		return
	}

	d, err := h.engine.CanManage(r.Context(), body.ActorID, body.TargetID, action)
	if err != nil {
		writeProblem(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, manageResponse{
		ActorID:        body.ActorID,
		TargetID:       body.TargetID,
		Action:         action,
		ManageDecision: d,
	})
}

func validationProblem(err error) error {
	var fields []string
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			fields = append(fields, fe.Field()+" failed "+fe.Tag())
		}
	}
	return oops.In("api").Code("VALIDATION_FAILED").
		With("fields", fields).
		Errorf("invalid request body: %s", strings.Join(fields, "; "))
}
