// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

// Package policy is the authorization service callers use. Engine loads
// members from the grant store, runs the pure resolver in package access,
// and adds caching, auditing, metrics, and tracing around it.
package policy

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/guildhall/guildhall/internal/access"
	"github.com/guildhall/guildhall/internal/access/audit"
	"github.com/guildhall/guildhall/internal/access/cache"
	"github.com/guildhall/guildhall/internal/access/store"
)

var tracer = otel.Tracer("guildhall/access")

// Option configures an Engine.
type Option func(*Engine)

// WithCache enables effective-set caching.
func WithCache(c cache.Cache) Option {
	return func(e *Engine) {
		if c != nil {
			e.cache = c
		}
	}
}

// WithAuditLogger records decisions through l.
func WithAuditLogger(l *audit.Logger) Option {
	return func(e *Engine) { e.audit = l }
}

// Engine answers authorization questions for loaded members. It holds no
// per-request state and is safe for concurrent use.
type Engine struct {
	members store.MemberLoader
	cache   cache.Cache
	audit   *audit.Logger
}

// NewEngine creates an Engine reading members from loader. Without options
// it neither caches nor audits.
func NewEngine(loader store.MemberLoader, opts ...Option) *Engine {
	e := &Engine{members: loader, cache: cache.Nop{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve decides req. A member that does not exist is denied with
// DEFAULT_DENY and no error. Any other load failure also yields DEFAULT_DENY,
// together with the error.
func (e *Engine) Resolve(ctx context.Context, req Request) (res access.Result, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "access.resolve", trace.WithAttributes(
		attribute.String("access.member_id", req.MemberID),
		attribute.String("access.capability", string(req.Query.Capability)),
	))
	defer func() {
		span.SetAttributes(
			attribute.Bool("access.granted", res.Granted),
			attribute.String("access.reason", res.Reason.String()),
		)
		endSpan(span, err)
	}()

	if err := ctx.Err(); err != nil {
		return access.DefaultDeny(), oops.In("policy").Code("CANCELLED").Wrap(err)
	}
	if err := req.Validate(); err != nil {
		return access.DefaultDeny(), err
	}

	m, err := e.load(ctx, req.MemberID)
	if err != nil {
		return access.DefaultDeny(), err
	}
	if m == nil {
		m = &access.Member{ID: req.MemberID}
		res = access.DefaultDeny()
	} else {
		res = access.Resolve(m, req.Query)
	}

	elapsed := time.Since(start)
	recordResolve(elapsed, res)
	e.log(ctx, audit.FromResult(m, req.Query, res, elapsed))
	return res, nil
}

// Require returns nil when req is granted and a PERMISSION_DENIED error
// otherwise. The error context carries the reason and source.
func (e *Engine) Require(ctx context.Context, req Request) error {
	res, err := e.Resolve(ctx, req)
	if err != nil {
		return err
	}
	if res.Granted {
		return nil
	}
	return oops.In("policy").
		Code("PERMISSION_DENIED").
		With("member_id", req.MemberID).
		With("capability", string(req.Query.Capability)).
		With("reason", res.Reason.String()).
		With("source_id", res.SourceID).
		Errorf("missing capability %s", req.Query.Capability)
}

// EffectiveCapabilities returns the member's capability set for one scope,
// consulting the cache first. Cache failures are logged and bypassed. An
// unknown member holds nothing.
func (e *Engine) EffectiveCapabilities(ctx context.Context, memberID string, scope access.Scope, targetID string) (set access.CapabilitySet, err error) {
	if scope == "" {
		scope = access.ScopeServer
	}
	ctx, span := tracer.Start(ctx, "access.effective_capabilities", trace.WithAttributes(
		attribute.String("access.member_id", memberID),
		attribute.String("access.scope", string(scope)),
	))
	defer func() { endSpan(span, err) }()

	if memberID == "" {
		return access.CapabilitySet{}, oops.In("policy").Code("INVALID_REQUEST").Errorf("member id is required")
	}
	if err := access.ValidateTarget(scope, targetID); err != nil {
		return access.CapabilitySet{}, err
	}

	key := cache.Key{MemberID: memberID, Scope: scope, TargetID: targetID}
	if cached, ok, cerr := e.cache.Get(ctx, key); cerr != nil {
		slog.WarnContext(ctx, "effective-set cache read failed", "member_id", memberID, "error", cerr)
	} else if ok {
		span.SetAttributes(attribute.Bool("access.cache_hit", true))
		return cached, nil
	}

	// The epoch must be read before the load so a write landing in between
	// keeps the set out of the cache.
	epoch, eerr := e.cache.Epoch(ctx)
	if eerr != nil {
		slog.WarnContext(ctx, "effective-set cache epoch read failed", "member_id", memberID, "error", eerr)
	}

	m, err := e.load(ctx, memberID)
	if err != nil {
		return access.CapabilitySet{}, err
	}
	if m == nil {
		return access.NewCapabilitySet(), nil
	}

	set = access.EffectiveCapabilities(m, scope, targetID)
	if eerr != nil {
		return set, nil
	}
	deps := cache.DependenciesOf(m)
	deps.Epoch = epoch
	if perr := e.cache.Put(ctx, key, set, deps); perr != nil {
		slog.WarnContext(ctx, "effective-set cache write failed", "member_id", memberID, "error", perr)
	}
	return set, nil
}

// CanManage decides whether actorID may take action against targetID. An
// unknown actor or target is refused with UNKNOWN_MEMBER.
func (e *Engine) CanManage(ctx context.Context, actorID, targetID string, action access.ModerationAction) (d access.ManageDecision, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "access.can_manage", trace.WithAttributes(
		attribute.String("access.actor_id", actorID),
		attribute.String("access.target_member_id", targetID),
		attribute.String("access.action", string(action)),
	))
	defer func() {
		span.SetAttributes(attribute.Bool("access.allowed", d.Allowed))
		endSpan(span, err)
	}()

	if actorID == "" || targetID == "" {
		return access.ManageDecision{}, oops.In("policy").Code("INVALID_REQUEST").
			Errorf("actor and target ids are required")
	}
	if _, ok := action.Capability(); !ok {
		return access.ManageDecision{}, oops.In("policy").Code("INVALID_ACTION").
			With("action", string(action)).Errorf("unknown moderation action %q", action)
	}

	actor, err := e.load(ctx, actorID)
	if err != nil {
		return access.ManageDecision{}, err
	}
	target, err := e.load(ctx, targetID)
	if err != nil {
		return access.ManageDecision{}, err
	}

	if actor == nil || target == nil {
		d = access.ManageDecision{Reason: access.ManageUnknownMember}
		if actor == nil {
			actor = &access.Member{ID: actorID}
		}
		if target == nil {
			target = &access.Member{ID: targetID}
		}
	} else {
		d = access.CheckManage(access.NewEvaluator(actor), access.NewEvaluator(target), action)
	}

	recordManage(d)
	e.log(ctx, audit.FromManage(actor, target, action, d, time.Since(start)))
	return d, nil
}

// Explain resolves req and reports every rule that matched it. Unlike
// Resolve, an unknown member is an error: there is nothing to explain.
func (e *Engine) Explain(ctx context.Context, req Request) (ex access.Explanation, err error) {
	ctx, span := tracer.Start(ctx, "access.explain", trace.WithAttributes(
		attribute.String("access.member_id", req.MemberID),
		attribute.String("access.capability", string(req.Query.Capability)),
	))
	defer func() { endSpan(span, err) }()

	if err := req.Validate(); err != nil {
		return access.Explanation{}, err
	}
	m, err := e.members.LoadMember(ctx, req.MemberID)
	if err != nil {
		return access.Explanation{}, oops.In("policy").With("member_id", req.MemberID).Wrap(err)
	}
	return access.NewEvaluator(m).Explain(req.Query), nil
}

// load returns the member, or nil with no error when it does not exist.
func (e *Engine) load(ctx context.Context, memberID string) (*access.Member, error) {
	m, err := e.members.LoadMember(ctx, memberID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		loadFailures.Inc()
		return nil, oops.In("policy").Code("MEMBER_LOAD_FAILED").With("member_id", memberID).Wrap(err)
	}
	return m, nil
}

func (e *Engine) log(ctx context.Context, entry audit.Entry) {
	if e.audit != nil {
		e.audit.Log(ctx, entry)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
