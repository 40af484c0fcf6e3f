// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

// Package store loads member aggregates for the resolver and owns the write
// paths for roles, grants, assignments, and overrides.
//
// Every write reports which cached decisions it invalidates: the PostgreSQL
// implementation through pg_notify on NotifyChannel inside the write
// transaction, the in-memory implementation through a synchronous
// InvalidationSink.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/guildhall/guildhall/internal/access"
)

// ErrNotFound is returned when a member, role, or grant does not exist.
var ErrNotFound = errors.New("not found")

// NotifyChannel is the PostgreSQL LISTEN/NOTIFY channel carrying
// invalidation payloads.
const NotifyChannel = "access_changed"

// MemberLoader is the read contract the resolver depends on.
type MemberLoader interface {
	// LoadMember returns the member with its legacy role, assigned roles
	// (each with grants), and user overrides. Returns an error wrapping
	// ErrNotFound when the member does not exist.
	LoadMember(ctx context.Context, memberID string) (*access.Member, error)
}

// MemberWriter owns the mutations that change authorization outcomes.
// Grant writes are upserts keyed by (capability, scope, target).
type MemberWriter interface {
	CreateServer(ctx context.Context, server *Server) error
	DeleteServer(ctx context.Context, serverID string) error
	AddMember(ctx context.Context, member *access.Member) error
	RemoveMember(ctx context.Context, memberID string) error
	SetLegacyRole(ctx context.Context, memberID string, role access.LegacyRole) error

	CreateRole(ctx context.Context, role *access.Role) error
	UpdateRole(ctx context.Context, role *access.Role) error
	DeleteRole(ctx context.Context, roleID string) error
	SetRoleGrant(ctx context.Context, roleID string, grant *access.Grant) error
	RemoveRoleGrant(ctx context.Context, roleID string, key access.GrantKey) error

	AssignRole(ctx context.Context, memberID, roleID string) error
	UnassignRole(ctx context.Context, memberID, roleID string) error

	SetOverride(ctx context.Context, memberID string, grant *access.Grant) error
	RemoveOverride(ctx context.Context, memberID string, key access.GrantKey) error
}

// RoleLister lists a server's roles with their grants, highest position
// first.
type RoleLister interface {
	ServerRoles(ctx context.Context, serverID string) ([]access.Role, error)
}

// Store combines the read and write contracts.
type Store interface {
	MemberLoader
	MemberWriter
	RoleLister
}

// Server is the tenant that owns members and roles.
type Server struct {
	ID          string
	Name        string
	OwnerUserID string
	CreatedAt   time.Time
}

// InvalidationKind names what an invalidation covers.
type InvalidationKind string

// InvalidationKind constants.
const (
	InvalidateMember InvalidationKind = "member"
	InvalidateRole   InvalidationKind = "role"
	InvalidateServer InvalidationKind = "server"
)

// Invalidation identifies cached decisions made stale by a write.
// A role invalidation covers every member holding the role.
type Invalidation struct {
	Kind InvalidationKind
	ID   string
}

// MemberChanged builds a member invalidation.
func MemberChanged(id string) Invalidation { return Invalidation{Kind: InvalidateMember, ID: id} }

// RoleChanged builds a role invalidation.
func RoleChanged(id string) Invalidation { return Invalidation{Kind: InvalidateRole, ID: id} }

// ServerChanged builds a server invalidation.
func ServerChanged(id string) Invalidation { return Invalidation{Kind: InvalidateServer, ID: id} }

// Payload encodes the invalidation as "<kind>:<id>".
func (i Invalidation) Payload() string {
	return string(i.Kind) + ":" + i.ID
}

// ParseInvalidation decodes a "<kind>:<id>" payload.
func ParseInvalidation(payload string) (Invalidation, error) {
	kind, id, ok := strings.Cut(payload, ":")
	if !ok || id == "" {
		return Invalidation{}, oops.In("store").
			Code("INVALID_INVALIDATION").
			With("payload", payload).
			Errorf("invalidation payload must be '<kind>:<id>'")
	}
	inv := Invalidation{Kind: InvalidationKind(kind), ID: id}
	switch inv.Kind {
	case InvalidateMember, InvalidateRole, InvalidateServer:
		return inv, nil
	default:
		return Invalidation{}, oops.In("store").
			Code("INVALID_INVALIDATION").
			With("payload", payload).
			Errorf("unknown invalidation kind %q", kind)
	}
}

// InvalidationSink receives invalidations synchronously from write paths.
type InvalidationSink interface {
	Invalidate(ctx context.Context, inv Invalidation) error
}

func notFound(code, field, id string) error {
	return oops.In("store").Code(code).With(field, id).Wrap(ErrNotFound)
}
