// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

// Package accesstest provides builders and doubles for tests that need
// loaded members.
package accesstest

import (
	"context"
	"strings"

	"github.com/stretchr/testify/mock"

	"github.com/guildhall/guildhall/internal/access"
)

// DefaultServer is the server ID builders use unless told otherwise.
const DefaultServer = "srv-1"

// MemberOption customizes a Member built by NewMember.
type MemberOption func(*access.Member)

// NewMember builds a GUEST member of DefaultServer.
func NewMember(id string, opts ...MemberOption) *access.Member {
	m := &access.Member{
		ID:         id,
		ServerID:   DefaultServer,
		UserID:     "user-" + id,
		LegacyRole: access.LegacyRoleGuest,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// InServer moves the member to serverID.
func InServer(serverID string) MemberOption {
	return func(m *access.Member) { m.ServerID = serverID }
}

// WithLegacyRole sets the legacy role tag.
func WithLegacyRole(r access.LegacyRole) MemberOption {
	return func(m *access.Member) { m.LegacyRole = r }
}

// Superuser tags the member with the superuser legacy role.
func Superuser() MemberOption {
	return WithLegacyRole(access.SuperuserTag)
}

// WithRoles assigns roles. Roles built with Role belong to DefaultServer;
// use RoleIn for others.
func WithRoles(roles ...access.Role) MemberOption {
	return func(m *access.Member) { m.Roles = append(m.Roles, roles...) }
}

// WithOverrides adds user overrides.
func WithOverrides(grants ...access.Grant) MemberOption {
	return func(m *access.Member) { m.Overrides = append(m.Overrides, grants...) }
}

// Role builds a role in DefaultServer named after its ID.
func Role(id string, position int, grants ...access.Grant) access.Role {
	return RoleIn(DefaultServer, id, position, grants...)
}

// RoleIn builds a role in serverID named after its ID.
func RoleIn(serverID, id string, position int, grants ...access.Grant) access.Role {
	return access.Role{
		ID:       id,
		ServerID: serverID,
		Name:     id,
		Position: position,
		Grants:   grants,
	}
}

// Allow builds a SERVER scope ALLOW grant.
func Allow(c access.Capability) access.Grant {
	return grant(c, access.EffectAllow, access.ScopeServer, "")
}

// Deny builds a SERVER scope DENY grant.
func Deny(c access.Capability) access.Grant {
	return grant(c, access.EffectDeny, access.ScopeServer, "")
}

// AllowIn builds an ALLOW grant narrowed to scope and target.
func AllowIn(c access.Capability, scope access.Scope, targetID string) access.Grant {
	return grant(c, access.EffectAllow, scope, targetID)
}

// DenyIn builds a DENY grant narrowed to scope and target.
func DenyIn(c access.Capability, scope access.Scope, targetID string) access.Grant {
	return grant(c, access.EffectDeny, scope, targetID)
}

func grant(c access.Capability, effect access.Effect, scope access.Scope, targetID string) access.Grant {
	g := access.Grant{Capability: c, Effect: effect, Scope: scope, TargetID: targetID}
	g.ID = strings.ToLower(string(effect)) + ":" + g.Key().String()
	return g
}

// MockLoader is a testify mock for the member loader contract.
type MockLoader struct {
	mock.Mock
}

// LoadMember records the call and returns the configured member and error.
func (m *MockLoader) LoadMember(ctx context.Context, memberID string) (*access.Member, error) {
	args := m.Called(ctx, memberID)
	member, _ := args.Get(0).(*access.Member)
	return member, args.Error(1)
}
