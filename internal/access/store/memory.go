// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/guildhall/guildhall/internal/access"
)

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithInvalidationSink sends every write's invalidation to sink after the
// write is applied.
func WithInvalidationSink(sink InvalidationSink) MemoryOption {
	return func(s *MemoryStore) {
		s.sinks = append(s.sinks, sink)
	}
}

type memberRow struct {
	id, serverID, userID string
	legacy               access.LegacyRole
	createdAt            time.Time
}

type roleRow struct {
	role   access.Role
	grants map[access.GrantKey]access.Grant
}

// MemoryStore is an in-process Store for tests, the explain command, and
// single-node deployments without PostgreSQL.
type MemoryStore struct {
	mu          sync.RWMutex
	servers     map[string]Server
	members     map[string]*memberRow
	roles       map[string]*roleRow
	assignments map[string]map[string]struct{}
	overrides   map[string]map[access.GrantKey]access.Grant

	sinks []InvalidationSink
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		servers:     make(map[string]Server),
		members:     make(map[string]*memberRow),
		roles:       make(map[string]*roleRow),
		assignments: make(map[string]map[string]struct{}),
		overrides:   make(map[string]map[access.GrantKey]access.Grant),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) notify(ctx context.Context, inv Invalidation) error {
	for _, sink := range s.sinks {
		if err := sink.Invalidate(ctx, inv); err != nil {
			slog.WarnContext(ctx, "invalidation sink failed",
				"kind", string(inv.Kind), "id", inv.ID, "error", err)
			return oops.In("store").Code("INVALIDATION_FAILED").With("payload", inv.Payload()).Wrap(err)
		}
	}
	return nil
}

// LoadMember returns a deep copy of the member aggregate.
func (s *MemoryStore) LoadMember(_ context.Context, memberID string) (*access.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.members[memberID]
	if !ok {
		return nil, notFound("MEMBER_NOT_FOUND", "member_id", memberID)
	}
	m := &access.Member{
		ID:         row.id,
		ServerID:   row.serverID,
		UserID:     row.userID,
		LegacyRole: row.legacy,
		CreatedAt:  row.createdAt,
	}
	for roleID := range s.assignments[memberID] {
		if rr, ok := s.roles[roleID]; ok {
			m.Roles = append(m.Roles, rr.snapshot())
		}
	}
	access.SortRoles(m.Roles)
	m.Overrides = sortedGrants(s.overrides[memberID])
	return m, nil
}

func (r *roleRow) snapshot() access.Role {
	out := r.role
	out.Grants = sortedGrants(r.grants)
	return out
}

func sortedGrants(set map[access.GrantKey]access.Grant) []access.Grant {
	if len(set) == 0 {
		return nil
	}
	out := make([]access.Grant, 0, len(set))
	for _, g := range set {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateServer registers a server.
func (s *MemoryStore) CreateServer(_ context.Context, server *Server) error {
	if server.ID == "" {
		server.ID = ulid.Make().String()
	}
	if server.CreatedAt.IsZero() {
		server.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.servers[server.ID]; ok {
		return oops.In("store").Code("SERVER_EXISTS").With("server_id", server.ID).Errorf("server already exists")
	}
	s.servers[server.ID] = *server
	return nil
}

// DeleteServer removes a server with its members and roles.
func (s *MemoryStore) DeleteServer(ctx context.Context, serverID string) error {
	s.mu.Lock()
	if _, ok := s.servers[serverID]; !ok {
		s.mu.Unlock()
		return notFound("SERVER_NOT_FOUND", "server_id", serverID)
	}
	delete(s.servers, serverID)
	for id, m := range s.members {
		if m.serverID == serverID {
			delete(s.members, id)
			delete(s.assignments, id)
			delete(s.overrides, id)
		}
	}
	for id, r := range s.roles {
		if r.role.ServerID == serverID {
			delete(s.roles, id)
		}
	}
	s.mu.Unlock()
	return s.notify(ctx, ServerChanged(serverID))
}

// AddMember inserts the member row. Roles and overrides on the argument are
// ignored.
func (s *MemoryStore) AddMember(ctx context.Context, member *access.Member) error {
	if !member.LegacyRole.Valid() {
		return oops.In("store").Code("INVALID_LEGACY_ROLE").
			With("legacy_role", member.LegacyRole).Errorf("unknown legacy role %q", member.LegacyRole)
	}
	if member.ID == "" {
		member.ID = ulid.Make().String()
	}
	if member.CreatedAt.IsZero() {
		member.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	if _, ok := s.servers[member.ServerID]; !ok {
		s.mu.Unlock()
		return notFound("SERVER_NOT_FOUND", "server_id", member.ServerID)
	}
	if _, ok := s.members[member.ID]; ok {
		s.mu.Unlock()
		return oops.In("store").Code("MEMBER_EXISTS").With("member_id", member.ID).Errorf("member already exists")
	}
	for _, m := range s.members {
		if m.serverID == member.ServerID && m.userID == member.UserID {
			s.mu.Unlock()
			return oops.In("store").Code("MEMBER_EXISTS").
				With("server_id", member.ServerID).With("user_id", member.UserID).
				Errorf("user is already a member of the server")
		}
	}
	s.members[member.ID] = &memberRow{
		id:        member.ID,
		serverID:  member.ServerID,
		userID:    member.UserID,
		legacy:    member.LegacyRole,
		createdAt: member.CreatedAt,
	}
	s.mu.Unlock()
	return s.notify(ctx, MemberChanged(member.ID))
}

// RemoveMember deletes the member with its assignments and overrides.
func (s *MemoryStore) RemoveMember(ctx context.Context, memberID string) error {
	s.mu.Lock()
	if _, ok := s.members[memberID]; !ok {
		s.mu.Unlock()
		return notFound("MEMBER_NOT_FOUND", "member_id", memberID)
	}
	delete(s.members, memberID)
	delete(s.assignments, memberID)
	delete(s.overrides, memberID)
	s.mu.Unlock()
	return s.notify(ctx, MemberChanged(memberID))
}

// SetLegacyRole replaces the member's legacy role tag.
func (s *MemoryStore) SetLegacyRole(ctx context.Context, memberID string, role access.LegacyRole) error {
	if !role.Valid() {
		return oops.In("store").Code("INVALID_LEGACY_ROLE").
			With("legacy_role", role).Errorf("unknown legacy role %q", role)
	}
	s.mu.Lock()
	m, ok := s.members[memberID]
	if !ok {
		s.mu.Unlock()
		return notFound("MEMBER_NOT_FOUND", "member_id", memberID)
	}
	m.legacy = role
	s.mu.Unlock()
	return s.notify(ctx, MemberChanged(memberID))
}

// CreateRole inserts a role with its grants.
func (s *MemoryStore) CreateRole(ctx context.Context, role *access.Role) error {
	if role.ID == "" {
		role.ID = ulid.Make().String()
	}
	probe := access.Member{ID: "-", ServerID: role.ServerID, LegacyRole: access.LegacyRoleGuest, Roles: []access.Role{*role}}
	if err := probe.Validate(); err != nil {
		return oops.In("store").Code("ROLE_INVALID").With("role_id", role.ID).Wrap(err)
	}

	s.mu.Lock()
	if _, ok := s.servers[role.ServerID]; !ok {
		s.mu.Unlock()
		return notFound("SERVER_NOT_FOUND", "server_id", role.ServerID)
	}
	if _, ok := s.roles[role.ID]; ok {
		s.mu.Unlock()
		return oops.In("store").Code("ROLE_EXISTS").With("role_id", role.ID).Errorf("role already exists")
	}
	row := &roleRow{role: *role, grants: make(map[access.GrantKey]access.Grant, len(role.Grants))}
	row.role.Grants = nil
	for i := range role.Grants {
		if role.Grants[i].ID == "" {
			role.Grants[i].ID = ulid.Make().String()
		}
		row.grants[role.Grants[i].Key()] = role.Grants[i]
	}
	s.roles[role.ID] = row
	s.mu.Unlock()
	return s.notify(ctx, RoleChanged(role.ID))
}

// UpdateRole rewrites the role's metadata and position. Grants are left as
// they are.
func (s *MemoryStore) UpdateRole(ctx context.Context, role *access.Role) error {
	s.mu.Lock()
	row, ok := s.roles[role.ID]
	if !ok {
		s.mu.Unlock()
		return notFound("ROLE_NOT_FOUND", "role_id", role.ID)
	}
	row.role.Name = role.Name
	row.role.Color = role.Color
	row.role.Position = role.Position
	row.role.Hoist = role.Hoist
	row.role.Mentionable = role.Mentionable
	s.mu.Unlock()
	return s.notify(ctx, RoleChanged(role.ID))
}

// DeleteRole removes a role and detaches it from every member.
func (s *MemoryStore) DeleteRole(ctx context.Context, roleID string) error {
	s.mu.Lock()
	if _, ok := s.roles[roleID]; !ok {
		s.mu.Unlock()
		return notFound("ROLE_NOT_FOUND", "role_id", roleID)
	}
	delete(s.roles, roleID)
	for _, held := range s.assignments {
		delete(held, roleID)
	}
	s.mu.Unlock()
	return s.notify(ctx, RoleChanged(roleID))
}

// SetRoleGrant upserts a grant on the role, keeping the stored ID of an
// existing grant with the same key.
func (s *MemoryStore) SetRoleGrant(ctx context.Context, roleID string, grant *access.Grant) error {
	if err := grant.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	row, ok := s.roles[roleID]
	if !ok {
		s.mu.Unlock()
		return notFound("ROLE_NOT_FOUND", "role_id", roleID)
	}
	upsertGrant(row.grants, grant)
	s.mu.Unlock()
	return s.notify(ctx, RoleChanged(roleID))
}

func upsertGrant(set map[access.GrantKey]access.Grant, grant *access.Grant) {
	key := grant.Key()
	if existing, ok := set[key]; ok {
		grant.ID = existing.ID
	} else if grant.ID == "" {
		grant.ID = ulid.Make().String()
	}
	set[key] = *grant
}

// RemoveRoleGrant deletes the role's grant for key.
func (s *MemoryStore) RemoveRoleGrant(ctx context.Context, roleID string, key access.GrantKey) error {
	s.mu.Lock()
	row, ok := s.roles[roleID]
	if !ok {
		s.mu.Unlock()
		return notFound("ROLE_NOT_FOUND", "role_id", roleID)
	}
	if _, ok := row.grants[key]; !ok {
		s.mu.Unlock()
		return oops.In("store").Code("GRANT_NOT_FOUND").With("role_id", roleID).With("key", key.String()).Wrap(ErrNotFound)
	}
	delete(row.grants, key)
	s.mu.Unlock()
	return s.notify(ctx, RoleChanged(roleID))
}

// AssignRole attaches a role to a member of the same server.
func (s *MemoryStore) AssignRole(ctx context.Context, memberID, roleID string) error {
	s.mu.Lock()
	m, ok := s.members[memberID]
	if !ok {
		s.mu.Unlock()
		return notFound("MEMBER_NOT_FOUND", "member_id", memberID)
	}
	r, ok := s.roles[roleID]
	if !ok {
		s.mu.Unlock()
		return notFound("ROLE_NOT_FOUND", "role_id", roleID)
	}
	if m.serverID != r.role.ServerID {
		s.mu.Unlock()
		return crossServer(memberID, m.serverID, roleID, r.role.ServerID)
	}
	held := s.assignments[memberID]
	if held == nil {
		held = make(map[string]struct{})
		s.assignments[memberID] = held
	}
	held[roleID] = struct{}{}
	s.mu.Unlock()
	return s.notify(ctx, MemberChanged(memberID))
}

// UnassignRole detaches a role from a member.
func (s *MemoryStore) UnassignRole(ctx context.Context, memberID, roleID string) error {
	s.mu.Lock()
	if _, ok := s.assignments[memberID][roleID]; !ok {
		s.mu.Unlock()
		return oops.In("store").Code("ASSIGNMENT_NOT_FOUND").
			With("member_id", memberID).With("role_id", roleID).Wrap(ErrNotFound)
	}
	delete(s.assignments[memberID], roleID)
	s.mu.Unlock()
	return s.notify(ctx, MemberChanged(memberID))
}

// SetOverride upserts a user override on the member.
func (s *MemoryStore) SetOverride(ctx context.Context, memberID string, grant *access.Grant) error {
	if err := grant.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := s.members[memberID]; !ok {
		s.mu.Unlock()
		return notFound("MEMBER_NOT_FOUND", "member_id", memberID)
	}
	set := s.overrides[memberID]
	if set == nil {
		set = make(map[access.GrantKey]access.Grant)
		s.overrides[memberID] = set
	}
	upsertGrant(set, grant)
	s.mu.Unlock()
	return s.notify(ctx, MemberChanged(memberID))
}

// RemoveOverride deletes the member's override for key.
func (s *MemoryStore) RemoveOverride(ctx context.Context, memberID string, key access.GrantKey) error {
	s.mu.Lock()
	if _, ok := s.overrides[memberID][key]; !ok {
		s.mu.Unlock()
		return oops.In("store").Code("OVERRIDE_NOT_FOUND").
			With("member_id", memberID).With("key", key.String()).Wrap(ErrNotFound)
	}
	delete(s.overrides[memberID], key)
	s.mu.Unlock()
	return s.notify(ctx, MemberChanged(memberID))
}

// ServerRoles lists the server's roles, highest position first.
func (s *MemoryStore) ServerRoles(_ context.Context, serverID string) ([]access.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var roles []access.Role
	for _, r := range s.roles {
		if r.role.ServerID == serverID {
			roles = append(roles, r.snapshot())
		}
	}
	access.SortRoles(roles)
	return roles, nil
}

var _ Store = (*MemoryStore)(nil)
