// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

// Package snapshot reads and writes YAML snapshots of one server's roles and
// members. Snapshots drive offline diagnostics (guildhall explain) and test
// fixtures. Files are checked against a generated JSON Schema before they
// are decoded.
package snapshot

import (
	"context"
	"slices"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/guildhall/guildhall/internal/access"
	"github.com/guildhall/guildhall/internal/access/store"
)

// Snapshot is one server's authorization state.
type Snapshot struct {
	Server  ServerDoc   `json:"server" yaml:"server"`
	Roles   []RoleDoc   `json:"roles,omitempty" yaml:"roles,omitempty"`
	Members []MemberDoc `json:"members" yaml:"members" jsonschema:"minItems=1"`
}

// ServerDoc identifies the server.
type ServerDoc struct {
	ID   string `json:"id" yaml:"id" jsonschema:"minLength=1"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// RoleDoc is a role and its grants.
type RoleDoc struct {
	ID       string     `json:"id" yaml:"id" jsonschema:"minLength=1"`
	Name     string     `json:"name,omitempty" yaml:"name,omitempty"`
	Position int        `json:"position" yaml:"position" jsonschema:"minimum=0"`
	Grants   []GrantDoc `json:"grants,omitempty" yaml:"grants,omitempty"`
}

// GrantDoc is a role grant or user override. Scope defaults to SERVER.
type GrantDoc struct {
	Capability string `json:"capability" yaml:"capability"`
	Effect     string `json:"effect" yaml:"effect" jsonschema:"enum=ALLOW,enum=DENY"`
	Scope      string `json:"scope,omitempty" yaml:"scope,omitempty" jsonschema:"enum=SERVER,enum=CATEGORY,enum=CHANNEL"`
	TargetID   string `json:"target_id,omitempty" yaml:"target_id,omitempty"`
}

// MemberDoc is a member with the IDs of its roles.
type MemberDoc struct {
	ID         string     `json:"id" yaml:"id" jsonschema:"minLength=1"`
	UserID     string     `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	LegacyRole string     `json:"legacy_role,omitempty" yaml:"legacy_role,omitempty" jsonschema:"enum=GUEST,enum=MODERATOR,enum=ADMIN"`
	Roles      []string   `json:"roles,omitempty" yaml:"roles,omitempty"`
	Overrides  []GrantDoc `json:"overrides,omitempty" yaml:"overrides,omitempty"`
}

// Parse validates data against the snapshot schema, decodes it, and checks
// that every member assembles into a valid aggregate.
func Parse(data []byte) (*Snapshot, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}
	var s Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, oops.In("snapshot").Code("SNAPSHOT_INVALID_YAML").Wrap(err)
	}
	for _, md := range s.Members {
		if _, err := s.Member(md.ID); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

// Load parses data and returns the member with memberID.
func Load(data []byte, memberID string) (*access.Member, error) {
	s, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return s.Member(memberID)
}

// Member assembles and validates the member with id.
func (s *Snapshot) Member(id string) (*access.Member, error) {
	i := slices.IndexFunc(s.Members, func(m MemberDoc) bool { return m.ID == id })
	if i < 0 {
		return nil, oops.In("snapshot").Code("MEMBER_NOT_FOUND").With("member_id", id).
			Wrapf(store.ErrNotFound, "member %q is not in the snapshot", id)
	}
	md := s.Members[i]

	m := &access.Member{
		ID:         md.ID,
		ServerID:   s.Server.ID,
		UserID:     md.UserID,
		LegacyRole: legacyRole(md.LegacyRole),
		Overrides:  grants(md.Overrides),
	}
	if m.UserID == "" {
		m.UserID = md.ID
	}
	for _, roleID := range md.Roles {
		rd, ok := s.role(roleID)
		if !ok {
			return nil, oops.In("snapshot").Code("UNKNOWN_ROLE").
				With("member_id", md.ID).With("role_id", roleID).
				Errorf("member %q references undefined role %q", md.ID, roleID)
		}
		m.Roles = append(m.Roles, s.toRole(rd))
	}
	access.SortRoles(m.Roles)

	if err := m.Validate(); err != nil {
		return nil, oops.In("snapshot").With("member_id", md.ID).Wrap(err)
	}
	return m, nil
}

func (s *Snapshot) role(id string) (RoleDoc, bool) {
	i := slices.IndexFunc(s.Roles, func(r RoleDoc) bool { return r.ID == id })
	if i < 0 {
		return RoleDoc{}, false
	}
	return s.Roles[i], true
}

func (s *Snapshot) toRole(rd RoleDoc) access.Role {
	name := rd.Name
	if name == "" {
		name = rd.ID
	}
	return access.Role{
		ID:       rd.ID,
		ServerID: s.Server.ID,
		Name:     name,
		Position: rd.Position,
		Grants:   grants(rd.Grants),
	}
}

func legacyRole(s string) access.LegacyRole {
	if s == "" {
		return access.LegacyRoleGuest
	}
	return access.LegacyRole(s)
}

func grants(docs []GrantDoc) []access.Grant {
	if len(docs) == 0 {
		return nil
	}
	out := make([]access.Grant, len(docs))
	for i, d := range docs {
		scope := access.Scope(d.Scope)
		if scope == "" {
			scope = access.ScopeServer
		}
		out[i] = access.Grant{
			Capability: access.Capability(d.Capability),
			Effect:     access.Effect(d.Effect),
			Scope:      scope,
			TargetID:   d.TargetID,
		}
	}
	return out
}

// Seed writes the snapshot into w: the server, then roles, members,
// assignments, and overrides.
func (s *Snapshot) Seed(ctx context.Context, w store.MemberWriter) error {
	if err := w.CreateServer(ctx, &store.Server{ID: s.Server.ID, Name: s.Server.Name}); err != nil {
		return oops.In("snapshot").Wrap(err)
	}
	for _, rd := range s.Roles {
		role := s.toRole(rd)
		if err := w.CreateRole(ctx, &role); err != nil {
			return oops.In("snapshot").With("role_id", rd.ID).Wrap(err)
		}
	}
	for _, md := range s.Members {
		m, err := s.Member(md.ID)
		if err != nil {
			return err
		}
		if err := w.AddMember(ctx, &access.Member{
			ID: m.ID, ServerID: m.ServerID, UserID: m.UserID, LegacyRole: m.LegacyRole,
		}); err != nil {
			return oops.In("snapshot").With("member_id", m.ID).Wrap(err)
		}
		for _, roleID := range md.Roles {
			if err := w.AssignRole(ctx, m.ID, roleID); err != nil {
				return oops.In("snapshot").With("member_id", m.ID).Wrap(err)
			}
		}
		for i := range m.Overrides {
			if err := w.SetOverride(ctx, m.ID, &m.Overrides[i]); err != nil {
				return oops.In("snapshot").With("member_id", m.ID).Wrap(err)
			}
		}
	}
	return nil
}

// Capture builds a snapshot of serverID from a store.
func Capture(ctx context.Context, src interface {
	store.MemberLoader
	store.RoleLister
}, serverID string, memberIDs ...string) (*Snapshot, error) {
	roles, err := src.ServerRoles(ctx, serverID)
	if err != nil {
		return nil, oops.In("snapshot").With("server_id", serverID).Wrap(err)
	}
	s := &Snapshot{Server: ServerDoc{ID: serverID}}
	for _, r := range roles {
		s.Roles = append(s.Roles, RoleDoc{ID: r.ID, Name: r.Name, Position: r.Position, Grants: docs(r.Grants)})
	}
	for _, id := range memberIDs {
		m, err := src.LoadMember(ctx, id)
		if err != nil {
			return nil, oops.In("snapshot").With("member_id", id).Wrap(err)
		}
		if m.ServerID != serverID {
			return nil, oops.In("snapshot").Code("CROSS_SERVER_MEMBER").
				With("member_id", id).With("server_id", serverID).
				Errorf("member belongs to server %q", m.ServerID)
		}
		s.Members = append(s.Members, MemberDoc{
			ID:         m.ID,
			UserID:     m.UserID,
			LegacyRole: string(m.LegacyRole),
			Roles:      m.RoleIDs(),
			Overrides:  docs(m.Overrides),
		})
	}
	return s, nil
}

func docs(grants []access.Grant) []GrantDoc {
	if len(grants) == 0 {
		return nil
	}
	out := make([]GrantDoc, len(grants))
	for i, g := range grants {
		out[i] = GrantDoc{
			Capability: string(g.Capability),
			Effect:     string(g.Effect),
			Scope:      string(g.Scope),
			TargetID:   g.TargetID,
		}
	}
	return out
}

// Marshal encodes s as YAML.
func (s *Snapshot) Marshal() ([]byte, error) {
	out, err := yaml.Marshal(s)
	if err != nil {
		return nil, oops.In("snapshot").Code("SNAPSHOT_ENCODE_FAILED").Wrap(err)
	}
	return out, nil
}
