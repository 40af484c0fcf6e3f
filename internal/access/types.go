// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

// Package access resolves what an identified server member may do.
//
// The package is pure: it performs no I/O and holds no shared mutable state.
// Callers load a fully populated Member from a store, then ask Resolve,
// EffectiveCapabilities or CanManage for a decision.
package access

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/oops"
)

// LegacyRole is the coarse single-role tag that predates role grants.
// It is independent of, and additive with, the grant system.
type LegacyRole string

// LegacyRole constants. LegacyRoleAdmin is the superuser tag.
const (
	LegacyRoleGuest     LegacyRole = "GUEST"
	LegacyRoleModerator LegacyRole = "MODERATOR"
	LegacyRoleAdmin     LegacyRole = "ADMIN"
)

// SuperuserTag is the legacy role that bypasses every grant rule.
const SuperuserTag = LegacyRoleAdmin

// Valid reports whether r is a known legacy role.
func (r LegacyRole) Valid() bool {
	switch r {
	case LegacyRoleGuest, LegacyRoleModerator, LegacyRoleAdmin:
		return true
	default:
		return false
	}
}

// IsSuperuser reports whether r is the superuser tag.
func (r LegacyRole) IsSuperuser() bool {
	return r == SuperuserTag
}

// ParseLegacyRole converts a boundary string into a LegacyRole.
func ParseLegacyRole(s string) (LegacyRole, error) {
	r := LegacyRole(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", oops.In("access").
			Code("INVALID_LEGACY_ROLE").
			With("legacy_role", s).
			Errorf("unknown legacy role %q", s)
	}
	return r, nil
}

// GrantKey identifies the (capability, scope, target) tuple a grant applies
// to. At most one grant per key exists in a role or an override set.
type GrantKey struct {
	Capability Capability
	Scope      Scope
	TargetID   string
}

func (k GrantKey) String() string {
	if k.TargetID == "" {
		return fmt.Sprintf("%s/%s", k.Capability, k.Scope)
	}
	return fmt.Sprintf("%s/%s/%s", k.Capability, k.Scope, k.TargetID)
}

// Grant is a single allow or deny rule owned by a Role or, as a user
// override, directly by a Member.
type Grant struct {
	ID         string     `json:"id,omitempty" yaml:"id,omitempty"`
	Capability Capability `json:"capability" yaml:"capability"`
	Effect     Effect     `json:"effect" yaml:"effect"`
	Scope      Scope      `json:"scope" yaml:"scope"`
	TargetID   string     `json:"target_id,omitempty" yaml:"target_id,omitempty"`
}

// Key returns the grant's uniqueness key.
func (g Grant) Key() GrantKey {
	return GrantKey{Capability: g.Capability, Scope: g.Scope, TargetID: g.TargetID}
}

// Validate checks the grant's fields against the catalog and the scope/target
// pairing rules.
func (g Grant) Validate() error {
	if !g.Capability.Valid() {
		return oops.In("access").Code("INVALID_CAPABILITY").
			With("capability", g.Capability).Errorf("unknown capability %q", g.Capability)
	}
	if !g.Effect.Valid() {
		return oops.In("access").Code("INVALID_EFFECT").
			With("effect", g.Effect).Errorf("unknown effect %q", g.Effect)
	}
	return ValidateTarget(g.Scope, g.TargetID)
}

// ValidateTarget checks that targetID fits scope: SERVER takes no target,
// CATEGORY and CHANNEL require one.
func ValidateTarget(scope Scope, targetID string) error {
	if !scope.Valid() {
		return oops.In("access").Code("INVALID_SCOPE").
			With("scope", scope).Errorf("unknown scope %q", scope)
	}
	if scope == ScopeServer && targetID != "" {
		return oops.In("access").Code("INVALID_TARGET").
			With("target_id", targetID).Errorf("server scope does not take a target")
	}
	if scope.Targeted() && targetID == "" {
		return oops.In("access").Code("INVALID_TARGET").
			With("scope", scope).Errorf("%s scope requires a target", strings.ToLower(string(scope)))
	}
	return nil
}

// Role is a named, ordered bundle of grants scoped to one server.
// Hoist and Mentionable are display flags and play no part in authorization.
type Role struct {
	ID          string  `json:"id" yaml:"id"`
	ServerID    string  `json:"server_id" yaml:"server_id"`
	Name        string  `json:"name" yaml:"name"`
	Color       string  `json:"color,omitempty" yaml:"color,omitempty"`
	Position    int     `json:"position" yaml:"position"`
	Hoist       bool    `json:"hoist,omitempty" yaml:"hoist,omitempty"`
	Mentionable bool    `json:"mentionable,omitempty" yaml:"mentionable,omitempty"`
	Grants      []Grant `json:"grants,omitempty" yaml:"grants,omitempty"`
}

// SortRoles orders roles by position descending. Equal positions are ordered
// by ID ascending so the order is deterministic.
func SortRoles(roles []Role) {
	sort.SliceStable(roles, func(i, j int) bool {
		if roles[i].Position != roles[j].Position {
			return roles[i].Position > roles[j].Position
		}
		return roles[i].ID < roles[j].ID
	})
}

// Member is an identity's membership in one server, loaded together with
// everything the resolver needs. It is built once per authorization check and
// is never partially populated.
type Member struct {
	ID         string     `json:"id" yaml:"id"`
	ServerID   string     `json:"server_id" yaml:"server_id"`
	UserID     string     `json:"user_id" yaml:"user_id"`
	LegacyRole LegacyRole `json:"legacy_role" yaml:"legacy_role"`
	Roles      []Role     `json:"roles,omitempty" yaml:"roles,omitempty"`
	Overrides  []Grant    `json:"overrides,omitempty" yaml:"overrides,omitempty"`
	CreatedAt  time.Time  `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// RoleIDs returns the IDs of the member's assigned roles.
func (m *Member) RoleIDs() []string {
	ids := make([]string, 0, len(m.Roles))
	for _, r := range m.Roles {
		ids = append(ids, r.ID)
	}
	return ids
}

// HighestPosition returns the largest position among the member's roles,
// or 0 when the member holds none.
func (m *Member) HighestPosition() int {
	if len(m.Roles) == 0 {
		return 0
	}
	highest := m.Roles[0].Position
	for _, r := range m.Roles[1:] {
		if r.Position > highest {
			highest = r.Position
		}
	}
	return highest
}

// Validate checks the aggregate invariants: a known legacy role, roles owned
// by the member's server, well-formed grants, and no duplicate grant keys
// within a role or within the override set. Stores call this before handing a
// member to the resolver.
func (m *Member) Validate() error {
	if m == nil {
		return oops.In("access").Code("INVALID_MEMBER").Errorf("member is nil")
	}
	if m.ID == "" || m.ServerID == "" {
		return oops.In("access").Code("INVALID_MEMBER").
			With("member_id", m.ID).With("server_id", m.ServerID).
			Errorf("member id and server id must be set")
	}
	if !m.LegacyRole.Valid() {
		return oops.In("access").Code("INVALID_LEGACY_ROLE").
			With("member_id", m.ID).With("legacy_role", m.LegacyRole).
			Errorf("unknown legacy role %q", m.LegacyRole)
	}

	seenRoles := make(map[string]struct{}, len(m.Roles))
	for _, r := range m.Roles {
		if r.ServerID != m.ServerID {
			return oops.In("access").Code("CROSS_SERVER_ROLE").
				With("member_id", m.ID).With("role_id", r.ID).
				With("member_server_id", m.ServerID).With("role_server_id", r.ServerID).
				Errorf("role belongs to another server")
		}
		if _, dup := seenRoles[r.ID]; dup {
			return oops.In("access").Code("DUPLICATE_ROLE").
				With("member_id", m.ID).With("role_id", r.ID).
				Errorf("role assigned twice")
		}
		seenRoles[r.ID] = struct{}{}
		if err := validateGrantSet(r.Grants); err != nil {
			return oops.In("access").With("role_id", r.ID).Wrap(err)
		}
	}

	if err := validateGrantSet(m.Overrides); err != nil {
		return oops.In("access").With("member_id", m.ID).With("set", "overrides").Wrap(err)
	}
	return nil
}

func validateGrantSet(grants []Grant) error {
	seen := make(map[GrantKey]struct{}, len(grants))
	for _, g := range grants {
		if err := g.Validate(); err != nil {
			return err
		}
		key := g.Key()
		if _, dup := seen[key]; dup {
			return oops.In("access").Code("DUPLICATE_GRANT").
				With("key", key.String()).
				Errorf("more than one grant for %s", key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Reason tags why a Result was reached.
type Reason int

// Reason constants, in no particular precedence order.
const (
	ReasonDefaultDeny   Reason = iota // DEFAULT_DENY
	ReasonSuperuser                   // SUPERUSER
	ReasonAdministrator               // ADMINISTRATOR
	ReasonUserOverride                // USER_OVERRIDE
	ReasonRole                        // ROLE
)

var reasonStrings = [...]string{
	"DEFAULT_DENY",
	"SUPERUSER",
	"ADMINISTRATOR",
	"USER_OVERRIDE",
	"ROLE",
}

func (r Reason) String() string {
	if r >= 0 && int(r) < len(reasonStrings) {
		return reasonStrings[r]
	}
	return fmt.Sprintf("unknown(%d)", int(r))
}

// MarshalText implements encoding.TextMarshaler.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Reason) UnmarshalText(text []byte) error {
	for i, s := range reasonStrings {
		if s == string(text) {
			*r = Reason(i)
			return nil
		}
	}
	return oops.In("access").Code("INVALID_REASON").Errorf("unknown reason %q", string(text))
}

// SourceKind identifies what produced a decision.
type SourceKind string

// SourceKind constants. SourceNone is used for SUPERUSER and DEFAULT_DENY.
const (
	SourceNone     SourceKind = ""
	SourceRole     SourceKind = "role"
	SourceOverride SourceKind = "override"
)

// Result is the resolver's output for one capability check. It is never
// persisted; Reason and Source exist so callers can log or disclose why a
// decision was made.
type Result struct {
	Granted    bool       `json:"granted"`
	Reason     Reason     `json:"reason"`
	SourceKind SourceKind `json:"source_kind,omitempty"`
	SourceID   string     `json:"source_id,omitempty"`
	SourceName string     `json:"source_name,omitempty"`
}

// DefaultDeny is the result for a member with no matching rule. Callers also
// use it when the member could not be loaded.
func DefaultDeny() Result {
	return Result{Reason: ReasonDefaultDeny}
}

// Query names the capability check to perform. A zero Scope means
// ScopeServer. TargetID is only meaningful for CATEGORY and CHANNEL scope.
type Query struct {
	Capability Capability
	Scope      Scope
	TargetID   string
}

// ServerQuery builds a SERVER scope query for c.
func ServerQuery(c Capability) Query {
	return Query{Capability: c, Scope: ScopeServer}
}

func (q Query) key() GrantKey {
	scope := q.Scope
	if scope == "" {
		scope = ScopeServer
	}
	return GrantKey{Capability: q.Capability, Scope: scope, TargetID: q.TargetID}
}

// Validate checks a query built from untrusted input. The resolver itself
// trusts its caller and does not call this.
func (q Query) Validate() error {
	if !q.Capability.Valid() {
		return oops.In("access").Code("INVALID_CAPABILITY").
			With("capability", q.Capability).Errorf("unknown capability %q", q.Capability)
	}
	scope := q.Scope
	if scope == "" {
		scope = ScopeServer
	}
	return ValidateTarget(scope, q.TargetID)
}

// ParseQuery builds a validated Query from boundary strings.
func ParseQuery(capability, scope, targetID string) (Query, error) {
	c, err := ParseCapability(capability)
	if err != nil {
		return Query{}, err
	}
	s, err := ParseScope(scope)
	if err != nil {
		return Query{}, err
	}
	q := Query{Capability: c, Scope: s, TargetID: strings.TrimSpace(targetID)}
	if err := q.Validate(); err != nil {
		return Query{}, err
	}
	return q, nil
}
