// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

package access

// Evaluator resolves queries for one loaded member. It precomputes the
// position-ordered roles, the override index, and the member's administrator
// status, and is immutable afterwards, so one Evaluator may serve any number
// of goroutines.
type Evaluator struct {
	member    *Member
	roles     []Role
	overrides map[GrantKey]Grant
	admin     Result
}

// NewEvaluator prepares m for resolution. m must be fully loaded; the
// evaluator does not copy grants, so the caller must not mutate m afterwards.
func NewEvaluator(m *Member) *Evaluator {
	roles := make([]Role, len(m.Roles))
	copy(roles, m.Roles)
	SortRoles(roles)

	overrides := make(map[GrantKey]Grant, len(m.Overrides))
	for _, g := range m.Overrides {
		overrides[g.Key()] = g
	}

	e := &Evaluator{
		member:    m,
		roles:     roles,
		overrides: overrides,
	}

	if !m.LegacyRole.IsSuperuser() {
		held := e.resolveGrants(ServerQuery(CapabilityAdministrator).key())
		if held.Granted {
			e.admin = Result{
				Granted:    true,
				Reason:     ReasonAdministrator,
				SourceKind: held.SourceKind,
				SourceID:   held.SourceID,
				SourceName: held.SourceName,
			}
		}
	}
	return e
}

// Member returns the member this evaluator was built from.
func (e *Evaluator) Member() *Member {
	return e.member
}

// IsSuperuser reports whether the member carries the superuser legacy tag.
func (e *Evaluator) IsSuperuser() bool {
	return e.member.LegacyRole.IsSuperuser()
}

// IsAdministrator reports whether the member holds ADMINISTRATOR at server
// scope through an override or a role. Superusers are not reported here;
// use Resolve for the combined answer.
func (e *Evaluator) IsAdministrator() bool {
	return e.admin.Granted
}

// Resolve decides q for the member. Steps short-circuit in this order:
// superuser tag, administrator, exact user override, role scan, default deny.
func (e *Evaluator) Resolve(q Query) Result {
	if e.IsSuperuser() {
		return Result{Granted: true, Reason: ReasonSuperuser}
	}
	if e.admin.Granted {
		return e.admin
	}
	return e.resolveGrants(q.key())
}

// resolveGrants runs the override lookup and role scan for one key.
func (e *Evaluator) resolveGrants(key GrantKey) Result {
	// Overrides match on the exact key only; a SERVER override never
	// satisfies a CHANNEL query.
	if g, ok := e.overrides[key]; ok {
		source := g.ID
		if source == "" {
			source = key.String()
		}
		return Result{
			Granted:    g.Effect == EffectAllow,
			Reason:     ReasonUserOverride,
			SourceKind: SourceOverride,
			SourceID:   source,
		}
	}

	// Roles are scanned by descending position. The first DENY ends the scan;
	// an ALLOW is only a candidate, so a DENY on any lower role still wins.
	var allowedBy *Role
	for i := range e.roles {
		role := &e.roles[i]
		for _, g := range role.Grants {
			if g.Key() != key {
				continue
			}
			if g.Effect == EffectDeny {
				return Result{
					Granted:    false,
					Reason:     ReasonRole,
					SourceKind: SourceRole,
					SourceID:   role.ID,
					SourceName: role.Name,
				}
			}
			allowedBy = role
		}
	}
	if allowedBy != nil {
		return Result{
			Granted:    true,
			Reason:     ReasonRole,
			SourceKind: SourceRole,
			SourceID:   allowedBy.ID,
			SourceName: allowedBy.Name,
		}
	}

	return DefaultDeny()
}

// Resolve decides q for m. It builds a throwaway Evaluator; callers
// resolving several queries for the same member should build one with
// NewEvaluator instead.
func Resolve(m *Member, q Query) Result {
	return NewEvaluator(m).Resolve(q)
}

// RoleMatch records a role grant that matched an explained query.
type RoleMatch struct {
	RoleID   string `json:"role_id"`
	RoleName string `json:"role_name"`
	Position int    `json:"position"`
	GrantID  string `json:"grant_id,omitempty"`
	Effect   Effect `json:"effect"`
}

// Explanation is a Result together with every rule that matched the query,
// for "why can't I do this" disclosure.
type Explanation struct {
	Result        Result      `json:"result"`
	Capability    Capability  `json:"capability"`
	Scope         Scope       `json:"scope"`
	TargetID      string      `json:"target_id,omitempty"`
	Superuser     bool        `json:"superuser"`
	Administrator bool        `json:"administrator"`
	Override      *Grant      `json:"override,omitempty"`
	RoleMatches   []RoleMatch `json:"role_matches,omitempty"`
}

// Explain resolves q and lists the override and role grants that match it,
// in scan order, including those the short-circuit never reached.
func (e *Evaluator) Explain(q Query) Explanation {
	key := q.key()
	ex := Explanation{
		Result:        e.Resolve(q),
		Capability:    key.Capability,
		Scope:         key.Scope,
		TargetID:      key.TargetID,
		Superuser:     e.IsSuperuser(),
		Administrator: e.IsAdministrator(),
	}
	if g, ok := e.overrides[key]; ok {
		ex.Override = &g
	}
	for _, role := range e.roles {
		for _, g := range role.Grants {
			if g.Key() != key {
				continue
			}
			ex.RoleMatches = append(ex.RoleMatches, RoleMatch{
				RoleID:   role.ID,
				RoleName: role.Name,
				Position: role.Position,
				GrantID:  g.ID,
				Effect:   g.Effect,
			})
		}
	}
	return ex
}
