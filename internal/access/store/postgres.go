// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/guildhall/guildhall/internal/access"
)

// poolIface is the subset of *pgxpool.Pool the store uses. pgxmock's
// PgxPoolIface satisfies it.
type poolIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL. Every write that can
// change a decision sends pg_notify on NotifyChannel in its own transaction.
type PostgresStore struct {
	pool poolIface
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func newPostgresStore(pool poolIface) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// LoadMember reads the member row, its roles, their grants, and the member's
// overrides, then validates the aggregate.
func (s *PostgresStore) LoadMember(ctx context.Context, memberID string) (*access.Member, error) {
	m := &access.Member{}
	var legacy string
	err := s.pool.QueryRow(ctx, `
		SELECT id, server_id, user_id, legacy_role, created_at
		FROM members WHERE id = $1
	`, memberID).Scan(&m.ID, &m.ServerID, &m.UserID, &legacy, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("MEMBER_NOT_FOUND", "member_id", memberID)
	}
	if err != nil {
		return nil, oops.In("store").Code("MEMBER_LOAD_FAILED").With("member_id", memberID).Wrap(err)
	}
	m.LegacyRole = access.LegacyRole(legacy)

	if m.Roles, err = s.loadRoles(ctx, memberID); err != nil {
		return nil, err
	}
	if m.Overrides, err = s.loadOverrides(ctx, memberID); err != nil {
		return nil, err
	}

	if err := m.Validate(); err != nil {
		return nil, oops.In("store").Code("MEMBER_INVALID").With("member_id", memberID).Wrap(err)
	}
	return m, nil
}

func (s *PostgresStore) loadRoles(ctx context.Context, memberID string) ([]access.Role, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.server_id, r.name, r.color, r.position, r.hoist, r.mentionable
		FROM member_roles mr
		JOIN roles r ON r.id = mr.role_id
		WHERE mr.member_id = $1
		ORDER BY r.position DESC, r.id
	`, memberID)
	if err != nil {
		return nil, oops.In("store").Code("MEMBER_LOAD_FAILED").With("member_id", memberID).With("operation", "query roles").Wrap(err)
	}
	defer rows.Close()

	var roles []access.Role
	index := make(map[string]int)
	for rows.Next() {
		var r access.Role
		if err := rows.Scan(&r.ID, &r.ServerID, &r.Name, &r.Color, &r.Position, &r.Hoist, &r.Mentionable); err != nil {
			return nil, oops.In("store").Code("MEMBER_LOAD_FAILED").With("member_id", memberID).With("operation", "scan role").Wrap(err)
		}
		index[r.ID] = len(roles)
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.In("store").Code("MEMBER_LOAD_FAILED").With("member_id", memberID).With("operation", "iterate roles").Wrap(err)
	}
	if len(roles) == 0 {
		return nil, nil
	}

	grantRows, err := s.pool.Query(ctx, `
		SELECT g.role_id, g.id, g.capability, g.effect, g.scope, g.target_id
		FROM role_grants g
		JOIN member_roles mr ON mr.role_id = g.role_id
		WHERE mr.member_id = $1
		ORDER BY g.role_id, g.id
	`, memberID)
	if err != nil {
		return nil, oops.In("store").Code("MEMBER_LOAD_FAILED").With("member_id", memberID).With("operation", "query role grants").Wrap(err)
	}
	defer grantRows.Close()

	for grantRows.Next() {
		var roleID string
		g, err := scanGrant(grantRows, &roleID)
		if err != nil {
			return nil, oops.In("store").Code("MEMBER_LOAD_FAILED").With("member_id", memberID).With("operation", "scan role grant").Wrap(err)
		}
		i, ok := index[roleID]
		if !ok {
			continue
		}
		roles[i].Grants = append(roles[i].Grants, g)
	}
	if err := grantRows.Err(); err != nil {
		return nil, oops.In("store").Code("MEMBER_LOAD_FAILED").With("member_id", memberID).With("operation", "iterate role grants").Wrap(err)
	}
	return roles, nil
}

func (s *PostgresStore) loadOverrides(ctx context.Context, memberID string) ([]access.Grant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, capability, effect, scope, target_id
		FROM member_overrides WHERE member_id = $1
		ORDER BY id
	`, memberID)
	if err != nil {
		return nil, oops.In("store").Code("MEMBER_LOAD_FAILED").With("member_id", memberID).With("operation", "query overrides").Wrap(err)
	}
	defer rows.Close()

	var overrides []access.Grant
	for rows.Next() {
		g, err := scanGrant(rows, nil)
		if err != nil {
			return nil, oops.In("store").Code("MEMBER_LOAD_FAILED").With("member_id", memberID).With("operation", "scan override").Wrap(err)
		}
		overrides = append(overrides, g)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.In("store").Code("MEMBER_LOAD_FAILED").With("member_id", memberID).With("operation", "iterate overrides").Wrap(err)
	}
	return overrides, nil
}

// scanGrant reads a grant row. When ownerID is non-nil the row carries the
// owning role ID as its first column.
func scanGrant(rows pgx.Rows, ownerID *string) (access.Grant, error) {
	var g access.Grant
	var capability, effect, scope string
	dest := []any{&g.ID, &capability, &effect, &scope, &g.TargetID}
	if ownerID != nil {
		dest = append([]any{ownerID}, dest...)
	}
	if err := rows.Scan(dest...); err != nil {
		return access.Grant{}, err
	}
	g.Capability = access.Capability(capability)
	g.Effect = access.Effect(effect)
	g.Scope = access.Scope(scope)
	return g, nil
}

// withNotify runs fn in a transaction and sends inv on NotifyChannel before
// committing, so listeners never observe a notification for a rolled back
// write.
func (s *PostgresStore) withNotify(ctx context.Context, code string, inv Invalidation, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.In("store").Code(code).With("operation", "begin").Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(tx); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, inv.Payload()); err != nil {
		return oops.In("store").Code(code).With("operation", "notify").With("payload", inv.Payload()).Wrap(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return oops.In("store").Code(code).With("operation", "commit").Wrap(err)
	}
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// CreateServer inserts a server, generating a ULID when ID is empty.
func (s *PostgresStore) CreateServer(ctx context.Context, server *Server) error {
	if server.ID == "" {
		server.ID = ulid.Make().String()
	}
	if server.CreatedAt.IsZero() {
		server.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO servers (id, name, owner_user_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, server.ID, server.Name, server.OwnerUserID, server.CreatedAt)
	if pgCode(err) == pgerrcode.UniqueViolation {
		return oops.In("store").Code("SERVER_EXISTS").With("server_id", server.ID).Wrap(err)
	}
	if err != nil {
		return oops.In("store").Code("SERVER_CREATE_FAILED").With("server_id", server.ID).Wrap(err)
	}
	return nil
}

// DeleteServer removes a server together with its members and roles.
func (s *PostgresStore) DeleteServer(ctx context.Context, serverID string) error {
	return s.withNotify(ctx, "SERVER_DELETE_FAILED", ServerChanged(serverID), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM servers WHERE id = $1`, serverID)
		if err != nil {
			return oops.In("store").Code("SERVER_DELETE_FAILED").With("server_id", serverID).Wrap(err)
		}
		if tag.RowsAffected() == 0 {
			return notFound("SERVER_NOT_FOUND", "server_id", serverID)
		}
		return nil
	})
}

// AddMember inserts the member row only. Roles and overrides on the argument
// are ignored; use AssignRole and SetOverride.
func (s *PostgresStore) AddMember(ctx context.Context, member *access.Member) error {
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
	return s.withNotify(ctx, "MEMBER_CREATE_FAILED", MemberChanged(member.ID), func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO members (id, server_id, user_id, legacy_role, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, member.ID, member.ServerID, member.UserID, string(member.LegacyRole), member.CreatedAt)
		switch pgCode(err) {
		case "":
		case pgerrcode.UniqueViolation:
			return oops.In("store").Code("MEMBER_EXISTS").
				With("member_id", member.ID).With("server_id", member.ServerID).With("user_id", member.UserID).Wrap(err)
		case pgerrcode.ForeignKeyViolation:
			return oops.In("store").Code("SERVER_NOT_FOUND").With("server_id", member.ServerID).Wrap(ErrNotFound)
		}
		if err != nil {
			return oops.In("store").Code("MEMBER_CREATE_FAILED").With("member_id", member.ID).Wrap(err)
		}
		return nil
	})
}

// RemoveMember deletes the member, its assignments, and its overrides.
func (s *PostgresStore) RemoveMember(ctx context.Context, memberID string) error {
	return s.withNotify(ctx, "MEMBER_DELETE_FAILED", MemberChanged(memberID), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM members WHERE id = $1`, memberID)
		if err != nil {
			return oops.In("store").Code("MEMBER_DELETE_FAILED").With("member_id", memberID).Wrap(err)
		}
		if tag.RowsAffected() == 0 {
			return notFound("MEMBER_NOT_FOUND", "member_id", memberID)
		}
		return nil
	})
}

// SetLegacyRole replaces the member's legacy role tag.
func (s *PostgresStore) SetLegacyRole(ctx context.Context, memberID string, role access.LegacyRole) error {
	if !role.Valid() {
		return oops.In("store").Code("INVALID_LEGACY_ROLE").
			With("legacy_role", role).Errorf("unknown legacy role %q", role)
	}
	return s.withNotify(ctx, "MEMBER_UPDATE_FAILED", MemberChanged(memberID), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE members SET legacy_role = $2 WHERE id = $1`, memberID, string(role))
		if err != nil {
			return oops.In("store").Code("MEMBER_UPDATE_FAILED").With("member_id", memberID).Wrap(err)
		}
		if tag.RowsAffected() == 0 {
			return notFound("MEMBER_NOT_FOUND", "member_id", memberID)
		}
		return nil
	})
}

// CreateRole inserts a role and its grants, generating ULIDs for the role and
// any grant without an ID.
func (s *PostgresStore) CreateRole(ctx context.Context, role *access.Role) error {
	if role.ID == "" {
		role.ID = ulid.Make().String()
	}
	probe := access.Member{ID: "-", ServerID: role.ServerID, LegacyRole: access.LegacyRoleGuest, Roles: []access.Role{*role}}
	if err := probe.Validate(); err != nil {
		return oops.In("store").Code("ROLE_INVALID").With("role_id", role.ID).Wrap(err)
	}
	return s.withNotify(ctx, "ROLE_CREATE_FAILED", RoleChanged(role.ID), func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO roles (id, server_id, name, color, position, hoist, mentionable)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, role.ID, role.ServerID, role.Name, role.Color, role.Position, role.Hoist, role.Mentionable)
		switch pgCode(err) {
		case "":
		case pgerrcode.ForeignKeyViolation:
			return oops.In("store").Code("SERVER_NOT_FOUND").With("server_id", role.ServerID).Wrap(ErrNotFound)
		case pgerrcode.UniqueViolation:
			return oops.In("store").Code("ROLE_EXISTS").With("role_id", role.ID).Wrap(err)
		}
		if err != nil {
			return oops.In("store").Code("ROLE_CREATE_FAILED").With("role_id", role.ID).Wrap(err)
		}
		for i := range role.Grants {
			if err := upsertRoleGrant(ctx, tx, role.ID, &role.Grants[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateRole rewrites the role's name, color, position, and display flags.
// Grants are changed through SetRoleGrant and RemoveRoleGrant.
func (s *PostgresStore) UpdateRole(ctx context.Context, role *access.Role) error {
	return s.withNotify(ctx, "ROLE_UPDATE_FAILED", RoleChanged(role.ID), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE roles SET name = $2, color = $3, position = $4, hoist = $5, mentionable = $6
			WHERE id = $1
		`, role.ID, role.Name, role.Color, role.Position, role.Hoist, role.Mentionable)
		if err != nil {
			return oops.In("store").Code("ROLE_UPDATE_FAILED").With("role_id", role.ID).Wrap(err)
		}
		if tag.RowsAffected() == 0 {
			return notFound("ROLE_NOT_FOUND", "role_id", role.ID)
		}
		return nil
	})
}

// DeleteRole removes a role; assignments and grants cascade.
func (s *PostgresStore) DeleteRole(ctx context.Context, roleID string) error {
	return s.withNotify(ctx, "ROLE_DELETE_FAILED", RoleChanged(roleID), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
		if err != nil {
			return oops.In("store").Code("ROLE_DELETE_FAILED").With("role_id", roleID).Wrap(err)
		}
		if tag.RowsAffected() == 0 {
			return notFound("ROLE_NOT_FOUND", "role_id", roleID)
		}
		return nil
	})
}

// SetRoleGrant upserts a grant on the role. An existing grant with the same
// key keeps its ID and takes the new effect; grant.ID is set to the stored ID.
func (s *PostgresStore) SetRoleGrant(ctx context.Context, roleID string, grant *access.Grant) error {
	if err := grant.Validate(); err != nil {
		return err
	}
	return s.withNotify(ctx, "GRANT_SET_FAILED", RoleChanged(roleID), func(tx pgx.Tx) error {
		return upsertRoleGrant(ctx, tx, roleID, grant)
	})
}

func upsertRoleGrant(ctx context.Context, tx pgx.Tx, roleID string, grant *access.Grant) error {
	id := grant.ID
	if id == "" {
		id = ulid.Make().String()
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO role_grants (id, role_id, capability, effect, scope, target_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (role_id, capability, scope, target_id) DO UPDATE SET effect = EXCLUDED.effect
		RETURNING id
	`, id, roleID, string(grant.Capability), string(grant.Effect), string(grant.Scope), grant.TargetID).Scan(&grant.ID)
	if pgCode(err) == pgerrcode.ForeignKeyViolation {
		return notFound("ROLE_NOT_FOUND", "role_id", roleID)
	}
	if err != nil {
		return oops.In("store").Code("GRANT_SET_FAILED").With("role_id", roleID).With("key", grant.Key().String()).Wrap(err)
	}
	return nil
}

// RemoveRoleGrant deletes the role's grant for key.
func (s *PostgresStore) RemoveRoleGrant(ctx context.Context, roleID string, key access.GrantKey) error {
	return s.withNotify(ctx, "GRANT_REMOVE_FAILED", RoleChanged(roleID), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM role_grants
			WHERE role_id = $1 AND capability = $2 AND scope = $3 AND target_id = $4
		`, roleID, string(key.Capability), string(key.Scope), key.TargetID)
		if err != nil {
			return oops.In("store").Code("GRANT_REMOVE_FAILED").With("role_id", roleID).With("key", key.String()).Wrap(err)
		}
		if tag.RowsAffected() == 0 {
			return oops.In("store").Code("GRANT_NOT_FOUND").With("role_id", roleID).With("key", key.String()).Wrap(ErrNotFound)
		}
		return nil
	})
}

// AssignRole attaches a role to a member of the same server. Assigning a role
// the member already holds is a no-op.
func (s *PostgresStore) AssignRole(ctx context.Context, memberID, roleID string) error {
	return s.withNotify(ctx, "ROLE_ASSIGN_FAILED", MemberChanged(memberID), func(tx pgx.Tx) error {
		var memberServer, roleServer string
		err := tx.QueryRow(ctx, `SELECT server_id FROM members WHERE id = $1`, memberID).Scan(&memberServer)
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound("MEMBER_NOT_FOUND", "member_id", memberID)
		}
		if err != nil {
			return oops.In("store").Code("ROLE_ASSIGN_FAILED").With("member_id", memberID).Wrap(err)
		}
		err = tx.QueryRow(ctx, `SELECT server_id FROM roles WHERE id = $1`, roleID).Scan(&roleServer)
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound("ROLE_NOT_FOUND", "role_id", roleID)
		}
		if err != nil {
			return oops.In("store").Code("ROLE_ASSIGN_FAILED").With("role_id", roleID).Wrap(err)
		}
		if memberServer != roleServer {
			return crossServer(memberID, memberServer, roleID, roleServer)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO member_roles (member_id, role_id, server_id)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, memberID, roleID, memberServer)
		if err != nil {
			return oops.In("store").Code("ROLE_ASSIGN_FAILED").With("member_id", memberID).With("role_id", roleID).Wrap(err)
		}
		return nil
	})
}

func crossServer(memberID, memberServer, roleID, roleServer string) error {
	return oops.In("store").Code("CROSS_SERVER_ASSIGNMENT").
		With("member_id", memberID).With("member_server_id", memberServer).
		With("role_id", roleID).With("role_server_id", roleServer).
		Errorf("role belongs to another server")
}

// UnassignRole detaches a role from a member.
func (s *PostgresStore) UnassignRole(ctx context.Context, memberID, roleID string) error {
	return s.withNotify(ctx, "ROLE_UNASSIGN_FAILED", MemberChanged(memberID), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM member_roles WHERE member_id = $1 AND role_id = $2`, memberID, roleID)
		if err != nil {
			return oops.In("store").Code("ROLE_UNASSIGN_FAILED").With("member_id", memberID).With("role_id", roleID).Wrap(err)
		}
		if tag.RowsAffected() == 0 {
			return oops.In("store").Code("ASSIGNMENT_NOT_FOUND").
				With("member_id", memberID).With("role_id", roleID).Wrap(ErrNotFound)
		}
		return nil
	})
}

// SetOverride upserts a user override on the member.
func (s *PostgresStore) SetOverride(ctx context.Context, memberID string, grant *access.Grant) error {
	if err := grant.Validate(); err != nil {
		return err
	}
	id := grant.ID
	if id == "" {
		id = ulid.Make().String()
	}
	return s.withNotify(ctx, "OVERRIDE_SET_FAILED", MemberChanged(memberID), func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO member_overrides (id, member_id, capability, effect, scope, target_id)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (member_id, capability, scope, target_id) DO UPDATE SET effect = EXCLUDED.effect
			RETURNING id
		`, id, memberID, string(grant.Capability), string(grant.Effect), string(grant.Scope), grant.TargetID).Scan(&grant.ID)
		if pgCode(err) == pgerrcode.ForeignKeyViolation {
			return notFound("MEMBER_NOT_FOUND", "member_id", memberID)
		}
		if err != nil {
			return oops.In("store").Code("OVERRIDE_SET_FAILED").With("member_id", memberID).With("key", grant.Key().String()).Wrap(err)
		}
		return nil
	})
}

// RemoveOverride deletes the member's override for key.
func (s *PostgresStore) RemoveOverride(ctx context.Context, memberID string, key access.GrantKey) error {
	return s.withNotify(ctx, "OVERRIDE_REMOVE_FAILED", MemberChanged(memberID), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM member_overrides
			WHERE member_id = $1 AND capability = $2 AND scope = $3 AND target_id = $4
		`, memberID, string(key.Capability), string(key.Scope), key.TargetID)
		if err != nil {
			return oops.In("store").Code("OVERRIDE_REMOVE_FAILED").With("member_id", memberID).With("key", key.String()).Wrap(err)
		}
		if tag.RowsAffected() == 0 {
			return oops.In("store").Code("OVERRIDE_NOT_FOUND").
				With("member_id", memberID).With("key", key.String()).Wrap(ErrNotFound)
		}
		return nil
	})
}

// ServerRoles lists a server's roles with their grants in position order.
func (s *PostgresStore) ServerRoles(ctx context.Context, serverID string) ([]access.Role, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.server_id, r.name, r.color, r.position, r.hoist, r.mentionable,
		       g.id, g.capability, g.effect, g.scope, g.target_id
		FROM roles r
		LEFT JOIN role_grants g ON g.role_id = r.id
		WHERE r.server_id = $1
		ORDER BY r.position DESC, r.id, g.id
	`, serverID)
	if err != nil {
		return nil, oops.In("store").Code("ROLE_LIST_FAILED").With("server_id", serverID).Wrap(err)
	}
	defer rows.Close()

	var roles []access.Role
	for rows.Next() {
		var r access.Role
		var grantID, capability, effect, scope, target *string
		if err := rows.Scan(&r.ID, &r.ServerID, &r.Name, &r.Color, &r.Position, &r.Hoist, &r.Mentionable,
			&grantID, &capability, &effect, &scope, &target); err != nil {
			return nil, oops.In("store").Code("ROLE_LIST_FAILED").With("server_id", serverID).Wrap(err)
		}
		if n := len(roles); n == 0 || roles[n-1].ID != r.ID {
			roles = append(roles, r)
		}
		if grantID != nil {
			last := &roles[len(roles)-1]
			last.Grants = append(last.Grants, access.Grant{
				ID:         *grantID,
				Capability: access.Capability(deref(capability)),
				Effect:     access.Effect(deref(effect)),
				Scope:      access.Scope(deref(scope)),
				TargetID:   deref(target),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, oops.In("store").Code("ROLE_LIST_FAILED").With("server_id", serverID).Wrap(err)
	}
	return roles, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ Store = (*PostgresStore)(nil)
