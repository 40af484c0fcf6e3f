// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildhall/guildhall/internal/access"
	"github.com/guildhall/guildhall/pkg/errutil"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newPostgresStore(mock), mock
}

func expectNotify(mock pgxmock.PgxPoolIface, payload string) {
	mock.ExpectExec(`SELECT pg_notify`).
		WithArgs(NotifyChannel, payload).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectCommit()
}

var memberCols = []string{"id", "server_id", "user_id", "legacy_role", "created_at"}

func TestPostgresStore_LoadMember(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, server_id, user_id, legacy_role, created_at\s+FROM members`).
		WithArgs("m1").
		WillReturnRows(pgxmock.NewRows(memberCols).AddRow("m1", "s1", "u1", "MODERATOR", created))
	mock.ExpectQuery(`FROM member_roles mr\s+JOIN roles r`).
		WithArgs("m1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "server_id", "name", "color", "position", "hoist", "mentionable"}).
			AddRow("r-high", "s1", "Mods", "#ff0000", 10, true, false).
			AddRow("r-low", "s1", "Muted", "", 1, false, false))
	mock.ExpectQuery(`FROM role_grants g`).
		WithArgs("m1").
		WillReturnRows(pgxmock.NewRows([]string{"role_id", "id", "capability", "effect", "scope", "target_id"}).
			AddRow("r-high", "g1", "MANAGE_MESSAGES", "ALLOW", "SERVER", "").
			AddRow("r-low", "g2", "MANAGE_MESSAGES", "DENY", "SERVER", "").
			AddRow("r-low", "g3", "SEND_MESSAGES", "DENY", "CHANNEL", "c1"))
	mock.ExpectQuery(`FROM member_overrides`).
		WithArgs("m1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "capability", "effect", "scope", "target_id"}).
			AddRow("o1", "SEND_MESSAGES", "ALLOW", "CHANNEL", "c1"))

	m, err := s.LoadMember(context.Background(), "m1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, access.LegacyRoleModerator, m.LegacyRole)
	assert.Equal(t, created, m.CreatedAt)
	require.Len(t, m.Roles, 2)
	assert.Equal(t, "Mods", m.Roles[0].Name)
	assert.Len(t, m.Roles[0].Grants, 1)
	assert.Len(t, m.Roles[1].Grants, 2)
	require.Len(t, m.Overrides, 1)
	assert.Equal(t, access.ScopeChannel, m.Overrides[0].Scope)

	got := access.Resolve(m, access.ServerQuery(access.CapabilityManageMessages))
	assert.False(t, got.Granted)
	assert.Equal(t, "r-low", got.SourceID)
	got = access.Resolve(m, access.Query{Capability: access.CapabilitySendMessages, Scope: access.ScopeChannel, TargetID: "c1"})
	assert.True(t, got.Granted)
	assert.Equal(t, access.ReasonUserOverride, got.Reason)
}

func TestPostgresStore_LoadMember_NoRolesSkipsGrantQuery(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`FROM members`).WithArgs("m1").
		WillReturnRows(pgxmock.NewRows(memberCols).AddRow("m1", "s1", "u1", "GUEST", time.Now()))
	mock.ExpectQuery(`FROM member_roles`).WithArgs("m1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "server_id", "name", "color", "position", "hoist", "mentionable"}))
	mock.ExpectQuery(`FROM member_overrides`).WithArgs("m1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "capability", "effect", "scope", "target_id"}))

	m, err := s.LoadMember(context.Background(), "m1")
	require.NoError(t, err)
	assert.Empty(t, m.Roles)
	assert.Empty(t, m.Overrides)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadMember_Errors(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`FROM members`).WithArgs("ghost").WillReturnError(pgx.ErrNoRows)

		_, err := s.LoadMember(context.Background(), "ghost")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotFound)
		errutil.AssertErrorCode(t, err, "MEMBER_NOT_FOUND")
	})

	t.Run("query failure", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`FROM members`).WithArgs("m1").WillReturnError(errors.New("connection reset"))

		_, err := s.LoadMember(context.Background(), "m1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
		errutil.AssertErrorCode(t, err, "MEMBER_LOAD_FAILED")
	})

	t.Run("corrupt aggregate", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`FROM members`).WithArgs("m1").
			WillReturnRows(pgxmock.NewRows(memberCols).AddRow("m1", "s1", "u1", "OWNER", time.Now()))
		mock.ExpectQuery(`FROM member_roles`).WithArgs("m1").
			WillReturnRows(pgxmock.NewRows([]string{"id", "server_id", "name", "color", "position", "hoist", "mentionable"}))
		mock.ExpectQuery(`FROM member_overrides`).WithArgs("m1").
			WillReturnRows(pgxmock.NewRows([]string{"id", "capability", "effect", "scope", "target_id"}))

		_, err := s.LoadMember(context.Background(), "m1")
		require.Error(t, err)
		errutil.AssertErrorContext(t, err, "member_id", "m1")
	})
}

func TestPostgresStore_SetRoleGrant(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO role_grants`).
		WithArgs(pgxmock.AnyArg(), "r1", "KICK_MEMBERS", "DENY", "SERVER", "").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("g-existing"))
	expectNotify(mock, "role:r1")

	g := &access.Grant{Capability: access.CapabilityKickMembers, Effect: access.EffectDeny, Scope: access.ScopeServer}
	require.NoError(t, s.SetRoleGrant(context.Background(), "r1", g))
	assert.Equal(t, "g-existing", g.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetRoleGrant_RejectsInvalidGrant(t *testing.T) {
	s, mock := newMockStore(t)

	g := &access.Grant{Capability: access.CapabilityKickMembers, Effect: access.EffectDeny, Scope: access.ScopeChannel}
	err := s.SetRoleGrant(context.Background(), "r1", g)
	errutil.AssertErrorCode(t, err, "INVALID_TARGET")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetRoleGrant_UnknownRole(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO role_grants`).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.ForeignKeyViolation})
	mock.ExpectRollback()

	g := &access.Grant{Capability: access.CapabilitySpeak, Effect: access.EffectAllow, Scope: access.ScopeServer}
	err := s.SetRoleGrant(context.Background(), "nope", g)
	assert.ErrorIs(t, err, ErrNotFound)
	errutil.AssertErrorCode(t, err, "ROLE_NOT_FOUND")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AssignRole(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(pgxmock.PgxPoolIface)
		wantCode string
	}{
		{
			name: "same server",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT server_id FROM members`).WithArgs("m1").
					WillReturnRows(pgxmock.NewRows([]string{"server_id"}).AddRow("s1"))
				mock.ExpectQuery(`SELECT server_id FROM roles`).WithArgs("r1").
					WillReturnRows(pgxmock.NewRows([]string{"server_id"}).AddRow("s1"))
				mock.ExpectExec(`INSERT INTO member_roles`).WithArgs("m1", "r1", "s1").
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
				expectNotify(mock, "member:m1")
			},
		},
		{
			name: "cross server",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT server_id FROM members`).WithArgs("m1").
					WillReturnRows(pgxmock.NewRows([]string{"server_id"}).AddRow("s1"))
				mock.ExpectQuery(`SELECT server_id FROM roles`).WithArgs("r1").
					WillReturnRows(pgxmock.NewRows([]string{"server_id"}).AddRow("s2"))
				mock.ExpectRollback()
			},
			wantCode: "CROSS_SERVER_ASSIGNMENT",
		},
		{
			name: "unknown member",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT server_id FROM members`).WithArgs("m1").WillReturnError(pgx.ErrNoRows)
				mock.ExpectRollback()
			},
			wantCode: "MEMBER_NOT_FOUND",
		},
		{
			name: "unknown role",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT server_id FROM members`).WithArgs("m1").
					WillReturnRows(pgxmock.NewRows([]string{"server_id"}).AddRow("s1"))
				mock.ExpectQuery(`SELECT server_id FROM roles`).WithArgs("r1").WillReturnError(pgx.ErrNoRows)
				mock.ExpectRollback()
			},
			wantCode: "ROLE_NOT_FOUND",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			tt.setup(mock)

			err := s.AssignRole(context.Background(), "m1", "r1")
			if tt.wantCode == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, tt.wantCode)
			}
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_WritesNotifyTheirScope(t *testing.T) {
	key := access.GrantKey{Capability: access.CapabilitySpeak, Scope: access.ScopeChannel, TargetID: "c1"}
	tests := []struct {
		name    string
		sql     string
		payload string
		call    func(*PostgresStore) error
	}{
		{"legacy role", `UPDATE members SET legacy_role`, "member:m1", func(s *PostgresStore) error {
			return s.SetLegacyRole(context.Background(), "m1", access.LegacyRoleAdmin)
		}},
		{"unassign", `DELETE FROM member_roles`, "member:m1", func(s *PostgresStore) error {
			return s.UnassignRole(context.Background(), "m1", "r1")
		}},
		{"remove override", `DELETE FROM member_overrides`, "member:m1", func(s *PostgresStore) error {
			return s.RemoveOverride(context.Background(), "m1", key)
		}},
		{"remove grant", `DELETE FROM role_grants`, "role:r1", func(s *PostgresStore) error {
			return s.RemoveRoleGrant(context.Background(), "r1", key)
		}},
		{"update role", `UPDATE roles SET name`, "role:r1", func(s *PostgresStore) error {
			return s.UpdateRole(context.Background(), &access.Role{ID: "r1", Name: "Mods", Position: 4})
		}},
		{"delete role", `DELETE FROM roles`, "role:r1", func(s *PostgresStore) error {
			return s.DeleteRole(context.Background(), "r1")
		}},
		{"remove member", `DELETE FROM members`, "member:m1", func(s *PostgresStore) error {
			return s.RemoveMember(context.Background(), "m1")
		}},
		{"delete server", `DELETE FROM servers`, "server:s1", func(s *PostgresStore) error {
			return s.DeleteServer(context.Background(), "s1")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			mock.ExpectBegin()
			mock.ExpectExec(tt.sql).WillReturnResult(pgxmock.NewResult("OK", 1))
			expectNotify(mock, tt.payload)

			require.NoError(t, tt.call(s))
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_MissingRowsAreNotFound(t *testing.T) {
	key := access.GrantKey{Capability: access.CapabilitySpeak, Scope: access.ScopeServer}
	tests := []struct {
		name string
		code string
		call func(*PostgresStore) error
	}{
		{"legacy role", "MEMBER_NOT_FOUND", func(s *PostgresStore) error {
			return s.SetLegacyRole(context.Background(), "m1", access.LegacyRoleGuest)
		}},
		{"unassign", "ASSIGNMENT_NOT_FOUND", func(s *PostgresStore) error {
			return s.UnassignRole(context.Background(), "m1", "r1")
		}},
		{"remove override", "OVERRIDE_NOT_FOUND", func(s *PostgresStore) error {
			return s.RemoveOverride(context.Background(), "m1", key)
		}},
		{"remove grant", "GRANT_NOT_FOUND", func(s *PostgresStore) error {
			return s.RemoveRoleGrant(context.Background(), "r1", key)
		}},
		{"delete role", "ROLE_NOT_FOUND", func(s *PostgresStore) error {
			return s.DeleteRole(context.Background(), "r1")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			mock.ExpectBegin()
			mock.ExpectExec(`.`).WillReturnResult(pgxmock.NewResult("OK", 0))
			mock.ExpectRollback()

			err := tt.call(s)
			assert.ErrorIs(t, err, ErrNotFound)
			errutil.AssertErrorCode(t, err, tt.code)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_NotifyFailureAbortsWrite(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE members`).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`SELECT pg_notify`).WillReturnError(errors.New("notify queue full"))
	mock.ExpectRollback()

	err := s.SetLegacyRole(context.Background(), "m1", access.LegacyRoleModerator)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MEMBER_UPDATE_FAILED")
	errutil.AssertErrorContext(t, err, "operation", "notify")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddMember(t *testing.T) {
	t.Run("duplicate user", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO members`).WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
		mock.ExpectRollback()

		err := s.AddMember(context.Background(), &access.Member{ServerID: "s1", UserID: "u1", LegacyRole: access.LegacyRoleGuest})
		errutil.AssertErrorCode(t, err, "MEMBER_EXISTS")
	})

	t.Run("unknown legacy role", func(t *testing.T) {
		s, _ := newMockStore(t)
		err := s.AddMember(context.Background(), &access.Member{ServerID: "s1", UserID: "u1", LegacyRole: "OWNER"})
		errutil.AssertErrorCode(t, err, "INVALID_LEGACY_ROLE")
	})

	t.Run("assigns an id", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO members`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec(`SELECT pg_notify`).WillReturnResult(pgxmock.NewResult("SELECT", 1))
		mock.ExpectCommit()

		m := &access.Member{ServerID: "s1", UserID: "u1", LegacyRole: access.LegacyRoleGuest}
		require.NoError(t, s.AddMember(context.Background(), m))
		assert.Len(t, m.ID, 26)
		assert.False(t, m.CreatedAt.IsZero())
	})
}

func TestPostgresStore_ServerRoles(t *testing.T) {
	s, mock := newMockStore(t)
	cols := []string{"id", "server_id", "name", "color", "position", "hoist", "mentionable",
		"gid", "capability", "effect", "scope", "target_id"}
	str := func(v string) *string { return &v }
	mock.ExpectQuery(`LEFT JOIN role_grants`).WithArgs("s1").
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("r2", "s1", "Mods", "", 5, false, false, str("g1"), str("KICK_MEMBERS"), str("ALLOW"), str("SERVER"), str("")).
			AddRow("r2", "s1", "Mods", "", 5, false, false, str("g2"), str("BAN_MEMBERS"), str("DENY"), str("SERVER"), str("")).
			AddRow("r1", "s1", "Everyone", "", 0, false, false, nil, nil, nil, nil, nil))

	roles, err := s.ServerRoles(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Len(t, roles[0].Grants, 2)
	assert.Equal(t, access.EffectDeny, roles[0].Grants[1].Effect)
	assert.Empty(t, roles[1].Grants)
}
