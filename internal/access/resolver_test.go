// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

package access_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildhall/guildhall/internal/access"
	at "github.com/guildhall/guildhall/internal/access/accesstest"
)

func channelQuery(c access.Capability, channelID string) access.Query {
	return access.Query{Capability: c, Scope: access.ScopeChannel, TargetID: channelID}
}

func TestResolve_SuperuserBypassesEverything(t *testing.T) {
	m := at.NewMember("su", at.Superuser(),
		at.WithRoles(at.Role("muted", 50, at.Deny(access.CapabilitySendMessages))),
		at.WithOverrides(at.DenyIn(access.CapabilitySendMessages, access.ScopeChannel, "c1")),
	)
	ev := access.NewEvaluator(m)

	for _, c := range access.Catalog() {
		for _, q := range []access.Query{
			access.ServerQuery(c),
			{Capability: c, Scope: access.ScopeCategory, TargetID: "cat-9"},
			channelQuery(c, "c1"),
		} {
			got := ev.Resolve(q)
			assert.True(t, got.Granted, "%s %s", q.Capability, q.Scope)
			assert.Equal(t, access.ReasonSuperuser, got.Reason)
			assert.Equal(t, access.SourceNone, got.SourceKind)
		}
	}
}

func TestResolve_AdministratorGrantsEveryCapability(t *testing.T) {
	tests := []struct {
		name       string
		member     *access.Member
		sourceKind access.SourceKind
		sourceID   string
	}{
		{
			name: "via role",
			member: at.NewMember("admin",
				at.WithRoles(at.Role("owners", 3, at.Allow(access.CapabilityAdministrator))),
			),
			sourceKind: access.SourceRole,
			sourceID:   "owners",
		},
		{
			name:       "via override",
			member:     at.NewMember("admin", at.WithOverrides(at.Allow(access.CapabilityAdministrator))),
			sourceKind: access.SourceOverride,
			sourceID:   at.Allow(access.CapabilityAdministrator).ID,
		},
		{
			name: "despite explicit denies elsewhere",
			member: at.NewMember("admin",
				at.WithRoles(
					at.Role("owners", 3, at.Allow(access.CapabilityAdministrator)),
					at.Role("muted", 9, at.Deny(access.CapabilitySendMessages)),
				),
				at.WithOverrides(at.DenyIn(access.CapabilityViewChannels, access.ScopeChannel, "c1")),
			),
			sourceKind: access.SourceRole,
			sourceID:   "owners",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := access.NewEvaluator(tt.member)
			require.True(t, ev.IsAdministrator())
			for _, c := range access.Catalog() {
				for _, q := range []access.Query{access.ServerQuery(c), channelQuery(c, "c1")} {
					got := ev.Resolve(q)
					assert.True(t, got.Granted, "%s", c)
					assert.Equal(t, access.ReasonAdministrator, got.Reason)
					assert.Equal(t, tt.sourceKind, got.SourceKind)
					assert.Equal(t, tt.sourceID, got.SourceID)
				}
			}
		})
	}
}

func TestResolve_AdministratorMustBeServerScope(t *testing.T) {
	m := at.NewMember("m",
		at.WithRoles(at.Role("chan-admin", 4,
			at.AllowIn(access.CapabilityAdministrator, access.ScopeChannel, "c1"))),
	)
	ev := access.NewEvaluator(m)

	assert.False(t, ev.IsAdministrator())
	got := ev.Resolve(channelQuery(access.CapabilityKickMembers, "c1"))
	assert.False(t, got.Granted)
	assert.Equal(t, access.ReasonDefaultDeny, got.Reason)
}

func TestResolve_AdministratorDeniedByOverride(t *testing.T) {
	m := at.NewMember("m",
		at.WithRoles(at.Role("owners", 3, at.Allow(access.CapabilityAdministrator))),
		at.WithOverrides(at.Deny(access.CapabilityAdministrator)),
	)
	ev := access.NewEvaluator(m)

	assert.False(t, ev.IsAdministrator())
	got := ev.Resolve(access.ServerQuery(access.CapabilityAdministrator))
	assert.False(t, got.Granted)
	assert.Equal(t, access.ReasonUserOverride, got.Reason)
}

func TestResolve_OverrideBeatsRole(t *testing.T) {
	deny := at.DenyIn(access.CapabilitySendMessages, access.ScopeChannel, "c1")
	m := at.NewMember("m",
		at.WithRoles(at.Role("talkers", 7, at.AllowIn(access.CapabilitySendMessages, access.ScopeChannel, "c1"))),
		at.WithOverrides(deny),
	)

	got := access.Resolve(m, channelQuery(access.CapabilitySendMessages, "c1"))
	assert.False(t, got.Granted)
	assert.Equal(t, access.ReasonUserOverride, got.Reason)
	assert.Equal(t, access.SourceOverride, got.SourceKind)
	assert.Equal(t, deny.ID, got.SourceID)
}

func TestResolve_OverrideWithoutIDReportsItsKey(t *testing.T) {
	m := at.NewMember("m", at.WithOverrides(access.Grant{
		Capability: access.CapabilitySendMessages, Effect: access.EffectDeny,
		Scope: access.ScopeChannel, TargetID: "c1",
	}))

	got := access.Resolve(m, channelQuery(access.CapabilitySendMessages, "c1"))
	assert.Equal(t, access.ReasonUserOverride, got.Reason)
	assert.Equal(t, "SEND_MESSAGES/CHANNEL/c1", got.SourceID)
}

func TestResolve_OverrideAllowBeatsRoleDeny(t *testing.T) {
	m := at.NewMember("m",
		at.WithRoles(at.Role("muted", 7, at.Deny(access.CapabilitySendMessages))),
		at.WithOverrides(at.Allow(access.CapabilitySendMessages)),
	)

	got := access.Resolve(m, access.ServerQuery(access.CapabilitySendMessages))
	assert.True(t, got.Granted)
	assert.Equal(t, access.ReasonUserOverride, got.Reason)
}

func TestResolve_OverrideMatchesExactKeyOnly(t *testing.T) {
	m := at.NewMember("m", at.WithOverrides(at.Allow(access.CapabilitySendMessages)))

	assert.True(t, access.Resolve(m, access.ServerQuery(access.CapabilitySendMessages)).Granted)

	got := access.Resolve(m, channelQuery(access.CapabilitySendMessages, "c1"))
	assert.False(t, got.Granted, "a SERVER override must not satisfy a CHANNEL query")
	assert.Equal(t, access.ReasonDefaultDeny, got.Reason)

	got = access.Resolve(m, channelQuery(access.CapabilitySendMessages, "c2"))
	assert.Equal(t, access.ReasonDefaultDeny, got.Reason)
}

func TestResolve_LowerRoleDenyWinsOverHigherRoleAllow(t *testing.T) {
	// R1 at position 10 allows, R2 at position 1 denies: the deny still wins.
	m := at.NewMember("m", at.WithRoles(
		at.Role("R1", 10, at.Allow(access.CapabilityManageMessages)),
		at.Role("R2", 1, at.Deny(access.CapabilityManageMessages)),
	))

	got := access.Resolve(m, access.ServerQuery(access.CapabilityManageMessages))
	assert.False(t, got.Granted)
	assert.Equal(t, access.ReasonRole, got.Reason)
	assert.Equal(t, access.SourceRole, got.SourceKind)
	assert.Equal(t, "R2", got.SourceID)
}

func TestResolve_RoleScan(t *testing.T) {
	tests := []struct {
		name        string
		roles       []access.Role
		wantGranted bool
		wantReason  access.Reason
		wantSource  string
	}{
		{
			name:        "single allow",
			roles:       []access.Role{at.Role("a", 1, at.Allow(access.CapabilityKickMembers))},
			wantGranted: true,
			wantReason:  access.ReasonRole,
			wantSource:  "a",
		},
		{
			name: "allow source is the last allowing role in descending order",
			roles: []access.Role{
				at.Role("high", 9, at.Allow(access.CapabilityKickMembers)),
				at.Role("low", 2, at.Allow(access.CapabilityKickMembers)),
			},
			wantGranted: true,
			wantReason:  access.ReasonRole,
			wantSource:  "low",
		},
		{
			name: "first deny in descending order is the source",
			roles: []access.Role{
				at.Role("low", 2, at.Deny(access.CapabilityKickMembers)),
				at.Role("high", 9, at.Deny(access.CapabilityKickMembers)),
			},
			wantGranted: false,
			wantReason:  access.ReasonRole,
			wantSource:  "high",
		},
		{
			name: "equal positions order by id",
			roles: []access.Role{
				at.Role("b", 5, at.Allow(access.CapabilityKickMembers)),
				at.Role("a", 5, at.Allow(access.CapabilityKickMembers)),
			},
			wantGranted: true,
			wantReason:  access.ReasonRole,
			wantSource:  "b",
		},
		{
			name: "non matching grants are ignored",
			roles: []access.Role{
				at.Role("a", 5,
					at.Allow(access.CapabilityBanMembers),
					at.DenyIn(access.CapabilityKickMembers, access.ScopeChannel, "c1")),
			},
			wantGranted: false,
			wantReason:  access.ReasonDefaultDeny,
		},
		{
			name:       "no roles",
			wantReason: access.ReasonDefaultDeny,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := at.NewMember("m", at.WithRoles(tt.roles...))
			got := access.Resolve(m, access.ServerQuery(access.CapabilityKickMembers))
			assert.Equal(t, tt.wantGranted, got.Granted)
			assert.Equal(t, tt.wantReason, got.Reason)
			assert.Equal(t, tt.wantSource, got.SourceID)
			if tt.wantReason == access.ReasonRole {
				assert.Equal(t, tt.wantSource, got.SourceName)
			}
		})
	}
}

func TestResolve_DefaultDeny(t *testing.T) {
	m := at.NewMember("m", at.WithLegacyRole(access.LegacyRoleModerator))

	for _, c := range access.Catalog() {
		got := access.Resolve(m, access.ServerQuery(c))
		assert.Equal(t, access.DefaultDeny(), got, "%s", c)
	}
}

func TestResolve_ZeroScopeMeansServer(t *testing.T) {
	m := at.NewMember("m", at.WithRoles(at.Role("a", 1, at.Allow(access.CapabilitySpeak))))

	got := access.Resolve(m, access.Query{Capability: access.CapabilitySpeak})
	assert.True(t, got.Granted)
}

func TestResolve_DoesNotReorderCallerRoles(t *testing.T) {
	roles := []access.Role{at.Role("low", 1), at.Role("high", 9)}
	m := at.NewMember("m", at.WithRoles(roles...))

	access.NewEvaluator(m)
	assert.Equal(t, "low", m.Roles[0].ID)
}

func TestEvaluator_ConcurrentResolve(t *testing.T) {
	m := at.NewMember("m", at.WithRoles(
		at.Role("R1", 10, at.Allow(access.CapabilityManageMessages)),
		at.Role("R2", 1, at.Deny(access.CapabilityManageMessages)),
		at.Role("R3", 4, at.Allow(access.CapabilitySendMessages)),
	))
	ev := access.NewEvaluator(m)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				assert.False(t, ev.Resolve(access.ServerQuery(access.CapabilityManageMessages)).Granted)
				assert.True(t, ev.Resolve(access.ServerQuery(access.CapabilitySendMessages)).Granted)
			}
		}()
	}
	wg.Wait()
}

func TestExplain_ListsEveryMatchInScanOrder(t *testing.T) {
	override := at.Allow(access.CapabilityManageMessages)
	m := at.NewMember("m",
		at.WithRoles(
			at.Role("R2", 1, at.Deny(access.CapabilityManageMessages)),
			at.Role("R1", 10, at.Allow(access.CapabilityManageMessages)),
			at.Role("other", 5, at.Allow(access.CapabilitySpeak)),
		),
		at.WithOverrides(override),
	)

	ex := access.NewEvaluator(m).Explain(access.ServerQuery(access.CapabilityManageMessages))

	assert.True(t, ex.Result.Granted)
	assert.Equal(t, access.ReasonUserOverride, ex.Result.Reason)
	assert.Equal(t, access.ScopeServer, ex.Scope)
	require.NotNil(t, ex.Override)
	assert.Equal(t, override.ID, ex.Override.ID)
	require.Len(t, ex.RoleMatches, 2)
	assert.Equal(t, "R1", ex.RoleMatches[0].RoleID)
	assert.Equal(t, access.EffectAllow, ex.RoleMatches[0].Effect)
	assert.Equal(t, "R2", ex.RoleMatches[1].RoleID)
	assert.Equal(t, access.EffectDeny, ex.RoleMatches[1].Effect)
}

func TestExplain_Superuser(t *testing.T) {
	ex := access.NewEvaluator(at.NewMember("su", at.Superuser())).
		Explain(channelQuery(access.CapabilityStream, "c1"))

	assert.True(t, ex.Superuser)
	assert.False(t, ex.Administrator)
	assert.Equal(t, access.ReasonSuperuser, ex.Result.Reason)
	assert.Nil(t, ex.Override)
	assert.Empty(t, ex.RoleMatches)
}
