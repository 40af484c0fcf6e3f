// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

package access

import (
	"strings"

	"github.com/samber/oops"
)

// ModerationAction is an action one member takes against another.
type ModerationAction string

// ModerationAction constants.
const (
	ActionKick        ModerationAction = "KICK"
	ActionBan         ModerationAction = "BAN"
	ActionTimeout     ModerationAction = "TIMEOUT"
	ActionManageRoles ModerationAction = "MANAGE_ROLES"
)

// Capability returns the capability an actor needs for the action.
func (a ModerationAction) Capability() (Capability, bool) {
	switch a {
	case ActionKick:
		return CapabilityKickMembers, true
	case ActionBan:
		return CapabilityBanMembers, true
	case ActionTimeout:
		return CapabilityTimeoutMembers, true
	case ActionManageRoles:
		return CapabilityManageRoles, true
	default:
		return "", false
	}
}

// ParseModerationAction converts a boundary string into a ModerationAction.
func ParseModerationAction(s string) (ModerationAction, error) {
	a := ModerationAction(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := a.Capability(); !ok {
		return "", oops.In("access").
			Code("INVALID_ACTION").
			With("action", s).
			Errorf("unknown moderation action %q", s)
	}
	return a, nil
}

// ManageReason explains a ManageDecision.
type ManageReason string

// ManageReason constants.
const (
	ManageCrossServer         ManageReason = "CROSS_SERVER"
	ManageSelf                ManageReason = "SELF"
	ManageSuperuser           ManageReason = "SUPERUSER"
	ManageTargetSuperuser     ManageReason = "TARGET_SUPERUSER"
	ManageAdministrator       ManageReason = "ADMINISTRATOR"
	ManageTargetAdministrator ManageReason = "TARGET_ADMINISTRATOR"
	ManageMissingCapability   ManageReason = "MISSING_CAPABILITY"
	ManageHierarchy           ManageReason = "HIERARCHY"
	ManageUnknownAction       ManageReason = "UNKNOWN_ACTION"
	ManageRoleCapability      ManageReason = "ROLE_CAPABILITY"
	ManageUnknownMember       ManageReason = "UNKNOWN_MEMBER"
)

// ManageDecision is the outcome of a hierarchy check.
type ManageDecision struct {
	Allowed bool         `json:"allowed"`
	Reason  ManageReason `json:"reason"`
}

// CheckManage decides whether actor may take action against target and says
// why. Rules apply in order: same server, not self, superuser, administrator,
// then capability plus a strictly higher top role position.
func CheckManage(actor, target *Evaluator, action ModerationAction) ManageDecision {
	a, t := actor.Member(), target.Member()

	if a.ServerID != t.ServerID {
		return ManageDecision{Reason: ManageCrossServer}
	}
	if a.ID == t.ID {
		return ManageDecision{Reason: ManageSelf}
	}

	if actor.IsSuperuser() {
		if target.IsSuperuser() {
			return ManageDecision{Reason: ManageTargetSuperuser}
		}
		return ManageDecision{Allowed: true, Reason: ManageSuperuser}
	}

	if actor.IsAdministrator() {
		// Superusers resolve ADMINISTRATOR too, so they are covered here.
		if target.Resolve(ServerQuery(CapabilityAdministrator)).Granted {
			return ManageDecision{Reason: ManageTargetAdministrator}
		}
		return ManageDecision{Allowed: true, Reason: ManageAdministrator}
	}

	capability, ok := action.Capability()
	if !ok {
		return ManageDecision{Reason: ManageUnknownAction}
	}
	if !actor.Resolve(ServerQuery(capability)).Granted {
		return ManageDecision{Reason: ManageMissingCapability}
	}
	if a.HighestPosition() <= t.HighestPosition() {
		return ManageDecision{Reason: ManageHierarchy}
	}
	return ManageDecision{Allowed: true, Reason: ManageRoleCapability}
}

// CanManage reports whether actor may take action against target.
func CanManage(actor, target *Member, action ModerationAction) bool {
	return CheckManage(NewEvaluator(actor), NewEvaluator(target), action).Allowed
}
