// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

package access

import (
	"sort"
	"strings"

	"github.com/samber/oops"
)

// Capability groups define reusable server-scope allow sets.
// Presets compose these groups rather than inheriting.

var memberPowers = []Capability{
	CapabilityViewChannels,
	CapabilitySendMessages,
	CapabilityReadMessageHistory,
	CapabilityAddReactions,
	CapabilityEmbedLinks,
	CapabilityAttachFiles,
	CapabilityConnect,
	CapabilitySpeak,
	CapabilityStream,
	CapabilityCreateInstantInvite,
}

var moderatorPowers = []Capability{
	CapabilityManageMessages,
	CapabilityManageNicknames,
	CapabilityKickMembers,
	CapabilityTimeoutMembers,
	CapabilityViewAuditLog,
	CapabilityMentionEveryone,
}

var managerPowers = []Capability{
	CapabilityManageChannels,
	CapabilityManageRoles,
	CapabilityManageServer,
	CapabilityBanMembers,
}

// Preset names.
const (
	PresetMember    = "member"
	PresetModerator = "moderator"
	PresetManager   = "manager"
	PresetAdmin     = "admin"
)

// DefaultPresets returns the built-in grant bundles that new roles can be
// created from. Each preset is a list of SERVER scope ALLOW capabilities.
func DefaultPresets() map[string][]Capability {
	return map[string][]Capability{
		PresetMember:    compose(memberPowers),
		PresetModerator: compose(memberPowers, moderatorPowers),
		PresetManager:   compose(memberPowers, moderatorPowers, managerPowers),
		PresetAdmin:     {CapabilityAdministrator},
	}
}

// PresetNames returns the preset names in sorted order.
func PresetNames() []string {
	presets := DefaultPresets()
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PresetGrants returns the SERVER scope ALLOW grants for the named preset.
func PresetGrants(name string) ([]Grant, error) {
	caps, ok := DefaultPresets()[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, oops.In("access").
			Code("UNKNOWN_PRESET").
			With("preset", name).
			With("known", PresetNames()).
			Errorf("unknown role preset %q", name)
	}
	grants := make([]Grant, 0, len(caps))
	for _, c := range caps {
		grants = append(grants, Grant{Capability: c, Effect: EffectAllow, Scope: ScopeServer})
	}
	return grants, nil
}

// compose merges capability groups into one slice.
func compose(groups ...[]Capability) []Capability {
	total := 0
	for _, g := range groups {
		total += len(g)
	}
	result := make([]Capability, 0, total)
	for _, g := range groups {
		result = append(result, g...)
	}
	return result
}
