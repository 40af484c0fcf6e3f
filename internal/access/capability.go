// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

package access

import (
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Capability names a permission kind that a grant can allow or deny.
type Capability string

// Capability constants define the closed catalog. Declaration order is the
// catalog order used by Catalog and CapabilitySet.Slice.
const (
	CapabilityAdministrator       Capability = "ADMINISTRATOR"
	CapabilityManageServer        Capability = "MANAGE_SERVER"
	CapabilityManageRoles         Capability = "MANAGE_ROLES"
	CapabilityManageChannels      Capability = "MANAGE_CHANNELS"
	CapabilityManageMessages      Capability = "MANAGE_MESSAGES"
	CapabilityManageNicknames     Capability = "MANAGE_NICKNAMES"
	CapabilityKickMembers         Capability = "KICK_MEMBERS"
	CapabilityBanMembers          Capability = "BAN_MEMBERS"
	CapabilityTimeoutMembers      Capability = "TIMEOUT_MEMBERS"
	CapabilityViewAuditLog        Capability = "VIEW_AUDIT_LOG"
	CapabilityViewChannels        Capability = "VIEW_CHANNELS"
	CapabilitySendMessages        Capability = "SEND_MESSAGES"
	CapabilityAttachFiles         Capability = "ATTACH_FILES"
	CapabilityEmbedLinks          Capability = "EMBED_LINKS"
	CapabilityAddReactions        Capability = "ADD_REACTIONS"
	CapabilityMentionEveryone     Capability = "MENTION_EVERYONE"
	CapabilityReadMessageHistory  Capability = "READ_MESSAGE_HISTORY"
	CapabilityConnect             Capability = "CONNECT"
	CapabilitySpeak               Capability = "SPEAK"
	CapabilityStream              Capability = "STREAM"
	CapabilityCreateInstantInvite Capability = "CREATE_INSTANT_INVITE"
)

var catalog = [...]Capability{
	CapabilityAdministrator,
	CapabilityManageServer,
	CapabilityManageRoles,
	CapabilityManageChannels,
	CapabilityManageMessages,
	CapabilityManageNicknames,
	CapabilityKickMembers,
	CapabilityBanMembers,
	CapabilityTimeoutMembers,
	CapabilityViewAuditLog,
	CapabilityViewChannels,
	CapabilitySendMessages,
	CapabilityAttachFiles,
	CapabilityEmbedLinks,
	CapabilityAddReactions,
	CapabilityMentionEveryone,
	CapabilityReadMessageHistory,
	CapabilityConnect,
	CapabilitySpeak,
	CapabilityStream,
	CapabilityCreateInstantInvite,
}

// catalogIndex maps a capability to its position in catalog.
var catalogIndex = func() map[Capability]int {
	idx := make(map[Capability]int, len(catalog))
	for i, c := range catalog {
		idx[c] = i
	}
	return idx
}()

// Catalog returns every capability in declaration order.
// The returned slice is a copy and may be modified by the caller.
func Catalog() []Capability {
	out := make([]Capability, len(catalog))
	copy(out, catalog[:])
	return out
}

// String returns the capability name.
func (c Capability) String() string {
	return string(c)
}

// Valid reports whether c is part of the catalog.
func (c Capability) Valid() bool {
	_, ok := catalogIndex[c]
	return ok
}

// ParseCapability converts a boundary string into a catalog capability.
// Matching is case-insensitive; surrounding whitespace is ignored.
func ParseCapability(s string) (Capability, error) {
	c := Capability(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", oops.In("access").
			Code("INVALID_CAPABILITY").
			With("capability", s).
			Errorf("unknown capability %q", s)
	}
	return c, nil
}

// MatchCapabilities returns the catalog capabilities whose names match the
// glob pattern, in catalog order. Matching is case-insensitive.
func MatchCapabilities(pattern string) ([]Capability, error) {
	g, err := glob.Compile(strings.ToUpper(strings.TrimSpace(pattern)))
	if err != nil {
		return nil, oops.In("access").
			Code("INVALID_PATTERN").
			With("pattern", pattern).
			Wrap(err)
	}
	var out []Capability
	for _, c := range catalog {
		if g.Match(string(c)) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Scope is the breadth a grant applies to.
type Scope string

// Scope constants.
const (
	ScopeServer   Scope = "SERVER"
	ScopeCategory Scope = "CATEGORY"
	ScopeChannel  Scope = "CHANNEL"
)

// String returns the scope name.
func (s Scope) String() string {
	return string(s)
}

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeServer, ScopeCategory, ScopeChannel:
		return true
	default:
		return false
	}
}

// Targeted reports whether grants in this scope name a category or channel.
func (s Scope) Targeted() bool {
	return s == ScopeCategory || s == ScopeChannel
}

// ParseScope converts a boundary string into a Scope. An empty string
// parses as ScopeServer.
func ParseScope(s string) (Scope, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(s))
	if trimmed == "" {
		return ScopeServer, nil
	}
	scope := Scope(trimmed)
	if !scope.Valid() {
		return "", oops.In("access").
			Code("INVALID_SCOPE").
			With("scope", s).
			Errorf("unknown scope %q", s)
	}
	return scope, nil
}

// Effect is what a grant declares when it matches.
type Effect string

// Effect constants.
const (
	EffectAllow Effect = "ALLOW"
	EffectDeny  Effect = "DENY"
)

// String returns the effect name.
func (e Effect) String() string {
	return string(e)
}

// Valid reports whether e is ALLOW or DENY.
func (e Effect) Valid() bool {
	return e == EffectAllow || e == EffectDeny
}

// ParseEffect converts a boundary string into an Effect.
func ParseEffect(s string) (Effect, error) {
	e := Effect(strings.ToUpper(strings.TrimSpace(s)))
	if !e.Valid() {
		return "", oops.In("access").
			Code("INVALID_EFFECT").
			With("effect", s).
			Errorf("unknown effect %q", s)
	}
	return e, nil
}
