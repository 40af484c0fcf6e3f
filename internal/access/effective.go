// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Guildhall Contributors

package access

import "strings"

// CapabilitySet is an immutable set of catalog capabilities.
type CapabilitySet struct {
	// bits holds one flag per catalog index.
	bits []bool
	n    int
}

// NewCapabilitySet builds a set from caps. Capabilities outside the catalog
// are ignored.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := CapabilitySet{bits: make([]bool, len(catalog))}
	for _, c := range caps {
		i, ok := catalogIndex[c]
		if !ok || s.bits[i] {
			continue
		}
		s.bits[i] = true
		s.n++
	}
	return s
}

// FullCapabilitySet returns a set holding the entire catalog.
func FullCapabilitySet() CapabilitySet {
	return NewCapabilitySet(catalog[:]...)
}

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	i, ok := catalogIndex[c]
	return ok && i < len(s.bits) && s.bits[i]
}

// Len returns the number of capabilities in the set.
func (s CapabilitySet) Len() int {
	return s.n
}

// Slice returns the members in catalog order.
func (s CapabilitySet) Slice() []Capability {
	out := make([]Capability, 0, s.n)
	for i, set := range s.bits {
		if set {
			out = append(out, catalog[i])
		}
	}
	return out
}

// Strings returns the capability names in catalog order.
func (s CapabilitySet) Strings() []string {
	out := make([]string, 0, s.n)
	for _, c := range s.Slice() {
		out = append(out, string(c))
	}
	return out
}

// Equal reports whether both sets hold the same capabilities.
func (s CapabilitySet) Equal(other CapabilitySet) bool {
	if s.n != other.n {
		return false
	}
	for _, c := range s.Slice() {
		if !other.Has(c) {
			return false
		}
	}
	return true
}

func (s CapabilitySet) String() string {
	return "{" + strings.Join(s.Strings(), ",") + "}"
}

// EffectiveCapabilities returns every capability the member holds in the
// given scope and target. Superusers and server administrators hold the whole
// catalog; anyone else holds exactly what Resolve grants.
func (e *Evaluator) EffectiveCapabilities(scope Scope, targetID string) CapabilitySet {
	if e.IsSuperuser() || e.IsAdministrator() {
		return FullCapabilitySet()
	}
	granted := make([]Capability, 0, len(catalog))
	for _, c := range catalog {
		q := Query{Capability: c, Scope: scope, TargetID: targetID}
		if e.Resolve(q).Granted {
			granted = append(granted, c)
		}
	}
	return NewCapabilitySet(granted...)
}

// EffectiveCapabilities is the single-call form of
// Evaluator.EffectiveCapabilities.
func EffectiveCapabilities(m *Member, scope Scope, targetID string) CapabilitySet {
	return NewEvaluator(m).EffectiveCapabilities(scope, targetID)
}
