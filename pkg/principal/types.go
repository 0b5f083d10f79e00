// Package principal implements the Principal Resolver (C5): given a
// principal HRN, returns its groups and, via the org tree, its OU chain to
// the root.
package principal

import "github.com/Rubentxu/hodei-artifacts-sub002/pkg/hrn"

// EntityType distinguishes the two Principal variants from §3.
type EntityType string

const (
	User           EntityType = "User"
	ServiceAccount EntityType = "ServiceAccount"
)

// Principal carries HRN, display name, and an optional attributes map.
// Groups are referenced by HRN; membership is stored adjacent to groups,
// not embedded in the principal, to avoid cyclic ownership (§9).
type Principal struct {
	HRN         hrn.HRN
	Type        EntityType
	DisplayName string
	Attributes  map[string]any
}

// Group is HRN, name, set of attached policy HRNs. Groups cannot contain
// groups (§3).
type Group struct {
	HRN        hrn.HRN
	Name       string
	PolicyHRNs []hrn.HRN
}

// OU is HRN, parent OU HRN (nullable for root), set of attached SCP HRNs.
// Forms a tree; cycles are rejected on write (§3, §9).
type OU struct {
	HRN        hrn.HRN
	ParentOU   hrn.HRN // zero value marks the root
	SCPHRNs    []hrn.HRN
}

// IsRoot reports whether this OU has no parent.
func (o OU) IsRoot() bool { return o.ParentOU.IsZero() }
