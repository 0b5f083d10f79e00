// Package hrn implements the Hierarchical Resource Name: the canonical
// identifier for every entity in the authorization control plane (policies,
// principals, groups, OUs, accounts, resources).
//
// An HRN is the tuple (partition, service, account, resource_type,
// resource_id), serialized as:
//
//	hrn:<partition>:<service>::<account>:<resource_type>/<resource_id>
//
// The double colon between service and account is a reserved field kept for
// symmetry with the wire format; it carries no data today.
package hrn

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// HRN is an immutable, hashable, structurally-comparable identifier.
// Two HRNs are equal iff every field compares equal; Go's built-in struct
// equality gives this for free since HRN holds only comparable fields.
type HRN struct {
	Partition    string
	Service      string
	Account      string
	ResourceType string
	ResourceID   string
}

const prefix = "hrn"

var lowerer = cases.Lower(language.Und)

// New constructs an HRN, normalizing service to lowercase per the grammar.
func New(partition, service, account, resourceType, resourceID string) HRN {
	return HRN{
		Partition:    partition,
		Service:      lowerer.String(service),
		Account:      account,
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// ParseErrorKind enumerates the ways a candidate string fails to be an HRN.
type ParseErrorKind string

const (
	MissingPrefix        ParseErrorKind = "MissingPrefix"
	InsufficientSegments ParseErrorKind = "InsufficientSegments"
	EmptyComponent       ParseErrorKind = "EmptyComponent"
)

// ParseError reports why Parse rejected a candidate string.
type ParseError struct {
	Kind  ParseErrorKind
	Input string
}

func (e *ParseError) Error() string {
	return "hrn: " + string(e.Kind) + ": " + e.Input
}

// Parse parses the canonical string form into an HRN.
//
// Grammar: hrn:<partition>:<service>::<account>:<resource_type>/<resource_id>
// Service is lowercased; all other fields are preserved verbatim.
// Round-trip law: Parse(x.String()) == x for any x produced by New/Parse.
func Parse(text string) (HRN, error) {
	parts := strings.SplitN(text, ":", 6)
	if len(parts) < 6 {
		return HRN{}, &ParseError{Kind: InsufficientSegments, Input: text}
	}
	if parts[0] != prefix {
		return HRN{}, &ParseError{Kind: MissingPrefix, Input: text}
	}

	partition, service, reserved, account, tail := parts[1], parts[2], parts[3], parts[4], parts[5]
	if reserved != "" {
		return HRN{}, &ParseError{Kind: EmptyComponent, Input: text}
	}

	resourceType, resourceID, ok := strings.Cut(tail, "/")
	if !ok {
		return HRN{}, &ParseError{Kind: InsufficientSegments, Input: text}
	}

	if partition == "" || service == "" || account == "" || resourceType == "" || resourceID == "" {
		return HRN{}, &ParseError{Kind: EmptyComponent, Input: text}
	}

	return HRN{
		Partition:    partition,
		Service:      lowerer.String(service),
		Account:      account,
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}, nil
}

// MustParse is Parse, panicking on error. Intended for static HRNs known at
// compile time (tests, constants), never for user-supplied input.
func MustParse(text string) HRN {
	h, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return h
}

// String renders the canonical form. String and Parse round-trip:
// Parse(h.String()) reproduces h exactly.
func (h HRN) String() string {
	var b strings.Builder
	b.Grow(len(h.Partition) + len(h.Service) + len(h.Account) + len(h.ResourceType) + len(h.ResourceID) + 8)
	b.WriteString(prefix)
	b.WriteByte(':')
	b.WriteString(h.Partition)
	b.WriteByte(':')
	b.WriteString(h.Service)
	b.WriteString("::")
	b.WriteString(h.Account)
	b.WriteByte(':')
	b.WriteString(h.ResourceType)
	b.WriteByte('/')
	b.WriteString(h.ResourceID)
	return b.String()
}

// IsZero reports whether h is the zero value (useful for "no parent OU").
func (h HRN) IsZero() bool {
	return h == HRN{}
}
