// Package schema implements the Schema Registry (C3): the authoritative
// declaration of entity types, action signatures, and attribute types that
// the policy validator/compiler checks policies against.
package schema

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Rubentxu/hodei-artifacts-sub002/pkg/apierr"
)

// AttributeType is the closed set of scalar/collection types an entity
// attribute may declare.
type AttributeType string

const (
	TypeString AttributeType = "String"
	TypeInt    AttributeType = "Int"
	TypeBool   AttributeType = "Bool"
	TypeFloat  AttributeType = "Float"
	TypeList   AttributeType = "List"
	TypeMap    AttributeType = "Map"
)

// EntityTypeDecl declares one entity type and its attribute schema.
type EntityTypeDecl struct {
	Name       string
	Attributes map[string]AttributeType
}

// ActionDecl declares one action and the principal/resource type pairs it
// may legally apply to.
type ActionDecl struct {
	Name                   string
	AppliesToPrincipalType []string
	AppliesToResourceType  []string
}

// AppliesTo reports whether the action is declared to apply to the given
// principal and resource entity types.
func (a ActionDecl) AppliesTo(principalType, resourceType string) bool {
	return contains(a.AppliesToPrincipalType, principalType) && contains(a.AppliesToResourceType, resourceType)
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// Schema is one versioned snapshot of entity types and action declarations.
type Schema struct {
	Version     uint64
	EntityTypes map[string]EntityTypeDecl
	Actions     map[string]ActionDecl

	// ReleaseTag is an optional operator-facing SemVer label (e.g.
	// "v1.2.0"), independent of the internal monotonic Version the
	// registry and decision path actually compare against. Validated at
	// the JSON-document proposal boundary (ParseSchemaDocument), not
	// interpreted anywhere in the hot decision path.
	ReleaseTag string
}

// Handle is an immutable reference to one schema version. The active handle
// is swapped atomically by Registry; holders of an old handle keep a
// consistent view even after a newer version activates.
type Handle struct {
	schema *Schema
}

func (h Handle) Version() uint64 { return h.schema.Version }

func (h Handle) EntityType(name string) (EntityTypeDecl, bool) {
	d, ok := h.schema.EntityTypes[name]
	return d, ok
}

func (h Handle) Action(name string) (ActionDecl, bool) {
	d, ok := h.schema.Actions[name]
	return d, ok
}

// Registry holds one active schema version and a bounded history of prior
// versions, reachable by Get for bundles pinned to an older version.
type Registry struct {
	mu         sync.Mutex
	active     atomic.Pointer[Schema]
	history    map[uint64]*Schema
	maxHistory int
}

// NewRegistry constructs a Registry with initial as its active schema; a
// zero initial.Version is set to 1.
func NewRegistry(initial *Schema, maxHistory int) *Registry {
	if initial.Version == 0 {
		initial.Version = 1
	}
	r := &Registry{
		history:    map[uint64]*Schema{initial.Version: initial},
		maxHistory: maxHistory,
	}
	r.active.Store(initial)
	return r
}

// Active returns a handle to the currently active schema.
func (r *Registry) Active() Handle {
	return Handle{schema: r.active.Load()}
}

// Get returns a handle to a specific historical (or active) version.
func (r *Registry) Get(version uint64) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.history[version]
	if !ok {
		return Handle{}, apierr.New(apierr.NotFound, fmt.Sprintf("schema version %d not found", version))
	}
	return Handle{schema: s}, nil
}

// Propose activates a new schema version. A proposal whose Version does not
// exceed the active version is given the active version plus one. It must
// not remove any entity type or action already present in the active
// schema — removal is a breaking
// change that requires a migration plan referencing the affected HRNs,
// which this registry does not (yet) accept, so it rejects the proposal
// with IncompatibleChange.
func (r *Registry) Propose(next *Schema) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.active.Load()
	if next.Version <= current.Version {
		next.Version = current.Version + 1
	}

	for name := range current.EntityTypes {
		if _, ok := next.EntityTypes[name]; !ok {
			return 0, apierr.New(apierr.Validation, fmt.Sprintf("schema: proposal removes entity type %q without a migration plan (IncompatibleChange)", name))
		}
	}
	for name := range current.Actions {
		if _, ok := next.Actions[name]; !ok {
			return 0, apierr.New(apierr.Validation, fmt.Sprintf("schema: proposal removes action %q without a migration plan (IncompatibleChange)", name))
		}
	}

	r.history[next.Version] = next
	if len(r.history) > r.maxHistory {
		r.evictOldestLocked()
	}
	r.active.Store(next)
	return next.Version, nil
}

func (r *Registry) evictOldestLocked() {
	var oldest uint64 = ^uint64(0)
	for v := range r.history {
		if v < oldest && v != r.active.Load().Version {
			oldest = v
		}
	}
	if oldest != ^uint64(0) {
		delete(r.history, oldest)
	}
}
