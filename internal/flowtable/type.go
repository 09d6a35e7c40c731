// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flowtable

import (
	"sync"
	"sync/atomic"

	"grimm.is/flowplane/internal/errors"
)

// Module is the reference-counted identity of a type provider. While any
// flow table pins a module, the provider cannot be unregistered.
type Module struct {
	Name string
	refs atomic.Int64
}

// Refs returns the module's current pin count.
func (m *Module) Refs() int64 {
	if m == nil {
		return 0
	}
	return m.refs.Load()
}

func (m *Module) get() {
	if m != nil {
		m.refs.Add(1)
	}
}

func (m *Module) put() {
	if m != nil {
		m.refs.Add(-1)
	}
}

// Type supplies everything family-specific about a flow table: the hash
// parameters for its registry, the garbage-collection routine, and the
// fast-path hook function.
type Type struct {
	Family Family
	Params HashParams
	GC     GCFunc
	Hook   HookFunc
	Owner  *Module
}

func (t *Type) pin()     { t.Owner.get() }
func (t *Type) release() { t.Owner.put() }

// TypeRegistry is the process-wide catalogue of flow-table types, at most
// one per family. Lookup-and-pin and unregistration are serialized by the
// registry's own lock, so a provider can never be unregistered while a
// concurrent table creation is taking a reference to it.
type TypeRegistry struct {
	mu    sync.Mutex
	types []*Type
}

// NewTypeRegistry creates an empty type registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{}
}

// Register adds a type. At most one type per family may be registered.
func (r *TypeRegistry) Register(t *Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.types {
		if existing.Family == t.Family {
			return errors.Errorf(errors.KindConflict, "type for family %s already registered", t.Family)
		}
	}
	r.types = append(r.types, t)
	return nil
}

// Unregister removes a type. Fails with a busy error while any flow table
// still pins the type's owning module.
func (r *TypeRegistry) Unregister(t *Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.Owner.Refs() > 0 {
		return errors.Errorf(errors.KindBusy, "type for family %s is in use", t.Family)
	}
	for i, existing := range r.types {
		if existing == t {
			r.types = append(r.types[:i], r.types[i+1:]...)
			return nil
		}
	}
	return errors.Errorf(errors.KindNotFound, "type for family %s not registered", t.Family)
}

// Lookup finds the type registered for a family without pinning it.
func (r *TypeRegistry) Lookup(family Family) (*Type, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupLocked(family)
}

func (r *TypeRegistry) lookupLocked(family Family) (*Type, error) {
	for _, t := range r.types {
		if t.Family == family {
			return t, nil
		}
	}
	return nil, errors.Errorf(errors.KindNotFound, "no flowtable type for family %s", family)
}

// Get finds the type for a family and pins its owning module. The caller
// owns the pin until the flow table built on the type is destroyed.
func (r *TypeRegistry) Get(family Family) (*Type, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.lookupLocked(family)
	if err != nil {
		return nil, err
	}
	t.pin()
	return t, nil
}
