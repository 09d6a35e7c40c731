// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package flowtable implements named, typed flow tables: registries of
// accelerated packet-flow state bound to hook points on network devices.
//
// Visibility of flow tables under concurrent readers is controlled by a
// two-bit generation mask rather than locks. A set bit means the object is
// inactive in that generation; readers carry the mask of the generation they
// are reading and skip objects whose mask intersects it. Control-plane
// transactions stage objects as active-in-next-generation only and flip the
// generation cursor at commit.
package flowtable

import (
	"sync"
	"sync/atomic"

	"grimm.is/flowplane/internal/device"
	"grimm.is/flowplane/internal/errors"
)

// Family identifies the network-layer protocol family of a flow table.
type Family uint8

const (
	FamilyUnspec Family = iota
	FamilyIPv4
	FamilyIPv6
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "unspec"
	}
}

// ParseFamily parses a family name as it appears in configuration and API
// requests.
func ParseFamily(s string) (Family, error) {
	switch s {
	case "ipv4", "ip":
		return FamilyIPv4, nil
	case "ipv6", "ip6":
		return FamilyIPv6, nil
	}
	return FamilyUnspec, errors.Errorf(errors.KindValidation, "unknown family %q", s)
}

// GenMask returns the visibility bit for a generation cursor value.
func GenMask(gen uint32) uint32 {
	return 1 << (gen & 1)
}

// NextGen returns the generation cursor value following gen.
func NextGen(gen uint32) uint32 {
	return (gen + 1) & 1
}

// Verdict is the result of a fast-path hook invocation.
type Verdict int

const (
	// VerdictPass lets the packet continue down the normal processing path.
	VerdictPass Verdict = iota
	// VerdictHandled short-circuits the pipeline: the flow table forwarded
	// the packet on the fast path.
	VerdictHandled
)

// Packet is the unit handed to a fast-path hook function.
type Packet struct {
	Device *device.Device
	Data   []byte
}

// HookFunc is a type provider's fast-path function, invoked by the packet
// pipeline for every packet seen on a bound device.
type HookFunc func(ft *FlowTable, pkt *Packet) Verdict

// GCFunc is a type provider's garbage-collection routine. It scans the flow
// table's registry, evicts expired entries and returns the eviction count.
type GCFunc func(ft *FlowTable) int

// FlowTable is a named registry of offloaded flow state owned by exactly one
// parent Table. It is created invisible inside a transaction and becomes
// visible only at commit.
type FlowTable struct {
	name     string
	hookNum  uint32
	priority int32

	genmask atomic.Uint32
	use     atomic.Int32

	typ      *Type
	registry *Registry
	gc       *Collector

	bindMu   sync.Mutex
	bindings []*Binding
}

// New allocates a flow table of the given type and initializes its registry
// from the type's hash parameters. The table starts inactive in generation
// gen (visible only after the next commit).
func New(name string, typ *Type, hookNum uint32, priority int32, gen uint32) *FlowTable {
	ft := &FlowTable{
		name:     name,
		hookNum:  hookNum,
		priority: priority,
		typ:      typ,
		registry: NewRegistry(typ.Params),
	}
	ft.genmask.Store(GenMask(gen))
	return ft
}

// Name returns the table's name, unique within its parent.
func (ft *FlowTable) Name() string { return ft.name }

// HookNum returns the pipeline hook number the table is bound at.
func (ft *FlowTable) HookNum() uint32 { return ft.hookNum }

// Priority returns the table's hook priority.
func (ft *FlowTable) Priority() int32 { return ft.priority }

// Type returns the table's type provider.
func (ft *FlowTable) Type() *Type { return ft.typ }

// Registry returns the table's flow registry.
func (ft *FlowTable) Registry() *Registry { return ft.registry }

// Visible reports whether the table is active for a reader holding the given
// generation mask.
func (ft *FlowTable) Visible(mask uint32) bool {
	return ft.genmask.Load()&mask == 0
}

// Deactivate marks the table inactive in the generations covered by mask.
func (ft *FlowTable) Deactivate(mask uint32) {
	for {
		old := ft.genmask.Load()
		if ft.genmask.CompareAndSwap(old, old|mask) {
			return
		}
	}
}

// Activate clears the inactive bits covered by mask.
func (ft *FlowTable) Activate(mask uint32) {
	for {
		old := ft.genmask.Load()
		if ft.genmask.CompareAndSwap(old, old&^mask) {
			return
		}
	}
}

// ClearGenmask makes the table active in every generation. Called at commit
// of a staged create.
func (ft *FlowTable) ClearGenmask() {
	ft.genmask.Store(0)
}

// Use returns the number of external references pinning the table.
func (ft *FlowTable) Use() int { return int(ft.use.Load()) }

// Ref records an external reference to the table.
func (ft *FlowTable) Ref() { ft.use.Add(1) }

// Unref drops an external reference. A release with no matching Ref is a
// no-op; the count never goes negative.
func (ft *FlowTable) Unref() {
	for {
		old := ft.use.Load()
		if old == 0 {
			return
		}
		if ft.use.CompareAndSwap(old, old-1) {
			return
		}
	}
}

// SetCollector attaches the table's garbage collector. The collector is
// started at commit and stopped during destruction.
func (ft *FlowTable) SetCollector(c *Collector) { ft.gc = c }

// Collector returns the table's garbage collector, if one is attached.
func (ft *FlowTable) Collector() *Collector { return ft.gc }

// Destroy releases everything the table owns: the garbage collector is
// cancelled and waited for, the type reference is dropped, and the registry
// is torn down with all remaining entries. Hooks must already have been
// removed. Destroy is called exactly once, after the table is no longer
// reachable by readers.
func (ft *FlowTable) Destroy() {
	if ft.gc != nil {
		ft.gc.Stop()
	}
	ft.typ.release()
	ft.registry.Close()
}

// Table is the parent container owning a set of flow tables. The flow-table
// list is copy-on-write: mutation happens only inside the control-plane
// exclusive section, readers load the current slice atomically and filter by
// generation mask.
type Table struct {
	name   string
	family Family

	use atomic.Int32

	list atomic.Pointer[[]*FlowTable]
}

// NewTable creates an empty parent container.
func NewTable(name string, family Family) *Table {
	t := &Table{name: name, family: family}
	empty := make([]*FlowTable, 0)
	t.list.Store(&empty)
	return t
}

// Name returns the container's name.
func (t *Table) Name() string { return t.name }

// Family returns the container's protocol family.
func (t *Table) Family() Family { return t.family }

// Use returns the container's object-use accounting.
func (t *Table) Use() int { return int(t.use.Load()) }

// RefObjects adjusts the container's use accounting by delta.
func (t *Table) RefObjects(delta int) { t.use.Add(int32(delta)) }

// Lookup finds a flow table by exact name, honoring the reader's generation
// mask. Safe for concurrent readers.
func (t *Table) Lookup(name string, mask uint32) (*FlowTable, error) {
	for _, ft := range *t.list.Load() {
		if ft.name == name && ft.Visible(mask) {
			return ft, nil
		}
	}
	return nil, errors.Errorf(errors.KindNotFound, "flowtable %s not found in table %s", name, t.name)
}

// FlowTables returns the flow tables visible under mask, in insertion order.
func (t *Table) FlowTables(mask uint32) []*FlowTable {
	cur := *t.list.Load()
	out := make([]*FlowTable, 0, len(cur))
	for _, ft := range cur {
		if ft.Visible(mask) {
			out = append(out, ft)
		}
	}
	return out
}

// Add appends a flow table to the container. Caller must hold the
// control-plane exclusive section.
func (t *Table) Add(ft *FlowTable) {
	cur := *t.list.Load()
	next := make([]*FlowTable, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, ft)
	t.list.Store(&next)
}

// Remove unlinks a flow table from the container. Caller must hold the
// control-plane exclusive section.
func (t *Table) Remove(ft *FlowTable) {
	cur := *t.list.Load()
	next := make([]*FlowTable, 0, len(cur))
	for _, cand := range cur {
		if cand != ft {
			next = append(next, cand)
		}
	}
	t.list.Store(&next)
}
