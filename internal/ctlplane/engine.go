// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ctlplane is the control-plane transaction engine for flow tables.
//
// All mutation (create, delete, commit, abort) happens inside a per-namespace
// exclusive section held from Begin to Commit/Abort. Readers never take that
// lock: they capture the namespace's generation cursor once, derive a
// visibility mask from it and scan copy-on-write object lists, so a reader
// running concurrently with a commit observes either the full pre-commit or
// the full post-commit state, never a partially-applied batch.
package ctlplane

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"grimm.is/flowplane/internal/device"
	"grimm.is/flowplane/internal/errors"
	"grimm.is/flowplane/internal/flowtable"
	"grimm.is/flowplane/internal/logging"
	"grimm.is/flowplane/internal/metrics"
)

// TypeLoader is invoked when a table create names a family with no
// registered type provider, giving the embedder a chance to load it
// on demand. The engine retries the type lookup once afterwards.
type TypeLoader func(family flowtable.Family) error

// Options configures an Engine. Resolver and Installer are required.
type Options struct {
	Logger     *logging.Logger
	Metrics    *metrics.Set
	Types      *flowtable.TypeRegistry
	Resolver   device.Resolver
	Installer  flowtable.Installer
	Notifier   Notifier
	Loader     TypeLoader
	GCInterval time.Duration
}

// Engine owns the namespaces, their flow tables and the transaction
// protocol over them.
type Engine struct {
	logger     *logging.Logger
	metrics    *metrics.Set
	types      *flowtable.TypeRegistry
	resolver   device.Resolver
	installer  flowtable.Installer
	notifier   Notifier
	loader     TypeLoader
	gcInterval time.Duration

	mu         sync.Mutex // guards namespace-map replacement
	namespaces atomic.Pointer[map[string]*Namespace]

	loadMu  sync.Mutex
	loading map[flowtable.Family]bool

	releaseWG sync.WaitGroup
}

// Namespace scopes tables and their transaction state. Each namespace has
// its own generation cursor and exclusive mutation lock.
type Namespace struct {
	name string

	mu     sync.Mutex // the exclusive control-plane section
	gen    atomic.Uint32
	tables atomic.Pointer[[]*flowtable.Table]
}

// Name returns the namespace's name.
func (ns *Namespace) Name() string { return ns.name }

// Generation returns the namespace's current generation cursor.
func (ns *Namespace) Generation() uint32 { return ns.gen.Load() }

func (ns *Namespace) lookupTable(name string) (*flowtable.Table, error) {
	for _, t := range *ns.tables.Load() {
		if t.Name() == name {
			return t, nil
		}
	}
	return nil, errors.Errorf(errors.KindNotFound, "table %s not found in namespace %s", name, ns.name)
}

// NewEngine creates an engine from opts.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logging.WithComponent("ctlplane")
	}
	types := opts.Types
	if types == nil {
		types = flowtable.NewTypeRegistry()
	}
	gcInterval := opts.GCInterval
	if gcInterval <= 0 {
		gcInterval = flowtable.DefaultGCInterval
	}
	e := &Engine{
		logger:     logger,
		metrics:    opts.Metrics,
		types:      types,
		resolver:   opts.Resolver,
		installer:  opts.Installer,
		notifier:   opts.Notifier,
		loader:     opts.Loader,
		gcInterval: gcInterval,
		loading:    make(map[flowtable.Family]bool),
	}
	empty := make(map[string]*Namespace)
	e.namespaces.Store(&empty)
	return e
}

// Types returns the engine's type registry.
func (e *Engine) Types() *flowtable.TypeRegistry { return e.types }

// Namespace returns a namespace by name.
func (e *Engine) Namespace(name string) (*Namespace, error) {
	ns, ok := (*e.namespaces.Load())[name]
	if !ok {
		return nil, errors.Errorf(errors.KindNotFound, "namespace %s not found", name)
	}
	return ns, nil
}

// EnsureNamespace creates a namespace if it does not exist yet.
func (e *Engine) EnsureNamespace(name string) *Namespace {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur := *e.namespaces.Load()
	if ns, ok := cur[name]; ok {
		return ns
	}
	ns := &Namespace{name: name}
	empty := make([]*flowtable.Table, 0)
	ns.tables.Store(&empty)

	next := make(map[string]*Namespace, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[name] = ns
	e.namespaces.Store(&next)
	e.logger.Debug("Namespace created", "namespace", name)
	return ns
}

// EnsureTable creates a parent table in a namespace if it does not exist.
func (e *Engine) EnsureTable(nsName, tableName string, family flowtable.Family) *flowtable.Table {
	ns := e.EnsureNamespace(nsName)
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if t, err := ns.lookupTable(tableName); err == nil {
		return t
	}
	t := flowtable.NewTable(tableName, family)
	cur := *ns.tables.Load()
	next := make([]*flowtable.Table, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, t)
	ns.tables.Store(&next)
	e.logger.Debug("Table created", "namespace", nsName, "table", tableName)
	return t
}

// typeFor resolves and pins the type provider for a family, loading it on
// demand if a loader is configured. A concurrent load of the same family
// surfaces a pending error so the caller retries.
func (e *Engine) typeFor(family flowtable.Family) (*flowtable.Type, error) {
	typ, err := e.types.Get(family)
	if err == nil || e.loader == nil {
		return typ, err
	}

	e.loadMu.Lock()
	if e.loading[family] {
		e.loadMu.Unlock()
		return nil, errors.Errorf(errors.KindPending, "type load for family %s already in progress", family)
	}
	e.loading[family] = true
	e.loadMu.Unlock()

	loadErr := e.loader(family)

	e.loadMu.Lock()
	delete(e.loading, family)
	e.loadMu.Unlock()

	if loadErr != nil {
		return nil, errors.Wrapf(loadErr, errors.KindNotFound, "loading type for family %s failed", family)
	}
	return e.types.Get(family)
}

func (e *Engine) notify(evType EventType, rec Record) {
	if e.notifier == nil {
		return
	}
	if e.metrics != nil {
		e.metrics.Notifications.Inc()
	}
	if err := e.notifier.Notify(Event{Type: evType, Record: rec}); err != nil {
		// Delivery failure never changes the triggering request's outcome.
		e.logger.Warn("Event notification delivery failed", "event", evType, "flowtable", rec.Name, "error", err)
		if e.metrics != nil {
			e.metrics.NotificationErrors.Inc()
		}
	}
}

func recordOf(ns *Namespace, tbl *flowtable.Table, ft *flowtable.FlowTable) Record {
	return Record{
		Namespace: ns.name,
		Table:     tbl.Name(),
		Name:      ft.Name(),
		Family:    ft.Type().Family.String(),
		HookNum:   ft.HookNum(),
		Priority:  ft.Priority(),
		Devices:   ft.DeviceNames(),
		Use:       ft.Use(),
		Flows:     ft.Registry().Len(),
	}
}

// Get returns the record of one visible flow table.
func (e *Engine) Get(nsName, tableName, name string) (Record, error) {
	ns, err := e.Namespace(nsName)
	if err != nil {
		return Record{}, err
	}
	tbl, err := ns.lookupTable(tableName)
	if err != nil {
		return Record{}, err
	}
	mask := flowtable.GenMask(ns.gen.Load())
	ft, err := tbl.Lookup(name, mask)
	if err != nil {
		return Record{}, err
	}
	return recordOf(ns, tbl, ft), nil
}

// Dump returns a page of records for the visible flow tables of a
// namespace, optionally filtered by parent table name. The cursor is opaque;
// pass the returned cursor to continue, an empty string to start over. A
// limit of zero returns everything.
func (e *Engine) Dump(nsName, tableFilter, cursor string, limit int) ([]Record, string, error) {
	ns, err := e.Namespace(nsName)
	if err != nil {
		return nil, "", err
	}
	offset := 0
	if cursor != "" {
		offset, err = strconv.Atoi(cursor)
		if err != nil || offset < 0 {
			return nil, "", errors.Errorf(errors.KindValidation, "bad cursor %q", cursor)
		}
	}

	mask := flowtable.GenMask(ns.gen.Load())
	var all []Record
	for _, tbl := range *ns.tables.Load() {
		if tableFilter != "" && tbl.Name() != tableFilter {
			continue
		}
		for _, ft := range tbl.FlowTables(mask) {
			all = append(all, recordOf(ns, tbl, ft))
		}
	}

	if offset >= len(all) {
		return []Record{}, "", nil
	}
	page := all[offset:]
	next := ""
	if limit > 0 && len(page) > limit {
		page = page[:limit]
		next = strconv.Itoa(offset + limit)
	}
	return page, next, nil
}

// IterateAll visits every visible flow table across every namespace and
// table without taking the control-plane locks. Returning false stops the
// traversal.
func (e *Engine) IterateAll(visit func(ns, table string, ft *flowtable.FlowTable) bool) {
	for _, ns := range *e.namespaces.Load() {
		mask := flowtable.GenMask(ns.gen.Load())
		for _, tbl := range *ns.tables.Load() {
			for _, ft := range tbl.FlowTables(mask) {
				if !visit(ns.name, tbl.Name(), ft) {
					return
				}
			}
		}
	}
}

// HandleDeviceRemoved reacts to a device going away: every binding
// referencing it, in every flow table of every namespace (staged ones
// included), is unhooked and cleared. Never fails.
func (e *Engine) HandleDeviceRemoved(dev *device.Device) {
	for _, ns := range *e.namespaces.Load() {
		ns.mu.Lock()
		for _, tbl := range *ns.tables.Load() {
			for _, ft := range tbl.FlowTables(0) {
				if ft.ClearDevice(e.installer, dev) {
					e.logger.Info("Cleared device binding", "namespace", ns.name, "flowtable", ft.Name(), "device", dev.Name)
					if e.metrics != nil {
						e.metrics.HookRemovals.Inc()
					}
				}
			}
		}
		ns.mu.Unlock()
	}
	if e.metrics != nil {
		e.metrics.DeviceRemovals.Inc()
	}
}

// AddTableRef records an external reference (a rule expression) to a
// visible flow table, blocking its deletion. It takes the namespace's
// exclusive section so it serializes with open transactions: a ref cannot
// land between a delete's use-count check and its commit.
func (e *Engine) AddTableRef(nsName, tableName, name string) error {
	ft, unlock, err := e.refTarget(nsName, tableName, name)
	if err != nil {
		return err
	}
	defer unlock()
	ft.Ref()
	return nil
}

// DropTableRef releases an external reference taken with AddTableRef.
func (e *Engine) DropTableRef(nsName, tableName, name string) error {
	ft, unlock, err := e.refTarget(nsName, tableName, name)
	if err != nil {
		return err
	}
	defer unlock()
	ft.Unref()
	return nil
}

func (e *Engine) refTarget(nsName, tableName, name string) (*flowtable.FlowTable, func(), error) {
	ns, err := e.Namespace(nsName)
	if err != nil {
		return nil, nil, err
	}
	ns.mu.Lock()
	tbl, err := ns.lookupTable(tableName)
	if err != nil {
		ns.mu.Unlock()
		return nil, nil, err
	}
	ft, err := tbl.Lookup(name, flowtable.GenMask(ns.gen.Load()))
	if err != nil {
		ns.mu.Unlock()
		return nil, nil, err
	}
	return ft, ns.mu.Unlock, nil
}

// Drain blocks until all deferred commit-time releases have completed.
// Used by shutdown and tests.
func (e *Engine) Drain() {
	e.releaseWG.Wait()
}

// Close stops every flow table's collector and waits for deferred releases.
func (e *Engine) Close() {
	for _, ns := range *e.namespaces.Load() {
		ns.mu.Lock()
		for _, tbl := range *ns.tables.Load() {
			for _, ft := range tbl.FlowTables(0) {
				if gc := ft.Collector(); gc != nil {
					gc.Stop()
				}
			}
		}
		ns.mu.Unlock()
	}
	e.Drain()
}
