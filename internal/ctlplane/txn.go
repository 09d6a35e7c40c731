// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ctlplane

import (
	"grimm.is/flowplane/internal/errors"
	"grimm.is/flowplane/internal/flowtable"
)

// HookSpec positions a flow table in the packet pipeline.
type HookSpec struct {
	Num      uint32   `json:"num"`
	Priority int32    `json:"priority"`
	Devices  []string `json:"devices"`
}

// CreateRequest stages a flow-table create.
type CreateRequest struct {
	Table     string           `json:"table"`
	Name      string           `json:"name"`
	Family    flowtable.Family `json:"-"`
	Hook      HookSpec         `json:"hook"`
	Exclusive bool             `json:"exclusive"`
}

// DeleteRequest stages a flow-table delete.
type DeleteRequest struct {
	Table string `json:"table"`
	Name  string `json:"name"`
}

type txnKind int

const (
	txnCreate txnKind = iota
	txnDelete
)

type txnEntry struct {
	kind  txnKind
	table *flowtable.Table
	ft    *flowtable.FlowTable
}

// Txn is one staged transaction batch over a namespace. It holds the
// namespace's exclusive section from Begin until Commit or Abort; exactly
// one of the two must be called. A Txn is not safe for concurrent use.
type Txn struct {
	e       *Engine
	ns      *Namespace
	entries []txnEntry
	done    bool
}

// Begin opens a transaction batch on a namespace.
func (e *Engine) Begin(nsName string) (*Txn, error) {
	ns, err := e.Namespace(nsName)
	if err != nil {
		return nil, err
	}
	ns.mu.Lock()
	return &Txn{e: e, ns: ns}, nil
}

func (tx *Txn) close() {
	tx.done = true
	tx.entries = nil
	tx.ns.mu.Unlock()
}

// CreateFlowtable validates and stages a create. On success the new table
// is linked into its parent marked active-in-next-generation only, with its
// registry initialized and its hooks installed; it stays invisible to
// readers until Commit. Any failure unwinds all partial state in reverse
// acquisition order and leaves no staged entry behind.
func (tx *Txn) CreateFlowtable(req CreateRequest) error {
	if tx.done {
		return errors.New(errors.KindInternal, "transaction already closed")
	}
	if req.Table == "" || req.Name == "" {
		return errors.New(errors.KindValidation, "table and flowtable name are required")
	}
	if len(req.Hook.Devices) == 0 {
		return errors.New(errors.KindValidation, "at least one device is required")
	}

	tbl, err := tx.ns.lookupTable(req.Table)
	if err != nil {
		return err
	}

	gen := tx.ns.gen.Load()
	nextMask := flowtable.GenMask(flowtable.NextGen(gen))

	// Uniqueness is judged against the next generation: committed tables
	// and staged creates count, tables staged for deletion do not.
	if _, lookupErr := tbl.Lookup(req.Name, nextMask); lookupErr == nil {
		if req.Exclusive {
			return errors.Errorf(errors.KindConflict, "flowtable %s already exists in table %s", req.Name, req.Table)
		}
		return nil // idempotent create
	}

	family := req.Family
	if family == flowtable.FamilyUnspec {
		family = tbl.Family()
	}
	typ, err := tx.e.typeFor(family)
	if err != nil {
		return err
	}

	ft := flowtable.New(req.Name, typ, req.Hook.Num, req.Hook.Priority, gen)

	devs, err := flowtable.ParseDevices(tx.e.resolver, req.Hook.Devices)
	if err != nil {
		ft.Destroy()
		return err
	}
	ft.BindDevices(devs)

	if err := ft.InstallHooks(tx.e.installer); err != nil {
		ft.Destroy()
		return err
	}
	if tx.e.metrics != nil {
		tx.e.metrics.HookInstalls.Add(float64(len(devs)))
	}

	gc := flowtable.NewCollector(ft, tx.e.gcInterval, tx.e.logger)
	if m := tx.e.metrics; m != nil {
		nsName, tblName, ftName := tx.ns.name, tbl.Name(), ft.Name()
		reg := ft.Registry()
		gc.Observer = func(evicted int) {
			m.GCRuns.Inc()
			m.GCEvictions.Add(float64(evicted))
			m.FlowEntries.WithLabelValues(nsName, tblName, ftName).Set(float64(reg.Len()))
		}
	}
	ft.SetCollector(gc)

	tbl.RefObjects(1)
	tbl.Add(ft)
	tx.entries = append(tx.entries, txnEntry{kind: txnCreate, table: tbl, ft: ft})

	tx.e.logger.Debug("Staged flowtable create", "namespace", tx.ns.name, "table", req.Table, "flowtable", req.Name, "devices", len(devs))
	return nil
}

// DeleteFlowtable validates and stages a delete. The table stays visible to
// current-generation readers until Commit; its use accounting on the parent
// is adjusted immediately and restored on Abort.
func (tx *Txn) DeleteFlowtable(req DeleteRequest) error {
	if tx.done {
		return errors.New(errors.KindInternal, "transaction already closed")
	}
	if req.Table == "" || req.Name == "" {
		return errors.New(errors.KindValidation, "table and flowtable name are required")
	}

	tbl, err := tx.ns.lookupTable(req.Table)
	if err != nil {
		return err
	}

	gen := tx.ns.gen.Load()
	nextMask := flowtable.GenMask(flowtable.NextGen(gen))

	ft, err := tbl.Lookup(req.Name, nextMask)
	if err != nil {
		return err
	}
	if ft.Use() > 0 {
		return errors.Errorf(errors.KindBusy, "flowtable %s is in use (%d references)", req.Name, ft.Use())
	}

	ft.Deactivate(nextMask)
	tbl.RefObjects(-1)
	tx.entries = append(tx.entries, txnEntry{kind: txnDelete, table: tbl, ft: ft})

	tx.e.logger.Debug("Staged flowtable delete", "namespace", tx.ns.name, "table", req.Table, "flowtable", req.Name)
	return nil
}

// Commit applies every staged entry atomically with respect to readers by
// flipping the namespace's generation cursor, then walks the log in order:
// creates become fully visible and their collectors start; deletes are
// unlinked, notified and unhooked, with object release deferred off the
// commit path. Commit of a validated batch always succeeds.
func (tx *Txn) Commit() error {
	if tx.done {
		return errors.New(errors.KindInternal, "transaction already closed")
	}
	entries := tx.entries
	defer tx.close()

	if len(entries) == 0 {
		return nil
	}

	gen := tx.ns.gen.Load()
	tx.ns.gen.Store(flowtable.NextGen(gen))

	for _, en := range entries {
		switch en.kind {
		case txnCreate:
			en.ft.ClearGenmask()
			en.ft.Collector().Start()
			if tx.e.metrics != nil {
				tx.e.metrics.FlowTables.Inc()
			}
			tx.e.notify(EventCreate, recordOf(tx.ns, en.table, en.ft))
			tx.e.logger.Info("Flowtable created", "namespace", tx.ns.name, "table", en.table.Name(), "flowtable", en.ft.Name())

		case txnDelete:
			rec := recordOf(tx.ns, en.table, en.ft)
			en.table.Remove(en.ft)
			tx.e.notify(EventDelete, rec)
			en.ft.RemoveHooks(tx.e.installer)
			if m := tx.e.metrics; m != nil {
				m.FlowTables.Dec()
				m.HookRemovals.Add(float64(len(rec.Devices)))
				m.FlowEntries.DeleteLabelValues(rec.Namespace, rec.Table, rec.Name)
			}
			tx.e.logger.Info("Flowtable deleted", "namespace", tx.ns.name, "table", en.table.Name(), "flowtable", en.ft.Name())

			// The object is unreachable for new readers; release it off
			// the commit path.
			ft := en.ft
			tx.e.releaseWG.Add(1)
			go func() {
				defer tx.e.releaseWG.Done()
				ft.Destroy()
			}()
		}
	}

	if tx.e.metrics != nil {
		tx.e.metrics.Commits.Inc()
	}
	return nil
}

// Abort unwinds every staged entry in reverse log order: staged creates are
// unlinked, unhooked and released synchronously; staged deletes get their
// visibility and use accounting restored. The batch leaves no trace.
func (tx *Txn) Abort() {
	if tx.done {
		return
	}
	entries := tx.entries
	defer tx.close()

	gen := tx.ns.gen.Load()
	nextMask := flowtable.GenMask(flowtable.NextGen(gen))

	for i := len(entries) - 1; i >= 0; i-- {
		en := entries[i]
		switch en.kind {
		case txnCreate:
			en.table.Remove(en.ft)
			en.table.RefObjects(-1)
			en.ft.RemoveHooks(tx.e.installer)
			en.ft.Destroy()
		case txnDelete:
			en.ft.Activate(nextMask)
			en.table.RefObjects(1)
		}
	}

	if tx.e.metrics != nil {
		tx.e.metrics.Aborts.Inc()
	}
	tx.e.logger.Debug("Transaction aborted", "namespace", tx.ns.name, "entries", len(entries))
}
