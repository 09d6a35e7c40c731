// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dataplane is the userspace reference packet pipeline. It maintains
// per-(device, hook-number) chains of registered fast-path functions ordered
// by priority and dispatches packets through them, outside the control
// plane's locking discipline.
package dataplane

import (
	"sort"
	"sync"

	"grimm.is/flowplane/internal/device"
	"grimm.is/flowplane/internal/errors"
	"grimm.is/flowplane/internal/flowtable"
	"grimm.is/flowplane/internal/logging"
)

type chainKey struct {
	devIndex int
	hookNum  uint32
}

type hookEntry struct {
	priority int32
	ft       *flowtable.FlowTable
}

// Dispatcher implements flowtable.Installer and runs registered hooks
// against packets. Chains are copy-on-write: Process loads the current chain
// without blocking installers.
type Dispatcher struct {
	logger *logging.Logger

	mu     sync.RWMutex
	chains map[chainKey][]hookEntry
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.WithComponent("dataplane")
	}
	return &Dispatcher{
		logger: logger,
		chains: make(map[chainKey][]hookEntry),
	}
}

// Install registers ft's fast-path function on dev at the table's hook
// number, ordered by priority. Installing the same table twice on a device
// is an error.
func (d *Dispatcher) Install(ft *flowtable.FlowTable, dev *device.Device) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := chainKey{devIndex: dev.Index, hookNum: ft.HookNum()}
	chain := d.chains[key]
	for _, e := range chain {
		if e.ft == ft {
			return errors.Errorf(errors.KindConflict, "flowtable %s already hooked on %s", ft.Name(), dev.Name)
		}
	}

	next := make([]hookEntry, len(chain), len(chain)+1)
	copy(next, chain)
	next = append(next, hookEntry{priority: ft.Priority(), ft: ft})
	sort.SliceStable(next, func(i, j int) bool { return next[i].priority < next[j].priority })
	d.chains[key] = next

	d.logger.Debug("Hook installed", "flowtable", ft.Name(), "device", dev.Name, "hook", ft.HookNum(), "priority", ft.Priority())
	return nil
}

// Remove unregisters ft's hook from dev. Removing a hook that is not
// installed is a no-op.
func (d *Dispatcher) Remove(ft *flowtable.FlowTable, dev *device.Device) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := chainKey{devIndex: dev.Index, hookNum: ft.HookNum()}
	chain := d.chains[key]
	next := make([]hookEntry, 0, len(chain))
	for _, e := range chain {
		if e.ft != ft {
			next = append(next, e)
		}
	}
	if len(next) == 0 {
		delete(d.chains, key)
	} else {
		d.chains[key] = next
	}
}

// Process runs a packet through the chain registered for (dev, hookNum). The
// first hook claiming the packet wins.
func (d *Dispatcher) Process(dev *device.Device, hookNum uint32, data []byte) flowtable.Verdict {
	d.mu.RLock()
	chain := d.chains[chainKey{devIndex: dev.Index, hookNum: hookNum}]
	d.mu.RUnlock()

	pkt := &flowtable.Packet{Device: dev, Data: data}
	for _, e := range chain {
		if e.ft.Type().Hook(e.ft, pkt) == flowtable.VerdictHandled {
			return flowtable.VerdictHandled
		}
	}
	return flowtable.VerdictPass
}

// Hooks returns the number of installed hooks across all chains.
func (d *Dispatcher) Hooks() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, chain := range d.chains {
		n += len(chain)
	}
	return n
}
