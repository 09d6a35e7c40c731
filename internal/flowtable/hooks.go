// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flowtable

import (
	"sync/atomic"

	"grimm.is/flowplane/internal/device"
	"grimm.is/flowplane/internal/errors"
)

// MaxDevices bounds the number of devices a flow table may bind.
const MaxDevices = 8

// Binding ties a flow table's hook to one network device. The device pointer
// is cleared, not removed, when the device goes away, so binding slots stay
// stable and the operation never fails.
type Binding struct {
	dev    atomic.Pointer[device.Device]
	hooked bool // guarded by the owning table's bindMu
}

// Device returns the bound device, or nil if the device has been removed.
func (b *Binding) Device() *device.Device {
	return b.dev.Load()
}

// Installer registers and unregisters a flow table's fast-path function on a
// device's packet pipeline at the table's hook number and priority.
type Installer interface {
	Install(ft *FlowTable, dev *device.Device) error
	Remove(ft *FlowTable, dev *device.Device)
}

// ParseDevices resolves a device name list to live handles. Fails if any
// name is unresolvable or the list exceeds MaxDevices.
func ParseDevices(r device.Resolver, names []string) ([]*device.Device, error) {
	if len(names) > MaxDevices {
		return nil, errors.Errorf(errors.KindExhausted, "too many devices: %d (max %d)", len(names), MaxDevices)
	}
	devs := make([]*device.Device, 0, len(names))
	for _, name := range names {
		d, err := r.ByName(name)
		if err != nil {
			return nil, err
		}
		devs = append(devs, d)
	}
	return devs, nil
}

// BindDevices attaches resolved device handles to the table as binding
// slots. Must be called before InstallHooks, inside the control-plane
// exclusive section.
func (ft *FlowTable) BindDevices(devs []*device.Device) {
	ft.bindMu.Lock()
	defer ft.bindMu.Unlock()
	ft.bindings = make([]*Binding, 0, len(devs))
	for _, d := range devs {
		b := &Binding{}
		b.dev.Store(d)
		ft.bindings = append(ft.bindings, b)
	}
}

// InstallHooks registers the table's fast-path function on every bound
// device. If any individual registration fails, the hooks installed so far
// are removed in reverse order and the first error is returned with the
// partial install count attached; the table is left with zero hooks.
func (ft *FlowTable) InstallHooks(inst Installer) error {
	ft.bindMu.Lock()
	defer ft.bindMu.Unlock()
	for i, b := range ft.bindings {
		dev := b.dev.Load()
		if dev == nil {
			continue
		}
		if err := inst.Install(ft, dev); err != nil {
			for j := i - 1; j >= 0; j-- {
				prev := ft.bindings[j]
				if d := prev.dev.Load(); d != nil && prev.hooked {
					inst.Remove(ft, d)
					prev.hooked = false
				}
			}
			err = errors.Wrapf(err, errors.KindPartial, "hook install failed on %s", dev.Name)
			return errors.Attr(err, "installed", i)
		}
		b.hooked = true
	}
	return nil
}

// RemoveHooks unregisters every currently-installed hook. Idempotent;
// bindings whose device was already removed are skipped.
func (ft *FlowTable) RemoveHooks(inst Installer) {
	ft.bindMu.Lock()
	defer ft.bindMu.Unlock()
	for _, b := range ft.bindings {
		if !b.hooked {
			continue
		}
		if dev := b.dev.Load(); dev != nil {
			inst.Remove(ft, dev)
		}
		b.hooked = false
	}
}

// ClearDevice unhooks and clears any binding referencing dev. The binding
// slot itself is kept, marked inactive. Returns true if a binding matched.
// Never fails.
func (ft *FlowTable) ClearDevice(inst Installer, dev *device.Device) bool {
	ft.bindMu.Lock()
	defer ft.bindMu.Unlock()
	cleared := false
	for _, b := range ft.bindings {
		d := b.dev.Load()
		if d == nil || d.Index != dev.Index {
			continue
		}
		if b.hooked {
			inst.Remove(ft, d)
			b.hooked = false
		}
		b.dev.Store(nil)
		cleared = true
	}
	return cleared
}

// DeviceNames returns the names of the still-live bound devices in binding
// order.
func (ft *FlowTable) DeviceNames() []string {
	ft.bindMu.Lock()
	defer ft.bindMu.Unlock()
	names := make([]string, 0, len(ft.bindings))
	for _, b := range ft.bindings {
		if d := b.dev.Load(); d != nil {
			names = append(names, d.Name)
		}
	}
	return names
}
