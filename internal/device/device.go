// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package device resolves network device names to live device handles and
// watches for device removal.
package device

import (
	"sort"
	"sync"

	"grimm.is/flowplane/internal/errors"
)

// Device is a handle to a live network device. Handles are shared; holders
// must treat them as read-only.
type Device struct {
	Index int
	Name  string
}

// Resolver resolves a device name to a live handle.
type Resolver interface {
	ByName(name string) (*Device, error)
}

// StaticResolver is an in-memory resolver backed by a fixed device set. It is
// the default on platforms without netlink and the standard test double.
type StaticResolver struct {
	mu      sync.RWMutex
	devices map[string]*Device
	nextIdx int
}

// NewStaticResolver creates a resolver pre-populated with the given names.
func NewStaticResolver(names ...string) *StaticResolver {
	r := &StaticResolver{devices: make(map[string]*Device)}
	for _, n := range names {
		r.Add(n)
	}
	return r
}

// Add registers a device, assigning it the next free index.
func (r *StaticResolver) Add(name string) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[name]; ok {
		return d
	}
	r.nextIdx++
	d := &Device{Index: r.nextIdx, Name: name}
	r.devices[name] = d
	return d
}

// Remove drops a device from the resolver and returns its handle, if any.
func (r *StaticResolver) Remove(name string) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.devices[name]
	delete(r.devices, name)
	return d
}

// ByName implements Resolver.
func (r *StaticResolver) ByName(name string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[name]
	if !ok {
		return nil, errors.Errorf(errors.KindNotFound, "device %s not found", name)
	}
	return d, nil
}

// Names returns the registered device names in sorted order.
func (r *StaticResolver) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.devices))
	for n := range r.devices {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
