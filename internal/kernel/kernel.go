// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package kernel mirrors committed flow tables into the Linux kernel's
// nftables subsystem. On Linux it speaks netlink via google/nftables; on
// other platforms the offloader is unavailable and the mirror is simply
// not wired in.
package kernel

import (
	"grimm.is/flowplane/internal/ctlplane"
	"grimm.is/flowplane/internal/logging"
)

// Offloader programs flow tables into the kernel.
type Offloader interface {
	CreateFlowtable(rec ctlplane.Record) error
	DeleteFlowtable(rec ctlplane.Record) error
	Close() error
}

// Mirror subscribes to control-plane events and keeps the kernel's
// flowtable objects in sync. It implements ctlplane.Notifier; errors are
// returned for logging but never block the control plane.
type Mirror struct {
	offloader Offloader
	logger    *logging.Logger
}

// NewMirror wraps an offloader as an event notifier.
func NewMirror(off Offloader, logger *logging.Logger) *Mirror {
	if logger == nil {
		logger = logging.WithComponent("kernel")
	}
	return &Mirror{offloader: off, logger: logger}
}

// Notify applies one committed create or delete to the kernel.
func (m *Mirror) Notify(ev ctlplane.Event) error {
	switch ev.Type {
	case ctlplane.EventCreate:
		if err := m.offloader.CreateFlowtable(ev.Record); err != nil {
			return err
		}
		m.logger.Info("Mirrored flowtable into kernel",
			"namespace", ev.Record.Namespace, "name", ev.Record.Name)
	case ctlplane.EventDelete:
		if err := m.offloader.DeleteFlowtable(ev.Record); err != nil {
			return err
		}
		m.logger.Info("Removed flowtable from kernel",
			"namespace", ev.Record.Namespace, "name", ev.Record.Name)
	}
	return nil
}

// Close releases the offloader.
func (m *Mirror) Close() error {
	return m.offloader.Close()
}
