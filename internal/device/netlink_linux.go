// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux
// +build linux

package device

import (
	"sync"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/flowplane/internal/errors"
	"grimm.is/flowplane/internal/logging"
)

// NetlinkResolver resolves device names against the kernel via rtnetlink.
type NetlinkResolver struct{}

// NewNetlinkResolver creates a kernel-backed resolver.
func NewNetlinkResolver() *NetlinkResolver {
	return &NetlinkResolver{}
}

// ByName implements Resolver.
func (r *NetlinkResolver) ByName(name string) (*Device, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindNotFound, "device %s not found", name)
	}
	attrs := link.Attrs()
	return &Device{Index: attrs.Index, Name: attrs.Name}, nil
}

// Watcher delivers device-removal events from the kernel.
type Watcher struct {
	logger *logging.Logger
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewWatcher creates a link watcher.
func NewWatcher(logger *logging.Logger) *Watcher {
	if logger == nil {
		logger = logging.WithComponent("device")
	}
	return &Watcher{logger: logger, done: make(chan struct{})}
}

// Start subscribes to link updates and invokes onRemove for every deleted
// link until Stop is called. onRemove must not block.
func (w *Watcher) Start(onRemove func(*Device)) error {
	ch := make(chan netlink.LinkUpdate, 16)
	if err := netlink.LinkSubscribe(ch, w.done); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "link subscribe failed")
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-w.done:
				return
			case update, ok := <-ch:
				if !ok {
					return
				}
				if update.Header.Type != unix.RTM_DELLINK {
					continue
				}
				attrs := update.Link.Attrs()
				w.logger.Info("Device removed", "device", attrs.Name, "index", attrs.Index)
				onRemove(&Device{Index: attrs.Index, Name: attrs.Name})
			}
		}
	}()
	return nil
}

// Stop terminates the subscription and waits for the delivery loop.
func (w *Watcher) Stop() {
	close(w.done)
	w.wg.Wait()
}
