// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package device

import (
	"grimm.is/flowplane/internal/errors"
	"grimm.is/flowplane/internal/logging"
)

// NetlinkResolver is a stub for non-Linux platforms. Device resolution is
// only supported on Linux via rtnetlink.
type NetlinkResolver struct{}

func NewNetlinkResolver() *NetlinkResolver {
	return &NetlinkResolver{}
}

func (r *NetlinkResolver) ByName(name string) (*Device, error) {
	return nil, errors.New(errors.KindUnavailable, "netlink device resolution not supported on this platform")
}

// Watcher is a stub for non-Linux platforms.
type Watcher struct{}

func NewWatcher(logger *logging.Logger) *Watcher {
	return &Watcher{}
}

func (w *Watcher) Start(onRemove func(*Device)) error {
	return errors.New(errors.KindUnavailable, "link watching not supported on this platform")
}

func (w *Watcher) Stop() {}
