// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flowtable

import (
	"sync"
	"time"

	"grimm.is/flowplane/internal/logging"
)

// DefaultGCInterval is the period between garbage-collection passes when the
// control plane does not configure one.
const DefaultGCInterval = time.Second

// Collector runs a flow table's garbage-collection routine on a fixed
// period: the first pass one interval after Start, then every interval. Stop
// cancels the collector and waits for any in-flight pass to finish, so the
// caller can safely release the registry afterwards.
type Collector struct {
	ft       *FlowTable
	interval time.Duration
	logger   *logging.Logger

	// Observer, if set, is called after every pass with the eviction count.
	Observer func(evicted int)

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewCollector creates a collector for ft. It does not start it; the control
// plane starts the collector at commit of the staged create.
func NewCollector(ft *FlowTable, interval time.Duration, logger *logging.Logger) *Collector {
	if interval <= 0 {
		interval = DefaultGCInterval
	}
	if logger == nil {
		logger = logging.WithComponent("gc")
	}
	return &Collector{
		ft:       ft,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the periodic collection loop. Starting twice is a no-op.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.stopCh = make(chan struct{})
	c.done = make(chan struct{})
	go c.loop(c.stopCh, c.done)
}

func (c *Collector) loop(stopCh, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			evicted := c.ft.typ.GC(c.ft)
			if evicted > 0 {
				c.logger.Debug("Evicted expired flows", "flowtable", c.ft.Name(), "evicted", evicted)
			}
			if c.Observer != nil {
				c.Observer(evicted)
			}
		}
	}
}

// Stop cancels the collector and blocks until the current pass, if any, has
// completed. Safe to call on a collector that was never started, and safe to
// call more than once.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	stopCh, done := c.stopCh, c.done
	c.mu.Unlock()

	close(stopCh)
	<-done
}
