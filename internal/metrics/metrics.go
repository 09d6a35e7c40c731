// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes flowplane's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set bundles the collectors the control plane updates.
type Set struct {
	Registry *prometheus.Registry

	FlowTables  prometheus.Gauge
	FlowEntries *prometheus.GaugeVec

	GCRuns      prometheus.Counter
	GCEvictions prometheus.Counter

	HookInstalls prometheus.Counter
	HookRemovals prometheus.Counter

	Commits prometheus.Counter
	Aborts  prometheus.Counter

	Notifications      prometheus.Counter
	NotificationErrors prometheus.Counter
	DeviceRemovals     prometheus.Counter
}

// New creates a Set backed by a fresh Prometheus registry.
func New() *Set {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Set{
		Registry: reg,
		FlowTables: factory.NewGauge(prometheus.GaugeOpts{
			Name: "flowplane_flowtables",
			Help: "Number of committed, visible flow tables.",
		}),
		FlowEntries: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowplane_flow_entries",
			Help: "Number of live flow entries per flow table.",
		}, []string{"namespace", "table", "flowtable"}),
		GCRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowplane_gc_runs_total",
			Help: "Garbage-collection passes across all flow tables.",
		}),
		GCEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowplane_gc_evictions_total",
			Help: "Flow entries evicted by garbage collection.",
		}),
		HookInstalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowplane_hook_installs_total",
			Help: "Fast-path hooks installed on devices.",
		}),
		HookRemovals: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowplane_hook_removals_total",
			Help: "Fast-path hooks removed from devices.",
		}),
		Commits: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowplane_transaction_commits_total",
			Help: "Committed control-plane transaction batches.",
		}),
		Aborts: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowplane_transaction_aborts_total",
			Help: "Aborted control-plane transaction batches.",
		}),
		Notifications: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowplane_notifications_total",
			Help: "Create/delete event notifications emitted.",
		}),
		NotificationErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowplane_notification_errors_total",
			Help: "Event notifications that failed to deliver.",
		}),
		DeviceRemovals: factory.NewCounter(prometheus.CounterOpts{
			Name: "flowplane_device_removals_total",
			Help: "Device-removal notifications handled.",
		}),
	}
}
