// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ctlplane

// Record is the wire-facing snapshot of one flow table, used by Get, Dump
// and event notifications.
type Record struct {
	Namespace string   `json:"namespace"`
	Table     string   `json:"table"`
	Name      string   `json:"name"`
	Family    string   `json:"family"`
	HookNum   uint32   `json:"hook_num"`
	Priority  int32    `json:"priority"`
	Devices   []string `json:"devices"`
	Use       int      `json:"use"`
	Flows     int      `json:"flows"`
}

// EventType distinguishes create from delete notifications.
type EventType string

const (
	EventCreate EventType = "create"
	EventDelete EventType = "delete"
)

// Event is an unsolicited notification of a committed create or delete.
type Event struct {
	Type   EventType `json:"type"`
	Record Record    `json:"record"`
}

// Notifier delivers events to subscribers. Delivery is best effort: errors
// are logged by the engine and never propagated to the triggering request.
type Notifier interface {
	Notify(Event) error
}

// MultiNotifier fans an event out to several notifiers, returning the first
// delivery error after all have been attempted.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ev Event) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
