// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flowplane/internal/device"
	"grimm.is/flowplane/internal/flowtable"
)

func hookType(record *[]string, name string, verdict flowtable.Verdict) *flowtable.Type {
	return &flowtable.Type{
		Family: flowtable.FamilyIPv4,
		Params: flowtable.HashParams{},
		GC:     func(ft *flowtable.FlowTable) int { return 0 },
		Hook: func(ft *flowtable.FlowTable, pkt *flowtable.Packet) flowtable.Verdict {
			*record = append(*record, name)
			return verdict
		},
		Owner: &flowtable.Module{Name: name},
	}
}

func TestDispatcherPriorityOrder(t *testing.T) {
	d := NewDispatcher(nil)
	dev := &device.Device{Index: 1, Name: "eth0"}

	var order []string
	low := flowtable.New("low", hookType(&order, "low", flowtable.VerdictPass), 1, 10, 0)
	high := flowtable.New("high", hookType(&order, "high", flowtable.VerdictPass), 1, -10, 0)

	require.NoError(t, d.Install(low, dev))
	require.NoError(t, d.Install(high, dev))

	verdict := d.Process(dev, 1, []byte("pkt"))
	assert.Equal(t, flowtable.VerdictPass, verdict)
	assert.Equal(t, []string{"high", "low"}, order)
}

func TestDispatcherFirstHandledWins(t *testing.T) {
	d := NewDispatcher(nil)
	dev := &device.Device{Index: 1, Name: "eth0"}

	var order []string
	first := flowtable.New("first", hookType(&order, "first", flowtable.VerdictHandled), 1, 0, 0)
	second := flowtable.New("second", hookType(&order, "second", flowtable.VerdictPass), 1, 5, 0)

	require.NoError(t, d.Install(first, dev))
	require.NoError(t, d.Install(second, dev))

	verdict := d.Process(dev, 1, []byte("pkt"))
	assert.Equal(t, flowtable.VerdictHandled, verdict)
	assert.Equal(t, []string{"first"}, order)
}

func TestDispatcherHookNumberIsolation(t *testing.T) {
	d := NewDispatcher(nil)
	dev := &device.Device{Index: 1, Name: "eth0"}

	var order []string
	ft := flowtable.New("tf", hookType(&order, "tf", flowtable.VerdictHandled), 2, 0, 0)
	require.NoError(t, d.Install(ft, dev))

	assert.Equal(t, flowtable.VerdictPass, d.Process(dev, 1, []byte("pkt")))
	assert.Empty(t, order)
	assert.Equal(t, flowtable.VerdictHandled, d.Process(dev, 2, []byte("pkt")))
}

func TestDispatcherDuplicateInstall(t *testing.T) {
	d := NewDispatcher(nil)
	dev := &device.Device{Index: 1, Name: "eth0"}
	var order []string
	ft := flowtable.New("tf", hookType(&order, "tf", flowtable.VerdictPass), 1, 0, 0)

	require.NoError(t, d.Install(ft, dev))
	assert.Error(t, d.Install(ft, dev))
	assert.Equal(t, 1, d.Hooks())
}

func TestDispatcherRemove(t *testing.T) {
	d := NewDispatcher(nil)
	eth0 := &device.Device{Index: 1, Name: "eth0"}
	eth1 := &device.Device{Index: 2, Name: "eth1"}

	var order []string
	ft := flowtable.New("tf", hookType(&order, "tf", flowtable.VerdictHandled), 1, 0, 0)
	require.NoError(t, d.Install(ft, eth0))
	require.NoError(t, d.Install(ft, eth1))
	assert.Equal(t, 2, d.Hooks())

	d.Remove(ft, eth0)
	assert.Equal(t, 1, d.Hooks())
	assert.Equal(t, flowtable.VerdictPass, d.Process(eth0, 1, []byte("pkt")))
	assert.Equal(t, flowtable.VerdictHandled, d.Process(eth1, 1, []byte("pkt")))

	d.Remove(ft, eth0) // no-op
	assert.Equal(t, 1, d.Hooks())
}
