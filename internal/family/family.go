// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package family provides the IPv4 and IPv6 flow-table type providers.
//
// A provider supplies the three family-specific pieces of a flow table: how
// flow keys are derived from packets (gopacket classification), how long a
// flow lives (conntrack-style timeouts), and the fast-path hook invoked by
// the packet pipeline for bound devices.
package family

import (
	"encoding/binary"
	"math/rand"
	"net/netip"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/ti-mo/conntrack"

	"grimm.is/flowplane/internal/errors"
	"grimm.is/flowplane/internal/flowtable"
)

// DefaultFlowTimeout matches the kernel's flow-offload default.
const DefaultFlowTimeout = 30 * time.Second

// DefaultMaxFlows caps a single table's registry.
const DefaultMaxFlows = 100000

// FlowState is the opaque per-flow payload stored in the registry: the
// conntrack representation of the offloaded connection.
type FlowState struct {
	Flow conntrack.Flow
}

// Tuple is the portion of a packet that identifies its flow.
type Tuple struct {
	Proto   uint8
	Src     netip.Addr
	Dst     netip.Addr
	SrcPort uint16
	DstPort uint16
}

// Key serializes the tuple into the registry key format.
func (t Tuple) Key() []byte {
	src := t.Src.AsSlice()
	dst := t.Dst.AsSlice()
	key := make([]byte, 0, 1+len(src)+len(dst)+4)
	key = append(key, t.Proto)
	key = append(key, src...)
	key = append(key, dst...)
	key = binary.BigEndian.AppendUint16(key, t.SrcPort)
	key = binary.BigEndian.AppendUint16(key, t.DstPort)
	return key
}

// Extract derives the flow tuple from a raw packet of the given family.
// Only TCP and UDP flows are offloadable.
func Extract(fam flowtable.Family, data []byte) (Tuple, error) {
	var tuple Tuple

	var first gopacket.LayerType
	switch fam {
	case flowtable.FamilyIPv4:
		first = layers.LayerTypeIPv4
	case flowtable.FamilyIPv6:
		first = layers.LayerTypeIPv6
	default:
		return tuple, errors.Errorf(errors.KindValidation, "family %s not supported", fam)
	}

	pkt := gopacket.NewPacket(data, first, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	switch fam {
	case flowtable.FamilyIPv4:
		l := pkt.Layer(layers.LayerTypeIPv4)
		if l == nil {
			return tuple, errors.New(errors.KindValidation, "not an IPv4 packet")
		}
		ip := l.(*layers.IPv4)
		tuple.Proto = uint8(ip.Protocol)
		src, ok := netip.AddrFromSlice(ip.SrcIP.To4())
		if !ok {
			return tuple, errors.New(errors.KindValidation, "bad IPv4 source address")
		}
		dst, ok := netip.AddrFromSlice(ip.DstIP.To4())
		if !ok {
			return tuple, errors.New(errors.KindValidation, "bad IPv4 destination address")
		}
		tuple.Src, tuple.Dst = src, dst
	case flowtable.FamilyIPv6:
		l := pkt.Layer(layers.LayerTypeIPv6)
		if l == nil {
			return tuple, errors.New(errors.KindValidation, "not an IPv6 packet")
		}
		ip := l.(*layers.IPv6)
		tuple.Proto = uint8(ip.NextHeader)
		src, ok := netip.AddrFromSlice(ip.SrcIP.To16())
		if !ok {
			return tuple, errors.New(errors.KindValidation, "bad IPv6 source address")
		}
		dst, ok := netip.AddrFromSlice(ip.DstIP.To16())
		if !ok {
			return tuple, errors.New(errors.KindValidation, "bad IPv6 destination address")
		}
		tuple.Src, tuple.Dst = src, dst
	}

	if tcpLayer := pkt.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		tcp := tcpLayer.(*layers.TCP)
		tuple.SrcPort = uint16(tcp.SrcPort)
		tuple.DstPort = uint16(tcp.DstPort)
		return tuple, nil
	}
	if udpLayer := pkt.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp := udpLayer.(*layers.UDP)
		tuple.SrcPort = uint16(udp.SrcPort)
		tuple.DstPort = uint16(udp.DstPort)
		return tuple, nil
	}
	return tuple, errors.Errorf(errors.KindValidation, "protocol %d not offloadable", tuple.Proto)
}

// hook is the fast-path function shared by both families. A hit refreshes
// the flow's deadline and short-circuits the pipeline; a miss records a new
// flow and lets the packet continue down the normal path.
func hook(fam flowtable.Family) flowtable.HookFunc {
	return func(ft *flowtable.FlowTable, pkt *flowtable.Packet) flowtable.Verdict {
		tuple, err := Extract(fam, pkt.Data)
		if err != nil {
			return flowtable.VerdictPass
		}
		key := tuple.Key()
		deadline := time.Now().Add(DefaultFlowTimeout).UnixNano()

		reg := ft.Registry()
		if e := reg.Get(key); e != nil {
			e.Deadline.Store(deadline)
			return flowtable.VerdictHandled
		}

		flow := conntrack.NewFlow(
			tuple.Proto, conntrack.StatusConfirmed,
			tuple.Src, tuple.Dst,
			tuple.SrcPort, tuple.DstPort,
			uint32(DefaultFlowTimeout/time.Second), 0,
		)
		e, err := reg.Insert(key, &FlowState{Flow: flow})
		if err != nil {
			return flowtable.VerdictPass
		}
		e.Deadline.Store(deadline)
		return flowtable.VerdictPass
	}
}

// sweep evicts every entry whose deadline has passed.
func sweep(ft *flowtable.FlowTable) int {
	now := time.Now().UnixNano()
	var expired [][]byte
	ft.Registry().Iterate(func(e *flowtable.Entry) bool {
		if d := e.Deadline.Load(); d != 0 && d < now {
			expired = append(expired, e.Key())
		}
		return true
	})
	evicted := 0
	for _, key := range expired {
		if ft.Registry().Remove(key) {
			evicted++
		}
	}
	return evicted
}

func newType(fam flowtable.Family, owner string) *flowtable.Type {
	return &flowtable.Type{
		Family: fam,
		Params: flowtable.HashParams{
			Seed:       rand.Uint64(),
			MaxEntries: DefaultMaxFlows,
		},
		GC:    sweep,
		Hook:  hook(fam),
		Owner: &flowtable.Module{Name: owner},
	}
}

// NewIPv4Type creates the IPv4 flow-table type provider.
func NewIPv4Type() *flowtable.Type {
	return newType(flowtable.FamilyIPv4, "flowplane_ipv4")
}

// NewIPv6Type creates the IPv6 flow-table type provider.
func NewIPv6Type() *flowtable.Type {
	return newType(flowtable.FamilyIPv6, "flowplane_ipv6")
}

// Register registers both family providers with a type registry.
func Register(reg *flowtable.TypeRegistry) error {
	if err := reg.Register(NewIPv4Type()); err != nil {
		return err
	}
	return reg.Register(NewIPv6Type())
}
