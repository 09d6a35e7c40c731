// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package family

import (
	"net"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flowplane/internal/flowtable"
)

func tcpPacketV4(t *testing.T, src, dst string, sport, dport uint16) []byte {
	t.Helper()
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP(src),
		DstIP:    net.ParseIP(dst),
	}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(sport), DstPort: layers.TCPPort(dport), SYN: true}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ip, tcp))
	return buf.Bytes()
}

func udpPacketV6(t *testing.T, src, dst string, sport, dport uint16) []byte {
	t.Helper()
	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolUDP,
		SrcIP:      net.ParseIP(src),
		DstIP:      net.ParseIP(dst),
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ip, udp))
	return buf.Bytes()
}

func TestExtractV4(t *testing.T) {
	data := tcpPacketV4(t, "10.0.0.1", "10.0.0.2", 12345, 443)

	tuple, err := Extract(flowtable.FamilyIPv4, data)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), tuple.Proto)
	assert.Equal(t, "10.0.0.1", tuple.Src.String())
	assert.Equal(t, "10.0.0.2", tuple.Dst.String())
	assert.Equal(t, uint16(12345), tuple.SrcPort)
	assert.Equal(t, uint16(443), tuple.DstPort)
}

func TestExtractV6(t *testing.T) {
	data := udpPacketV6(t, "2001:db8::1", "2001:db8::2", 5353, 53)

	tuple, err := Extract(flowtable.FamilyIPv6, data)
	require.NoError(t, err)
	assert.Equal(t, uint8(17), tuple.Proto)
	assert.Equal(t, "2001:db8::1", tuple.Src.String())
	assert.Equal(t, uint16(53), tuple.DstPort)
}

func TestExtractRejectsGarbage(t *testing.T) {
	_, err := Extract(flowtable.FamilyIPv4, []byte{0xde, 0xad})
	assert.Error(t, err)
}

func TestTupleKeyIsStable(t *testing.T) {
	data := tcpPacketV4(t, "192.168.1.1", "192.168.1.2", 1000, 2000)
	a, err := Extract(flowtable.FamilyIPv4, data)
	require.NoError(t, err)
	b, err := Extract(flowtable.FamilyIPv4, data)
	require.NoError(t, err)
	assert.Equal(t, a.Key(), b.Key())

	other := tcpPacketV4(t, "192.168.1.1", "192.168.1.2", 1000, 2001)
	c, err := Extract(flowtable.FamilyIPv4, other)
	require.NoError(t, err)
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestHookInsertsAndHits(t *testing.T) {
	typ := NewIPv4Type()
	ft := flowtable.New("tf1", typ, 1, 0, 0)

	pkt := &flowtable.Packet{Data: tcpPacketV4(t, "10.0.0.1", "10.0.0.2", 40000, 80)}

	// First packet records the flow and stays on the normal path.
	assert.Equal(t, flowtable.VerdictPass, typ.Hook(ft, pkt))
	assert.Equal(t, 1, ft.Registry().Len())

	// Second packet of the same flow hits the fast path.
	assert.Equal(t, flowtable.VerdictHandled, typ.Hook(ft, pkt))
	assert.Equal(t, 1, ft.Registry().Len())

	state := ft.Registry().Get(extractKey(t, pkt.Data)).State.(*FlowState)
	assert.Equal(t, uint8(6), state.Flow.TupleOrig.Proto.Protocol)
}

func extractKey(t *testing.T, data []byte) []byte {
	t.Helper()
	tuple, err := Extract(flowtable.FamilyIPv4, data)
	require.NoError(t, err)
	return tuple.Key()
}

func TestSweepEvictsExpired(t *testing.T) {
	typ := NewIPv4Type()
	ft := flowtable.New("tf1", typ, 1, 0, 0)

	live := &flowtable.Packet{Data: tcpPacketV4(t, "10.0.0.1", "10.0.0.2", 1111, 80)}
	stale := &flowtable.Packet{Data: tcpPacketV4(t, "10.0.0.3", "10.0.0.4", 2222, 80)}
	typ.Hook(ft, live)
	typ.Hook(ft, stale)
	require.Equal(t, 2, ft.Registry().Len())

	staleEntry := ft.Registry().Get(extractKey(t, stale.Data))
	require.NotNil(t, staleEntry)
	staleEntry.Deadline.Store(time.Now().Add(-time.Second).UnixNano())

	evicted := typ.GC(ft)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, ft.Registry().Len())
	assert.Nil(t, ft.Registry().Get(extractKey(t, stale.Data)))
	assert.NotNil(t, ft.Registry().Get(extractKey(t, live.Data)))
}

func TestRegisterBothFamilies(t *testing.T) {
	reg := flowtable.NewTypeRegistry()
	require.NoError(t, Register(reg))

	for _, fam := range []flowtable.Family{flowtable.FamilyIPv4, flowtable.FamilyIPv6} {
		typ, err := reg.Lookup(fam)
		require.NoError(t, err)
		assert.Equal(t, fam, typ.Family)
	}
}
