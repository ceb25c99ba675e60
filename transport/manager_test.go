package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lcx/nagare/rudp"
)

func TestManagerBracketingEvents(t *testing.T) {
	m, _ := newTestManager(t, nil)
	fe := newFakeEngine()
	startTestClient(t, m, fe)

	var order []string
	m.OnIterateIncomingStart = func(asServer bool) {
		require.False(t, asServer)
		order = append(order, "in-start")
	}
	m.OnIterateIncomingEnd = func(bool) { order = append(order, "in-end") }
	m.OnIterateOutgoingStart = func(bool) { order = append(order, "out-start") }
	m.OnIterateOutgoingEnd = func(bool) { order = append(order, "out-end") }

	m.IterateIncoming(false)
	m.IterateOutgoing(false)

	require.Equal(t, []string{"in-start", "in-end", "out-start", "out-end"}, order)
}

// xorLayer flips every payload byte, standing in for compression or crypto.
type xorLayer struct {
	rejectInbound bool
}

func (l xorLayer) Outbound(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ 0xFF
	}
	return out
}

func (l xorLayer) Inbound(data []byte) ([]byte, error) {
	if l.rejectInbound {
		return nil, errors.New("corrupt payload")
	}
	return l.Outbound(data), nil
}

func TestManagerPacketLayer(t *testing.T) {
	m, rec := newTestManager(t, nil)
	m.SetPacketLayer(xorLayer{})
	fe := newFakeEngine()
	startTestClient(t, m, fe)

	m.SendToServer(Reliable, []byte{0x0F})
	m.IterateOutgoing(false)
	sends := fe.sentTo(rudp.ServerPeerID)
	require.Len(t, sends, 1)
	require.Equal(t, []byte{0xF0}, sends[0].data, "outbound payload must pass through the layer")

	fe.deliver(rudp.ServerPeerID, []byte{0xF0}, rudp.DeliveryReliableOrdered)
	m.IterateIncoming(false)
	pkts := rec.clientPackets()
	require.Len(t, pkts, 1)
	require.Equal(t, []byte{0x0F}, pkts[0].Data, "inbound payload must pass through the layer")
}

// padLayer appends a fixed trailer, the shape of a MAC or crypto overhead.
type padLayer struct {
	pad int
}

func (l padLayer) Outbound(data []byte) []byte {
	return append(append([]byte(nil), data...), make([]byte, l.pad)...)
}

func (l padLayer) Inbound(data []byte) ([]byte, error) {
	return data[:len(data)-l.pad], nil
}

func TestManagerPacketLayerGrowthUpgradesDelivery(t *testing.T) {
	m, _ := newTestManager(t, &TransportCfg{UnreliableMTU: 8})
	m.SetPacketLayer(padLayer{pad: 8})
	fe := newFakeEngine()
	startTestClient(t, m, fe)

	// Four payload bytes fit the MTU, but the layer grows them past it.
	m.SendToServer(Unreliable, []byte("tiny"))
	m.IterateOutgoing(false)

	sends := fe.sentTo(rudp.ServerPeerID)
	require.Len(t, sends, 1)
	require.Equal(t, rudp.DeliveryReliableOrdered, sends[0].method,
		"the size on the wire decides the channel, not the pre-layer size")
}

func TestManagerPacketLayerDropsBadInbound(t *testing.T) {
	m, rec := newTestManager(t, nil)
	m.SetPacketLayer(xorLayer{rejectInbound: true})
	fe := newFakeEngine()
	startTestClient(t, m, fe)

	fe.deliver(rudp.ServerPeerID, []byte{0x01}, rudp.DeliveryReliableOrdered)
	m.IterateIncoming(false)
	require.Empty(t, rec.clientPackets())
}

func TestManagerConfigReload(t *testing.T) {
	m, _ := newTestManager(t, nil)

	next := &TransportCfg{Port: 9999, InboundPacketsPerSecond: 50}
	require.NoError(t, next.Validate())
	require.NoError(t, m.OnConfigChanged("transport", next, nil))

	require.Equal(t, uint16(9999), m.currentCfg().Port)
	require.NotNil(t, m.inboundLimiter())

	// Disabling the pacing limit removes the limiter.
	off := &TransportCfg{}
	require.NoError(t, off.Validate())
	require.NoError(t, m.OnConfigChanged("transport", off, nil))
	require.Nil(t, m.inboundLimiter())

	require.Error(t, m.OnConfigChanged("transport", &badConfig{}, nil))
}

type badConfig struct{}

func (*badConfig) GetName() string { return "transport" }
func (*badConfig) Validate() error { return nil }

func TestManagerGetPort(t *testing.T) {
	m, _ := newTestManager(t, nil)
	if _, ok := m.GetPort(false); ok {
		t.Fatal("no port before start")
	}

	fe := newFakeEngine()
	startTestClient(t, m, fe)

	port, ok := m.GetPort(false)
	require.True(t, ok)
	require.Equal(t, uint16(40000), port)
}
