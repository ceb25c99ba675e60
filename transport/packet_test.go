package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPacketCopiesSegment(t *testing.T) {
	segment := []byte{1, 2, 3, 4}
	p := newPacket(5, segment, Reliable, 0)
	defer p.Dispose()

	segment[0] = 99
	require.Equal(t, []byte{1, 2, 3, 4}, p.Data(), "packet must own its payload")
	require.Equal(t, 5, p.ConnectionID)
	require.Equal(t, Reliable, p.Channel)
	require.Equal(t, 4, p.Len())
}

func TestPacketReserveCapacity(t *testing.T) {
	p := newPacket(0, []byte("ab"), Unreliable, 1024)
	defer p.Dispose()

	require.Equal(t, 2, p.Len())
	require.GreaterOrEqual(t, cap(p.buf.B), 1024)
}

func TestPacketDisposeIdempotent(t *testing.T) {
	before := _outstandingPackets.Load()

	p := newPacket(0, []byte("x"), Reliable, 0)
	require.Equal(t, before+1, _outstandingPackets.Load())

	p.Dispose()
	p.Dispose()
	p.Dispose()
	require.Equal(t, before, _outstandingPackets.Load(), "repeat Dispose must not double-return the buffer")
	require.Nil(t, p.buf)
}

func TestConcurrentQueueDrainOrder(t *testing.T) {
	q := newConcurrentQueue[int]()
	for i := 0; i < 10; i++ {
		q.Enqueue(i)
	}
	require.EqualValues(t, 10, q.Len())

	got := q.Drain()
	require.Len(t, got, 10)
	for i, v := range got {
		require.Equal(t, i, v)
	}
	require.Nil(t, q.Drain())
}

func TestConcurrentQueueClearReleases(t *testing.T) {
	q := newConcurrentQueue[*Packet]()
	before := _outstandingPackets.Load()
	for i := 0; i < 5; i++ {
		q.Enqueue(newPacket(i, []byte("payload"), Reliable, 0))
	}
	require.Equal(t, before+5, _outstandingPackets.Load())

	q.Clear(disposePacket)
	require.Zero(t, q.Len())
	require.Equal(t, before, _outstandingPackets.Load())
}
