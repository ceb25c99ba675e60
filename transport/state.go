// Package transport implements the socket layer between the game engine and
// the reliable-UDP engine: pooled packet queues, per-frame incoming/outgoing
// drains, and lifecycle state machines for the client and server roles.
package transport

// LocalConnectionState is the lifecycle state of a local socket role. States
// advance monotonically through Stopped -> Starting -> Started -> Stopping ->
// Stopped; a socket must return to Stopped before it can start again.
type LocalConnectionState int32

const (
	// Stopped means the socket is idle and may be started.
	Stopped LocalConnectionState = iota

	// Starting means engine bring-up is in flight on a background task.
	Starting

	// Started means the socket is connected (client) or listening (server).
	Started

	// Stopping means engine teardown is in flight on a background task.
	Stopping
)

// String returns the state name for logs.
func (s LocalConnectionState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Started:
		return "started"
	case Stopping:
		return "stopping"
	}
	return "unknown"
}

// RemoteConnectionState is the per-peer state tracked by the server role.
// Only connected/not-connected is tracked; intermediate states belong to the
// underlying engine.
type RemoteConnectionState int32

const (
	// RemoteStopped means the peer is not connected or unknown.
	RemoteStopped RemoteConnectionState = iota

	// RemoteStarted means the peer is connected.
	RemoteStarted
)

// String returns the state name for logs.
func (s RemoteConnectionState) String() string {
	if s == RemoteStarted {
		return "started"
	}
	return "stopped"
}

// Channel selects the delivery guarantee of a packet.
type Channel byte

const (
	// Reliable delivers ordered with retransmission.
	Reliable Channel = iota

	// Unreliable is fire-and-forget, bounded by the unreliable MTU.
	Unreliable
)

// String returns the channel name for logs.
func (c Channel) String() string {
	if c == Unreliable {
		return "unreliable"
	}
	return "reliable"
}

// BroadcastConnectionID addresses an outbound server packet to every
// connected peer.
const BroadcastConnectionID = -1

// ClientConnectionStateArgs reports a client-role lifecycle transition.
type ClientConnectionStateArgs struct {
	State LocalConnectionState
}

// ServerConnectionStateArgs reports a server-role lifecycle transition.
type ServerConnectionStateArgs struct {
	State LocalConnectionState
}

// RemoteConnectionStateArgs reports a remote peer connecting to or
// disconnecting from the server role.
type RemoteConnectionStateArgs struct {
	State        RemoteConnectionState
	ConnectionID int
}

// ClientReceivedDataArgs delivers one inbound packet to the client role's
// consumer. Data is only valid for the duration of the callback; the backing
// buffer returns to the pool afterwards.
type ClientReceivedDataArgs struct {
	Data    []byte
	Channel Channel
}

// ServerReceivedDataArgs delivers one inbound packet to the server role's
// consumer. Data is only valid for the duration of the callback.
type ServerReceivedDataArgs struct {
	Data         []byte
	Channel      Channel
	ConnectionID int
}

// TransportReceiver is implemented by the engine layer above the transport.
// All callbacks are invoked synchronously from the thread driving the
// per-frame iterate calls, never from a network worker.
type TransportReceiver interface {
	HandleClientConnectionState(args ClientConnectionStateArgs)
	HandleServerConnectionState(args ServerConnectionStateArgs)
	HandleRemoteConnectionState(args RemoteConnectionStateArgs)
	HandleClientReceivedData(args ClientReceivedDataArgs)
	HandleServerReceivedData(args ServerReceivedDataArgs)
}

// PacketLayer is an optional hook below the queue layer, e.g. compression or
// encryption. Outbound runs as a packet is handed to the engine; Inbound runs
// as raw engine data is converted into a packet. An Inbound error drops the
// datagram.
type PacketLayer interface {
	Outbound(data []byte) []byte
	Inbound(data []byte) ([]byte, error)
}

// remoteConnectionEvent is one queued peer connect/disconnect notification.
type remoteConnectionEvent struct {
	connectionID int
	connected    bool
}
