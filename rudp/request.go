package rudp

import "net"

// ConnectionRequest represents a dialing peer awaiting admission. The request
// is surfaced to the OnConnectionRequest hook before the peer becomes
// visible; exactly one of Accept or Reject decides its fate. A request left
// undecided by the hook is rejected.
type ConnectionRequest struct {
	// Key is the connect key presented by the dialing peer.
	Key string

	// RemoteAddr is the dialing peer's address.
	RemoteAddr net.Addr

	accepted bool
	decided  bool
}

// Accept admits the peer. The engine then assigns a connection id and fires
// OnPeerConnected.
func (r *ConnectionRequest) Accept() {
	if r.decided {
		return
	}
	r.decided = true
	r.accepted = true
}

// Reject refuses the peer; its connection is closed without ever surfacing a
// connected event.
func (r *ConnectionRequest) Reject() {
	if r.decided {
		return
	}
	r.decided = true
}

// Accepted reports whether the request has been accepted.
func (r *ConnectionRequest) Accepted() bool {
	return r.accepted
}
