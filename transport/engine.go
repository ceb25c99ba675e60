package transport

import (
	"net"

	"github.com/lcx/nagare/rudp"
)

// netEngine is the slice of the reliable-UDP engine the sockets drive.
// Production code always uses *rudp.Engine; tests substitute a recording
// fake through the socket's engine factory.
type netEngine interface {
	Listen(ipv4 net.IP, ipv6 net.IP, port uint16) error
	Connect(address string, port uint16) error
	Send(peerID int, data []byte, method rudp.DeliveryMethod) error
	Disconnect(peerID int) error
	Poll()
	Stop()
	Port() int
	IsConnected(peerID int) bool
	PeerAddr(peerID int) (string, bool)
	PeerCount() int
	PeerIDs() []int
}

// engineFactory builds the engine a socket starts. Swappable for tests.
type engineFactory func(cfg rudp.Config) netEngine

func defaultEngineFactory(cfg rudp.Config) netEngine {
	return rudp.New(cfg)
}
