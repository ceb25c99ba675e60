//go:build unix

package rudp

import (
	"net"
	"syscall"
)

// setDoNotRoute applies SO_DONTROUTE so outbound datagrams bypass the
// routing table and go straight to a directly connected host.
func setDoNotRoute(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_DONTROUTE, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
