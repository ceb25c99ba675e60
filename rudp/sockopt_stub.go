//go:build !unix

package rudp

import "net"

// setDoNotRoute is unsupported on this platform.
func setDoNotRoute(_ *net.UDPConn) error {
	return nil
}
