//go:build !unix

package transport

import (
	"errors"
	"net"
	"syscall"
)

func listenControl(bufferSize int) func(network, address string, c syscall.RawConn) error {
	return nil
}

func receiveBufferSize(conn *net.UDPConn) (int, error) {
	return 0, errors.New("receive buffer size not available on this platform")
}
