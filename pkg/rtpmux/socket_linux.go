//go:build linux

package rtpmux

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlSocket включает SO_REUSEADDR и при необходимости увеличивает SO_RCVBUF,
// чтобы всплески RTCP не терялись в ядре
func controlSocket(rcvBuf int) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			if sockErr != nil || rcvBuf <= 0 {
				return
			}
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, rcvBuf)
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
