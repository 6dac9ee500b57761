//go:build !linux

package rtpmux

import "syscall"

// controlSocket на остальных платформах оставляет параметры сокета по умолчанию
func controlSocket(rcvBuf int) func(network, address string, c syscall.RawConn) error {
	return nil
}
