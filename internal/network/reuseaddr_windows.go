//go:build windows

package network

import "syscall"

// Failures are ignored; Windows binds without the option.
func setReuseAddr(fd uintptr) error {
	syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	return nil
}
