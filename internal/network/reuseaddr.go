package network

import (
	"net"
	"syscall"
)

// ReuseAddrListenConfig returns a ListenConfig that sets SO_REUSEADDR on
// every socket it binds. The router listeners and the CD-key listener use
// it so a restarted gsemu can rebind while old sockets sit in TIME_WAIT.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{Control: reuseAddrControl}
}

func reuseAddrControl(network, address string, c syscall.RawConn) error {
	var opErr error
	if err := c.Control(func(fd uintptr) {
		opErr = setReuseAddr(fd)
	}); err != nil {
		return err
	}
	return opErr
}
