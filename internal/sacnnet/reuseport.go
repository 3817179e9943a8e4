package sacnnet

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseportListenConfig returns a net.ListenConfig whose Control callback
// sets SO_REUSEADDR and SO_REUSEPORT before bind(2). Shared-socket mode
// (spec §4.1) opens one receive socket per (thread, IP family) on the
// same sACN port 5568; without SO_REUSEPORT the second and later receive
// threads would fail to bind at all.
func reuseportListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var setErr error
			err := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					setErr = err
					return
				}
				setErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return setErr
		},
	}
}

// listenPacketReuseport is a drop-in replacement for net.ListenPacket that
// enables SO_REUSEPORT so multiple receive threads can share one UDP port.
func listenPacketReuseport(network, address string) (net.PacketConn, error) {
	lc := reuseportListenConfig()
	return lc.ListenPacket(context.Background(), network, address)
}
