//go:build linux

package net

import (
	"net"

	"golang.org/x/sys/unix"
)

// tcpKeepaliveInterval and tcpKeepaliveCount match tcp_utils.hpp's
// enable_keepalive: a fixed 10s probe interval and 5 probes before the
// peer is declared dead, with only the idle time itself configurable.
const (
	tcpKeepaliveInterval = 10
	tcpKeepaliveCount    = 5
)

// enableKeepalive arms TCP keepalive with the same three knobs
// tcp_utils.hpp's Linux branch sets via setsockopt: SO_KEEPALIVE,
// TCP_KEEPIDLE (from inactivityTimeout), TCP_KEEPINTVL, TCP_KEEPCNT.
func enableKeepalive(conn net.Conn, inactivityTimeout int) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	raw, err := tc.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, inactivityTimeout)
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, tcpKeepaliveInterval)
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, tcpKeepaliveCount)
	})
}

// enableNoDelay disables Nagle's algorithm, mirroring enable_no_delay.
func enableNoDelay(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
}
