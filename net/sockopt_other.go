//go:build !linux

package net

import (
	"net"
	"time"
)

// enableKeepalive falls back to the portable *net.TCPConn knobs on
// platforms where the fine-grained TCP_KEEPIDLE/INTVL/CNT options
// tcp_utils.hpp's Linux branch sets aren't available through
// golang.org/x/sys/unix the same way.
func enableKeepalive(conn net.Conn, inactivityTimeout int) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.SetKeepAlive(true)
	_ = tc.SetKeepAlivePeriod(time.Duration(inactivityTimeout) * time.Second)
}

func enableNoDelay(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
}
