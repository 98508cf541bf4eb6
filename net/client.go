// Package net implements the client and server connection drivers: the
// outbound dialer with its bind handshake and auto-reconnect, and the
// inbound listener with its accept loop and bind routing. Both hand a
// freshly bound *session.Session to the caller and step out of the way.
package net

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/majiddarvishan/vex/frame"
	"github.com/majiddarvishan/vex/session"
)

// reconnectDelay is the fixed back-off between connection attempts,
// matching client.hpp's do_set_retry_timer (a constant 5s timer, not
// exponential back-off).
const reconnectDelay = 5 * time.Second

// ClientBindHandler receives the peer's bind_resp and the now-bound
// session. It's invoked on its own goroutine so it's safe to block or
// to close the session from inside the callback.
type ClientBindHandler func(resp frame.BindResponse, s *session.Session)

// ClientErrorHandler receives a human-readable description of any
// failure that occurred while connecting or binding.
type ClientErrorHandler func(msg string)

// ClientConfig holds the dial target and handshake parameters for a
// Client.
type ClientConfig struct {
	Address              string
	InactivityTimeout    time.Duration
	BindRequest          frame.BindRequest
	SessionConfig        session.Config
	DisableAutoReconnect bool
}

// Client dials Address, performs the bind handshake, and hands the
// resulting session to a ClientBindHandler. If the connection drops (or
// the handshake fails for a transport reason) before a bind_resp
// arrives, it retries on a constant timer unless DisableAutoReconnect
// is set or Stop has been called. A bind_resp carrying rfail is
// terminal for that attempt: per spec, a rejected bind does not trigger
// a reconnect, only a transport failure does.
type Client struct {
	cfg          ClientConfig
	bindHandler  ClientBindHandler
	errorHandler ClientErrorHandler
	dialer       net.Dialer

	mu            sync.Mutex
	autoReconnect bool
	stopped       bool
	retryTimer    *time.Timer
	binding       *session.Session
}

// NewClient constructs a Client. Call Start to begin connecting.
func NewClient(cfg ClientConfig, bindHandler ClientBindHandler, errorHandler ClientErrorHandler) *Client {
	return &Client{
		cfg:           cfg,
		bindHandler:   bindHandler,
		errorHandler:  errorHandler,
		autoReconnect: !cfg.DisableAutoReconnect,
	}
}

// Start begins the first connection attempt.
func (c *Client) Start() {
	go c.connect()
}

// Stop disables auto-reconnect and tears down any in-flight binding
// session. It does not affect a session already handed off to the bind
// handler; the caller owns that session's lifecycle from then on.
func (c *Client) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.autoReconnect = false
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	binding := c.binding
	c.binding = nil
	c.mu.Unlock()

	if binding != nil {
		binding.Close("client stopped")
	}
}

func (c *Client) connect() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	conn, err := c.dialer.DialContext(context.Background(), "tcp", c.cfg.Address)
	if err != nil {
		c.reportError(fmt.Sprintf("connect to %s failed: %v", c.cfg.Address, err))
		c.scheduleRetry()
		return
	}

	c.onConnect(conn)
}

func (c *Client) scheduleRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || !c.autoReconnect {
		return
	}
	c.retryTimer = time.AfterFunc(reconnectDelay, func() { go c.connect() })
}

func (c *Client) onConnect(conn net.Conn) {
	enableKeepalive(conn, int(c.cfg.InactivityTimeout.Seconds()))
	enableNoDelay(conn)

	s := session.New(conn, c.cfg.SessionConfig)
	h := &clientBindDispatcher{client: c, session: s}
	s.SetProtocolHandler(h)
	s.SetErrorHandler(clientSessionErrorAdapter{c})
	s.SetCloseHandler(h.onClose)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		s.Close("client stopped")
		return
	}
	c.binding = s
	c.mu.Unlock()

	s.Start()
	if _, err := s.SendRequest(c.cfg.BindRequest); err != nil {
		c.reportError(fmt.Sprintf("failed to send bind request: %v", err))
		s.Close(err.Error())
	}
}

func (c *Client) reportError(msg string) {
	if c.errorHandler != nil {
		c.errorHandler(msg)
	}
}

// clientBindDispatcher is the ProtocolHandler installed on the binding
// session: it watches for the bind_resp and, once seen, hands the
// session off to the user's bind handler and stops intercepting.
type clientBindDispatcher struct {
	mu      sync.Mutex
	bound   bool
	client  *Client
	session *session.Session
}

func (d *clientBindDispatcher) OnRequest(frame.PDU, uint32) {
	// A client-role session expects no requests during the binding
	// phase; any request the session delivers here is dropped.
}

func (d *clientBindDispatcher) OnResponse(pdu frame.PDU, seq uint32, status frame.CommandStatus) {
	d.mu.Lock()
	if d.bound {
		d.mu.Unlock()
		return
	}
	resp, ok := pdu.(frame.BindResponse)
	if !ok {
		d.mu.Unlock()
		return
	}
	d.bound = true
	d.mu.Unlock()

	if status != frame.StatusOK {
		d.client.reportError(fmt.Sprintf("bind rejected for system_id %q", resp.SystemID))
		d.session.Close("bind rejected")
		return
	}

	d.client.mu.Lock()
	d.client.binding = nil
	d.client.mu.Unlock()

	// Pause reception before handing off: whatever the peer sends right
	// after bind_resp must wait for the user's own ProtocolHandler to be
	// installed, not fall through to this dispatcher or get dropped.
	d.session.Pause()

	// Deferred hand-off: run the user's callback on its own goroutine so
	// it's safe for it to close or discard d.session synchronously,
	// mirroring client.hpp's boost::asio::defer around the same call.
	go func() {
		d.client.bindHandler(resp, d.session)
		d.session.Resume()
	}()
}

func (d *clientBindDispatcher) onClose(_ *session.Session, reason *string) {
	d.mu.Lock()
	wasBound := d.bound
	d.mu.Unlock()
	if wasBound {
		return
	}

	d.client.mu.Lock()
	d.client.binding = nil
	shouldRetry := d.client.autoReconnect && !d.client.stopped
	d.client.mu.Unlock()

	msg := "binding session closed"
	if reason != nil {
		msg = "binding session closed: " + *reason
	}
	d.client.reportError(msg)

	if shouldRetry {
		d.client.scheduleRetry()
	}
}

type clientSessionErrorAdapter struct{ c *Client }

func (a clientSessionErrorAdapter) OnDeserializationError(msg string, id frame.CommandID, _ []byte) {
	a.c.reportError(fmt.Sprintf("deserialization error [%s]: %s", id, msg))
}

func (a clientSessionErrorAdapter) OnProtocolError(msg string) {
	a.c.reportError("protocol error: " + msg)
}

func (a clientSessionErrorAdapter) OnNetworkError(msg string) {
	a.c.reportError("network error: " + msg)
}
