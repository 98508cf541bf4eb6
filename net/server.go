package net

import (
	"fmt"
	"net"
	"sync"

	"github.com/majiddarvishan/vex/frame"
	"github.com/majiddarvishan/vex/session"
)

// ServerBindHandler decides whether to accept an inbound bind_req. It
// returns the system_id to report back to the peer and whether the
// bind is accepted; on acceptance, s is handed to the caller to manage
// from then on (the server stops tracking it as a binding session).
type ServerBindHandler func(req frame.BindRequest, s *session.Session) (systemID string, accept bool)

// ServerErrorHandler receives a description of a failure that
// occurred while a session was still in its binding phase.
type ServerErrorHandler func(msg string)

// ServerConfig holds the listen address and per-session parameters a
// Server applies to every accepted connection.
type ServerConfig struct {
	Address           string
	InactivityTimeout int // seconds, passed straight through to the TCP_KEEPIDLE knob
	SessionConfig     session.Config
}

// Server listens for inbound connections, applies the same TCP
// keepalive/no-delay settings to each as the original's do_accept, and
// routes each session's bind_req to a ServerBindHandler. Grounded on
// server.hpp's accept loop and bind routing.
type Server struct {
	cfg         ServerConfig
	bindHandler ServerBindHandler
	errHandler  ServerErrorHandler

	mu       sync.Mutex
	listener net.Listener
	binding  map[*session.Session]struct{}
}

// NewServer constructs a Server bound to cfg.Address. It does not start
// listening until Start is called.
func NewServer(cfg ServerConfig, bindHandler ServerBindHandler, errHandler ServerErrorHandler) *Server {
	return &Server{
		cfg:         cfg,
		bindHandler: bindHandler,
		errHandler:  errHandler,
		binding:     make(map[*session.Session]struct{}),
	}
}

// Start opens the listening socket and begins the accept loop.
func (srv *Server) Start() error {
	ln, err := net.Listen("tcp", srv.cfg.Address)
	if err != nil {
		return fmt.Errorf("net: failed to listen on %s: %w", srv.cfg.Address, err)
	}
	srv.mu.Lock()
	srv.listener = ln
	srv.mu.Unlock()

	go srv.acceptLoop(ln)
	return nil
}

// Stop closes the listener and every still-binding session. Sessions
// already handed off to the bind handler are unaffected.
func (srv *Server) Stop() {
	srv.mu.Lock()
	ln := srv.listener
	binding := make([]*session.Session, 0, len(srv.binding))
	for s := range srv.binding {
		binding = append(binding, s)
	}
	srv.binding = make(map[*session.Session]struct{})
	srv.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, s := range binding {
		s.Close("server stopped")
	}
}

// BindingSessionCount returns how many sessions have connected but not
// yet completed the bind handshake.
func (srv *Server) BindingSessionCount() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.binding)
}

// Addr returns the listener's bound address. It's nil until Start
// succeeds.
func (srv *Server) Addr() net.Addr {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.listener == nil {
		return nil
	}
	return srv.listener.Addr()
}

func (srv *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		enableKeepalive(conn, srv.cfg.InactivityTimeout)
		enableNoDelay(conn)
		srv.onAccept(conn)
	}
}

func (srv *Server) onAccept(conn net.Conn) {
	s := session.New(conn, srv.cfg.SessionConfig)
	d := &serverBindDispatcher{server: srv, session: s}
	s.SetProtocolHandler(d)
	s.SetErrorHandler(serverSessionErrorAdapter{srv})
	s.SetCloseHandler(d.onClose)

	srv.mu.Lock()
	srv.binding[s] = struct{}{}
	srv.mu.Unlock()

	s.Start()
}

type serverBindDispatcher struct {
	mu      sync.Mutex
	bound   bool
	server  *Server
	session *session.Session
}

func (d *serverBindDispatcher) OnRequest(pdu frame.PDU, seq uint32) {
	d.mu.Lock()
	if d.bound {
		d.mu.Unlock()
		return
	}
	req, ok := pdu.(frame.BindRequest)
	if !ok {
		d.mu.Unlock()
		return
	}
	d.bound = true
	d.mu.Unlock()

	systemID, accept := d.invokeBindHandler(req)

	d.server.mu.Lock()
	delete(d.server.binding, d.session)
	d.server.mu.Unlock()

	if accept {
		_ = d.session.SendResponse(frame.BindResponse{SystemID: systemID}, seq, frame.StatusOK)
		return
	}
	_ = d.session.SendResponse(frame.BindResponse{SystemID: systemID}, seq, frame.StatusFail)
	d.session.Close("bind rejected")
}

// invokeBindHandler runs the user's ServerBindHandler with its own
// recover, so a panicking handler still gets a bind_resp(rfail) out
// the door from OnRequest rather than disappearing into the session's
// own handler-panic recovery, which would close without responding.
func (d *serverBindDispatcher) invokeBindHandler(req frame.BindRequest) (systemID string, accept bool) {
	if d.server.bindHandler == nil {
		return "", false
	}
	defer func() {
		if r := recover(); r != nil {
			d.server.reportError(fmt.Sprintf("panic in bind handler for %s: %v", remoteAddrString(d.session), r))
			systemID, accept = "", false
		}
	}()
	return d.server.bindHandler(req, d.session)
}

func (d *serverBindDispatcher) OnResponse(frame.PDU, uint32, frame.CommandStatus) {
	// A server-role session never sends requests during the binding
	// phase, so it never has a response to receive here either.
}

func (d *serverBindDispatcher) onClose(_ *session.Session, reason *string) {
	d.mu.Lock()
	wasBound := d.bound
	d.mu.Unlock()

	d.server.mu.Lock()
	delete(d.server.binding, d.session)
	d.server.mu.Unlock()

	if wasBound || reason == nil {
		return
	}
	d.server.reportError("binding session from " + remoteAddrString(d.session) + " closed: " + *reason)
}

func remoteAddrString(s *session.Session) string {
	if addr := s.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}

func (srv *Server) reportError(msg string) {
	if srv.errHandler != nil {
		srv.errHandler(msg)
	}
}

type serverSessionErrorAdapter struct{ srv *Server }

func (a serverSessionErrorAdapter) OnDeserializationError(msg string, id frame.CommandID, _ []byte) {
	a.srv.reportError(fmt.Sprintf("deserialization error [%s]: %s", id, msg))
}

func (a serverSessionErrorAdapter) OnProtocolError(msg string) {
	a.srv.reportError("protocol error: " + msg)
}

func (a serverSessionErrorAdapter) OnNetworkError(msg string) {
	a.srv.reportError("network error: " + msg)
}
