package session

import "github.com/majiddarvishan/vex/frame"

// ProtocolHandler receives deserialized PDUs as they're dispatched off
// the framing loop. A Session holds at most one; panics escaping
// either method are treated as a protocol error and close the session
// (mirroring the original's try/catch around the handler call).
type ProtocolHandler interface {
	OnRequest(pdu frame.PDU, seq uint32)
	OnResponse(pdu frame.PDU, seq uint32, status frame.CommandStatus)
}

// ErrorHandler is the capability interface a Session reports
// deserialization, protocol, and network errors through, keeping the
// core decoupled from any concrete logging stack.
type ErrorHandler interface {
	OnDeserializationError(msg string, id frame.CommandID, data []byte)
	OnProtocolError(msg string)
	OnNetworkError(msg string)
}

// SilentErrorHandler discards every error it's reported, useful for
// tests that don't want log noise.
type SilentErrorHandler struct{}

func (SilentErrorHandler) OnDeserializationError(string, frame.CommandID, []byte) {}
func (SilentErrorHandler) OnProtocolError(string)                                 {}
func (SilentErrorHandler) OnNetworkError(string)                                  {}

// ThrowingErrorHandler panics on every error, the Go analogue of the
// original's throwing_error_handler; intended for tests that want a
// protocol violation to surface immediately rather than close quietly.
type ThrowingErrorHandler struct{}

func (ThrowingErrorHandler) OnDeserializationError(msg string, id frame.CommandID, _ []byte) {
	panic("session: deserialization error [cmd=" + id.String() + "]: " + msg)
}

func (ThrowingErrorHandler) OnProtocolError(msg string) {
	panic("session: protocol error: " + msg)
}

func (ThrowingErrorHandler) OnNetworkError(msg string) {
	panic("session: network error: " + msg)
}

// CloseHandler is invoked, once, when a Session finishes closing. A
// session that was Open at close time passes the close reason; one
// that was already Unbinding passes nil.
type CloseHandler func(s *Session, reason *string)
