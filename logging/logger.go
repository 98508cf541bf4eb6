// Package logging wires the session and net error-reporting callbacks
// to a structured zerolog logger. Nothing in frame, buffer, state,
// backpressure, session, expire, net, or registry imports this
// package directly; they only ever see an ErrorHandler interface, and
// this package is one implementation of it.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/majiddarvishan/vex/frame"
)

// New builds a console-writer zerolog.Logger tagged with component,
// the same shape as every other logger constructed across this
// process so log lines stay greppable by component across a mixed
// client/server deployment.
func New(component string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).With().Timestamp().Str("component", component).Logger()
}

// ErrorHandler logs deserialization, protocol, and network errors
// reported by a session at the matching zerolog level: deserialization
// failures are warnings, protocol and network errors are errors.
type ErrorHandler struct {
	log zerolog.Logger
}

// NewErrorHandler wraps log as a session.ErrorHandler.
func NewErrorHandler(log zerolog.Logger) ErrorHandler {
	return ErrorHandler{log: log}
}

func (h ErrorHandler) OnDeserializationError(msg string, id frame.CommandID, data []byte) {
	h.log.Warn().
		Str("command", id.String()).
		Int("body_len", len(data)).
		Msg(msg)
}

func (h ErrorHandler) OnProtocolError(msg string) {
	h.log.Error().Str("kind", "protocol").Msg(msg)
}

func (h ErrorHandler) OnNetworkError(msg string) {
	h.log.Error().Str("kind", "network").Msg(msg)
}

// SessionEvents adapts net.ClientErrorHandler/net.ServerErrorHandler
// (plain func(string) signatures) to a zerolog logger, for the
// connect/accept/bind diagnostics that happen before a session exists
// to report through an ErrorHandler at all.
func SessionEvents(log zerolog.Logger) func(msg string) {
	return func(msg string) {
		log.Warn().Str("kind", "session").Msg(msg)
	}
}

// WithSession returns a child logger tagged with a session identifier,
// for call sites that want every subsequent log line correlated to one
// connection without threading the id through every call.
func WithSession(log zerolog.Logger, sessionID string) zerolog.Logger {
	return log.With().Str("session_id", sessionID).Logger()
}
