// Package frame implements the wire codec for vex sessions: the fixed
// 10-byte header and the request/response PDU bodies carried over it.
//
// The codec is value-oriented and holds no state of its own, so parsing
// stays decoupled from the session's framing loop and is trivial to
// exercise in isolation.
package frame
