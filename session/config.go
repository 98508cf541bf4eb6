package session

import (
	"time"

	"github.com/pkg/errors"
)

// ErrInvalidConfig is wrapped with the specific reason a Config failed
// Validate.
var ErrInvalidConfig = errors.New("session: invalid config")

// Config holds the tunables for a Session, mirroring the original
// implementation's session_config: buffer sizing, protocol limits, and
// backpressure watermarks.
type Config struct {
	// SendBufCapacity is the nominal capacity of the send buffers.
	// Validate rejects a SendBufThreshold or backpressure high watermark
	// above it; the session does not cap the pending send buffer at it.
	SendBufCapacity int
	// SendBufThreshold is a queued-byte level that must not exceed
	// SendBufCapacity. Validate checks that; the session does not
	// otherwise act on it.
	SendBufThreshold int
	// ReceiveBufSize is the fixed capacity of the flat receive buffer.
	ReceiveBufSize int
	// SmallBodySize is the body-size threshold (capped at 256) at or
	// below which extractFramed decodes from a per-session scratch buffer
	// instead of allocating on the heap.
	SmallBodySize int
	// MaxCommandLength rejects any header whose declared command_length
	// exceeds this, closing the session.
	MaxCommandLength uint32
	// UnbindTimeout bounds how long a local unbind() waits for
	// unbind_resp before forcing the session closed.
	UnbindTimeout time.Duration
	// BackpressureLow and BackpressureHigh are the two watermarks
	// backpressure.Controller gates reception on.
	BackpressureLow, BackpressureHigh uint64
	// RequestTimeout bounds how long SendRequest waits for a matching
	// response before the pending entry surfaces as a timeout. Zero
	// disables per-request tracking entirely.
	RequestTimeout time.Duration
}

// DefaultConfig returns Config's struct defaults.
func DefaultConfig() Config {
	return Config{
		SendBufCapacity:  1024 * 1024,
		SendBufThreshold: 1024 * 1024,
		ReceiveBufSize:   1024 * 1024,
		SmallBodySize:    256,
		MaxCommandLength: 10 * 1024 * 1024,
		UnbindTimeout:    5 * time.Second,
		BackpressureLow:  512 * 1024,
		BackpressureHigh: 1024 * 1024,
		RequestTimeout:   30 * time.Second,
	}
}

// Validate reports whether the Config's fields are internally
// consistent, mirroring session_config::is_valid().
func (c Config) Validate() error {
	switch {
	case c.SendBufCapacity <= 0:
		return errors.Wrap(ErrInvalidConfig, "send buffer capacity must be positive")
	case c.ReceiveBufSize <= 0:
		return errors.Wrap(ErrInvalidConfig, "receive buffer size must be positive")
	case c.MaxCommandLength == 0:
		return errors.Wrap(ErrInvalidConfig, "max command length must be positive")
	case c.SendBufThreshold > c.SendBufCapacity:
		return errors.Wrap(ErrInvalidConfig, "send buffer threshold exceeds send buffer capacity")
	case c.BackpressureLow > c.BackpressureHigh:
		return errors.Wrap(ErrInvalidConfig, "backpressure low watermark exceeds high watermark")
	case c.BackpressureHigh > uint64(c.SendBufCapacity):
		return errors.Wrap(ErrInvalidConfig, "backpressure high watermark exceeds send buffer capacity")
	default:
		return nil
	}
}
