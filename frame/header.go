package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// HeaderLength is the fixed size, in bytes, of every PDU header.
const HeaderLength = 10

// CommandID identifies the kind of PDU carried by a frame. The top bit
// distinguishes a response (set) from a request (clear).
type CommandID uint8

const (
	CommandBindReq         CommandID = 0x01
	CommandBindResp        CommandID = 0x81
	CommandStreamReq       CommandID = 0x02
	CommandStreamResp      CommandID = 0x82
	CommandUnbindReq       CommandID = 0x03
	CommandUnbindResp      CommandID = 0x83
	CommandEnquireLinkReq  CommandID = 0x04
	CommandEnquireLinkResp CommandID = 0x84
)

// IsResponse reports whether id carries the response bit.
func (id CommandID) IsResponse() bool {
	return id&0x80 != 0
}

// String renders id by name for known commands, falling back to its
// hex value for anything else (e.g. an unrecognized wire command).
func (id CommandID) String() string {
	switch id {
	case CommandBindReq:
		return "bind_req"
	case CommandBindResp:
		return "bind_resp"
	case CommandStreamReq:
		return "stream_req"
	case CommandStreamResp:
		return "stream_resp"
	case CommandUnbindReq:
		return "unbind_req"
	case CommandUnbindResp:
		return "unbind_resp"
	case CommandEnquireLinkReq:
		return "enquire_link_req"
	case CommandEnquireLinkResp:
		return "enquire_link_resp"
	default:
		return fmt.Sprintf("cmd(%#02x)", uint8(id))
	}
}

// CommandStatus is the one-byte status carried in every header.
type CommandStatus uint8

const (
	StatusOK   CommandStatus = 0x00
	StatusFail CommandStatus = 0xFF
)

// String renders a CommandStatus by name, falling back to its hex
// value for anything outside the two defined statuses.
func (s CommandStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFail:
		return "fail"
	default:
		return fmt.Sprintf("status(%#02x)", uint8(s))
	}
}

// ErrMalformedHeader is returned by DecodeHeader when the declared
// command_length is smaller than the header itself.
var ErrMalformedHeader = errors.New("frame: malformed header")

// Header is the decoded form of the fixed 10-byte PDU prefix.
type Header struct {
	CommandLength uint32
	CommandID     CommandID
	CommandStatus CommandStatus
	SequenceNumber uint32
}

// EncodeHeader serializes a header. It never fails: callers are
// responsible for choosing a valid commandLength before calling it.
func EncodeHeader(commandLength uint32, id CommandID, seq uint32, status CommandStatus) [HeaderLength]byte {
	var buf [HeaderLength]byte
	binary.BigEndian.PutUint32(buf[0:4], commandLength)
	buf[4] = byte(id)
	buf[5] = byte(status)
	binary.BigEndian.PutUint32(buf[6:10], seq)
	return buf
}

// DecodeHeader parses the fixed header out of the first HeaderLength
// bytes of buf. buf must be at least HeaderLength bytes; callers check
// buffered size before calling, as the framing loop does.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLength {
		return Header{}, errors.WithStack(ErrMalformedHeader)
	}
	length := binary.BigEndian.Uint32(buf[0:4])
	if length < HeaderLength {
		return Header{}, errors.WithStack(ErrMalformedHeader)
	}
	return Header{
		CommandLength:  length,
		CommandID:      CommandID(buf[4]),
		CommandStatus:  CommandStatus(buf[5]),
		SequenceNumber: binary.BigEndian.Uint32(buf[6:10]),
	}, nil
}
