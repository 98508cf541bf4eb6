package frame

import (
	"bytes"

	"github.com/pkg/errors"
)

// Errors surfaced while decoding PDU bodies. MalformedHeader is defined
// in header.go; these cover the body side of §4.1.
var (
	ErrTruncated      = errors.New("frame: truncated body")
	ErrLengthOverflow = errors.New("frame: c_octet_str exceeds its limit")
	ErrUnknownPDU     = errors.New("frame: unknown command id")
)

// bindSystemIDMaxLen is the maximum encoded length (including the NUL
// terminator) of a bind system_id, per §3 and §6.
const bindSystemIDMaxLen = 20

// PDU is any decoded request or response body. Implementations are
// deliberately plain structs; encoding/decoding lives in this package
// so the session engine stays free of serialization concerns.
type PDU interface {
	CommandID() CommandID
}

// BindRequest is the bind_req body: a single c-octet-string system_id.
type BindRequest struct {
	SystemID string
}

func (BindRequest) CommandID() CommandID { return CommandBindReq }

// BindResponse is the bind_resp body: the peer's system_id.
type BindResponse struct {
	SystemID string
}

func (BindResponse) CommandID() CommandID { return CommandBindResp }

// StreamRequest carries an opaque payload; body is the raw remainder.
type StreamRequest struct {
	Body []byte
}

func (StreamRequest) CommandID() CommandID { return CommandStreamReq }

// StreamResponse carries an opaque payload; may be empty.
type StreamResponse struct {
	Body []byte
}

func (StreamResponse) CommandID() CommandID { return CommandStreamResp }

// UnbindRequest has an empty body.
type UnbindRequest struct{}

func (UnbindRequest) CommandID() CommandID { return CommandUnbindReq }

// UnbindResponse has an empty body.
type UnbindResponse struct{}

func (UnbindResponse) CommandID() CommandID { return CommandUnbindResp }

// EnquireLinkRequest has an empty body.
type EnquireLinkRequest struct{}

func (EnquireLinkRequest) CommandID() CommandID { return CommandEnquireLinkReq }

// EnquireLinkResponse has an empty body.
type EnquireLinkResponse struct{}

func (EnquireLinkResponse) CommandID() CommandID { return CommandEnquireLinkResp }

// encodeCOctetString appends val followed by its NUL terminator,
// rejecting strings whose terminated length would exceed maxLen.
func encodeCOctetString(dst []byte, val string, maxLen int) ([]byte, error) {
	if len(val)+1 > maxLen {
		return dst, errors.WithStack(ErrLengthOverflow)
	}
	dst = append(dst, val...)
	dst = append(dst, 0)
	return dst, nil
}

// decodeCOctetString consumes a NUL-terminated string from the front of
// buf, returning the string and the unconsumed remainder.
func decodeCOctetString(buf []byte, maxLen int) (string, []byte, error) {
	nul := bytes.IndexByte(buf, 0)
	if nul < 0 {
		return "", nil, errors.WithStack(ErrTruncated)
	}
	if nul >= maxLen {
		return "", nil, errors.WithStack(ErrLengthOverflow)
	}
	return string(buf[:nul]), buf[nul+1:], nil
}

// EncodeBody serializes a PDU's body (header excluded) in the field
// order listed in spec §6.
func EncodeBody(pdu PDU) ([]byte, error) {
	switch p := pdu.(type) {
	case BindRequest:
		return encodeCOctetString(nil, p.SystemID, bindSystemIDMaxLen)
	case BindResponse:
		return encodeCOctetString(nil, p.SystemID, bindSystemIDMaxLen)
	case StreamRequest:
		return append([]byte(nil), p.Body...), nil
	case StreamResponse:
		return append([]byte(nil), p.Body...), nil
	case UnbindRequest:
		return nil, nil
	case UnbindResponse:
		return nil, nil
	case EnquireLinkRequest:
		return nil, nil
	case EnquireLinkResponse:
		return nil, nil
	default:
		return nil, errors.WithStack(ErrUnknownPDU)
	}
}

// DecodeBody deserializes body into the PDU identified by id.
func DecodeBody(id CommandID, body []byte) (PDU, error) {
	switch id {
	case CommandBindReq:
		sysID, _, err := decodeCOctetString(body, bindSystemIDMaxLen)
		if err != nil {
			return nil, err
		}
		return BindRequest{SystemID: sysID}, nil
	case CommandBindResp:
		sysID, _, err := decodeCOctetString(body, bindSystemIDMaxLen)
		if err != nil {
			return nil, err
		}
		return BindResponse{SystemID: sysID}, nil
	case CommandStreamReq:
		return StreamRequest{Body: append([]byte(nil), body...)}, nil
	case CommandStreamResp:
		return StreamResponse{Body: append([]byte(nil), body...)}, nil
	case CommandUnbindReq:
		return UnbindRequest{}, nil
	case CommandUnbindResp:
		return UnbindResponse{}, nil
	case CommandEnquireLinkReq:
		return EnquireLinkRequest{}, nil
	case CommandEnquireLinkResp:
		return EnquireLinkResponse{}, nil
	default:
		return nil, errors.WithStack(ErrUnknownPDU)
	}
}

// EncodeFrame serializes a full PDU (header + body) ready for the wire.
func EncodeFrame(pdu PDU, seq uint32, status CommandStatus) ([]byte, error) {
	body, err := EncodeBody(pdu)
	if err != nil {
		return nil, err
	}
	length := uint32(HeaderLength + len(body))
	header := EncodeHeader(length, pdu.CommandID(), seq, status)
	out := make([]byte, 0, length)
	out = append(out, header[:]...)
	out = append(out, body...)
	return out, nil
}
