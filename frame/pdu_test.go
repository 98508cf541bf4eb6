package frame

import (
	"bytes"
	"strings"
	"testing"
)

func TestBindRequestRoundTrip(t *testing.T) {
	want := BindRequest{SystemID: "gw-01"}
	body, err := EncodeBody(want)
	if err != nil {
		t.Fatalf("EncodeBody: %v", err)
	}
	got, err := DecodeBody(CommandBindReq, body)
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestBindRequestSystemIDTooLong(t *testing.T) {
	_, err := EncodeBody(BindRequest{SystemID: strings.Repeat("a", bindSystemIDMaxLen)})
	if err == nil {
		t.Fatal("expected overflow error")
	}
}

func TestBindRequestSystemIDAtMaxBoundary(t *testing.T) {
	systemID := strings.Repeat("a", bindSystemIDMaxLen-1)
	body, err := EncodeBody(BindRequest{SystemID: systemID})
	if err != nil {
		t.Fatalf("EncodeBody: %v", err)
	}
	got, err := DecodeBody(CommandBindReq, body)
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if got.(BindRequest).SystemID != systemID {
		t.Fatalf("got %+v, want system_id %q", got, systemID)
	}
}

func TestStreamRequestConsumesRemainder(t *testing.T) {
	want := StreamRequest{Body: []byte("hello world")}
	body, err := EncodeBody(want)
	if err != nil {
		t.Fatalf("EncodeBody: %v", err)
	}
	got, err := DecodeBody(CommandStreamReq, body)
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	sr, ok := got.(StreamRequest)
	if !ok || !bytes.Equal(sr.Body, want.Body) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestEmptyBodyPDUs(t *testing.T) {
	for _, pdu := range []PDU{UnbindRequest{}, UnbindResponse{}, EnquireLinkRequest{}, EnquireLinkResponse{}} {
		body, err := EncodeBody(pdu)
		if err != nil {
			t.Fatalf("EncodeBody(%T): %v", pdu, err)
		}
		if len(body) != 0 {
			t.Fatalf("EncodeBody(%T) = %v, want empty", pdu, body)
		}
		decoded, err := DecodeBody(pdu.CommandID(), body)
		if err != nil {
			t.Fatalf("DecodeBody(%T): %v", pdu, err)
		}
		if decoded != pdu {
			t.Fatalf("got %+v, want %+v", decoded, pdu)
		}
	}
}

func TestDecodeBodyUnknownCommand(t *testing.T) {
	_, err := DecodeBody(CommandID(0x7F), nil)
	if err == nil {
		t.Fatal("expected ErrUnknownPDU")
	}
}

func TestDecodeBindRequestTruncated(t *testing.T) {
	_, err := DecodeBody(CommandBindReq, []byte("no-terminator"))
	if err == nil {
		t.Fatal("expected ErrTruncated")
	}
}

func TestEncodeFrameIncludesHeaderAndBody(t *testing.T) {
	pdu := StreamRequest{Body: []byte("payload")}
	out, err := EncodeFrame(pdu, 3, StatusOK)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	hdr, err := DecodeHeader(out)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if int(hdr.CommandLength) != len(out) {
		t.Fatalf("command_length %d, total frame %d", hdr.CommandLength, len(out))
	}
	if hdr.CommandID != CommandStreamReq || hdr.SequenceNumber != 3 {
		t.Fatalf("unexpected header %+v", hdr)
	}
	got, err := DecodeBody(hdr.CommandID, out[HeaderLength:])
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if !bytes.Equal(got.(StreamRequest).Body, pdu.Body) {
		t.Fatalf("got %+v, want %+v", got, pdu)
	}
}
