package session

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/majiddarvishan/vex/frame"
	"github.com/majiddarvishan/vex/state"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ReceiveBufSize = 4096
	cfg.SendBufCapacity = 4096
	cfg.BackpressureLow = 1024
	cfg.BackpressureHigh = 2048
	cfg.UnbindTimeout = 200 * time.Millisecond
	cfg.RequestTimeout = time.Hour
	return cfg
}

type recordingHandler struct {
	mu        sync.Mutex
	requests  []frame.PDU
	responses []frame.PDU
	onRequest func(pdu frame.PDU, seq uint32)
}

func (h *recordingHandler) OnRequest(pdu frame.PDU, seq uint32) {
	h.mu.Lock()
	h.requests = append(h.requests, pdu)
	h.mu.Unlock()
	if h.onRequest != nil {
		h.onRequest(pdu, seq)
	}
}

func (h *recordingHandler) OnResponse(pdu frame.PDU, seq uint32, status frame.CommandStatus) {
	h.mu.Lock()
	h.responses = append(h.responses, pdu)
	h.mu.Unlock()
}

func (h *recordingHandler) waitResponse(t *testing.T) frame.PDU {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		h.mu.Lock()
		if len(h.responses) > 0 {
			pdu := h.responses[0]
			h.mu.Unlock()
			return pdu
		}
		h.mu.Unlock()
		select {
		case <-deadline:
			t.Fatal("timed out waiting for response")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type closeRecorder struct {
	mu     sync.Mutex
	done   chan struct{}
	reason *string
}

func newCloseRecorder() *closeRecorder {
	return &closeRecorder{done: make(chan struct{})}
}

func (c *closeRecorder) handler(_ *Session, reason *string) {
	c.mu.Lock()
	c.reason = reason
	c.mu.Unlock()
	close(c.done)
}

func (c *closeRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close handler")
	}
}

func TestRequestResponseRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	cfg := testConfig()

	client := New(clientConn, cfg)
	server := New(serverConn, cfg)

	serverHandler := &recordingHandler{
		onRequest: func(pdu frame.PDU, seq uint32) {
			req := pdu.(frame.StreamRequest)
			_ = server.SendResponse(frame.StreamResponse{Body: req.Body}, seq, frame.StatusOK)
		},
	}
	server.SetProtocolHandler(serverHandler)

	clientHandler := &recordingHandler{}
	client.SetProtocolHandler(clientHandler)

	client.Start()
	server.Start()
	defer client.Close("test done")
	defer server.Close("test done")

	seq, err := client.SendRequest(frame.StreamRequest{Body: []byte("hello")})
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if seq == 0 {
		t.Fatal("expected a non-zero sequence number")
	}

	resp := clientHandler.waitResponse(t).(frame.StreamResponse)
	if string(resp.Body) != "hello" {
		t.Fatalf("response body = %q, want %q", resp.Body, "hello")
	}
}

func TestUnbindHandshakeClosesBothSessions(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	cfg := testConfig()

	client := New(clientConn, cfg)
	server := New(serverConn, cfg)

	clientClosed := newCloseRecorder()
	serverClosed := newCloseRecorder()
	client.SetCloseHandler(clientClosed.handler)
	server.SetCloseHandler(serverClosed.handler)

	client.Start()
	server.Start()

	client.Unbind()

	clientClosed.wait(t)
	serverClosed.wait(t)

	if client.State() != state.Closed {
		t.Fatalf("client state = %s, want closed", client.State())
	}
	if server.State() != state.Closed {
		t.Fatalf("server state = %s, want closed", server.State())
	}
}

func TestRequestTimeoutSurfacesOnClose(t *testing.T) {
	clientConn, peerConn := net.Pipe()
	defer peerConn.Close()

	// Drain whatever the client writes so its writeLoop never blocks,
	// but never answer: the request should time out only when the
	// session is closed and ExpireAll fires.
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := peerConn.Read(buf); err != nil {
				return
			}
		}
	}()

	cfg := testConfig()
	cfg.RequestTimeout = time.Hour

	client := New(clientConn, cfg)
	client.Start()

	var mu sync.Mutex
	var timedOut []uint32
	client.SetRequestTimeoutHandler(requestTimeoutFunc(func(pdu frame.PDU, seq uint32) {
		mu.Lock()
		timedOut = append(timedOut, seq)
		mu.Unlock()
	}))

	seq, err := client.SendRequest(frame.StreamRequest{Body: []byte("ping")})
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}

	client.Close("shutting down")

	mu.Lock()
	defer mu.Unlock()
	if len(timedOut) != 1 || timedOut[0] != seq {
		t.Fatalf("timedOut = %v, want [%d]", timedOut, seq)
	}
}

func TestProactiveEnquireLinkDoesNotSurfaceAsTimeout(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	cfg := testConfig()
	cfg.RequestTimeout = 50 * time.Millisecond

	client := New(clientConn, cfg)
	server := New(serverConn, cfg)
	client.Start()
	server.Start()
	defer client.Close("test done")
	defer server.Close("test done")

	var mu sync.Mutex
	var timedOut []uint32
	client.SetRequestTimeoutHandler(requestTimeoutFunc(func(pdu frame.PDU, seq uint32) {
		mu.Lock()
		timedOut = append(timedOut, seq)
		mu.Unlock()
	}))

	seq, err := client.SendRequest(frame.EnquireLinkRequest{})
	require.NoError(t, err)

	// Give the server's auto-answered enquire_link_resp time to arrive
	// and clear the pending entry, then wait past RequestTimeout to
	// confirm it never fires as a timeout anyway.
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, timedOut, "seq %d should not have surfaced as a timeout after its enquire_link_resp arrived", seq)
}

func TestExtractFramedHonorsConfiguredSmallBodySize(t *testing.T) {
	conn, peer := net.Pipe()
	defer peer.Close()

	cfg := testConfig()
	cfg.SmallBodySize = 8
	s := New(conn, cfg)

	encoded, err := frame.EncodeFrame(frame.StreamRequest{Body: []byte("0123456789")}, 1, frame.StatusOK)
	require.NoError(t, err)

	buf, err := s.recvBuf.Prepare(len(encoded))
	require.NoError(t, err)
	copy(buf, encoded)
	s.recvBuf.Commit(len(encoded))

	_, body, ok, err := s.extractFramed()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("0123456789"), body)
	assert.Greater(t, len(body), len(s.smallBuf), "body longer than the configured small-body threshold must not alias the reused scratch buffer")
}

// TestPauseDuringDispatchDefersAlreadyBufferedFrame replicates the
// client bind handoff's use of Pause/Resume: two frames are already
// sitting in recvBuf (as if read together in one chunk), and the
// handler pauses the session from inside its callback for the first
// one. The second, already-buffered frame must not drain until Resume
// is called, mirroring pause_receiving's "drain then pause" substate.
func TestPauseDuringDispatchDefersAlreadyBufferedFrame(t *testing.T) {
	conn, peer := net.Pipe()
	defer peer.Close()

	cfg := testConfig()
	s := New(conn, cfg)
	defer s.Close("test done")

	first, err := frame.EncodeFrame(frame.StreamRequest{Body: []byte("first")}, 1, frame.StatusOK)
	require.NoError(t, err)
	second, err := frame.EncodeFrame(frame.StreamRequest{Body: []byte("second")}, 2, frame.StatusOK)
	require.NoError(t, err)

	buf, err := s.recvBuf.Prepare(len(first) + len(second))
	require.NoError(t, err)
	copy(buf, first)
	copy(buf[len(first):], second)
	s.recvBuf.Commit(len(first) + len(second))

	handler := &recordingHandler{
		onRequest: func(pdu frame.PDU, seq uint32) {
			if seq == 1 {
				s.Pause()
			}
		},
	}
	s.SetProtocolHandler(handler)

	s.mu.Lock()
	s.recvState = recvReceiving
	s.mu.Unlock()

	more := s.drainFramed()
	assert.False(t, more, "drainFramed should stop once the handler paused mid-drain")

	handler.mu.Lock()
	got := len(handler.requests)
	handler.mu.Unlock()
	assert.Equal(t, 1, got, "second already-buffered frame must not dispatch while paused")

	s.Resume()

	deadline := time.After(2 * time.Second)
	for {
		handler.mu.Lock()
		n := len(handler.requests)
		handler.mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for deferred frame to dispatch after resume")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestOversizeCommandLengthReportsDeserializationErrorAndCloses(t *testing.T) {
	conn, peer := net.Pipe()
	defer peer.Close()

	cfg := testConfig()
	cfg.MaxCommandLength = 64
	s := New(conn, cfg)

	errs := &errorRecorder{}
	s.SetErrorHandler(errs)
	closed := newCloseRecorder()
	s.SetCloseHandler(closed.handler)
	s.Start()

	header := frame.EncodeHeader(cfg.MaxCommandLength+1, frame.CommandStreamReq, 1, frame.StatusOK)
	go func() { _, _ = peer.Write(header[:]) }()

	closed.wait(t)

	closed.mu.Lock()
	reason := closed.reason
	closed.mu.Unlock()
	require.NotNil(t, reason)
	assert.Contains(t, *reason, "exceeds max")

	errs.mu.Lock()
	defer errs.mu.Unlock()
	require.Len(t, errs.deserialization, 1)
	assert.Contains(t, errs.deserialization[0], "exceeds max")
}

func TestBufferCompactionIncrementsMetricOnSmallReads(t *testing.T) {
	conn, peer := net.Pipe()
	defer peer.Close()

	cfg := testConfig()
	cfg.ReceiveBufSize = 16
	s := New(conn, cfg)
	defer s.Close("test done")

	s.SetProtocolHandler(&recordingHandler{})
	s.Start()

	// Send the frames as one stream so the 16-byte reads end mid-frame
	// and leave a partial frame behind to compact.
	body := []byte("x")
	var stream []byte
	for i := 0; i < 5; i++ {
		encoded, err := frame.EncodeFrame(frame.StreamRequest{Body: body}, uint32(i+1), frame.StatusOK)
		require.NoError(t, err)
		stream = append(stream, encoded...)
	}
	_, err := peer.Write(stream)
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		if s.Metrics().BufferCompactions() > 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a buffer compaction to be recorded")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestUnknownCommandClosesSession(t *testing.T) {
	conn, peer := net.Pipe()
	defer peer.Close()

	cfg := testConfig()
	s := New(conn, cfg)

	errs := &errorRecorder{}
	s.SetErrorHandler(errs)
	closed := newCloseRecorder()
	s.SetCloseHandler(closed.handler)
	s.Start()

	header := frame.EncodeHeader(frame.HeaderLength, frame.CommandID(0x7F), 1, frame.StatusOK)
	go func() { _, _ = peer.Write(header[:]) }()

	closed.wait(t)

	errs.mu.Lock()
	defer errs.mu.Unlock()
	if len(errs.protocolErrors) == 0 {
		t.Fatal("expected a protocol error to be reported for the unknown command")
	}
}

type errorRecorder struct {
	mu              sync.Mutex
	protocolErrors  []string
	networkErrors   []string
	deserialization []string
}

func (e *errorRecorder) OnDeserializationError(msg string, _ frame.CommandID, _ []byte) {
	e.mu.Lock()
	e.deserialization = append(e.deserialization, msg)
	e.mu.Unlock()
}

func (e *errorRecorder) OnProtocolError(msg string) {
	e.mu.Lock()
	e.protocolErrors = append(e.protocolErrors, msg)
	e.mu.Unlock()
}

func (e *errorRecorder) OnNetworkError(msg string) {
	e.mu.Lock()
	e.networkErrors = append(e.networkErrors, msg)
	e.mu.Unlock()
}

type requestTimeoutFunc func(pdu frame.PDU, seq uint32)

func (f requestTimeoutFunc) OnRequestTimeout(pdu frame.PDU, seq uint32) { f(pdu, seq) }
