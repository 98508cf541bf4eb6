// Package session implements the session engine: the framing loop that
// turns a byte stream into dispatched PDUs, the two-buffer send
// pipeline, the bind/unbind/enquire_link handshake, and the lifecycle
// (start/unbind/close) that ties them together.
package session

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/majiddarvishan/vex/backpressure"
	"github.com/majiddarvishan/vex/buffer"
	"github.com/majiddarvishan/vex/expire"
	"github.com/majiddarvishan/vex/frame"
	"github.com/majiddarvishan/vex/state"
)

// receivingState is the substate the framing loop cycles through to
// implement cooperative pause/resume under backpressure.
type receivingState int

const (
	recvPaused receivingState = iota
	recvReceiving
	recvPendingPause
)

const readChunk = 64 * 1024

// RequestTimeoutHandler receives requests this session sent that never
// got a matching response before RequestTimeout elapsed.
type RequestTimeoutHandler interface {
	OnRequestTimeout(pdu frame.PDU, seq uint32)
}

// Session wraps one accepted or connected net.Conn with the framing
// loop, send pipeline, and state machine described above. The zero
// value is not usable; construct with New.
type Session struct {
	conn   net.Conn
	config Config

	mu          sync.Mutex
	st          state.State
	recvState   receivingState
	seq         uint32
	pendingSend []byte
	writingSend []byte
	smallBuf    []byte
	recvBuf     *buffer.Flat
	bp          *backpressure.Controller
	unbindTimer *time.Timer

	protocolHandler  ProtocolHandler
	errorHandler     ErrorHandler
	closeHandler     CloseHandler
	sendBufAvailable func()
	timeoutHandler   RequestTimeoutHandler

	pending expire.Index[uint32, frame.PDU]

	closeInitiated atomic.Bool
	metrics        *Metrics
}

// New constructs a Session over conn. It starts in the Open state with
// reception paused; call Start to begin reading.
func New(conn net.Conn, cfg Config) *Session {
	s := &Session{
		conn:         conn,
		config:       cfg,
		st:           state.Open,
		recvState:    recvPaused,
		recvBuf:      buffer.NewFlat(cfg.ReceiveBufSize),
		smallBuf:     make([]byte, minInt(cfg.SmallBodySize, 256)),
		bp:           backpressure.NewController(cfg.BackpressureLow, cfg.BackpressureHigh),
		errorHandler: SilentErrorHandler{},
		metrics:      newMetrics(),
	}
	if cfg.RequestTimeout > 0 {
		s.pending = expire.NewHeap[uint32, frame.PDU](s.onRequestExpired, s.onPendingIndexPanic)
	}
	return s
}

// SetProtocolHandler installs the PDU handler. Not safe to call
// concurrently with dispatch; set it before Start.
func (s *Session) SetProtocolHandler(h ProtocolHandler) {
	s.mu.Lock()
	s.protocolHandler = h
	s.mu.Unlock()
}

// SetErrorHandler installs the error-reporting handler, replacing the
// default SilentErrorHandler.
func (s *Session) SetErrorHandler(h ErrorHandler) {
	s.mu.Lock()
	s.errorHandler = h
	s.mu.Unlock()
}

// SetCloseHandler installs the handler invoked exactly once on close.
func (s *Session) SetCloseHandler(h CloseHandler) {
	s.mu.Lock()
	s.closeHandler = h
	s.mu.Unlock()
}

// SetSendBufAvailableHandler installs the hook called when the pending
// send buffer has drained back below the low watermark.
func (s *Session) SetSendBufAvailableHandler(h func()) {
	s.mu.Lock()
	s.sendBufAvailable = h
	s.mu.Unlock()
}

// SetRequestTimeoutHandler installs the hook called for requests that
// never received a matching response within Config.RequestTimeout.
func (s *Session) SetRequestTimeoutHandler(h RequestTimeoutHandler) {
	s.mu.Lock()
	s.timeoutHandler = h
	s.mu.Unlock()
}

// Metrics returns this session's counters.
func (s *Session) Metrics() *Metrics { return s.metrics }

// State returns the session's current lifecycle state.
func (s *Session) State() state.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

// IsOpen reports whether the session is in the Open state.
func (s *Session) IsOpen() bool { return s.State() == state.Open }

// RemoteAddr returns the underlying connection's remote address, or
// nil if it can't be determined (mirrors remote_endpoint()'s
// catch-and-return-nullopt).
func (s *Session) RemoteAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.RemoteAddr()
}

// Start transitions reception from paused to receiving and begins I/O.
func (s *Session) Start() {
	s.resumeReceiving()
}

// Pause stops the framing loop from dispatching any further inbound
// PDUs until Resume is called. A handshake dispatcher uses this to
// hold off delivering whatever arrives right after a handoff (e.g. a
// bind_resp) until the caller has had a chance to install its own
// ProtocolHandler.
func (s *Session) Pause() {
	s.mu.Lock()
	s.pauseReceivingLocked()
	s.mu.Unlock()
}

// Resume reverses a prior Pause, restarting the receive loop if it had
// actually stopped.
func (s *Session) Resume() {
	s.resumeReceiving()
}

// SendRequest allocates the next outbound sequence number, encodes pdu
// onto the pending send buffer, and flushes. It's only permitted in
// the Open state.
func (s *Session) SendRequest(pdu frame.PDU) (uint32, error) {
	s.mu.Lock()
	if !s.st.CanSend() {
		msg := fmt.Sprintf("cannot send in state: %s", s.st)
		s.mu.Unlock()
		s.reportProtocolError(msg)
		return 0, fmt.Errorf("session: %s", msg)
	}
	seq := s.nextSequenceLocked()
	err := s.encodeAndQueueLocked(pdu, seq, frame.StatusOK)
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if s.pending != nil && s.config.RequestTimeout > 0 {
		s.pending.Add(seq, s.config.RequestTimeout, pdu)
	}
	s.flushSend()
	return seq, nil
}

// SendResponse writes pdu at the given sequence number and status.
// Like SendRequest, only permitted in the Open state.
func (s *Session) SendResponse(pdu frame.PDU, seq uint32, status frame.CommandStatus) error {
	s.mu.Lock()
	if !s.st.CanSend() {
		msg := fmt.Sprintf("cannot send in state: %s", s.st)
		s.mu.Unlock()
		s.reportProtocolError(msg)
		return fmt.Errorf("session: %s", msg)
	}
	err := s.encodeAndQueueLocked(pdu, seq, status)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.flushSend()
	return nil
}

// Unbind begins the local unbind handshake: if permitted, transitions
// to Unbinding, sends unbind_req, and arms the unbind timer.
func (s *Session) Unbind() {
	s.mu.Lock()
	if !s.st.CanUnbind() {
		s.mu.Unlock()
		return
	}
	s.st = s.st.Next(state.TriggerLocalUnbind)
	seq := s.nextSequenceLocked()
	_ = s.encodeAndQueueLocked(frame.UnbindRequest{}, seq, frame.StatusOK)
	s.unbindTimer = time.AfterFunc(s.config.UnbindTimeout, s.onUnbindTimeout)
	s.mu.Unlock()

	s.flushSend()
}

func (s *Session) onUnbindTimeout() {
	s.mu.Lock()
	stillUnbinding := s.st == state.Unbinding
	s.mu.Unlock()
	if stillUnbinding {
		s.Close("unbind timeout")
	}
}

// Close tears the session down. It's idempotent: only the first call
// does anything.
func (s *Session) Close(reason string) {
	if !s.closeInitiated.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	s.recvState = recvPaused
	if s.unbindTimer != nil {
		s.unbindTimer.Stop()
	}
	wasOpen := s.st == state.Open
	s.st = s.st.Next(state.TriggerClose)
	closeHandler := s.closeHandler
	s.protocolHandler = nil
	s.errorHandler = nil
	s.closeHandler = nil
	s.sendBufAvailable = nil
	s.mu.Unlock()

	_ = s.conn.Close()
	s.metrics.closed.Store(true)

	// ExpireAll still needs timeoutHandler, so it's left in place until
	// after every pending request has had a chance to fire through it.
	if s.pending != nil {
		s.pending.ExpireAll()
	}
	s.mu.Lock()
	s.timeoutHandler = nil
	s.mu.Unlock()

	if closeHandler != nil {
		var reasonPtr *string
		if wasOpen {
			reasonPtr = &reason
		}
		s.invokeCloseHandler(closeHandler, reasonPtr)
	}
}

func (s *Session) invokeCloseHandler(h CloseHandler, reason *string) {
	defer func() {
		recover() // matches the original's catch-and-log; nothing left to log to post-release
	}()
	h(s, reason)
}

func (s *Session) nextSequenceLocked() uint32 {
	s.seq++
	if s.seq == 0 {
		s.seq = 1
	}
	return s.seq
}

func (s *Session) encodeAndQueueLocked(pdu frame.PDU, seq uint32, status frame.CommandStatus) error {
	prevLen := len(s.pendingSend)
	encoded, err := frame.EncodeFrame(pdu, seq, status)
	if err != nil {
		s.pendingSend = s.pendingSend[:prevLen]
		return err
	}
	s.pendingSend = append(s.pendingSend, encoded...)
	s.metrics.messagesSent.Add(1)
	if s.bp.ShouldPause(uint64(len(s.pendingSend))) {
		s.pauseReceivingLocked()
	}
	return nil
}

// sendControl enqueues an internal control PDU (unbind_resp,
// enquire_link_resp) that bypasses CanSend so it can still be
// delivered while the session is in Unbinding.
func (s *Session) sendControl(pdu frame.PDU, seq uint32, status frame.CommandStatus) {
	s.mu.Lock()
	if seq == 0 {
		seq = s.nextSequenceLocked()
	}
	_ = s.encodeAndQueueLocked(pdu, seq, status)
	s.mu.Unlock()
	s.flushSend()
}

func (s *Session) pauseReceivingLocked() {
	if s.recvState == recvReceiving {
		s.recvState = recvPendingPause
	}
}

func (s *Session) resumeReceiving() {
	s.mu.Lock()
	prev := s.recvState
	s.recvState = recvReceiving
	s.mu.Unlock()
	if prev == recvPaused {
		go s.receiveLoop()
	}
}

// flushSend implements do_send: swap pending into writing if no write
// is in flight, evaluate backpressure against the buffer left behind,
// resume receiving and notify the caller through the send-buf-available
// hook if that drops it below the low watermark, and kick off an
// asynchronous write of the swapped-in buffer.
func (s *Session) flushSend() {
	s.mu.Lock()
	if len(s.writingSend) > 0 || len(s.pendingSend) == 0 {
		s.mu.Unlock()
		return
	}
	s.writingSend, s.pendingSend = s.pendingSend, s.writingSend[:0]
	writing := s.writingSend
	resumed := s.bp.ShouldResume(uint64(len(s.pendingSend)))
	avail := s.sendBufAvailable
	s.mu.Unlock()

	if resumed {
		s.resumeReceiving()
		if avail != nil {
			s.safeInvoke(avail)
		}
	}
	go s.writeLoop(writing)
}

func (s *Session) writeLoop(data []byte) {
	n, err := s.conn.Write(data)
	if err != nil {
		s.reportNetworkError(err.Error())
		s.Close(err.Error())
		return
	}
	s.metrics.bytesSent.Add(uint64(n))

	s.mu.Lock()
	s.writingSend = s.writingSend[:0]
	pendingNonEmpty := len(s.pendingSend) > 0
	s.mu.Unlock()

	if pendingNonEmpty {
		s.flushSend()
	}
}

func (s *Session) safeInvoke(f func()) {
	defer func() {
		if r := recover(); r != nil {
			s.reportProtocolError(fmt.Sprintf("panic in send_buf_available handler: %v", r))
		}
	}()
	f()
}

func (s *Session) onRequestExpired(seq uint32, pdu frame.PDU) {
	s.mu.Lock()
	h := s.timeoutHandler
	s.mu.Unlock()
	if h == nil {
		return
	}
	defer func() { recover() }()
	h.OnRequestTimeout(pdu, seq)
}

func (s *Session) onPendingIndexPanic(recovered any) {
	s.reportProtocolError(fmt.Sprintf("panic in request timeout handler: %v", recovered))
}

func (s *Session) reportDeserializationError(err error, id frame.CommandID, body []byte) {
	s.metrics.errors.Add(1)
	s.mu.Lock()
	h := s.errorHandler
	s.mu.Unlock()
	if h != nil {
		h.OnDeserializationError(err.Error(), id, body)
	}
}

func (s *Session) reportProtocolError(msg string) {
	s.mu.Lock()
	h := s.errorHandler
	s.mu.Unlock()
	if h != nil {
		h.OnProtocolError(msg)
	}
}

func (s *Session) reportNetworkError(msg string) {
	s.mu.Lock()
	h := s.errorHandler
	s.mu.Unlock()
	if h != nil {
		h.OnNetworkError(msg)
	}
}

// receiveLoop is the framing loop: it alternates between draining every
// fully-buffered PDU out of recvBuf and blocking on conn.Read for more
// bytes, until the session pauses reception or closes. Started fresh by
// resumeReceiving whenever reception transitions out of paused.
func (s *Session) receiveLoop() {
	for {
		if !s.drainFramed() {
			return
		}

		buf, err := s.prepareReceive()
		if err != nil {
			s.reportNetworkError(err.Error())
			s.Close(err.Error())
			return
		}

		n, err := s.conn.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.recvBuf.Commit(n)
			s.mu.Unlock()
			s.metrics.bytesReceived.Add(uint64(n))
		}
		if err != nil {
			s.reportNetworkError(err.Error())
			s.Close(err.Error())
			return
		}
	}
}

// drainFramed dispatches every complete PDU currently buffered, then
// decides whether the loop should keep running: it returns false once
// reception has been paused (by backpressure or by Close) and leaves
// recvState at recvPaused in that case.
func (s *Session) drainFramed() bool {
	for {
		hdr, body, ok, err := s.extractFramed()
		if err != nil {
			s.reportDeserializationError(err, hdr.CommandID, body)
			s.Close(err.Error())
			return false
		}
		if !ok {
			break
		}
		s.dispatchMessage(hdr, body)

		s.mu.Lock()
		paused := s.recvState != recvReceiving
		s.mu.Unlock()
		if paused {
			break
		}
	}

	s.mu.Lock()
	if s.recvState == recvPendingPause {
		s.recvState = recvPaused
		s.mu.Unlock()
		return false
	}
	if s.recvState != recvReceiving {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()
	return true
}

// extractFramed pulls one fully-buffered frame (header + body) out
// of recvBuf if one is available, using the fixed scratch array for
// small bodies and a heap allocation otherwise, mirroring
// process_message's stack_buf fast path.
func (s *Session) extractFramed() (frame.Header, []byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.recvBuf.Data()
	if len(data) < frame.HeaderLength {
		return frame.Header{}, nil, false, nil
	}
	hdr, err := frame.DecodeHeader(data)
	if err != nil {
		return frame.Header{}, nil, false, err
	}
	if hdr.CommandLength > s.config.MaxCommandLength {
		return frame.Header{}, nil, false, fmt.Errorf("session: command length %d exceeds max %d", hdr.CommandLength, s.config.MaxCommandLength)
	}
	if uint32(len(data)) < hdr.CommandLength {
		return frame.Header{}, nil, false, nil
	}

	bodyLen := int(hdr.CommandLength) - frame.HeaderLength
	var body []byte
	if bodyLen <= len(s.smallBuf) {
		body = s.smallBuf[:bodyLen]
		copy(body, data[frame.HeaderLength:hdr.CommandLength])
	} else {
		body = append([]byte(nil), data[frame.HeaderLength:hdr.CommandLength]...)
	}
	s.recvBuf.Consume(int(hdr.CommandLength))
	s.metrics.messagesReceived.Add(1)
	return hdr, body, true, nil
}

// prepareReceive reserves space for the next read, compacting recvBuf
// if needed.
func (s *Session) prepareReceive() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := readChunk
	if avail := s.recvBuf.Available(); avail < n {
		n = avail
	}
	if n <= 0 {
		return nil, fmt.Errorf("session: receive buffer exhausted")
	}
	buf, err := s.recvBuf.Prepare(n)
	if err == nil && s.recvBuf.Compacted() {
		s.metrics.bufferCompactions.Add(1)
	}
	return buf, err
}

// dispatchMessage routes a decoded frame to the request or response
// handling path based on the response bit in its command id.
func (s *Session) dispatchMessage(hdr frame.Header, body []byte) {
	if hdr.CommandID.IsResponse() {
		s.handleResponse(hdr, body)
		return
	}
	s.handleRequest(hdr, body)
}

func (s *Session) handleRequest(hdr frame.Header, body []byte) {
	switch hdr.CommandID {
	case frame.CommandEnquireLinkReq:
		s.sendControl(frame.EnquireLinkResponse{}, hdr.SequenceNumber, frame.StatusOK)
	case frame.CommandUnbindReq:
		s.mu.Lock()
		s.st = s.st.Next(state.TriggerUnbindReqReceived)
		s.mu.Unlock()
		s.sendControl(frame.UnbindResponse{}, hdr.SequenceNumber, frame.StatusOK)
		s.Close("unbind_req received")
	case frame.CommandBindReq, frame.CommandStreamReq:
		if !s.controlAllowed(false) {
			s.reportProtocolError(fmt.Sprintf("%s received while unbinding", hdr.CommandID))
			return
		}
		pdu, err := frame.DecodeBody(hdr.CommandID, body)
		if err != nil {
			s.reportDeserializationError(err, hdr.CommandID, body)
			s.Close(err.Error())
			return
		}
		s.deliverRequest(pdu, hdr.SequenceNumber)
	default:
		s.reportProtocolError(fmt.Sprintf("unknown request command %s", hdr.CommandID))
		s.Close("unknown request command")
	}
}

func (s *Session) handleResponse(hdr frame.Header, body []byte) {
	switch hdr.CommandID {
	case frame.CommandEnquireLinkResp:
		// A peer only sends this in answer to our own enquire_link_req,
		// so clear it from pending the same way a bind/stream response
		// does; otherwise a caller that proactively pings via
		// SendRequest would see it surface as a spurious timeout later.
		if s.pending != nil {
			s.pending.Remove(hdr.SequenceNumber)
		}
	case frame.CommandUnbindResp:
		s.mu.Lock()
		if s.unbindTimer != nil {
			s.unbindTimer.Stop()
		}
		s.mu.Unlock()
		s.Close("unbind_resp received")
	case frame.CommandBindResp, frame.CommandStreamResp:
		if !s.controlAllowed(false) {
			s.reportProtocolError(fmt.Sprintf("%s received while unbinding", hdr.CommandID))
			return
		}
		pdu, err := frame.DecodeBody(hdr.CommandID, body)
		if err != nil {
			s.reportDeserializationError(err, hdr.CommandID, body)
			s.Close(err.Error())
			return
		}
		if s.pending != nil {
			s.pending.Remove(hdr.SequenceNumber)
		}
		s.deliverResponse(pdu, hdr.SequenceNumber, hdr.CommandStatus)
	default:
		s.reportProtocolError(fmt.Sprintf("unknown response command %s", hdr.CommandID))
		s.Close("unknown response command")
	}
}

// controlAllowed reports whether a non-control PDU (bind/stream)
// may still be dispatched in the session's current state.
func (s *Session) controlAllowed(isUnbindOrKeepalive bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.CanReceiveDuringUnbind(isUnbindOrKeepalive)
}

func (s *Session) deliverRequest(pdu frame.PDU, seq uint32) {
	s.mu.Lock()
	h := s.protocolHandler
	s.mu.Unlock()
	if h == nil {
		return
	}
	defer s.recoverHandlerPanic("OnRequest")
	h.OnRequest(pdu, seq)
}

func (s *Session) deliverResponse(pdu frame.PDU, seq uint32, status frame.CommandStatus) {
	s.mu.Lock()
	h := s.protocolHandler
	s.mu.Unlock()
	if h == nil {
		return
	}
	defer s.recoverHandlerPanic("OnResponse")
	h.OnResponse(pdu, seq, status)
}

func (s *Session) recoverHandlerPanic(method string) {
	if r := recover(); r != nil {
		msg := fmt.Sprintf("panic in protocol handler %s: %v", method, r)
		s.reportProtocolError(msg)
		s.Close(msg)
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
