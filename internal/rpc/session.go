package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Defaults for session timeouts.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultCallTimeout    = 30 * time.Second

	writeTimeout     = 5 * time.Second
	streamBufferSize = 256
)

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithConnectTimeout sets the dial handshake timeout.
func WithConnectTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		s.connectTimeout = d
	}
}

// WithCallTimeout sets the default per-call timeout used when Call is given a
// zero timeout.
func WithCallTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		s.callTimeout = d
	}
}

// Session owns one live WebSocket connection to one RPC endpoint. All methods
// are safe for concurrent use; writes are serialized, responses are correlated
// to callers by request ID.
type Session struct {
	endpoint       string
	logger         *slog.Logger
	connectTimeout time.Duration
	callTimeout    time.Duration

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[int64]chan frame
	subWait  map[int64]*Stream // request ID -> stream awaiting its SID
	streams  map[int64]*Stream // SID -> live stream
	closed   bool
	closeErr error

	nextID atomic.Int64
	errs   chan error
	done   chan struct{}
}

// Dial connects to an RPC endpoint and starts the session's read loop.
func Dial(ctx context.Context, endpoint string, opts ...SessionOption) (*Session, error) {
	s := &Session{
		endpoint:       endpoint,
		logger:         slog.Default(),
		connectTimeout: DefaultConnectTimeout,
		callTimeout:    DefaultCallTimeout,
		pending:        make(map[int64]chan frame),
		subWait:        make(map[int64]*Stream),
		streams:        make(map[int64]*Stream),
		errs:           make(chan error, 1),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: s.connectTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, ConnectionFailed(endpoint, err)
	}
	s.conn = conn

	go s.readLoop()

	s.logger.Debug("session connected", "endpoint", endpoint)
	return s, nil
}

// Endpoint returns the endpoint address this session is connected to.
func (s *Session) Endpoint() string {
	return s.endpoint
}

// Errors returns a channel surfacing transport-level failures. At most one
// error is ever delivered; the Connection Manager uses it to trigger teardown.
func (s *Session) Errors() <-chan error {
	return s.errs
}

// Call issues one unary request and decodes the result into out (which may be
// nil for operations with empty results). A zero timeout uses the session
// default.
func (s *Session) Call(ctx context.Context, op string, params, out interface{}, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.callTimeout
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Disconnected()
	}
	id := s.nextID.Add(1)
	ch := make(chan frame, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	if err := s.send(Request{ID: id, Op: op, Params: params}); err != nil {
		return ConnectionFailed(s.endpoint, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return TimedOut(op)
		}
		return &ClientError{Kind: KindDisconnected, Op: op, Err: ctx.Err()}
	case <-timer.C:
		return TimedOut(op)
	case <-s.done:
		return ConnectionFailed(s.endpoint, s.closeErr)
	case resp := <-ch:
		return decodeResponse(op, resp, out)
	}
}

// Subscribe opens a server-streaming operation. The returned Stream yields
// raw update payloads; it terminates with a final error instead of hanging
// when the transport closes.
func (s *Session) Subscribe(ctx context.Context, op string, params interface{}) (*Stream, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, Disconnected()
	}
	id := s.nextID.Add(1)
	ch := make(chan frame, 1)
	st := &Stream{
		sess:    s,
		op:      op,
		updates: make(chan json.RawMessage, streamBufferSize),
	}
	s.pending[id] = ch
	s.subWait[id] = st
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		delete(s.subWait, id)
		s.mu.Unlock()
	}()

	if err := s.send(Request{ID: id, Op: op, Params: params}); err != nil {
		return nil, ConnectionFailed(s.endpoint, err)
	}

	timer := time.NewTimer(s.callTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, s.abortSubscribe(st, id, &ClientError{Kind: KindDisconnected, Op: op, Err: ctx.Err()})
	case <-timer.C:
		return nil, s.abortSubscribe(st, id, TimedOut(op))
	case <-s.done:
		return nil, s.abortSubscribe(st, id, ConnectionFailed(s.endpoint, s.closeErr))
	case resp := <-ch:
		switch resp.Type {
		case frameSubscribed:
			// The read loop registered the stream before delivering this
			// frame, so no update can race past registration.
			return st, nil
		case frameError:
			return nil, s.abortSubscribe(st, id, decodeResponse(op, resp, nil))
		default:
			return nil, s.abortSubscribe(st, id, ProtocolViolation("unexpected response type "+resp.Type+" for "+op, nil))
		}
	}
}

// abortSubscribe cleans up after a subscription whose caller gave up. The
// subscribed frame may already have been processed, in which case the stream
// sits registered in the SID table with no consumer; it is removed and the
// server told to stop. Must run before Subscribe returns so a late subscribed
// frame finds subWait empty and registers nothing.
func (s *Session) abortSubscribe(st *Stream, id int64, err error) error {
	s.mu.Lock()
	delete(s.pending, id)
	delete(s.subWait, id)
	live := false
	if cur, ok := s.streams[st.sid]; ok && cur == st {
		delete(s.streams, st.sid)
		st.terr = Disconnected()
		close(st.updates)
		live = true
	}
	closed := s.closed
	s.mu.Unlock()

	if live && !closed {
		reqID := s.nextID.Add(1)
		if serr := s.send(Request{ID: reqID, Op: "unsubscribe", Params: UnsubscribeParams{SID: st.sid}}); serr != nil {
			s.logger.Debug("unsubscribe send failed", "op", st.op, "error", serr)
		}
	}
	return err
}

// Close releases the transport. Idempotent. Pending calls fail and open
// streams terminate rather than hanging.
func (s *Session) Close() error {
	s.teardown(nil, false)
	return nil
}

// send serializes one request frame onto the connection.
func (s *Session) send(req Request) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(req)
}

// readLoop reads frames and dispatches them to pending calls and streams.
func (s *Session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.teardown(err, true)
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Warn("discarding malformed frame", "endpoint", s.endpoint, "error", err)
			continue
		}

		switch f.Type {
		case frameSubscribed:
			s.registerStream(f)
			s.deliver(f)
		case frameResult, frameError:
			s.deliver(f)
		case frameUpdate:
			s.routeUpdate(f)
		case frameClosed:
			s.closeStream(f.SID)
		default:
			s.logger.Warn("unknown frame type", "endpoint", s.endpoint, "frame_type", f.Type)
		}
	}
}

// deliver hands a response frame to the waiting caller.
func (s *Session) deliver(f frame) {
	s.mu.Lock()
	ch, ok := s.pending[f.ID]
	s.mu.Unlock()

	if ok {
		select {
		case ch <- f:
		default:
		}
	}
}

// registerStream binds a pending subscription to its server-assigned SID.
func (s *Session) registerStream(f frame) {
	var body SubscribedBody
	if err := json.Unmarshal(f.Msg, &body); err != nil {
		s.logger.Warn("malformed subscribed frame", "endpoint", s.endpoint, "error", err)
		return
	}

	s.mu.Lock()
	if st, ok := s.subWait[f.ID]; ok {
		st.sid = body.SID
		s.streams[body.SID] = st
		delete(s.subWait, f.ID)
	}
	s.mu.Unlock()
}

// routeUpdate forwards a stream update without ever blocking the read loop.
func (s *Session) routeUpdate(f frame) {
	// The lock is held across the send so a concurrent Close cannot close
	// the updates channel under us; the send never blocks.
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[f.SID]
	if !ok {
		return
	}

	select {
	case st.updates <- f.Msg:
	default:
		s.logger.Warn("stream buffer full, dropping update",
			"endpoint", s.endpoint,
			"op", st.op,
			"sid", f.SID,
		)
	}
}

// closeStream terminates one stream after a server-sent "closed" frame.
func (s *Session) closeStream(sid int64) {
	s.mu.Lock()
	st, ok := s.streams[sid]
	if ok {
		delete(s.streams, sid)
		st.terr = Disconnected()
		close(st.updates)
	}
	s.mu.Unlock()
}

// teardown closes the session exactly once, failing pending calls and open
// streams. fromTransport marks failures noticed by the read loop, which are
// additionally surfaced on Errors().
func (s *Session) teardown(cause error, fromTransport bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.closeErr = cause

	for sid, st := range s.streams {
		delete(s.streams, sid)
		st.terr = Disconnected()
		close(st.updates)
	}
	s.mu.Unlock()

	close(s.done)

	if fromTransport {
		select {
		case s.errs <- ConnectionFailed(s.endpoint, cause):
		default:
		}
		s.logger.Warn("session transport failed", "endpoint", s.endpoint, "error", cause)
	} else {
		s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
	}

	s.conn.Close()
}

// decodeResponse maps one response frame into a result or a ClientError.
func decodeResponse(op string, resp frame, out interface{}) error {
	switch resp.Type {
	case frameResult:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Msg, out); err != nil {
			return ProtocolViolation("decoding "+op+" result", err)
		}
		return nil
	case frameError:
		var body ErrorBody
		if err := json.Unmarshal(resp.Msg, &body); err != nil {
			return ProtocolViolation("decoding "+op+" error", err)
		}
		return CallFailed(op, body.Code, body.Message)
	default:
		return ProtocolViolation("unexpected response type "+resp.Type+" for "+op, nil)
	}
}

// Stream is one open server-streaming subscription.
type Stream struct {
	sess    *Session
	op      string
	sid     int64
	updates chan json.RawMessage
	terr    error // terminal error; set before updates is closed

	closeOnce sync.Once
}

// Recv returns the next update payload. Buffered updates are drained before
// the terminal error is reported.
func (st *Stream) Recv(ctx context.Context) (json.RawMessage, error) {
	select {
	case msg, ok := <-st.updates:
		if !ok {
			return nil, st.terr
		}
		return msg, nil
	case <-ctx.Done():
		return nil, &ClientError{Kind: KindDisconnected, Op: st.op, Err: ctx.Err()}
	}
}

// Close cancels the subscription. The server is told to unsubscribe on a
// best-effort basis; the local stream terminates regardless.
func (st *Stream) Close() error {
	st.closeOnce.Do(func() {
		s := st.sess

		s.mu.Lock()
		_, live := s.streams[st.sid]
		if live {
			delete(s.streams, st.sid)
			st.terr = Disconnected()
			close(st.updates)
		}
		closed := s.closed
		s.mu.Unlock()

		if live && !closed {
			id := s.nextID.Add(1)
			if err := s.send(Request{ID: id, Op: "unsubscribe", Params: UnsubscribeParams{SID: st.sid}}); err != nil {
				s.logger.Debug("unsubscribe send failed", "op", st.op, "error", err)
			}
		}
	})
	return nil
}
