package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tailmesh/browsersync/internal/identity"
	"github.com/tailmesh/browsersync/internal/protocol"
	"github.com/tailmesh/browsersync/internal/recovery"
	"github.com/tailmesh/browsersync/internal/transport"
	"golang.org/x/time/rate"
)

// SessionState mirrors a peer connection through the lifecycle a sync
// round actually cares about.
type SessionState int32

const (
	StateHandshaking SessionState = iota
	StateConnected
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateHandshaking:
		return "HANDSHAKING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "CLOSED"
	}
}

// ErrSessionClosed is returned by an in-flight request when its session
// closes before a response arrives.
var ErrSessionClosed = errors.New("peer session closed")

// PeerSession runs the request/response state machine for one peer over a
// single transport.Stream: it speaks exactly the nine GetClock/GetEvents/
// PushEvents/SendTab/Clock/Events/Ack/TabReceived/Error messages, and
// correlates requests to responses by the frame header's request id.
type PeerSession struct {
	engine   *Engine
	conn     transport.PeerConn
	stream   transport.Stream
	isDialer bool
	addr     string // dial address, empty for accepted connections

	reader *protocol.FrameReader
	writer *protocol.FrameWriter
	wmu    sync.Mutex

	// pushLimiter paces this session's own outbound PushEvents calls; nil
	// when the engine is configured with no limit.
	pushLimiter *rate.Limiter

	state       atomic.Int32
	nextReqID   atomic.Uint64
	pendingMu   sync.Mutex
	pending     map[uint64]chan protocol.Body
	remoteMu    sync.RWMutex
	remoteID    identity.DeviceID
	remoteName  string
	identified  bool
	lastActive  atomic.Int64
	closeOnce   sync.Once
	closed      chan struct{}
	closeErr    error
	closeErrMu  sync.Mutex
}

func newPeerSession(e *Engine, conn transport.PeerConn, stream transport.Stream, isDialer bool, addr string) *PeerSession {
	s := &PeerSession{
		engine:   e,
		conn:     conn,
		stream:   stream,
		isDialer: isDialer,
		addr:     addr,
		reader:   protocol.NewFrameReader(stream),
		writer:   protocol.NewFrameWriter(stream),
		pending:  make(map[uint64]chan protocol.Body),
		closed:   make(chan struct{}),
	}
	if e.cfg.PushRateLimit > 0 {
		s.pushLimiter = rate.NewLimiter(e.cfg.PushRateLimit, e.cfg.PushBurst)
	}
	s.state.Store(int32(StateHandshaking))
	s.touch()
	return s
}

func (s *PeerSession) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// State returns the session's current lifecycle state.
func (s *PeerSession) State() SessionState {
	return SessionState(s.state.Load())
}

// RemoteDevice returns the paired peer's device id, once the initial
// GetClock/Clock exchange has identified it.
func (s *PeerSession) RemoteDevice() (identity.DeviceID, string, bool) {
	s.remoteMu.RLock()
	defer s.remoteMu.RUnlock()
	return s.remoteID, s.remoteName, s.identified
}

func (s *PeerSession) setRemote(id identity.DeviceID, name string) {
	s.remoteMu.Lock()
	s.remoteID = id
	s.remoteName = name
	s.identified = true
	s.remoteMu.Unlock()
}

// Done returns a channel closed once the session's stream has closed.
func (s *PeerSession) Done() <-chan struct{} {
	return s.closed
}

// Close tears down the session's stream and connection, failing every
// in-flight request with cause (or ErrSessionClosed if cause is nil).
func (s *PeerSession) Close(cause error) error {
	var err error
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		if cause == nil {
			cause = ErrSessionClosed
		}
		s.closeErrMu.Lock()
		s.closeErr = cause
		s.closeErrMu.Unlock()

		s.pendingMu.Lock()
		for id, ch := range s.pending {
			close(ch)
			delete(s.pending, id)
		}
		s.pendingMu.Unlock()

		err = s.stream.Close()
		s.conn.Close()
		close(s.closed)
	})
	return err
}

func (s *PeerSession) closeCause() error {
	s.closeErrMu.Lock()
	defer s.closeErrMu.Unlock()
	return s.closeErr
}

// writeMessage serializes and writes one message frame under requestID.
func (s *PeerSession) writeMessage(requestID uint64, body protocol.Body) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.writer.WriteMessage(requestID, body)
}

// request sends body as a new request and blocks for its matching
// response, a session close, or ctx's deadline, whichever comes first.
func (s *PeerSession) request(ctx context.Context, body protocol.Body) (protocol.Body, error) {
	id := s.nextReqID.Add(1)
	ch := make(chan protocol.Body, 1)

	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	if err := s.writeMessage(id, body); err != nil {
		return nil, fmt.Errorf("send %s: %w", body.Kind(), err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			if cause := s.closeCause(); cause != nil {
				return nil, cause
			}
			return nil, ErrSessionClosed
		}
		if errResp, ok := resp.(protocol.Error); ok {
			return nil, fmt.Errorf("peer rejected %s: %s", body.Kind(), errResp.Message)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, ErrSessionClosed
	}
}

// deliverResponse routes an inbound response frame to its waiting request,
// if any is still outstanding (a request that already timed out silently
// drops its late response).
func (s *PeerSession) deliverResponse(msg *protocol.Message) {
	s.pendingMu.Lock()
	ch, ok := s.pending[msg.RequestID]
	if ok {
		delete(s.pending, msg.RequestID)
	}
	s.pendingMu.Unlock()

	if ok {
		ch <- msg.Body
	}
}

// handleRequest dispatches an inbound request to the engine and writes
// back its response, or closes the stream if the engine judged the
// request fatal. Invalid secure frames and clock-regression corruption are
// never reported back to the sender; the connection is simply cut.
func (s *PeerSession) handleRequest(msg *protocol.Message) {
	resp, fatal := s.engine.dispatch(s, msg.Body)
	if fatal != nil {
		s.engine.logger.Warn("closing peer session on protocol violation",
			"peer", s.peerLogID(), "error", fatal)
		s.Close(fatal)
		return
	}
	if err := s.writeMessage(msg.RequestID, resp); err != nil {
		s.Close(err)
	}
}

func (s *PeerSession) peerLogID() string {
	if id, _, ok := s.RemoteDevice(); ok {
		return id.ShortString()
	}
	if s.addr != "" {
		return s.addr
	}
	return "unidentified"
}

// readLoop is the session's single reader: it owns decoding frames off
// the stream and either answering a peer-initiated request or routing a
// response back to the goroutine that sent the matching request. A peer
// stream carries requests in both directions at once, so the loop
// dispatches purely on protocol.IsRequest rather than on stream role.
func (s *PeerSession) readLoop() {
	defer recovery.RecoverWithLog(s.engine.logger, "syncengine.readLoop")
	for {
		msg, err := s.reader.ReadMessage()
		if err != nil {
			s.Close(err)
			return
		}
		s.touch()

		if protocol.IsRequest(msg.Body.Kind()) {
			s.handleRequest(msg)
		} else {
			s.deliverResponse(msg)
		}
	}
}
