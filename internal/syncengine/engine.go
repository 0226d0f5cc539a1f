// Package syncengine implements the sync protocol state machine: the
// initial clock exchange on every newly connected peer, the inbound
// handlers for GetClock/GetEvents/PushEvents/SendTab, and the fan-out of
// locally appended events to every connected peer. Connections are tracked
// as a map of live sessions with one read loop and a reconnect-on-disconnect
// policy per dial address, but frames carry the sync message taxonomy of
// internal/protocol rather than a generic tunnel, and payloads are sealed
// and opened through internal/crypto's secure frame rather than sent in
// the clear.
package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tailmesh/browsersync/internal/clock"
	"github.com/tailmesh/browsersync/internal/crypto"
	"github.com/tailmesh/browsersync/internal/event"
	"github.com/tailmesh/browsersync/internal/identity"
	"github.com/tailmesh/browsersync/internal/logging"
	"github.com/tailmesh/browsersync/internal/metrics"
	"github.com/tailmesh/browsersync/internal/protocol"
	"github.com/tailmesh/browsersync/internal/recovery"
	"github.com/tailmesh/browsersync/internal/store"
	"github.com/tailmesh/browsersync/internal/transport"
	"golang.org/x/time/rate"
)

// Config configures an Engine.
type Config struct {
	Device     identity.DeviceID
	DeviceName string
	PrivateKey [crypto.KeySize]byte
	PublicKey  [crypto.KeySize]byte

	Store     *store.Store
	Transport transport.Transport

	DialOptions      transport.DialOptions
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	ReconnectConfig  ReconnectConfig

	// PushRateLimit bounds how many events per second a single peer
	// stream may send via PushEvents; PushBurst is the token bucket size.
	// A sender that exceeds it blocks in pushEnvelopes rather than
	// dropping anything, per the backpressure rule every request path in
	// this package already follows. PushRateLimit <= 0 disables limiting.
	PushRateLimit rate.Limit
	PushBurst     int

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// DefaultConfig fills in the parts of Config that have a sensible default
// independent of device identity or storage.
func DefaultConfig() Config {
	return Config{
		DialOptions:      transport.DefaultDialOptions(),
		HandshakeTimeout: 10 * time.Second,
		RequestTimeout:   30 * time.Second,
		ReconnectConfig:  DefaultReconnectConfig(),
		PushRateLimit:    200, // events/sec
		PushBurst:        500,
	}
}

// Engine owns the local event store, this device's key material, and the
// set of currently connected and known peers. One Engine exists per
// running daemon.
type Engine struct {
	cfg     Config
	store   *store.Store
	device  identity.DeviceID
	name    string
	privKey [crypto.KeySize]byte
	pubKey  [crypto.KeySize]byte

	tr               transport.Transport
	dialOpts         transport.DialOptions
	handshakeTimeout time.Duration
	requestTimeout   time.Duration

	metrics *metrics.Metrics
	logger  *slog.Logger

	reconnector *Reconnector

	mu         sync.RWMutex
	peerKeys   map[identity.DeviceID][crypto.KeySize]byte // paired peers' long-term public keys
	sessions   map[*PeerSession]struct{}                  // every live session, identified or not
	byDevice   map[identity.DeviceID]*PeerSession          // identified sessions, for direct lookup
	addrPeer   map[string]identity.DeviceID                // configured dial address -> expected peer, for reconnect

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine constructs an Engine. cfg.Store must already be open.
func NewEngine(cfg Config) *Engine {
	ctx, cancel := context.WithCancel(context.Background())

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.Default()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	e := &Engine{
		cfg:              cfg,
		store:            cfg.Store,
		device:           cfg.Device,
		name:             cfg.DeviceName,
		privKey:          cfg.PrivateKey,
		pubKey:           cfg.PublicKey,
		tr:               cfg.Transport,
		dialOpts:         cfg.DialOptions,
		handshakeTimeout: cfg.HandshakeTimeout,
		requestTimeout:   cfg.RequestTimeout,
		metrics:          m,
		logger:           logger,
		peerKeys:         make(map[identity.DeviceID][crypto.KeySize]byte),
		sessions:         make(map[*PeerSession]struct{}),
		byDevice:         make(map[identity.DeviceID]*PeerSession),
		addrPeer:         make(map[string]identity.DeviceID),
		ctx:              ctx,
		cancel:           cancel,
	}
	e.reconnector = NewReconnector(cfg.ReconnectConfig, e.handleReconnect)
	return e
}

// AddPeerKey registers a paired peer's long-term public key, making it
// part of the group secret computation and enabling reconnection bookkeeping
// for addr (addr may be empty for peers that only ever dial in).
func (e *Engine) AddPeerKey(device identity.DeviceID, pub [crypto.KeySize]byte, addr string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.peerKeys[device] = pub
	if addr != "" {
		e.addrPeer[addr] = device
	}
}

// RemovePeerKey unpairs device, dropping it from future group secret
// computations. Frames already sealed under the old peer set remain
// undecipherable once it changes; that is expected, not a bug.
func (e *Engine) RemovePeerKey(device identity.DeviceID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.peerKeys, device)
}

func (e *Engine) groupSecret() ([crypto.KeySize]byte, error) {
	e.mu.RLock()
	peers := make([][crypto.KeySize]byte, 0, len(e.peerKeys))
	for _, pub := range e.peerKeys {
		peers = append(peers, pub)
	}
	e.mu.RUnlock()
	return crypto.GroupSecret(e.privKey, peers)
}

// Connect dials addr, opens the control stream, and starts the sync
// session. On failure, if addr was registered via AddPeerKey it is
// scheduled for reconnection.
func (e *Engine) Connect(ctx context.Context, addr string) (*PeerSession, error) {
	conn, err := e.tr.Dial(ctx, addr, e.dialOpts)
	if err != nil {
		e.scheduleReconnectIfKnown(addr)
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	stream, err := conn.OpenStream(ctx)
	if err != nil {
		conn.Close()
		e.scheduleReconnectIfKnown(addr)
		return nil, fmt.Errorf("open control stream to %s: %w", addr, err)
	}

	session := newPeerSession(e, conn, stream, true, addr)
	e.startSession(session)
	return session, nil
}

// Accept wraps an already-accepted transport.PeerConn in a sync session,
// waiting for the peer to open its control stream.
func (e *Engine) Accept(ctx context.Context, conn transport.PeerConn) (*PeerSession, error) {
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("accept control stream: %w", err)
	}

	session := newPeerSession(e, conn, stream, false, "")
	e.startSession(session)
	return session, nil
}

// Serve runs a transport listener, accepting and starting a session for
// every incoming connection, until ctx is cancelled.
func (e *Engine) Serve(ctx context.Context, listenAddr string, opts transport.ListenOptions) error {
	l, err := e.tr.Listen(listenAddr, opts)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddr, err)
	}
	defer l.Close()

	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer recovery.RecoverWithLog(e.logger, "syncengine.Accept")
			if _, err := e.Accept(ctx, conn); err != nil {
				e.logger.Warn("failed to accept peer connection", "error", err)
			}
		}()
	}
}

func (e *Engine) startSession(s *PeerSession) {
	e.mu.Lock()
	e.sessions[s] = struct{}{}
	e.mu.Unlock()

	s.state.Store(int32(StateConnected))
	if s.addr != "" {
		e.reconnector.Cancel(s.addr)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer recovery.RecoverWithLog(e.logger, "syncengine.readLoop")
		s.readLoop()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer recovery.RecoverWithLog(e.logger, "syncengine.initialExchange")
		e.runInitialExchange(s)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		<-s.Done()
		e.forgetSession(s)
	}()

	if e.metrics != nil {
		direction := "inbound"
		if s.isDialer {
			direction = "outbound"
		}
		e.metrics.RecordPeerConnect(string(s.conn.TransportType()), direction)
	}
}

func (e *Engine) forgetSession(s *PeerSession) {
	e.mu.Lock()
	delete(e.sessions, s)
	if id, _, ok := s.RemoteDevice(); ok {
		if e.byDevice[id] == s {
			delete(e.byDevice, id)
		}
	}
	addr := s.addr
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordPeerDisconnect("closed")
	}
	if addr != "" {
		e.scheduleReconnectIfKnown(addr)
	}
}

func (e *Engine) scheduleReconnectIfKnown(addr string) {
	e.mu.RLock()
	_, known := e.addrPeer[addr]
	e.mu.RUnlock()
	if known {
		e.reconnector.Schedule(addr)
	}
}

func (e *Engine) handleReconnect(addr string) error {
	ctx, cancel := context.WithTimeout(e.ctx, e.handshakeTimeout+e.dialOpts.Timeout)
	defer cancel()
	_, err := e.Connect(ctx, addr)
	return err
}

// runInitialExchange runs once per newly connected peer stream: request
// the peer's clock, push whatever local history it is missing, and pull
// whatever remote history the local clock is missing.
func (e *Engine) runInitialExchange(s *PeerSession) {
	ctx, cancel := context.WithTimeout(e.ctx, e.requestTimeout)
	defer cancel()

	resp, err := s.request(ctx, protocol.GetClock{})
	if err != nil {
		e.logger.Warn("initial clock exchange failed", "peer", s.peerLogID(), "error", err)
		s.Close(err)
		return
	}
	clockResp, ok := resp.(protocol.Clock)
	if !ok {
		s.Close(fmt.Errorf("unexpected response to GetClock: %s", resp.Kind()))
		return
	}

	remoteDevice, err := identity.ParseDeviceID(clockResp.DeviceID)
	if err != nil {
		s.Close(fmt.Errorf("malformed peer device id: %w", err))
		return
	}
	var remoteClock clock.Clock
	if err := json.Unmarshal(clockResp.Clock, &remoteClock); err != nil {
		s.Close(fmt.Errorf("malformed peer clock: %w", err))
		return
	}

	s.setRemote(remoteDevice, clockResp.DeviceName)
	e.mu.Lock()
	e.byDevice[remoteDevice] = s
	e.mu.Unlock()

	localClock, err := e.store.Clock()
	if err != nil {
		s.Close(fmt.Errorf("read local clock: %w", err))
		return
	}

	missing, err := e.store.EventsSince(remoteClock)
	if err != nil {
		s.Close(fmt.Errorf("compute events since remote clock: %w", err))
		return
	}
	if len(missing) > 0 {
		if err := e.pushEnvelopes(ctx, s, missing); err != nil {
			e.logger.Warn("initial push failed", "peer", s.peerLogID(), "error", err)
		}
	}

	needsPull := false
	for _, dev := range remoteClock.Devices() {
		if localClock.Get(dev) < remoteClock.Get(dev) {
			needsPull = true
			break
		}
	}
	if needsPull {
		if err := e.pullEvents(ctx, s, localClock); err != nil {
			e.logger.Warn("initial pull failed", "peer", s.peerLogID(), "error", err)
		}
	}
}

// pushEnvelopes seals envs and sends them as a single PushEvents request.
// The caller blocks until its peer stream's rate limiter admits the whole
// batch: a loaded peer slows this device's send rate down to match rather
// than ever dropping an envelope.
func (e *Engine) pushEnvelopes(ctx context.Context, s *PeerSession, envs []event.Envelope) error {
	if s.pushLimiter != nil {
		for remaining := len(envs); remaining > 0; {
			n := s.pushLimiter.Burst()
			if n < 1 {
				n = 1
			}
			if n > remaining {
				n = remaining
			}
			if err := s.pushLimiter.WaitN(ctx, n); err != nil {
				return fmt.Errorf("rate limit push to %s: %w", s.peerLogID(), err)
			}
			remaining -= n
		}
	}

	start := time.Now()
	key, err := e.groupSecret()
	if err != nil {
		return fmt.Errorf("compute group secret: %w", err)
	}
	frames, err := sealEnvelopes(key, e.pubKey, envs)
	if err != nil {
		return err
	}

	resp, err := s.request(ctx, protocol.PushEvents{Events: frames})
	if err != nil {
		return err
	}
	ack, ok := resp.(protocol.Ack)
	if !ok {
		return fmt.Errorf("unexpected response to PushEvents: %s", resp.Kind())
	}
	if e.metrics != nil {
		e.metrics.RecordSyncRound(time.Since(start).Seconds())
		e.metrics.RecordSyncEventsPushed(len(envs))
	}
	e.logger.Debug("pushed events", "peer", s.peerLogID(), "sent", len(envs), "applied", ack.Count)
	return nil
}

// pullEvents requests every envelope the peer holds beyond local, and
// ingests the response.
func (e *Engine) pullEvents(ctx context.Context, s *PeerSession, local clock.Clock) error {
	raw, err := json.Marshal(local)
	if err != nil {
		return fmt.Errorf("marshal local clock: %w", err)
	}

	resp, err := s.request(ctx, protocol.GetEvents{Clock: raw})
	if err != nil {
		return err
	}
	events, ok := resp.(protocol.Events)
	if !ok {
		return fmt.Errorf("unexpected response to GetEvents: %s", resp.Kind())
	}

	key, err := e.groupSecret()
	if err != nil {
		return fmt.Errorf("compute group secret: %w", err)
	}
	envs, err := openEnvelopes(key, events.Events)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordFrameRejected("invalid_frame")
		}
		s.Close(fmt.Errorf("invalid secure frame in Events response: %w", err))
		return err
	}

	applied := 0
	for _, env := range envs {
		outcome, err := e.store.Ingest(env)
		if err != nil {
			e.recordIngestFailure(env, err)
			s.Close(fmt.Errorf("ingest pulled envelope %s: %w", env.ID, err))
			return err
		}
		if outcome == store.Applied {
			applied++
			if e.metrics != nil {
				e.metrics.RecordEventApplied(string(env.Event.Type()))
			}
		} else if e.metrics != nil {
			e.metrics.RecordEventDuplicate()
		}
	}
	if e.metrics != nil {
		e.metrics.RecordSyncEventsPulled(applied)
	}
	e.logger.Debug("pulled events", "peer", s.peerLogID(), "received", len(envs), "applied", applied)
	return nil
}

// recordIngestFailure classifies a Store.Ingest error for metrics: a clock
// regression is corruption distinct from every other projection failure
// (malformed payload, enum violation, SQL error), and the two must not be
// collapsed into one counter.
func (e *Engine) recordIngestFailure(env event.Envelope, err error) {
	if e.metrics == nil {
		return
	}
	if errors.Is(err, store.ErrClockRegression) {
		e.metrics.RecordEventRejected("clock_regression")
		return
	}
	e.metrics.RecordProjectionError(string(env.Event.Type()))
}

// dispatch answers a peer-initiated request. A non-nil error means the
// request violated the protocol badly enough that the stream must be
// closed (invalid frames and clock regressions) rather than answered.
func (e *Engine) dispatch(s *PeerSession, body protocol.Body) (protocol.Body, error) {
	switch b := body.(type) {
	case protocol.GetClock:
		return e.handleGetClock()
	case protocol.GetEvents:
		return e.handleGetEvents(b)
	case protocol.PushEvents:
		return e.handlePushEvents(b)
	case protocol.SendTab:
		return e.handleSendTab(s, b)
	default:
		return protocol.Error{Message: fmt.Sprintf("unexpected request kind %s", body.Kind())}, nil
	}
}

func (e *Engine) handleGetClock() (protocol.Body, error) {
	c, err := e.store.Clock()
	if err != nil {
		return protocol.Error{Message: err.Error()}, nil
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return protocol.Error{Message: err.Error()}, nil
	}
	return protocol.Clock{Clock: raw, DeviceID: e.device.String(), DeviceName: e.name}, nil
}

func (e *Engine) handleGetEvents(b protocol.GetEvents) (protocol.Body, error) {
	var remote clock.Clock
	if err := json.Unmarshal(b.Clock, &remote); err != nil {
		return protocol.Error{Message: "malformed clock"}, nil
	}

	envs, err := e.store.EventsSince(remote)
	if err != nil {
		return protocol.Error{Message: err.Error()}, nil
	}

	key, err := e.groupSecret()
	if err != nil {
		return protocol.Error{Message: err.Error()}, nil
	}
	frames, err := sealEnvelopes(key, e.pubKey, envs)
	if err != nil {
		return protocol.Error{Message: err.Error()}, nil
	}
	if e.metrics != nil {
		e.metrics.RecordSyncEventsPushed(len(envs))
	}
	return protocol.Events{Events: frames}, nil
}

// handlePushEvents decrypts and ingests every frame in b. An invalid frame
// or a clock-regressing envelope is treated as corruption and is fatal to
// the stream; anything already applied in this same call before the
// failure was hit stays applied, since each envelope ingests in its own
// transaction.
func (e *Engine) handlePushEvents(b protocol.PushEvents) (protocol.Body, error) {
	key, err := e.groupSecret()
	if err != nil {
		return nil, fmt.Errorf("compute group secret: %w", err)
	}

	applied := 0
	for _, sf := range b.Events {
		env, err := openEnvelope(key, sf)
		if err != nil {
			if e.metrics != nil {
				e.metrics.RecordFrameRejected("invalid_frame")
			}
			return nil, fmt.Errorf("invalid secure frame: %w", err)
		}
		if e.metrics != nil {
			e.metrics.RecordFrameDecrypted()
		}

		outcome, err := e.store.Ingest(env)
		if err != nil {
			e.recordIngestFailure(env, err)
			return nil, fmt.Errorf("ingest envelope %s: %w", env.ID, err)
		}
		if outcome == store.Applied {
			applied++
			if e.metrics != nil {
				e.metrics.RecordEventApplied(string(env.Event.Type()))
			}
		} else if e.metrics != nil {
			e.metrics.RecordEventDuplicate()
		}
	}

	return protocol.Ack{Count: applied}, nil
}

// handleSendTab is the send-tab shortcut path: it builds and applies a
// TabSent envelope targeted at this device directly, bypassing the usual
// push/pull cycle, then replies TabReceived once it is durably queued.
func (e *Engine) handleSendTab(s *PeerSession, b protocol.SendTab) (protocol.Body, error) {
	payload := event.TabSent{
		ToDevice: e.device.String(),
		URL:      b.URL,
		Title:    b.Title,
	}
	if _, err := e.store.AppendLocal(payload); err != nil {
		return protocol.Error{Message: err.Error()}, nil
	}
	return protocol.TabReceived{}, nil
}

// AppendLocal appends payload to the local log and pushes the resulting
// single-envelope batch to every currently connected peer. There is no
// retry beyond what the next peer reconnection's initial exchange
// re-covers.
func (e *Engine) AppendLocal(payload event.Payload) (event.Envelope, error) {
	env, err := e.store.AppendLocal(payload)
	if err != nil {
		return event.Envelope{}, err
	}
	e.fanOut(env)
	return env, nil
}

func (e *Engine) fanOut(env event.Envelope) {
	e.mu.RLock()
	sessions := make([]*PeerSession, 0, len(e.sessions))
	for s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.RUnlock()

	for _, s := range sessions {
		session := s
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer recovery.RecoverWithLog(e.logger, "syncengine.fanOut")
			ctx, cancel := context.WithTimeout(e.ctx, e.requestTimeout)
			defer cancel()
			if err := e.pushEnvelopes(ctx, session, []event.Envelope{env}); err != nil {
				e.logger.Warn("fan-out push failed", "peer", session.peerLogID(), "error", err)
			}
		}()
	}
}

// Peers returns every currently connected, identified peer's device id.
func (e *Engine) Peers() []identity.DeviceID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]identity.DeviceID, 0, len(e.byDevice))
	for id := range e.byDevice {
		ids = append(ids, id)
	}
	return ids
}

// DeviceID returns this engine's own device identity.
func (e *Engine) DeviceID() identity.DeviceID {
	return e.device
}

// DeviceName returns this engine's configured display name.
func (e *Engine) DeviceName() string {
	return e.name
}

// IsRunning reports whether the engine's background context is still live.
func (e *Engine) IsRunning() bool {
	select {
	case <-e.ctx.Done():
		return false
	default:
		return true
	}
}

// EventCount returns the number of envelopes recorded in the local log.
func (e *Engine) EventCount() int {
	n, err := e.store.Count()
	if err != nil {
		e.logger.Warn("event count failed", "error", err)
		return 0
	}
	return n
}

// Close shuts down every session and stops accepting new work.
func (e *Engine) Close() error {
	e.cancel()
	e.reconnector.Stop()

	e.mu.Lock()
	sessions := make([]*PeerSession, 0, len(e.sessions))
	for s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	for _, s := range sessions {
		s.Close(nil)
	}

	e.wg.Wait()
	return nil
}
