// Package pairing implements the rendezvous-code handshake a new device
// uses to join an existing sync mesh: an initiator publishes a short-lived
// numeric code out of band, a joiner submits it along with its identity,
// and the initiator's operator accepts or rejects the resulting pending
// request. A successful accept leaves both sides holding each other's
// public key, the prerequisite for internal/syncengine to start exchanging
// encrypted events with the new device.
package pairing

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/tailmesh/browsersync/internal/identity"
	"github.com/tailmesh/browsersync/internal/metrics"
)

// Status values returned by Join and Respond.
const (
	StatusAcceptedPending = "accepted-pending"
	StatusAccepted        = "accepted"
	StatusRejected        = "rejected"
	StatusInvalidCode     = "invalid_code"
	StatusExpired         = "expired"
)

var (
	// ErrNoActiveSession is returned by Respond and Cancel when no
	// session has been initiated, or a prior one already concluded.
	ErrNoActiveSession = errors.New("no active pairing session")

	// ErrSessionBusy is returned by Initiate when a session is already
	// awaiting a response; only one session is ever live at a time.
	ErrSessionBusy = errors.New("a pairing session is already in progress")

	// ErrNoPendingRequest is returned by Respond when a session is active
	// but no joiner has submitted a code against it yet.
	ErrNoPendingRequest = errors.New("no pending join request")
)

// JoinInfo is what a joiner submits along with the code.
type JoinInfo struct {
	DeviceID     string
	DeviceName   string
	PublicKeyHex string
}

// JoinResult answers a Join call.
type JoinResult struct {
	Status string
}

// PendingRequest is a join awaiting the initiator operator's decision.
type PendingRequest struct {
	DeviceID    string
	DeviceName  string
	PublicKey   string
	Fingerprint string
}

// KeyStore persists and enumerates paired peers' public keys. Implemented
// by *Keystore; pulled out as an interface so Session can be tested without
// touching disk.
type KeyStore interface {
	SavePeerKey(device identity.DeviceID, pubKeyHex string) error
}

// Session is the single pairing handshake in flight on this device, either
// as initiator or as the accepting side of a join. Only one is ever live;
// Initiate fails with ErrSessionBusy while another is outstanding.
type Session struct {
	mu sync.Mutex

	ttl      time.Duration
	keys     KeyStore
	self     identity.DeviceID
	onAccept func(device identity.DeviceID, pubKeyHex string)
	metrics  *metrics.Metrics

	active    bool
	code      string
	expiresAt time.Time
	consumed  bool
	pending   *PendingRequest
	pendingAt time.Time

	// lastJoinCode/lastStatus let a joiner poll for the outcome of a code it
	// already submitted, since Join itself only ever answers
	// accepted-pending: the operator's eventual accept/reject happens later,
	// possibly after the joiner's own HTTP request has already returned.
	lastJoinCode string
	lastStatus   string
}

// NewSession constructs a Session. self is this device's own id, used to
// reject a join attempt against oneself. onAccept, if non-nil, is invoked
// after a successful Respond(true) with the now-paired peer's identity and
// public key, letting the caller wire the new peer into a running engine
// without Session needing to know about syncengine. m may be nil, in which
// case pairing metrics are simply not recorded.
func NewSession(ttl time.Duration, keys KeyStore, self identity.DeviceID, onAccept func(identity.DeviceID, string), m *metrics.Metrics) *Session {
	return &Session{
		ttl:      ttl,
		keys:     keys,
		self:     self,
		onAccept: onAccept,
		metrics:  m,
	}
}

// Initiate starts a new session: generates a uniformly random 6-digit code,
// records its expiry ttl from now, and returns both for the caller to
// publish out of band.
func (s *Session) Initiate() (code string, expiresAt time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return "", time.Time{}, ErrSessionBusy
	}

	c, err := randomCode()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate code: %w", err)
	}

	s.active = true
	s.code = c
	s.expiresAt = time.Now().Add(s.ttl)
	s.consumed = false
	s.pending = nil

	return s.code, s.expiresAt, nil
}

// Join evaluates a joiner's submitted code. A code mismatch does not
// consume the session, so a mistyped code can be retried; a correct code
// is consumed immediately, win or lose, so the session cannot be replayed
// against once a join has been recorded as pending.
func (s *Session) Join(code string, info JoinInfo) (JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || s.consumed {
		return JoinResult{Status: StatusInvalidCode}, nil
	}

	if code != s.code {
		return JoinResult{Status: StatusInvalidCode}, nil
	}

	if s.metrics != nil {
		s.metrics.RecordPairingAttempt("joiner")
	}

	if time.Now().After(s.expiresAt) {
		s.active = false
		if s.metrics != nil {
			s.metrics.RecordPairingTimeout()
		}
		return JoinResult{Status: StatusExpired}, nil
	}

	s.consumed = true

	if info.DeviceID == s.self.String() {
		return JoinResult{Status: StatusInvalidCode}, errors.New("cannot pair a device with itself")
	}

	device, err := identity.ParseDeviceID(info.DeviceID)
	if err != nil {
		return JoinResult{Status: StatusInvalidCode}, fmt.Errorf("parse device id: %w", err)
	}
	pubKey, err := identity.ParseKey(info.PublicKeyHex)
	if err != nil {
		return JoinResult{Status: StatusInvalidCode}, fmt.Errorf("parse public key: %w", err)
	}

	s.pending = &PendingRequest{
		DeviceID:    device.String(),
		DeviceName:  info.DeviceName,
		PublicKey:   identity.KeyToString(pubKey),
		Fingerprint: fingerprint(pubKey),
	}
	s.lastJoinCode = code
	s.lastStatus = StatusAcceptedPending
	s.pendingAt = time.Now()

	return JoinResult{Status: StatusAcceptedPending}, nil
}

// JoinStatus reports the current outcome for a code previously submitted to
// Join, for a joiner polling to learn whether the operator has responded
// yet. Returns ok=false if code does not match the most recent join.
func (s *Session) JoinStatus(code string) (status string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code == "" || code != s.lastJoinCode {
		return "", false
	}
	return s.lastStatus, true
}

// Pending returns the join request awaiting Respond, if any.
func (s *Session) Pending() (PendingRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return PendingRequest{}, false
	}
	return *s.pending, true
}

// Respond accepts or rejects the pending join request, ending the session
// either way. On accept, the joiner's public key is persisted through the
// configured KeyStore and onAccept is invoked so the caller can start
// syncing with the newly paired device immediately.
func (s *Session) Respond(accept bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return "", ErrNoActiveSession
	}
	if s.pending == nil {
		return "", ErrNoPendingRequest
	}

	pending := s.pending
	s.active = false
	s.pending = nil

	if !accept {
		s.lastStatus = StatusRejected
		return StatusRejected, nil
	}

	device, err := identity.ParseDeviceID(pending.DeviceID)
	if err != nil {
		return "", fmt.Errorf("parse accepted device id: %w", err)
	}
	if s.keys != nil {
		if err := s.keys.SavePeerKey(device, pending.PublicKey); err != nil {
			return "", fmt.Errorf("persist peer key: %w", err)
		}
	}
	if s.onAccept != nil {
		s.onAccept(device, pending.PublicKey)
	}

	if s.metrics != nil {
		s.metrics.RecordPairingAttempt("initiator")
		if !s.pendingAt.IsZero() {
			s.metrics.RecordPairingSuccess(time.Since(s.pendingAt).Seconds())
		}
	}

	s.lastStatus = StatusAccepted
	return StatusAccepted, nil
}

// Cancel ends the current session without accepting or rejecting anything.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return ErrNoActiveSession
	}
	s.active = false
	s.code = ""
	s.pending = nil
	return nil
}

// Status describes the session's current state, for display over the
// control surface's read-only status endpoint.
func (s *Session) Status() (active bool, expiresAt time.Time, hasPending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.expiresAt, s.pending != nil
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// fingerprint returns the first 32 hex characters (16 bytes) of a public
// key, short enough to read aloud and compare against the joiner's device.
func fingerprint(key [identity.KeySize]byte) string {
	return hex.EncodeToString(key[:])[:32]
}
