package control

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tailmesh/browsersync/internal/identity"
	"github.com/tailmesh/browsersync/internal/pairing"
)

// fakeEngine implements EngineInfo for testing.
type fakeEngine struct {
	deviceID   identity.DeviceID
	deviceName string
	running    bool
	peers      []identity.DeviceID
	eventCount int
}

func (f *fakeEngine) DeviceID() identity.DeviceID { return f.deviceID }
func (f *fakeEngine) DeviceName() string           { return f.deviceName }
func (f *fakeEngine) IsRunning() bool              { return f.running }
func (f *fakeEngine) Peers() []identity.DeviceID   { return f.peers }
func (f *fakeEngine) EventCount() int              { return f.eventCount }

// fakePairer implements Pairer for testing, independent of pairing.Session
// so the control package's tests stay isolated from its handshake logic.
type fakePairer struct {
	code      string
	expiresAt time.Time
	pending   *pairing.PendingRequest
	lastAccept bool
	canceled  bool
	initiateErr error
	respondErr  error
}

func (f *fakePairer) Initiate() (string, time.Time, error) {
	if f.initiateErr != nil {
		return "", time.Time{}, f.initiateErr
	}
	return f.code, f.expiresAt, nil
}

func (f *fakePairer) Pending() (pairing.PendingRequest, bool) {
	if f.pending == nil {
		return pairing.PendingRequest{}, false
	}
	return *f.pending, true
}

func (f *fakePairer) Respond(accept bool) (string, error) {
	if f.respondErr != nil {
		return "", f.respondErr
	}
	f.lastAccept = accept
	if accept {
		return pairing.StatusAccepted, nil
	}
	return pairing.StatusRejected, nil
}

func (f *fakePairer) Cancel() error {
	f.canceled = true
	return nil
}

func newTestServer(t *testing.T) (*Server, *fakeEngine, *fakePairer, string) {
	t.Helper()
	tmpDir := t.TempDir()
	socketPath := filepath.Join(tmpDir, "control.sock")

	cfg := ServerConfig{
		SocketPath:   socketPath,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	id, err := identity.NewDeviceID()
	if err != nil {
		t.Fatalf("NewDeviceID: %v", err)
	}
	engine := &fakeEngine{deviceID: id, deviceName: "test-device", running: true}
	pairer := &fakePairer{}

	s := NewServer(cfg, engine, pairer)
	return s, engine, pairer, socketPath
}

func TestNewServer(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	if s == nil {
		t.Fatal("NewServer returned nil")
	}
}

func TestServer_StartStop(t *testing.T) {
	s, _, _, socketPath := newTestServer(t)

	if err := s.Start(); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	if !s.IsRunning() {
		t.Error("expected server to be running")
	}
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		t.Error("socket file does not exist")
	}

	if err := s.Stop(); err != nil {
		t.Errorf("failed to stop: %v", err)
	}
	if s.IsRunning() {
		t.Error("expected server to be stopped")
	}
}

func TestServer_StatusAndPeers(t *testing.T) {
	s, engine, _, socketPath := newTestServer(t)
	peerID, err := identity.NewDeviceID()
	if err != nil {
		t.Fatalf("NewDeviceID: %v", err)
	}
	engine.peers = []identity.DeviceID{peerID}
	engine.eventCount = 7

	if err := s.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer s.Stop()

	client := NewClient(socketPath)
	defer client.Close()
	ctx := context.Background()

	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.DeviceID != engine.deviceID.String() {
		t.Errorf("DeviceID = %s, want %s", status.DeviceID, engine.deviceID.String())
	}
	if !status.Running {
		t.Error("expected running=true")
	}
	if status.PeerCount != 1 {
		t.Errorf("PeerCount = %d, want 1", status.PeerCount)
	}
	if status.EventCount != 7 {
		t.Errorf("EventCount = %d, want 7", status.EventCount)
	}

	peers, err := client.Peers(ctx)
	if err != nil {
		t.Fatalf("peers failed: %v", err)
	}
	if len(peers.Peers) != 1 || peers.Peers[0] != peerID.String() {
		t.Errorf("Peers = %v, want [%s]", peers.Peers, peerID.String())
	}
}

func TestServer_PairingFlow(t *testing.T) {
	s, _, pairer, socketPath := newTestServer(t)
	pairer.code = "482913"
	pairer.expiresAt = time.Now().Add(300 * time.Second)

	if err := s.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer s.Stop()

	client := NewClient(socketPath)
	defer client.Close()
	ctx := context.Background()

	initiate, err := client.PairInitiate(ctx)
	if err != nil {
		t.Fatalf("PairInitiate: %v", err)
	}
	if initiate.Code != "482913" {
		t.Errorf("Code = %s, want 482913", initiate.Code)
	}

	pending, err := client.PairPending(ctx)
	if err != nil {
		t.Fatalf("PairPending: %v", err)
	}
	if pending.Pending {
		t.Error("expected no pending request yet")
	}

	pairer.pending = &pairing.PendingRequest{
		DeviceID:    "abc123",
		DeviceName:  "joiner-laptop",
		Fingerprint: "deadbeef",
	}
	pending, err = client.PairPending(ctx)
	if err != nil {
		t.Fatalf("PairPending: %v", err)
	}
	if !pending.Pending {
		t.Fatal("expected a pending request")
	}
	if pending.DeviceID != "abc123" {
		t.Errorf("DeviceID = %s, want abc123", pending.DeviceID)
	}

	respond, err := client.PairRespond(ctx, true)
	if err != nil {
		t.Fatalf("PairRespond: %v", err)
	}
	if respond.Status != pairing.StatusAccepted {
		t.Errorf("Status = %s, want %s", respond.Status, pairing.StatusAccepted)
	}
	if !pairer.lastAccept {
		t.Error("expected Respond(true) to have been called")
	}

	if err := client.PairCancel(ctx); err != nil {
		t.Fatalf("PairCancel: %v", err)
	}
	if !pairer.canceled {
		t.Error("expected Cancel to have been called")
	}
}
