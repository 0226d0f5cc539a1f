package pairing

import (
	"testing"
	"time"

	"github.com/tailmesh/browsersync/internal/identity"
)

type fakeKeyStore struct {
	saved map[identity.DeviceID]string
}

func newFakeKeyStore() *fakeKeyStore {
	return &fakeKeyStore{saved: make(map[identity.DeviceID]string)}
}

func (f *fakeKeyStore) SavePeerKey(device identity.DeviceID, pubKeyHex string) error {
	f.saved[device] = pubKeyHex
	return nil
}

func testJoinInfo(t *testing.T) (identity.DeviceID, JoinInfo) {
	t.Helper()
	device, err := identity.NewDeviceID()
	if err != nil {
		t.Fatalf("NewDeviceID: %v", err)
	}
	_, pub, err := testKeypair(t)
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	return device, JoinInfo{
		DeviceID:     device.String(),
		DeviceName:   "joiner-laptop",
		PublicKeyHex: identity.KeyToString(pub),
	}
}

func testKeypair(t *testing.T) ([identity.KeySize]byte, [identity.KeySize]byte, error) {
	t.Helper()
	kp, err := identity.NewKeypair()
	if err != nil {
		return [identity.KeySize]byte{}, [identity.KeySize]byte{}, err
	}
	return kp.PrivateKey, kp.PublicKey, nil
}

func newTestSession(t *testing.T, onAccept func(identity.DeviceID, string)) (*Session, *fakeKeyStore, identity.DeviceID) {
	t.Helper()
	self, err := identity.NewDeviceID()
	if err != nil {
		t.Fatalf("NewDeviceID: %v", err)
	}
	ks := newFakeKeyStore()
	return NewSession(300*time.Second, ks, self, onAccept, nil), ks, self
}

func TestSession_FullAcceptTranscript(t *testing.T) {
	var acceptedDevice identity.DeviceID
	var acceptedKey string
	s, ks, _ := newTestSession(t, func(d identity.DeviceID, k string) {
		acceptedDevice = d
		acceptedKey = k
	})

	code, expiresAt, err := s.Initiate()
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if len(code) != 6 {
		t.Errorf("code length = %d, want 6", len(code))
	}
	if !expiresAt.After(time.Now()) {
		t.Error("expiresAt should be in the future")
	}

	device, info := testJoinInfo(t)
	result, err := s.Join(code, info)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if result.Status != StatusAcceptedPending {
		t.Errorf("status = %s, want %s", result.Status, StatusAcceptedPending)
	}

	pending, ok := s.Pending()
	if !ok {
		t.Fatal("expected a pending request")
	}
	if pending.DeviceID != device.String() {
		t.Errorf("pending.DeviceID = %s, want %s", pending.DeviceID, device.String())
	}
	if len(pending.Fingerprint) != 32 {
		t.Errorf("fingerprint length = %d, want 32", len(pending.Fingerprint))
	}

	status, err := s.Respond(true)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if status != StatusAccepted {
		t.Errorf("status = %s, want %s", status, StatusAccepted)
	}

	if acceptedDevice != device {
		t.Errorf("onAccept device = %s, want %s", acceptedDevice, device)
	}
	if acceptedKey != info.PublicKeyHex {
		t.Errorf("onAccept key = %s, want %s", acceptedKey, info.PublicKeyHex)
	}
	if ks.saved[device] != info.PublicKeyHex {
		t.Errorf("keystore did not persist accepted peer key")
	}

	if _, ok := s.Pending(); ok {
		t.Error("session should have no pending request after Respond")
	}
}

func TestSession_Reject(t *testing.T) {
	s, ks, _ := newTestSession(t, nil)
	code, _, err := s.Initiate()
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	device, info := testJoinInfo(t)
	if _, err := s.Join(code, info); err != nil {
		t.Fatalf("Join: %v", err)
	}

	status, err := s.Respond(false)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if status != StatusRejected {
		t.Errorf("status = %s, want %s", status, StatusRejected)
	}
	if _, saved := ks.saved[device]; saved {
		t.Error("rejected peer's key should not be persisted")
	}
}

func TestSession_WrongCodeDoesNotConsume(t *testing.T) {
	s, _, _ := newTestSession(t, nil)
	code, _, err := s.Initiate()
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	_, info := testJoinInfo(t)
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	result, err := s.Join(wrong, info)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if result.Status != StatusInvalidCode {
		t.Errorf("status = %s, want %s", result.Status, StatusInvalidCode)
	}

	// The session is still alive: retrying with the right code succeeds.
	result, err = s.Join(code, info)
	if err != nil {
		t.Fatalf("Join (retry): %v", err)
	}
	if result.Status != StatusAcceptedPending {
		t.Errorf("status = %s, want %s", result.Status, StatusAcceptedPending)
	}
}

func TestSession_CorrectCodeIsSingleUse(t *testing.T) {
	s, _, _ := newTestSession(t, nil)
	code, _, err := s.Initiate()
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	_, info := testJoinInfo(t)
	if _, err := s.Join(code, info); err != nil {
		t.Fatalf("Join: %v", err)
	}

	// Same code, second attempt: the session was already consumed by the
	// first successful join.
	result, err := s.Join(code, info)
	if err != nil {
		t.Fatalf("Join (second attempt): %v", err)
	}
	if result.Status != StatusInvalidCode {
		t.Errorf("status = %s, want %s", result.Status, StatusInvalidCode)
	}
}

func TestSession_Expired(t *testing.T) {
	self, err := identity.NewDeviceID()
	if err != nil {
		t.Fatalf("NewDeviceID: %v", err)
	}
	s := NewSession(1*time.Millisecond, newFakeKeyStore(), self, nil, nil)

	code, _, err := s.Initiate()
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	_, info := testJoinInfo(t)
	result, err := s.Join(code, info)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if result.Status != StatusExpired {
		t.Errorf("status = %s, want %s", result.Status, StatusExpired)
	}
}

func TestSession_InitiateBusy(t *testing.T) {
	s, _, _ := newTestSession(t, nil)
	if _, _, err := s.Initiate(); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if _, _, err := s.Initiate(); err != ErrSessionBusy {
		t.Errorf("second Initiate error = %v, want ErrSessionBusy", err)
	}
}

func TestSession_RespondWithoutPending(t *testing.T) {
	s, _, _ := newTestSession(t, nil)
	if _, _, err := s.Initiate(); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if _, err := s.Respond(true); err != ErrNoPendingRequest {
		t.Errorf("Respond error = %v, want ErrNoPendingRequest", err)
	}
}

func TestSession_CancelClearsSession(t *testing.T) {
	s, _, _ := newTestSession(t, nil)
	code, _, err := s.Initiate()
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if err := s.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	_, info := testJoinInfo(t)
	result, err := s.Join(code, info)
	if err != nil {
		t.Fatalf("Join after cancel: %v", err)
	}
	if result.Status != StatusInvalidCode {
		t.Errorf("status = %s, want %s", result.Status, StatusInvalidCode)
	}

	if err := s.Cancel(); err != ErrNoActiveSession {
		t.Errorf("second Cancel error = %v, want ErrNoActiveSession", err)
	}
}

func TestSession_JoinSelfRejected(t *testing.T) {
	s, _, self := newTestSession(t, nil)
	code, _, err := s.Initiate()
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	_, pub, err := testKeypair(t)
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	info := JoinInfo{
		DeviceID:     self.String(),
		DeviceName:   "impossible",
		PublicKeyHex: identity.KeyToString(pub),
	}

	result, err := s.Join(code, info)
	if err == nil {
		t.Fatal("expected an error pairing a device with itself")
	}
	if result.Status != StatusInvalidCode {
		t.Errorf("status = %s, want %s", result.Status, StatusInvalidCode)
	}
}
