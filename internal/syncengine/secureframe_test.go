package syncengine

import (
	"testing"

	"github.com/tailmesh/browsersync/internal/clock"
	"github.com/tailmesh/browsersync/internal/crypto"
	"github.com/tailmesh/browsersync/internal/event"
)

func testEnvelope(device string) event.Envelope {
	c := clock.New().Tick(device)
	return event.New(device, c, event.ExtensionAdded{ID: "ext-1", Name: "uBlock Origin"})
}

func TestSealOpenEnvelope_Roundtrip(t *testing.T) {
	var key [crypto.KeySize]byte
	for i := range key {
		key[i] = byte(i)
	}
	var senderPub [crypto.KeySize]byte
	for i := range senderPub {
		senderPub[i] = byte(0xff - i)
	}

	env := testEnvelope("device-a")

	frame, err := sealEnvelope(key, senderPub, env)
	if err != nil {
		t.Fatalf("sealEnvelope() error = %v", err)
	}

	got, err := openEnvelope(key, frame)
	if err != nil {
		t.Fatalf("openEnvelope() error = %v", err)
	}

	if got.ID != env.ID {
		t.Errorf("ID = %s, want %s", got.ID, env.ID)
	}
	if got.Device != env.Device {
		t.Errorf("Device = %s, want %s", got.Device, env.Device)
	}
	if got.Clock.Get("device-a") != env.Clock.Get("device-a") {
		t.Errorf("Clock[device-a] = %d, want %d", got.Clock.Get("device-a"), env.Clock.Get("device-a"))
	}
	added, ok := got.Event.(event.ExtensionAdded)
	if !ok {
		t.Fatalf("Event type = %T, want event.ExtensionAdded", got.Event)
	}
	if added.ID != "ext-1" || added.Name != "uBlock Origin" {
		t.Errorf("Event = %+v, want {ID:ext-1 Name:uBlock Origin}", added)
	}
}

func TestSealOpenEnvelopes_Batch(t *testing.T) {
	var key [crypto.KeySize]byte
	var senderPub [crypto.KeySize]byte

	c := clock.New()
	var envs []event.Envelope
	for i := 0; i < 3; i++ {
		c = c.Tick("device-a")
		envs = append(envs, event.New("device-a", c, event.PrefSet{Key: "k", Value: event.StringPref("v")}))
	}

	frames, err := sealEnvelopes(key, senderPub, envs)
	if err != nil {
		t.Fatalf("sealEnvelopes() error = %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("len(frames) = %d, want 3", len(frames))
	}

	got, err := openEnvelopes(key, frames)
	if err != nil {
		t.Fatalf("openEnvelopes() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(got) = %d, want 3", len(got))
	}
	for i := range envs {
		if got[i].ID != envs[i].ID {
			t.Errorf("envelope %d: ID = %s, want %s", i, got[i].ID, envs[i].ID)
		}
	}
}

func TestOpenEnvelope_WrongKeyFails(t *testing.T) {
	var key, wrongKey [crypto.KeySize]byte
	var senderPub [crypto.KeySize]byte
	wrongKey[0] = 1

	env := testEnvelope("device-a")
	frame, err := sealEnvelope(key, senderPub, env)
	if err != nil {
		t.Fatalf("sealEnvelope() error = %v", err)
	}

	if _, err := openEnvelope(wrongKey, frame); err == nil {
		t.Error("openEnvelope() with wrong key should fail")
	}
}

func TestOpenEnvelope_TamperedFrameFails(t *testing.T) {
	var key [crypto.KeySize]byte
	var senderPub [crypto.KeySize]byte

	env := testEnvelope("device-a")
	frame, err := sealEnvelope(key, senderPub, env)
	if err != nil {
		t.Fatalf("sealEnvelope() error = %v", err)
	}

	tampered := append([]byte{}, frame...)
	// Flip a byte inside the JSON payload; any mutation either breaks
	// decoding or the AEAD tag, both of which must be rejected.
	for i := len(tampered) - 1; i >= 0; i-- {
		if tampered[i] != '"' && tampered[i] != '{' && tampered[i] != '}' && tampered[i] != ':' && tampered[i] != ',' {
			tampered[i] ^= 0xff
			break
		}
	}

	if _, err := openEnvelope(key, tampered); err == nil {
		t.Error("openEnvelope() with tampered frame should fail")
	}
}

func TestOpenEnvelope_InvalidJSONFails(t *testing.T) {
	var key [crypto.KeySize]byte
	if _, err := openEnvelope(key, []byte("not json")); err == nil {
		t.Error("openEnvelope() with invalid JSON should fail")
	}
}
