package syncengine

import (
	"crypto/hmac"
	"encoding/json"
	"fmt"

	"github.com/tailmesh/browsersync/internal/crypto"
	"github.com/tailmesh/browsersync/internal/event"
	"github.com/tailmesh/browsersync/internal/protocol"
)

// sealEnvelope encrypts one envelope into a secure frame under key, using
// the envelope's own (device, counter) for nonce derivation. A secure
// frame authenticates a batch produced by a single authoring device at a
// single clock value; since a device's own counter only ever advances by
// one per envelope, that description is satisfied exactly by sealing one
// envelope per frame, never several at once.
func sealEnvelope(key [crypto.KeySize]byte, senderPublicKey [crypto.KeySize]byte, env event.Envelope) (protocol.SecureFrame, error) {
	plaintext, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}

	cipher := crypto.SelectCipher()
	frame, err := crypto.Seal(env.Device, env.Clock.Get(env.Device), cipher, key, senderPublicKey, plaintext)
	if err != nil {
		return nil, fmt.Errorf("seal envelope %s: %w", env.ID, err)
	}

	wire, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode secure frame: %w", err)
	}
	return wire, nil
}

// sealEnvelopes seals each envelope independently, in order.
func sealEnvelopes(key [crypto.KeySize]byte, senderPublicKey [crypto.KeySize]byte, envs []event.Envelope) ([]protocol.SecureFrame, error) {
	frames := make([]protocol.SecureFrame, 0, len(envs))
	for _, env := range envs {
		frame, err := sealEnvelope(key, senderPublicKey, env)
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// openEnvelope decrypts a secure frame and recovers the envelope it
// carries. The frame's author and counter are not known until the
// plaintext is parsed, so decryption happens first via OpenUnchecked; the
// nonce is then independently re-derived from the envelope's own claimed
// (device, counter) and compared to what the frame actually carried. A
// mismatch means the frame's envelope does not match the identity it was
// sealed under and is rejected exactly as Open's upfront check would have
// caught it had the expected values been known in advance.
func openEnvelope(key [crypto.KeySize]byte, sf protocol.SecureFrame) (event.Envelope, error) {
	var frame crypto.Frame
	if err := json.Unmarshal(sf, &frame); err != nil {
		return event.Envelope{}, fmt.Errorf("%w: %v", crypto.ErrInvalidFrame, err)
	}

	plaintext, err := frame.OpenUnchecked(key)
	if err != nil {
		return event.Envelope{}, err
	}

	var env event.Envelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		return event.Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}

	expected, err := crypto.DeriveNonce(env.Device, env.Clock.Get(env.Device), frame.Cipher)
	if err != nil {
		return event.Envelope{}, err
	}
	if !hmac.Equal(frame.Nonce, expected) {
		return event.Envelope{}, crypto.ErrNonceMismatch
	}

	return env, nil
}

// openEnvelopes decrypts each frame in order, stopping at the first
// failure: an invalid frame is fatal to the whole batch's stream, not
// just to that one frame.
func openEnvelopes(key [crypto.KeySize]byte, frames []protocol.SecureFrame) ([]event.Envelope, error) {
	envs := make([]event.Envelope, 0, len(frames))
	for _, sf := range frames {
		env, err := openEnvelope(key, sf)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}
