// The secure frame: authenticated encryption of an envelope batch under a
// deterministic per-(device, counter) nonce and the shared group secret.
// Adapted from a prior per-message sealed-box construction; the public-key
// wrapping is gone (the key here is the shared group secret, not a
// recipient's public key) but the "frame carries its own key material"
// shape and the strict-decode-before-decrypt discipline survive.

package crypto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FrameVersion is the only secure frame version this package emits or
// accepts. Any other value on decode is an invalid frame.
const FrameVersion uint8 = 0x02

var (
	// ErrInvalidFrame is returned for any structural deviation: wrong
	// version, unknown cipher, or a length too short for its header and
	// tag. Decryption is never attempted in this case.
	ErrInvalidFrame = errors.New("invalid secure frame")

	// ErrNonceMismatch is returned when the nonce embedded in a frame does
	// not match the nonce reconstructed from the caller-supplied device and
	// counter. This is detected before the AEAD is ever invoked.
	ErrNonceMismatch = errors.New("frame nonce does not match expected (device, counter)")

	// ErrDecryptionFailed is returned when AEAD authentication fails.
	ErrDecryptionFailed = errors.New("secure frame decryption failed")
)

// Frame is a decoded secure frame.
type Frame struct {
	Version         uint8
	Cipher          Cipher
	SenderPublicKey [KeySize]byte
	Nonce           []byte
	// Sealed is the AEAD output: ciphertext immediately followed by the
	// 16-byte tag, exactly as Seal/Open produce and consume it.
	Sealed []byte
}

// Seal encrypts plaintext (a JSON array of envelopes) into a secure frame.
// device and counter are the authoring device id and its current counter;
// together with cipher they determine the nonce deterministically, so no
// random nonce is generated here.
func Seal(device string, counter uint64, cipher Cipher, key [KeySize]byte, senderPublicKey [KeySize]byte, plaintext []byte) (*Frame, error) {
	nonce, err := DeriveNonce(device, counter, cipher)
	if err != nil {
		return nil, err
	}

	aead, err := newAEAD(cipher, key)
	if err != nil {
		return nil, err
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)

	return &Frame{
		Version:         FrameVersion,
		Cipher:          cipher,
		SenderPublicKey: senderPublicKey,
		Nonce:           nonce,
		Sealed:          sealed,
	}, nil
}

// Open verifies f was produced by device at counter and, if so, decrypts
// it. The expected nonce is recomputed from (device, counter, f.Cipher) and
// compared against f.Nonce before the AEAD is invoked at all; a mismatch is
// reported as ErrNonceMismatch without attempting decryption.
func (f *Frame) Open(device string, counter uint64, key [KeySize]byte) ([]byte, error) {
	expected, err := DeriveNonce(device, counter, f.Cipher)
	if err != nil {
		return nil, err
	}
	if len(f.Nonce) != len(expected) || !constantTimeEqual(f.Nonce, expected) {
		return nil, ErrNonceMismatch
	}

	aead, err := newAEAD(f.Cipher, key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, f.Nonce, f.Sealed, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// OpenUnchecked decrypts f without first verifying its nonce against an
// expected (device, counter) pair. Use this when receiving a frame over
// the network for the first time, before the claimed author and counter
// are known: the nonce itself carries no secret, so decryption can proceed
// directly, but the caller MUST recompute DeriveNonce from the decrypted
// envelope's own device/counter and compare it to f.Nonce afterward — a
// mismatch there means the frame lied about its own provenance and must be
// treated as invalid, exactly as Open's pre-check would have caught it had
// the expected values been known in advance.
func (f *Frame) OpenUnchecked(key [KeySize]byte) ([]byte, error) {
	aead, err := newAEAD(f.Cipher, key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, f.Nonce, f.Sealed, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// MarshalBinary serializes f as a raw concatenation: version (1) ||
// cipher (1) || sender public key (32) || nonce (N) || sealed (M+16). This
// is the form persisted to disk.
func (f *Frame) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 2+KeySize+len(f.Nonce)+len(f.Sealed))
	buf = append(buf, f.Version, uint8(f.Cipher))
	buf = append(buf, f.SenderPublicKey[:]...)
	buf = append(buf, f.Nonce...)
	buf = append(buf, f.Sealed...)
	return buf, nil
}

// UnmarshalBinary parses the raw concatenation into f, rejecting any
// version other than FrameVersion, any unrecognized cipher byte, or a
// buffer too short for its header and minimum tag.
func (f *Frame) UnmarshalBinary(data []byte) error {
	const minHeader = 2 + KeySize
	if len(data) < minHeader+1 {
		return fmt.Errorf("%w: too short", ErrInvalidFrame)
	}

	version := data[0]
	if version != FrameVersion {
		return fmt.Errorf("%w: version %d", ErrInvalidFrame, version)
	}

	cipherByte := Cipher(data[1])
	nonceSize := cipherByte.NonceSize()
	if nonceSize == 0 {
		return fmt.Errorf("%w: cipher 0x%02x", ErrInvalidFrame, data[1])
	}

	rest := data[minHeader:]
	if len(rest) < nonceSize+TagSize {
		return fmt.Errorf("%w: too short for nonce and tag", ErrInvalidFrame)
	}

	var senderPub [KeySize]byte
	copy(senderPub[:], data[2:minHeader])

	nonce := make([]byte, nonceSize)
	copy(nonce, rest[:nonceSize])

	sealed := make([]byte, len(rest)-nonceSize)
	copy(sealed, rest[nonceSize:])

	f.Version = version
	f.Cipher = cipherByte
	f.SenderPublicKey = senderPub
	f.Nonce = nonce
	f.Sealed = sealed
	return nil
}

// wireFrame mirrors Frame for JSON: the same fields, base64-encoded, with
// ciphertext and tag split apart for readability on the wire even though
// they are stored contiguously on disk.
type wireFrame struct {
	Version    uint8  `json:"version"`
	Cipher     uint8  `json:"cipher"`
	PublicKey  []byte `json:"public_key"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	Tag        []byte `json:"tag"`
}

// MarshalJSON implements the wire wrapper. encoding/json base64-encodes
// []byte fields automatically, so no manual base64 dependency is needed.
func (f *Frame) MarshalJSON() ([]byte, error) {
	if len(f.Sealed) < TagSize {
		return nil, fmt.Errorf("%w: sealed payload shorter than tag", ErrInvalidFrame)
	}
	split := len(f.Sealed) - TagSize
	return json.Marshal(wireFrame{
		Version:    f.Version,
		Cipher:     uint8(f.Cipher),
		PublicKey:  f.SenderPublicKey[:],
		Nonce:      f.Nonce,
		Ciphertext: f.Sealed[:split],
		Tag:        f.Sealed[split:],
	})
}

// UnmarshalJSON implements the wire wrapper, reassembling Sealed as
// ciphertext||tag so Open can treat it identically to a disk-decoded frame.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Version != FrameVersion {
		return fmt.Errorf("%w: version %d", ErrInvalidFrame, w.Version)
	}
	cipherByte := Cipher(w.Cipher)
	if cipherByte.NonceSize() == 0 {
		return fmt.Errorf("%w: cipher 0x%02x", ErrInvalidFrame, w.Cipher)
	}
	if len(w.PublicKey) != KeySize {
		return fmt.Errorf("%w: public key length %d", ErrInvalidFrame, len(w.PublicKey))
	}

	var senderPub [KeySize]byte
	copy(senderPub[:], w.PublicKey)

	f.Version = w.Version
	f.Cipher = cipherByte
	f.SenderPublicKey = senderPub
	f.Nonce = w.Nonce
	f.Sealed = append(append([]byte{}, w.Ciphertext...), w.Tag...)
	return nil
}
