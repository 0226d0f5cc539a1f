// Package crypto implements the secure frame: AEAD encryption of an
// envelope batch under a deterministic, counter-derived nonce, with the
// cipher chosen at encryption time by hardware capability and both ciphers
// supported on the decryption path.
package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"crypto/rand"

	"github.com/klauspost/cpuid/v2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

const (
	// KeySize is the size of an X25519 key and an AEAD key, in bytes.
	KeySize = 32

	// TagSize is the size of the AEAD authentication tag, in bytes.
	TagSize = 16
)

// Cipher identifies one of the two supported AEAD algorithms.
type Cipher uint8

const (
	// CipherAESGCM is AES-256-GCM, 96-bit nonce.
	CipherAESGCM Cipher = 0x01
	// CipherXChaCha20Poly1305 is XChaCha20-Poly1305, 192-bit nonce.
	CipherXChaCha20Poly1305 Cipher = 0x02
)

// NonceSize returns the AEAD nonce length for c.
func (c Cipher) NonceSize() int {
	switch c {
	case CipherAESGCM:
		return 12
	case CipherXChaCha20Poly1305:
		return 24
	default:
		return 0
	}
}

func (c Cipher) String() string {
	switch c {
	case CipherAESGCM:
		return "AES-256-GCM"
	case CipherXChaCha20Poly1305:
		return "XChaCha20-Poly1305"
	default:
		return fmt.Sprintf("Cipher(0x%02x)", uint8(c))
	}
}

// SelectCipher chooses AES-256-GCM when the running CPU exposes hardware
// AES acceleration, falling back to XChaCha20-Poly1305 otherwise. Decryption
// must accept either regardless of the local CPU's capability.
func SelectCipher() Cipher {
	if cpuid.CPU.Supports(cpuid.AESNI) {
		return CipherAESGCM
	}
	return CipherXChaCha20Poly1305
}

// DeriveNonce reconstructs the deterministic nonce for an envelope batch
// authored by device at the given counter:
//
//	h = SHA-256(device)
//	AES-256-GCM:          nonce = h[0:4]  || counter (8 bytes, big-endian)
//	XChaCha20-Poly1305:    nonce = h[0:8]  || counter (8 bytes, big-endian) || 0x00*8
//
// There is no random nonce component; the same (device, counter, cipher)
// always yields the same nonce, which is why each device's counter must
// advance monotonically and never be reused for encryption, or nonces
// would repeat under a fixed key.
func DeriveNonce(device string, counter uint64, cipher Cipher) ([]byte, error) {
	size := cipher.NonceSize()
	if size == 0 {
		return nil, fmt.Errorf("%w: cipher 0x%02x", ErrUnknownCipher, uint8(cipher))
	}

	h := sha256.Sum256([]byte(device))
	prefixLen := size - 8
	nonce := make([]byte, size)
	copy(nonce, h[:prefixLen])
	binary.BigEndian.PutUint64(nonce[prefixLen:prefixLen+8], counter)
	// The AES-GCM nonce is exactly prefix+counter (12 bytes); the
	// XChaCha20 nonce reserves its remaining 8 bytes as zero padding,
	// already the zero value of the freshly allocated slice.
	return nonce, nil
}

func newAEAD(cipher Cipher, key [KeySize]byte) (aeadCipher, error) {
	switch cipher {
	case CipherAESGCM:
		return newAESGCM(key)
	case CipherXChaCha20Poly1305:
		a, err := chacha20poly1305.NewX(key[:])
		if err != nil {
			return nil, fmt.Errorf("create xchacha20poly1305: %w", err)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("%w: cipher 0x%02x", ErrUnknownCipher, uint8(cipher))
	}
}

// aeadCipher is the subset of cipher.AEAD that Seal/Open rely on; both the
// stdlib AES-GCM and x/crypto's XChaCha20-Poly1305 implementations satisfy it.
type aeadCipher interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

// GenerateKeypair generates a new X25519 keypair.
func GenerateKeypair() (privateKey, publicKey [KeySize]byte, err error) {
	if _, err = io.ReadFull(rand.Reader, privateKey[:]); err != nil {
		return privateKey, publicKey, fmt.Errorf("generate private key: %w", err)
	}
	privateKey[0] &= 248
	privateKey[31] &= 127
	privateKey[31] |= 64

	curve25519.ScalarBaseMult(&publicKey, &privateKey)
	return privateKey, publicKey, nil
}

// ComputeECDH performs X25519 Diffie-Hellman and returns the shared secret,
// rejecting the all-zero low-order point in either input or output.
func ComputeECDH(privateKey, remotePublicKey [KeySize]byte) ([KeySize]byte, error) {
	var sharedSecret, zeroKey [KeySize]byte
	if remotePublicKey == zeroKey {
		return sharedSecret, fmt.Errorf("invalid remote public key: zero key")
	}

	curve25519.ScalarMult(&sharedSecret, &privateKey, &remotePublicKey)

	if sharedSecret == zeroKey {
		return sharedSecret, fmt.Errorf("invalid ECDH result: low-order point")
	}
	return sharedSecret, nil
}

// GroupSecret derives the shared AEAD key from the local private key and
// the set of known peer public keys. With no peers it degenerates to
// X25519(sk, derive_public(sk)) so a lone device can still encrypt its own
// log; otherwise it is the XOR of X25519(sk, p) over every peer p. XOR is
// commutative, so peer iteration order does not affect the result.
func GroupSecret(privateKey [KeySize]byte, peers [][KeySize]byte) ([KeySize]byte, error) {
	if len(peers) == 0 {
		var publicKey [KeySize]byte
		curve25519.ScalarBaseMult(&publicKey, &privateKey)
		return ComputeECDH(privateKey, publicKey)
	}

	var secret [KeySize]byte
	for _, peer := range peers {
		dh, err := ComputeECDH(privateKey, peer)
		if err != nil {
			return secret, err
		}
		for i := range secret {
			secret[i] ^= dh[i]
		}
	}
	return secret, nil
}

// ZeroBytes zeroes a byte slice, used to scrub ephemeral secrets.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ZeroKey zeroes a fixed-size key array.
func ZeroKey(k *[KeySize]byte) {
	for i := range k {
		k[i] = 0
	}
}
