package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// ErrUnknownCipher is returned for a cipher byte outside the supported enum.
var ErrUnknownCipher = fmt.Errorf("unknown cipher")

// newAESGCM builds the AES-256-GCM AEAD. There is no third-party AEAD
// wrapper for AES in the dependency set this module draws from, and
// crypto/cipher's GCM construction is the standard, idiomatic way to get it
// in Go; see DESIGN.md for why this one primitive stays on the standard
// library while XChaCha20-Poly1305 comes from golang.org/x/crypto.
func newAESGCM(key [KeySize]byte) (aeadCipher, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("create aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}
