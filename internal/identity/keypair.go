package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/curve25519"

	"github.com/tailmesh/browsersync/internal/crypto"
)

const (
	// KeySize is the size of an X25519 key in bytes.
	KeySize = crypto.KeySize

	keyDirName     = "keys"
	keyFileName    = keyDirName + "/local.key"
	pubKeyFileName = keyDirName + "/local.pub"
)

var (
	// ErrInvalidKeyLength is returned when a key does not decode to KeySize
	// bytes.
	ErrInvalidKeyLength = errors.New("invalid key length: expected 32 bytes")

	// ErrInvalidKeyHex is returned when a key string is not valid hex.
	ErrInvalidKeyHex = errors.New("invalid hex string for key")

	// ErrKeyMismatch is returned when a loaded public key does not match
	// the public key derived from the loaded private key.
	ErrKeyMismatch = errors.New("stored public key does not match private key")
)

// Keypair is a device's long-term X25519 keypair. The private half
// never leaves the process except to be written, owner-only, to disk.
type Keypair struct {
	PrivateKey [KeySize]byte
	PublicKey  [KeySize]byte
}

// NewKeypair generates a new X25519 keypair.
func NewKeypair() (*Keypair, error) {
	priv, pub, err := crypto.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	return &Keypair{PrivateKey: priv, PublicKey: pub}, nil
}

// IsZeroKey reports whether k is the all-zero key.
func IsZeroKey(k [KeySize]byte) bool {
	var zero [KeySize]byte
	return k == zero
}

// KeyToString returns the lowercase hex representation of k.
func KeyToString(k [KeySize]byte) string {
	return hex.EncodeToString(k[:])
}

// ParseKey parses a hex-encoded X25519 key, tolerating a leading "0x"/"0X"
// and surrounding whitespace.
func ParseKey(s string) ([KeySize]byte, error) {
	var key [KeySize]byte

	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")

	if len(s) != KeySize*2 {
		return key, fmt.Errorf("%w: got %d hex chars, expected %d", ErrInvalidKeyLength, len(s), KeySize*2)
	}

	decoded, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("%w: %v", ErrInvalidKeyHex, err)
	}
	copy(key[:], decoded)
	return key, nil
}

// PublicKeyString returns the full hex representation of the public key.
func (k *Keypair) PublicKeyString() string {
	return KeyToString(k.PublicKey)
}

// PublicKeyShortString returns the first 16 hex characters (8 bytes) of the
// public key, for compact display.
func (k *Keypair) PublicKeyShortString() string {
	return KeyToString(k.PublicKey)[:16]
}

// Zero clears the private key from memory. The public key is left intact;
// it is not secret.
func (k *Keypair) Zero() {
	crypto.ZeroKey(&k.PrivateKey)
}

// Store persists the keypair to dataDir as keys/local.key (owner read/write
// only) and keys/local.pub (world-readable), writing each atomically via a
// temp file and rename.
func (k *Keypair) Store(dataDir string) error {
	if IsZeroKey(k.PrivateKey) {
		return errors.New("cannot store zero private key")
	}

	if err := os.MkdirAll(filepath.Join(dataDir, keyDirName), 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	if err := writeFileAtomic(filepath.Join(dataDir, keyFileName), KeyToString(k.PrivateKey), 0600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dataDir, pubKeyFileName), KeyToString(k.PublicKey), 0644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	return nil
}

func writeFileAtomic(path, contents string, perm os.FileMode) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, []byte(contents+"\n"), perm); err != nil {
		return err
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return err
	}
	return nil
}

// LoadKeypair reads a keypair from dataDir, rejecting it if the stored
// public key does not match the one derived from the stored private key.
func LoadKeypair(dataDir string) (*Keypair, error) {
	privData, err := os.ReadFile(filepath.Join(dataDir, keyFileName))
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	privKey, err := ParseKey(strings.TrimSpace(string(privData)))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	pubData, err := os.ReadFile(filepath.Join(dataDir, pubKeyFileName))
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	storedPub, err := ParseKey(strings.TrimSpace(string(pubData)))
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	var derivedPub [KeySize]byte
	curve25519.ScalarBaseMult(&derivedPub, &privKey)
	if derivedPub != storedPub {
		return nil, ErrKeyMismatch
	}

	return &Keypair{PrivateKey: privKey, PublicKey: storedPub}, nil
}

// LoadOrCreateKeypair loads an existing keypair from dataDir, or generates
// and persists a new one if none exists.
func LoadOrCreateKeypair(dataDir string) (*Keypair, bool, error) {
	if KeypairExists(dataDir) {
		kp, err := LoadKeypair(dataDir)
		return kp, false, err
	}

	kp, err := NewKeypair()
	if err != nil {
		return nil, false, err
	}
	if err := kp.Store(dataDir); err != nil {
		return nil, false, err
	}
	return kp, true, nil
}

// KeypairExists reports whether a private key file already exists in
// dataDir.
func KeypairExists(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, keyFileName))
	return err == nil
}
