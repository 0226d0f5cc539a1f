package pairing

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailmesh/browsersync/internal/identity"
)

// Keystore persists paired peers' public keys under dataDir/keys, one file
// per peer named by its device id, mirroring how internal/identity lays out
// this device's own keypair under dataDir/keys.
type Keystore struct {
	dir string
}

// NewKeystore returns a Keystore rooted at dataDir/keys. The directory is
// created on first save, not at construction.
func NewKeystore(dataDir string) *Keystore {
	return &Keystore{dir: filepath.Join(dataDir, "keys")}
}

func (k *Keystore) path(device identity.DeviceID) string {
	return filepath.Join(k.dir, device.String()+".pub")
}

// SavePeerKey writes device's public key atomically, overwriting any prior
// key on file for the same device (re-pairing replaces, it does not merge).
func (k *Keystore) SavePeerKey(device identity.DeviceID, pubKeyHex string) error {
	if err := os.MkdirAll(k.dir, 0700); err != nil {
		return fmt.Errorf("create peer key directory: %w", err)
	}

	path := k.path(device)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(pubKeyHex+"\n"), 0644); err != nil {
		return fmt.Errorf("write peer key: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("persist peer key: %w", err)
	}
	return nil
}

// LoadPeerKey reads one peer's persisted public key.
func (k *Keystore) LoadPeerKey(device identity.DeviceID) ([identity.KeySize]byte, error) {
	data, err := os.ReadFile(k.path(device))
	if err != nil {
		return [identity.KeySize]byte{}, fmt.Errorf("read peer key: %w", err)
	}
	return identity.ParseKey(strings.TrimSpace(string(data)))
}

// LoadAll reads every persisted peer key, keyed by device id. Malformed
// entries are skipped rather than failing the whole load, since one
// corrupted file should not block startup syncing with every other peer.
func (k *Keystore) LoadAll() (map[identity.DeviceID][identity.KeySize]byte, error) {
	out := make(map[identity.DeviceID][identity.KeySize]byte)

	entries, err := os.ReadDir(k.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("read peer key directory: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".pub") {
			continue
		}
		idStr := strings.TrimSuffix(name, ".pub")
		device, err := identity.ParseDeviceID(idStr)
		if err != nil {
			continue
		}
		key, err := k.LoadPeerKey(device)
		if err != nil {
			continue
		}
		out[device] = key
	}
	return out, nil
}

// RemovePeerKey deletes a peer's persisted public key, if present.
func (k *Keystore) RemovePeerKey(device identity.DeviceID) error {
	err := os.Remove(k.path(device))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove peer key: %w", err)
	}
	return nil
}
