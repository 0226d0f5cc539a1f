package identity

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewDeviceID(t *testing.T) {
	id1, err := NewDeviceID()
	if err != nil {
		t.Fatalf("NewDeviceID() error = %v", err)
	}
	if id1.IsZero() {
		t.Error("NewDeviceID() returned zero ID")
	}

	id2, err := NewDeviceID()
	if err != nil {
		t.Fatalf("NewDeviceID() error = %v", err)
	}
	if id1.Equal(id2) {
		t.Error("NewDeviceID() returned duplicate IDs")
	}
}

func TestDeviceID_String(t *testing.T) {
	id, err := NewDeviceID()
	if err != nil {
		t.Fatalf("NewDeviceID() error = %v", err)
	}

	s := id.String()
	if len(s) != 32 { // 16 bytes * 2 hex chars
		t.Errorf("String() length = %d, want 32", len(s))
	}
}

func TestDeviceID_ShortString(t *testing.T) {
	id, err := NewDeviceID()
	if err != nil {
		t.Fatalf("NewDeviceID() error = %v", err)
	}

	s := id.ShortString()
	if len(s) != 8 { // 4 bytes * 2 hex chars
		t.Errorf("ShortString() length = %d, want 8", len(s))
	}

	full := id.String()
	if s != full[:8] {
		t.Errorf("ShortString() = %s, want prefix of %s", s, full)
	}
}

func TestParseDeviceID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid hex string", "a3f8c2d1e5b94a7c8d2e1f0a3b5c7d9e", false},
		{"valid with 0x prefix", "0xa3f8c2d1e5b94a7c8d2e1f0a3b5c7d9e", false},
		{"valid with whitespace", "  a3f8c2d1e5b94a7c8d2e1f0a3b5c7d9e  ", false},
		{"too short", "a3f8c2d1e5b94a7c", true},
		{"too long", "a3f8c2d1e5b94a7c8d2e1f0a3b5c7d9e00", true},
		{"invalid hex chars", "g3f8c2d1e5b94a7c8d2e1f0a3b5c7d9e", true},
		{"empty string", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseDeviceID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDeviceID() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && id.IsZero() {
				t.Error("ParseDeviceID() returned zero ID for valid input")
			}
		})
	}
}

func TestDeviceIDFromBytes(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		wantErr bool
	}{
		{"valid 16 bytes", make([]byte, 16), false},
		{"too short", make([]byte, 15), true},
		{"too long", make([]byte, 17), true},
		{"empty", []byte{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeviceIDFromBytes(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("DeviceIDFromBytes() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDeviceID_Bytes(t *testing.T) {
	id, err := NewDeviceID()
	if err != nil {
		t.Fatalf("NewDeviceID() error = %v", err)
	}

	b := id.Bytes()
	if len(b) != DeviceIDSize {
		t.Errorf("Bytes() length = %d, want %d", len(b), DeviceIDSize)
	}

	id2, err := DeviceIDFromBytes(b)
	if err != nil {
		t.Fatalf("DeviceIDFromBytes() error = %v", err)
	}
	if !id.Equal(id2) {
		t.Error("round trip through Bytes() failed")
	}
}

func TestDeviceID_IsZero(t *testing.T) {
	var zero DeviceID
	if !zero.IsZero() {
		t.Error("IsZero() = false for zero ID")
	}

	id, err := NewDeviceID()
	if err != nil {
		t.Fatalf("NewDeviceID() error = %v", err)
	}
	if id.IsZero() {
		t.Error("IsZero() = true for non-zero ID")
	}
}

func TestDeviceID_Equal(t *testing.T) {
	id1, _ := ParseDeviceID("a3f8c2d1e5b94a7c8d2e1f0a3b5c7d9e")
	id2, _ := ParseDeviceID("a3f8c2d1e5b94a7c8d2e1f0a3b5c7d9e")
	id3, _ := ParseDeviceID("b3f8c2d1e5b94a7c8d2e1f0a3b5c7d9e")

	if !id1.Equal(id2) {
		t.Error("Equal() = false for identical IDs")
	}
	if id1.Equal(id3) {
		t.Error("Equal() = true for different IDs")
	}
}

func TestDeviceID_MarshalUnmarshalText(t *testing.T) {
	original, err := NewDeviceID()
	if err != nil {
		t.Fatalf("NewDeviceID() error = %v", err)
	}

	text, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText() error = %v", err)
	}

	var restored DeviceID
	if err := restored.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}

	if !original.Equal(restored) {
		t.Errorf("round trip failed: original=%s, restored=%s", original, restored)
	}
}

func TestDeviceID_StoreAndLoad(t *testing.T) {
	tmpDir := t.TempDir()

	original, err := NewDeviceID()
	if err != nil {
		t.Fatalf("NewDeviceID() error = %v", err)
	}

	if err := original.Store(tmpDir); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	filePath := filepath.Join(tmpDir, deviceIDFileName)
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		t.Error("Store() did not create file")
	}

	loaded, err := LoadDeviceID(tmpDir)
	if err != nil {
		t.Fatalf("LoadDeviceID() error = %v", err)
	}

	if !original.Equal(loaded) {
		t.Errorf("LoadDeviceID() = %s, want %s", loaded, original)
	}
}

func TestDeviceID_Store_ZeroID(t *testing.T) {
	tmpDir := t.TempDir()

	var zero DeviceID
	if err := zero.Store(tmpDir); err == nil {
		t.Error("Store() should fail for zero ID")
	}
}

func TestLoadDeviceID_NotFound(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := LoadDeviceID(tmpDir); err == nil {
		t.Error("LoadDeviceID() should fail when file doesn't exist")
	}
}

func TestLoadOrCreateDeviceID(t *testing.T) {
	tmpDir := t.TempDir()

	id1, created1, err := LoadOrCreateDeviceID(tmpDir)
	if err != nil {
		t.Fatalf("LoadOrCreateDeviceID() error = %v", err)
	}
	if !created1 {
		t.Error("LoadOrCreateDeviceID() created = false on first call")
	}
	if id1.IsZero() {
		t.Error("LoadOrCreateDeviceID() returned zero ID")
	}

	id2, created2, err := LoadOrCreateDeviceID(tmpDir)
	if err != nil {
		t.Fatalf("LoadOrCreateDeviceID() error = %v", err)
	}
	if created2 {
		t.Error("LoadOrCreateDeviceID() created = true on second call")
	}
	if !id1.Equal(id2) {
		t.Errorf("LoadOrCreateDeviceID() returned different ID: %s vs %s", id1, id2)
	}
}

func TestDeviceIDExists(t *testing.T) {
	tmpDir := t.TempDir()

	if DeviceIDExists(tmpDir) {
		t.Error("DeviceIDExists() = true before creating ID")
	}

	id, err := NewDeviceID()
	if err != nil {
		t.Fatalf("NewDeviceID() error = %v", err)
	}
	if err := id.Store(tmpDir); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	if !DeviceIDExists(tmpDir) {
		t.Error("DeviceIDExists() = false after creating ID")
	}
}

func TestParseDeviceID_RoundTrip(t *testing.T) {
	original, err := NewDeviceID()
	if err != nil {
		t.Fatalf("NewDeviceID() error = %v", err)
	}

	s1 := original.String()
	parsed, err := ParseDeviceID(s1)
	if err != nil {
		t.Fatalf("ParseDeviceID() error = %v", err)
	}
	s2 := parsed.String()

	if s1 != s2 {
		t.Errorf("round trip failed: %s != %s", s1, s2)
	}
}
