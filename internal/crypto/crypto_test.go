package crypto

import (
	"testing"
)

func TestGenerateKeypair(t *testing.T) {
	priv1, pub1, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}

	var zeroKey [KeySize]byte
	if priv1 == zeroKey {
		t.Error("private key is zero")
	}
	if pub1 == zeroKey {
		t.Error("public key is zero")
	}

	priv2, pub2, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() second call error = %v", err)
	}
	if priv1 == priv2 {
		t.Error("two generated private keys are identical")
	}
	if pub1 == pub2 {
		t.Error("two generated public keys are identical")
	}
}

func TestComputeECDH(t *testing.T) {
	privA, pubA, _ := GenerateKeypair()
	privB, pubB, _ := GenerateKeypair()

	secretA, err := ComputeECDH(privA, pubB)
	if err != nil {
		t.Fatalf("ComputeECDH(A, pubB) error = %v", err)
	}
	secretB, err := ComputeECDH(privB, pubA)
	if err != nil {
		t.Fatalf("ComputeECDH(B, pubA) error = %v", err)
	}
	if secretA != secretB {
		t.Error("shared secrets do not match")
	}

	var zeroKey [KeySize]byte
	if secretA == zeroKey {
		t.Error("shared secret is zero")
	}
}

func TestComputeECDH_ZeroKey(t *testing.T) {
	priv, _, _ := GenerateKeypair()
	var zeroKey [KeySize]byte
	if _, err := ComputeECDH(priv, zeroKey); err == nil {
		t.Error("ComputeECDH with zero public key should fail")
	}
}

func TestGroupSecret_NoPeers(t *testing.T) {
	priv, _, _ := GenerateKeypair()

	secret, err := GroupSecret(priv, nil)
	if err != nil {
		t.Fatalf("GroupSecret with no peers: %v", err)
	}
	var zeroKey [KeySize]byte
	if secret == zeroKey {
		t.Error("degenerate group secret is zero")
	}

	// Deterministic: same private key, no peers, same secret every time.
	secret2, _ := GroupSecret(priv, nil)
	if secret != secret2 {
		t.Error("degenerate group secret is not deterministic")
	}
}

func TestGroupSecret_XORCommutative(t *testing.T) {
	priv, _, _ := GenerateKeypair()
	_, pubB, _ := GenerateKeypair()
	_, pubC, _ := GenerateKeypair()

	forward, err := GroupSecret(priv, [][KeySize]byte{pubB, pubC})
	if err != nil {
		t.Fatalf("GroupSecret forward order: %v", err)
	}
	reverse, err := GroupSecret(priv, [][KeySize]byte{pubC, pubB})
	if err != nil {
		t.Fatalf("GroupSecret reverse order: %v", err)
	}
	if forward != reverse {
		t.Error("group secret must not depend on peer iteration order")
	}
}

func TestGroupSecret_ChangesWithPeerSet(t *testing.T) {
	priv, _, _ := GenerateKeypair()
	_, pubB, _ := GenerateKeypair()
	_, pubC, _ := GenerateKeypair()

	withB, _ := GroupSecret(priv, [][KeySize]byte{pubB})
	withBC, _ := GroupSecret(priv, [][KeySize]byte{pubB, pubC})
	if withB == withBC {
		t.Error("adding a peer should change the group secret")
	}
}

func TestSelectCipher(t *testing.T) {
	c := SelectCipher()
	if c != CipherAESGCM && c != CipherXChaCha20Poly1305 {
		t.Fatalf("SelectCipher() returned unrecognized cipher %v", c)
	}
	if c.NonceSize() == 0 {
		t.Fatalf("selected cipher %v has no defined nonce size", c)
	}
}

func TestDeriveNonce_Deterministic(t *testing.T) {
	for _, c := range []Cipher{CipherAESGCM, CipherXChaCha20Poly1305} {
		n1, err := DeriveNonce("device-a", 5, c)
		if err != nil {
			t.Fatalf("DeriveNonce: %v", err)
		}
		n2, err := DeriveNonce("device-a", 5, c)
		if err != nil {
			t.Fatalf("DeriveNonce: %v", err)
		}
		if string(n1) != string(n2) {
			t.Errorf("%v: nonce not deterministic for same (device, counter)", c)
		}
		if len(n1) != c.NonceSize() {
			t.Errorf("%v: nonce length = %d, want %d", c, len(n1), c.NonceSize())
		}
	}
}

// TestDeriveNonce_Uniqueness is property P3: for a fixed author, the nonce
// is a bijection with the counter across a run of distinct counters.
func TestDeriveNonce_Uniqueness(t *testing.T) {
	for _, c := range []Cipher{CipherAESGCM, CipherXChaCha20Poly1305} {
		seen := make(map[string]bool)
		for counter := uint64(0); counter < 500; counter++ {
			nonce, err := DeriveNonce("device-a", counter, c)
			if err != nil {
				t.Fatalf("DeriveNonce: %v", err)
			}
			key := string(nonce)
			if seen[key] {
				t.Fatalf("%v: nonce collision at counter %d", c, counter)
			}
			seen[key] = true
		}
	}
}

func TestDeriveNonce_DifferentDevicesDifferentNonces(t *testing.T) {
	nA, _ := DeriveNonce("device-a", 1, CipherAESGCM)
	nB, _ := DeriveNonce("device-b", 1, CipherAESGCM)
	if string(nA) == string(nB) {
		t.Error("different devices at the same counter should derive different nonces")
	}
}

func TestDeriveNonce_UnknownCipher(t *testing.T) {
	if _, err := DeriveNonce("device-a", 1, Cipher(0xFF)); err == nil {
		t.Fatal("expected error for unknown cipher")
	}
}

func TestZeroBytes(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	ZeroBytes(data)
	for i, b := range data {
		if b != 0 {
			t.Errorf("byte %d = %d, want 0", i, b)
		}
	}
}

func TestZeroKey(t *testing.T) {
	key := [KeySize]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16,
		17, 18, 19, 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32}
	ZeroKey(&key)

	var zeroKey [KeySize]byte
	if key != zeroKey {
		t.Error("key was not zeroed")
	}
}

func BenchmarkDeriveNonce(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_, _ = DeriveNonce("device-a", uint64(i), CipherAESGCM)
	}
}
