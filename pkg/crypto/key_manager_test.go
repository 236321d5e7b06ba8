package crypto

import (
	"encoding/base64"
	"os"
	"testing"
)

func setKeyEnv(t *testing.T, envName string) {
	t.Helper()
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i + len(envName))
	}
	if err := os.Setenv(envName, base64.StdEncoding.EncodeToString(key)); err != nil {
		t.Fatalf("setenv %s: %v", envName, err)
	}
	t.Cleanup(func() { os.Unsetenv(envName) })
}

func TestKeyManagerLoadsAdditionalVersions(t *testing.T) {
	setKeyEnv(t, "MASTER_ENCRYPTION_KEY")
	setKeyEnv(t, "MASTER_ENCRYPTION_KEY_V2")

	km, err := NewKeyManager()
	if err != nil {
		t.Fatalf("NewKeyManager failed: %v", err)
	}
	if km.CurrentVersion() != 2 {
		t.Fatalf("expected current version 2, got %d", km.CurrentVersion())
	}
	if !km.HasVersion(1) || !km.HasVersion(2) {
		t.Fatalf("expected versions 1 and 2 both loaded")
	}
	if got := km.ActiveVersions(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("ActiveVersions() = %v, want [1 2]", got)
	}
}

func TestKeyManagerNeedsRotationAfterVersionBump(t *testing.T) {
	setKeyEnv(t, "MASTER_ENCRYPTION_KEY")

	km, err := NewKeyManager()
	if err != nil {
		t.Fatalf("NewKeyManager failed: %v", err)
	}
	ciphertext, err := km.Encrypt("provider-secret")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if km.NeedsRotation(ciphertext) {
		t.Fatal("freshly encrypted ciphertext should not need rotation")
	}

	setKeyEnv(t, "MASTER_ENCRYPTION_KEY_V2")
	km2, err := NewKeyManager()
	if err != nil {
		t.Fatalf("NewKeyManager failed: %v", err)
	}
	if !km2.NeedsRotation(ciphertext) {
		t.Fatal("ciphertext sealed under v1 should need rotation once v2 is current")
	}

	rotated, err := km2.ReEncrypt(ciphertext)
	if err != nil {
		t.Fatalf("ReEncrypt failed: %v", err)
	}
	if km2.NeedsRotation(rotated) {
		t.Fatal("re-encrypted ciphertext should no longer need rotation")
	}
	plaintext, err := km2.Decrypt(rotated)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if plaintext != "provider-secret" {
		t.Fatalf("plaintext = %q, want provider-secret", plaintext)
	}
}

func TestKeyManagerNeedsRotationOnUnparseableCiphertext(t *testing.T) {
	setKeyEnv(t, "MASTER_ENCRYPTION_KEY")

	km, err := NewKeyManager()
	if err != nil {
		t.Fatalf("NewKeyManager failed: %v", err)
	}
	if !km.NeedsRotation("not-encrypted") {
		t.Fatal("unparseable ciphertext should be reported as needing rotation")
	}
}
