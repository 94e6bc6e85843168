package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("the-api-secret", "hunter2")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	got, err := DecryptSecret(blob, "hunter2")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != "the-api-secret" {
		t.Errorf("round trip = %q, want the-api-secret", got)
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptSecret("secret", "right")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := DecryptSecret(blob, "wrong"); err == nil {
		t.Error("decryption with the wrong password should fail")
	}
}

func TestEncryptRejectsEmptyInputs(t *testing.T) {
	if _, err := EncryptSecret("", "pw"); err == nil {
		t.Error("empty secret should be rejected")
	}
	if _, err := EncryptSecret("s", ""); err == nil {
		t.Error("empty password should be rejected")
	}
}

func TestEncryptedBlobDoesNotLeakPlaintext(t *testing.T) {
	blob, err := EncryptSecret("super-secret-material", "pw")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if strings.Contains(string(blob), "super-secret-material") {
		t.Error("ciphertext blob contains the plaintext secret")
	}
}

func TestLoadSecretPrefersRaw(t *testing.T) {
	got, err := LoadSecret(SecretConfig{RawSecret: "raw", EncryptedPath: "/nonexistent"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != "raw" {
		t.Errorf("got %q, want raw", got)
	}
}

func TestLoadSecretFromEncryptedFile(t *testing.T) {
	blob, err := EncryptSecret("file-secret", "pw")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	path := filepath.Join(t.TempDir(), "secret.enc.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := LoadSecret(SecretConfig{EncryptedPath: path, Password: "pw"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != "file-secret" {
		t.Errorf("got %q, want file-secret", got)
	}
}

func TestLoadSecretNoSource(t *testing.T) {
	if _, err := LoadSecret(SecretConfig{}); err == nil {
		t.Error("no source configured should error")
	}
}
