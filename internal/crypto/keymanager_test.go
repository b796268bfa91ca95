package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testPrivateKeyHex = "abababababababababababababababababababababababababababababababab"

func TestEncryptDecryptKey_RoundTrip(t *testing.T) {
	blob, err := EncryptKey(testPrivateKeyHex, "correct horse battery staple")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}

	got, err := DecryptKey(blob, "correct horse battery staple")
	if err != nil {
		t.Fatalf("DecryptKey: %v", err)
	}
	if got != testPrivateKeyHex {
		t.Fatalf("round trip mismatch: got %q want %q", got, testPrivateKeyHex)
	}
}

func TestDecryptKey_WrongPassword(t *testing.T) {
	blob, err := EncryptKey(testPrivateKeyHex, "right-password")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	if _, err := DecryptKey(blob, "wrong-password"); err == nil {
		t.Fatal("expected decryption with wrong password to fail")
	}
}

func TestEncryptKey_RejectsBadKeyLength(t *testing.T) {
	if _, err := EncryptKey("abcd", "pw"); err == nil {
		t.Fatal("expected short key to be rejected")
	}
}

func TestEncryptKey_RejectsEmptyPassword(t *testing.T) {
	if _, err := EncryptKey(testPrivateKeyHex, ""); err == nil {
		t.Fatal("expected empty password to be rejected")
	}
}

func TestLoadKey_PrefersRawOverEncrypted(t *testing.T) {
	got, err := LoadKey(KeyConfig{
		RawPrivateKey:    "0x" + testPrivateKeyHex,
		EncryptedKeyPath: "/nonexistent/should/not/be/read.json",
	})
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if got != testPrivateKeyHex {
		t.Fatalf("got %q want %q", got, testPrivateKeyHex)
	}
}

func TestLoadKey_FromEncryptedFile(t *testing.T) {
	blob, err := EncryptKey(testPrivateKeyHex, "swordfish")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}

	path := filepath.Join(t.TempDir(), "oracle-key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("writing key file: %v", err)
	}

	got, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "swordfish"})
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if got != testPrivateKeyHex {
		t.Fatalf("got %q want %q", got, testPrivateKeyHex)
	}
}

func TestLoadKey_NoSourceConfigured(t *testing.T) {
	if _, err := LoadKey(KeyConfig{}); err == nil {
		t.Fatal("expected error when no key source is configured")
	}
}

func TestLoadKey_RejectsInvalidHex(t *testing.T) {
	if _, err := LoadKey(KeyConfig{RawPrivateKey: "not-hex"}); err == nil {
		t.Fatal("expected invalid hex raw key to be rejected")
	}
}

func TestDecryptKey_RejectsUnsupportedVersion(t *testing.T) {
	blob, err := EncryptKey(testPrivateKeyHex, "pw")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	tampered := strings.Replace(string(blob), `"version": 1`, `"version": 99`, 1)
	if _, err := DecryptKey([]byte(tampered), "pw"); err == nil {
		t.Fatal("expected unsupported version to be rejected")
	}
}
