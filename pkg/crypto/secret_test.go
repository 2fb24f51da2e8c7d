package crypto

import (
	"strings"
	"testing"
)

func testKey() []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestEncryptDecrypt(t *testing.T) {
	enc, err := NewEncryptor(testKey())
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}

	tests := []struct {
		name      string
		plaintext string
	}{
		{"empty", ""},
		{"api_secret", "abc123XYZ789"},
		{"long", "this is a long string standing in for a futures API secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := enc.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}
			if !IsEncrypted(sealed) {
				t.Fatalf("sealed value missing prefix: %s", sealed)
			}
			got, err := enc.Decrypt(sealed)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if got != tt.plaintext {
				t.Errorf("decrypted = %q, want %q", got, tt.plaintext)
			}
		})
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	enc, _ := NewEncryptor(testKey())
	c1, _ := enc.Encrypt("same-secret")
	c2, _ := enc.Encrypt("same-secret")
	if c1 == c2 {
		t.Error("expected different sealed values for same plaintext")
	}
}

func TestNewEncryptorFromHex(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if _, err := NewEncryptorFromHex(key); err != nil {
		t.Fatalf("NewEncryptorFromHex(%q): %v", key, err)
	}
	if _, err := NewEncryptorFromHex("zz"); err != ErrInvalidKey {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := NewEncryptorFromHex(strings.Repeat("ab", 8)); err != ErrInvalidKey {
		t.Errorf("expected ErrInvalidKey for short key, got %v", err)
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	enc, _ := NewEncryptor(testKey())
	for _, bad := range []string{"", "plain", "ENC[v1]:", "ENC[v1]:!!!"} {
		if _, err := enc.Decrypt(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}

	other := testKey()
	other[0] = 0xff
	enc2, _ := NewEncryptor(other)
	sealed, _ := enc.Encrypt("secret")
	if _, err := enc2.Decrypt(sealed); err != ErrOpenFailed {
		t.Errorf("expected ErrOpenFailed with wrong key, got %v", err)
	}
}
