package crypto

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt failed: %v", err)
	}
	key := DeriveKey("connector-master-secret", salt)
	if len(key) != 32 {
		t.Fatalf("derived key length = %d, want 32", len(key))
	}

	plaintext := []byte(`{"token":"rw-access-token-123"}`)
	encrypted, nonce, err := EncryptSecret(plaintext, key)
	if err != nil {
		t.Fatalf("EncryptSecret failed: %v", err)
	}
	if bytes.Contains(encrypted, plaintext) {
		t.Error("ciphertext contains the plaintext")
	}

	decrypted, err := DecryptSecret(encrypted, nonce, key)
	if err != nil {
		t.Fatalf("DecryptSecret failed: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("round trip mismatch: got %q", decrypted)
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	salt, _ := GenerateSalt()
	key := DeriveKey("right secret", salt)
	wrongKey := DeriveKey("wrong secret", salt)

	encrypted, nonce, err := EncryptSecret([]byte("credentials"), key)
	if err != nil {
		t.Fatalf("EncryptSecret failed: %v", err)
	}
	if _, err := DecryptSecret(encrypted, nonce, wrongKey); err == nil {
		t.Error("decryption with the wrong key should fail")
	}
}

func TestDeriveKeyDeterministicPerSalt(t *testing.T) {
	salt1, _ := GenerateSalt()
	salt2, _ := GenerateSalt()

	a := DeriveKey("secret", salt1)
	b := DeriveKey("secret", salt1)
	c := DeriveKey("secret", salt2)

	if !bytes.Equal(a, b) {
		t.Error("same secret and salt must derive the same key")
	}
	if bytes.Equal(a, c) {
		t.Error("different salts must derive different keys")
	}
}

func TestEncryptRejectsBadKeyLength(t *testing.T) {
	if _, _, err := EncryptSecret([]byte("data"), []byte("short")); err != ErrInvalidKeyLength {
		t.Errorf("expected ErrInvalidKeyLength, got %v", err)
	}
}
