package lantern

import (
	"bytes"
	"testing"
)

func TestCredentialSealer_RoundTrip(t *testing.T) {
	sealer, err := NewCredentialSealer("workspace-secret")
	if err != nil {
		t.Fatalf("NewCredentialSealer: %v", err)
	}

	plaintext := []byte("db-password")
	sealed, err := sealer.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Error("sealed form contains the plaintext")
	}

	opened, err := sealer.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("opened = %q, want %q", opened, plaintext)
	}
}

func TestCredentialSealer_UniqueSealing(t *testing.T) {
	sealer, err := NewCredentialSealer("workspace-secret")
	if err != nil {
		t.Fatalf("NewCredentialSealer: %v", err)
	}
	a, err := sealer.Seal([]byte("same"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	b, err := sealer.Seal([]byte("same"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("two seals of the same plaintext are identical")
	}
}

func TestCredentialSealer_WrongSecret(t *testing.T) {
	sealer, _ := NewCredentialSealer("secret-a")
	other, _ := NewCredentialSealer("secret-b")

	sealed, err := sealer.Seal([]byte("password"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := other.Open(sealed); err == nil {
		t.Error("opened with the wrong secret")
	}
}

func TestCredentialSealer_Tampered(t *testing.T) {
	sealer, _ := NewCredentialSealer("secret")
	sealed, err := sealer.Seal([]byte("password"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xff
	if _, err := sealer.Open(sealed); err == nil {
		t.Error("opened tampered ciphertext")
	}
}

func TestCredentialSealer_TooShort(t *testing.T) {
	sealer, _ := NewCredentialSealer("secret")
	if _, err := sealer.Open([]byte("short")); err == nil {
		t.Error("opened truncated input")
	}
}

func TestNewCredentialSealer_EmptySecret(t *testing.T) {
	if _, err := NewCredentialSealer(""); err == nil {
		t.Error("empty secret accepted")
	}
}
