package lantern

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// sealNonceSize is the nonce size for AES-GCM
	sealNonceSize = 12
	// sealSaltSize is the salt size for key derivation
	sealSaltSize = 32
	// sealKeySize is the AES-256 key size
	sealKeySize = 32
	// sealPBKDF2Iterations is the number of iterations for key derivation
	sealPBKDF2Iterations = 100000
)

// CredentialSealer encrypts connection passwords before they are persisted
// in the workspace store. The sealed form is salt || nonce || ciphertext,
// so every record carries its own key derivation salt.
type CredentialSealer struct {
	secret []byte
}

// NewCredentialSealer creates a sealer from the workspace secret.
func NewCredentialSealer(secret string) (*CredentialSealer, error) {
	if secret == "" {
		return nil, errors.New("workspace secret is required")
	}
	return &CredentialSealer{secret: []byte(secret)}, nil
}

func (cs *CredentialSealer) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(cs.secret, salt, sealPBKDF2Iterations, sealKeySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts a plaintext credential.
func (cs *CredentialSealer) Seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, sealSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	gcm, err := cs.aead(salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, sealNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, sealSaltSize+sealNonceSize+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// Open decrypts a sealed credential.
func (cs *CredentialSealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < sealSaltSize+sealNonceSize {
		return nil, errors.New("sealed credential too short")
	}
	salt := sealed[:sealSaltSize]
	nonce := sealed[sealSaltSize : sealSaltSize+sealNonceSize]
	ciphertext := sealed[sealSaltSize+sealNonceSize:]

	gcm, err := cs.aead(salt)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}
