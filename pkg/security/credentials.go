package security

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/angelmondragon/channelcore-backend/pkg/config"
)

// ErrCiphertextTooShort signals a sealed blob missing its nonce.
var ErrCiphertextTooShort = errors.New("sealed credentials too short")

const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 2
)

// CredentialSealer encrypts channel credentials at rest with XChaCha20-Poly1305.
// The key is derived once from the configured secret with Argon2id.
type CredentialSealer struct {
	key []byte
}

// NewCredentialSealer derives the sealing key from configuration.
func NewCredentialSealer(cfg config.SecurityConfig) (*CredentialSealer, error) {
	if cfg.CredentialsKey == "" {
		return nil, fmt.Errorf("credentials key is required")
	}
	salt := cfg.CredentialsSalt
	if salt == "" {
		salt = "channelcore-credentials"
	}
	key := argon2.IDKey([]byte(cfg.CredentialsKey), []byte(salt), kdfTime, kdfMemory, kdfThreads, chacha20poly1305.KeySize)
	return &CredentialSealer{key: key}, nil
}

// Seal encrypts plaintext; the random nonce is prepended to the ciphertext.
// additional binds the blob to its owner (e.g. the channel id).
func (s *CredentialSealer) Seal(plaintext, additional []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, additional), nil
}

// Open decrypts a blob produced by Seal.
func (s *CredentialSealer) Open(sealed, additional []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, ErrCiphertextTooShort
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, additional)
	if err != nil {
		return nil, fmt.Errorf("open credentials: %w", err)
	}
	return plain, nil
}

// SealJSON marshals v and seals it.
func (s *CredentialSealer) SealJSON(v any, additional []byte) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return s.Seal(raw, additional)
}

// OpenJSON opens sealed and unmarshals it into v.
func (s *CredentialSealer) OpenJSON(sealed, additional []byte, v any) error {
	raw, err := s.Open(sealed, additional)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
