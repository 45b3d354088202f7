package credentials

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Sealed encrypts values with XChaCha20-Poly1305 before they reach the
// wrapped backend. The key is bound to the entry name as associated data, so
// a ciphertext copied under another key fails to open.
type Sealed struct {
	inner Backend
	key   [chacha20poly1305.KeySize]byte
}

// ErrSealCorrupt is returned when a stored value fails authentication.
var ErrSealCorrupt = errors.New("credentials: sealed value failed authentication")

// NewSealed derives a 256-bit key from secret.
func NewSealed(inner Backend, secret string) (*Sealed, error) {
	if secret == "" {
		return nil, fmt.Errorf("seal key cannot be empty")
	}
	return &Sealed{inner: inner, key: sha256.Sum256([]byte(secret))}, nil
}

func (s *Sealed) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(s.key[:])
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, ErrSealCorrupt
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return nil, ErrSealCorrupt
	}
	return plain, nil
}

func (s *Sealed) Set(ctx context.Context, key string, value []byte) error {
	aead, err := chacha20poly1305.NewX(s.key[:])
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(value)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	return s.inner.Set(ctx, key, aead.Seal(nonce, nonce, value, []byte(key)))
}

func (s *Sealed) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}
