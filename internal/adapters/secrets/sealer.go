package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"hotel_channel/internal/domain"
)

var ErrBadKey = errors.New("secrets: key must be 32 bytes (base64)")

// Sealer encrypts connection credentials at rest with AES-256-GCM.
// Sealed layout: nonce || ciphertext+tag.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer takes a base64 encoded 32 byte key.
func NewSealer(b64Key string) (*Sealer, error) {
	key, err := base64.StdEncoding.DecodeString(b64Key)
	if err != nil || len(key) != 32 {
		return nil, ErrBadKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

func (s *Sealer) Seal(c domain.Credentials) ([]byte, error) {
	plain, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plain, nil), nil
}

func (s *Sealer) Open(sealed []byte) (domain.Credentials, error) {
	var c domain.Credentials
	ns := s.aead.NonceSize()
	if len(sealed) < ns+s.aead.Overhead() {
		return c, fmt.Errorf("secrets: sealed value too short")
	}
	plain, err := s.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return c, fmt.Errorf("secrets: open: %w", err)
	}
	if err := json.Unmarshal(plain, &c); err != nil {
		return c, fmt.Errorf("secrets: decode: %w", err)
	}
	return c, nil
}

// SealedSource returns the stored ciphertext for a connection.
type SealedSource interface {
	SealedCredentials(ctx context.Context, connectionID int64) ([]byte, error)
}

// Store implements domain.CredentialStore on top of a sealed source.
type Store struct {
	src    SealedSource
	sealer *Sealer
}

func NewStore(src SealedSource, sealer *Sealer) *Store {
	return &Store{src: src, sealer: sealer}
}

func (s *Store) Get(ctx context.Context, connectionID int64) (domain.Credentials, error) {
	b, err := s.src.SealedCredentials(ctx, connectionID)
	if err != nil {
		return domain.Credentials{}, err
	}
	return s.sealer.Open(b)
}
