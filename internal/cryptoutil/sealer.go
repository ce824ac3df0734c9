// Package cryptoutil seals session records at rest.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Sealer encrypts and authenticates a payload bound to a context string
// such as the record id. Open fails if the payload was sealed under a different context.
type Sealer interface {
	Seal(plaintext []byte, boundTo string) (string, error)
	Open(sealed string, boundTo string) ([]byte, error)
}

const (
	// Versioned prefixes allow key or algorithm rotation without rewriting stored records.
	aesPrefixV1   = "v1:"
	plainPrefixV1 = "plain:"
)

// ErrUnsealable is returned when a stored payload cannot be opened.
var ErrUnsealable = errors.New("sealed payload cannot be opened")

// AESGCM seals with AES-256-GCM, using boundTo as additional authenticated data.
type AESGCM struct {
	aead cipher.AEAD
}

// NewAESGCM builds an AESGCM sealer. key must be 32 bytes.
func NewAESGCM(key []byte) (*AESGCM, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("aes-gcm key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &AESGCM{aead: aead}, nil
}

// KeyFromString turns a configured key into 32 bytes: a 64-char hex string is decoded,
// anything else is hashed with SHA-256.
func KeyFromString(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("encryption key is empty")
	}
	if decoded, err := hex.DecodeString(s); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	sum := sha256.Sum256([]byte(s))
	return sum[:], nil
}

func (a *AESGCM) Seal(plaintext []byte, boundTo string) (string, error) {
	nonce := make([]byte, a.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	// nonce||ciphertext
	out := a.aead.Seal(nonce, nonce, plaintext, []byte(boundTo))
	return aesPrefixV1 + base64.RawURLEncoding.EncodeToString(out), nil
}

func (a *AESGCM) Open(sealed string, boundTo string) ([]byte, error) {
	body, ok := strings.CutPrefix(sealed, aesPrefixV1)
	if !ok {
		return nil, fmt.Errorf("%w: unknown version", ErrUnsealable)
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsealable, err)
	}
	ns := a.aead.NonceSize()
	if len(raw) < ns {
		return nil, fmt.Errorf("%w: too short", ErrUnsealable)
	}
	pt, err := a.aead.Open(nil, raw[:ns], raw[ns:], []byte(boundTo))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsealable, err)
	}
	return pt, nil
}

// Plain stores payloads unencrypted behind a marker prefix. Development only.
type Plain struct{}

func (Plain) Seal(plaintext []byte, _ string) (string, error) {
	return plainPrefixV1 + base64.RawURLEncoding.EncodeToString(plaintext), nil
}

func (Plain) Open(sealed string, _ string) ([]byte, error) {
	body, ok := strings.CutPrefix(sealed, plainPrefixV1)
	if !ok {
		return nil, fmt.Errorf("%w: not a plain payload", ErrUnsealable)
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsealable, err)
	}
	return raw, nil
}
