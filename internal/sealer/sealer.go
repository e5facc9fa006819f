// Package sealer is the reference encryption provider for the channel
// protocol. Every room member holds the same 256-bit key. AES-256-GCM with a
// 12-byte IV is the default and opens payloads sealed by browser peers;
// ChaCha20-Poly1305 is available for rooms without browser members.
package sealer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	AESGCM           = "aes-256-gcm"
	ChaCha20Poly1305 = "chacha20-poly1305"
)

const KeySize = 32

var (
	ErrKeySize       = fmt.Errorf("key must be %d bytes", KeySize)
	ErrNonce         = errors.New("invalid nonce")
	ErrOpenFail      = errors.New("message authentication failed")
	ErrUnknownCipher = errors.New("unknown cipher")
)

type Sealer struct {
	cipher string
	aead   cipher.AEAD
}

// New returns an AES-256-GCM sealer.
func New(key []byte) (*Sealer, error) {
	return NewCipher(AESGCM, key)
}

// NewCipher returns a sealer for the named cipher. An empty name means AESGCM.
func NewCipher(name string, key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}

	var (
		aead cipher.AEAD
		err  error
	)
	switch name {
	case "", AESGCM:
		name = AESGCM
		var block cipher.Block
		block, err = aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		aead, err = cipher.NewGCM(block)
	case ChaCha20Poly1305:
		aead, err = chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCipher, name)
	}
	if err != nil {
		return nil, err
	}
	return &Sealer{cipher: name, aead: aead}, nil
}

// FromHex builds an AES-256-GCM sealer from a hex encoded shared key.
func FromHex(s string) (*Sealer, error) {
	return Parse(AESGCM, s)
}

// Parse builds a sealer for the named cipher from a shared key given either
// as hex or as the JWK that browser peers export.
func Parse(cipherName, key string) (*Sealer, error) {
	raw, err := ParseKey(key)
	if err != nil {
		return nil, err
	}
	return NewCipher(cipherName, raw)
}

type jwk struct {
	Kty string `json:"kty"`
	K   string `json:"k"`
}

// ParseKey decodes a hex key or an "oct" JWK.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		var k jwk
		if err := json.Unmarshal([]byte(s), &k); err != nil {
			return nil, fmt.Errorf("sealer: decode jwk: %w", err)
		}
		if k.Kty != "oct" {
			return nil, fmt.Errorf("sealer: jwk kty %q is not oct", k.Kty)
		}
		key, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(k.K, "="))
		if err != nil {
			return nil, fmt.Errorf("sealer: decode jwk key: %w", err)
		}
		return key, nil
	}

	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("sealer: decode key: %w", err)
	}
	return key, nil
}

// Generate returns an AES-256-GCM sealer under a fresh random key and the
// key itself.
func Generate() (*Sealer, []byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, nil, err
	}
	s, err := New(key)
	if err != nil {
		return nil, nil, err
	}
	return s, key, nil
}

func (s *Sealer) Cipher() string {
	return s.cipher
}

func (s *Sealer) Seal(plain []byte) ([]byte, []byte, error) {
	iv := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, err
	}
	return iv, s.aead.Seal(nil, iv, plain, nil), nil
}

func (s *Sealer) Open(iv, sealed []byte) ([]byte, error) {
	if len(iv) != s.aead.NonceSize() {
		return nil, ErrNonce
	}
	plain, err := s.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ErrOpenFail
	}
	return plain, nil
}
