package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// KeySize is the AES-256 key length.
	KeySize   = 32
	nonceSize = 12
	prefix    = "ENC[v%d]:"
)

var (
	ErrInvalidKey        = errors.New("invalid encryption key: must be 32 bytes")
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// Cipher seals individual credential fields.
type Cipher interface {
	Seal(field, plaintext string) (string, error)
	Open(field, sealed string) (string, error)
}

// GCM is an AES-256-GCM Cipher. The field name is bound as additional data
// so a sealed app key cannot be swapped in as the secret key.
type GCM struct {
	aead    cipher.AEAD
	version int
}

// NewGCM creates a cipher for a 32 byte key.
func NewGCM(key []byte, version int) (*GCM, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &GCM{aead: aead, version: version}, nil
}

// Seal returns ENC[vN]:base64(nonce|ciphertext).
func (g *GCM) Seal(field, plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := g.aead.Seal(nonce, nonce, []byte(plaintext), []byte(field))
	return fmt.Sprintf(prefix, g.version) + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (g *GCM) Open(field, sealed string) (string, error) {
	if !IsSealed(sealed) {
		return "", ErrInvalidCiphertext
	}
	idx := strings.Index(sealed, "]:")
	if idx == -1 {
		return "", ErrInvalidCiphertext
	}
	data, err := base64.StdEncoding.DecodeString(sealed[idx+2:])
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) < nonceSize {
		return "", ErrInvalidCiphertext
	}
	plain, err := g.aead.Open(nil, data[:nonceSize], data[nonceSize:], []byte(field))
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// IsSealed reports whether v carries the ENC[vN]: prefix.
func IsSealed(v string) bool {
	return strings.HasPrefix(v, "ENC[v")
}

// ParseVersion extracts the key version; 0 when v is not sealed.
func ParseVersion(v string) int {
	if !IsSealed(v) {
		return 0
	}
	var version int
	if _, err := fmt.Sscanf(v, "ENC[v%d]:", &version); err != nil {
		return 0
	}
	return version
}
