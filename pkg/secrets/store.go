// Package secrets keeps the broker credentials on disk, sealed with a key
// derived from the machine id. When no key can be derived the store falls
// back to plaintext and logs a warning on every write.
package secrets

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned by Load when nothing has been saved yet.
var ErrNotFound = errors.New("no stored credentials")

// ErrNoCipher is returned when the file is sealed but no key is available.
var ErrNoCipher = errors.New("credentials are encrypted but no key is available")

// Credentials are the values the broker needs.
type Credentials struct {
	AppKey    string
	SecretKey string
	Account   string
}

type fileFormat struct {
	Encrypted bool   `json:"encrypted"`
	AppKey    string `json:"app_key"`
	SecretKey string `json:"secret_key"`
	Account   string `json:"account,omitempty"`
}

// Store reads and writes one credentials file.
type Store struct {
	path   string
	cipher Cipher
	log    zerolog.Logger
}

// NewStore creates a store. c may be nil for plaintext.
func NewStore(path string, c Cipher, log zerolog.Logger) *Store {
	return &Store{path: path, cipher: c, log: log.With().Str("component", "secrets").Logger()}
}

// Open creates a store sealed with the machine key, or a plaintext store
// when the machine id cannot be read.
func Open(path string, log zerolog.Logger) *Store {
	s := NewStore(path, nil, log)
	key, err := MachineKey()
	if err == nil {
		var g *GCM
		if g, err = NewGCM(key, 1); err == nil {
			s.cipher = g
			return s
		}
	}
	s.log.Warn().Err(err).Msg("machine key unavailable, credentials will be stored in plaintext")
	return s
}

// Encrypted reports whether writes are sealed.
func (s *Store) Encrypted() bool { return s.cipher != nil }

// Path is the backing file.
func (s *Store) Path() string { return s.path }

// Save writes c with 0600 permissions.
func (s *Store) Save(c Credentials) error {
	out := fileFormat{AppKey: c.AppKey, SecretKey: c.SecretKey, Account: c.Account}
	if s.cipher != nil {
		var err error
		if out.AppKey, err = s.cipher.Seal("app_key", c.AppKey); err != nil {
			return fmt.Errorf("seal app key: %w", err)
		}
		if out.SecretKey, err = s.cipher.Seal("secret_key", c.SecretKey); err != nil {
			return fmt.Errorf("seal secret key: %w", err)
		}
		out.Encrypted = true
	} else {
		s.log.Warn().Str("path", s.path).Msg("writing credentials in plaintext")
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create secrets directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write secrets: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Load reads the file. Plaintext files are accepted with a warning.
func (s *Store) Load() (Credentials, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, ErrNotFound
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("read secrets: %w", err)
	}
	var in fileFormat
	if err := json.Unmarshal(data, &in); err != nil {
		return Credentials{}, fmt.Errorf("parse secrets: %w", err)
	}

	c := Credentials{Account: in.Account}
	if !in.Encrypted {
		s.log.Warn().Str("path", s.path).Msg("credentials file is not encrypted")
		c.AppKey, c.SecretKey = in.AppKey, in.SecretKey
		return c, nil
	}
	if s.cipher == nil {
		return Credentials{}, ErrNoCipher
	}
	if c.AppKey, err = s.cipher.Open("app_key", in.AppKey); err != nil {
		return Credentials{}, fmt.Errorf("open app key: %w", err)
	}
	if c.SecretKey, err = s.cipher.Open("secret_key", in.SecretKey); err != nil {
		return Credentials{}, fmt.Errorf("open secret key: %w", err)
	}
	return c, nil
}
