package kiwoom

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// tokenRefreshMargin is how long before expiry a cached token is replaced.
const tokenRefreshMargin = 5 * time.Minute

// Token is an OAuth2 bearer token as cached on disk.
type Token struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (t Token) usable(now time.Time) bool {
	return t.Token != "" && now.Add(tokenRefreshMargin).Before(t.ExpiresAt)
}

// tokenSource caches the bearer token in memory and in a file keyed by a
// hash of the app key, so several processes sharing an app key reuse it.
type tokenSource struct {
	mu    sync.Mutex
	path  string
	cur   Token
	fetch func(ctx context.Context) (Token, error)
	now   func() time.Time
}

// TokenCachePath returns the cache file for an app key inside dir.
func TokenCachePath(dir, appKey string) string {
	sum := sha256.Sum256([]byte(appKey))
	return filepath.Join(dir, "token_"+hex.EncodeToString(sum[:])[:16]+".json")
}

func newTokenSource(dir, appKey string, fetch func(ctx context.Context) (Token, error), now func() time.Time) *tokenSource {
	path := ""
	if dir != "" {
		path = TokenCachePath(dir, appKey)
	}
	return &tokenSource{path: path, fetch: fetch, now: now}
}

// Get returns a token valid for at least tokenRefreshMargin.
func (s *tokenSource) Get(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cur.usable(now) {
		return s.cur.Token, nil
	}
	if cached, err := s.load(); err == nil && cached.usable(now) {
		s.cur = cached
		return cached.Token, nil
	}

	tok, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	s.cur = tok
	if err := s.save(tok); err != nil {
		return "", fmt.Errorf("write token cache: %w", err)
	}
	return tok.Token, nil
}

// Invalidate drops the in-memory and on-disk token.
func (s *tokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = Token{}
	if s.path != "" {
		_ = os.Remove(s.path)
	}
}

func (s *tokenSource) load() (Token, error) {
	if s.path == "" {
		return Token{}, errors.New("token cache disabled")
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Token{}, err
	}
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return Token{}, err
	}
	return tok, nil
}

func (s *tokenSource) save(tok Token) error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
