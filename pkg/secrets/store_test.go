package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(b byte) []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = b + byte(i)
	}
	return key
}

func TestSealOpen(t *testing.T) {
	g, err := NewGCM(testKey(1), 1)
	require.NoError(t, err)

	for _, plain := range []string{"", "short", "PSabc123XYZ789", "한글 비밀키"} {
		sealed, err := g.Seal("app_key", plain)
		require.NoError(t, err)
		assert.True(t, IsSealed(sealed))
		assert.Equal(t, 1, ParseVersion(sealed))

		got, err := g.Open("app_key", sealed)
		require.NoError(t, err)
		assert.Equal(t, plain, got)
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	g, err := NewGCM(testKey(1), 1)
	require.NoError(t, err)
	a, _ := g.Seal("f", "same")
	b, _ := g.Seal("f", "same")
	assert.NotEqual(t, a, b)
}

func TestOpenRejects(t *testing.T) {
	g, err := NewGCM(testKey(1), 1)
	require.NoError(t, err)
	sealed, err := g.Seal("app_key", "value")
	require.NoError(t, err)

	_, err = g.Open("secret_key", sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed, "field name is bound")

	other, err := NewGCM(testKey(9), 1)
	require.NoError(t, err)
	_, err = other.Open("app_key", sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	for _, bad := range []string{"", "plain", "ENC[v1]:", "ENC[v1]:!!!"} {
		_, err := g.Open("app_key", bad)
		assert.Error(t, err, bad)
	}

	_, err = NewGCM([]byte("short"), 1)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestParseVersion(t *testing.T) {
	assert.Equal(t, 2, ParseVersion("ENC[v2]:data"))
	assert.Equal(t, 10, ParseVersion("ENC[v10]:data"))
	assert.Equal(t, 0, ParseVersion("ENC[vX]:data"))
	assert.Equal(t, 0, ParseVersion("data"))
}

func TestStoreEncrypted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "secrets.json")
	g, err := NewGCM(testKey(3), 1)
	require.NoError(t, err)
	s := NewStore(path, g, zerolog.Nop())
	assert.True(t, s.Encrypted())

	_, err = s.Load()
	assert.ErrorIs(t, err, ErrNotFound)

	want := Credentials{AppKey: "app", SecretKey: "secret", Account: "1234567890"}
	require.NoError(t, s.Save(want))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(raw), `"secret"`))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Without a key the sealed file cannot be read.
	_, err = NewStore(path, nil, zerolog.Nop()).Load()
	assert.ErrorIs(t, err, ErrNoCipher)
}

func TestStorePlaintextFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	s := NewStore(path, nil, zerolog.Nop())
	require.NoError(t, s.Save(Credentials{AppKey: "app", SecretKey: "secret"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"secret"`)

	// An encrypting store still accepts a plaintext file.
	g, err := NewGCM(testKey(5), 1)
	require.NoError(t, err)
	got, err := NewStore(path, g, zerolog.Nop()).Load()
	require.NoError(t, err)
	assert.Equal(t, "secret", got.SecretKey)
}
