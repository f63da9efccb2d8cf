package gateway

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiwoom-core/pkg/config"
	"kiwoom-core/pkg/secrets"
)

func TestPaperModeNeedsNoCredentials(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModePaper

	gw, err := New(cfg, Options{Logger: zerolog.Nop(), PaperSeed: 7})
	require.NoError(t, err)
	assert.False(t, gw.Live)
	assert.NotNil(t, gw.Paper)
	assert.Nil(t, gw.Kiwoom)
	assert.Equal(t, cfg.PaperInitialDeposit, gw.Paper.Cash())
}

func TestLiveModeRequiresCredentials(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeLive
	cfg.AppKey, cfg.SecretKey = "", ""

	_, err := New(cfg, Options{Logger: zerolog.Nop()})
	assert.ErrorIs(t, err, ErrNoCredentials)

	empty := secrets.NewStore(filepath.Join(t.TempDir(), "none.json"), nil, zerolog.Nop())
	_, err = New(cfg, Options{Logger: zerolog.Nop(), Secrets: empty})
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestLiveModeUsesSecretsStore(t *testing.T) {
	store := secrets.NewStore(filepath.Join(t.TempDir(), "secrets.json"), nil, zerolog.Nop())
	require.NoError(t, store.Save(secrets.Credentials{AppKey: "app", SecretKey: "sec", Account: "5555"}))

	cfg := config.Default()
	cfg.Mode = config.ModeLive
	cfg.AppKey, cfg.SecretKey, cfg.Account = "", "", ""

	gw, err := New(cfg, Options{Logger: zerolog.Nop(), Secrets: store})
	require.NoError(t, err)
	assert.True(t, gw.Live)
	assert.NotNil(t, gw.Kiwoom)
	assert.Equal(t, "app", cfg.AppKey)
	assert.Equal(t, "5555", cfg.Account)
}

func TestEnvironmentCredentialsWin(t *testing.T) {
	store := secrets.NewStore(filepath.Join(t.TempDir(), "secrets.json"), nil, zerolog.Nop())
	require.NoError(t, store.Save(secrets.Credentials{AppKey: "stored", SecretKey: "stored"}))

	cfg := config.Default()
	cfg.AppKey, cfg.SecretKey = "env", "env"
	require.NoError(t, ResolveCredentials(cfg, store, zerolog.Nop()))
	assert.Equal(t, "env", cfg.AppKey)
}
