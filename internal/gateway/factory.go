// Package gateway selects the broker and realtime stream for the configured
// trading mode: the Kiwoom REST client and websocket for live, the in-memory
// simulator for paper.
package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"kiwoom-core/internal/order"
	"kiwoom-core/pkg/config"
	"kiwoom-core/pkg/exchanges/common"
	"kiwoom-core/pkg/kiwoom"
	"kiwoom-core/pkg/secrets"
)

// ErrNoCredentials is returned in live mode when neither the environment
// nor the secrets store supplies an app key and secret.
var ErrNoCredentials = errors.New("kiwoom app key and secret key are required in live mode")

// Options are the optional hooks New wires into the clients.
type Options struct {
	Logger  zerolog.Logger
	Secrets *secrets.Store
	// Observe receives the latency of every live REST call.
	Observe func(apiID string, d time.Duration, err error)
	// PaperTick is the synthetic tick interval; zero means one second.
	PaperTick time.Duration
	PaperSeed int64
	Now       func() time.Time
}

// Gateway is the selected broker/stream pair.
type Gateway struct {
	Broker common.Broker
	Stream common.Stream
	Live   bool

	// Exactly one of these is set.
	Kiwoom *kiwoom.Client
	Paper  *order.PaperBroker
}

// New builds the gateway for cfg.Mode. In live mode missing credentials
// are filled from the secrets store; cfg is updated in place so the
// session sees the stored account number.
func New(cfg *config.Config, opts Options) (*Gateway, error) {
	log := opts.Logger.With().Str("component", "gateway").Logger()
	if !cfg.IsLive() {
		return newPaper(cfg, opts, log), nil
	}

	if err := ResolveCredentials(cfg, opts.Secrets, log); err != nil {
		return nil, err
	}
	client := kiwoom.NewClient(kiwoom.Options{
		BaseURL:   cfg.BaseURL,
		AppKey:    cfg.AppKey,
		SecretKey: cfg.SecretKey,
		TokenDir:  cfg.TokenCache,
		Gate:      common.NewRateGate(common.DefaultGateInterval),
		Logger:    opts.Logger.With().Str("component", "kiwoom").Logger(),
		Observe:   opts.Observe,
		Now:       opts.Now,
	})
	stream := kiwoom.NewStream(kiwoom.StreamOptions{
		URL:    cfg.WSURL,
		Token:  client.Token,
		Logger: opts.Logger.With().Str("component", "kiwoom_stream").Logger(),
	})
	log.Info().Str("base_url", cfg.BaseURL).Str("ws_url", cfg.WSURL).Msg("live gateway ready")
	return &Gateway{Broker: client, Stream: stream, Live: true, Kiwoom: client}, nil
}

func newPaper(cfg *config.Config, opts Options, log zerolog.Logger) *Gateway {
	seed := opts.PaperSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	broker := order.NewPaperBroker(order.PaperConfig{
		InitialDeposit: cfg.PaperInitialDeposit,
		FeeRate:        cfg.PaperFeeRate,
		SlippageBps:    cfg.PaperSlippageBps,
		Seed:           seed,
		Now:            opts.Now,
	})
	stream := order.NewPaperStream(broker, opts.PaperTick, 0, seed+1)
	log.Info().
		Float64("deposit", cfg.PaperInitialDeposit).
		Float64("fee_rate", cfg.PaperFeeRate).
		Float64("slippage_bps", cfg.PaperSlippageBps).
		Msg("paper gateway ready")
	return &Gateway{Broker: broker, Stream: stream, Paper: broker}
}

// ResolveCredentials fills empty credential fields of cfg from store.
func ResolveCredentials(cfg *config.Config, store *secrets.Store, log zerolog.Logger) error {
	if cfg.AppKey != "" && cfg.SecretKey != "" {
		return nil
	}
	if store == nil {
		return ErrNoCredentials
	}
	creds, err := store.Load()
	if errors.Is(err, secrets.ErrNotFound) {
		return ErrNoCredentials
	}
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if cfg.AppKey == "" {
		cfg.AppKey = creds.AppKey
	}
	if cfg.SecretKey == "" {
		cfg.SecretKey = creds.SecretKey
	}
	if cfg.Account == "" {
		cfg.Account = creds.Account
	}
	if cfg.AppKey == "" || cfg.SecretKey == "" {
		return ErrNoCredentials
	}
	log.Info().Str("path", store.Path()).Bool("encrypted", store.Encrypted()).Msg("credentials loaded from secrets store")
	return nil
}
