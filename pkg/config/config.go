package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Trading modes.
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// Config holds environment-driven settings for the trading core.
type Config struct {
	// Broker
	AppKey      string
	SecretKey   string
	Account     string
	BaseURL     string
	WSURL       string
	Mode        string // "paper" (default) or "live"
	Watchlist   []string
	TokenCache  string
	SecretsPath string

	// Universe / projection
	MaxPriceHistory int
	TableBatchLimit int

	// Reconciler
	PositionSyncDebounce   time.Duration
	PositionSyncBackoffMax time.Duration
	PositionSyncMaxRetries int
	PositionSyncInterval   time.Duration
	PendingOrderTTL        time.Duration

	// Execution
	OrderRejectCooldown time.Duration
	NoEntryHour         int
	MarketCloseHour     int
	MarketCloseMinute   int
	Workers             int

	// External flow
	ExternalFlowRefresh          time.Duration
	ExternalFlowStale            time.Duration
	ExternalFlowOnDemandDebounce time.Duration

	DecisionCacheTTL time.Duration
	LogDedup         time.Duration
	DepositRefresh   time.Duration

	// Live trading guard
	LiveGuardEnabled bool
	LiveGuardPhrase  string
	LiveGuardTimeout time.Duration

	// Schedule window ("HH:MM")
	ScheduleEnabled   bool
	ScheduleStart     string
	ScheduleEnd       string
	ScheduleLiquidate bool

	// Strategy
	StrategyPackPath string
	Defaults         StrategyDefaults

	// Paper broker
	PaperInitialDeposit float64
	PaperFeeRate        float64 // decimal, 0.00015 = 1.5 bps
	PaperSlippageBps    float64

	// Service
	Port      string
	JWTSecret string
	DBPath    string
	LogLevel  string
	LogFile   string
	Language  string // "ko" or "en"
}

// StrategyDefaults are the DEFAULT_* knobs a strategy pack falls back to.
type StrategyDefaults struct {
	K              float64
	BettingRatio   float64
	LossCut        float64 // percent
	TSStart        float64 // percent
	TSStop         float64 // percent
	MaxHoldings    int
	MaxDailyLoss   float64 // percent
	MaxHoldMinutes int
}

// IsLive reports whether real orders are sent to the broker.
func (c *Config) IsLive() bool {
	return c.Mode == ModeLive
}

var defaults = map[string]any{
	"KIWOOM_BASE_URL":                      "https://api.kiwoom.com",
	"KIWOOM_WS_URL":                        "wss://api.kiwoom.com:10000/ws/realtime",
	"TRADING_MODE":                         ModePaper,
	"WATCHLIST":                            "005930,000660,035420",
	"TOKEN_CACHE_DIR":                      "./data/tokens",
	"SECRETS_PATH":                         "./data/secrets.json",
	"MAX_PRICE_HISTORY":                    200,
	"TABLE_BATCH_LIMIT":                    50,
	"POSITION_SYNC_DEBOUNCE_MS":            200,
	"POSITION_SYNC_BACKOFF_MAX_MS":         5000,
	"POSITION_SYNC_MAX_RETRIES":            5,
	"POSITION_SYNC_INTERVAL_SEC":           30,
	"PENDING_ORDER_TTL_SEC":                5,
	"ORDER_REJECT_COOLDOWN_SEC":            10,
	"NO_ENTRY_HOUR":                        15,
	"MARKET_CLOSE_HOUR":                    15,
	"MARKET_CLOSE_MINUTE":                  30,
	"WORKERS":                              4,
	"EXTERNAL_FLOW_REFRESH_SEC":            60,
	"EXTERNAL_FLOW_STALE_SEC":              30,
	"EXTERNAL_FLOW_ON_DEMAND_DEBOUNCE_SEC": 10,
	"DECISION_CACHE_TTL_SEC":               0.1,
	"LOG_DEDUP_SEC":                        30,
	"DEPOSIT_REFRESH_SEC":                  30,
	"LIVE_GUARD_ENABLED":                   true,
	"LIVE_GUARD_PHRASE":                    "실전매매 시작",
	"LIVE_GUARD_TIMEOUT_SEC":               30,
	"SCHEDULE_ENABLED":                     false,
	"SCHEDULE_START":                       "09:00",
	"SCHEDULE_END":                         "15:20",
	"SCHEDULE_LIQUIDATE":                   false,
	"STRATEGY_PACK_PATH":                   "",
	"DEFAULT_K":                            0.5,
	"DEFAULT_BETTING_RATIO":                0.1,
	"DEFAULT_LOSS_CUT":                     2.0,
	"DEFAULT_TS_START":                     3.0,
	"DEFAULT_TS_STOP":                      1.5,
	"DEFAULT_MAX_HOLDINGS":                 5,
	"DEFAULT_MAX_DAILY_LOSS":               3.0,
	"DEFAULT_MAX_HOLD_MINUTES":             0,
	"PAPER_INITIAL_DEPOSIT":                10_000_000.0,
	"PAPER_FEE_RATE":                       0.00015,
	"PAPER_SLIPPAGE_BPS":                   5.0,
	"PORT":                                 "8080",
	"JWT_SECRET":                           "dev-secret",
	"DB_PATH":                              "./data/kiwoom.db",
	"LOG_LEVEL":                            "info",
	"LOG_FILE":                             "./logs/kiwoom-core.log",
	"LANGUAGE":                             "ko",
}

// Load reads environment variables (optionally via .env and a YAML file
// named by KIWOOM_CONFIG) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if path := os.Getenv("KIWOOM_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		AppKey:      v.GetString("KIWOOM_APP_KEY"),
		SecretKey:   v.GetString("KIWOOM_SECRET_KEY"),
		Account:     v.GetString("KIWOOM_ACCOUNT"),
		BaseURL:     strings.TrimRight(v.GetString("KIWOOM_BASE_URL"), "/"),
		WSURL:       v.GetString("KIWOOM_WS_URL"),
		Mode:        strings.ToLower(v.GetString("TRADING_MODE")),
		Watchlist:   splitAndTrim(v.GetString("WATCHLIST")),
		TokenCache:  v.GetString("TOKEN_CACHE_DIR"),
		SecretsPath: v.GetString("SECRETS_PATH"),

		MaxPriceHistory: v.GetInt("MAX_PRICE_HISTORY"),
		TableBatchLimit: v.GetInt("TABLE_BATCH_LIMIT"),

		PositionSyncDebounce:   millis(v.GetInt("POSITION_SYNC_DEBOUNCE_MS")),
		PositionSyncBackoffMax: millis(v.GetInt("POSITION_SYNC_BACKOFF_MAX_MS")),
		PositionSyncMaxRetries: v.GetInt("POSITION_SYNC_MAX_RETRIES"),
		PositionSyncInterval:   seconds(v.GetFloat64("POSITION_SYNC_INTERVAL_SEC")),
		PendingOrderTTL:        seconds(v.GetFloat64("PENDING_ORDER_TTL_SEC")),

		OrderRejectCooldown: seconds(v.GetFloat64("ORDER_REJECT_COOLDOWN_SEC")),
		NoEntryHour:         v.GetInt("NO_ENTRY_HOUR"),
		MarketCloseHour:     v.GetInt("MARKET_CLOSE_HOUR"),
		MarketCloseMinute:   v.GetInt("MARKET_CLOSE_MINUTE"),
		Workers:             v.GetInt("WORKERS"),

		ExternalFlowRefresh:          seconds(v.GetFloat64("EXTERNAL_FLOW_REFRESH_SEC")),
		ExternalFlowStale:            seconds(v.GetFloat64("EXTERNAL_FLOW_STALE_SEC")),
		ExternalFlowOnDemandDebounce: seconds(v.GetFloat64("EXTERNAL_FLOW_ON_DEMAND_DEBOUNCE_SEC")),

		DecisionCacheTTL: seconds(v.GetFloat64("DECISION_CACHE_TTL_SEC")),
		LogDedup:         seconds(v.GetFloat64("LOG_DEDUP_SEC")),
		DepositRefresh:   seconds(v.GetFloat64("DEPOSIT_REFRESH_SEC")),

		LiveGuardEnabled: v.GetBool("LIVE_GUARD_ENABLED"),
		LiveGuardPhrase:  v.GetString("LIVE_GUARD_PHRASE"),
		LiveGuardTimeout: seconds(v.GetFloat64("LIVE_GUARD_TIMEOUT_SEC")),

		ScheduleEnabled:   v.GetBool("SCHEDULE_ENABLED"),
		ScheduleStart:     v.GetString("SCHEDULE_START"),
		ScheduleEnd:       v.GetString("SCHEDULE_END"),
		ScheduleLiquidate: v.GetBool("SCHEDULE_LIQUIDATE"),

		StrategyPackPath: v.GetString("STRATEGY_PACK_PATH"),
		Defaults: StrategyDefaults{
			K:              v.GetFloat64("DEFAULT_K"),
			BettingRatio:   v.GetFloat64("DEFAULT_BETTING_RATIO"),
			LossCut:        v.GetFloat64("DEFAULT_LOSS_CUT"),
			TSStart:        v.GetFloat64("DEFAULT_TS_START"),
			TSStop:         v.GetFloat64("DEFAULT_TS_STOP"),
			MaxHoldings:    v.GetInt("DEFAULT_MAX_HOLDINGS"),
			MaxDailyLoss:   v.GetFloat64("DEFAULT_MAX_DAILY_LOSS"),
			MaxHoldMinutes: v.GetInt("DEFAULT_MAX_HOLD_MINUTES"),
		},

		PaperInitialDeposit: v.GetFloat64("PAPER_INITIAL_DEPOSIT"),
		PaperFeeRate:        v.GetFloat64("PAPER_FEE_RATE"),
		PaperSlippageBps:    v.GetFloat64("PAPER_SLIPPAGE_BPS"),

		Port:      v.GetString("PORT"),
		JWTSecret: v.GetString("JWT_SECRET"),
		DBPath:    v.GetString("DB_PATH"),
		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFile:   v.GetString("LOG_FILE"),
		Language:  strings.ToLower(v.GetString("LANGUAGE")),
	}

	if cfg.Mode != ModePaper && cfg.Mode != ModeLive {
		return nil, fmt.Errorf("TRADING_MODE must be %q or %q, got %q", ModePaper, ModeLive, cfg.Mode)
	}
	if cfg.MaxPriceHistory <= 0 {
		return nil, fmt.Errorf("MAX_PRICE_HISTORY must be positive")
	}
	if cfg.TableBatchLimit <= 0 {
		cfg.TableBatchLimit = 50
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading the
// environment. Tests start from it.
func Default() *Config {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	cfg, err := fromViper(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
