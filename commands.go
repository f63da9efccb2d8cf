package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"kiwoom-core/internal/api"
	"kiwoom-core/internal/backtest"
	"kiwoom-core/internal/core"
	"kiwoom-core/internal/data"
	"kiwoom-core/internal/gateway"
	"kiwoom-core/internal/session"
	"kiwoom-core/internal/strategy"
	"kiwoom-core/pkg/config"
	"kiwoom-core/pkg/i18n"
	"kiwoom-core/pkg/logging"
	"kiwoom-core/pkg/secrets"
)

// app holds what every subcommand needs once config is loaded.
type app struct {
	cfg *config.Config
	log zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "kiwoom-core",
		Short:         "Automated equity trading core for the Kiwoom REST API",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				color.Red(i18n.M().ConfigLoadFailed, err)
				return err
			}
			i18n.SetLanguage(i18n.Language(cfg.Language))
			a.cfg = cfg
			a.log = logging.New(logging.Config{
				Level:      cfg.LogLevel,
				Console:    true,
				FilePath:   cfg.LogFile,
				MaxSizeMB:  50,
				MaxBackups: 7,
				MaxAgeDays: 30,
			})
			return nil
		},
	}
	root.AddCommand(
		newRunCmd(a),
		newBacktestCmd(a),
		newCheckCmd(a),
		newTokenCmd(a),
		newCredentialsCmd(a),
	)
	return root
}

func newRunCmd(a *app) *cobra.Command {
	var (
		codes string
		noAPI bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a trading session over the watchlist",
		Example: `  kiwoom-core run --codes 005930,000660
  TRADING_MODE=live kiwoom-core run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, msg := a.cfg, i18n.M()
			a.log.Info().Msg(msg.Starting)
			a.log.Info().Msgf(msg.ConfigLoaded, cfg.Port, cfg.Mode)
			if cfg.IsLive() {
				color.Yellow("%s", msg.LiveMode)
			} else {
				color.Cyan("%s", msg.PaperMode)
			}

			watchlist := cfg.Watchlist
			if codes != "" {
				watchlist = strings.Split(codes, ",")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := core.New(cfg, a.log, core.Options{
				Confirmer: session.ReaderConfirmer{In: os.Stdin, Out: os.Stdout},
				Secrets:   secrets.Open(cfg.SecretsPath, a.log),
			})
			if err != nil {
				color.Red(msg.StartFailed, err)
				return err
			}
			defer func() {
				a.log.Info().Msg(msg.ShuttingDown)
				if err := c.Close(); err != nil {
					a.log.Warn().Err(err).Msg("shutdown")
				}
			}()
			if cfg.DBPath != "" {
				a.log.Info().Msgf(msg.UsingDBPath, cfg.DBPath)
			}
			c.Run(ctx)

			if !noAPI {
				srv := api.NewServer(c, c.Bus, c.Metrics, api.SystemMeta{
					Mode:      cfg.Mode,
					Watchlist: watchlist,
					Version:   version,
				}, cfg.JWTSecret, a.log)
				go func() {
					if err := srv.Start(ctx, ":"+cfg.Port); err != nil {
						a.log.Error().Msgf(msg.APIServerError, err)
					}
				}()
				a.log.Info().Msgf(msg.ServerListening, cfg.Port)
			}

			if err := c.Start(ctx, watchlist); err != nil {
				color.Red("%v", err)
				return err
			}
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&codes, "codes", "", "comma separated watchlist, overrides WATCHLIST")
	cmd.Flags().BoolVar(&noAPI, "no-api", false, "do not serve the operator HTTP API")
	return cmd
}

func newBacktestCmd(a *app) *cobra.Command {
	var (
		csvPath   string
		codes     string
		bars      int
		packPath  string
		cash      float64
		alloc     float64
		timeframe string
		short     bool
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay the strategy pack over historical bars",
		Long: `Replay the strategy pack over historical bars.

Bars come from a CSV file (symbol,ts,open,high,low,close,volume) or, when
--csv is not given, from the broker's daily chart for --codes.`,
		Example: `  kiwoom-core backtest --csv bars.csv --allocation 0.2
  kiwoom-core backtest --codes 005930,000660 --bars 100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, msg := a.cfg, i18n.M()
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			if packPath == "" {
				packPath = cfg.StrategyPackPath
			}
			pack, err := strategy.LoadPack(packPath, cfg.Defaults)
			if err != nil {
				return err
			}

			var series []backtest.Bar
			if csvPath != "" {
				series, err = data.LoadCSVFile(csvPath)
			} else {
				series, err = fetchBars(ctx, a, codes, bars)
			}
			if err != nil {
				color.Red("%v", err)
				return err
			}

			btCfg := backtest.DefaultConfig(cfg)
			if cash > 0 {
				btCfg.InitialCash = cash
			}
			if alloc > 0 {
				btCfg.Allocation = alloc
			}
			if timeframe != "" {
				btCfg.Timeframe = timeframe
			}
			btCfg.AllowShort = short || pack.ShortEnabled

			res, err := backtest.New(btCfg, a.log).Run(series, backtest.PackSignal(pack, a.log))
			if err != nil {
				color.Red("%v", err)
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}

			color.Cyan("%s · %d bars", pack.Primary, len(series))
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SYMBOL\tSIDE\tQTY\tENTRY\tEXIT\tPNL\tPNL%")
			for _, t := range res.Trades {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%.0f\t%.0f\t%.0f\t%.2f\n",
					t.Symbol, t.Side, t.Qty, t.EntryPrice, t.ExitPrice, t.PnL, t.PnLPct)
			}
			tw.Flush()

			m := res.Metrics
			summary := fmt.Sprintf(msg.BacktestSummary, m.ReturnPct, m.MaxDrawdownPct, m.Trades, m.WinRate)
			if m.ReturnPct >= 0 {
				color.Green("%s", summary)
			} else {
				color.Red("%s", summary)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "CSV file of bars")
	cmd.Flags().StringVar(&codes, "codes", "", "comma separated codes to fetch when --csv is empty")
	cmd.Flags().IntVar(&bars, "bars", 100, "daily bars per code to fetch (max 100)")
	cmd.Flags().StringVar(&packPath, "pack", "", "strategy pack YAML, defaults to STRATEGY_PACK_PATH")
	cmd.Flags().Float64Var(&cash, "cash", 0, "initial cash, defaults to PAPER_INITIAL_DEPOSIT")
	cmd.Flags().Float64Var(&alloc, "allocation", 0, "fraction of cash per entry, defaults to DEFAULT_BETTING_RATIO")
	cmd.Flags().StringVar(&timeframe, "timeframe", "", "bar timeframe such as 1d or 1m")
	cmd.Flags().BoolVar(&short, "short", false, "allow short entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}

func fetchBars(ctx context.Context, a *app, codes string, n int) ([]backtest.Bar, error) {
	list := session.NormalizeWatchlist(strings.Split(codes, ","))
	if len(list) == 0 {
		list = session.NormalizeWatchlist(a.cfg.Watchlist)
	}
	if len(list) == 0 {
		return nil, errors.New("no codes: pass --csv or --codes")
	}
	gw, err := gateway.New(a.cfg, gateway.Options{
		Logger:  a.log,
		Secrets: secrets.Open(a.cfg.SecretsPath, a.log),
	})
	if err != nil {
		return nil, err
	}
	return data.NewHistoricalService(gw.Broker).DailyBars(ctx, list, n)
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify credentials and print accounts and deposit",
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := i18n.M()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			gw, err := gateway.New(a.cfg, gateway.Options{
				Logger:  a.log,
				Secrets: secrets.Open(a.cfg.SecretsPath, a.log),
			})
			if err != nil {
				color.Red("%v", err)
				return err
			}
			if err := gw.Broker.TestCredentials(ctx); err != nil {
				color.Red(msg.CredentialsFailed, err)
				return err
			}
			color.Green("%s", msg.CheckCredentialsOK)

			accounts, err := gw.Broker.ListAccounts(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), msg.CheckAccounts+"\n", accounts)

			account := a.cfg.Account
			if account == "" && len(accounts) > 0 {
				account = accounts[0]
			}
			if account == "" {
				color.Yellow("%s", msg.NoAccount)
				return nil
			}
			info, err := gw.Broker.GetAccountInfo(ctx, account)
			if err != nil {
				color.Red(msg.DepositFailed, err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), msg.CheckDeposit+"\n", info.Deposit, info.TotalEquity)
			return nil
		},
	}
}

func newTokenCmd(a *app) *cobra.Command {
	var (
		operator string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := api.IssueToken(operator, a.cfg.JWTSecret, ttl)
			if err != nil {
				return err
			}
			color.Green(i18n.M().TokenIssued, ttl)
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "operator", "name recorded in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

func newCredentialsCmd(a *app) *cobra.Command {
	var creds secrets.Credentials
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Store the Kiwoom app key and secret in the secrets file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if creds.AppKey == "" || creds.SecretKey == "" {
				return errors.New("--app-key and --secret-key are required")
			}
			store := secrets.Open(a.cfg.SecretsPath, a.log)
			if !store.Encrypted() {
				color.Yellow(i18n.M().SecretsPlaintext, store.Path())
			}
			if err := store.Save(creds); err != nil {
				return err
			}
			color.Green(i18n.M().CredentialsSaved, store.Path(), store.Encrypted())
			return nil
		},
	}
	cmd.Flags().StringVar(&creds.AppKey, "app-key", "", "Kiwoom app key")
	cmd.Flags().StringVar(&creds.SecretKey, "secret-key", "", "Kiwoom secret key")
	cmd.Flags().StringVar(&creds.Account, "account", "", "default account number")
	return cmd
}
