// Package core assembles the trading core from its collaborators and owns
// their lifecycle.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"kiwoom-core/internal/diagnostics"
	"kiwoom-core/internal/engine"
	"kiwoom-core/internal/events"
	"kiwoom-core/internal/gateway"
	"kiwoom-core/internal/monitor"
	"kiwoom-core/internal/order"
	"kiwoom-core/internal/persistence"
	"kiwoom-core/internal/reconciliation"
	"kiwoom-core/internal/risk"
	"kiwoom-core/internal/session"
	"kiwoom-core/internal/state"
	"kiwoom-core/internal/strategy"
	"kiwoom-core/pkg/config"
	"kiwoom-core/pkg/db"
	"kiwoom-core/pkg/exchanges/common"
	"kiwoom-core/pkg/secrets"
)

// Options are the pieces main supplies beyond the config.
type Options struct {
	// Pack overrides the pack file named in the config.
	Pack      *strategy.Pack
	Confirmer session.Confirmer
	Secrets   *secrets.Store
	// Gateway overrides mode-based selection; tests pass a paper gateway.
	Gateway *gateway.Gateway
	// Sched overrides the production loop.
	Sched events.Scheduler
}

// Core is the assembled trading core.
type Core struct {
	Cfg        *config.Config
	Log        zerolog.Logger
	Sched      events.Scheduler
	Bus        *events.Bus
	State      *state.Context
	Gateway    *gateway.Gateway
	Runner     order.Runner
	Strategy   *strategy.Engine
	Engine     *engine.Engine
	Reconciler *reconciliation.Service
	Session    *session.Session
	Projector  *diagnostics.Projector
	Metrics    *monitor.SystemMetrics
	Journal    *persistence.Journal

	loop     *events.Loop
	pool     *order.Pool
	database *db.Database
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
}

// New wires everything without starting goroutines.
func New(cfg *config.Config, log zerolog.Logger, opts Options) (*Core, error) {
	c := &Core{
		Cfg:     cfg,
		Log:     log,
		Bus:     events.NewBus(),
		Metrics: monitor.NewSystemMetrics(),
	}

	pack := opts.Pack
	if pack == nil {
		var err error
		if pack, err = strategy.LoadPack(cfg.StrategyPackPath, cfg.Defaults); err != nil {
			return nil, err
		}
	}

	c.Sched = opts.Sched
	if c.Sched == nil {
		c.loop = events.NewLoop(4096)
		c.loop.SetLocation(common.KST)
		c.Sched = c.loop
	}

	c.Gateway = opts.Gateway
	if c.Gateway == nil {
		var err error
		c.Gateway, err = gateway.New(cfg, gateway.Options{
			Logger:  log,
			Secrets: opts.Secrets,
			Observe: c.Metrics.ObserveREST,
			Now:     c.Sched.Now,
		})
		if err != nil {
			return nil, err
		}
	}

	c.State = state.New(cfg, c.Sched, c.Bus, log.With().Str("component", "state").Logger())

	if c.loop != nil {
		c.pool = order.NewPool(c.Sched, cfg.Workers, log)
		c.pool.Observe(func(name string, d time.Duration) {
			if d > 2*time.Second {
				c.Log.Warn().Str("job", name).Dur("took", d).Msg("slow broker job")
			}
		})
		c.Runner = c.pool
	} else {
		c.Runner = order.Inline{Sched: c.Sched}
	}

	if cfg.DBPath != "" {
		database, err := db.New(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		if err := db.ApplyMigrations(database); err != nil {
			database.Close()
			return nil, err
		}
		c.database = database
		c.Journal = persistence.NewJournal(database, log, cfg.Mode, 50, 500*time.Millisecond)
		c.State.SetSink(c.Journal)
	}

	c.Strategy = strategy.NewEngine(pack, strategy.Options{
		CacheTTL: cfg.DecisionCacheTTL,
		Stale:    cfg.ExternalFlowStale,
		Live:     c.State.Live,
		OnStale: func(code string) {
			if c.Session != nil {
				c.Session.RequestFlow(code)
			}
		},
		Logger: log,
	})
	c.Engine = engine.New(c.State, engine.Options{
		Broker:   c.Gateway.Broker,
		Runner:   c.Runner,
		Strategy: c.Strategy,
		Metrics:  c.Metrics,
	})
	c.Reconciler = reconciliation.NewService(c.State, reconciliation.Options{
		Broker:          c.Gateway.Broker,
		Runner:          c.Runner,
		Notifier:        reconciliation.NewLogNotifier(log),
		Metrics:         c.Metrics,
		ReentryCooldown: time.Duration(pack.Params.ReentryCooldown) * time.Minute,
	})
	c.Engine.SetReconciler(c.Reconciler)
	c.Projector = diagnostics.NewProjector(c.State, c.Reconciler)
	c.Session = session.New(c.State, session.Options{
		Broker:     c.Gateway.Broker,
		Stream:     c.Gateway.Stream,
		Runner:     c.Runner,
		Engine:     c.Engine,
		Reconciler: c.Reconciler,
		Projector:  c.Projector,
		Confirmer:  opts.Confirmer,
	})
	return c, nil
}

// Run starts the loop and the alert monitor. It returns immediately.
func (c *Core) Run(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.running = true
	if c.loop != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.loop.Run(ctx)
		}()
	}
	mon := &monitor.Monitor{
		Bus:  c.Bus,
		Sink: monitor.LogSink{Log: c.Log.With().Str("component", "alerts").Logger()},
		Log:  c.Log,
		Now:  c.Sched.Now,
	}
	mon.Start(ctx)
}

// Start begins a trading session over codes.
func (c *Core) Start(ctx context.Context, codes []string) error {
	return c.Session.Start(ctx, codes)
}

// Stop ends the session.
func (c *Core) Stop() error {
	return c.Session.Stop()
}

// Status implements api.Core.
func (c *Core) Status() session.Status {
	return c.Session.Status()
}

// Diagnostics projects every code on the scheduler.
func (c *Core) Diagnostics() []diagnostics.Row {
	var rows []diagnostics.Row
	c.Sched.Call(func() { rows = c.Projector.Snapshot() })
	return rows
}

// TradesOn prefers the journal, which survives restarts.
func (c *Core) TradesOn(ctx context.Context, day string) ([]state.Trade, error) {
	if c.Journal != nil {
		return c.Journal.TradesOn(ctx, day)
	}
	var out []state.Trade
	c.Sched.Call(func() { out = c.State.TradesOn(day) })
	return out, nil
}

// ResetSync clears a sync_failed latch.
func (c *Core) ResetSync(code string) bool {
	var ok bool
	c.Sched.Call(func() { ok = c.Reconciler.Reset(code) })
	return ok
}

// Today is the current trading day key.
func (c *Core) Today() string {
	return risk.DayKey(c.Sched.Now())
}

// Close stops the session if it is running and releases every resource.
func (c *Core) Close() error {
	var errs []error
	// Without a running loop Stop would wait forever on the scheduler.
	if c.running || c.loop == nil {
		if err := c.Session.Stop(); err != nil && !errors.Is(err, session.ErrNotRunning) {
			errs = append(errs, err)
		}
	}
	if c.pool != nil {
		c.pool.Close()
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.loop != nil {
		c.loop.Stop()
	}
	c.wg.Wait()
	if c.Journal != nil {
		if err := c.Journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
	}
	if c.database != nil {
		if err := c.database.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close db: %w", err))
		}
	}
	return errors.Join(errs...)
}
