// Package strategy evaluates a strategy pack (one primary signal, entry
// filters, risk overlays and an optional entry score) against a symbol.
package strategy

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"kiwoom-core/internal/indicators"
	"kiwoom-core/internal/universe"
)

// Options configures an Engine.
type Options struct {
	CacheTTL time.Duration // DECISION_CACHE_TTL_SEC; 0 disables caching
	Stale    time.Duration // EXTERNAL_FLOW_STALE_SEC
	Live     bool
	// OnStale is called when an evaluation fails closed on stale flow
	// data. The caller debounces refreshes.
	OnStale func(code string)
	Logger  zerolog.Logger
}

// Engine evaluates a pack. It is used from the main scheduler only.
type Engine struct {
	pack  *Pack
	opts  Options
	cache map[string]cached
	log   zerolog.Logger

	evaluations int
	indicators  int
}

type cached struct {
	bucket   int64
	decision Decision
}

// NewEngine builds an engine for pack.
func NewEngine(pack *Pack, opts Options) *Engine {
	return &Engine{
		pack:  pack,
		opts:  opts,
		cache: make(map[string]cached),
		log:   opts.Logger.With().Str("component", "strategy").Str("primary", pack.Primary).Logger(),
	}
}

// Pack returns the active pack.
func (e *Engine) Pack() *Pack { return e.pack }

// Evaluations counts uncached evaluations.
func (e *Engine) Evaluations() int { return e.evaluations }

// IndicatorComputations counts indicator computations across evaluations.
func (e *Engine) IndicatorComputations() int { return e.indicators }

// Invalidate drops cached decisions, e.g. after a target recompute.
func (e *Engine) Invalidate(code string) {
	if code == "" {
		e.cache = make(map[string]cached)
		return
	}
	delete(e.cache, code)
}

func (e *Engine) bucket(now time.Time) int64 {
	return int64(math.Floor(float64(now.UnixNano()) / float64(e.opts.CacheTTL)))
}

// NeedsExternal reports whether the pack reads investor/program flow.
func (e *Engine) NeedsExternal() bool {
	if c, ok := e.pack.Capability(); ok && c.NeedsExternal {
		return true
	}
	return e.pack.EntryScore.Enabled && e.pack.EntryScore.Weights["flow"] > 0
}

// ExternalFresh reports whether sym's flow data may be used at now.
func (e *Engine) ExternalFresh(sym *universe.Symbol, now time.Time) bool {
	if sym.ExternalStatus != universe.ExternalFresh {
		return false
	}
	age, ok := sym.ExternalAge(now)
	return ok && age <= e.opts.Stale
}

// Evaluate runs the pack for sym. Decisions are cached per code for one
// TTL bucket.
func (e *Engine) Evaluate(sym *universe.Symbol, pf Portfolio, now time.Time) Decision {
	if e.opts.CacheTTL > 0 {
		b := e.bucket(now)
		if c, ok := e.cache[sym.Code]; ok && c.bucket == b {
			d := c.decision
			d.Cached = true
			return d
		}
		d := e.evaluate(sym, pf, now)
		e.cache[sym.Code] = cached{bucket: b, decision: d}
		return d
	}
	return e.evaluate(sym, pf, now)
}

func (e *Engine) evaluate(sym *universe.Symbol, pf Portfolio, now time.Time) Decision {
	e.evaluations++
	d := Decision{Code: sym.Code, Direction: Flat, At: now}

	live := e.opts.Live || pf.Live
	if live {
		if c, ok := e.pack.Capability(); !ok || !c.LiveSupported {
			d.Reason = ReasonNotLive
			return d
		}
	}

	if e.NeedsExternal() && !e.ExternalFresh(sym, now) {
		d.Reason = ReasonExternalStale
		if e.opts.OnStale != nil {
			e.opts.OnStale(sym.Code)
		}
		return d
	}

	primary, ok := primaries[e.pack.Primary]
	if !ok {
		d.Reason = ReasonUnknownPrimary
		return d
	}

	set := indicators.NewSet(sym.Series())
	defer func() { e.indicators += set.Computed }()
	in := Input{Sym: sym, Ind: set, Params: &e.pack.Params, Now: now}

	sig := primary(in)
	d.Direction, d.Strength = sig.Direction, sig.Strength
	if !sig.Passed {
		d.Reason = ReasonPrimary
		if sig.Reason != "" {
			d.Reason = ReasonPrimary + ":" + sig.Reason
		}
		return d
	}
	if sig.Direction == Short && (!e.pack.ShortEnabled || live) {
		d.Reason = ReasonShortNotAllowed
		return d
	}

	passed := true
	for _, name := range e.pack.EntryFilters {
		c := filters[name](in)
		d.Filters = append(d.Filters, c)
		if !c.Passed && passed {
			passed = false
			d.Reason = ReasonFilter + ":" + name
		}
	}
	for _, name := range e.pack.RiskOverlays {
		c := overlays[name](in, pf)
		d.Overlays = append(d.Overlays, c)
		if !c.Passed && passed {
			passed = false
			d.Reason = ReasonOverlay + ":" + name
		}
	}
	if !passed {
		return d
	}

	if e.pack.EntryScore.Enabled {
		d.Score = entryScore(in, e.pack.EntryScore.Weights)
		if d.Score < e.pack.ScoreThreshold() {
			d.Reason = ReasonScore
			return d
		}
	}

	d.Passed = true
	d.Reason = ReasonPassed
	e.log.Debug().Str("code", sym.Code).Str("direction", string(d.Direction)).Float64("strength", d.Strength).Msg("pack passed")
	return d
}
