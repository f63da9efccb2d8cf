package common

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultGateInterval keeps broker traffic at or below 5 requests/second.
const DefaultGateInterval = 200 * time.Millisecond

// RateGate serializes broker calls and enforces a minimum spacing between
// them. One gate is shared by every caller in the process.
type RateGate struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	waits   uint64
}

// NewRateGate creates a gate allowing one call per interval.
func NewRateGate(interval time.Duration) *RateGate {
	if interval <= 0 {
		interval = DefaultGateInterval
	}
	return &RateGate{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Do waits for a slot and runs fn while holding the gate, so at most one
// call is in flight at a time.
func (g *RateGate) Do(ctx context.Context, fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	g.waits++
	return fn()
}

// Calls returns how many calls passed the gate.
func (g *RateGate) Calls() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waits
}
