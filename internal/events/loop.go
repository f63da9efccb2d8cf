package events

import (
	"context"
	"sync"
	"time"
)

// Scheduler runs closures on the single goroutine that owns trading state.
// Everything that touches the universe, the ledger, pending orders or the
// reconciler batch goes through it.
type Scheduler interface {
	// Post enqueues fn; it runs after everything posted before it.
	Post(fn func())
	// After posts fn once d has elapsed.
	After(d time.Duration, fn func()) Timer
	// Call runs fn on the scheduler and waits for it. Used by readers
	// outside the loop such as the HTTP API.
	Call(fn func())
	Now() time.Time
}

// Timer is a pending After callback.
type Timer interface {
	// Stop prevents the callback from running; it reports whether it did.
	Stop() bool
}

// Loop is the production Scheduler: one goroutine draining a command
// channel. Timers post their callback back onto the channel.
type Loop struct {
	cmds chan func()
	done chan struct{}
	once sync.Once
	loc  *time.Location
}

// NewLoop creates a loop with the given queue depth.
func NewLoop(buffer int) *Loop {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Loop{cmds: make(chan func(), buffer), done: make(chan struct{})}
}

// Run drains commands until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case fn := <-l.cmds:
			fn()
		}
	}
}

// Stop ends Run. Commands posted afterwards are dropped.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.done) })
}

func (l *Loop) Post(fn func()) {
	select {
	case l.cmds <- fn:
	case <-l.done:
	}
}

func (l *Loop) After(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, func() { l.Post(fn) })
}

func (l *Loop) Call(fn func()) {
	ran := make(chan struct{})
	l.Post(func() {
		defer close(ran)
		fn()
	})
	select {
	case <-ran:
	case <-l.done:
	}
}

// SetLocation makes Now report wall time in loc. Call before Run.
func (l *Loop) SetLocation(loc *time.Location) {
	l.loc = loc
}

func (l *Loop) Now() time.Time {
	if l.loc != nil {
		return time.Now().In(l.loc)
	}
	return time.Now()
}

// Every posts fn every d until the returned stop func is called.
func Every(s Scheduler, d time.Duration, fn func()) (stop func()) {
	var (
		mu      sync.Mutex
		stopped bool
		t       Timer
	)
	var arm func()
	arm = func() {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		t = s.After(d, func() {
			mu.Lock()
			halt := stopped
			mu.Unlock()
			if halt {
				return
			}
			fn()
			arm()
		})
	}
	arm()
	return func() {
		mu.Lock()
		defer mu.Unlock()
		stopped = true
		if t != nil {
			t.Stop()
		}
	}
}
