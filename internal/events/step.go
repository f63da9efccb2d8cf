package events

import (
	"sort"
	"sync"
	"time"
)

// StepLoop is a deterministic Scheduler for tests and backtests: a manual
// clock, an explicit queue drained by Drain, and timers fired by Advance.
type StepLoop struct {
	mu     sync.Mutex
	now    time.Time
	queue  []func()
	timers []*stepTimer
	seq    int
}

type stepTimer struct {
	loop    *StepLoop
	at      time.Time
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func (t *stepTimer) Stop() bool {
	t.loop.mu.Lock()
	defer t.loop.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// NewStepLoop starts the manual clock at start.
func NewStepLoop(start time.Time) *StepLoop {
	return &StepLoop{now: start}
}

func (s *StepLoop) Post(fn func()) {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	s.mu.Unlock()
}

func (s *StepLoop) After(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &stepTimer{loop: s, at: s.now.Add(d), seq: s.seq, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// Call runs fn inline after draining what is already queued.
func (s *StepLoop) Call(fn func()) {
	s.Drain()
	fn()
}

func (s *StepLoop) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Set moves the clock without firing timers.
func (s *StepLoop) Set(t time.Time) {
	s.mu.Lock()
	s.now = t
	s.mu.Unlock()
}

// Drain runs queued closures, including ones they post, until empty.
func (s *StepLoop) Drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		fn()
	}
}

// Advance moves the clock forward by d, firing due timers in deadline
// order with the clock set to each deadline.
func (s *StepLoop) Advance(d time.Duration) {
	s.mu.Lock()
	end := s.now.Add(d)
	s.mu.Unlock()

	s.Drain()
	for {
		t := s.nextDue(end)
		if t == nil {
			break
		}
		s.mu.Lock()
		if t.at.After(s.now) {
			s.now = t.at
		}
		s.mu.Unlock()
		t.fn()
		s.Drain()
	}
	s.mu.Lock()
	s.now = end
	s.mu.Unlock()
}

// Pending returns the number of armed timers.
func (s *StepLoop) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (s *StepLoop) nextDue(end time.Time) *stepTimer {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := s.timers[:0]
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	s.timers = live
	sort.SliceStable(s.timers, func(i, j int) bool {
		if s.timers[i].at.Equal(s.timers[j].at) {
			return s.timers[i].seq < s.timers[j].seq
		}
		return s.timers[i].at.Before(s.timers[j].at)
	})
	if len(s.timers) == 0 || s.timers[0].at.After(end) {
		return nil
	}
	t := s.timers[0]
	t.fired = true
	return t
}
