package order

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"kiwoom-core/pkg/exchanges/common"
)

// PaperStream feeds random-walk ticks for subscribed codes and relays the
// paper broker's order events. It implements common.Stream.
type PaperStream struct {
	broker   *PaperBroker
	interval time.Duration
	step     float64 // max relative move per tick

	mu      sync.Mutex
	rng     *rand.Rand
	codes   map[string]bool
	volume  map[string]int64
	orders  bool
	onTick  func(common.Tick)
	onOrder func(common.OrderEvent)
	onState func(common.StreamState)
	cancel  context.CancelFunc
	done    chan struct{}
}

var _ common.Stream = (*PaperStream)(nil)

// NewPaperStream creates a stream over broker. A zero interval defaults to
// one second and a zero step to 0.3%.
func NewPaperStream(broker *PaperBroker, interval time.Duration, step float64, seed int64) *PaperStream {
	if interval <= 0 {
		interval = time.Second
	}
	if step <= 0 {
		step = 0.003
	}
	s := &PaperStream{
		broker:   broker,
		interval: interval,
		step:     step,
		rng:      rand.New(rand.NewSource(seed)),
		codes:    make(map[string]bool),
		volume:   make(map[string]int64),
	}
	broker.OnOrderEvent(s.relay)
	return s
}

func (s *PaperStream) relay(ev common.OrderEvent) {
	s.mu.Lock()
	fn, on := s.onOrder, s.orders
	s.mu.Unlock()
	if on && fn != nil {
		fn(ev)
	}
}

func (s *PaperStream) state(st common.StreamState) {
	s.mu.Lock()
	fn := s.onState
	s.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

// Connect starts the tick generator.
func (s *PaperStream) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.state(common.StreamConnected)
	go s.run(ctx)
	return nil
}

func (s *PaperStream) run(ctx context.Context) {
	defer close(s.done)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, tk := range s.Step() {
				s.mu.Lock()
				fn := s.onTick
				s.mu.Unlock()
				if fn != nil {
					fn(tk)
				}
			}
		}
	}
}

// Step advances every subscribed code by one random-walk move, marks the
// broker and returns the ticks. Connect calls it on each interval.
func (s *PaperStream) Step() []common.Tick {
	s.mu.Lock()
	codes := make([]string, 0, len(s.codes))
	for c := range s.codes {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	moves := make([]float64, len(codes))
	for i := range codes {
		moves[i] = (s.rng.Float64()*2 - 1) * s.step
	}
	s.mu.Unlock()

	now := s.broker.cfg.Now()
	ticks := make([]common.Tick, 0, len(codes))
	for i, code := range codes {
		last := s.broker.Price(code)
		p := math.Max(1, math.Round(last*(1+moves[i])))
		s.broker.Mark(code, p)

		s.mu.Lock()
		s.volume[code] += 100 + int64(math.Abs(moves[i])*1e6)
		vol := s.volume[code]
		s.mu.Unlock()

		ticks = append(ticks, common.Tick{
			Code: code, Price: p, Volume: vol,
			Ask: p + tickSize(p), Bid: p, Time: now,
		})
	}
	return ticks
}

func (s *PaperStream) Subscribe(codes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range codes {
		s.codes[c] = true
	}
	return nil
}

func (s *PaperStream) Unsubscribe(codes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range codes {
		delete(s.codes, c)
	}
	return nil
}

func (s *PaperStream) SubscribeOrderEvents() error {
	s.mu.Lock()
	s.orders = true
	s.mu.Unlock()
	return nil
}

func (s *PaperStream) OnTick(fn func(common.Tick)) {
	s.mu.Lock()
	s.onTick = fn
	s.mu.Unlock()
}

func (s *PaperStream) OnOrderEvent(fn func(common.OrderEvent)) {
	s.mu.Lock()
	s.onOrder = fn
	s.mu.Unlock()
}

func (s *PaperStream) OnState(fn func(common.StreamState)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// Close stops the generator. It is safe to call more than once.
func (s *PaperStream) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	s.state(common.StreamClosed)
	return nil
}
