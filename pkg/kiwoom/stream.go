package kiwoom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"kiwoom-core/pkg/exchanges/common"
	"kiwoom-core/pkg/retry"
)

// Realtime types.
const (
	RealTypeTick  = "0B"
	RealTypeOrder = "00"
)

// StreamOptions configures a Stream.
type StreamOptions struct {
	URL         string
	Token       func(ctx context.Context) (string, error)
	Dialer      *websocket.Dialer
	Logger      zerolog.Logger
	BackoffBase time.Duration // default 1s
	BackoffMax  time.Duration // default 60s
	MaxFailures int           // consecutive reconnect failures before giving up, default 5
}

// Stream is a reconnecting realtime client. It implements common.Stream.
type Stream struct {
	opts StreamOptions
	log  zerolog.Logger

	mu          sync.Mutex
	writeMu     sync.Mutex
	conn        *websocket.Conn
	codes       []string
	orderEvents bool
	closed      bool
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}

	onTick  func(common.Tick)
	onOrder func(common.OrderEvent)
	onState func(common.StreamState)
}

var _ common.Stream = (*Stream)(nil)

// NewStream builds a realtime client; call Connect to start it.
func NewStream(opts StreamOptions) *Stream {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 60 * time.Second
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 5
	}
	return &Stream{opts: opts, log: opts.Logger}
}

func (s *Stream) OnTick(fn func(common.Tick)) {
	s.mu.Lock()
	s.onTick = fn
	s.mu.Unlock()
}

func (s *Stream) OnOrderEvent(fn func(common.OrderEvent)) {
	s.mu.Lock()
	s.onOrder = fn
	s.mu.Unlock()
}

func (s *Stream) OnState(fn func(common.StreamState)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// Connect dials once and starts the read loop. Later disconnects are
// handled by the reconnect policy.
func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.closed = false
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.emitState(common.StreamConnecting)
	conn, err := s.dial(ctx)
	if err != nil {
		s.mu.Lock()
		s.cancel()
		close(s.done)
		s.done = nil
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.emitState(common.StreamConnected)

	go s.readLoop()
	return nil
}

func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if s.opts.Token != nil {
		token, err := s.opts.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("realtime token: %w", err)
		}
		header.Set("authorization", "Bearer "+token)
	}
	conn, _, err := s.opts.Dialer.DialContext(ctx, s.opts.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial kiwoom ws: %w", err)
	}
	return conn, nil
}

// Subscribe adds codes to the tick subscription.
func (s *Stream) Subscribe(codes []string) error {
	s.mu.Lock()
	known := make(map[string]bool, len(s.codes))
	for _, c := range s.codes {
		known[c] = true
	}
	var added []string
	for _, c := range codes {
		if !known[c] {
			known[c] = true
			s.codes = append(s.codes, c)
			added = append(added, c)
		}
	}
	s.mu.Unlock()

	if len(added) == 0 {
		return nil
	}
	return s.send("1", RealTypeTick, added)
}

// Unsubscribe removes codes from the tick subscription.
func (s *Stream) Unsubscribe(codes []string) error {
	drop := make(map[string]bool, len(codes))
	for _, c := range codes {
		drop[c] = true
	}
	s.mu.Lock()
	kept := s.codes[:0]
	for _, c := range s.codes {
		if !drop[c] {
			kept = append(kept, c)
		}
	}
	s.codes = kept
	s.mu.Unlock()

	if len(codes) == 0 {
		return nil
	}
	return s.send("2", RealTypeTick, codes)
}

// SubscribeOrderEvents registers the order execution channel.
func (s *Stream) SubscribeOrderEvents() error {
	s.mu.Lock()
	s.orderEvents = true
	s.mu.Unlock()
	return s.send("1", RealTypeOrder, nil)
}

// Subscribed returns the codes currently subscribed.
func (s *Stream) Subscribed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.codes...)
}

type subscribeMsg struct {
	Header struct {
		TrType   string `json:"tr_type"`
		RealType string `json:"real_type"`
	} `json:"header"`
	Body struct {
		Codes string `json:"stk_cds"`
	} `json:"body"`
}

func (s *Stream) send(trType, realType string, codes []string) error {
	var msg subscribeMsg
	msg.Header.TrType = trType
	msg.Header.RealType = realType
	msg.Body.Codes = strings.Join(codes, ",")

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		// Remembered in s.codes; sent on (re)connect.
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

func (s *Stream) resubscribe() error {
	s.mu.Lock()
	codes := append([]string(nil), s.codes...)
	orders := s.orderEvents
	s.mu.Unlock()

	if len(codes) > 0 {
		if err := s.send("1", RealTypeTick, codes); err != nil {
			return err
		}
	}
	if orders {
		return s.send("1", RealTypeOrder, nil)
	}
	return nil
}

func (s *Stream) readLoop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			if s.isClosed() {
				return
			}
			s.log.Warn().Err(err).Msg("realtime read failed, reconnecting")
			if !s.reconnect() {
				return
			}
			continue
		}
		s.handle(msg)
	}
}

// reconnect retries with exponential backoff capped at BackoffMax and gives
// up after MaxFailures consecutive failures.
func (s *Stream) reconnect() bool {
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	ctx := s.ctx
	s.mu.Unlock()
	s.emitState(common.StreamReconnecting)

	for failures := 1; failures <= s.opts.MaxFailures; failures++ {
		delay := retry.Backoff(failures, s.opts.BackoffBase, s.opts.BackoffMax, 2)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}

		conn, err := s.dial(ctx)
		if err != nil {
			s.log.Warn().Err(err).Int("attempt", failures).Dur("delay", delay).Msg("realtime reconnect failed")
			continue
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return false
		}
		s.conn = conn
		s.mu.Unlock()

		if err := s.resubscribe(); err != nil {
			s.log.Warn().Err(err).Msg("realtime resubscribe failed")
			continue
		}
		s.log.Info().Int("attempt", failures).Msg("realtime reconnected")
		s.emitState(common.StreamConnected)
		return true
	}

	s.log.Error().Int("failures", s.opts.MaxFailures).Msg("realtime reconnect gave up")
	s.emitState(common.StreamFailed)
	return false
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops the stream. Safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = conn.Close()
	}
	if done != nil {
		<-done
	}
	s.emitState(common.StreamClosed)
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return nil
}

func (s *Stream) emitState(st common.StreamState) {
	s.mu.Lock()
	fn := s.onState
	s.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

type realtimeMsg struct {
	Header struct {
		RealType string `json:"real_type"`
	} `json:"header"`
	Body map[string]any `json:"body"`
}

func (s *Stream) handle(raw []byte) {
	var msg realtimeMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.log.Debug().Err(err).Msg("realtime parse error")
		return
	}

	s.mu.Lock()
	onTick, onOrder := s.onTick, s.onOrder
	s.mu.Unlock()

	switch msg.Header.RealType {
	case RealTypeTick:
		if t, ok := ParseTick(msg.Body); ok && onTick != nil {
			onTick(t)
		}
	case RealTypeOrder:
		if ev, ok := ParseOrderEvent(msg.Body); ok && onOrder != nil {
			onOrder(ev)
		}
	}
}

// ParseTick decodes a 0B body.
func ParseTick(body map[string]any) (common.Tick, bool) {
	code := normalizeCode(first(body, "stk_cd", "code", "9001"))
	p := price(first(body, "cur_prc", "price", "10"))
	if code == "" || p <= 0 {
		return common.Tick{}, false
	}
	t := common.Tick{
		Code:   code,
		Price:  p,
		Volume: qty(first(body, "acc_trde_qty", "volume", "13")),
		Ask:    price(first(body, "sel_fpr_bid", "ask", "27")),
		Bid:    price(first(body, "buy_fpr_bid", "bid", "28")),
	}
	if ts := first(body, "cntr_tm", "20"); len(ts) == 6 {
		now := time.Now().In(kst)
		t.Time = parseStamp(now.Format("20060102") + ts)
	}
	return t, true
}

// ParseOrderEvent decodes a 00 body. Field names vary between broker
// documents, so several aliases are accepted for side and status.
func ParseOrderEvent(body map[string]any) (common.OrderEvent, bool) {
	code := normalizeCode(first(body, "stk_cd", "code", "9001"))
	if code == "" {
		return common.OrderEvent{}, false
	}
	side, ok := parseSide(first(body, "order_type", "ord_tp", "bs_tp", "side", "907"))
	if !ok {
		return common.OrderEvent{}, false
	}
	status, ok := parseStatus(first(body, "order_status", "ord_st", "status", "913"))
	if !ok {
		return common.OrderEvent{}, false
	}
	return common.OrderEvent{
		Code:    code,
		OrderNo: first(body, "ord_no", "order_no", "9203"),
		Side:    side,
		Status:  status,
		Qty:     qty(first(body, "cntr_qty", "qty", "911")),
		Price:   price(first(body, "cntr_pric", "price", "910")),
		Time:    time.Now(),
	}, true
}

func parseSide(s string) (common.Side, bool) {
	l := strings.ToLower(s)
	switch {
	case strings.Contains(s, "매수"), l == "buy", l == "2", strings.HasSuffix(l, "buy"):
		return common.SideBuy, true
	case strings.Contains(s, "매도"), l == "sell", l == "1", strings.HasSuffix(l, "sell"):
		return common.SideSell, true
	}
	return "", false
}

func parseStatus(s string) (common.OrderStatus, bool) {
	l := strings.ToLower(s)
	switch {
	case strings.Contains(s, "체결"), l == "filled", l == "fill", l == "executed":
		return common.StatusFilled, true
	case strings.Contains(s, "접수"), l == "accepted", l == "new":
		return common.StatusAccepted, true
	case strings.Contains(s, "취소"), l == "canceled", l == "cancelled":
		return common.StatusCanceled, true
	case strings.Contains(s, "거부"), l == "rejected":
		return common.StatusRejected, true
	case strings.Contains(s, "실패"), l == "failed":
		return common.StatusFailed, true
	}
	return "", false
}
