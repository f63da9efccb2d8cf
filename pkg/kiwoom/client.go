// Package kiwoom is the Kiwoom Securities REST and realtime client.
package kiwoom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"kiwoom-core/pkg/exchanges/common"
	"kiwoom-core/pkg/retry"
)

// DefaultBaseURL is the production REST host.
const DefaultBaseURL = "https://api.kiwoom.com"

// Endpoint paths grouped by TR category.
const (
	pathToken   = "/oauth2/token"
	pathStkInfo = "/api/dostk/stkinfo"
	pathMrkCond = "/api/dostk/mrkcond"
	pathAccount = "/api/dostk/acnt"
	pathOrder   = "/api/dostk/ordr"
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	AppKey     string
	SecretKey  string
	TokenDir   string // empty disables the on-disk token cache
	Gate       *common.RateGate
	HTTPClient *http.Client
	Retry      retry.Config
	Logger     zerolog.Logger
	// Observe is called after every business call with its latency.
	Observe func(apiID string, d time.Duration, err error)
	Now     func() time.Time
}

// Client wraps REST access to Kiwoom. It implements common.Broker.
type Client struct {
	baseURL    string
	appKey     string
	secretKey  string
	httpClient *http.Client
	gate       *common.RateGate
	retry      retry.Config
	tokens     *tokenSource
	log        zerolog.Logger
	observe    func(string, time.Duration, error)
	now        func() time.Time
}

var _ common.Broker = (*Client)(nil)

// NewClient builds a REST client.
func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:    opts.BaseURL,
		appKey:     opts.AppKey,
		secretKey:  opts.SecretKey,
		httpClient: opts.HTTPClient,
		gate:       opts.Gate,
		retry:      opts.Retry,
		log:        opts.Logger,
		observe:    opts.Observe,
		now:        opts.Now,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.gate == nil {
		c.gate = common.NewRateGate(common.DefaultGateInterval)
	}
	if c.retry.MaxAttempts == 0 {
		c.retry = retry.Broker()
	}
	if c.retry.Retryable == nil {
		c.retry.Retryable = retryable
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.tokens = newTokenSource(opts.TokenDir, opts.AppKey, c.issueToken, c.now)
	return c
}

// Token returns a valid bearer token, issuing one when needed. The
// realtime stream authenticates with it.
func (c *Client) Token(ctx context.Context) (string, error) {
	return c.tokens.Get(ctx)
}

// retryable retries throttling, server errors and transport failures.
func retryable(err error) bool {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

// retryableOrder is the narrower policy for order TRs. Only throttling
// and failures to connect are retried; a timeout or 5xx may come after the
// broker accepted the order, and resending it would double the position.
func retryableOrder(err error) bool {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

type envelope struct {
	ReturnCode int             `json:"return_code"`
	ReturnMsg  string          `json:"return_msg"`
	Output     json.RawMessage `json:"output"`
}

func (c *Client) issueToken(ctx context.Context) (Token, error) {
	body := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.appKey,
		"secretkey":  c.secretKey,
	}
	var resp struct {
		Token      string `json:"token"`
		TokenType  string `json:"token_type"`
		ExpiresDT  string `json:"expires_dt"`
		ReturnCode int    `json:"return_code"`
		ReturnMsg  string `json:"return_msg"`
	}

	err := retry.Do(ctx, c.retry, func() error {
		return c.gate.Do(ctx, func() error {
			raw, status, err := c.send(ctx, pathToken, "", "", body)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return &common.APIError{Status: status, Message: snippet(raw), Endpoint: "token"}
			}
			return json.Unmarshal(raw, &resp)
		})
	})
	if err != nil {
		return Token{}, fmt.Errorf("issue token: %w", err)
	}
	if resp.ReturnCode != 0 || resp.Token == "" {
		return Token{}, fmt.Errorf("issue token: %w", &common.APIError{
			Status:     http.StatusUnauthorized,
			ReturnCode: resp.ReturnCode,
			Message:    resp.ReturnMsg,
			Endpoint:   "token",
		})
	}

	expires := parseStamp(resp.ExpiresDT)
	if expires.IsZero() {
		expires = c.now().Add(24 * time.Hour)
	}
	c.log.Info().Time("expires", expires).Msg("kiwoom token issued")
	return Token{Token: resp.Token, TokenType: resp.TokenType, ExpiresAt: expires}, nil
}

// call posts a TR request and decodes envelope.output into out.
func (c *Client) call(ctx context.Context, path, apiID string, body, out any) error {
	start := c.now()
	policy := c.retry
	if path == pathOrder {
		policy.Retryable = retryableOrder
	}
	err := retry.Do(ctx, policy, func() error {
		token, err := c.tokens.Get(ctx)
		if err != nil {
			return err
		}
		return c.gate.Do(ctx, func() error {
			return c.exchange(ctx, path, apiID, token, body, out)
		})
	})
	if errors.Is(err, common.ErrUnauthorized) {
		c.tokens.Invalidate()
	}
	if c.observe != nil {
		c.observe(apiID, c.now().Sub(start), err)
	}
	if err != nil {
		c.log.Debug().Err(err).Str("api_id", apiID).Msg("kiwoom call failed")
	}
	return err
}

func (c *Client) exchange(ctx context.Context, path, apiID, token string, body, out any) error {
	raw, status, err := c.send(ctx, path, apiID, token, body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &common.APIError{Status: status, Message: snippet(raw), Endpoint: apiID}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode %s: %w", apiID, err)
	}
	if env.ReturnCode != 0 {
		return &common.APIError{Status: status, ReturnCode: env.ReturnCode, Message: env.ReturnMsg, Endpoint: apiID}
	}
	if out == nil {
		return nil
	}
	if len(env.Output) == 0 || string(env.Output) == "null" {
		return fmt.Errorf("%s: %w", apiID, common.ErrEmptyPayload)
	}
	if err := json.Unmarshal(env.Output, out); err != nil {
		return fmt.Errorf("decode %s output: %w", apiID, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, path, apiID, token string, body any) ([]byte, int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	if apiID != "" {
		req.Header.Set("api-id", apiID)
	}
	if token != "" {
		req.Header.Set("authorization", "Bearer "+token)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, res.StatusCode, err
	}
	return raw, res.StatusCode, nil
}

func snippet(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max])
	}
	return string(b)
}
