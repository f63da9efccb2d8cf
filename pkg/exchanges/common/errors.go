package common

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthorized      = errors.New("broker rejected credentials")
	ErrNoAccount         = errors.New("no trading account available")
	ErrRateLimited       = errors.New("broker rate limit exceeded")
	ErrOrderRejected     = errors.New("order rejected by broker")
	ErrInsufficientCash  = errors.New("insufficient cash")
	ErrStrategyNotLive   = errors.New("strategy not supported in live mode")
	ErrLiveGuardRejected = errors.New("live trading not confirmed")
	ErrEmptyWatchlist    = errors.New("watchlist has no valid codes")
	ErrEmptyPayload      = errors.New("broker returned an empty payload")
)

// APIError is a failed broker call: either a non-2xx HTTP status or a
// business return_code other than 0.
type APIError struct {
	Status     int
	ReturnCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	if e.Status != 0 && e.Status != http.StatusOK {
		return fmt.Sprintf("kiwoom %s: http %d: %s", e.Endpoint, e.Status, e.Message)
	}
	return fmt.Sprintf("kiwoom %s: return_code %d: %s", e.Endpoint, e.ReturnCode, e.Message)
}

// Unwrap maps the error onto the sentinel that callers classify on.
func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return ErrUnauthorized
	case e.Status == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.ReturnCode != 0:
		return ErrOrderRejected
	}
	return nil
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// IsBusiness reports whether the broker understood and refused the request.
func IsBusiness(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ReturnCode != 0 && !apiErr.Temporary()
	}
	return errors.Is(err, ErrOrderRejected)
}
