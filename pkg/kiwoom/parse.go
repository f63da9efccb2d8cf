package kiwoom

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"kiwoom-core/pkg/exchanges/common"
)

var kst = common.KST

// num parses Kiwoom numeric strings such as "+70,100" or "-0000512".
func num(s string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	s = strings.TrimPrefix(s, "+")
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// price returns the magnitude of a signed price; the sign only carries the
// direction of change versus the previous close.
func price(s string) float64 {
	return math.Abs(num(s))
}

func qty(s string) int64 {
	return int64(math.Abs(num(s)))
}

// signed keeps the sign, used for net flows.
func signed(s string) int64 {
	return int64(num(s))
}

// normalizeCode strips the "A" prefix and any exchange suffix.
func normalizeCode(code string) string {
	code = strings.TrimSpace(code)
	if i := strings.IndexByte(code, '_'); i > 0 {
		code = code[:i]
	}
	if len(code) == 7 && (code[0] == 'A' || code[0] == 'a') {
		code = code[1:]
	}
	return code
}

// parseDay parses YYYYMMDD in exchange time.
func parseDay(s string) time.Time {
	t, err := time.ParseInLocation("20060102", strings.TrimSpace(s), kst)
	if err != nil {
		return time.Time{}
	}
	return t
}

// parseStamp parses YYYYMMDDHHMMSS in exchange time.
func parseStamp(s string) time.Time {
	t, err := time.ParseInLocation("20060102150405", strings.TrimSpace(s), kst)
	if err != nil {
		return time.Time{}
	}
	return t
}

// anyString renders loosely typed JSON values from realtime payloads.
func anyString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// first returns the first non-empty value among the given keys.
func first(body map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := body[k]; ok {
			if s := strings.TrimSpace(anyString(v)); s != "" {
				return s
			}
		}
	}
	return ""
}
