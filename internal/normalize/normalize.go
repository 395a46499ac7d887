// Package normalize maps venue-native wire shapes onto the canonical market
// types. All functions are pure: no state, no I/O.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"cryptogate/internal/market"
)

const (
	VenueBinance = "binance"
	VenueKucoin  = "kucoin"
)

// millisThreshold separates second-resolution from millisecond-resolution
// timestamps. Values below it are treated as seconds and scaled up.
const millisThreshold = 1e12

// UnsupportedVenueError reports a normalization request for a venue the
// gateway has no mapping for.
type UnsupportedVenueError struct {
	Op    string
	Venue string
}

func (e *UnsupportedVenueError) Error() string {
	return fmt.Sprintf("%s: unsupported venue %q", e.Op, e.Venue)
}

// quoteAssets lists known quote currencies, longest first so suffix matching
// never splits USDT as USD+T.
var quoteAssets = []string{"USDT", "USDC", "BUSD", "TUSD", "USD", "BTC", "ETH", "BNB", "KCS", "EUR", "GBP"}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,}(-[A-Z0-9]{2,})?$`)
var numericOnly = regexp.MustCompile(`^[0-9]+$`)

func stripSymbol(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	for _, sep := range []string{"-", "/", "_", ":", " "} {
		s = strings.ReplaceAll(s, sep, "")
	}
	return s
}

func splitQuote(s string) (string, string) {
	for _, q := range quoteAssets {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return s[:len(s)-len(q)], q
		}
	}
	return "", ""
}

// NormalizeSymbol converts a symbol into the venue's native convention:
// Binance uses concatenated uppercase (BTCUSDT), KuCoin dash-separated
// (BTC-USDT). Normalizing an already-normalized symbol returns the same
// value. Unknown venues get the stripped concatenated form.
func NormalizeSymbol(raw, venue string) string {
	s := stripSymbol(raw)
	switch strings.ToLower(venue) {
	case VenueKucoin:
		base, quote := splitQuote(s)
		if quote == "" {
			return s
		}
		return base + "-" + quote
	default:
		return s
	}
}

var kucoinTimeframes = map[string]string{
	"1m":  "1min",
	"3m":  "3min",
	"5m":  "5min",
	"15m": "15min",
	"30m": "30min",
	"1h":  "1hour",
	"2h":  "2hour",
	"4h":  "4hour",
	"6h":  "6hour",
	"8h":  "8hour",
	"12h": "12hour",
	"1d":  "1day",
	"1w":  "1week",
}

// NormalizeTimeframe maps a canonical timeframe string onto the venue's
// encoding. Unknown input passes through unchanged.
func NormalizeTimeframe(raw, venue string) string {
	switch strings.ToLower(venue) {
	case VenueKucoin:
		if tf, ok := kucoinTimeframes[raw]; ok {
			return tf
		}
	}
	return raw
}

// SanitizeNumeric converts an arbitrary wire value to float64. Non-finite or
// unparsable input yields the optional default (zero when omitted) so NaN and
// Inf never propagate downstream.
func SanitizeNumeric(v interface{}, def ...float64) float64 {
	d := 0.0
	if len(def) > 0 {
		d = def[0]
	}
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return d
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return d
		}
		f = parsed
	default:
		return d
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return d
	}
	return f
}

// NormalizeTimestamp returns a millisecond timestamp. Values under the
// threshold are treated as seconds and scaled.
func NormalizeTimestamp(v interface{}) int64 {
	ts := SanitizeNumeric(v)
	if ts <= 0 {
		return 0
	}
	if ts < millisThreshold {
		return int64(ts * 1000)
	}
	return int64(ts)
}

// ValidateSymbol reports whether s looks like a tradable symbol. Pure-numeric
// and too-short strings are rejected.
func ValidateSymbol(s string) bool {
	up := strings.ToUpper(strings.TrimSpace(s))
	stripped := stripSymbol(up)
	if len(stripped) < 5 {
		return false
	}
	if numericOnly.MatchString(stripped) {
		return false
	}
	return symbolPattern.MatchString(strings.ReplaceAll(up, "/", "-"))
}

// ParseSymbol decomposes a symbol into base and quote assets against the
// known quote-currency list, falling back to a fixed three-character split.
func ParseSymbol(s string) (string, string) {
	stripped := stripSymbol(s)
	if base, quote := splitQuote(stripped); quote != "" {
		return base, quote
	}
	if len(stripped) > 3 {
		return stripped[:len(stripped)-3], stripped[len(stripped)-3:]
	}
	return stripped, ""
}

var binanceOrderStatuses = map[string]market.OrderStatus{
	"NEW":              market.OrderStatusNew,
	"PARTIALLY_FILLED": market.OrderStatusPartiallyFilled,
	"FILLED":           market.OrderStatusFilled,
	"CANCELED":         market.OrderStatusCancelled,
	"PENDING_CANCEL":   market.OrderStatusCancelled,
	"REJECTED":         market.OrderStatusRejected,
	"EXPIRED":          market.OrderStatusExpired,
	"EXPIRED_IN_MATCH": market.OrderStatusExpired,
}

var kucoinOrderStatuses = map[string]market.OrderStatus{
	"open":      market.OrderStatusNew,
	"active":    market.OrderStatusNew,
	"match":     market.OrderStatusPartiallyFilled,
	"done":      market.OrderStatusFilled,
	"cancel":    market.OrderStatusCancelled,
	"cancelled": market.OrderStatusCancelled,
	"canceled":  market.OrderStatusCancelled,
	"fail":      market.OrderStatusRejected,
	"failed":    market.OrderStatusRejected,
	"expired":   market.OrderStatusExpired,
}

// NormalizeOrderStatus maps a venue status string onto the canonical enum.
// Unrecognized values default to new.
func NormalizeOrderStatus(raw, venue string) market.OrderStatus {
	var st market.OrderStatus
	var ok bool
	switch strings.ToLower(venue) {
	case VenueBinance:
		st, ok = binanceOrderStatuses[strings.ToUpper(strings.TrimSpace(raw))]
	case VenueKucoin:
		st, ok = kucoinOrderStatuses[strings.ToLower(strings.TrimSpace(raw))]
	}
	if !ok {
		return market.OrderStatusNew
	}
	return st
}

// NormalizeCandle converts a raw kline into a canonical Candle. Positional
// arrays follow each venue's own field order (Binance: ts,o,h,l,c,v; KuCoin:
// ts,o,c,h,l,v); maps with named fields are accepted for either venue.
func NormalizeCandle(raw interface{}, venue, symbol, timeframe string) (*market.Candle, error) {
	v := strings.ToLower(venue)
	if v != VenueBinance && v != VenueKucoin {
		return nil, &UnsupportedVenueError{Op: "candle normalization", Venue: venue}
	}
	c := &market.Candle{Venue: v, Symbol: symbol, Timeframe: timeframe, Closed: true}
	switch t := raw.(type) {
	case []interface{}:
		if len(t) < 6 {
			return nil, fmt.Errorf("candle normalization: short positional candle (%d fields)", len(t))
		}
		c.Timestamp = NormalizeTimestamp(t[0])
		c.Open = SanitizeNumeric(t[1])
		if v == VenueKucoin {
			c.Close = SanitizeNumeric(t[2])
			c.High = SanitizeNumeric(t[3])
			c.Low = SanitizeNumeric(t[4])
		} else {
			c.High = SanitizeNumeric(t[2])
			c.Low = SanitizeNumeric(t[3])
			c.Close = SanitizeNumeric(t[4])
		}
		c.Volume = SanitizeNumeric(t[5])
	case map[string]interface{}:
		c.Timestamp = NormalizeTimestamp(firstOf(t, "timestamp", "time", "t", "openTime"))
		c.Open = SanitizeNumeric(firstOf(t, "open", "o"))
		c.High = SanitizeNumeric(firstOf(t, "high", "h"))
		c.Low = SanitizeNumeric(firstOf(t, "low", "l"))
		c.Close = SanitizeNumeric(firstOf(t, "close", "c"))
		c.Volume = SanitizeNumeric(firstOf(t, "volume", "v"))
	default:
		return nil, fmt.Errorf("candle normalization: unexpected shape %T", raw)
	}
	return c, nil
}

func firstOf(m map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

// levels converts raw [price, quantity, ...] string rows into book levels.
func levels(rows [][]string) []market.BookLevel {
	out := make([]market.BookLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		out = append(out, market.BookLevel{
			Price:    SanitizeNumeric(row[0]),
			Quantity: SanitizeNumeric(row[1]),
		})
	}
	return out
}
