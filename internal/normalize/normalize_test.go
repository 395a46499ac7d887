package normalize

import (
	"math"
	"testing"

	"cryptogate/internal/market"
)

func TestNormalizeSymbol(t *testing.T) {
	cases := []struct {
		raw   string
		venue string
		want  string
	}{
		{"BTC-USDT", "binance", "BTCUSDT"},
		{"BTCUSDT", "binance", "BTCUSDT"},
		{"btc/usdt", "binance", "BTCUSDT"},
		{"BTCUSDT", "kucoin", "BTC-USDT"},
		{"BTC-USDT", "kucoin", "BTC-USDT"},
		{"eth_usdt", "kucoin", "ETH-USDT"},
		{"SOLBTC", "kucoin", "SOL-BTC"},
		{" doge-usdt ", "binance", "DOGEUSDT"},
	}
	for _, tc := range cases {
		got := NormalizeSymbol(tc.raw, tc.venue)
		if got != tc.want {
			t.Errorf("NormalizeSymbol(%q, %q) = %q, want %q", tc.raw, tc.venue, got, tc.want)
		}
		// Normalizing its own output must be stable.
		if again := NormalizeSymbol(got, tc.venue); again != got {
			t.Errorf("NormalizeSymbol not idempotent for %q on %s: %q -> %q", tc.raw, tc.venue, got, again)
		}
	}
}

func TestNormalizeTimeframe(t *testing.T) {
	cases := []struct {
		raw   string
		venue string
		want  string
	}{
		{"1h", "kucoin", "1hour"},
		{"1m", "kucoin", "1min"},
		{"1d", "kucoin", "1day"},
		{"1h", "binance", "1h"},
		{"42x", "kucoin", "42x"},
	}
	for _, tc := range cases {
		if got := NormalizeTimeframe(tc.raw, tc.venue); got != tc.want {
			t.Errorf("NormalizeTimeframe(%q, %q) = %q, want %q", tc.raw, tc.venue, got, tc.want)
		}
	}
}

func TestSanitizeNumeric(t *testing.T) {
	if got := SanitizeNumeric("50000.25"); got != 50000.25 {
		t.Errorf("string parse: got %v", got)
	}
	if got := SanitizeNumeric(42); got != 42 {
		t.Errorf("int: got %v", got)
	}
	if got := SanitizeNumeric("invalid"); got != 0 {
		t.Errorf("invalid string should default to 0, got %v", got)
	}
	if got := SanitizeNumeric("invalid", 100); got != 100 {
		t.Errorf("invalid string with default should return 100, got %v", got)
	}
	if got := SanitizeNumeric(math.Inf(1)); got != 0 {
		t.Errorf("Inf should default to 0, got %v", got)
	}
	if got := SanitizeNumeric(math.NaN(), 7); got != 7 {
		t.Errorf("NaN with default should return 7, got %v", got)
	}
	if got := SanitizeNumeric(nil); got != 0 {
		t.Errorf("nil should default to 0, got %v", got)
	}
}

func TestNormalizeTimestamp(t *testing.T) {
	if got := NormalizeTimestamp(int64(1640995200000)); got != 1640995200000 {
		t.Errorf("millis passthrough: got %d", got)
	}
	if got := NormalizeTimestamp(int64(1640995200)); got != 1640995200000 {
		t.Errorf("seconds should scale to millis: got %d", got)
	}
	if got := NormalizeTimestamp("1640995200"); got != 1640995200000 {
		t.Errorf("string seconds: got %d", got)
	}
	if got := NormalizeTimestamp(nil); got != 0 {
		t.Errorf("nil: got %d", got)
	}
}

func TestValidateSymbol(t *testing.T) {
	cases := []struct {
		symbol string
		want   bool
	}{
		{"BTC-USDT", true},
		{"BTCUSDT", true},
		{"ethusdt", true},
		{"123456", false},
		{"BT", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := ValidateSymbol(tc.symbol); got != tc.want {
			t.Errorf("ValidateSymbol(%q) = %v, want %v", tc.symbol, got, tc.want)
		}
	}
}

func TestParseSymbol(t *testing.T) {
	base, quote := ParseSymbol("BTCUSDT")
	if base != "BTC" || quote != "USDT" {
		t.Errorf("ParseSymbol(BTCUSDT) = %q/%q", base, quote)
	}
	base, quote = ParseSymbol("ETH-BTC")
	if base != "ETH" || quote != "BTC" {
		t.Errorf("ParseSymbol(ETH-BTC) = %q/%q", base, quote)
	}
}

func TestNormalizeOrderStatus(t *testing.T) {
	cases := []struct {
		raw   string
		venue string
		want  market.OrderStatus
	}{
		{"NEW", "binance", market.OrderStatusNew},
		{"PARTIALLY_FILLED", "binance", market.OrderStatusPartiallyFilled},
		{"FILLED", "binance", market.OrderStatusFilled},
		{"CANCELED", "binance", market.OrderStatusCancelled},
		{"EXPIRED", "binance", market.OrderStatusExpired},
		{"done", "kucoin", market.OrderStatusFilled},
		{"active", "kucoin", market.OrderStatusNew},
		{"cancel", "kucoin", market.OrderStatusCancelled},
		{"SOMETHING_ODD", "binance", market.OrderStatusNew},
		{"whatever", "kucoin", market.OrderStatusNew},
	}
	for _, tc := range cases {
		if got := NormalizeOrderStatus(tc.raw, tc.venue); got != tc.want {
			t.Errorf("NormalizeOrderStatus(%q, %q) = %q, want %q", tc.raw, tc.venue, got, tc.want)
		}
	}
}

func TestNormalizeCandleBinanceArray(t *testing.T) {
	raw := []interface{}{int64(1640995200000), "50000.00", "51000.00", "49000.00", "50500.00", "100.00"}
	c, err := NormalizeCandle(raw, "binance", "BTCUSDT", "1h")
	if err != nil {
		t.Fatalf("NormalizeCandle: %v", err)
	}
	if c.Timestamp != 1640995200000 {
		t.Errorf("timestamp = %d", c.Timestamp)
	}
	if c.Open != 50000 || c.High != 51000 || c.Low != 49000 || c.Close != 50500 || c.Volume != 100 {
		t.Errorf("ohlcv mismatch: %+v", c)
	}
	if c.Symbol != "BTCUSDT" || c.Timeframe != "1h" || c.Venue != "binance" {
		t.Errorf("identity mismatch: %+v", c)
	}
}

func TestNormalizeCandleKucoinArray(t *testing.T) {
	// KuCoin orders positional candles ts, open, close, high, low, volume.
	raw := []interface{}{"1640995200", "50000", "50500", "51000", "49000", "100"}
	c, err := NormalizeCandle(raw, "kucoin", "BTC-USDT", "1h")
	if err != nil {
		t.Fatalf("NormalizeCandle: %v", err)
	}
	if c.Timestamp != 1640995200000 {
		t.Errorf("timestamp = %d", c.Timestamp)
	}
	if c.Open != 50000 || c.Close != 50500 || c.High != 51000 || c.Low != 49000 || c.Volume != 100 {
		t.Errorf("ohlcv mismatch: %+v", c)
	}
}

func TestNormalizeCandleMap(t *testing.T) {
	raw := map[string]interface{}{
		"timestamp": int64(1640995200000),
		"open":      "1.0",
		"high":      "2.0",
		"low":       "0.5",
		"close":     "1.5",
		"volume":    "10",
	}
	c, err := NormalizeCandle(raw, "binance", "ETHUSDT", "1h")
	if err != nil {
		t.Fatalf("NormalizeCandle: %v", err)
	}
	if c.Open != 1.0 || c.High != 2.0 || c.Low != 0.5 || c.Close != 1.5 || c.Volume != 10 {
		t.Errorf("ohlcv mismatch: %+v", c)
	}
}

func TestNormalizeCandleErrors(t *testing.T) {
	if _, err := NormalizeCandle([]interface{}{1, 2}, "binance", "BTCUSDT", "1h"); err == nil {
		t.Error("short array should fail")
	}
	if _, err := NormalizeCandle("nonsense", "binance", "BTCUSDT", "1h"); err == nil {
		t.Error("string input should fail")
	}
	_, err := NormalizeCandle([]interface{}{1, 2, 3, 4, 5, 6}, "bybit", "BTCUSDT", "1h")
	if err == nil {
		t.Fatal("unsupported venue should fail")
	}
	if _, ok := err.(*UnsupportedVenueError); !ok {
		t.Errorf("expected UnsupportedVenueError, got %T", err)
	}
}
