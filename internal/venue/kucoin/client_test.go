package kucoin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cryptogate/config"
	"cryptogate/internal/market"
	"cryptogate/internal/venue"
)

func testVenueConfig(url string) *config.VenueConfig {
	return &config.VenueConfig{
		Enabled:        true,
		RESTURL:        url,
		Timeout:        config.Duration(2 * time.Second),
		HealthInterval: config.Duration(time.Minute),
		Retry: config.RetryConfig{
			MaxAttempts: 1,
			BaseDelay:   config.Duration(time.Millisecond),
			MaxDelay:    config.Duration(5 * time.Millisecond),
		},
	}
}

func TestConnectWithoutCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/timestamp" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"code":"200000","data":1640995200000}`))
	}))
	defer srv.Close()

	c := New(testVenueConfig(srv.URL), market.NewEmitter())
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Disconnect(ctx)
	if c.State() != venue.StateConnected {
		t.Errorf("state = %s", c.State())
	}
}

func TestConnectRejectsTradingCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/timestamp":
			w.Write([]byte(`{"code":"200000","data":1640995200000}`))
		case "/api/v1/user/api-key":
			for _, h := range []string{"KC-API-KEY", "KC-API-SIGN", "KC-API-TIMESTAMP", "KC-API-PASSPHRASE"} {
				if r.Header.Get(h) == "" {
					t.Errorf("missing header %s", h)
				}
			}
			if r.Header.Get("KC-API-KEY-VERSION") != "2" {
				t.Error("expected v2 key signing")
			}
			w.Write([]byte(`{"code":"200000","data":{"apiKey":"key","permission":"General,Spot"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	cfg := testVenueConfig(srv.URL)
	cfg.APIKey = "key"
	cfg.APISecret = "secret"
	cfg.Passphrase = "phrase"
	cfg.ReadOnly = true

	c := New(cfg, market.NewEmitter())
	err := c.Connect(context.Background())
	if !errors.Is(err, venue.ErrTradingPermission) {
		t.Fatalf("expected trading-permission rejection, got %v", err)
	}
}

func TestConnectAcceptsGeneralPermission(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/timestamp":
			w.Write([]byte(`{"code":"200000","data":1640995200000}`))
		case "/api/v1/user/api-key":
			w.Write([]byte(`{"code":"200000","data":{"apiKey":"key","permission":"General"}}`))
		}
	}))
	defer srv.Close()

	cfg := testVenueConfig(srv.URL)
	cfg.APIKey = "key"
	cfg.APISecret = "secret"
	cfg.Passphrase = "phrase"
	cfg.ReadOnly = true

	c := New(cfg, market.NewEmitter())
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c.Disconnect(ctx)
}

func TestEnvelopeErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"400100","msg":"symbol not found"}`))
	}))
	defer srv.Close()

	c := New(testVenueConfig(srv.URL), market.NewEmitter())
	_, err := c.GetTicker(context.Background(), "NOPE-USDT")
	if err == nil {
		t.Fatal("expected envelope error")
	}
}

func TestGetTickerNormalizesSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "BTC-USDT" {
			t.Errorf("symbol = %q, want BTC-USDT", got)
		}
		w.Write([]byte(`{"code":"200000","data":{"symbol":"BTC-USDT","last":"50000","buy":"49999","sell":"50001","high":"51000","low":"49000","vol":"1234","changeRate":"0.025","time":1640995200000}}`))
	}))
	defer srv.Close()

	c := New(testVenueConfig(srv.URL), market.NewEmitter())
	ticker, err := c.GetTicker(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("get ticker: %v", err)
	}
	if ticker.Last != 50000 || ticker.Venue != "kucoin" {
		t.Errorf("ticker = %+v", ticker)
	}
}

func TestGetCandlesPositionalOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("type"); got != "1hour" {
			t.Errorf("type = %q, want 1hour", got)
		}
		w.Write([]byte(`{"code":"200000","data":[["1640995200","50000","50500","51000","49000","100","5050000"]]}`))
	}))
	defer srv.Close()

	c := New(testVenueConfig(srv.URL), market.NewEmitter())
	candles, err := c.GetCandles(context.Background(), "BTC-USDT", "1h", 0, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("get candles: %v", err)
	}
	if len(candles) != 1 {
		t.Fatalf("candles = %d", len(candles))
	}
	c0 := candles[0]
	if c0.Open != 50000 || c0.Close != 50500 || c0.High != 51000 || c0.Low != 49000 {
		t.Errorf("kucoin positional order mishandled: %+v", c0)
	}
}

func TestPlaceOrderFetchesCreatedOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/orders":
			w.Write([]byte(`{"code":"200000","data":{"orderId":"abc-123"}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/orders/abc-123":
			w.Write([]byte(`{"code":"200000","data":{"id":"abc-123","symbol":"BTC-USDT","side":"buy","type":"limit","price":"50000","size":"1","dealSize":"0","isActive":true,"createdAt":1640995200000}}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	cfg := testVenueConfig(srv.URL)
	cfg.APIKey = "key"
	cfg.APISecret = "secret"
	cfg.Passphrase = "phrase"

	c := New(cfg, market.NewEmitter())
	resp, err := c.PlaceOrder(context.Background(), market.OrderRequest{
		Symbol:   "BTCUSDT",
		Side:     market.SideBuy,
		Type:     market.TypeLimit,
		Quantity: 1,
		Price:    50000,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if resp.ID != "abc-123" || resp.Status != market.OrderStatusNew {
		t.Errorf("order = %+v", resp)
	}
}

func TestHasTradingPermission(t *testing.T) {
	cases := []struct {
		permission string
		want       bool
	}{
		{"General", false},
		{"general", false},
		{"", false},
		{"General,Spot", true},
		{"General,Futures", true},
		{"Spot", true},
	}
	for _, tc := range cases {
		if got := hasTradingPermission(tc.permission); got != tc.want {
			t.Errorf("hasTradingPermission(%q) = %v, want %v", tc.permission, got, tc.want)
		}
	}
}
