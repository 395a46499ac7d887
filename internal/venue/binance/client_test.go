package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
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
		if r.URL.Path != "/api/v3/ping" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{}`))
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
	st := c.Statistics()
	if st.Venue != "binance" || st.State != "connected" {
		t.Errorf("statistics = %+v", st)
	}
}

func TestConnectUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(testVenueConfig(srv.URL), market.NewEmitter())
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected connect failure")
	}
	if c.State() != venue.StateDisconnected {
		t.Errorf("state = %s", c.State())
	}
}

func TestConnectRejectsTradingCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/ping":
			w.Write([]byte(`{}`))
		case "/api/v3/account":
			if r.Header.Get("X-MBX-APIKEY") != "key" {
				t.Error("missing api key header")
			}
			if r.URL.Query().Get("signature") == "" || r.URL.Query().Get("timestamp") == "" {
				t.Error("request not signed")
			}
			w.Write([]byte(`{"canTrade":true,"canWithdraw":false,"balances":[]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	cfg := testVenueConfig(srv.URL)
	cfg.APIKey = "key"
	cfg.APISecret = "secret"
	cfg.ReadOnly = true

	c := New(cfg, market.NewEmitter())
	err := c.Connect(context.Background())
	if !errors.Is(err, venue.ErrTradingPermission) {
		t.Fatalf("expected trading-permission rejection, got %v", err)
	}
}

func TestConnectAcceptsReadOnlyCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/ping":
			w.Write([]byte(`{}`))
		case "/api/v3/account":
			w.Write([]byte(`{"canTrade":false,"canWithdraw":false,"balances":[]}`))
		}
	}))
	defer srv.Close()

	cfg := testVenueConfig(srv.URL)
	cfg.APIKey = "key"
	cfg.APISecret = "secret"
	cfg.ReadOnly = true

	c := New(cfg, market.NewEmitter())
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c.Disconnect(ctx)
}

func TestGetTicker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ticker/24hr" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("symbol = %q, want normalized BTCUSDT", got)
		}
		w.Write([]byte(`{"symbol":"BTCUSDT","lastPrice":"50000.5","bidPrice":"50000","askPrice":"50001","highPrice":"51000","lowPrice":"49000","volume":"1234","priceChangePercent":"2.5","closeTime":1640995200000}`))
	}))
	defer srv.Close()

	c := New(testVenueConfig(srv.URL), market.NewEmitter())
	ticker, err := c.GetTicker(context.Background(), "BTC-USDT")
	if err != nil {
		t.Fatalf("get ticker: %v", err)
	}
	if ticker.Last != 50000.5 || ticker.Venue != "binance" {
		t.Errorf("ticker = %+v", ticker)
	}
}

func TestGetCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("interval"); got != "1h" {
			t.Errorf("interval = %q", got)
		}
		w.Write([]byte(`[[1640995200000,"50000.00","51000.00","49000.00","50500.00","100.00",1640998799999,"0",0,"0","0","0"]]`))
	}))
	defer srv.Close()

	c := New(testVenueConfig(srv.URL), market.NewEmitter())
	candles, err := c.GetCandles(context.Background(), "BTCUSDT", "1h", 1, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("get candles: %v", err)
	}
	if len(candles) != 1 {
		t.Fatalf("candles = %d", len(candles))
	}
	if candles[0].Open != 50000 || candles[0].Close != 50500 {
		t.Errorf("candle = %+v", candles[0])
	}
}

func TestGetOrderBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"lastUpdateId":1,"bids":[["50000","1"],["50001","2"]],"asks":[["50010","1"]]}`))
	}))
	defer srv.Close()

	c := New(testVenueConfig(srv.URL), market.NewEmitter())
	book, err := c.GetOrderBook(context.Background(), "BTCUSDT", 50)
	if err != nil {
		t.Fatalf("get order book: %v", err)
	}
	if book.Bids[0].Price != 50001 {
		t.Errorf("best bid = %v", book.Bids[0].Price)
	}
}

func TestPlaceOrderSignedRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v3/order" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("signature") == "" || q.Get("newClientOrderId") == "" {
			t.Error("order request missing signature or client id")
		}
		if q.Get("timeInForce") != "GTC" {
			t.Errorf("timeInForce = %q", q.Get("timeInForce"))
		}
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":99,"clientOrderId":"abc","price":"50000","origQty":"1","executedQty":"0","status":"NEW","type":"LIMIT","side":"BUY","transactTime":1640995200000}`))
	}))
	defer srv.Close()

	cfg := testVenueConfig(srv.URL)
	cfg.APIKey = "key"
	cfg.APISecret = "secret"
	c := New(cfg, market.NewEmitter())

	resp, err := c.PlaceOrder(context.Background(), market.OrderRequest{
		Symbol:   "BTC-USDT",
		Side:     market.SideBuy,
		Type:     market.TypeLimit,
		Quantity: 1,
		Price:    50000,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if resp.ID != "99" || resp.Status != market.OrderStatusNew {
		t.Errorf("order response = %+v", resp)
	}
}

func TestSignatureIsFinalQueryParameter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.RawQuery
		idx := strings.LastIndex(raw, "&signature=")
		if idx < 0 {
			t.Fatalf("signature not the trailing parameter: %q", raw)
		}
		// The signature must verify over exactly the bytes that precede it.
		mac := hmac.New(sha256.New, []byte("secret"))
		mac.Write([]byte(raw[:idx]))
		if want := hex.EncodeToString(mac.Sum(nil)); raw[idx+len("&signature="):] != want {
			t.Errorf("signature does not match the sent query bytes: %q", raw)
		}
		w.Write([]byte(`{"canTrade":false,"canWithdraw":false,"balances":[]}`))
	}))
	defer srv.Close()

	cfg := testVenueConfig(srv.URL)
	cfg.APIKey = "key"
	cfg.APISecret = "secret"
	c := New(cfg, market.NewEmitter())

	if _, err := c.GetBalance(context.Background()); err != nil {
		t.Fatalf("get balance: %v", err)
	}
}

func TestSubscribeBeforeConnect(t *testing.T) {
	c := New(testVenueConfig("http://example.invalid"), market.NewEmitter())
	err := c.SubscribeTicker(context.Background(), "BTCUSDT", nil)
	if !errors.Is(err, venue.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
