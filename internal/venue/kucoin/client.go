// Package kucoin implements the venue contract against the KuCoin spot API.
// Streaming uses KuCoin's bootstrap-token websocket protocol.
package kucoin

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cryptogate/config"
	"cryptogate/internal/market"
	"cryptogate/internal/normalize"
	"cryptogate/internal/stream"
	"cryptogate/internal/venue"
)

const (
	mainnetREST = "https://api.kucoin.com"
	sandboxREST = "https://openapi-sandbox.kucoin.com"

	okCode = "200000"
)

type signer struct {
	apiKey     string
	secret     string
	passphrase string
}

// Sign computes the KuCoin v2 signature: base64 HMAC-SHA256 over
// timestamp+method+endpoint+body, with a separately signed passphrase.
func (s *signer) Sign(method, path string, query url.Values, body []byte) (http.Header, string, error) {
	if s.apiKey == "" || s.secret == "" || s.passphrase == "" {
		return nil, "", venue.ErrMissingCredentials
	}
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	endpoint := path
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write([]byte(ts + method + endpoint))
	mac.Write(body)
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	pmac := hmac.New(sha256.New, []byte(s.secret))
	pmac.Write([]byte(s.passphrase))
	passphrase := base64.StdEncoding.EncodeToString(pmac.Sum(nil))

	header := http.Header{}
	header.Set("KC-API-KEY", s.apiKey)
	header.Set("KC-API-SIGN", sig)
	header.Set("KC-API-TIMESTAMP", ts)
	header.Set("KC-API-PASSPHRASE", passphrase)
	header.Set("KC-API-KEY-VERSION", "2")
	return header, "", nil
}

// Client is the KuCoin venue implementation.
type Client struct {
	*venue.Base
	cfg  *config.VenueConfig
	rest *venue.RESTClient

	mu  sync.Mutex
	sup *stream.Supervisor
}

// New builds a KuCoin client from configuration.
func New(cfg *config.VenueConfig, emitter *market.Emitter) *Client {
	restURL := cfg.RESTURL
	if restURL == "" {
		restURL = mainnetREST
		if cfg.Sandbox {
			restURL = sandboxREST
		}
	}
	budget := cfg.RateLimit.MaxRequests
	if budget <= 0 {
		budget = 600
	}
	c := &Client{
		Base: venue.NewBase(normalize.VenueKucoin, emitter),
		cfg:  cfg,
	}
	c.rest = venue.NewRESTClient(normalize.VenueKucoin, venue.RESTOptions{
		BaseURL:           restURL,
		Timeout:           cfg.Timeout.Std(),
		Budget:            budget,
		Window:            cfg.RateLimit.Interval.Std(),
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		MaxRetries:        cfg.Retry.MaxAttempts,
		RetryBaseDelay:    cfg.Retry.BaseDelay.Std(),
		RetryMaxDelay:     cfg.Retry.MaxDelay.Std(),
	}, emitter, &signer{apiKey: cfg.APIKey, secret: cfg.APISecret, passphrase: cfg.Passphrase})
	return c
}

// call unwraps KuCoin's REST envelope: every response carries a string code,
// and anything but 200000 is an API-level failure.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body interface{}, signed bool, out interface{}) error {
	var env normalize.KucoinEnvelope
	if err := c.rest.Do(ctx, method, path, query, body, signed, &env); err != nil {
		return err
	}
	return decodeEnvelope(&env, out)
}

func (c *Client) callOnce(ctx context.Context, method, path string, query url.Values, signed bool, out interface{}) error {
	var env normalize.KucoinEnvelope
	if err := c.rest.Once(ctx, method, path, query, nil, signed, &env); err != nil {
		return err
	}
	return decodeEnvelope(&env, out)
}

func decodeEnvelope(env *normalize.KucoinEnvelope, out interface{}) error {
	if env.Code != okCode {
		return fmt.Errorf("kucoin api error: code %s: %s", env.Code, env.Msg)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("kucoin decode data: %w", err)
	}
	return nil
}

func (c *Client) healthInterval() time.Duration {
	if iv := c.cfg.HealthInterval.Std(); iv > 0 {
		return iv
	}
	return 30 * time.Second
}

// Connect confirms reachability, validates credentials via API-key
// introspection, enforces the read-only gate and starts the health monitor.
func (c *Client) Connect(ctx context.Context) error {
	c.SetState(venue.StateConnecting)

	if err := c.callOnce(ctx, http.MethodGet, "/api/v1/timestamp", nil, false, nil); err != nil {
		c.SetState(venue.StateDisconnected)
		c.RecordError(err)
		return fmt.Errorf("kucoin unreachable: %w", err)
	}

	if c.cfg.APIKey != "" {
		var info normalize.KucoinAPIKeyInfo
		if err := c.call(ctx, http.MethodGet, "/api/v1/user/api-key", url.Values{}, nil, true, &info); err != nil {
			c.SetState(venue.StateDisconnected)
			c.RecordError(err)
			return err
		}
		if c.cfg.ReadOnly && !c.cfg.Sandbox && hasTradingPermission(info.Permission) {
			c.SetState(venue.StateDisconnected)
			return fmt.Errorf("kucoin: %w", venue.ErrTradingPermission)
		}
	}

	c.mu.Lock()
	if c.sup == nil {
		c.sup = stream.New(stream.Config{
			Venue:                normalize.VenueKucoin,
			ConnectTimeout:       c.cfg.Stream.ConnectTimeout.Std(),
			KeepAlive:            c.cfg.Stream.KeepAlive.Std(),
			HealthCheckPeriod:    c.cfg.Stream.HealthCheckPeriod.Std(),
			CloseWait:            c.cfg.Stream.CloseWait.Std(),
			MaxReconnectAttempts: c.cfg.Stream.MaxReconnectAttempts,
			ReconnectBaseDelay:   c.cfg.Stream.ReconnectBaseDelay.Std(),
			ReconnectMaxDelay:    c.cfg.Stream.ReconnectMaxDelay.Std(),
		}, &adapter{client: c}, c.Events())
	}
	c.mu.Unlock()

	c.StartMonitor(c.healthInterval(), c.HealthCheck)
	c.SetState(venue.StateConnected)
	c.Log().Info("kucoin client connected")
	return nil
}

// hasTradingPermission inspects KuCoin's comma-separated permission list.
// Anything beyond general (read) access counts as trading capability.
func hasTradingPermission(permission string) bool {
	for _, p := range strings.Split(permission, ",") {
		switch strings.ToLower(strings.TrimSpace(p)) {
		case "", "general":
		default:
			return true
		}
	}
	return false
}

// Disconnect tears down all stream subscriptions and the health monitor.
func (c *Client) Disconnect(ctx context.Context) error {
	c.StopMonitor()
	c.mu.Lock()
	sup := c.sup
	c.sup = nil
	c.mu.Unlock()
	if sup != nil {
		sup.Shutdown()
	}
	c.SetState(venue.StateDisconnected)
	c.Log().Info("kucoin client disconnected")
	return nil
}

// HealthCheck performs one unretried timestamp round-trip.
func (c *Client) HealthCheck(ctx context.Context) bool {
	err := c.callOnce(ctx, http.MethodGet, "/api/v1/timestamp", nil, false, nil)
	if err != nil {
		c.RecordError(err)
	}
	return err == nil
}

// Statistics snapshots the client's counters.
func (c *Client) Statistics() market.Stats {
	st := market.Stats{
		Venue:       normalize.VenueKucoin,
		State:       c.State().String(),
		Requests:    c.rest.Requests(),
		LastError:   c.LastError(),
		ConnectedAt: c.ConnectedAt(),
	}
	c.mu.Lock()
	if c.sup != nil {
		st.StreamMessages = c.sup.Messages()
		st.Reconnects = c.sup.Reconnects()
		st.Subscriptions = c.sup.ActiveCount()
	}
	c.mu.Unlock()
	return st
}

// GetTicker returns 24h market stats for symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (*market.Ticker, error) {
	sym := normalize.NormalizeSymbol(symbol, normalize.VenueKucoin)
	q := url.Values{"symbol": {sym}}
	var raw normalize.KucoinStats
	if err := c.call(ctx, http.MethodGet, "/api/v1/market/stats", q, nil, false, &raw); err != nil {
		c.RecordError(err)
		return nil, err
	}
	t := normalize.KucoinTicker(&raw)
	if t.Symbol == "" {
		t.Symbol = sym
	}
	return t, nil
}

// GetOrderBook returns up to limit levels per side from the level2 snapshot.
func (c *Client) GetOrderBook(ctx context.Context, symbol string, limit int) (*market.OrderBook, error) {
	sym := normalize.NormalizeSymbol(symbol, normalize.VenueKucoin)
	q := url.Values{"symbol": {sym}}
	var raw normalize.KucoinDepth
	if err := c.call(ctx, http.MethodGet, "/api/v1/market/orderbook/level2_100", q, nil, false, &raw); err != nil {
		c.RecordError(err)
		return nil, err
	}
	book := normalize.KucoinOrderBook(sym, &raw)
	if limit > 0 {
		if len(book.Bids) > limit {
			book.Bids = book.Bids[:limit]
		}
		if len(book.Asks) > limit {
			book.Asks = book.Asks[:limit]
		}
	}
	return book, nil
}

// GetCandles returns klines for the timeframe; KuCoin bounds are seconds.
func (c *Client) GetCandles(ctx context.Context, symbol, timeframe string, limit int, start, end time.Time) ([]market.Candle, error) {
	sym := normalize.NormalizeSymbol(symbol, normalize.VenueKucoin)
	q := url.Values{"symbol": {sym}, "type": {normalize.NormalizeTimeframe(timeframe, normalize.VenueKucoin)}}
	if !start.IsZero() {
		q.Set("startAt", strconv.FormatInt(start.Unix(), 10))
	}
	if !end.IsZero() {
		q.Set("endAt", strconv.FormatInt(end.Unix(), 10))
	}
	var rows [][]string
	if err := c.call(ctx, http.MethodGet, "/api/v1/market/candles", q, nil, false, &rows); err != nil {
		c.RecordError(err)
		return nil, err
	}
	candles := make([]market.Candle, 0, len(rows))
	for _, row := range rows {
		raw := make([]interface{}, len(row))
		for i, v := range row {
			raw[i] = v
		}
		candle, err := normalize.NormalizeCandle(raw, normalize.VenueKucoin, sym, timeframe)
		if err != nil {
			c.Log().WithError(err).Warn("skipping malformed candle row")
			continue
		}
		candles = append(candles, *candle)
		if limit > 0 && len(candles) >= limit {
			break
		}
	}
	return candles, nil
}

// GetRecentTrades returns the most recent public trades.
func (c *Client) GetRecentTrades(ctx context.Context, symbol string, limit int) ([]market.Trade, error) {
	sym := normalize.NormalizeSymbol(symbol, normalize.VenueKucoin)
	q := url.Values{"symbol": {sym}}
	var raw []normalize.KucoinTradeItem
	if err := c.call(ctx, http.MethodGet, "/api/v1/market/histories", q, nil, false, &raw); err != nil {
		c.RecordError(err)
		return nil, err
	}
	trades := make([]market.Trade, 0, len(raw))
	for i := range raw {
		trades = append(trades, *normalize.KucoinTradeRecord(sym, &raw[i]))
		if limit > 0 && len(trades) >= limit {
			break
		}
	}
	return trades, nil
}

func (c *Client) supervisor() (*stream.Supervisor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sup == nil {
		return nil, fmt.Errorf("kucoin: %w", venue.ErrUnavailable)
	}
	return c.sup, nil
}

func (c *Client) subscribe(channel, symbol, timeframe string, cb stream.Callback) error {
	sup, err := c.supervisor()
	if err != nil {
		return err
	}
	key := stream.Key{Channel: channel, Symbol: normalize.NormalizeSymbol(symbol, normalize.VenueKucoin), Timeframe: timeframe}
	return sup.Subscribe(key, cb)
}

func (c *Client) unsubscribe(channel, symbol, timeframe string) error {
	sup, err := c.supervisor()
	if err != nil {
		return err
	}
	key := stream.Key{Channel: channel, Symbol: normalize.NormalizeSymbol(symbol, normalize.VenueKucoin), Timeframe: timeframe}
	return sup.Unsubscribe(key)
}

func (c *Client) SubscribeTicker(ctx context.Context, symbol string, cb stream.Callback) error {
	return c.subscribe("ticker", symbol, "", cb)
}

func (c *Client) SubscribeOrderBook(ctx context.Context, symbol string, cb stream.Callback) error {
	return c.subscribe("orderbook", symbol, "", cb)
}

func (c *Client) SubscribeTrades(ctx context.Context, symbol string, cb stream.Callback) error {
	return c.subscribe("trades", symbol, "", cb)
}

func (c *Client) SubscribeCandles(ctx context.Context, symbol, timeframe string, cb stream.Callback) error {
	return c.subscribe("candles", symbol, timeframe, cb)
}

func (c *Client) UnsubscribeTicker(symbol string) error    { return c.unsubscribe("ticker", symbol, "") }
func (c *Client) UnsubscribeOrderBook(symbol string) error { return c.unsubscribe("orderbook", symbol, "") }
func (c *Client) UnsubscribeTrades(symbol string) error    { return c.unsubscribe("trades", symbol, "") }
func (c *Client) UnsubscribeCandles(symbol, timeframe string) error {
	return c.unsubscribe("candles", symbol, timeframe)
}

// PlaceOrder submits a new order with a generated clientOid.
func (c *Client) PlaceOrder(ctx context.Context, req market.OrderRequest) (*market.OrderResponse, error) {
	sym := normalize.NormalizeSymbol(req.Symbol, normalize.VenueKucoin)
	body := map[string]string{
		"clientOid": uuid.NewString(),
		"symbol":    sym,
		"side":      string(req.Side),
		"type":      string(req.Type),
		"size":      strconv.FormatFloat(req.Quantity, 'f', -1, 64),
	}
	if req.Type == market.TypeLimit {
		body["price"] = strconv.FormatFloat(req.Price, 'f', -1, 64)
	}
	var created struct {
		OrderID string `json:"orderId"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/v1/orders", url.Values{}, body, true, &created); err != nil {
		c.RecordError(err)
		return nil, err
	}
	return c.GetOrder(ctx, sym, created.OrderID)
}

// CancelOrder cancels one order by ID.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := c.call(ctx, http.MethodDelete, "/api/v1/orders/"+orderID, url.Values{}, nil, true, nil); err != nil {
		c.RecordError(err)
		return err
	}
	return nil
}

// GetOrder fetches one order by ID.
func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (*market.OrderResponse, error) {
	var raw normalize.KucoinOrder
	if err := c.call(ctx, http.MethodGet, "/api/v1/orders/"+orderID, url.Values{}, nil, true, &raw); err != nil {
		c.RecordError(err)
		return nil, err
	}
	return normalize.KucoinOrderResponse(&raw), nil
}

type orderPage struct {
	Items []normalize.KucoinOrder `json:"items"`
}

// GetOpenOrders lists active orders, optionally filtered by symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]market.OrderResponse, error) {
	return c.orders(ctx, symbol, "active", 0)
}

// GetOrderHistory lists completed orders for symbol.
func (c *Client) GetOrderHistory(ctx context.Context, symbol string, limit int) ([]market.OrderResponse, error) {
	return c.orders(ctx, symbol, "done", limit)
}

func (c *Client) orders(ctx context.Context, symbol, status string, limit int) ([]market.OrderResponse, error) {
	q := url.Values{"status": {status}}
	if symbol != "" {
		q.Set("symbol", normalize.NormalizeSymbol(symbol, normalize.VenueKucoin))
	}
	var page orderPage
	if err := c.call(ctx, http.MethodGet, "/api/v1/orders", q, nil, true, &page); err != nil {
		c.RecordError(err)
		return nil, err
	}
	out := make([]market.OrderResponse, 0, len(page.Items))
	for i := range page.Items {
		out = append(out, *normalize.KucoinOrderResponse(&page.Items[i]))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// GetBalance returns all non-zero account balances.
func (c *Client) GetBalance(ctx context.Context) ([]market.Balance, error) {
	var accounts []normalize.KucoinAccount
	if err := c.call(ctx, http.MethodGet, "/api/v1/accounts", url.Values{}, nil, true, &accounts); err != nil {
		c.RecordError(err)
		return nil, err
	}
	balances := make([]market.Balance, 0, len(accounts))
	for _, a := range accounts {
		available := normalize.SanitizeNumeric(a.Available)
		holds := normalize.SanitizeNumeric(a.Holds)
		if available == 0 && holds == 0 {
			continue
		}
		balances = append(balances, market.Balance{Asset: a.Currency, Free: available, Locked: holds})
	}
	return balances, nil
}

// GetPositions reports spot holdings as unleveraged long positions.
func (c *Client) GetPositions(ctx context.Context) ([]market.Position, error) {
	balances, err := c.GetBalance(ctx)
	if err != nil {
		return nil, err
	}
	positions := make([]market.Position, 0, len(balances))
	for _, b := range balances {
		positions = append(positions, market.Position{
			Venue:    normalize.VenueKucoin,
			Symbol:   b.Asset,
			Side:     "long",
			Quantity: b.Free + b.Locked,
		})
	}
	return positions, nil
}

var _ venue.Client = (*Client)(nil)
