// Package binance implements the venue contract against the Binance spot
// API: signed REST calls plus stream subscriptions through the supervisor.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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
	mainnetREST   = "https://api.binance.com"
	sandboxREST   = "https://testnet.binance.vision"
	mainnetStream = "wss://stream.binance.com:9443/ws"
	sandboxStream = "wss://stream.testnet.binance.vision/ws"

	recvWindow = "5000"
)

type signer struct {
	apiKey string
	secret string
}

// Sign adds the timestamp to the query, computes the HMAC-SHA256 signature
// over the encoded query plus body, and returns the query string with the
// signature as the final parameter, per Binance's request authentication
// scheme. The signed bytes and the sent bytes are identical by construction.
func (s *signer) Sign(method, path string, query url.Values, body []byte) (http.Header, string, error) {
	if s.apiKey == "" || s.secret == "" {
		return nil, "", venue.ErrMissingCredentials
	}
	query.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query.Set("recvWindow", recvWindow)
	encoded := query.Encode()
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write([]byte(encoded))
	mac.Write(body)
	rawQuery := encoded + "&signature=" + hex.EncodeToString(mac.Sum(nil))
	header := http.Header{}
	header.Set("X-MBX-APIKEY", s.apiKey)
	return header, rawQuery, nil
}

// Client is the Binance venue implementation.
type Client struct {
	*venue.Base
	cfg  *config.VenueConfig
	rest *venue.RESTClient

	mu  sync.Mutex
	sup *stream.Supervisor
}

// New builds a Binance client from configuration. Nothing connects until
// Connect is called.
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
		budget = 1200
	}
	c := &Client{
		Base: venue.NewBase(normalize.VenueBinance, emitter),
		cfg:  cfg,
	}
	c.rest = venue.NewRESTClient(normalize.VenueBinance, venue.RESTOptions{
		BaseURL:           restURL,
		Timeout:           cfg.Timeout.Std(),
		Budget:            budget,
		Window:            cfg.RateLimit.Interval.Std(),
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		MaxRetries:        cfg.Retry.MaxAttempts,
		RetryBaseDelay:    cfg.Retry.BaseDelay.Std(),
		RetryMaxDelay:     cfg.Retry.MaxDelay.Std(),
	}, emitter, &signer{apiKey: cfg.APIKey, secret: cfg.APISecret})
	return c
}

func (c *Client) streamURL() string {
	if c.cfg.StreamURL != "" {
		return c.cfg.StreamURL
	}
	if c.cfg.Sandbox {
		return sandboxStream
	}
	return mainnetStream
}

func (c *Client) healthInterval() time.Duration {
	if iv := c.cfg.HealthInterval.Std(); iv > 0 {
		return iv
	}
	return 30 * time.Second
}

// Connect confirms reachability, validates credentials, enforces the
// read-only credential gate and starts the health monitor.
func (c *Client) Connect(ctx context.Context) error {
	c.SetState(venue.StateConnecting)

	if err := c.rest.Once(ctx, http.MethodGet, "/api/v3/ping", nil, nil, false, nil); err != nil {
		c.SetState(venue.StateDisconnected)
		c.RecordError(err)
		return fmt.Errorf("binance unreachable: %w", err)
	}

	if c.cfg.APIKey != "" {
		account, err := c.account(ctx)
		if err != nil {
			c.SetState(venue.StateDisconnected)
			c.RecordError(err)
			return err
		}
		if c.cfg.ReadOnly && !c.cfg.Sandbox && (account.CanTrade || account.CanWithdraw) {
			c.SetState(venue.StateDisconnected)
			return fmt.Errorf("binance: %w", venue.ErrTradingPermission)
		}
	}

	c.mu.Lock()
	if c.sup == nil {
		c.sup = stream.New(stream.Config{
			Venue:                normalize.VenueBinance,
			ConnectTimeout:       c.cfg.Stream.ConnectTimeout.Std(),
			KeepAlive:            c.cfg.Stream.KeepAlive.Std(),
			HealthCheckPeriod:    c.cfg.Stream.HealthCheckPeriod.Std(),
			CloseWait:            c.cfg.Stream.CloseWait.Std(),
			MaxReconnectAttempts: c.cfg.Stream.MaxReconnectAttempts,
			ReconnectBaseDelay:   c.cfg.Stream.ReconnectBaseDelay.Std(),
			ReconnectMaxDelay:    c.cfg.Stream.ReconnectMaxDelay.Std(),
		}, &adapter{base: c.streamURL()}, c.Events())
	}
	c.mu.Unlock()

	c.StartMonitor(c.healthInterval(), c.HealthCheck)
	c.SetState(venue.StateConnected)
	c.Log().Info("binance client connected")
	return nil
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
	c.Log().Info("binance client disconnected")
	return nil
}

// HealthCheck performs one unretried ping round-trip.
func (c *Client) HealthCheck(ctx context.Context) bool {
	err := c.rest.Once(ctx, http.MethodGet, "/api/v3/ping", nil, nil, false, nil)
	if err != nil {
		c.RecordError(err)
	}
	return err == nil
}

// Statistics snapshots the client's counters.
func (c *Client) Statistics() market.Stats {
	st := market.Stats{
		Venue:       normalize.VenueBinance,
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

func (c *Client) account(ctx context.Context) (*normalize.BinanceAccount, error) {
	var account normalize.BinanceAccount
	if err := c.rest.Do(ctx, http.MethodGet, "/api/v3/account", url.Values{}, nil, true, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// GetTicker returns the 24hr ticker for symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (*market.Ticker, error) {
	sym := normalize.NormalizeSymbol(symbol, normalize.VenueBinance)
	q := url.Values{"symbol": {sym}}
	var raw normalize.BinanceTicker24h
	if err := c.rest.Do(ctx, http.MethodGet, "/api/v3/ticker/24hr", q, nil, false, &raw); err != nil {
		c.RecordError(err)
		return nil, err
	}
	return normalize.BinanceRESTTicker(&raw), nil
}

// GetOrderBook returns up to limit levels per side.
func (c *Client) GetOrderBook(ctx context.Context, symbol string, limit int) (*market.OrderBook, error) {
	sym := normalize.NormalizeSymbol(symbol, normalize.VenueBinance)
	if limit <= 0 {
		limit = 100
	}
	q := url.Values{"symbol": {sym}, "limit": {strconv.Itoa(limit)}}
	var raw normalize.BinanceDepth
	if err := c.rest.Do(ctx, http.MethodGet, "/api/v3/depth", q, nil, false, &raw); err != nil {
		c.RecordError(err)
		return nil, err
	}
	return normalize.BinanceOrderBook(sym, &raw), nil
}

// GetCandles returns klines for the timeframe, optionally bounded by start
// and end.
func (c *Client) GetCandles(ctx context.Context, symbol, timeframe string, limit int, start, end time.Time) ([]market.Candle, error) {
	sym := normalize.NormalizeSymbol(symbol, normalize.VenueBinance)
	q := url.Values{"symbol": {sym}, "interval": {normalize.NormalizeTimeframe(timeframe, normalize.VenueBinance)}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if !start.IsZero() {
		q.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	}
	if !end.IsZero() {
		q.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	}
	var rows []interface{}
	if err := c.rest.Do(ctx, http.MethodGet, "/api/v3/klines", q, nil, false, &rows); err != nil {
		c.RecordError(err)
		return nil, err
	}
	candles := make([]market.Candle, 0, len(rows))
	for _, row := range rows {
		candle, err := normalize.NormalizeCandle(row, normalize.VenueBinance, sym, timeframe)
		if err != nil {
			c.Log().WithError(err).Warn("skipping malformed kline row")
			continue
		}
		candles = append(candles, *candle)
	}
	return candles, nil
}

// GetRecentTrades returns the most recent public trades.
func (c *Client) GetRecentTrades(ctx context.Context, symbol string, limit int) ([]market.Trade, error) {
	sym := normalize.NormalizeSymbol(symbol, normalize.VenueBinance)
	if limit <= 0 {
		limit = 100
	}
	q := url.Values{"symbol": {sym}, "limit": {strconv.Itoa(limit)}}
	var raw []normalize.BinanceTrade
	if err := c.rest.Do(ctx, http.MethodGet, "/api/v3/trades", q, nil, false, &raw); err != nil {
		c.RecordError(err)
		return nil, err
	}
	trades := make([]market.Trade, 0, len(raw))
	for i := range raw {
		trades = append(trades, *normalize.BinanceTradeRecord(sym, &raw[i]))
	}
	return trades, nil
}

func (c *Client) supervisor() (*stream.Supervisor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sup == nil {
		return nil, fmt.Errorf("binance: %w", venue.ErrUnavailable)
	}
	return c.sup, nil
}

func (c *Client) subscribe(channel, symbol, timeframe string, cb stream.Callback) error {
	sup, err := c.supervisor()
	if err != nil {
		return err
	}
	key := stream.Key{Channel: channel, Symbol: normalize.NormalizeSymbol(symbol, normalize.VenueBinance), Timeframe: timeframe}
	return sup.Subscribe(key, cb)
}

func (c *Client) unsubscribe(channel, symbol, timeframe string) error {
	sup, err := c.supervisor()
	if err != nil {
		return err
	}
	key := stream.Key{Channel: channel, Symbol: normalize.NormalizeSymbol(symbol, normalize.VenueBinance), Timeframe: timeframe}
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

// PlaceOrder submits a new order. Limit orders default to good-til-cancel.
func (c *Client) PlaceOrder(ctx context.Context, req market.OrderRequest) (*market.OrderResponse, error) {
	sym := normalize.NormalizeSymbol(req.Symbol, normalize.VenueBinance)
	q := url.Values{
		"symbol":           {sym},
		"side":             {strings.ToUpper(string(req.Side))},
		"type":             {strings.ToUpper(string(req.Type))},
		"quantity":         {strconv.FormatFloat(req.Quantity, 'f', -1, 64)},
		"newClientOrderId": {uuid.NewString()},
	}
	if req.Type == market.TypeLimit {
		q.Set("price", strconv.FormatFloat(req.Price, 'f', -1, 64))
		q.Set("timeInForce", "GTC")
	}
	var raw normalize.BinanceOrder
	if err := c.rest.Do(ctx, http.MethodPost, "/api/v3/order", q, nil, true, &raw); err != nil {
		c.RecordError(err)
		return nil, err
	}
	return normalize.BinanceOrderResponse(&raw), nil
}

// CancelOrder cancels one order by ID.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	sym := normalize.NormalizeSymbol(symbol, normalize.VenueBinance)
	q := url.Values{"symbol": {sym}, "orderId": {orderID}}
	if err := c.rest.Do(ctx, http.MethodDelete, "/api/v3/order", q, nil, true, nil); err != nil {
		c.RecordError(err)
		return err
	}
	return nil
}

// GetOrder fetches one order by ID.
func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (*market.OrderResponse, error) {
	sym := normalize.NormalizeSymbol(symbol, normalize.VenueBinance)
	q := url.Values{"symbol": {sym}, "orderId": {orderID}}
	var raw normalize.BinanceOrder
	if err := c.rest.Do(ctx, http.MethodGet, "/api/v3/order", q, nil, true, &raw); err != nil {
		c.RecordError(err)
		return nil, err
	}
	return normalize.BinanceOrderResponse(&raw), nil
}

// GetOpenOrders lists open orders, optionally filtered by symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]market.OrderResponse, error) {
	q := url.Values{}
	if symbol != "" {
		q.Set("symbol", normalize.NormalizeSymbol(symbol, normalize.VenueBinance))
	}
	var raw []normalize.BinanceOrder
	if err := c.rest.Do(ctx, http.MethodGet, "/api/v3/openOrders", q, nil, true, &raw); err != nil {
		c.RecordError(err)
		return nil, err
	}
	return c.orderResponses(raw), nil
}

// GetOrderHistory lists past orders for symbol.
func (c *Client) GetOrderHistory(ctx context.Context, symbol string, limit int) ([]market.OrderResponse, error) {
	q := url.Values{"symbol": {normalize.NormalizeSymbol(symbol, normalize.VenueBinance)}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var raw []normalize.BinanceOrder
	if err := c.rest.Do(ctx, http.MethodGet, "/api/v3/allOrders", q, nil, true, &raw); err != nil {
		c.RecordError(err)
		return nil, err
	}
	return c.orderResponses(raw), nil
}

func (c *Client) orderResponses(raw []normalize.BinanceOrder) []market.OrderResponse {
	out := make([]market.OrderResponse, 0, len(raw))
	for i := range raw {
		out = append(out, *normalize.BinanceOrderResponse(&raw[i]))
	}
	return out
}

// GetBalance returns all non-zero asset balances.
func (c *Client) GetBalance(ctx context.Context) ([]market.Balance, error) {
	account, err := c.account(ctx)
	if err != nil {
		c.RecordError(err)
		return nil, err
	}
	balances := make([]market.Balance, 0, len(account.Balances))
	for _, b := range account.Balances {
		free := normalize.SanitizeNumeric(b.Free)
		locked := normalize.SanitizeNumeric(b.Locked)
		if free == 0 && locked == 0 {
			continue
		}
		balances = append(balances, market.Balance{Asset: b.Asset, Free: free, Locked: locked})
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
			Venue:    normalize.VenueBinance,
			Symbol:   b.Asset,
			Side:     "long",
			Quantity: b.Free + b.Locked,
		})
	}
	return positions, nil
}

var _ venue.Client = (*Client)(nil)
