// Package router aggregates all configured venue clients behind one entry
// point: per-call routing to a named or default venue, concurrent fan-out
// queries, and a re-tagged merged event stream.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"cryptogate/config"
	"cryptogate/internal/market"
	"cryptogate/internal/normalize"
	"cryptogate/internal/stream"
	"cryptogate/internal/venue"
	"cryptogate/internal/venue/binance"
	"cryptogate/internal/venue/kucoin"
	"cryptogate/logger"
)

// newClient is the venue factory: concrete implementations are selected by
// venue name at construction time.
func newClient(name string, cfg *config.VenueConfig, emitter *market.Emitter) (venue.Client, error) {
	switch strings.ToLower(name) {
	case normalize.VenueBinance:
		return binance.New(cfg, emitter), nil
	case normalize.VenueKucoin:
		return kucoin.New(cfg, emitter), nil
	default:
		return nil, fmt.Errorf("unsupported venue type: %s", name)
	}
}

// Router owns one client per enabled venue. It never mutates client
// internals; everything goes through the venue contract.
type Router struct {
	cfg     *config.Config
	emitter *market.Emitter
	log     *logger.Entry

	mu           sync.RWMutex
	clients      map[string]venue.Client
	defaultVenue string
}

// New creates an empty router; Initialize builds and connects the clients.
func New(cfg *config.Config) *Router {
	return &Router{
		cfg:          cfg,
		emitter:      market.NewEmitter(),
		log:          logger.GetLogger().WithComponent("exchange_router"),
		clients:      make(map[string]venue.Client),
		defaultVenue: strings.ToLower(cfg.Gateway.DefaultVenue),
	}
}

// Events returns the merged event stream; every event carries its
// originating venue name.
func (r *Router) Events() *market.Emitter { return r.emitter }

// Initialize constructs one client per enabled venue and connects them all
// concurrently. A required venue that fails to connect fails Initialize.
func (r *Router) Initialize(ctx context.Context) error {
	r.mu.Lock()
	for name, vc := range r.cfg.Venues {
		if !vc.Enabled {
			continue
		}
		name = strings.ToLower(name)
		clientEmitter := market.NewEmitter()
		venueName := name
		clientEmitter.OnAny(func(ev market.Event) {
			if ev.Venue == "" {
				ev.Venue = venueName
			}
			r.emitter.Emit(ev)
		})
		client, err := newClient(name, vc, clientEmitter)
		if err != nil {
			r.mu.Unlock()
			return err
		}
		r.clients[name] = client
	}
	if r.defaultVenue == "" {
		for name := range r.clients {
			r.defaultVenue = name
			break
		}
	}
	clients := r.snapshotLocked()
	r.mu.Unlock()

	var wg sync.WaitGroup
	errs := make(map[string]error, len(clients))
	var errMu sync.Mutex
	for name, client := range clients {
		wg.Add(1)
		go func(name string, client venue.Client) {
			defer wg.Done()
			if err := client.Connect(ctx); err != nil {
				errMu.Lock()
				errs[name] = err
				errMu.Unlock()
			}
		}(name, client)
	}
	wg.Wait()

	for name, err := range errs {
		vc := r.cfg.Venue(name)
		if vc != nil && vc.Required {
			return fmt.Errorf("required venue %s failed to connect: %w", name, err)
		}
		r.log.WithFields(logger.Fields{"venue": name}).WithError(err).Warn("optional venue failed to connect")
	}
	r.log.WithFields(logger.Fields{"venues": len(clients), "default": r.defaultVenue}).Info("exchange router initialized")
	return nil
}

// Shutdown disconnects all clients concurrently and discards them.
func (r *Router) Shutdown(ctx context.Context) {
	r.mu.Lock()
	clients := r.snapshotLocked()
	r.clients = make(map[string]venue.Client)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for name, client := range clients {
		wg.Add(1)
		go func(name string, client venue.Client) {
			defer wg.Done()
			if err := client.Disconnect(ctx); err != nil {
				r.log.WithFields(logger.Fields{"venue": name}).WithError(err).Warn("disconnect failed")
			}
		}(name, client)
	}
	wg.Wait()
	r.log.Info("exchange router shut down")
}

func (r *Router) snapshotLocked() map[string]venue.Client {
	out := make(map[string]venue.Client, len(r.clients))
	for name, client := range r.clients {
		out[name] = client
	}
	return out
}

func (r *Router) snapshot() map[string]venue.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Client resolves a venue by name, defaulting to the configured default
// venue when name is empty.
func (r *Router) Client(name string) (venue.Client, error) {
	if name == "" {
		name = r.defaultVenue
	}
	name = strings.ToLower(name)
	r.mu.RLock()
	client, ok := r.clients[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s is not configured", venue.ErrUnavailable, name)
	}
	if client.State() == venue.StateDisconnected {
		return nil, fmt.Errorf("%w: %s is not connected", venue.ErrUnavailable, name)
	}
	return client, nil
}

// GetTicker routes to the named or default venue.
func (r *Router) GetTicker(ctx context.Context, venueName, symbol string) (*market.Ticker, error) {
	client, err := r.Client(venueName)
	if err != nil {
		return nil, err
	}
	return client.GetTicker(ctx, symbol)
}

func (r *Router) GetOrderBook(ctx context.Context, venueName, symbol string, limit int) (*market.OrderBook, error) {
	client, err := r.Client(venueName)
	if err != nil {
		return nil, err
	}
	return client.GetOrderBook(ctx, symbol, limit)
}

func (r *Router) GetCandles(ctx context.Context, venueName, symbol, timeframe string, limit int, start, end time.Time) ([]market.Candle, error) {
	client, err := r.Client(venueName)
	if err != nil {
		return nil, err
	}
	return client.GetCandles(ctx, symbol, timeframe, limit, start, end)
}

func (r *Router) GetRecentTrades(ctx context.Context, venueName, symbol string, limit int) ([]market.Trade, error) {
	client, err := r.Client(venueName)
	if err != nil {
		return nil, err
	}
	return client.GetRecentTrades(ctx, symbol, limit)
}

// GetTickerFromAllVenues queries every venue concurrently and returns the
// successes keyed by venue. Per-venue failures are logged, never raised.
func (r *Router) GetTickerFromAllVenues(ctx context.Context, symbol string) map[string]*market.Ticker {
	clients := r.snapshot()
	results := make(map[string]*market.Ticker, len(clients))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, client := range clients {
		wg.Add(1)
		go func(name string, client venue.Client) {
			defer wg.Done()
			ticker, err := client.GetTicker(ctx, symbol)
			if err != nil {
				r.log.WithFields(logger.Fields{"venue": name, "symbol": symbol}).WithError(err).Warn("fan-out ticker failed")
				return
			}
			mu.Lock()
			results[name] = ticker
			mu.Unlock()
		}(name, client)
	}
	wg.Wait()
	return results
}

// GetCandlesFromAllVenues queries every venue concurrently; partial results
// are a valid outcome.
func (r *Router) GetCandlesFromAllVenues(ctx context.Context, symbol, timeframe string, limit int) map[string][]market.Candle {
	clients := r.snapshot()
	results := make(map[string][]market.Candle, len(clients))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, client := range clients {
		wg.Add(1)
		go func(name string, client venue.Client) {
			defer wg.Done()
			candles, err := client.GetCandles(ctx, symbol, timeframe, limit, time.Time{}, time.Time{})
			if err != nil {
				r.log.WithFields(logger.Fields{"venue": name, "symbol": symbol}).WithError(err).Warn("fan-out candles failed")
				return
			}
			mu.Lock()
			results[name] = candles
			mu.Unlock()
		}(name, client)
	}
	wg.Wait()
	return results
}

func (r *Router) SubscribeTicker(ctx context.Context, venueName, symbol string, cb stream.Callback) error {
	client, err := r.Client(venueName)
	if err != nil {
		return err
	}
	return client.SubscribeTicker(ctx, symbol, cb)
}

func (r *Router) SubscribeOrderBook(ctx context.Context, venueName, symbol string, cb stream.Callback) error {
	client, err := r.Client(venueName)
	if err != nil {
		return err
	}
	return client.SubscribeOrderBook(ctx, symbol, cb)
}

func (r *Router) SubscribeTrades(ctx context.Context, venueName, symbol string, cb stream.Callback) error {
	client, err := r.Client(venueName)
	if err != nil {
		return err
	}
	return client.SubscribeTrades(ctx, symbol, cb)
}

func (r *Router) SubscribeCandles(ctx context.Context, venueName, symbol, timeframe string, cb stream.Callback) error {
	client, err := r.Client(venueName)
	if err != nil {
		return err
	}
	return client.SubscribeCandles(ctx, symbol, timeframe, cb)
}

func (r *Router) UnsubscribeTicker(venueName, symbol string) error {
	client, err := r.Client(venueName)
	if err != nil {
		return err
	}
	return client.UnsubscribeTicker(symbol)
}

func (r *Router) UnsubscribeOrderBook(venueName, symbol string) error {
	client, err := r.Client(venueName)
	if err != nil {
		return err
	}
	return client.UnsubscribeOrderBook(symbol)
}

func (r *Router) UnsubscribeTrades(venueName, symbol string) error {
	client, err := r.Client(venueName)
	if err != nil {
		return err
	}
	return client.UnsubscribeTrades(symbol)
}

func (r *Router) UnsubscribeCandles(venueName, symbol, timeframe string) error {
	client, err := r.Client(venueName)
	if err != nil {
		return err
	}
	return client.UnsubscribeCandles(symbol, timeframe)
}

func (r *Router) PlaceOrder(ctx context.Context, venueName string, req market.OrderRequest) (*market.OrderResponse, error) {
	client, err := r.Client(venueName)
	if err != nil {
		return nil, err
	}
	return client.PlaceOrder(ctx, req)
}

func (r *Router) CancelOrder(ctx context.Context, venueName, symbol, orderID string) error {
	client, err := r.Client(venueName)
	if err != nil {
		return err
	}
	return client.CancelOrder(ctx, symbol, orderID)
}

func (r *Router) GetOrder(ctx context.Context, venueName, symbol, orderID string) (*market.OrderResponse, error) {
	client, err := r.Client(venueName)
	if err != nil {
		return nil, err
	}
	return client.GetOrder(ctx, symbol, orderID)
}

func (r *Router) GetOpenOrders(ctx context.Context, venueName, symbol string) ([]market.OrderResponse, error) {
	client, err := r.Client(venueName)
	if err != nil {
		return nil, err
	}
	return client.GetOpenOrders(ctx, symbol)
}

func (r *Router) GetOrderHistory(ctx context.Context, venueName, symbol string, limit int) ([]market.OrderResponse, error) {
	client, err := r.Client(venueName)
	if err != nil {
		return nil, err
	}
	return client.GetOrderHistory(ctx, symbol, limit)
}

func (r *Router) GetBalance(ctx context.Context, venueName string) ([]market.Balance, error) {
	client, err := r.Client(venueName)
	if err != nil {
		return nil, err
	}
	return client.GetBalance(ctx)
}

func (r *Router) GetPositions(ctx context.Context, venueName string) ([]market.Position, error) {
	client, err := r.Client(venueName)
	if err != nil {
		return nil, err
	}
	return client.GetPositions(ctx)
}

// HealthCheck probes every venue concurrently. Each probe is bounded by the
// venue's own call timeout.
func (r *Router) HealthCheck(ctx context.Context) map[string]bool {
	clients := r.snapshot()
	results := make(map[string]bool, len(clients))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, client := range clients {
		wg.Add(1)
		go func(name string, client venue.Client) {
			defer wg.Done()
			healthy := client.HealthCheck(ctx)
			mu.Lock()
			results[name] = healthy
			mu.Unlock()
		}(name, client)
	}
	wg.Wait()
	return results
}

// GetStatistics aggregates per-venue snapshots.
func (r *Router) GetStatistics() map[string]market.Stats {
	clients := r.snapshot()
	results := make(map[string]market.Stats, len(clients))
	for name, client := range clients {
		results[name] = client.Statistics()
	}
	return results
}
