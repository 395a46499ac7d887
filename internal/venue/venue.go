// Package venue defines the uniform contract every exchange implementation
// satisfies, plus the shared connection-state and signed-REST plumbing the
// concrete venues build on.
package venue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"cryptogate/internal/market"
	"cryptogate/internal/stream"
	"cryptogate/logger"
)

// State of a venue connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return "disconnected"
	}
}

var (
	// ErrUnavailable marks a venue that is unknown or not connected.
	ErrUnavailable = errors.New("venue unavailable")
	// ErrMissingCredentials marks a signed call attempted without keys.
	ErrMissingCredentials = errors.New("missing credentials")
	// ErrAuthentication marks a credential rejection; never retried.
	ErrAuthentication = errors.New("authentication failed")
	// ErrTradingPermission marks a live credential that carries trading or
	// withdrawal permission where policy requires read-only keys.
	ErrTradingPermission = errors.New("credential has trading/withdrawal permission")
)

// Client is the uniform venue contract. One instance exists per configured
// venue; the router owns references but never touches internal state.
type Client interface {
	Name() string
	State() State
	Events() *market.Emitter
	Statistics() market.Stats

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	HealthCheck(ctx context.Context) bool

	GetTicker(ctx context.Context, symbol string) (*market.Ticker, error)
	GetOrderBook(ctx context.Context, symbol string, limit int) (*market.OrderBook, error)
	GetCandles(ctx context.Context, symbol, timeframe string, limit int, start, end time.Time) ([]market.Candle, error)
	GetRecentTrades(ctx context.Context, symbol string, limit int) ([]market.Trade, error)

	SubscribeTicker(ctx context.Context, symbol string, cb stream.Callback) error
	SubscribeOrderBook(ctx context.Context, symbol string, cb stream.Callback) error
	SubscribeTrades(ctx context.Context, symbol string, cb stream.Callback) error
	SubscribeCandles(ctx context.Context, symbol, timeframe string, cb stream.Callback) error
	UnsubscribeTicker(symbol string) error
	UnsubscribeOrderBook(symbol string) error
	UnsubscribeTrades(symbol string) error
	UnsubscribeCandles(symbol, timeframe string) error

	PlaceOrder(ctx context.Context, req market.OrderRequest) (*market.OrderResponse, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOrder(ctx context.Context, symbol, orderID string) (*market.OrderResponse, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]market.OrderResponse, error)
	GetOrderHistory(ctx context.Context, symbol string, limit int) ([]market.OrderResponse, error)
	GetBalance(ctx context.Context) ([]market.Balance, error)
	GetPositions(ctx context.Context) ([]market.Position, error)
}

// Base carries the connection state, event emitter and health monitor shared
// by every concrete venue client.
type Base struct {
	name    string
	emitter *market.Emitter
	log     *logger.Entry

	state       int32
	connectedAt atomic.Value // time.Time
	lastErr     atomic.Value // string

	monMu     sync.Mutex
	monCancel context.CancelFunc
	monWG     sync.WaitGroup
}

// NewBase initializes the shared venue plumbing.
func NewBase(name string, emitter *market.Emitter) *Base {
	b := &Base{
		name:    name,
		emitter: emitter,
		log:     logger.GetLogger().WithComponent(name + "_client"),
	}
	b.connectedAt.Store(time.Time{})
	b.lastErr.Store("")
	return b
}

func (b *Base) Name() string            { return b.name }
func (b *Base) Events() *market.Emitter { return b.emitter }
func (b *Base) Log() *logger.Entry      { return b.log }

// State returns the current connection state.
func (b *Base) State() State { return State(atomic.LoadInt32(&b.state)) }

// SetState transitions the connection state and emits connected/disconnected
// events on the edges.
func (b *Base) SetState(s State) {
	prev := State(atomic.SwapInt32(&b.state, int32(s)))
	if prev == s {
		return
	}
	switch {
	case s == StateConnected && prev != StateDegraded:
		b.connectedAt.Store(time.Now())
		b.emitter.Emit(market.Event{Type: market.EventConnected, Venue: b.name})
	case s == StateDisconnected && prev != StateDisconnected:
		b.emitter.Emit(market.Event{Type: market.EventDisconnected, Venue: b.name})
	}
}

// RecordError stores the most recent error text for statistics snapshots.
func (b *Base) RecordError(err error) {
	if err != nil {
		b.lastErr.Store(err.Error())
	}
}

// LastError returns the most recent recorded error text.
func (b *Base) LastError() string { return b.lastErr.Load().(string) }

// ConnectedAt returns the time of the last disconnected→connected edge.
func (b *Base) ConnectedAt() time.Time { return b.connectedAt.Load().(time.Time) }

// StartMonitor launches the connection-health ticker. check performs one
// lightweight probe; its result drives the Connected↔Degraded transitions
// and a healthCheck event per probe.
func (b *Base) StartMonitor(interval time.Duration, check func(context.Context) bool) {
	b.monMu.Lock()
	defer b.monMu.Unlock()
	if b.monCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.monCancel = cancel
	b.monWG.Add(1)
	go func() {
		defer b.monWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, probeCancel := context.WithTimeout(ctx, interval)
				healthy := check(probeCtx)
				probeCancel()
				b.emitter.Emit(market.Event{
					Type:    market.EventHealthCheck,
					Venue:   b.name,
					Payload: healthy,
				})
				switch {
				case healthy && b.State() == StateDegraded:
					b.SetState(StateConnected)
				case !healthy && b.State() == StateConnected:
					b.log.Warn("health probe failed, marking venue degraded")
					b.SetState(StateDegraded)
				}
			}
		}
	}()
}

// StopMonitor cancels the health ticker and waits for it to exit. Safe to
// call repeatedly.
func (b *Base) StopMonitor() {
	b.monMu.Lock()
	cancel := b.monCancel
	b.monCancel = nil
	b.monMu.Unlock()
	if cancel != nil {
		cancel()
		b.monWG.Wait()
	}
}
