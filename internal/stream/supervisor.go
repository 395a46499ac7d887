// Package stream supervises the lifecycle of logical venue subscriptions:
// connect, authenticate, parse, keep alive, and reconnect with bounded
// backoff when the transport drops.
package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"cryptogate/internal/market"
	"cryptogate/internal/retry"
	"cryptogate/logger"
)

// Key identifies one logical subscription on a venue.
type Key struct {
	Channel   string
	Symbol    string
	Timeframe string
}

func (k Key) String() string {
	if k.Timeframe != "" {
		return fmt.Sprintf("%s:%s:%s", k.Channel, k.Symbol, k.Timeframe)
	}
	return fmt.Sprintf("%s:%s", k.Channel, k.Symbol)
}

// State of one subscription.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateDegraded
	StateReconnecting
	StateDropped
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	case StateDropped:
		return "dropped"
	default:
		return "idle"
	}
}

// Adapter supplies the venue-specific wire protocol for the supervisor.
type Adapter interface {
	// Endpoint resolves the websocket URL and headers for the key. Venues
	// requiring a bootstrap REST token to open a socket resolve it here.
	Endpoint(ctx context.Context, key Key) (string, http.Header, error)
	// SubscribeFrames are sent right after the transport opens.
	SubscribeFrames(key Key) [][]byte
	// UnsubscribeFrames are sent before a clean close.
	UnsubscribeFrames(key Key) [][]byte
	// ParseFrame normalizes one inbound frame. Returning (nil, nil) marks a
	// control frame (ack, welcome, pong) to ignore.
	ParseFrame(key Key, data []byte) (*market.Event, error)
	// PingFrame returns the venue's application-level ping payload; nil
	// means websocket control pings are enough.
	PingFrame() []byte
}

// Callback receives normalized events for one subscription.
type Callback func(market.Event)

// Config tunes one supervisor instance.
type Config struct {
	Venue                string
	ConnectTimeout       time.Duration
	KeepAlive            time.Duration
	HealthCheckPeriod    time.Duration
	CloseWait            time.Duration
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 20 * time.Second
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = 30 * time.Second
	}
	if c.CloseWait <= 0 {
		c.CloseWait = 5 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
}

type subscription struct {
	key      Key
	cb       Callback
	ctx      context.Context
	cancel   context.CancelFunc
	state    int32
	attempts int32
	lastMsg  int64 // unix nano of last inbound frame

	mu   sync.Mutex
	conn *websocket.Conn

	// writeMu serializes data writes; gorilla/websocket permits only one
	// concurrent data-message writer per connection.
	writeMu sync.Mutex
}

func (s *subscription) setState(st State)  { atomic.StoreInt32(&s.state, int32(st)) }
func (s *subscription) getState() State    { return State(atomic.LoadInt32(&s.state)) }
func (s *subscription) touch()             { atomic.StoreInt64(&s.lastMsg, time.Now().UnixNano()) }
func (s *subscription) lastActive() int64  { return atomic.LoadInt64(&s.lastMsg) }
func (s *subscription) attemptCount() int  { return int(atomic.LoadInt32(&s.attempts)) }
func (s *subscription) bumpAttempts() int  { return int(atomic.AddInt32(&s.attempts, 1)) }
func (s *subscription) resetAttempts()     { atomic.StoreInt32(&s.attempts, 0) }

func (s *subscription) setConn(c *websocket.Conn) {
	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()
}

func (s *subscription) getConn() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// writeFrame sends one text frame under the write lock with a bounded
// deadline, clearing the deadline afterwards.
func (s *subscription) writeFrame(conn *websocket.Conn, frame []byte, deadline time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(deadline)
	err := conn.WriteMessage(websocket.TextMessage, frame)
	conn.SetWriteDeadline(time.Time{})
	return err
}

// Supervisor owns all subscriptions of one venue. Each subscription runs on
// its own goroutine; reconnection is serialized per key.
type Supervisor struct {
	cfg     Config
	adapter Adapter
	emitter *market.Emitter
	retrier *retry.Executor
	log     *logger.Entry

	mu     sync.Mutex
	subs   map[Key]*subscription
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	messages   int64
	reconnects int64
}

// New creates a supervisor and starts its liveness monitor.
func New(cfg Config, adapter Adapter, emitter *market.Emitter) *Supervisor {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:     cfg,
		adapter: adapter,
		emitter: emitter,
		retrier: retry.New(cfg.Venue, emitter),
		log:     logger.GetLogger().WithComponent(cfg.Venue + "_stream"),
		subs:    make(map[Key]*subscription),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.wg.Add(1)
	go s.monitor()
	return s
}

// Subscribe registers the callback under key and starts the connection
// worker. Re-subscribing an already connecting or open key is a no-op.
func (s *Supervisor) Subscribe(key Key, cb Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("stream supervisor for %s is shut down", s.cfg.Venue)
	}
	if existing, ok := s.subs[key]; ok {
		switch existing.getState() {
		case StateConnecting, StateOpen, StateReconnecting, StateDegraded:
			return nil
		}
	}
	ctx, cancel := context.WithCancel(s.ctx)
	sub := &subscription{key: key, cb: cb, ctx: ctx, cancel: cancel}
	sub.setState(StateConnecting)
	s.subs[key] = sub
	s.wg.Add(1)
	go s.run(sub)
	return nil
}

// Unsubscribe performs a clean close for key. Clean closes never trigger
// reconnection.
func (s *Supervisor) Unsubscribe(key Key) error {
	s.mu.Lock()
	sub, ok := s.subs[key]
	if ok {
		delete(s.subs, key)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no active subscription for %s on %s", key, s.cfg.Venue)
	}
	sub.setState(StateClosing)
	if conn := sub.getConn(); conn != nil {
		for _, frame := range s.adapter.UnsubscribeFrames(key) {
			_ = sub.writeFrame(conn, frame, time.Now().Add(s.cfg.CloseWait))
		}
	}
	sub.cancel()
	return nil
}

// Has reports whether key currently has a live subscription.
func (s *Supervisor) Has(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[key]
	return ok
}

// ActiveCount returns the number of registered subscriptions.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Messages returns the total inbound frame count.
func (s *Supervisor) Messages() int64 { return atomic.LoadInt64(&s.messages) }

// Reconnects returns the total reconnection count.
func (s *Supervisor) Reconnects() int64 { return atomic.LoadInt64(&s.reconnects) }

// Shutdown closes every subscription, cancels all timers and waits up to the
// configured close-wait before force-closing. Safe to call repeatedly.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = make(map[Key]*subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.setState(StateClosing)
		sub.cancel()
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.CloseWait):
		s.log.Warn("graceful close timed out, forcing transports closed")
		for _, sub := range subs {
			if conn := sub.getConn(); conn != nil {
				conn.Close()
			}
		}
		<-done
	}
}

// run is the per-subscription worker: it holds the connect/serve loop and is
// the only goroutine that reconnects this key.
func (s *Supervisor) run(sub *subscription) {
	defer s.wg.Done()
	log := s.log.WithFields(logger.Fields{"key": sub.key.String()})

	reconnected := false
	for {
		if sub.ctx.Err() != nil {
			s.teardown(sub)
			return
		}
		if reconnected {
			sub.setState(StateReconnecting)
		} else {
			sub.setState(StateConnecting)
		}

		err := s.retrier.Execute(sub.ctx, func(ctx context.Context) error {
			dialErr := s.establish(ctx, sub)
			if dialErr != nil {
				sub.bumpAttempts()
			}
			return dialErr
		}, s.cfg.MaxReconnectAttempts-1, s.cfg.ReconnectBaseDelay, s.cfg.ReconnectMaxDelay)
		if err != nil {
			if sub.ctx.Err() != nil {
				s.teardown(sub)
				return
			}
			s.dropExhausted(sub, err)
			return
		}

		sub.resetAttempts()
		sub.setState(StateOpen)
		sub.touch()
		evType := market.EventStreamConnected
		if reconnected {
			evType = market.EventStreamReconnected
		}
		s.emitter.Emit(market.Event{
			Type:      evType,
			Venue:     s.cfg.Venue,
			Channel:   sub.key.Channel,
			Symbol:    sub.key.Symbol,
			Timeframe: sub.key.Timeframe,
		})
		log.Info("stream connected")

		serveErr := s.serve(sub)
		if conn := sub.getConn(); conn != nil {
			conn.Close()
			sub.setConn(nil)
		}
		if sub.ctx.Err() != nil {
			s.teardown(sub)
			return
		}

		sub.setState(StateDegraded)
		atomic.AddInt64(&s.reconnects, 1)
		logger.IncrementReconnect(s.cfg.Venue)
		s.emitter.Emit(market.Event{
			Type:      market.EventStreamDisconnected,
			Venue:     s.cfg.Venue,
			Channel:   sub.key.Channel,
			Symbol:    sub.key.Symbol,
			Timeframe: sub.key.Timeframe,
			Err:       serveErr,
		})
		log.WithError(serveErr).Warn("stream lost, reconnecting")
		reconnected = true
	}
}

// establish performs one connect attempt: resolve the endpoint, dial with a
// hard timeout and send the subscribe handshake.
func (s *Supervisor) establish(ctx context.Context, sub *subscription) error {
	url, header, err := s.adapter.Endpoint(ctx, sub.key)
	if err != nil {
		return fmt.Errorf("resolve endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.ConnectTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	conn, _, err := dialer.DialContext(dialCtx, url, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}

	for _, frame := range s.adapter.SubscribeFrames(sub.key) {
		if err := sub.writeFrame(conn, frame, time.Now().Add(s.cfg.ConnectTimeout)); err != nil {
			conn.Close()
			return fmt.Errorf("subscribe handshake: %w", err)
		}
	}
	sub.setConn(conn)
	return nil
}

// serve runs the read loop and keep-alive until the transport fails or the
// subscription is cancelled.
func (s *Supervisor) serve(sub *subscription) error {
	conn := sub.getConn()
	if conn == nil {
		return fmt.Errorf("no open transport for %s", sub.key)
	}
	log := s.log.WithFields(logger.Fields{"key": sub.key.String()})

	sessionCtx, stop := context.WithCancel(sub.ctx)
	defer stop()

	// Cancellation must unblock ReadMessage.
	go func() {
		<-sessionCtx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}()

	go s.keepAlive(sessionCtx, sub, conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		sub.touch()
		atomic.AddInt64(&s.messages, 1)
		logger.IncrementStreamRead(s.cfg.Venue, len(data))

		ev, perr := s.adapter.ParseFrame(sub.key, data)
		if perr != nil {
			// One bad frame never tears the stream down.
			log.WithError(perr).Warn("malformed frame dropped")
			continue
		}
		if ev == nil {
			continue
		}
		if ev.Venue == "" {
			ev.Venue = s.cfg.Venue
		}
		if ev.Channel == "" {
			ev.Channel = sub.key.Channel
		}
		if ev.Symbol == "" {
			ev.Symbol = sub.key.Symbol
		}
		if ev.Timeframe == "" {
			ev.Timeframe = sub.key.Timeframe
		}
		if sub.cb != nil {
			sub.cb(*ev)
		}
		s.emitter.Emit(*ev)
	}
}

// keepAlive pings the venue on a fixed interval shorter than its
// idle-disconnect threshold.
func (s *Supervisor) keepAlive(ctx context.Context, sub *subscription, conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.KeepAlive / 2)
			var err error
			if frame := s.adapter.PingFrame(); frame != nil {
				err = sub.writeFrame(conn, frame, deadline)
			} else {
				err = conn.WriteControl(websocket.PingMessage, nil, deadline)
			}
			if err != nil {
				s.log.WithFields(logger.Fields{"key": sub.key.String()}).WithError(err).Warn("keep-alive failed")
				conn.Close()
				return
			}
		}
	}
}

// monitor is the supervising health-check timer: a subscription that is
// nominally open but silent for several keep-alive periods gets its
// transport closed, which routes it through the reconnect path.
func (s *Supervisor) monitor() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.HealthCheckPeriod)
	defer ticker.Stop()
	staleAfter := 3 * s.cfg.KeepAlive
	if staleAfter < s.cfg.HealthCheckPeriod {
		staleAfter = s.cfg.HealthCheckPeriod
	}
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			subs := make([]*subscription, 0, len(s.subs))
			for _, sub := range s.subs {
				subs = append(subs, sub)
			}
			s.mu.Unlock()
			for _, sub := range subs {
				if sub.getState() != StateOpen {
					continue
				}
				last := sub.lastActive()
				if last == 0 || time.Since(time.Unix(0, last)) < staleAfter {
					continue
				}
				s.log.WithFields(logger.Fields{"key": sub.key.String()}).Warn("stale stream detected, forcing reconnect")
				if conn := sub.getConn(); conn != nil {
					conn.Close()
				}
			}
		}
	}
}

// teardown finishes a cleanly closed subscription.
func (s *Supervisor) teardown(sub *subscription) {
	if conn := sub.getConn(); conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
		sub.setConn(nil)
	}
	sub.setState(StateIdle)
}

// dropExhausted removes a subscription whose reconnect budget ran out. The
// caller must explicitly re-subscribe afterwards.
func (s *Supervisor) dropExhausted(sub *subscription, cause error) {
	sub.setState(StateDropped)
	s.mu.Lock()
	delete(s.subs, sub.key)
	s.mu.Unlock()
	s.emitter.Emit(market.Event{
		Type:      market.EventMaxReconnect,
		Venue:     s.cfg.Venue,
		Channel:   sub.key.Channel,
		Symbol:    sub.key.Symbol,
		Timeframe: sub.key.Timeframe,
		Err:       cause,
	})
	s.log.WithFields(logger.Fields{
		"key":      sub.key.String(),
		"attempts": sub.attemptCount(),
	}).Error("reconnection attempts exhausted, subscription dropped")
}
