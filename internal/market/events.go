package market

import (
	"sync"
	"time"
)

// EventType names one gateway notification channel.
type EventType string

const (
	EventTicker             EventType = "ticker"
	EventOrderBook          EventType = "orderbook"
	EventTrade              EventType = "trade"
	EventCandle             EventType = "candle"
	EventConnected          EventType = "connected"
	EventDisconnected       EventType = "disconnected"
	EventError              EventType = "error"
	EventRateLimitHit       EventType = "rateLimitHit"
	EventRetryAttempt       EventType = "retryAttempt"
	EventStreamConnected    EventType = "streamConnected"
	EventStreamDisconnected EventType = "streamDisconnected"
	EventStreamReconnected  EventType = "streamReconnected"
	EventMaxReconnect       EventType = "maxReconnectionAttemptsReached"
	EventHealthCheck        EventType = "healthCheck"
)

// Event is one gateway notification. Payload carries the canonical record or
// the event-specific detail struct; Err is set for error-class events.
type Event struct {
	Type      EventType
	Venue     string
	Channel   string
	Symbol    string
	Timeframe string
	Payload   interface{}
	Err       error
	Time      time.Time
}

// RateLimitHit is the payload of EventRateLimitHit.
type RateLimitHit struct {
	Wait  time.Duration
	Reset time.Time
}

// RetryAttempt is the payload of EventRetryAttempt.
type RetryAttempt struct {
	Attempt int
	Delay   time.Duration
	Cause   error
}

// Handler receives emitted events. Handlers run synchronously on the
// emitting goroutine and must not block.
type Handler func(Event)

// Emitter is a typed callback registry. Components publish through Emit;
// the router and external collaborators register handlers with On.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
}

// NewEmitter returns an empty Emitter ready for use.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType][]Handler)}
}

// On registers a handler for one event type.
func (e *Emitter) On(t EventType, h Handler) {
	e.mu.Lock()
	e.handlers[t] = append(e.handlers[t], h)
	e.mu.Unlock()
}

// OnAny registers a handler invoked for every event regardless of type.
func (e *Emitter) OnAny(h Handler) {
	e.mu.Lock()
	e.all = append(e.all, h)
	e.mu.Unlock()
}

// Emit dispatches the event to all matching handlers. The event time is
// stamped here when the publisher left it zero.
func (e *Emitter) Emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	e.mu.RLock()
	typed := e.handlers[ev.Type]
	all := e.all
	e.mu.RUnlock()
	for _, h := range typed {
		h(ev)
	}
	for _, h := range all {
		h(ev)
	}
}
