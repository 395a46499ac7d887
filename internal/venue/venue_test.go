package venue

import (
	"context"
	"testing"
	"time"

	"cryptogate/internal/market"
)

func TestBaseStateEdgesEmitEvents(t *testing.T) {
	em := market.NewEmitter()
	var events []market.EventType
	em.OnAny(func(ev market.Event) { events = append(events, ev.Type) })

	b := NewBase("binance", em)
	if b.State() != StateDisconnected {
		t.Fatalf("initial state = %s", b.State())
	}

	b.SetState(StateConnecting)
	b.SetState(StateConnected)
	b.SetState(StateConnected) // no duplicate event
	b.SetState(StateDisconnected)

	want := []market.EventType{market.EventConnected, market.EventDisconnected}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, events[i], want[i])
		}
	}
	if b.ConnectedAt().IsZero() {
		t.Error("connectedAt not stamped")
	}
}

func TestMonitorDrivesDegradedTransitions(t *testing.T) {
	em := market.NewEmitter()
	checks := make(chan market.Event, 16)
	em.On(market.EventHealthCheck, func(ev market.Event) { checks <- ev })

	healthy := make(chan bool, 16)
	healthy <- false

	b := NewBase("binance", em)
	b.SetState(StateConnected)
	b.StartMonitor(10*time.Millisecond, func(ctx context.Context) bool {
		select {
		case h := <-healthy:
			return h
		default:
			return true
		}
	})
	defer b.StopMonitor()

	ev := <-checks
	if ok := ev.Payload.(bool); ok {
		t.Fatal("first probe should report unhealthy")
	}

	deadline := time.Now().Add(time.Second)
	for b.State() != StateDegraded {
		if time.Now().After(deadline) {
			t.Fatal("venue never degraded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	for b.State() != StateConnected {
		if time.Now().After(deadline) {
			t.Fatal("venue never recovered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStopMonitorIsIdempotent(t *testing.T) {
	b := NewBase("kucoin", market.NewEmitter())
	b.StartMonitor(time.Minute, func(ctx context.Context) bool { return true })
	b.StopMonitor()
	b.StopMonitor()
}
