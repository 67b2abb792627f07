package events

import (
	"sync"
	"testing"
	"time"
)

func TestSubscribeReceivesMatchingEvents(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	var got []Event
	done := make(chan struct{}, 1)

	bus.Subscribe(EventTradeOpened, func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		done <- struct{}{}
	})

	bus.PublishTradeClosed("t1", "SOLUSDT", "take_profit", 100, 102, 2, 2)
	bus.PublishTradeOpened("t2", "SOLUSDT", "BUY", 100, 1, 0.07)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].Type != EventTradeOpened {
		t.Errorf("event type = %s, want %s", got[0].Type, EventTradeOpened)
	}
	if got[0].Data["trade_id"] != "t2" {
		t.Errorf("trade_id = %v, want t2", got[0].Data["trade_id"])
	}
	if got[0].Timestamp.IsZero() {
		t.Error("timestamp should be set by Publish")
	}
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	count := 0
	done := make(chan struct{}, 3)

	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
		done <- struct{}{}
	})

	bus.PublishSignal("SOLUSDT", "BUY", "rsi oversold", 0.08, 150.2)
	bus.PublishWatchdogIntervention("low_activity", "no trades in 2h", "reset confidence")
	bus.PublishError("learning", "cycle failed", nil)

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of 3 events delivered", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}
