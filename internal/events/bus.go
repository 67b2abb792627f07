package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTradeOpened           EventType = "TRADE_OPENED"
	EventTradeClosed           EventType = "TRADE_CLOSED"
	EventSignalGenerated       EventType = "SIGNAL_GENERATED"
	EventSignalRejected        EventType = "SIGNAL_REJECTED"
	EventLearningCycleStarted  EventType = "LEARNING_CYCLE_STARTED"
	EventLearningCycleFinished EventType = "LEARNING_CYCLE_FINISHED"
	EventParamsUpdated         EventType = "PARAMS_UPDATED"
	EventModelTrained          EventType = "MODEL_TRAINED"
	EventSymbolsRotated        EventType = "SYMBOLS_ROTATED"
	EventWatchdogIntervention  EventType = "WATCHDOG_INTERVENTION"
	EventBotStarted            EventType = "BOT_STARTED"
	EventBotStopped            EventType = "BOT_STOPPED"
	EventError                 EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Subscribers run in their own
// goroutines so a slow consumer never blocks the publisher.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishTradeOpened publishes a trade opened event
func (eb *EventBus) PublishTradeOpened(tradeID, symbol, direction string, entryPrice, quantity, confidence float64) {
	eb.Publish(Event{
		Type: EventTradeOpened,
		Data: map[string]interface{}{
			"trade_id":    tradeID,
			"symbol":      symbol,
			"direction":   direction,
			"entry_price": entryPrice,
			"quantity":    quantity,
			"confidence":  confidence,
		},
	})
}

// PublishTradeClosed publishes a trade closed event
func (eb *EventBus) PublishTradeClosed(tradeID, symbol, exitReason string, entryPrice, exitPrice, pnl, pnlPercent float64) {
	eb.Publish(Event{
		Type: EventTradeClosed,
		Data: map[string]interface{}{
			"trade_id":    tradeID,
			"symbol":      symbol,
			"exit_reason": exitReason,
			"entry_price": entryPrice,
			"exit_price":  exitPrice,
			"pnl":         pnl,
			"pnl_percent": pnlPercent,
		},
	})
}

// PublishSignal publishes a signal generated event
func (eb *EventBus) PublishSignal(symbol, direction, reason string, confidence, price float64) {
	eb.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"direction":  direction,
			"reason":     reason,
			"confidence": confidence,
			"price":      price,
		},
	})
}

// PublishSignalRejected publishes a risk rejection event
func (eb *EventBus) PublishSignalRejected(symbol, direction, rejectReason string, confidence float64) {
	eb.Publish(Event{
		Type: EventSignalRejected,
		Data: map[string]interface{}{
			"symbol":        symbol,
			"direction":     direction,
			"reject_reason": rejectReason,
			"confidence":    confidence,
		},
	})
}

// PublishParamsUpdated publishes a strategy parameter change event
func (eb *EventBus) PublishParamsUpdated(source string, before, after map[string]interface{}) {
	eb.Publish(Event{
		Type: EventParamsUpdated,
		Data: map[string]interface{}{
			"source": source,
			"before": before,
			"after":  after,
		},
	})
}

// PublishModelTrained publishes a model training result event
func (eb *EventBus) PublishModelTrained(modelVersion string, accuracy, f1 float64, samples int) {
	eb.Publish(Event{
		Type: EventModelTrained,
		Data: map[string]interface{}{
			"model_version": modelVersion,
			"accuracy":      accuracy,
			"f1_score":      f1,
			"samples":       samples,
		},
	})
}

// PublishSymbolsRotated publishes a symbol rotation event
func (eb *EventBus) PublishSymbolsRotated(added, removed, active []string) {
	eb.Publish(Event{
		Type: EventSymbolsRotated,
		Data: map[string]interface{}{
			"added":   added,
			"removed": removed,
			"active":  active,
		},
	})
}

// PublishWatchdogIntervention publishes a watchdog auto-fix event
func (eb *EventBus) PublishWatchdogIntervention(check, issue, action string) {
	eb.Publish(Event{
		Type: EventWatchdogIntervention,
		Data: map[string]interface{}{
			"check":  check,
			"issue":  issue,
			"action": action,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
