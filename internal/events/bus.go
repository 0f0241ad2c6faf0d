package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventPositionOpened       EventType = "POSITION_OPENED"
	EventPositionClosed       EventType = "POSITION_CLOSED"
	EventPartialTakeProfit    EventType = "PARTIAL_TAKE_PROFIT"
	EventPositionUpdate       EventType = "POSITION_UPDATE"
	EventSignalEvaluated      EventType = "SIGNAL_EVALUATED"
	EventSignalRejected       EventType = "SIGNAL_REJECTED"
	EventCircuitBreakerUpdate EventType = "CIRCUIT_BREAKER_UPDATE"
	EventEnginePaused         EventType = "ENGINE_PAUSED"
	EventEngineResumed        EventType = "ENGINE_RESUMED"
	EventPortfolioUpdate      EventType = "PORTFOLIO_UPDATE"
	EventDailyReset           EventType = "DAILY_RESET"
	EventError                EventType = "ERROR"
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
	allSubs     []Subscriber // Subscribers to all events
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

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishPositionOpened publishes a position opened event
func (eb *EventBus) PublishPositionOpened(id, asset, direction string, entryPrice, sizeUSD, leverage float64) {
	eb.Publish(Event{
		Type: EventPositionOpened,
		Data: map[string]interface{}{
			"position_id": id,
			"asset":       asset,
			"direction":   direction,
			"entry_price": entryPrice,
			"size_usd":    sizeUSD,
			"leverage":    leverage,
		},
	})
}

// PublishPositionClosed publishes a position closed event
func (eb *EventBus) PublishPositionClosed(id, asset, closeReason string, exitPrice, realizedPnl, realizedPnlPct float64) {
	eb.Publish(Event{
		Type: EventPositionClosed,
		Data: map[string]interface{}{
			"position_id":      id,
			"asset":            asset,
			"close_reason":     closeReason,
			"exit_price":       exitPrice,
			"realized_pnl":     realizedPnl,
			"realized_pnl_pct": realizedPnlPct,
		},
	})
}

// PublishPartialTakeProfit publishes a partial take profit event
func (eb *EventBus) PublishPartialTakeProfit(id, asset string, level int, closedUSD, realizedPnl float64) {
	eb.Publish(Event{
		Type: EventPartialTakeProfit,
		Data: map[string]interface{}{
			"position_id":  id,
			"asset":        asset,
			"tp_level":     level,
			"closed_usd":   closedUSD,
			"realized_pnl": realizedPnl,
		},
	})
}

// PublishSignalEvaluated publishes a signal evaluation result
func (eb *EventBus) PublishSignalEvaluated(asset, direction string, strength, confidence float64, confirming int) {
	eb.Publish(Event{
		Type: EventSignalEvaluated,
		Data: map[string]interface{}{
			"asset":      asset,
			"direction":  direction,
			"strength":   strength,
			"confidence": confidence,
			"confirming": confirming,
		},
	})
}

// PublishSignalRejected publishes a rejected signal with the reason
func (eb *EventBus) PublishSignalRejected(asset, reason string) {
	eb.Publish(Event{
		Type: EventSignalRejected,
		Data: map[string]interface{}{
			"asset":  asset,
			"reason": reason,
		},
	})
}

// PublishCircuitBreaker publishes circuit breaker state changes
func (eb *EventBus) PublishCircuitBreaker(active bool, reason string) {
	eb.Publish(Event{
		Type: EventCircuitBreakerUpdate,
		Data: map[string]interface{}{
			"active": active,
			"reason": reason,
		},
	})
}

// PublishPortfolioUpdate publishes a portfolio snapshot
func (eb *EventBus) PublishPortfolioUpdate(balance, totalValue, exposure, realizedPnl, unrealizedPnl float64) {
	eb.Publish(Event{
		Type: EventPortfolioUpdate,
		Data: map[string]interface{}{
			"balance":        balance,
			"total_value":    totalValue,
			"exposure":       exposure,
			"realized_pnl":   realizedPnl,
			"unrealized_pnl": unrealizedPnl,
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
