package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventBookingCreated     = "booking_created"
	EventBookingPaid        = "booking_paid"
	EventBookingPaymentFail = "booking_payment_failed"
	EventBookingCancelled   = "booking_cancelled"
	EventBookingExpired     = "booking_expired"
	EventBookingCompleted   = "booking_completed"
	EventBookingRescheduled = "booking_rescheduled"
	EventBookingRefunded    = "booking_refunded"
	EventBookingDeleted     = "booking_deleted"
	EventTicketVerified     = "ticket_verified"

	EventMatchCreated     = "match_created"
	EventMatchCancelled   = "match_cancelled"
	EventMatchRescheduled = "match_rescheduled"
	EventMatchRefunded    = "match_refunded"
	EventMatchStatus      = "match_status_changed"

	EventSettingChanged = "setting_changed"
)

// AllEvents subscribes a handler to every event type.
const AllEvents = "*"

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID     int64    `json:"booking_id"`
	UserID        int64    `json:"user_id"`
	MatchID       int64    `json:"match_id"`
	Seats         []string `json:"seats,omitempty"`
	Status        string   `json:"status"`
	PaymentStatus string   `json:"payment_status"`
	Action        string   `json:"action"`
	ActorID       int64    `json:"actor_id,omitempty"`
	Note          string   `json:"note,omitempty"`
}

// MatchEventPayload is published once per match-level operation with its cascade counts.
type MatchEventPayload struct {
	MatchID     int64  `json:"match_id"`
	Status      string `json:"status"`
	SuccessorID int64  `json:"successor_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
	ActorID     int64  `json:"actor_id,omitempty"`
	Affected    int    `json:"affected"`
	Failed      int    `json:"failed"`
	Notified    int    `json:"notified"`
}

type SettingEventPayload struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	ActorID int64  `json:"actor_id,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	seq         int64
	onError     func(event *Event, err error)
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// OnError sets the hook called with handler failures. Failures never reach the publisher.
func (b *EventBus) OnError(fn func(event *Event, err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = fn
}

// Subscribe registers a handler for a given event type, or AllEvents.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type, then the AllEvents subscribers.
func (b *EventBus) Publish(event *Event) {
	b.mu.Lock()
	b.seq++
	event.ID = b.seq
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.subscribers[AllEvents]...)
	onError := b.onError
	b.mu.Unlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && onError != nil {
			onError(event, err)
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}

	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
