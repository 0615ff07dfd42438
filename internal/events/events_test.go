package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	bus.Subscribe(EventBookingCreated, func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	err := bus.PublishJSON(EventBookingCreated, BookingEventPayload{BookingID: 7, Seats: []string{"A1"}})
	require.NoError(t, err)

	assert.Equal(t, 1, callCount)
	require.NotNil(t, received)
	assert.Equal(t, EventBookingCreated, received.Type)
	assert.Equal(t, int64(1), received.ID)

	var decoded BookingEventPayload
	require.NoError(t, json.Unmarshal(received.Payload, &decoded))
	assert.Equal(t, int64(7), decoded.BookingID)
	assert.Equal(t, []string{"A1"}, decoded.Seats)
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2, all int

	bus.Subscribe("event", func(_ *Event) error { count1++; return nil })
	bus.Subscribe("event", func(_ *Event) error { count2++; return nil })
	bus.Subscribe(AllEvents, func(_ *Event) error { all++; return nil })

	bus.Publish(&Event{Type: "event"})
	bus.Publish(&Event{Type: "other"})

	assert.Equal(t, 1, count1)
	assert.Equal(t, 1, count2)
	assert.Equal(t, 2, all)
}

func TestEventBusHandlerErrors(t *testing.T) {
	bus := NewEventBus()
	var reported []string
	bus.OnError(func(event *Event, err error) { reported = append(reported, event.Type+": "+err.Error()) })

	var afterFailure bool
	bus.Subscribe("event", func(_ *Event) error { return errors.New("sink down") })
	bus.Subscribe("event", func(_ *Event) error { afterFailure = true; return nil })

	bus.Publish(&Event{Type: "event"})
	assert.True(t, afterFailure, "a failing handler does not stop the others")
	assert.Equal(t, []string{"event: sink down"}, reported)
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	assert.NotPanics(t, func() { bus.Publish(&Event{Type: "unknown"}) })
	assert.NoError(t, bus.PublishJSON("unknown", nil))

	var nilBus *EventBus
	assert.NoError(t, nilBus.PublishJSON("unknown", nil))
}

func TestNewJSONEvent(t *testing.T) {
	event, err := NewJSONEvent(EventMatchCancelled, MatchEventPayload{MatchID: 123, Affected: 4})
	require.NoError(t, err)
	assert.Equal(t, EventMatchCancelled, event.Type)
	assert.False(t, event.CreatedAt.IsZero())

	var decoded MatchEventPayload
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	assert.Equal(t, int64(123), decoded.MatchID)
	assert.Equal(t, 4, decoded.Affected)

	_, err = NewJSONEvent("bad", make(chan int))
	assert.Error(t, err)
}

func TestRegisterAudit(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	bus := NewEventBus()
	RegisterAudit(bus, &logger)
	RegisterMetrics(bus)

	require.NoError(t, bus.PublishJSON(EventBookingPaid, BookingEventPayload{BookingID: 9, Action: "payment_completed"}))
	out := buf.String()
	assert.Contains(t, out, `"component":"audit"`)
	assert.Contains(t, out, `"event":"booking_paid"`)
	assert.Contains(t, out, `"booking_id":9`)

	buf.Reset()
	bus.Publish(&Event{Type: EventBookingCancelled, Payload: []byte("not json")})
	assert.Contains(t, buf.String(), "event handler failed", "metrics subscriber error goes to the hook")
}
