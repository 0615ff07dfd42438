package events

import (
	"encoding/json"
	"strings"

	"tribuna/internal/metrics"

	"github.com/rs/zerolog"
)

// RegisterAudit writes every event as one structured log line.
// Handler errors are reported through the bus error hook and never block the caller.
func RegisterAudit(bus *EventBus, logger *zerolog.Logger) {
	audit := logger.With().Str("component", "audit").Logger()

	bus.OnError(func(event *Event, err error) {
		audit.Warn().Err(err).Str("event", event.Type).Int64("event_id", event.ID).Msg("event handler failed")
	})

	bus.Subscribe(AllEvents, func(event *Event) error {
		entry := audit.Info().
			Int64("event_id", event.ID).
			Str("event", event.Type).
			Time("at", event.CreatedAt)
		if json.Valid(event.Payload) {
			entry = entry.RawJSON("payload", event.Payload)
		}
		entry.Msg("audit")
		return nil
	})
}

// RegisterMetrics counts booking transitions by the action carried in booking events.
func RegisterMetrics(bus *EventBus) {
	bus.Subscribe(AllEvents, func(event *Event) error {
		if !strings.HasPrefix(event.Type, "booking_") && event.Type != EventTicketVerified {
			return nil
		}
		var p BookingEventPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return err
		}
		if p.Action != "" {
			metrics.IncTransition(p.Action)
		}
		return nil
	})
}
