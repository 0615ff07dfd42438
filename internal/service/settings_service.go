package service

import (
	"context"
	"strconv"

	"tribuna/internal/domain"
	"tribuna/internal/events"
	"tribuna/internal/models"

	"github.com/rs/zerolog"
)

const maxClosureLeadMinutes = 24 * 60

// SettingsService reads runtime settings with config fallbacks.
type SettingsService struct {
	store       domain.SettingsStore
	eventBus    domain.EventPublisher
	defaultLead int
	logger      *zerolog.Logger
}

func NewSettingsService(store domain.SettingsStore, eventBus domain.EventPublisher, defaultLead int, logger *zerolog.Logger) *SettingsService {
	return &SettingsService{store: store, eventBus: eventBus, defaultLead: defaultLead, logger: logger}
}

// ClosureLeadMinutes is read once per request. A broken or missing setting falls back to config.
func (s *SettingsService) ClosureLeadMinutes(ctx context.Context) int {
	raw, ok, err := s.store.GetSetting(ctx, models.SettingBookingClosureMinutes)
	if err != nil {
		s.logger.Warn().Err(err).Msg("read closure setting, using default")
		return s.defaultLead
	}
	if !ok {
		return s.defaultLead
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		s.logger.Warn().Str("value", raw).Msg("invalid closure setting, using default")
		return s.defaultLead
	}
	return v
}

func (s *SettingsService) SetClosureLeadMinutes(ctx context.Context, actor domain.Actor, minutes int) error {
	if err := requireRole(actor, models.RoleAdmin); err != nil {
		return err
	}
	if minutes < 0 || minutes > maxClosureLeadMinutes {
		return domain.Validation("closure minutes must be between 0 and %d", maxClosureLeadMinutes)
	}
	value := strconv.Itoa(minutes)
	if err := s.store.SetSetting(ctx, models.SettingBookingClosureMinutes, value); err != nil {
		return domain.Upstream(err, "save setting")
	}

	if s.eventBus != nil {
		payload := events.SettingEventPayload{Key: models.SettingBookingClosureMinutes, Value: value, ActorID: actor.UserID}
		if err := s.eventBus.PublishJSON(events.EventSettingChanged, payload); err != nil {
			s.logger.Error().Err(err).Msg("publish event error")
		}
	}
	s.logger.Info().Int("minutes", minutes).Int64("admin_id", actor.UserID).Msg("booking closure window updated")
	return nil
}
