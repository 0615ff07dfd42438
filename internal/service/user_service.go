package service

import (
	"context"
	"strings"

	"tribuna/internal/domain"
	"tribuna/internal/models"

	"github.com/rs/zerolog"
)

type UserService struct {
	store  Store
	logger *zerolog.Logger
}

func NewUserService(store Store, logger *zerolog.Logger) *UserService {
	return &UserService{store: store, logger: logger}
}

// TouchUser records the authenticated caller, creating the user on first sight.
func (s *UserService) TouchUser(ctx context.Context, actor domain.Actor, name, email string) error {
	if actor.UserID == 0 {
		return domain.Unauthorized("authentication required")
	}
	user := &models.User{ID: actor.UserID, Name: strings.TrimSpace(name), Email: strings.TrimSpace(email), Role: actor.Role}
	if err := s.store.TouchUser(ctx, user); err != nil {
		return storeError(err, "user", actor.UserID)
	}
	return nil
}

type ContactInput struct {
	Name           string
	Email          string
	TelegramChatID int64
}

func (s *UserService) UpdateContact(ctx context.Context, actor domain.Actor, in ContactInput) (*models.User, error) {
	if actor.UserID == 0 {
		return nil, domain.Unauthorized("authentication required")
	}
	in.Email = strings.TrimSpace(in.Email)
	if in.TelegramChatID < 0 {
		return nil, domain.Validation("telegram chat id must be positive")
	}
	if err := s.store.UpdateUserContact(ctx, actor.UserID, strings.TrimSpace(in.Name), in.Email, in.TelegramChatID); err != nil {
		return nil, storeError(err, "user", actor.UserID)
	}
	return s.GetUserByID(ctx, actor.UserID)
}

func (s *UserService) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "user", id)
	}
	return user, nil
}

// ListActiveUsers returns users seen within the last days. Admin only.
func (s *UserService) ListActiveUsers(ctx context.Context, actor domain.Actor, days int) ([]*models.User, error) {
	if err := requireRole(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	if days <= 0 || days > 365 {
		return nil, domain.Validation("days must be between 1 and 365")
	}
	users, err := s.store.GetActiveUsers(ctx, days)
	if err != nil {
		return nil, storeError(err, "users", days)
	}
	return users, nil
}

// FailedNotifications lists notifications that exhausted their retries. Admin only.
func (s *UserService) FailedNotifications(ctx context.Context, actor domain.Actor) ([]models.NotificationTask, error) {
	if err := requireRole(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	tasks, err := s.store.GetFailedNotificationTasks(ctx)
	if err != nil {
		return nil, storeError(err, "notifications", "failed")
	}
	return tasks, nil
}
