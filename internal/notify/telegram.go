package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"tribuna/internal/domain"
	"tribuna/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BotAPI is the part of *tgbotapi.BotAPI the sender needs.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender resolves the user's chat and sends the text as a plain message.
type TelegramSender struct {
	bot   BotAPI
	users domain.UserDirectory
}

func NewTelegramSender(bot BotAPI, users domain.UserDirectory) *TelegramSender {
	return &TelegramSender{bot: bot, users: users}
}

func (s *TelegramSender) Name() string { return "telegram" }

func (s *TelegramSender) Send(ctx context.Context, n *models.Notification) error {
	user, err := s.users.GetUserByID(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("lookup user %d: %w", n.UserID, err)
	}
	if user.TelegramChatID == 0 {
		return fmt.Errorf("%w: user %d has no telegram chat", ErrPermanent, n.UserID)
	}

	text := n.Text
	if n.Subject != "" {
		text = n.Subject + "\n\n" + n.Text
	}
	msg := tgbotapi.NewMessage(user.TelegramChatID, text)
	if _, err := s.bot.Send(msg); err != nil {
		// 400/403: чат не найден или бот заблокирован, повтор не поможет
		var tgErr *tgbotapi.Error
		if errors.As(err, &tgErr) && (tgErr.Code == http.StatusBadRequest || tgErr.Code == http.StatusForbidden) {
			return fmt.Errorf("%w: %s", ErrPermanent, tgErr.Message)
		}
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
