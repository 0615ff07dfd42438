package notify

import (
	"context"
	"errors"
	"fmt"
	"io"

	"tribuna/internal/config"
	"tribuna/internal/domain"
	"tribuna/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// ErrPermanent marks a delivery that will never succeed; the worker does not retry it.
var ErrPermanent = errors.New("permanent delivery failure")

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds the sender for the configured channel.
func New(cfg config.NotificationsConfig, users domain.UserDirectory, logger *zerolog.Logger) (domain.NotificationSender, io.Closer, error) {
	switch cfg.Channel {
	case "", "log":
		return NewLogSender(logger), nopCloser{}, nil
	case "telegram":
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create telegram bot: %w", err)
		}
		bot.Debug = cfg.Telegram.Debug
		logger.Info().Str("bot", bot.Self.UserName).Msg("Telegram notifications enabled")
		return NewTelegramSender(bot, users), nopCloser{}, nil
	case "amqp":
		sender, err := DialAMQP(cfg.AMQP.URL, cfg.AMQP.Queue)
		if err != nil {
			return nil, nil, err
		}
		return sender, sender, nil
	default:
		return nil, nil, fmt.Errorf("unknown notification channel %q", cfg.Channel)
	}
}

// LogSender writes notifications to the log. Used in development and as the default channel.
type LogSender struct {
	logger *zerolog.Logger
}

func NewLogSender(logger *zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(ctx context.Context, n *models.Notification) error {
	s.logger.Info().
		Str("kind", n.Kind).
		Int64("user_id", n.UserID).
		Int64("booking_id", n.BookingID).
		Int64("match_id", n.MatchID).
		Str("subject", n.Subject).
		Msg(n.Text)
	return nil
}
