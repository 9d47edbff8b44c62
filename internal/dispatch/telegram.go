package dispatch

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/mpineda/dosewatch/internal/config"
)

// TelegramChannel delivers caregiver alerts to a set of Telegram chats.
type TelegramChannel struct {
	api     *tgbotapi.BotAPI
	chatIDs []int64
	logger  *zap.Logger
}

func NewTelegramChannel(cfg config.TelegramConfig, logger *zap.Logger) (*TelegramChannel, error) {
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	api.Debug = false

	logger.Info("Telegram caregiver channel ready",
		zap.String("account", api.Self.UserName),
		zap.Int("chats", len(cfg.ChatIDs)),
	)

	return &TelegramChannel{api: api, chatIDs: cfg.ChatIDs, logger: logger}, nil
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) Send(ctx context.Context, text string) error {
	if len(c.chatIDs) == 0 {
		return fmt.Errorf("no telegram chat ids configured")
	}
	var firstErr error
	for _, chatID := range c.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		if _, err := c.api.Send(msg); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("telegram send to %d: %w", chatID, err)
			}
			c.logger.Warn("Telegram send failed",
				zap.Int64("chat_id", chatID),
				zap.Error(err),
			)
		}
	}
	return firstErr
}
