package dispatch

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/mpineda/dosewatch/internal/config"
)

// DiscordChannel delivers caregiver alerts to a set of Discord channels.
type DiscordChannel struct {
	session    *discordgo.Session
	channelIDs []string
	logger     *zap.Logger
}

func NewDiscordChannel(cfg config.DiscordConfig, logger *zap.Logger) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("failed to open discord session: %w", err)
	}

	logger.Info("Discord caregiver channel ready", zap.Int("channels", len(cfg.ChannelIDs)))

	return &DiscordChannel{session: session, channelIDs: cfg.ChannelIDs, logger: logger}, nil
}

func (c *DiscordChannel) Name() string { return "discord" }

func (c *DiscordChannel) Send(ctx context.Context, text string) error {
	if len(c.channelIDs) == 0 {
		return fmt.Errorf("no discord channel ids configured")
	}
	var firstErr error
	for _, id := range c.channelIDs {
		if _, err := c.session.ChannelMessageSend(id, text); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("discord send to %s: %w", id, err)
			}
			c.logger.Warn("Discord send failed",
				zap.String("channel_id", id),
				zap.Error(err),
			)
		}
	}
	return firstErr
}

// Close shuts the underlying gateway connection.
func (c *DiscordChannel) Close() error {
	return c.session.Close()
}
