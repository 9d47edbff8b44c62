package dispatch

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/mpineda/dosewatch/internal/metrics"
)

// Channel is one caregiver delivery transport.
type Channel interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// CaregiverNotifier fans a message out to every configured caregiver
// channel. Each channel sits behind its own circuit breaker so a dead bot
// API stops being hammered. Failures are logged and swallowed; caregiver
// delivery never blocks or rolls back a Taken/Missed transition.
type CaregiverNotifier struct {
	channels []Channel
	breakers map[string]*gobreaker.CircuitBreaker[any]
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewCaregiverNotifier(channels []Channel, logger *zap.Logger, m *metrics.Metrics) *CaregiverNotifier {
	breakers := make(map[string]*gobreaker.CircuitBreaker[any], len(channels))
	for _, ch := range channels {
		breakers[ch.Name()] = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:    ch.Name(),
			Timeout: 2 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		})
	}
	return &CaregiverNotifier{
		channels: channels,
		breakers: breakers,
		logger:   logger,
		metrics:  m,
	}
}

// HasRecipients reports whether any channel is configured.
func (c *CaregiverNotifier) HasRecipients() bool {
	return len(c.channels) > 0
}

// Notify sends text to all caregiver channels. Always returns; errors only
// surface in logs and metrics.
func (c *CaregiverNotifier) Notify(ctx context.Context, text string) {
	if len(c.channels) == 0 {
		c.logger.Debug("No caregiver recipients configured")
		return
	}

	for _, ch := range c.channels {
		ch := ch
		_, err := c.breakers[ch.Name()].Execute(func() (any, error) {
			return nil, ch.Send(ctx, text)
		})
		if err != nil {
			c.metrics.DispatchFailed.Inc()
			c.logger.Warn("Caregiver notification failed",
				zap.String("channel", ch.Name()),
				zap.Error(err),
			)
		}
	}
}
