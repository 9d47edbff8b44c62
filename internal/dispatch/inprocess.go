package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mpineda/dosewatch/internal/errors"
	"github.com/mpineda/dosewatch/internal/metrics"
)

// InProcess dispatches through an in-process timer. Pending DispatchAt
// timers are keyed by notification dedup key so re-arming replaces rather
// than duplicates.
type InProcess struct {
	sink    Sink
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewInProcess creates an in-process dispatcher. perMinute caps delivery
// rate; zero disables limiting.
func NewInProcess(sink Sink, perMinute int, logger *zap.Logger, m *metrics.Metrics) *InProcess {
	var limiter *rate.Limiter
	if perMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
	}
	return &InProcess{
		sink:    sink,
		limiter: limiter,
		logger:  logger,
		metrics: m,
		timers:  make(map[string]*time.Timer),
	}
}

func (d *InProcess) NativeTimers() bool { return false }

func (d *InProcess) Dispatch(ctx context.Context, n Notification) error {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, errors.ErrDispatchFailed.Code, "rate limit wait interrupted")
		}
	}
	if err := d.sink.Send(ctx, n); err != nil {
		d.metrics.DispatchFailed.Inc()
		return errors.Wrap(err, errors.ErrDispatchFailed.Code, errors.ErrDispatchFailed.Message)
	}
	return nil
}

func (d *InProcess) DispatchAt(ctx context.Context, at time.Time, n Notification) error {
	delay := time.Until(at)
	if delay <= 0 {
		return d.Dispatch(ctx, n)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if prev, ok := d.timers[n.Key]; ok {
		prev.Stop()
	}
	d.timers[n.Key] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.timers, n.Key)
		d.mu.Unlock()

		if err := d.Dispatch(context.Background(), n); err != nil {
			d.logger.Error("Deferred dispatch failed",
				zap.String("key", n.Key),
				zap.Error(err),
			)
		}
	})
	return nil
}

// Cancel stops a pending deferred dispatch.
func (d *InProcess) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[key]; ok {
		t.Stop()
		delete(d.timers, key)
	}
}

// Native dispatches through a transport that owns its own delivery timers
// (an OS notification scheduler or a push service with scheduled send).
type Native struct {
	sink    ScheduledSink
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewNative(sink ScheduledSink, logger *zap.Logger, m *metrics.Metrics) *Native {
	return &Native{sink: sink, logger: logger, metrics: m}
}

func (d *Native) NativeTimers() bool { return true }

func (d *Native) Dispatch(ctx context.Context, n Notification) error {
	if err := d.sink.Send(ctx, n); err != nil {
		d.metrics.DispatchFailed.Inc()
		return errors.Wrap(err, errors.ErrDispatchFailed.Code, errors.ErrDispatchFailed.Message)
	}
	return nil
}

func (d *Native) DispatchAt(ctx context.Context, at time.Time, n Notification) error {
	if err := d.sink.SendAt(ctx, at, n); err != nil {
		d.metrics.DispatchFailed.Inc()
		return errors.Wrap(err, errors.ErrDispatchFailed.Code, "scheduled dispatch failed")
	}
	return nil
}

// LogSink is the default transport: structured log delivery, used when no
// push channel is configured and in tests.
type LogSink struct {
	Logger *zap.Logger
}

func (s *LogSink) Send(ctx context.Context, n Notification) error {
	s.Logger.Info("Notification",
		zap.String("user_id", n.UserID),
		zap.String("title", n.Title),
		zap.String("body", n.Body),
	)
	return nil
}
