package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mpineda/dosewatch/internal/metrics"
)

type recordingSink struct {
	mu   sync.Mutex
	sent []Notification
	fail error
}

func (s *recordingSink) Send(ctx context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.sent = append(s.sent, n)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func testMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

func TestInProcess_Dispatch(t *testing.T) {
	sink := &recordingSink{}
	logger, _ := zap.NewDevelopment()
	d := NewInProcess(sink, 0, logger, testMetrics())

	assert.False(t, d.NativeTimers())

	err := d.Dispatch(context.Background(), Notification{UserID: "u", Title: "t", Body: "b", Key: "k"})
	require.NoError(t, err)
	require.Equal(t, 1, sink.count())
	assert.Equal(t, "k", sink.sent[0].Key)
}

func TestInProcess_DispatchAtPastDeliversNow(t *testing.T) {
	sink := &recordingSink{}
	logger, _ := zap.NewDevelopment()
	d := NewInProcess(sink, 0, logger, testMetrics())

	err := d.DispatchAt(context.Background(), time.Now().Add(-time.Second), Notification{Key: "k"})
	require.NoError(t, err)
	assert.Equal(t, 1, sink.count())
}

func TestInProcess_RearmReplacesTimer(t *testing.T) {
	sink := &recordingSink{}
	logger, _ := zap.NewDevelopment()
	d := NewInProcess(sink, 0, logger, testMetrics())

	at := time.Now().Add(40 * time.Millisecond)
	require.NoError(t, d.DispatchAt(context.Background(), at, Notification{Key: "k", Body: "first"}))
	require.NoError(t, d.DispatchAt(context.Background(), at, Notification{Key: "k", Body: "second"}))

	time.Sleep(200 * time.Millisecond)
	require.Equal(t, 1, sink.count())
	assert.Equal(t, "second", sink.sent[0].Body)
}

func TestInProcess_Cancel(t *testing.T) {
	sink := &recordingSink{}
	logger, _ := zap.NewDevelopment()
	d := NewInProcess(sink, 0, logger, testMetrics())

	require.NoError(t, d.DispatchAt(context.Background(), time.Now().Add(40*time.Millisecond), Notification{Key: "k"}))
	d.Cancel("k")

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, sink.count())
}

func TestJournaled_SuppressesDuplicateKey(t *testing.T) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	defer db.Close()

	sink := &recordingSink{}
	logger, _ := zap.NewDevelopment()
	d := NewJournaled(NewInProcess(sink, 0, logger, testMetrics()), db, logger)

	n := Notification{UserID: "u", Body: "take your meds", Key: "med_1@2026-08-26T08:00:00Z#0"}
	require.NoError(t, d.Dispatch(context.Background(), n))
	require.NoError(t, d.Dispatch(context.Background(), n))
	assert.Equal(t, 1, sink.count())

	// A new attempt counter is a new key.
	n.Key = "med_1@2026-08-26T08:00:00Z#1"
	require.NoError(t, d.Dispatch(context.Background(), n))
	assert.Equal(t, 2, sink.count())
}

func TestJournaled_EmptyKeyPassesThrough(t *testing.T) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	defer db.Close()

	sink := &recordingSink{}
	logger, _ := zap.NewDevelopment()
	d := NewJournaled(NewInProcess(sink, 0, logger, testMetrics()), db, logger)

	require.NoError(t, d.Dispatch(context.Background(), Notification{Body: "a"}))
	require.NoError(t, d.Dispatch(context.Background(), Notification{Body: "b"}))
	assert.Equal(t, 2, sink.count())
}

type flakyChannel struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (c *flakyChannel) Name() string { return "flaky" }

func (c *flakyChannel) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.fail {
		return fmt.Errorf("transport down")
	}
	return nil
}

func TestCaregiverNotifier_BreakerStopsHammering(t *testing.T) {
	ch := &flakyChannel{fail: true}
	logger, _ := zap.NewDevelopment()
	n := NewCaregiverNotifier([]Channel{ch}, logger, testMetrics())

	for i := 0; i < 6; i++ {
		n.Notify(context.Background(), "dose missed")
	}

	// Three consecutive failures open the breaker; later notifies are
	// short-circuited without touching the transport.
	ch.mu.Lock()
	defer ch.mu.Unlock()
	assert.Equal(t, 3, ch.calls)
}

func TestCaregiverNotifier_NoRecipients(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	n := NewCaregiverNotifier(nil, logger, testMetrics())

	assert.False(t, n.HasRecipients())
	// Must not panic or block.
	n.Notify(context.Background(), "dose missed")
}

func TestNative_DispatchAtUsesTransportTimers(t *testing.T) {
	var (
		mu    sync.Mutex
		sends []time.Time
	)
	sink := scheduledSinkFunc{
		send: func(ctx context.Context, n Notification) error { return nil },
		sendAt: func(ctx context.Context, at time.Time, n Notification) error {
			mu.Lock()
			sends = append(sends, at)
			mu.Unlock()
			return nil
		},
	}
	logger, _ := zap.NewDevelopment()
	d := NewNative(sink, logger, testMetrics())

	assert.True(t, d.NativeTimers())

	at := time.Now().Add(time.Hour)
	require.NoError(t, d.DispatchAt(context.Background(), at, Notification{Key: "k"}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sends, 1)
	assert.True(t, sends[0].Equal(at))
}

type scheduledSinkFunc struct {
	send   func(ctx context.Context, n Notification) error
	sendAt func(ctx context.Context, at time.Time, n Notification) error
}

func (s scheduledSinkFunc) Send(ctx context.Context, n Notification) error {
	return s.send(ctx, n)
}

func (s scheduledSinkFunc) SendAt(ctx context.Context, at time.Time, n Notification) error {
	return s.sendAt(ctx, at, n)
}
