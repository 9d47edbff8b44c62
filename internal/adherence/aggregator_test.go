package adherence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mpineda/dosewatch/internal/store"
)

func dose(at time.Time, status store.DoseStatus) store.ScheduledDose {
	d := store.ScheduledDose{
		UserID:       "user_1",
		MedicationID: "med_1",
		ScheduledAt:  at,
		Status:       status,
	}
	if status == store.StatusTaken {
		taken := at.Add(5 * time.Minute)
		d.TakenAt = &taken
	}
	return d
}

func TestCompute_Rate(t *testing.T) {
	base := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)

	var doses []store.ScheduledDose
	for i := 0; i < 7; i++ {
		doses = append(doses, dose(base.AddDate(0, 0, i), store.StatusTaken))
	}
	doses = append(doses,
		dose(base.AddDate(0, 0, 7), store.StatusMissed),
		dose(base.AddDate(0, 0, 8), store.StatusMissed),
		dose(base.AddDate(0, 0, 9), store.StatusSkipped),
	)

	stats := Compute(doses, time.UTC)
	assert.Equal(t, 10, stats.TotalDoses)
	assert.Equal(t, 7, stats.TakenDoses)
	assert.Equal(t, 2, stats.MissedDoses)
	assert.Equal(t, 1, stats.SkippedDoses)
	assert.InDelta(t, 70.0, stats.Rate, 0.001)
	assert.Equal(t, TrendStable, stats.Trend)
}

func TestCompute_EmptyWindow(t *testing.T) {
	stats := Compute(nil, time.UTC)
	assert.Equal(t, 0, stats.TotalDoses)
	assert.Equal(t, 0.0, stats.Rate)
	assert.Equal(t, 0, stats.Streak)
	assert.Nil(t, stats.LastTaken)
}

func TestCompute_TrendBuckets(t *testing.T) {
	base := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)

	build := func(taken, missed int) []store.ScheduledDose {
		var doses []store.ScheduledDose
		for i := 0; i < taken; i++ {
			doses = append(doses, dose(base.AddDate(0, 0, i), store.StatusTaken))
		}
		for i := 0; i < missed; i++ {
			doses = append(doses, dose(base.AddDate(0, 0, taken+i), store.StatusMissed))
		}
		return doses
	}

	assert.Equal(t, TrendImproving, Compute(build(9, 1), time.UTC).Trend) // 90%
	assert.Equal(t, TrendStable, Compute(build(8, 2), time.UTC).Trend)    // 80%, boundary stays stable
	assert.Equal(t, TrendStable, Compute(build(6, 4), time.UTC).Trend)    // 60%, boundary stays stable
	assert.Equal(t, TrendDeclining, Compute(build(5, 5), time.UTC).Trend) // 50%
}

func TestCompute_StreakBreaksOnMiss(t *testing.T) {
	base := time.Date(2026, 8, 26, 8, 0, 0, 0, time.UTC)

	doses := []store.ScheduledDose{
		dose(base.AddDate(0, 0, -3), store.StatusMissed),
		dose(base.AddDate(0, 0, -2), store.StatusTaken),
		dose(base.AddDate(0, 0, -1), store.StatusTaken),
		dose(base, store.StatusScheduled), // today still pending
	}

	stats := Compute(doses, time.UTC)
	assert.Equal(t, 2, stats.Streak)
}

func TestCompute_StreakPendingTodayDoesNotZero(t *testing.T) {
	base := time.Date(2026, 8, 26, 8, 0, 0, 0, time.UTC)

	doses := []store.ScheduledDose{
		dose(base.AddDate(0, 0, -2), store.StatusTaken),
		dose(base.AddDate(0, 0, -1), store.StatusTaken),
		dose(base, store.StatusScheduled),
	}

	stats := Compute(doses, time.UTC)
	assert.Equal(t, 2, stats.Streak)
}

func TestCompute_StreakMultipleDosesPerDay(t *testing.T) {
	base := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)

	doses := []store.ScheduledDose{
		// Two days ago: both taken.
		dose(base.AddDate(0, 0, -2).Add(8*time.Hour), store.StatusTaken),
		dose(base.AddDate(0, 0, -2).Add(20*time.Hour), store.StatusTaken),
		// Yesterday: one of two missed.
		dose(base.AddDate(0, 0, -1).Add(8*time.Hour), store.StatusTaken),
		dose(base.AddDate(0, 0, -1).Add(20*time.Hour), store.StatusMissed),
	}

	stats := Compute(doses, time.UTC)
	// Yesterday's partial miss breaks the streak before the clean day counts.
	assert.Equal(t, 0, stats.Streak)
}

func TestCompute_StreakIncompleteDayNotCounted(t *testing.T) {
	base := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)

	doses := []store.ScheduledDose{
		dose(base.AddDate(0, 0, -1).Add(8*time.Hour), store.StatusTaken),
		dose(base.AddDate(0, 0, -1).Add(20*time.Hour), store.StatusTaken),
		// Today: morning taken, evening still pending.
		dose(base.Add(8*time.Hour), store.StatusTaken),
		dose(base.Add(20*time.Hour), store.StatusScheduled),
	}

	stats := Compute(doses, time.UTC)
	assert.Equal(t, 1, stats.Streak)
}

func TestCompute_LastTaken(t *testing.T) {
	base := time.Date(2026, 8, 26, 8, 0, 0, 0, time.UTC)

	doses := []store.ScheduledDose{
		dose(base.AddDate(0, 0, -2), store.StatusTaken),
		dose(base, store.StatusTaken),
		dose(base.AddDate(0, 0, -1), store.StatusTaken),
	}

	stats := Compute(doses, time.UTC)
	require.NotNil(t, stats.LastTaken)
	assert.True(t, stats.LastTaken.Equal(base.Add(5*time.Minute)))
}

func TestCompute_StreakUsesLocalCalendarDays(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 2026-08-26 02:00 UTC is still 2026-08-25 in New York. One taken dose
	// either side of local midnight lands on two distinct local days.
	doses := []store.ScheduledDose{
		dose(time.Date(2026, 8, 26, 2, 0, 0, 0, time.UTC), store.StatusTaken),
		dose(time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC), store.StatusTaken),
	}

	stats := Compute(doses, loc)
	assert.Equal(t, 2, stats.Streak)

	// In UTC both fall on the same day.
	stats = Compute(doses, time.UTC)
	assert.Equal(t, 1, stats.Streak)
}

type stubDoses struct {
	rows []store.ScheduledDose
}

func (s *stubDoses) QueryDoses(userID, medicationID string, from time.Time) ([]store.ScheduledDose, error) {
	var out []store.ScheduledDose
	for _, r := range s.rows {
		if !r.ScheduledAt.Before(from) {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestAggregator_StatsWindowsHistory(t *testing.T) {
	now := time.Now().UTC()
	src := &stubDoses{rows: []store.ScheduledDose{
		dose(now.AddDate(0, 0, -40), store.StatusMissed), // outside 30-day window
		dose(now.AddDate(0, 0, -2), store.StatusTaken),
		dose(now.AddDate(0, 0, -1), store.StatusTaken),
	}}

	logger, _ := zap.NewDevelopment()
	agg := New(src, logger)

	stats, err := agg.Stats("user_1", "med_1", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalDoses)
	assert.InDelta(t, 100.0, stats.Rate, 0.001)
	assert.Equal(t, TrendImproving, stats.Trend)
}
