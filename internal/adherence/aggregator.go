// Package adherence derives statistics from the dose log: rate, streak,
// and a coarse trend bucket.
package adherence

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/mpineda/dosewatch/internal/store"
)

// Trend buckets. Not a period-over-period delta; classification is on the
// trailing-window rate alone.
const (
	TrendImproving = "improving"
	TrendStable    = "stable"
	TrendDeclining = "declining"
)

// Stats summarizes adherence over a trailing window.
type Stats struct {
	TotalDoses   int        `json:"total_doses"`
	TakenDoses   int        `json:"taken_doses"`
	MissedDoses  int        `json:"missed_doses"`
	SkippedDoses int        `json:"skipped_doses"`
	Rate         float64    `json:"rate"`
	Streak       int        `json:"streak"`
	LastTaken    *time.Time `json:"last_taken,omitempty"`
	Trend        string     `json:"trend"`
}

// DoseSource is the slice of the store the aggregator reads.
type DoseSource interface {
	QueryDoses(userID, medicationID string, from time.Time) ([]store.ScheduledDose, error)
}

// Aggregator computes adherence statistics from the dose log.
type Aggregator struct {
	doses  DoseSource
	logger *zap.Logger
}

func New(doses DoseSource, logger *zap.Logger) *Aggregator {
	return &Aggregator{doses: doses, logger: logger}
}

// Stats computes adherence over the trailing window of `days` days ending
// now. Calendar-day grouping for the streak uses loc; nil means UTC.
func (a *Aggregator) Stats(userID, medicationID string, days int, loc *time.Location) (Stats, error) {
	if days <= 0 {
		days = 30
	}
	now := time.Now()
	from := now.AddDate(0, 0, -days)

	doses, err := a.doses.QueryDoses(userID, medicationID, from)
	if err != nil {
		return Stats{}, err
	}

	stats := Compute(doses, loc)
	a.logger.Debug("Computed adherence stats",
		zap.String("medication_id", medicationID),
		zap.Int("total", stats.TotalDoses),
		zap.Float64("rate", stats.Rate),
		zap.Int("streak", stats.Streak),
	)
	return stats, nil
}

// Compute derives Stats from raw dose rows. Rate is defined as 0 when no
// doses exist in the window.
func Compute(doses []store.ScheduledDose, loc *time.Location) Stats {
	if loc == nil {
		loc = time.UTC
	}

	var stats Stats
	stats.TotalDoses = len(doses)

	for i := range doses {
		switch doses[i].Status {
		case store.StatusTaken:
			stats.TakenDoses++
			if doses[i].TakenAt != nil &&
				(stats.LastTaken == nil || doses[i].TakenAt.After(*stats.LastTaken)) {
				stats.LastTaken = doses[i].TakenAt
			}
		case store.StatusMissed:
			stats.MissedDoses++
		case store.StatusSkipped:
			stats.SkippedDoses++
		}
	}

	if stats.TotalDoses > 0 {
		stats.Rate = float64(stats.TakenDoses) / float64(stats.TotalDoses) * 100
	}

	stats.Streak = streak(doses, loc)

	switch {
	case stats.Rate > 80:
		stats.Trend = TrendImproving
	case stats.Rate < 60:
		stats.Trend = TrendDeclining
	default:
		stats.Trend = TrendStable
	}

	return stats
}

// streak counts consecutive calendar days, most recent first, where every
// dose scheduled that day was taken. The result is a day count. Days with
// only still-pending (scheduled) doses are skipped rather than breaking the
// streak, so an unfinished today does not zero it.
func streak(doses []store.ScheduledDose, loc *time.Location) int {
	byDay := make(map[string][]store.ScheduledDose)
	var dayKeys []string
	for i := range doses {
		key := doses[i].ScheduledAt.In(loc).Format("2006-01-02")
		if _, ok := byDay[key]; !ok {
			dayKeys = append(dayKeys, key)
		}
		byDay[key] = append(byDay[key], doses[i])
	}

	sort.Sort(sort.Reverse(sort.StringSlice(dayKeys)))

	count := 0
	for _, key := range dayKeys {
		taken, pending, failed := 0, 0, 0
		for _, d := range byDay[key] {
			switch d.Status {
			case store.StatusTaken:
				taken++
			case store.StatusScheduled:
				pending++
			default:
				failed++
			}
		}
		if failed > 0 {
			break
		}
		if taken == 0 {
			if pending > 0 {
				continue
			}
			break
		}
		if pending > 0 {
			// Day not complete yet; what is taken so far keeps the
			// streak alive but the day itself is not counted.
			continue
		}
		count++
	}
	return count
}
