// Package timing decides, for a set of reminder schedules and an instant,
// what the next dose is and whether a dose is due or overdue right now.
// It is the only package that converts between UTC instants and the
// schedule's local civil time.
package timing

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultGracePeriod is the window after a scheduled dose during
	// which a "taken" action still counts as on-time.
	DefaultGracePeriod = 15 * time.Minute

	// DefaultTakenTolerance is the window around a scheduled instant
	// within which a confirmed dose suppresses further due/overdue
	// signalling for that occurrence.
	DefaultTakenTolerance = 30 * time.Minute
)

// Schedule is the resolver's view of one reminder schedule: a local time of
// day on a set of ISO weekdays in an explicit location.
type Schedule struct {
	ID       string
	Hour     int
	Minute   int
	Days     []Weekday
	Location *time.Location
}

// NewSchedule parses "HH:MM" and builds a resolver schedule.
func NewSchedule(id, timeOfDay, timezone string, days []Weekday) (Schedule, error) {
	hour, minute, err := ParseTimeOfDay(timeOfDay)
	if err != nil {
		return Schedule{}, err
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	return Schedule{ID: id, Hour: hour, Minute: minute, Days: days, Location: loc}, nil
}

// ParseTimeOfDay parses a local "HH:MM" string.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("time of day %q must be HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("time of day %q has invalid hour", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time of day %q has invalid minute", s)
	}
	return hour, minute, nil
}

// NextDoseInfo is the resolver output. When Scheduled is false no active
// schedule exists and the remaining fields are zero; this is the
// "not scheduled" sentinel, never an error.
type NextDoseInfo struct {
	Scheduled           bool       `json:"scheduled"`
	NextDoseTime        time.Time  `json:"next_dose_time,omitempty"`
	CurrentReminderTime *time.Time `json:"current_reminder_time,omitempty"`
	IsDue               bool       `json:"is_due"`
	IsOverdue           bool       `json:"is_overdue"`
}

// TakenChecker reports whether a dose was confirmed taken within the taken
// tolerance of the given scheduled instant. The scheduler backs this with
// the adherence log.
type TakenChecker func(scheduledAt time.Time) bool

// Resolve classifies "now" against the given schedules. Due and overdue are
// mutually exclusive, derived only, and always recomputed; they are never
// persisted. A nil takenNear treats every occurrence as unconfirmed.
func Resolve(schedules []Schedule, now time.Time, grace time.Duration, takenNear TakenChecker) NextDoseInfo {
	if len(schedules) == 0 {
		return NextDoseInfo{}
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	info := NextDoseInfo{Scheduled: true}

	var next time.Time
	for _, s := range schedules {
		cand := s.NextOccurrence(now)
		if next.IsZero() || cand.Before(next) {
			next = cand
		}
	}
	info.NextDoseTime = next

	// Most recent past occurrence across all schedules decides due/overdue.
	var due, overdue time.Time
	for _, s := range schedules {
		occ, ok := s.LastOccurrence(now)
		if !ok {
			continue
		}
		if takenNear != nil && takenNear(occ) {
			// Confirmed inside the tolerance window; no further
			// signalling for this occurrence.
			continue
		}
		if now.Sub(occ) < grace {
			if occ.After(due) {
				due = occ
			}
		} else if occ.After(overdue) {
			overdue = occ
		}
	}

	switch {
	case !due.IsZero():
		t := due
		info.CurrentReminderTime = &t
		info.IsDue = true
	case !overdue.IsZero():
		t := overdue
		info.CurrentReminderTime = &t
		info.IsOverdue = true
	}

	return info
}

// NextOccurrence returns the minimal instant >= now whose local weekday is
// in the schedule's day set and whose local time equals the schedule's time
// of day. If the time of day already passed today the result is strictly
// after now.
func (s Schedule) NextOccurrence(now time.Time) time.Time {
	local := now.In(s.Location)
	for offset := 0; offset <= 7; offset++ {
		day := local.AddDate(0, 0, offset)
		if !s.onDay(day) {
			continue
		}
		cand := time.Date(day.Year(), day.Month(), day.Day(), s.Hour, s.Minute, 0, 0, s.Location)
		if !cand.Before(now) {
			return cand.UTC()
		}
	}
	// Unreachable with a non-empty day set; a full week always contains
	// a matching day.
	return time.Time{}
}

// LastOccurrence returns the most recent occurrence at or before now.
func (s Schedule) LastOccurrence(now time.Time) (time.Time, bool) {
	local := now.In(s.Location)
	for offset := 0; offset <= 7; offset++ {
		day := local.AddDate(0, 0, -offset)
		if !s.onDay(day) {
			continue
		}
		cand := time.Date(day.Year(), day.Month(), day.Day(), s.Hour, s.Minute, 0, 0, s.Location)
		if !cand.After(now) {
			return cand.UTC(), true
		}
	}
	return time.Time{}, false
}

func (s Schedule) onDay(day time.Time) bool {
	w := FromTime(day.Weekday())
	for _, d := range s.Days {
		if d == w {
			return true
		}
	}
	return false
}
