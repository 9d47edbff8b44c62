package timing

import (
	"sort"
	"time"

	"github.com/mpineda/dosewatch/internal/errors"
)

// Weekday is the canonical ISO-8601 weekday: Monday=1 .. Sunday=7.
// Every schedule in the system stores weekdays in this form; other
// numberings are converted exactly once, at the schedule-persistence
// boundary, via NormalizeWeekdays.
type Weekday int

const (
	Monday Weekday = iota + 1
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

// Valid reports whether w is inside the ISO 1-7 range.
func (w Weekday) Valid() bool {
	return w >= Monday && w <= Sunday
}

// Time converts to the standard library's numbering (Sunday=0).
func (w Weekday) Time() time.Weekday {
	if w == Sunday {
		return time.Sunday
	}
	return time.Weekday(w)
}

// FromTime converts from the standard library's numbering (Sunday=0).
func FromTime(d time.Weekday) Weekday {
	if d == time.Sunday {
		return Sunday
	}
	return Weekday(d)
}

// NormalizeWeekdays converts a raw weekday list into canonical sorted,
// deduplicated ISO form. With legacyZeroSunday the input uses the
// 0-indexed convention (0=Sunday .. 6=Saturday); otherwise it must
// already be ISO 1-7.
func NormalizeWeekdays(days []int, legacyZeroSunday bool) ([]Weekday, error) {
	seen := make(map[Weekday]bool, len(days))
	out := make([]Weekday, 0, len(days))
	for _, d := range days {
		var w Weekday
		if legacyZeroSunday {
			if d < 0 || d > 6 {
				return nil, errors.Wrap(nil, errors.ErrBadWeekday.Code, "legacy weekday outside 0-6 range")
			}
			if d == 0 {
				w = Sunday
			} else {
				w = Weekday(d)
			}
		} else {
			w = Weekday(d)
			if !w.Valid() {
				return nil, errors.ErrBadWeekday
			}
		}
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// WeekdayInts converts back to plain ints for persistence.
func WeekdayInts(days []Weekday) []int {
	out := make([]int, len(days))
	for i, d := range days {
		out[i] = int(d)
	}
	return out
}
