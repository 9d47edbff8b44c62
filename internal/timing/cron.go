package timing

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// cron parser star bit, matching robfig/cron's internal marker for "*".
const cronStarBit = 1 << 63

// FromCronExpr converts a standard five-field cron expression of the shape
// "M H * * dow" into a time of day and an ISO weekday set. It exists so
// schedules can be imported from cron-style sources; the conversion happens
// here, at the boundary, and the rest of the system only ever sees
// timeOfDay + daysOfWeek.
func FromCronExpr(expr string) (timeOfDay string, days []Weekday, err error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return "", nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	spec, ok := sched.(*cron.SpecSchedule)
	if !ok {
		return "", nil, fmt.Errorf("cron expression %q uses an unsupported descriptor", expr)
	}

	if spec.Dom&cronStarBit == 0 || spec.Month&cronStarBit == 0 {
		return "", nil, fmt.Errorf("cron expression %q must leave day-of-month and month unrestricted", expr)
	}

	hour, ok := singleBit(spec.Hour, 0, 23)
	if !ok {
		return "", nil, fmt.Errorf("cron expression %q must name exactly one hour", expr)
	}
	minute, ok := singleBit(spec.Minute, 0, 59)
	if !ok {
		return "", nil, fmt.Errorf("cron expression %q must name exactly one minute", expr)
	}

	// Cron numbers weekdays 0=Sunday .. 6=Saturday.
	for d := 0; d <= 6; d++ {
		if spec.Dow&(1<<uint(d)) != 0 {
			if d == 0 {
				days = append(days, Sunday)
			} else {
				days = append(days, Weekday(d))
			}
		}
	}
	if len(days) == 0 {
		return "", nil, fmt.Errorf("cron expression %q matches no weekday", expr)
	}
	days, _ = NormalizeWeekdays(WeekdayInts(days), false)

	return fmt.Sprintf("%02d:%02d", hour, minute), days, nil
}

func singleBit(mask uint64, lo, hi int) (int, bool) {
	found := -1
	for i := lo; i <= hi; i++ {
		if mask&(1<<uint(i)) != 0 {
			if found >= 0 {
				return 0, false
			}
			found = i
		}
	}
	return found, found >= 0
}
