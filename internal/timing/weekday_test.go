package timing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpineda/dosewatch/internal/errors"
)

func TestNormalizeWeekdays_ISO(t *testing.T) {
	days, err := NormalizeWeekdays([]int{5, 3, 3, 1}, false)
	require.NoError(t, err)
	assert.Equal(t, []Weekday{Monday, Wednesday, Friday}, days)
}

func TestNormalizeWeekdays_LegacyZeroSunday(t *testing.T) {
	days, err := NormalizeWeekdays([]int{0, 2, 4}, true)
	require.NoError(t, err)
	assert.Equal(t, []Weekday{Tuesday, Thursday, Sunday}, days)
}

func TestNormalizeWeekdays_RejectsOutOfRange(t *testing.T) {
	for _, bad := range [][]int{{0}, {8}, {-1}} {
		_, err := NormalizeWeekdays(bad, false)
		require.Error(t, err, "input %v", bad)
		assert.Equal(t, errors.ErrBadWeekday.Code, errors.GetCode(err))
	}

	// Legacy numbering tops out at 6.
	_, err := NormalizeWeekdays([]int{7}, true)
	require.Error(t, err)
	assert.Equal(t, errors.ErrBadWeekday.Code, errors.GetCode(err))
}

func TestNormalizeWeekdays_Empty(t *testing.T) {
	days, err := NormalizeWeekdays(nil, false)
	require.NoError(t, err)
	assert.Empty(t, days)
}

func TestWeekdayTimeRoundTrip(t *testing.T) {
	for w := Monday; w <= Sunday; w++ {
		assert.Equal(t, w, FromTime(w.Time()))
	}
	assert.Equal(t, time.Sunday, Sunday.Time())
	assert.Equal(t, Sunday, FromTime(time.Sunday))
}

func TestWeekdayInts(t *testing.T) {
	assert.Equal(t, []int{1, 7}, WeekdayInts([]Weekday{Monday, Sunday}))
}
