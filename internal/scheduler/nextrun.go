package scheduler

import (
	"fmt"
	"time"

	"github.com/ellipsesearch/visibility/pkg/models"
)

// Fixed UTC slot hours for sub-daily frequencies. Snapping to slots keeps
// "3×/day" landing on the same three clock times instead of drifting with
// whenever the tick happens to fire.
var subDailySlots = map[string][]int{
	models.Frequency2xDaily: {8, 20},
	models.Frequency3xDaily: {8, 14, 20},
}

// NextRun computes the next run time for a frequency, strictly after now.
func NextRun(frequency string, now time.Time) (time.Time, error) {
	now = now.UTC()

	switch frequency {
	case models.FrequencyDaily:
		return now.AddDate(0, 0, 1), nil
	case models.FrequencyWeekly:
		return now.AddDate(0, 0, 7), nil
	case models.FrequencyMonthly:
		return now.AddDate(0, 1, 0), nil
	}

	slots, ok := subDailySlots[frequency]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown frequency %q", frequency)
	}

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	for _, hour := range slots {
		slot := day.Add(time.Duration(hour) * time.Hour)
		if slot.After(now) {
			return slot, nil
		}
	}
	// All of today's slots have passed; first slot tomorrow.
	return day.AddDate(0, 0, 1).Add(time.Duration(slots[0]) * time.Hour), nil
}
