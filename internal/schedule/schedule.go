// Package schedule computes run times for scheduled tasks and drives the
// loop that fires them when due.
package schedule

import (
	"fmt"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"burrow/pkg/types"
)

// NextRun computes the next firing instant after now for the given schedule.
// Cron schedules use the standard 5-field syntax; interval values are
// milliseconds; once schedules never have a next run.
func NextRun(kind, value string, now time.Time) (*time.Time, error) {
	switch kind {
	case types.ScheduleCron:
		spec, err := cron.ParseStandard(value)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", value, err)
		}
		next := spec.Next(now)
		return &next, nil

	case types.ScheduleInterval:
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid interval %q: must be positive milliseconds", value)
		}
		next := now.Add(time.Duration(ms) * time.Millisecond)
		return &next, nil

	case types.ScheduleOnce:
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown schedule kind %q", kind)
	}
}

// FirstRun computes the initial NextRun for a newly created task. Once tasks
// fire immediately.
func FirstRun(kind, value string, now time.Time) (*time.Time, error) {
	if kind == types.ScheduleOnce {
		return &now, nil
	}
	return NextRun(kind, value, now)
}

// Validate checks a schedule without computing anything.
func Validate(kind, value string) error {
	_, err := NextRun(kind, value, time.Now())
	return err
}
