package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// nextRunWindow bounds how far ahead NextRun looks. Expressions whose next
// firing is beyond the window report ok=false.
const nextRunWindow = 48 * time.Hour

// cronParser accepts standard 5-field expressions (minute hour dom month dow).
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Schedule is a parsed 5-field cron expression. Firing times have minute
// granularity.
type Schedule struct {
	inner cron.Schedule
}

// Parse validates and parses a 5-field cron expression.
func Parse(expr string) (*Schedule, error) {
	inner, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cron expression %q: %w", expr, err)
	}
	return &Schedule{inner: inner}, nil
}

// Matches reports whether the schedule fires during the minute containing t.
func (s *Schedule) Matches(t time.Time) bool {
	minute := t.Truncate(time.Minute)
	return s.inner.Next(minute.Add(-time.Second)).Equal(minute)
}

// ShouldRunNow reports whether the expression matches the given instant.
func ShouldRunNow(expr string, now time.Time) (bool, error) {
	s, err := Parse(expr)
	if err != nil {
		return false, err
	}
	return s.Matches(now), nil
}

// NextRun returns the next instant strictly after from at which the
// expression fires. ok is false when nothing fires within the window.
func NextRun(expr string, from time.Time) (time.Time, bool, error) {
	s, err := Parse(expr)
	if err != nil {
		return time.Time{}, false, err
	}
	next := s.inner.Next(from)
	if next.IsZero() || next.Sub(from) > nextRunWindow {
		return time.Time{}, false, nil
	}
	return next, true, nil
}
