package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	apperrors "github.com/nolan-sh/nolan/internal/common/errors"
)

// cronParser accepts seconds-mandatory 6-field expressions; 5-field input
// is normalised before parsing.
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// ParseCron parses a 5- or 6-field cron expression. A 5-field expression
// is normalised by prepending "0" for the seconds field. Computation runs
// in UTC unless timezone names a valid IANA location.
func ParseCron(expr, timezone string) (cron.Schedule, error) {
	fields := strings.Fields(expr)
	switch len(fields) {
	case 5:
		expr = "0 " + strings.Join(fields, " ")
	case 6:
		expr = strings.Join(fields, " ")
	default:
		return nil, apperrors.Invalid(fmt.Sprintf("cron expression must have 5 or 6 fields, got %d: %q", len(fields), expr))
	}

	loc := time.UTC
	if timezone != "" {
		parsed, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, apperrors.Invalid(fmt.Sprintf("unknown timezone %q", timezone))
		}
		loc = parsed
	}

	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, apperrors.Invalid(fmt.Sprintf("invalid cron expression %q: %v", expr, err))
	}

	return &locSchedule{inner: schedule, loc: loc}, nil
}

// locSchedule evaluates an inner schedule in a fixed location.
type locSchedule struct {
	inner cron.Schedule
	loc   *time.Location
}

func (s *locSchedule) Next(t time.Time) time.Time {
	return s.inner.Next(t.In(s.loc))
}
