package airgap

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Named sync frequencies and the cron schedule each stands for. Anything
// else is parsed as a five-field cron expression.
var frequencies = map[string]string{
	"hourly":  "@hourly",
	"daily":   "0 0 * * *",
	"weekly":  "0 0 * * 0",
	"monthly": "0 0 1 * *",
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseFrequency resolves a sync frequency to its cron schedule.
func ParseFrequency(freq string) (cron.Schedule, error) {
	expr, ok := frequencies[freq]
	if !ok {
		expr = freq
	}
	schedule, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid sync frequency %q: %w", freq, err)
	}
	return schedule, nil
}

// nextSync returns the first scheduled sync strictly after t.
func nextSync(freq string, t time.Time) (*time.Time, error) {
	schedule, err := ParseFrequency(freq)
	if err != nil {
		return nil, err
	}
	next := schedule.Next(t).UTC()
	return &next, nil
}
