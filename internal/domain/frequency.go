package domain

import (
	"fmt"
	"time"
)

// Frequency identifies the bar size of a panel.
type Frequency string

// Supported frequencies.
const (
	FrequencyDaily  Frequency = "1d"
	FrequencyHourly Frequency = "1h"
	FrequencyMinute Frequency = "1m"
)

// Step returns the duration of one period.
// Unknown or empty frequencies fall back to one calendar day.
func (f Frequency) Step() time.Duration {
	switch f {
	case FrequencyHourly:
		return time.Hour
	case FrequencyMinute:
		return time.Minute
	default:
		return 24 * time.Hour
	}
}

// Validate returns an error for frequencies the engine cannot step through.
func (f Frequency) Validate() error {
	switch f {
	case FrequencyDaily, FrequencyHourly, FrequencyMinute, "":
		return nil
	default:
		return fmt.Errorf("unsupported frequency %q", string(f))
	}
}

// Truncate aligns t to the start of its period in UTC.
func (f Frequency) Truncate(t time.Time) time.Time {
	t = t.UTC()
	if f.Step() == 24*time.Hour {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t.Truncate(f.Step())
}

// Shift moves t by n periods. Negative n moves backwards.
func (f Frequency) Shift(t time.Time, n int) time.Time {
	if f.Step() == 24*time.Hour {
		return t.AddDate(0, 0, n)
	}
	return t.Add(time.Duration(n) * f.Step())
}

// Day builds a UTC calendar date.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
