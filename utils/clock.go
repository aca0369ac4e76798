package utils

import "time"

// Clock supplies the current time for expiry comparisons.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock reports wall time in UTC so stored timestamps compare
// consistently across drivers.
var SystemClock Clock = systemClock{}

// ClockFunc adapts a plain function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }
