// Package gate decides whether enough time has passed since an action of a
// given kind to allow another one.
package gate

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned when the gate is asked to evaluate a negative interval.
var ErrInvalidConfig = errors.New("gate: invalid interval")

// Allow reports whether now - last >= interval. A zero last time is treated
// as the Unix epoch, so the first action is always allowed for any
// non-negative interval. The boundary is inclusive.
func Allow(now, last time.Time, interval time.Duration) (bool, error) {
	if interval < 0 {
		return false, fmt.Errorf("%w: %s", ErrInvalidConfig, interval)
	}
	if last.IsZero() {
		last = time.Unix(0, 0)
	}
	return !now.Before(last.Add(interval)), nil
}

// Remaining returns how long until Allow would return true, or 0 if it already does.
func Remaining(now, last time.Time, interval time.Duration) time.Duration {
	if last.IsZero() || interval <= 0 {
		return 0
	}
	if d := last.Add(interval).Sub(now); d > 0 {
		return d
	}
	return 0
}
