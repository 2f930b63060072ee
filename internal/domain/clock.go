package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// clock is a package-level time source used for the "now" fallback when an
// upstream timestamp cannot be parsed.
var clock = clockwork.NewRealClock()

// SetClock swaps the time source for normalization. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// Now returns the current instant from the package clock.
func Now() time.Time {
	return clock.Now()
}
