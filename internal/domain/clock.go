package domain

import (
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

var clock atomic.Pointer[clockwork.Clock]

func init() { SetClock(nil) }

// SetClock replaces the time source behind Now. Freshness checks and every
// computed_at timestamp read it. A nil clock restores wall time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	clock.Store(&c)
}

// Now reports the current time in UTC.
func Now() time.Time {
	return (*clock.Load()).Now().UTC()
}
