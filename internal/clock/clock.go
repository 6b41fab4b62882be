// Package clock abstracts the time source so time-window and response-time
// evaluation stays deterministic in tests.
package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock covers the two ways the pipeline consumes time: reading it for
// condition evaluation and waiting on it for delayed replies.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// NewSystem returns the wall clock in UTC.
func NewSystem() Clock { return systemClock{} }

// Module provides the system clock.
var Module = fx.Module("clock",
	fx.Provide(NewSystem),
)
