package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock is the only source of "now" for ledger code. Every timestamp written
// by a flow comes from a Clock so tests can pin time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

func NewSystemClock() Clock {
	return systemClock{}
}

var Module = fx.Module("clock",
	fx.Provide(NewSystemClock),
)
