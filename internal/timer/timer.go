// Package timer schedules the per-session round deadlines.
package timer

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kiliankoe/quizdash/internal/game"
)

// Service implements game.Timers on top of a clockwork clock so tests can
// drive deadlines with a fake clock.
type Service struct {
	clock clockwork.Clock
}

func New(clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{clock: clock}
}

func (s *Service) Now() time.Time { return s.clock.Now() }

func (s *Service) After(d time.Duration, fn func()) game.TimerHandle {
	if d < 0 {
		d = 0
	}
	return s.clock.AfterFunc(d, fn)
}
