package broadcast

import (
	"sync"

	"github.com/kiliankoe/quizdash/internal/game"
)

// Fanout publishes every event to each registered sink in registration order.
type Fanout struct {
	mu    sync.RWMutex
	sinks []game.Broadcaster
}

func NewFanout(sinks ...game.Broadcaster) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		f.Add(s)
	}
	return f
}

func (f *Fanout) Add(s game.Broadcaster) {
	if s == nil {
		return
	}
	f.mu.Lock()
	f.sinks = append(f.sinks, s)
	f.mu.Unlock()
}

func (f *Fanout) Publish(room, event string, payload any) {
	f.mu.RLock()
	sinks := f.sinks
	f.mu.RUnlock()
	for _, s := range sinks {
		s.Publish(room, event, payload)
	}
}

func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sinks)
}
