package events

import (
	"sync"
	"sync/atomic"
)

// Subscription is one live session registered with the broadcaster.
// The events channel is never closed; wait on Done to detect eviction or shutdown.
type Subscription struct {
	id          string
	filter      Filter
	events      chan Event
	done        chan struct{}
	once        sync.Once
	evicted     atomic.Bool
	broadcaster *Broadcaster
}

// ID returns the subscriber ID.
func (s *Subscription) ID() string { return s.id }

// Events returns the delivery channel.
func (s *Subscription) Events() <-chan Event { return s.events }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Evicted reports whether the subscription was dropped for being too slow.
func (s *Subscription) Evicted() bool { return s.evicted.Load() }

// Close unregisters the subscription. Calling it more than once is safe.
func (s *Subscription) Close() {
	s.broadcaster.remove(s, false)
}

func (s *Subscription) close(evicted bool) {
	s.once.Do(func() {
		s.evicted.Store(evicted)
		close(s.done)
	})
}
