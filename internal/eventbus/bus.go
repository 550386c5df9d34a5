// Package eventbus is an in-process fan-out of component events.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by jiranotify components.
const (
	TypeCycleDone      = "watch.cycle"      // Data: watch.CycleResult
	TypeDeliverySent   = "notifier.sent"    // Data: notifier.Outcome
	TypeDeliveryFailed = "notifier.failed"  // Data: notifier.Outcome
	TypeDeliveryDrop   = "notifier.dropped" // Data: notifier.Outcome
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus never blocks publishers: a subscriber whose buffer is full misses
// the event.
type Bus interface {
	Publish(e Event)
	// Subscribe returns a channel receiving events of the given types, or
	// of every type when none are given. unsubscribe closes the channel and
	// is idempotent.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
	// Dropped counts deliveries skipped because a subscriber was full.
	Dropped() uint64
}

func New() Bus { return &memBus{} }

type subscriber struct {
	ch    chan Event
	types map[string]struct{} // nil: all
}

func (s *subscriber) wants(typ string) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[typ]
	return ok
}

type memBus struct {
	mu      sync.RWMutex
	subs    []*subscriber
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// read lock held across sends: unsubscribe closes under the write lock
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, max(buffer, 1))}
	if len(types) > 0 {
		s.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, cur := range b.subs {
				if cur == s {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					break
				}
			}
			close(s.ch)
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
