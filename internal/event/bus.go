package event

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Soberat/GLAD/internal/pkg/metrics"
)

// Bus fans events out to subscribers. Publishing never blocks: a subscriber
// whose buffer is full misses the event and the drop is counted.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
	now  func() time.Time
}

// Subscription receives events on C until Close is called.
type Subscription struct {
	id      string
	C       <-chan Event
	ch      chan Event
	filters []Filter
	bus     *Bus
	once    sync.Once
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]*Subscription),
		now:  time.Now,
	}
}

// Subscribe registers a receiver with the given buffer size. All filters
// must match for an event to be delivered.
func (b *Bus) Subscribe(buffer int, filters ...Filter) *Subscription {
	ch := make(chan Event, buffer)
	s := &Subscription{
		id:      uuid.NewString(),
		C:       ch,
		ch:      ch,
		filters: filters,
		bus:     b,
	}

	b.mu.Lock()
	b.subs[s.id] = s
	b.mu.Unlock()
	return s
}

// Publish delivers e to every matching subscriber. A zero Time is stamped.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = b.now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		if !s.matches(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			metrics.EventsDropped.WithLabelValues(string(e.Kind)).Inc()
		}
	}
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		close(s.ch)
		s.bus.mu.Unlock()
	})
}

func (s *Subscription) matches(e Event) bool {
	for _, f := range s.filters {
		if !f(e) {
			return false
		}
	}
	return true
}
