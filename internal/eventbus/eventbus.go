// Package eventbus is the in-memory pub/sub bus: a bounded ring buffer of
// events with app/type filtered subscriptions, delivered synchronously in
// publish order and never blocking a publisher on a slow subscriber.
package eventbus

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/axbridge/axd/internal/model"
)

// DefaultCapacity is the ring buffer size (N=100 per the spec).
const DefaultCapacity = 100

// DefaultDropThreshold is the per-subscriber unread buffer limit before the
// subscriber is dropped for backpressure.
const DefaultDropThreshold = 1024

// Filter selects which events a subscription receives. An empty AppFilter or
// empty Types means match-all for that dimension; both combine with AND.
type Filter struct {
	AppFilter string
	Types     []string
}

func (f Filter) matches(e model.Event) bool {
	if f.AppFilter != "" && !strings.EqualFold(f.AppFilter, e.App) {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if model.TypeFilterMatches(t, e.Type) {
			return true
		}
	}
	return false
}

type subscriber struct {
	id       string
	filter   Filter
	ch       chan model.Event
	dropped  chan struct{}
	once     sync.Once
}

func (s *subscriber) closeDropped() {
	s.once.Do(func() { close(s.dropped) })
}

// Bus is safe for concurrent use.
type Bus struct {
	mu       sync.Mutex
	capacity int
	ring     []model.Event
	subs     map[string]*subscriber
}

func New() *Bus {
	return NewWithCapacity(DefaultCapacity)
}

func NewWithCapacity(capacity int) *Bus {
	return &Bus{capacity: capacity, subs: make(map[string]*subscriber)}
}

// Publish appends e to the ring buffer (dropping the oldest entry on
// overflow) and delivers it synchronously, in this call's order, to every
// subscriber whose filter matches. A subscriber whose channel is full is
// dropped rather than blocking this publisher.
func (b *Bus) Publish(e model.Event) {
	b.mu.Lock()
	b.ring = append(b.ring, e)
	if len(b.ring) > b.capacity {
		b.ring = b.ring[len(b.ring)-b.capacity:]
	}
	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if s.filter.matches(e) {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		select {
		case s.ch <- e:
		default:
			b.dropSubscriber(s.id)
			s.closeDropped()
		}
	}
}

// Subscribe registers a filtered subscription and returns its id plus the
// channel events are delivered on. The dropped channel closes if this
// subscriber is ever evicted for backpressure.
func (b *Bus) Subscribe(filter Filter) (id string, events <-chan model.Event, dropped <-chan struct{}) {
	s := &subscriber{
		id:      uuid.NewString(),
		filter:  filter,
		ch:      make(chan model.Event, DefaultDropThreshold),
		dropped: make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[s.id] = s
	b.mu.Unlock()
	return s.id, s.ch, s.dropped
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	s, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(s.ch)
	}
}

func (b *Bus) dropSubscriber(id string) {
	b.mu.Lock()
	s, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(s.ch)
	}
}

// GetRecent returns a defensive copy of up to limit most-recent events
// matching filter, newest-last. limit <= 0 means unbounded.
func (b *Bus) GetRecent(filter Filter, limit int) []model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var matched []model.Event
	for _, e := range b.ring {
		if filter.matches(e) {
			matched = append(matched, e)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	out := make([]model.Event, len(matched))
	copy(out, matched)
	return out
}

// EventCount returns the number of events currently retained in the ring.
func (b *Bus) EventCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ring)
}
