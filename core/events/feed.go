package events

import (
	"sync"
	"sync/atomic"

	"bountychain/core/types"
)

const defaultSubscriberBuffer = 64

// Feed broadcasts rendered events to live subscribers. Slow subscribers never
// block the emitter: events that do not fit in a subscriber's buffer are
// dropped and counted.
type Feed struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]chan *types.Event
	dropped atomic.Uint64
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[uint64]chan *types.Event)}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// cancel function unregisters it and closes the channel.
func (f *Feed) Subscribe(size int) (<-chan *types.Event, func()) {
	if size <= 0 {
		size = defaultSubscriberBuffer
	}
	ch := make(chan *types.Event, size)
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers reports the number of active subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (f *Feed) Dropped() uint64 { return f.dropped.Load() }

// Emit implements the Emitter interface.
func (f *Feed) Emit(evt Event) {
	payload := ToPayload(evt)
	if payload == nil {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs {
		select {
		case ch <- payload.Clone():
		default:
			f.dropped.Add(1)
		}
	}
}
