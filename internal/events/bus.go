// Package events is a small in-process fan-out bus for layer mutations.
package events

import "sync"

// Event describes one mutation of the active-layer set.
type Event struct {
	Action  string // "activated", "deactivated", "restyled", "reordered", "cleared"
	LayerID string // empty for collection-wide actions
}

// Bus fans events out to subscribers. Publish never blocks; a subscriber
// that falls behind misses events rather than stalling mutators.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a buffered channel that receives events.
func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}
