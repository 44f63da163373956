package event

import (
	"sync"
)

// Bus is the in-process publish/subscribe surface for engine notifications.
// One owned instance is passed by reference to collaborators; there is no
// global state. Publish never blocks: a subscriber that falls behind drops
// notifications, the same policy the projection channel uses elsewhere in
// the system. Subscribers that must not miss terminal transitions (the
// primary-continuity supervisor) size their buffers accordingly.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Notification
	closed bool

	// onDrop, if set, is invoked for every dropped notification.
	onDrop func(Type)
}

func NewBus() *Bus {
	return &Bus{}
}

// SetDropHandler installs a callback for dropped notifications (metrics hook).
func (b *Bus) SetDropHandler(fn func(Type)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = fn
}

// Subscribe registers a new subscriber with the given buffer size and
// returns its receive channel. The channel is closed on Bus.Close.
func (b *Bus) Subscribe(buffer int) <-chan Notification {
	b.mu.Lock()
	defer b.mu.Unlock()

	if buffer <= 0 {
		buffer = 64
	}

	ch := make(chan Notification, buffer)
	if b.closed {
		close(ch)
		return ch
	}

	b.subs = append(b.subs, ch)
	return ch
}

// Publish fans the notification out to all subscribers, non-blocking.
func (b *Bus) Publish(n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subs {
		select {
		case ch <- n:
		default:
			if b.onDrop != nil {
				b.onDrop(n.Type())
			}
		}
	}
}

// Close tears down the bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
