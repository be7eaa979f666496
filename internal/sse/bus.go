package sse

import "sync"

// bus tracks one channel per open HTTP client connection, fanning each published
// message out to all of them
type bus[T any] struct {
	chs map[chan T]struct{}
	mu  sync.RWMutex
}

func newBus[T any]() bus[T] {
	return bus[T]{chs: make(map[chan T]struct{})}
}

// register adds a channel that will receive subsequent messages
func (b *bus[T]) register(ch chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chs[ch] = struct{}{}
}

// unregister removes a previously-registered channel, if present
func (b *bus[T]) unregister(ch chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.chs, ch)
}

// clear removes all channels
func (b *bus[T]) clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chs = make(map[chan T]struct{})
}

// publish fans a message out to every registered channel. Sends are non-blocking:
// a stalled client misses messages rather than stalling the publisher.
func (b *bus[T]) publish(message T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.chs {
		select {
		case ch <- message:
		default:
		}
	}
}
