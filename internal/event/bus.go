package event

import (
	"fmt"
	"sort"
	"sync"
)

// Topic names the channels over which core components communicate. Topics are
// distinct from normalized event types: a topic may carry an Event envelope, a
// viewer-count update, or a VFX command, depending on the topic.
type Topic string

const (
	TopicPlatformEvent          Topic = "platform:event"
	TopicPlatformViewerCount    Topic = "platform:viewer-count"
	TopicVFXCommandReceived     Topic = "vfx:command-received"
	TopicNotificationProcessed  Topic = "notification:processed"
	TopicEventSubConnected      Topic = "eventsub:connected"
	TopicEventSubSubFailed      Topic = "eventsub:subscription-failed"
	TopicStreamOnline           Topic = "streamOnline"
	TopicStreamOffline          Topic = "streamOffline"
	TopicRaid                   Topic = "raid"
	TopicFollow                 Topic = "follow"
	TopicGift                   Topic = "gift"
	TopicPaypiggy               Topic = "paypiggy"
	TopicPaypiggyGift           Topic = "paypiggyGift"
	TopicPaypiggyMessage        Topic = "paypiggyMessage"
	TopicCheer                  Topic = "cheer"
	TopicMessage                Topic = "message"
)

// Handler processes a published message. A returned error is reported to the bus's
// error sink but does not stop dispatch to other handlers.
type Handler func(payload any) error

// ErrorSink receives handler failures; the default sink discards them
type ErrorSink func(topic Topic, err error)

// Bus is a synchronous in-process publish/subscribe bus. Handlers run on the
// publisher's goroutine in registration order; a handler that needs asynchrony
// should hand off to its own channel.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[Topic]map[int]Handler
	onError  ErrorSink
}

// Subscription undoes a single Subscribe call
type Subscription struct {
	bus   *Bus
	topic Topic
	id    int
}

func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Topic]map[int]Handler),
		onError:  func(Topic, error) {},
	}
}

// SetErrorSink installs the sink notified when a handler returns an error or panics
func (b *Bus) SetErrorSink(sink ErrorSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sink != nil {
		b.onError = sink
	}
}

// Subscribe registers a handler for a topic and returns a disposable subscription
func (b *Bus) Subscribe(topic Topic, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[int]Handler)
	}
	b.nextID++
	b.handlers[topic][b.nextID] = h
	return &Subscription{bus: b, topic: topic, id: b.nextID}
}

// Dispose removes the subscription; disposing twice is a no-op
func (s *Subscription) Dispose() error {
	if s == nil || s.bus == nil {
		return nil
	}
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if hs, ok := s.bus.handlers[s.topic]; ok {
		delete(hs, s.id)
	}
	s.bus = nil
	return nil
}

// Publish fans the payload out to every handler registered for the topic. A
// handler's error or panic is reported to the error sink; remaining handlers still
// run.
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.handlers[topic]))
	for id := range b.handlers[topic] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	hs := make([]Handler, len(ids))
	for i, id := range ids {
		hs[i] = b.handlers[topic][id]
	}
	sink := b.onError
	b.mu.RUnlock()

	for _, h := range hs {
		b.dispatch(topic, h, payload, sink)
	}
}

func (b *Bus) dispatch(topic Topic, h Handler, payload any, sink ErrorSink) {
	defer func() {
		if r := recover(); r != nil {
			sink(topic, fmt.Errorf("handler panic: %v", r))
		}
	}()
	if err := h(payload); err != nil {
		sink(topic, err)
	}
}

// Clear removes every handler from every topic. Used at shutdown so that a draining
// queue cannot trigger further side effects.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[Topic]map[int]Handler)
}
