// Package display implements the priority-ordered display queue that drives the
// OBS overlay. At most one item is ever active; the queue holds each item for its
// display duration (TTS-driven when TTS is enabled) before advancing.
package display

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stagehand-live/stagehand/internal/event"
	"github.com/stagehand-live/stagehand/internal/telemetry"
)

var ErrQueueStopped = errors.New("display queue is stopped")

// Item is a single entry in the display queue: built copy plus the OBS source
// fields it should be written to
type Item struct {
	ID             string         `json:"id"`
	Type           event.Type     `json:"type"`
	Platform       event.Platform `json:"platform"`
	Priority       int            `json:"priority"`
	Username       string         `json:"username"`
	UserID         string         `json:"userId"`
	CommandKey     string         `json:"commandKey,omitempty"`
	DisplayMessage string         `json:"displayMessage"`
	TTSMessage     string         `json:"ttsMessage"`
	LogMessage     string         `json:"logMessage"`
	SourceName     string         `json:"-"`
	SceneName      string         `json:"-"`
	IsError        bool           `json:"isError,omitempty"`
	Duration       time.Duration  `json:"-"`
	EnqueuedAt     time.Time      `json:"enqueuedAt"`

	seq uint64
}

// VFXCommand is the payload published on the vfx:command-received topic when a
// dequeued item triggers an overlay effect
type VFXCommand struct {
	CommandKey string         `json:"commandKey"`
	Username   string         `json:"username"`
	Platform   event.Platform `json:"platform"`
	UserID     string         `json:"userId"`
	Context    CommandContext `json:"context"`
}

type CommandContext struct {
	Source string `json:"source"`
}

// SourceWriter is the slice of the OBS client the queue needs: writing text into a
// configured text source
type SourceWriter interface {
	SetTextSourceText(ctx context.Context, sourceName, text string) error
}

// Speaker plays a TTS message, returning when playback finishes. When a Speaker is
// installed, its playback time is the item's hold duration.
type Speaker interface {
	Speak(ctx context.Context, message string) error
}

// Options configures queue construction
type Options struct {
	MaxQueueSize    int
	DefaultDuration time.Duration
}

// Queue is a single-slot priority queue of display items. Items dequeue strictly in
// priority order, FIFO among equal priorities.
type Queue struct {
	bus     *event.Bus
	writer  SourceWriter
	speaker Speaker
	opts    Options

	mu      sync.Mutex
	items   itemHeap
	active  *Item
	nextSeq uint64
	stopped bool
	wake    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
}

func NewQueue(bus *event.Bus, writer SourceWriter, speaker Speaker, opts Options) *Queue {
	if opts.MaxQueueSize <= 0 {
		opts.MaxQueueSize = 100
	}
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = 5 * time.Second
	}
	return &Queue{
		bus:     bus,
		writer:  writer,
		speaker: speaker,
		opts:    opts,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start launches the background processor. It returns immediately; the processor
// runs until Stop is called or ctx is canceled.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.cancel = cancel
	q.mu.Unlock()
	go q.run(ctx)
}

// AddItem enqueues an item, maintaining heap order by priority with FIFO tiebreak.
// When the queue is full, the lowest-priority pending item is dropped to make room.
func (q *Queue) AddItem(item *Item) error {
	if item == nil {
		return errors.New("cannot enqueue nil item")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return ErrQueueStopped
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}
	if item.Duration <= 0 {
		item.Duration = q.opts.DefaultDuration
	}
	q.nextSeq++
	item.seq = q.nextSeq

	if q.items.Len() >= q.opts.MaxQueueSize {
		dropped := q.items.dropLowest()
		if dropped != nil && dropped.Priority > item.Priority {
			// The incoming item is itself the lowest priority: put the evicted one
			// back and discard the new arrival instead
			heap.Push(&q.items, dropped)
			telemetry.Debugf("display: queue full, dropped incoming %s item", item.Type)
			return nil
		}
		if dropped != nil {
			telemetry.Debugf("display: queue full, dropped pending %s item", dropped.Type)
		}
	}

	heap.Push(&q.items, item)
	q.signal()
	return nil
}

// Depth returns the number of pending items, excluding the active slot
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Active returns the currently displayed item, or nil
func (q *Queue) Active() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Stop halts the processor, clears the active slot, and drains pending items
// without emitting any further events
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.active = nil
	q.items = q.items[:0]
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
		<-q.done
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	for {
		item := q.takeNext()
		if item == nil {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		q.dispatch(ctx, item)
		q.hold(ctx, item)

		q.mu.Lock()
		if q.active == item {
			q.active = nil
		}
		q.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
	}
}

// takeNext pops the highest-priority pending item and claims the active slot, or
// returns nil when the queue is empty or a slot is already held
func (q *Queue) takeNext() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped || q.active != nil || q.items.Len() == 0 {
		return nil
	}
	item := heap.Pop(&q.items).(*Item)
	q.active = item
	return item
}

func (q *Queue) dispatch(ctx context.Context, item *Item) {
	if q.writer != nil && item.SourceName != "" && item.DisplayMessage != "" {
		if err := q.writer.SetTextSourceText(ctx, item.SourceName, item.DisplayMessage); err != nil {
			telemetry.Errorf("display: failed to write OBS source '%s': %v", item.SourceName, err)
		}
	}

	if key := item.vfxCommandKey(); key != "" {
		q.bus.Publish(event.TopicVFXCommandReceived, VFXCommand{
			CommandKey: key,
			Username:   item.Username,
			Platform:   item.Platform,
			UserID:     item.UserID,
			Context:    CommandContext{Source: "display-queue"},
		})
	}
}

// hold keeps the active slot occupied for the item's display duration. When a
// speaker is installed and the item carries TTS copy, playback time governs.
func (q *Queue) hold(ctx context.Context, item *Item) {
	if q.speaker != nil && item.TTSMessage != "" {
		if err := q.speaker.Speak(ctx, item.TTSMessage); err != nil && ctx.Err() == nil {
			telemetry.Warnf("display: TTS playback failed: %v", err)
		}
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(item.Duration):
	}
}

// vfxCommandKey returns the command key an item should fire on dequeue: its
// explicit key when present, otherwise the item type for gifts and paypiggies
func (i *Item) vfxCommandKey() string {
	if i.CommandKey != "" {
		return i.CommandKey
	}
	switch i.Type {
	case event.TypeGift, event.TypePaypiggy, event.TypeGiftPaypiggy:
		return string(i.Type)
	}
	return ""
}

// itemHeap orders items by priority descending, then enqueue sequence ascending
type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(*Item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// dropLowest removes and returns the lowest-priority pending item, breaking ties
// toward the most recently enqueued
func (h *itemHeap) dropLowest() *Item {
	if h.Len() == 0 {
		return nil
	}
	lowest := 0
	for i := 1; i < h.Len(); i++ {
		cur := (*h)[i]
		low := (*h)[lowest]
		if cur.Priority < low.Priority || (cur.Priority == low.Priority && cur.seq > low.seq) {
			lowest = i
		}
	}
	item := (*h)[lowest]
	heap.Remove(h, lowest)
	return item
}
