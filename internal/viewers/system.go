// Package viewers polls each platform adapter for its live viewer count and fans
// the readings out to registered observers.
package viewers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stagehand-live/stagehand/internal/event"
	"github.com/stagehand-live/stagehand/internal/telemetry"
)

// Source supplies viewer counts for one platform
type Source interface {
	Platform() event.Platform
	GetViewerCount(ctx context.Context) (float64, error)
}

// Update is delivered to every observer on each successful poll. Counts are passed
// through verbatim; platform APIs occasionally return pathological values (NaN,
// negative, absurdly large) and the observer decides how to render them.
type Update struct {
	Platform      event.Platform `json:"platform"`
	Count         float64        `json:"count"`
	PreviousCount float64        `json:"previousCount"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Observer receives viewer-count updates and stream-liveness transitions
type Observer interface {
	OnViewerCountUpdate(u Update)
	OnStreamStatusChange(platform event.Platform, isLive bool)
}

// System owns the polling loop and the observer registry
type System struct {
	bus      *event.Bus
	interval time.Duration
	sources  []Source

	mu        sync.Mutex
	observers map[string]Observer
	previous  map[event.Platform]float64
	live      map[event.Platform]bool
}

// NewSystem builds the fanout. A non-positive interval disables polling entirely;
// the system can still deliver externally-driven updates.
func NewSystem(bus *event.Bus, interval time.Duration, sources []Source) *System {
	return &System{
		bus:       bus,
		interval:  interval,
		sources:   sources,
		observers: make(map[string]Observer),
		previous:  make(map[event.Platform]float64),
		live:      make(map[event.Platform]bool),
	}
}

// Register adds an observer under a unique id
func (s *System) Register(observerID string, o Observer) error {
	if observerID == "" || o == nil {
		return fmt.Errorf("observer registration requires an id and an observer")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.observers[observerID]; exists {
		return fmt.Errorf("observer id '%s' is already registered", observerID)
	}
	s.observers[observerID] = o
	return nil
}

// Unregister removes the observer with the given id, if registered
func (s *System) Unregister(observerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.observers, observerID)
}

// Run polls every source on the configured interval until ctx is canceled. Returns
// immediately when polling is disabled.
func (s *System) Run(ctx context.Context) {
	if s.interval <= 0 {
		telemetry.Warnf("viewers: polling disabled (interval %v)", s.interval)
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollAll(ctx)
		}
	}
}

func (s *System) pollAll(ctx context.Context) {
	for _, src := range s.sources {
		count, err := src.GetViewerCount(ctx)
		if err != nil {
			telemetry.Debugf("viewers: poll failed for %s: %v", src.Platform(), err)
			continue
		}
		s.Deliver(src.Platform(), count)
	}
}

// Deliver records a count for a platform and fans it out. Exposed so adapters that
// push viewer counts (TikTok ROOM_USER) can feed the same pipeline the poller uses.
func (s *System) Deliver(platform event.Platform, count float64) {
	s.mu.Lock()
	previous := s.previous[platform]
	s.previous[platform] = count
	observers := s.snapshotLocked()
	s.mu.Unlock()

	update := Update{
		Platform:      platform,
		Count:         count,
		PreviousCount: previous,
		Timestamp:     time.Now(),
	}
	for id, o := range observers {
		notifyObserver(id, o, func(obs Observer) { obs.OnViewerCountUpdate(update) })
	}

	if s.bus != nil {
		s.bus.Publish(event.TopicPlatformViewerCount, update)
	}
}

// SetStreamLive records per-platform liveness; a transition fans out
// OnStreamStatusChange to every observer
func (s *System) SetStreamLive(platform event.Platform, isLive bool) {
	s.mu.Lock()
	was, tracked := s.live[platform]
	s.live[platform] = isLive
	observers := s.snapshotLocked()
	s.mu.Unlock()

	if tracked && was == isLive {
		return
	}
	for id, o := range observers {
		notifyObserver(id, o, func(obs Observer) { obs.OnStreamStatusChange(platform, isLive) })
	}
}

// IsLive reports the last recorded liveness for a platform
func (s *System) IsLive(platform event.Platform) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live[platform]
}

func (s *System) snapshotLocked() map[string]Observer {
	out := make(map[string]Observer, len(s.observers))
	for id, o := range s.observers {
		out[id] = o
	}
	return out
}

// notifyObserver isolates one observer's panic so it cannot prevent delivery to
// the others
func notifyObserver(id string, o Observer, fn func(Observer)) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.Errorf("viewers: observer '%s' panicked: %v", id, r)
		}
	}()
	fn(o)
}
