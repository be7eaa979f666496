package router

import (
	"sync"
	"time"

	"github.com/stagehand-live/stagehand/internal/event"
)

// ConnectionTracker records the instant each platform connected, backing the chat
// sub-router's pre-connection filter
type ConnectionTracker struct {
	mu    sync.Mutex
	times map[event.Platform]time.Time
}

func NewConnectionTracker() *ConnectionTracker {
	return &ConnectionTracker{times: make(map[event.Platform]time.Time)}
}

// RecordConnection stamps the platform as connected now
func (c *ConnectionTracker) RecordConnection(platform event.Platform) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.times[platform] = time.Now()
}

// ClearConnection forgets a platform's connection instant, re-admitting messages
// after a disconnect until the next connection is recorded
func (c *ConnectionTracker) ClearConnection(platform event.Platform) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.times, platform)
}

// GetPlatformConnectionTime returns the platform's connection instant, zero when
// the platform has not connected
func (c *ConnectionTracker) GetPlatformConnectionTime(platform event.Platform) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.times[platform]
}

var _ ConnectionTimes = (*ConnectionTracker)(nil)
