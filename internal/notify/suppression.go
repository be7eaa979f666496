package notify

import (
	"context"
	"sync"
	"time"

	"github.com/stagehand-live/stagehand/internal/config"
)

// SuppressionOptions tunes the per-user notification rate limiter
type SuppressionOptions struct {
	Enabled         bool
	Window          time.Duration
	MaxPerWindow    int
	MuteDuration    time.Duration
	CleanupInterval time.Duration
}

func DefaultSuppressionOptions() SuppressionOptions {
	return SuppressionOptions{
		Enabled:         true,
		Window:          60 * time.Second,
		MaxPerWindow:    5,
		MuteDuration:    300 * time.Second,
		CleanupInterval: 300 * time.Second,
	}
}

// SuppressionOptionsFromConfig reads the suppression tuning keys from [timing],
// falling back to the defaults for any key not present
func SuppressionOptionsFromConfig(cfg *config.Config) (SuppressionOptions, error) {
	defaults := DefaultSuppressionOptions()
	enabled, err := cfg.Bool("timing", "userSuppressionEnabled", defaults.Enabled)
	if err != nil {
		return SuppressionOptions{}, err
	}
	window, err := cfg.Duration("timing", "suppressionWindowMs", defaults.Window)
	if err != nil {
		return SuppressionOptions{}, err
	}
	maxPerWindow, err := cfg.Int("timing", "maxNotificationsPerUser", defaults.MaxPerWindow)
	if err != nil {
		return SuppressionOptions{}, err
	}
	mute, err := cfg.Duration("timing", "suppressionDurationMs", defaults.MuteDuration)
	if err != nil {
		return SuppressionOptions{}, err
	}
	cleanup, err := cfg.Duration("timing", "suppressionCleanupIntervalMs", defaults.CleanupInterval)
	if err != nil {
		return SuppressionOptions{}, err
	}
	return SuppressionOptions{
		Enabled:         enabled,
		Window:          window,
		MaxPerWindow:    maxPerWindow,
		MuteDuration:    mute,
		CleanupInterval: cleanup,
	}, nil
}

type suppressionRecord struct {
	notifications   []time.Time
	suppressedUntil time.Time
}

// suppressor tracks per-user notification volume within a sliding window and mutes
// users who exceed the limit. Mutation happens only through the owning Manager.
type suppressor struct {
	mu      sync.Mutex
	opts    SuppressionOptions
	records map[string]*suppressionRecord
	now     func() time.Time
}

func newSuppressor(opts SuppressionOptions) *suppressor {
	return &suppressor{
		opts:    opts,
		records: make(map[string]*suppressionRecord),
		now:     time.Now,
	}
}

// allow records an intended notification for userID and reports whether it may be
// shown. Crossing the per-window limit starts the mute; while muted, everything is
// dropped.
func (s *suppressor) allow(userID string) bool {
	if !s.opts.Enabled {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.records[userID]
	if !ok {
		rec = &suppressionRecord{}
		s.records[userID] = rec
	}

	if !rec.suppressedUntil.IsZero() {
		if now.Before(rec.suppressedUntil) {
			return false
		}
		rec.suppressedUntil = time.Time{}
	}

	cutoff := now.Add(-s.opts.Window)
	kept := rec.notifications[:0]
	for _, ts := range rec.notifications {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	rec.notifications = append(kept, now)

	if len(rec.notifications) >= s.opts.MaxPerWindow {
		rec.suppressedUntil = now.Add(s.opts.MuteDuration)
	}
	return true
}

// isSuppressed reports whether the user is currently muted, without recording
// anything
func (s *suppressor) isSuppressed(userID string) bool {
	if !s.opts.Enabled {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return false
	}
	return !rec.suppressedUntil.IsZero() && s.now().Before(rec.suppressedUntil)
}

// cleanup removes records that are both empty (no notifications inside the window)
// and unsuppressed
func (s *suppressor) cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-s.opts.Window)
	removed := 0
	for userID, rec := range s.records {
		if !rec.suppressedUntil.IsZero() && now.Before(rec.suppressedUntil) {
			continue
		}
		empty := true
		for _, ts := range rec.notifications {
			if ts.After(cutoff) {
				empty = false
				break
			}
		}
		if empty {
			delete(s.records, userID)
			removed++
		}
	}
	return removed
}

// runCleanup walks the record map on the configured interval until ctx is canceled
func (s *suppressor) runCleanup(ctx context.Context) {
	if s.opts.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.opts.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}
