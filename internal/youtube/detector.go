// Package youtube implements the YouTube platform adapter: live-stream detection
// for a channel handle, Innertube live chat consumption, and multi-stream viewer
// count aggregation.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stagehand-live/stagehand/internal/telemetry"
)

const (
	// DefaultDetectionTimeout bounds a single detection attempt; detection never
	// hangs past it
	DefaultDetectionTimeout = 2 * time.Second
	// breaker thresholds: three consecutive failures open the circuit, which stays
	// open for the cooldown and closes again on the next success
	breakerFailureThreshold = 3
	breakerCooldown         = 10 * time.Second
)

var ErrCircuitOpen = errors.New("stream detection circuit is open")

// DetectionResult reports the outcome of one live-stream detection attempt
type DetectionResult struct {
	Success   bool     `json:"success"`
	VideoIDs  []string `json:"videoIds,omitempty"`
	Message   string   `json:"message,omitempty"`
	Retryable bool     `json:"retryable"`
}

// LiveLookupFunc resolves a channel identity into the set of currently-live video
// IDs. The channel value may be an @handle, a plain name, or a channel ID.
type LiveLookupFunc func(ctx context.Context, channel string) ([]string, error)

// StreamDetector turns a channel handle into live video IDs, guarding the upstream
// lookup with a circuit breaker and a hard per-attempt timeout
type StreamDetector struct {
	lookup  LiveLookupFunc
	timeout time.Duration

	mu                  sync.Mutex
	consecutiveFailures int
	openedAt            time.Time
}

func NewStreamDetector(lookup LiveLookupFunc, timeout time.Duration) *StreamDetector {
	if timeout <= 0 {
		timeout = DefaultDetectionTimeout
	}
	return &StreamDetector{
		lookup:  lookup,
		timeout: timeout,
	}
}

// Detect resolves the channel's live video IDs. It always returns a result: circuit
// open and timeout cases come back as unsuccessful-but-retryable rather than
// errors, so callers can poll without special-casing.
func (d *StreamDetector) Detect(ctx context.Context, channel string) DetectionResult {
	channel = normalizeChannel(channel)
	if channel == "" {
		return DetectionResult{
			Success:   false,
			Message:   "channel identity is empty",
			Retryable: false,
		}
	}

	if !d.allowAttempt() {
		return DetectionResult{
			Success:   false,
			Message:   ErrCircuitOpen.Error(),
			Retryable: true,
		}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type lookupResult struct {
		videoIDs []string
		err      error
	}
	resultChan := make(chan lookupResult, 1)
	go func() {
		videoIDs, err := d.lookup(ctx, channel)
		resultChan <- lookupResult{videoIDs, err}
	}()

	select {
	case <-ctx.Done():
		d.recordFailure()
		return DetectionResult{
			Success:   false,
			Message:   fmt.Sprintf("stream detection timeout after %s", d.timeout),
			Retryable: true,
		}
	case r := <-resultChan:
		if r.err != nil {
			d.recordFailure()
			return DetectionResult{
				Success:   false,
				Message:   r.err.Error(),
				Retryable: true,
			}
		}
		d.recordSuccess()
		return DetectionResult{
			Success:  true,
			VideoIDs: r.videoIDs,
		}
	}
}

// allowAttempt reports whether the breaker permits a lookup right now
func (d *StreamDetector) allowAttempt() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.consecutiveFailures < breakerFailureThreshold {
		return true
	}
	if time.Since(d.openedAt) >= breakerCooldown {
		// Half-open: let one attempt through
		return true
	}
	return false
}

func (d *StreamDetector) recordFailure() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consecutiveFailures++
	if d.consecutiveFailures == breakerFailureThreshold {
		d.openedAt = time.Now()
		telemetry.Warnf("youtube: stream detection circuit opened after %d consecutive failures", d.consecutiveFailures)
	} else if d.consecutiveFailures > breakerFailureThreshold {
		d.openedAt = time.Now()
	}
}

func (d *StreamDetector) recordSuccess() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.consecutiveFailures >= breakerFailureThreshold {
		telemetry.Infof("youtube: stream detection circuit closed")
	}
	d.consecutiveFailures = 0
}

// normalizeChannel trims an @handle prefix and surrounding whitespace; channel IDs
// (UC…) pass through unchanged
func normalizeChannel(channel string) string {
	channel = strings.TrimSpace(channel)
	return strings.TrimPrefix(channel, "@")
}
