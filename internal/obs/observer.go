package obs

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/stagehand-live/stagehand/internal/event"
	"github.com/stagehand-live/stagehand/internal/telemetry"
	"github.com/stagehand-live/stagehand/internal/viewers"
)

const writeTimeout = 5 * time.Second

// TextWriter is the slice of the Client the observers need
type TextWriter interface {
	SetTextSourceText(ctx context.Context, inputName, textValue string) error
}

// ViewerCountObserver renders the per-platform viewer counts into a single OBS
// text source. The fanout forwards counts verbatim; sanitizing pathological values
// is this observer's job.
type ViewerCountObserver struct {
	writer     TextWriter
	sourceName string

	mu     sync.Mutex
	counts map[event.Platform]int
}

func NewViewerCountObserver(writer TextWriter, sourceName string) *ViewerCountObserver {
	return &ViewerCountObserver{
		writer:     writer,
		sourceName: sourceName,
		counts:     make(map[event.Platform]int),
	}
}

func (o *ViewerCountObserver) OnViewerCountUpdate(u viewers.Update) {
	o.mu.Lock()
	o.counts[u.Platform] = sanitizeCount(u.Count)
	text := o.renderLocked()
	o.mu.Unlock()

	o.write(text)
}

func (o *ViewerCountObserver) OnStreamStatusChange(platform event.Platform, isLive bool) {
	if isLive {
		return
	}
	o.mu.Lock()
	delete(o.counts, platform)
	text := o.renderLocked()
	o.mu.Unlock()

	o.write(text)
}

// sanitizeCount clamps forwarded values into a displayable non-negative integer
func sanitizeCount(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(v)
}

func (o *ViewerCountObserver) renderLocked() string {
	total := 0
	for _, c := range o.counts {
		total += c
	}
	return fmt.Sprintf("%d viewers", total)
}

func (o *ViewerCountObserver) write(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := o.writer.SetTextSourceText(ctx, o.sourceName, text); err != nil {
		telemetry.Warnf("obs: failed to update viewer-count source: %v", err)
	}
}

// GoalTracker accumulates donation totals for the stream session and mirrors them
// onto an OBS text source
type GoalTracker struct {
	writer     TextWriter
	sourceName string

	mu    sync.Mutex
	total float64
}

func NewGoalTracker(writer TextWriter, sourceName string) *GoalTracker {
	return &GoalTracker{writer: writer, sourceName: sourceName}
}

func (g *GoalTracker) RecordDonation(platform event.Platform, amount float64, currency string) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return
	}
	g.mu.Lock()
	g.total += amount
	total := g.total
	g.mu.Unlock()

	if g.writer == nil || g.sourceName == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	text := fmt.Sprintf("Donations: %.0f", total)
	if err := g.writer.SetTextSourceText(ctx, g.sourceName, text); err != nil {
		telemetry.Warnf("obs: failed to update goal source: %v", err)
	}
}

// Total returns the session donation total
func (g *GoalTracker) Total() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.total
}
