package obs

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stagehand-live/stagehand/internal/event"
	"github.com/stagehand-live/stagehand/internal/viewers"
)

type recordingWriter struct {
	mu     sync.Mutex
	writes []string
}

func (w *recordingWriter) SetTextSourceText(ctx context.Context, inputName, textValue string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, inputName+"="+textValue)
	return nil
}

func (w *recordingWriter) last() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.writes) == 0 {
		return ""
	}
	return w.writes[len(w.writes)-1]
}

func Test_ViewerCountObserver(t *testing.T) {
	t.Run("counts sum across platforms", func(t *testing.T) {
		w := &recordingWriter{}
		o := NewViewerCountObserver(w, "viewer_count_text")

		o.OnViewerCountUpdate(viewers.Update{Platform: event.PlatformTwitch, Count: 100})
		assert.Equal(t, "viewer_count_text=100 viewers", w.last())

		o.OnViewerCountUpdate(viewers.Update{Platform: event.PlatformTikTok, Count: 28})
		assert.Equal(t, "viewer_count_text=128 viewers", w.last())

		o.OnViewerCountUpdate(viewers.Update{Platform: event.PlatformTwitch, Count: 90})
		assert.Equal(t, "viewer_count_text=118 viewers", w.last())
	})
	t.Run("a platform going offline drops out of the total", func(t *testing.T) {
		w := &recordingWriter{}
		o := NewViewerCountObserver(w, "viewer_count_text")

		o.OnViewerCountUpdate(viewers.Update{Platform: event.PlatformTwitch, Count: 100})
		o.OnViewerCountUpdate(viewers.Update{Platform: event.PlatformTikTok, Count: 28})
		o.OnStreamStatusChange(event.PlatformTikTok, false)
		assert.Equal(t, "viewer_count_text=100 viewers", w.last())
	})
	t.Run("going live does not rewrite the source", func(t *testing.T) {
		w := &recordingWriter{}
		o := NewViewerCountObserver(w, "viewer_count_text")
		o.OnStreamStatusChange(event.PlatformTwitch, true)
		assert.Empty(t, w.writes)
	})
	t.Run("pathological counts render as zero", func(t *testing.T) {
		w := &recordingWriter{}
		o := NewViewerCountObserver(w, "viewer_count_text")

		o.OnViewerCountUpdate(viewers.Update{Platform: event.PlatformTwitch, Count: math.NaN()})
		assert.Equal(t, "viewer_count_text=0 viewers", w.last())
		o.OnViewerCountUpdate(viewers.Update{Platform: event.PlatformTikTok, Count: -40})
		assert.Equal(t, "viewer_count_text=0 viewers", w.last())
		o.OnViewerCountUpdate(viewers.Update{Platform: event.PlatformYouTube, Count: math.Inf(1)})
		assert.Equal(t, "viewer_count_text=0 viewers", w.last())
	})
}

func Test_GoalTracker(t *testing.T) {
	t.Run("donations accumulate onto the goal source", func(t *testing.T) {
		w := &recordingWriter{}
		g := NewGoalTracker(w, "goal_text")

		g.RecordDonation(event.PlatformTikTok, 5, "coins")
		g.RecordDonation(event.PlatformTwitch, 100, "bits")
		assert.Equal(t, float64(105), g.Total())
		assert.Equal(t, "goal_text=Donations: 105", w.last())
	})
	t.Run("invalid amounts are ignored", func(t *testing.T) {
		w := &recordingWriter{}
		g := NewGoalTracker(w, "goal_text")

		g.RecordDonation(event.PlatformTikTok, math.NaN(), "coins")
		g.RecordDonation(event.PlatformTikTok, -3, "coins")
		g.RecordDonation(event.PlatformTikTok, math.Inf(1), "coins")
		assert.Equal(t, float64(0), g.Total())
		assert.Empty(t, w.writes)
	})
	t.Run("a tracker without a source still accumulates", func(t *testing.T) {
		g := NewGoalTracker(nil, "")
		g.RecordDonation(event.PlatformTikTok, 7, "coins")
		assert.Equal(t, float64(7), g.Total())
	})
}
