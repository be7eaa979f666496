package vfx

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-live/stagehand/internal/cooldown"
	"github.com/stagehand-live/stagehand/internal/display"
	"github.com/stagehand-live/stagehand/internal/event"
)

type fakeMediaPlayer struct {
	mu     sync.Mutex
	played []string
	err    error
}

func (p *fakeMediaPlayer) PlayMedia(ctx context.Context, inputName, filePath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.played = append(p.played, inputName+":"+filePath)
	return nil
}

func (p *fakeMediaPlayer) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

const serviceConfig = `
[general]
username = someviewer

[obs]
host = localhost

[vfx]
vfxFilePath = media/vfx
defaultDurationMs = 1

[commands]
rain = !rain, fullscreen
gift = !gift, center, , gift.webm
`

func newTestService(t *testing.T, player *fakeMediaPlayer, settings CooldownSettings) *Service {
	t.Helper()
	p := mustParser(t, serviceConfig, false)
	svc, err := NewService(p, player, cooldown.NewManager(), cooldown.NewUserTracker(), settings)
	require.NoError(t, err)
	return svc
}

func Test_NewService_validation(t *testing.T) {
	player := &fakeMediaPlayer{}
	p := mustParser(t, serviceConfig, false)

	_, err := NewService(nil, player, cooldown.NewManager(), cooldown.NewUserTracker(), CooldownSettings{})
	assert.ErrorContains(t, err, "command parser")

	_, err = NewService(p, nil, cooldown.NewManager(), cooldown.NewUserTracker(), CooldownSettings{})
	assert.ErrorContains(t, err, "media player")

	_, err = NewService(p, player, nil, cooldown.NewUserTracker(), CooldownSettings{})
	assert.ErrorContains(t, err, "cooldown trackers")
}

func Test_Service_Execute(t *testing.T) {
	t.Run("plays the resolved clip through the media source", func(t *testing.T) {
		player := &fakeMediaPlayer{}
		svc := newTestService(t, player, CooldownSettings{})
		err := svc.ExecuteKey(context.Background(), "rain", "user-1")
		assert.NoError(t, err)
		assert.Equal(t, []string{"VFX:media/vfx/rain.mp4"}, player.snapshot())
	})
	t.Run("unknown command keys are skipped silently", func(t *testing.T) {
		player := &fakeMediaPlayer{}
		svc := newTestService(t, player, CooldownSettings{})
		err := svc.ExecuteKey(context.Background(), "paypiggy", "user-1")
		assert.NoError(t, err)
		assert.Empty(t, player.snapshot())
	})
	t.Run("repeat use of a command is held off by its cooldown", func(t *testing.T) {
		player := &fakeMediaPlayer{}
		svc := newTestService(t, player, CooldownSettings{Command: time.Hour})
		assert.NoError(t, svc.ExecuteKey(context.Background(), "rain", "user-1"))
		assert.NoError(t, svc.ExecuteKey(context.Background(), "rain", "user-2"))
		assert.Len(t, player.snapshot(), 1)
	})
	t.Run("a user on cooldown cannot fire a second command", func(t *testing.T) {
		player := &fakeMediaPlayer{}
		svc := newTestService(t, player, CooldownSettings{PerUser: time.Hour})
		assert.NoError(t, svc.ExecuteKey(context.Background(), "rain", "user-1"))
		assert.NoError(t, svc.ExecuteKey(context.Background(), "gift", "user-1"))
		assert.Len(t, player.snapshot(), 1)
	})
	t.Run("empty user ids bypass the per-user gate", func(t *testing.T) {
		player := &fakeMediaPlayer{}
		svc := newTestService(t, player, CooldownSettings{PerUser: time.Hour})
		assert.NoError(t, svc.ExecuteKey(context.Background(), "rain", ""))
		assert.NoError(t, svc.ExecuteKey(context.Background(), "gift", ""))
		assert.Len(t, player.snapshot(), 2)
	})
	t.Run("playback failures are surfaced", func(t *testing.T) {
		player := &fakeMediaPlayer{err: fmt.Errorf("obs not connected")}
		svc := newTestService(t, player, CooldownSettings{})
		err := svc.ExecuteKey(context.Background(), "rain", "user-1")
		assert.ErrorContains(t, err, "failed to play VFX clip")
	})
}

func Test_Service_busIntegration(t *testing.T) {
	bus := event.NewBus()
	player := &fakeMediaPlayer{}
	svc := newTestService(t, player, CooldownSettings{})
	svc.Attach(context.Background(), bus)
	defer svc.Detach()

	bus.Publish(event.TopicVFXCommandReceived, display.VFXCommand{
		CommandKey: "gift",
		Username:   "carol",
		UserID:     "333",
		Context:    display.CommandContext{Source: "display-queue"},
	})
	assert.Equal(t, []string{"VFX:media/vfx/gift.webm"}, player.snapshot())

	svc.Detach()
	bus.Publish(event.TopicVFXCommandReceived, display.VFXCommand{CommandKey: "rain"})
	assert.Len(t, player.snapshot(), 1)
}
