package vfx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-live/stagehand/internal/config"
)

const parserConfig = `
[general]
username = someviewer

[obs]
host = localhost

[vfx]
vfxFilePath = media/vfx
mediaSource = VFX
defaultDurationMs = 4000

[commands]
rain = !rain | !pour, fullscreen, [rain|pouring], rain1.mp4 | rain2.mp4
confetti = !confetti, center
gift = !gift, center, , gift.webm
`

func mustParser(t *testing.T, raw string, cliKeywordDisable bool) *Parser {
	t.Helper()
	cfg, err := config.LoadBytes([]byte(raw))
	require.NoError(t, err)
	p, err := NewParser(cfg, cliKeywordDisable)
	require.NoError(t, err)
	return p
}

func Test_Parser_GetVFXConfig(t *testing.T) {
	p := mustParser(t, parserConfig, false)

	t.Run("resolves a command by its primary trigger", func(t *testing.T) {
		cfg := p.GetVFXConfig("!confetti", "!confetti everyone")
		require.NotNil(t, cfg)
		assert.Equal(t, "!confetti", cfg.Command)
		assert.Equal(t, "confetti", cfg.CommandKey)
		assert.Equal(t, "confetti.mp4", cfg.Filename)
		assert.Equal(t, "media/vfx/confetti.mp4", cfg.VFXFilePath)
		assert.Equal(t, "VFX", cfg.MediaSource)
		assert.Equal(t, 4*time.Second, cfg.Duration)
		assert.Empty(t, cfg.Keyword)
	})
	t.Run("resolves alternative triggers", func(t *testing.T) {
		cfg := p.GetVFXConfig("!pour", "!pour it down")
		require.NotNil(t, cfg)
		assert.Equal(t, "rain", cfg.CommandKey)
		assert.Equal(t, "!pour", cfg.Command)
	})
	t.Run("trigger matching is case-insensitive", func(t *testing.T) {
		cfg := p.GetVFXConfig("!RAIN", "")
		require.NotNil(t, cfg)
		assert.Equal(t, "rain", cfg.CommandKey)
	})
	t.Run("picks one of the configured clips", func(t *testing.T) {
		cfg := p.GetVFXConfig("!rain", "")
		require.NotNil(t, cfg)
		assert.Contains(t, []string{"rain1.mp4", "rain2.mp4"}, cfg.Filename)
	})
	t.Run("matches keywords anywhere in the message", func(t *testing.T) {
		cfg := p.GetVFXConfig("wow", "it is absolutely POURING out there")
		require.NotNil(t, cfg)
		assert.Equal(t, "rain", cfg.CommandKey)
		assert.Equal(t, "pouring", cfg.Keyword)
	})
	t.Run("command match wins over keyword match", func(t *testing.T) {
		cfg := p.GetVFXConfig("!confetti", "confetti rain")
		require.NotNil(t, cfg)
		assert.Equal(t, "confetti", cfg.CommandKey)
	})
	t.Run("no match returns nil", func(t *testing.T) {
		assert.Nil(t, p.GetVFXConfig("!nothing", "just chatting"))
		assert.Nil(t, p.GetVFXConfig("hello", "hello friends"))
	})
}

func Test_Parser_keywordToggles(t *testing.T) {
	t.Run("cli override disables keyword matching", func(t *testing.T) {
		p := mustParser(t, parserConfig, true)
		assert.Nil(t, p.GetVFXConfig("wow", "rain rain rain"))
		assert.NotNil(t, p.GetVFXConfig("!rain", ""))
	})
	t.Run("config flag disables keyword matching", func(t *testing.T) {
		raw := `
[general]
username = someviewer

[obs]
host = localhost

[vfx]
keywordParsingEnabled = false

[commands]
rain = !rain, fullscreen, [rain]
`
		p := mustParser(t, raw, false)
		assert.Nil(t, p.GetVFXConfig("wow", "rain rain rain"))
		assert.NotNil(t, p.GetVFXConfig("!rain", ""))
	})
}

func Test_Parser_invalidEntries(t *testing.T) {
	base := `
[general]
username = someviewer

[obs]
host = localhost

[commands]
`
	t.Run("missing position is rejected", func(t *testing.T) {
		cfg, err := config.LoadBytes([]byte(base + "rain = !rain\n"))
		require.NoError(t, err)
		_, err = NewParser(cfg, false)
		assert.ErrorContains(t, err, "invalid command entry 'rain'")
	})
	t.Run("trigger without bang prefix is rejected", func(t *testing.T) {
		cfg, err := config.LoadBytes([]byte(base + "rain = rain, fullscreen\n"))
		require.NoError(t, err)
		_, err = NewParser(cfg, false)
		assert.ErrorContains(t, err, "triggers must start with '!'")
	})
}
