package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const validConfig = `
[general]
enableAPI = true
apiPort = 3000

[obs]
websocketUrl = ws://127.0.0.1:4455

[twitch]
enabled = true
messagesEnabled = false

[timing]
messageIntervalMs = 2500
`

func Test_LoadBytes(t *testing.T) {
	t.Run("valid config loads", func(t *testing.T) {
		cfg, err := LoadBytes([]byte(validConfig))
		assert.NoError(t, err)
		assert.True(t, cfg.HasSection("twitch"))
		assert.False(t, cfg.HasSection("tiktok"))
	})
	t.Run("missing required section fails", func(t *testing.T) {
		_, err := LoadBytes([]byte("[general]\nenableAPI = true\n"))
		assert.ErrorIs(t, err, ErrMissingSection)
		assert.ErrorContains(t, err, "[obs]")
	})
	t.Run("legacy snake_case key is rejected with its known replacement", func(t *testing.T) {
		_, err := LoadBytes([]byte("[general]\nx = 1\n[obs]\nx = 1\n[twitch]\nchannel_id = someone\n"))
		assert.ErrorContains(t, err, "channel_id")
		assert.ErrorContains(t, err, "rename it to 'username'")
	})
	t.Run("unknown snake_case key gets a mechanical camelCase suggestion", func(t *testing.T) {
		_, err := LoadBytes([]byte("[general]\nx = 1\n[obs]\nx = 1\n[timing]\npoll_interval_ms = 100\n"))
		assert.ErrorContains(t, err, "rename it to 'pollIntervalMs'")
	})
}

func Test_Config_Lookups(t *testing.T) {
	cfg, err := LoadBytes([]byte(validConfig))
	assert.NoError(t, err)

	t.Run("String", func(t *testing.T) {
		assert.Equal(t, "ws://127.0.0.1:4455", cfg.String("obs", "websocketUrl", ""))
		assert.Equal(t, "fallback", cfg.String("obs", "missing", "fallback"))
	})
	t.Run("Bool", func(t *testing.T) {
		v, err := cfg.Bool("general", "enableAPI", false)
		assert.NoError(t, err)
		assert.True(t, v)
		v, err = cfg.Bool("general", "missing", true)
		assert.NoError(t, err)
		assert.True(t, v)
	})
	t.Run("malformed bool is an error, not a default", func(t *testing.T) {
		bad, err := LoadBytes([]byte("[general]\ngiftsEnabled = maybe\n[obs]\nx = 1\n"))
		assert.NoError(t, err)
		_, err = bad.Bool("general", "giftsEnabled", true)
		assert.Error(t, err)
	})
	t.Run("Int", func(t *testing.T) {
		v, err := cfg.Int("general", "apiPort", 0)
		assert.NoError(t, err)
		assert.Equal(t, 3000, v)
	})
	t.Run("Duration reads millisecond ints", func(t *testing.T) {
		v, err := cfg.Duration("timing", "messageIntervalMs", time.Second)
		assert.NoError(t, err)
		assert.Equal(t, 2500*time.Millisecond, v)
		v, err = cfg.Duration("timing", "missing", 4*time.Second)
		assert.NoError(t, err)
		assert.Equal(t, 4*time.Second, v)
	})
	t.Run("PlatformBool prefers the platform section", func(t *testing.T) {
		v, err := cfg.PlatformBool("twitch", "messagesEnabled", true)
		assert.NoError(t, err)
		assert.False(t, v)
	})
	t.Run("PlatformBool falls back to general", func(t *testing.T) {
		v, err := cfg.PlatformBool("tiktok", "enableAPI", false)
		assert.NoError(t, err)
		assert.True(t, v)
	})
	t.Run("SectionKeys preserves file order", func(t *testing.T) {
		withCommands, err := LoadBytes([]byte("[general]\nx = 1\n[obs]\nx = 1\n[commands]\nrain = rain.mp4\nsnow = snow.mp4\n"))
		assert.NoError(t, err)
		kvs := withCommands.SectionKeys("commands")
		assert.Len(t, kvs, 2)
		assert.Equal(t, "rain", kvs[0].Name)
		assert.Equal(t, "snow", kvs[1].Name)
	})
}
