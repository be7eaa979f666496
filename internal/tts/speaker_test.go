package tts

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakePlayer struct {
	source   string
	contents string
	err      error
}

func (p *fakePlayer) PlayMedia(ctx context.Context, inputName, filePath string) error {
	if p.err != nil {
		return p.err
	}
	p.source = inputName
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	p.contents = string(data)
	return nil
}

func Test_Speaker_Speak(t *testing.T) {
	newServer := func(t *testing.T, status int, body string) *httptest.Server {
		s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Brian", r.URL.Query().Get("voice"))
			w.WriteHeader(status)
			w.Write([]byte(body))
		}))
		t.Cleanup(s.Close)
		return s
	}

	t.Run("synthesized audio plays through the configured media source", func(t *testing.T) {
		server := newServer(t, http.StatusOK, "AUDIO-BYTES")
		player := &fakePlayer{}
		speaker, err := NewSpeaker(server.Client(), player, Options{
			Endpoint:    server.URL,
			MediaSource: "tts_media",
			MaxDuration: 10 * time.Millisecond,
		})
		assert.NoError(t, err)
		assert.NoError(t, speaker.Speak(context.Background(), "hello there"))
		assert.Equal(t, "tts_media", player.source)
		assert.Equal(t, "AUDIO-BYTES", player.contents)
	})
	t.Run("empty message is a no-op", func(t *testing.T) {
		player := &fakePlayer{}
		speaker, err := NewSpeaker(nil, player, Options{})
		assert.NoError(t, err)
		assert.NoError(t, speaker.Speak(context.Background(), ""))
		assert.Equal(t, "", player.source)
	})
	t.Run("speech endpoint failure is surfaced", func(t *testing.T) {
		server := newServer(t, http.StatusTooManyRequests, "")
		speaker, err := NewSpeaker(server.Client(), &fakePlayer{}, Options{Endpoint: server.URL})
		assert.NoError(t, err)
		err = speaker.Speak(context.Background(), "hello")
		assert.ErrorContains(t, err, "got response 429")
	})
	t.Run("playback failure is surfaced", func(t *testing.T) {
		server := newServer(t, http.StatusOK, "AUDIO")
		player := &fakePlayer{err: fmt.Errorf("media source not found")}
		speaker, err := NewSpeaker(server.Client(), player, Options{
			Endpoint:    server.URL,
			MaxDuration: 10 * time.Millisecond,
		})
		assert.NoError(t, err)
		err = speaker.Speak(context.Background(), "hello")
		assert.ErrorContains(t, err, "failed to play synthesized audio")
	})
	t.Run("missing player is rejected at construction", func(t *testing.T) {
		_, err := NewSpeaker(nil, nil, Options{})
		assert.Error(t, err)
	})
}

func Test_Speaker_holdFor(t *testing.T) {
	speaker, err := NewSpeaker(nil, &fakePlayer{}, Options{MaxDuration: 2 * time.Second})
	assert.NoError(t, err)
	assert.Equal(t, holdBase+5*holdPerChar, speaker.holdFor("hello"))
	assert.Equal(t, 2*time.Second, speaker.holdFor(string(make([]byte, 1000))))
}
