// Package tts speaks notification messages through an OBS media source, using the
// StreamElements speech endpoint to synthesize audio.
package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/stagehand-live/stagehand/internal/telemetry"
)

const (
	defaultEndpoint    = "https://api.streamelements.com/kappa/v2/speech"
	defaultVoice       = "Brian"
	defaultMaxDuration = 20 * time.Second

	// playback length is estimated from text length; OBS does not report media
	// duration back over the request we issue
	holdBase    = time.Second
	holdPerChar = 65 * time.Millisecond
)

// MediaPlayer is the slice of the OBS client the speaker needs
type MediaPlayer interface {
	PlayMedia(ctx context.Context, inputName, filePath string) error
}

// Options configures the speaker. Zero values fall back to defaults.
type Options struct {
	Endpoint    string
	Voice       string
	MediaSource string
	MaxDuration time.Duration
}

// Speaker synthesizes a message to an audio file and plays it through OBS,
// returning once the estimated playback time has elapsed
type Speaker struct {
	httpClient *http.Client
	player     MediaPlayer
	opts       Options
}

func NewSpeaker(httpClient *http.Client, player MediaPlayer, opts Options) (*Speaker, error) {
	if player == nil {
		return nil, fmt.Errorf("tts speaker requires a media player")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if opts.Endpoint == "" {
		opts.Endpoint = defaultEndpoint
	}
	if opts.Voice == "" {
		opts.Voice = defaultVoice
	}
	if opts.MediaSource == "" {
		opts.MediaSource = "tts_media"
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = defaultMaxDuration
	}
	return &Speaker{
		httpClient: httpClient,
		player:     player,
		opts:       opts,
	}, nil
}

func (s *Speaker) Speak(ctx context.Context, message string) error {
	if message == "" {
		return nil
	}
	path, err := s.synthesize(ctx, message)
	if err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(path); err != nil {
			telemetry.Warnf("tts: failed to remove audio file %s: %v", path, err)
		}
	}()

	if err := s.player.PlayMedia(ctx, s.opts.MediaSource, path); err != nil {
		return fmt.Errorf("failed to play synthesized audio: %w", err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.holdFor(message)):
		return nil
	}
}

// synthesize fetches audio for the message and writes it to a temp file, returning
// the file's path
func (s *Speaker) synthesize(ctx context.Context, message string) (string, error) {
	q := url.Values{}
	q.Set("voice", s.opts.Voice)
	q.Set("text", message)
	endpoint := fmt.Sprintf("%s?%s", s.opts.Endpoint, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	res, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("speech request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("got response %d from speech request", res.StatusCode)
	}

	f, err := os.CreateTemp("", "tts-*.mp3")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, res.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func (s *Speaker) holdFor(message string) time.Duration {
	hold := holdBase + time.Duration(len(message))*holdPerChar
	if hold > s.opts.MaxDuration {
		hold = s.opts.MaxDuration
	}
	return hold
}
