// Package secrets resolves platform credentials from the process environment, with
// an opt-in .env file as a secondary source. The core never prompts for or stores
// credentials itself; it only validates that the secrets required by the enabled
// platforms are present.
package secrets

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"

	"github.com/codingconcepts/env"
	"github.com/joho/godotenv"
)

// Values carries every secret the system can consume. Only the secrets belonging to
// an enabled platform are required; see Validate.
type Values struct {
	TwitchClientID     string `env:"TWITCH_CLIENT_ID"`
	TwitchClientSecret string `env:"TWITCH_CLIENT_SECRET"`
	TwitchAccessToken  string `env:"TWITCH_ACCESS_TOKEN"`
	YouTubeAPIKey      string `env:"YOUTUBE_API_KEY"`
	TikTokSessionID    string `env:"TIKTOK_SESSION_ID"`
	OBSPassword        string `env:"OBS_PASSWORD"`
}

// Requirements describes which platforms are enabled and therefore which secrets
// must resolve
type Requirements struct {
	TwitchEnabled  bool
	YouTubeEnabled bool
	TikTokEnabled  bool

	// Any of these three YouTube modes requires the API key
	YouTubeAPIEnabled            bool
	YouTubeStreamDetectionMethod string
	YouTubeViewerCountMethod     string
}

// Resolve loads secrets from the environment, optionally merging a .env file first.
// Values already present in the environment always win over the file.
func Resolve(dotenvPath string, readDotenv bool) (*Values, error) {
	if readDotenv && dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file '%s': %w", dotenvPath, err)
		}
	}
	v := &Values{}
	if err := env.Set(v); err != nil {
		return nil, fmt.Errorf("error reading secrets from environment: %w", err)
	}
	return v, nil
}

// Validate returns an error naming every required-but-missing secret. In
// non-interactive mode this error is fatal to startup.
func (v *Values) Validate(req Requirements) error {
	missing := make([]string, 0)
	requireKey := func(name, value string) {
		if value == "" {
			missing = append(missing, name)
		}
	}

	if req.TwitchEnabled {
		requireKey("TWITCH_CLIENT_ID", v.TwitchClientID)
		requireKey("TWITCH_ACCESS_TOKEN", v.TwitchAccessToken)
	}
	if req.TikTokEnabled {
		requireKey("TIKTOK_SESSION_ID", v.TikTokSessionID)
	}
	if req.YouTubeEnabled && youtubeNeedsAPIKey(req) {
		requireKey("YOUTUBE_API_KEY", v.YouTubeAPIKey)
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required secrets: %s", strings.Join(missing, ", "))
	}
	return nil
}

func youtubeNeedsAPIKey(req Requirements) bool {
	return req.YouTubeAPIEnabled ||
		req.YouTubeStreamDetectionMethod == "api" ||
		req.YouTubeViewerCountMethod == "api"
}

// WriteDotenv persists the given key/value pairs to a .env file. On non-Windows
// platforms the file is created with mode 0600 so other users cannot read tokens.
func WriteDotenv(path string, values map[string]string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, values[k])
	}

	mode := os.FileMode(0600)
	if runtime.GOOS == "windows" {
		mode = 0644
	}
	if err := os.WriteFile(path, []byte(b.String()), mode); err != nil {
		return fmt.Errorf("error writing .env file '%s': %w", path, err)
	}
	return nil
}
