// Package config loads the INI configuration file and exposes typed lookups. Keys
// are required to be camelCase; snake_case keys are rejected at load time with a
// suggested replacement, so a stale config fails fast instead of silently reading
// zero values.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// Sections recognized at the top level of the config file
var KnownSections = []string{
	"general", "tiktok", "twitch", "youtube", "obs", "streamelements",
	"tts", "commands", "cooldowns", "vfx", "farewell", "handcam", "timing",
}

// RequiredSections must be present for any run
var RequiredSections = []string{"general", "obs"}

var ErrMissingSection = errors.New("missing required config section")

// Config wraps a parsed INI file. All lookup methods treat a malformed value as a
// configuration error and return it to the caller; gating code must propagate these
// rather than defaulting.
type Config struct {
	file *ini.File
}

// Load reads and validates the config file at path
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	return newConfig(f)
}

// LoadBytes parses config from raw INI content; used by tests and the simulator
func LoadBytes(data []byte) (*Config, error) {
	f, err := ini.Load(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return newConfig(f)
}

func newConfig(f *ini.File) (*Config, error) {
	c := &Config{file: f}
	if err := c.rejectSnakeCaseKeys(); err != nil {
		return nil, err
	}
	for _, name := range RequiredSections {
		if _, err := f.GetSection(name); err != nil {
			return nil, fmt.Errorf("%w: [%s]", ErrMissingSection, name)
		}
	}
	return c, nil
}

// Well-known legacy keys with non-mechanical replacements
var legacyKeySuggestions = map[string]string{
	"channel_id": "username",
	"enable_api": "enableAPI",
}

func (c *Config) rejectSnakeCaseKeys() error {
	for _, section := range c.file.Sections() {
		for _, key := range section.Keys() {
			if !strings.Contains(key.Name(), "_") {
				continue
			}
			suggestion, ok := legacyKeySuggestions[key.Name()]
			if !ok {
				suggestion = toCamelCase(key.Name())
			}
			return fmt.Errorf(
				"config key '%s' in section [%s] uses snake_case; rename it to '%s'",
				key.Name(), section.Name(), suggestion,
			)
		}
	}
	return nil
}

func toCamelCase(snake string) string {
	parts := strings.Split(snake, "_")
	out := parts[0]
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		out += strings.ToUpper(p[:1]) + p[1:]
	}
	return out
}

// HasSection reports whether the named section exists
func (c *Config) HasSection(name string) bool {
	_, err := c.file.GetSection(name)
	return err == nil
}

// String returns the value for key in section, or fallback when unset
func (c *Config) String(section, key, fallback string) string {
	s, err := c.file.GetSection(section)
	if err != nil {
		return fallback
	}
	if !s.HasKey(key) {
		return fallback
	}
	return s.Key(key).String()
}

// Bool returns the boolean value for key in section. A present-but-malformed value
// is a configuration error.
func (c *Config) Bool(section, key string, fallback bool) (bool, error) {
	s, err := c.file.GetSection(section)
	if err != nil {
		return fallback, nil
	}
	if !s.HasKey(key) {
		return fallback, nil
	}
	v, err := s.Key(key).Bool()
	if err != nil {
		return false, fmt.Errorf("config key '%s.%s' is not a boolean: %w", section, key, err)
	}
	return v, nil
}

// Int returns the integer value for key in section
func (c *Config) Int(section, key string, fallback int) (int, error) {
	s, err := c.file.GetSection(section)
	if err != nil {
		return fallback, nil
	}
	if !s.HasKey(key) {
		return fallback, nil
	}
	v, err := s.Key(key).Int()
	if err != nil {
		return 0, fmt.Errorf("config key '%s.%s' is not an integer: %w", section, key, err)
	}
	return v, nil
}

// Duration returns the value for key in section interpreted as milliseconds
func (c *Config) Duration(section, key string, fallback time.Duration) (time.Duration, error) {
	ms, err := c.Int(section, key, int(fallback/time.Millisecond))
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// PlatformBool resolves a gating flag, preferring the platform section and falling
// back to [general]. Malformed values propagate: misconfiguration is fatal, never
// silently enabled.
func (c *Config) PlatformBool(platform, key string, fallback bool) (bool, error) {
	if c.HasSection(platform) && c.file.Section(platform).HasKey(key) {
		return c.Bool(platform, key, fallback)
	}
	return c.Bool("general", key, fallback)
}

// SectionKeys returns every key/value pair in a section, in file order. Used by the
// VFX command parser to read the user-defined command table.
func (c *Config) SectionKeys(section string) []KeyValue {
	s, err := c.file.GetSection(section)
	if err != nil {
		return nil
	}
	keys := s.Keys()
	out := make([]KeyValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, KeyValue{Name: k.Name(), Value: k.String()})
	}
	return out
}

type KeyValue struct {
	Name  string
	Value string
}
