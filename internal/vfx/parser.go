// Package vfx matches chat text to user-defined overlay commands and executes them
// through OBS media sources.
package vfx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"path"
	"strings"
	"time"

	"github.com/stagehand-live/stagehand/internal/config"
)

// Config is a resolved VFX command ready for execution
type Config struct {
	Command     string
	CommandKey  string
	Filename    string
	MediaSource string
	VFXFilePath string
	Duration    time.Duration
	Keyword     string
}

// commandEntry is one parsed row of the [commands] table. The INI key is the
// command key; the value is `!<cmd>[|alt…], <overlay-position>, [kw1|kw2][, file1|file2]`.
type commandEntry struct {
	key       string
	triggers  []string
	position  string
	keywords  []string
	filenames []string
}

// Parser holds the parsed command table plus the [vfx] defaults needed to resolve a
// match into an executable Config
type Parser struct {
	entries                []commandEntry
	basePath               string
	mediaSource            string
	defaultDuration        time.Duration
	keywordParsingEnabled  bool
	keywordParsingOverride bool
}

// NewParser reads the [commands] table and [vfx] defaults from config.
// cliKeywordDisable reflects the command-line override that turns keyword matching
// off regardless of config.
func NewParser(cfg *config.Config, cliKeywordDisable bool) (*Parser, error) {
	keywordEnabled, err := cfg.Bool("vfx", "keywordParsingEnabled", true)
	if err != nil {
		return nil, err
	}
	durationMs, err := cfg.Duration("vfx", "defaultDurationMs", 8*time.Second)
	if err != nil {
		return nil, err
	}

	p := &Parser{
		basePath:               cfg.String("vfx", "vfxFilePath", "vfx"),
		mediaSource:            cfg.String("vfx", "mediaSource", "VFX"),
		defaultDuration:        durationMs,
		keywordParsingEnabled:  keywordEnabled,
		keywordParsingOverride: cliKeywordDisable,
	}

	for _, kv := range cfg.SectionKeys("commands") {
		entry, err := parseCommandEntry(kv.Name, kv.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid command entry '%s': %w", kv.Name, err)
		}
		p.entries = append(p.entries, entry)
	}
	return p, nil
}

func parseCommandEntry(key, value string) (commandEntry, error) {
	fields := strings.Split(value, ",")
	if len(fields) < 2 {
		return commandEntry{}, fmt.Errorf("expected at least '<triggers>, <position>', got '%s'", value)
	}

	triggers := splitAlternatives(fields[0])
	if len(triggers) == 0 || !strings.HasPrefix(triggers[0], "!") {
		return commandEntry{}, fmt.Errorf("triggers must start with '!', got '%s'", fields[0])
	}
	for i, t := range triggers {
		triggers[i] = strings.ToLower(t)
	}

	entry := commandEntry{
		key:      key,
		triggers: triggers,
		position: strings.TrimSpace(fields[1]),
	}
	if len(fields) >= 3 {
		kwField := strings.TrimSpace(fields[2])
		kwField = strings.TrimPrefix(kwField, "[")
		kwField = strings.TrimSuffix(kwField, "]")
		for _, kw := range splitAlternatives(kwField) {
			entry.keywords = append(entry.keywords, strings.ToLower(kw))
		}
	}
	if len(fields) >= 4 {
		entry.filenames = splitAlternatives(fields[3])
	}
	if len(entry.filenames) == 0 {
		entry.filenames = []string{key + ".mp4"}
	}
	return entry, nil
}

func splitAlternatives(s string) []string {
	out := make([]string, 0, 2)
	for _, part := range strings.Split(s, "|") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetVFXConfig resolves a chat message to a VFX command: first by exact prefix
// command match on the message's first token, then by keyword substring match when
// keyword parsing is enabled and not disabled by the CLI override. Returns nil when
// nothing matches.
func (p *Parser) GetVFXConfig(firstToken, fullMessage string) *Config {
	token := strings.ToLower(strings.TrimSpace(firstToken))
	if token != "" && strings.HasPrefix(token, "!") {
		for _, entry := range p.entries {
			for _, trigger := range entry.triggers {
				if token == trigger {
					return p.resolve(entry, trigger, "")
				}
			}
		}
	}

	if !p.keywordParsingEnabled || p.keywordParsingOverride {
		return nil
	}
	haystack := strings.ToLower(fullMessage)
	for _, entry := range p.entries {
		for _, kw := range entry.keywords {
			if strings.Contains(haystack, kw) {
				return p.resolve(entry, entry.triggers[0], kw)
			}
		}
	}
	return nil
}

func (p *Parser) resolve(entry commandEntry, trigger, keyword string) *Config {
	filename := entry.filenames[pickIndex(len(entry.filenames))]
	return &Config{
		Command:     trigger,
		CommandKey:  entry.key,
		Filename:    filename,
		MediaSource: p.mediaSource,
		VFXFilePath: path.Join(p.basePath, filename),
		Duration:    p.defaultDuration,
		Keyword:     keyword,
	}
}

// pickIndex selects a uniform random index using a cryptographically strong source
func pickIndex(n int) int {
	if n <= 1 {
		return 0
	}
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(idx.Int64())
}
