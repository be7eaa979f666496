package vfx

import (
	"context"
	"fmt"
	"time"

	"github.com/stagehand-live/stagehand/internal/cooldown"
	"github.com/stagehand-live/stagehand/internal/display"
	"github.com/stagehand-live/stagehand/internal/event"
	"github.com/stagehand-live/stagehand/internal/telemetry"
)

// MediaPlayer is the slice of the OBS client the VFX service needs
type MediaPlayer interface {
	PlayMedia(ctx context.Context, inputName, filePath string) error
}

// CooldownSettings carries the cooldown durations applied to VFX commands
type CooldownSettings struct {
	Command  time.Duration
	PerUser  time.Duration
	HeavyUse time.Duration
}

// Service executes VFX commands: it consumes vfx:command-received from the bus,
// checks cooldowns, and plays the configured media clip through OBS.
type Service struct {
	parser   *Parser
	player   MediaPlayer
	commands *cooldown.Manager
	users    *cooldown.UserTracker
	settings CooldownSettings

	sub *event.Subscription
}

func NewService(parser *Parser, player MediaPlayer, commands *cooldown.Manager, users *cooldown.UserTracker, settings CooldownSettings) (*Service, error) {
	if parser == nil {
		return nil, fmt.Errorf("vfx service requires a command parser")
	}
	if player == nil {
		return nil, fmt.Errorf("vfx service requires a media player")
	}
	if commands == nil || users == nil {
		return nil, fmt.Errorf("vfx service requires cooldown trackers")
	}
	if settings.Command <= 0 {
		settings.Command = 10 * time.Second
	}
	if settings.PerUser <= 0 {
		settings.PerUser = 30 * time.Second
	}
	if settings.HeavyUse <= 0 {
		settings.HeavyUse = 2 * time.Minute
	}
	return &Service{
		parser:   parser,
		player:   player,
		commands: commands,
		users:    users,
		settings: settings,
	}, nil
}

// Attach subscribes the service to vfx:command-received on the bus. Commands fired
// by the display queue resolve through the same execution path as chat commands.
func (s *Service) Attach(ctx context.Context, bus *event.Bus) {
	s.sub = bus.Subscribe(event.TopicVFXCommandReceived, func(payload any) error {
		cmd, ok := payload.(display.VFXCommand)
		if !ok {
			return fmt.Errorf("unexpected payload type on %s", event.TopicVFXCommandReceived)
		}
		return s.ExecuteKey(ctx, cmd.CommandKey, cmd.UserID)
	})
}

// Detach disposes the bus subscription
func (s *Service) Detach() {
	if s.sub != nil {
		if err := s.sub.Dispose(); err != nil {
			telemetry.Warnf("vfx: dispose subscription: %v", err)
		}
		s.sub = nil
	}
}

// ExecuteKey resolves a command key to its config and executes it. Unknown keys are
// logged and skipped; gift and paypiggy pseudo-keys with no configured clip are
// normal and silent.
func (s *Service) ExecuteKey(ctx context.Context, commandKey, userID string) error {
	cfg := s.parser.GetVFXConfig("!"+commandKey, "")
	if cfg == nil {
		telemetry.Debugf("vfx: no clip configured for command key '%s'", commandKey)
		return nil
	}
	return s.Execute(ctx, cfg, userID)
}

// Execute runs a resolved VFX command through the cooldown gate and, if allowed,
// plays its media clip and holds for the clip duration
func (s *Service) Execute(ctx context.Context, cfg *Config, userID string) error {
	if s.commands.OnCooldown(cfg.CommandKey, s.settings.Command) {
		telemetry.Debugf("vfx: command '%s' is on cooldown", cfg.CommandKey)
		return nil
	}
	if userID != "" && !s.users.Check(userID, s.settings.PerUser, s.settings.HeavyUse) {
		telemetry.Debugf("vfx: user %s is on command cooldown", userID)
		return nil
	}

	if err := s.player.PlayMedia(ctx, cfg.MediaSource, cfg.VFXFilePath); err != nil {
		return fmt.Errorf("failed to play VFX clip '%s': %w", cfg.VFXFilePath, err)
	}
	s.commands.Touch(cfg.CommandKey)
	if userID != "" {
		s.users.RecordUse(userID)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(cfg.Duration):
	}
	return nil
}
