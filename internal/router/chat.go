package router

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stagehand-live/stagehand/internal/config"
	"github.com/stagehand-live/stagehand/internal/cooldown"
	"github.com/stagehand-live/stagehand/internal/display"
	"github.com/stagehand-live/stagehand/internal/event"
	"github.com/stagehand-live/stagehand/internal/notify"
	"github.com/stagehand-live/stagehand/internal/telemetry"
	"github.com/stagehand-live/stagehand/internal/text"
	"github.com/stagehand-live/stagehand/internal/vfx"
)

const maxChatMessageLength = 500

// ConnectionTimes exposes per-platform connection instants, the baseline for the
// pre-connection message filter
type ConnectionTimes interface {
	GetPlatformConnectionTime(platform event.Platform) time.Time
}

// CommandMatcher resolves a chat token into a VFX command config, nil when the
// message is not a command
type CommandMatcher interface {
	GetVFXConfig(firstToken, fullMessage string) *vfx.Config
}

// ErrorHandler receives routing errors attributed to a platform
type ErrorHandler func(platform event.Platform, err error)

// ChatRouterParams carries the chat sub-router's collaborators
type ChatRouterParams struct {
	Config       *config.Config
	Queue        notify.ItemAdder
	Bus          *event.Bus
	Parser       CommandMatcher
	Commands     *cooldown.Manager
	Users        *cooldown.UserTracker
	Connections  ConnectionTimes
	ErrorHandler ErrorHandler

	ChatSource      string
	ChatScene       string
	CommandCooldown time.Duration
	PerUserCooldown time.Duration
	HeavyCooldown   time.Duration
}

// ChatRouter filters, sanitizes, and dispatches chat messages: command messages go
// through the cooldown gate onto the VFX bus topic, the rest become display items
type ChatRouter struct {
	p            ChatRouterParams
	chatInterval time.Duration
}

func NewChatRouter(p ChatRouterParams) (*ChatRouter, error) {
	if p.Config == nil {
		return nil, errors.New("chat router requires a config service")
	}
	if p.Queue == nil {
		return nil, errors.New("chat router requires a display queue")
	}
	if p.Bus == nil {
		return nil, errors.New("chat router requires an event bus")
	}
	if p.CommandCooldown <= 0 {
		p.CommandCooldown = 10 * time.Second
	}
	if p.PerUserCooldown <= 0 {
		p.PerUserCooldown = 30 * time.Second
	}
	if p.HeavyCooldown <= 0 {
		p.HeavyCooldown = 2 * time.Minute
	}
	chatInterval, err := p.Config.Duration("timing", "messageIntervalMs", 4*time.Second)
	if err != nil {
		return nil, err
	}
	return &ChatRouter{p: p, chatInterval: chatInterval}, nil
}

// HandleChatMessage runs the chat pipeline for one message. The returned error is
// non-nil only for configuration faults; everything else is absorbed so a bad
// message can never crash routing. Panics from collaborators are recovered: error
// values go to the platform error handler, anything else to the operational log.
func (r *ChatRouter) HandleChatMessage(platform event.Platform, msg *event.ChatMessage) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if recErr, ok := rec.(error); ok && r.p.ErrorHandler != nil {
				r.p.ErrorHandler(platform, recErr)
			} else {
				telemetry.Errorf("router: chat handler panicked on %s message: %v", platform, rec)
			}
			err = nil
		}
	}()

	if msg == nil {
		return nil
	}

	// Pre-connection filter: drop messages stamped before this platform connected
	if r.p.Connections != nil {
		connTime := r.p.Connections.GetPlatformConnectionTime(platform)
		if !connTime.IsZero() {
			if msgTime, parseErr := time.Parse(time.RFC3339, msg.TimestampIso); parseErr == nil && msgTime.Before(connTime) {
				telemetry.Debugf("router: dropping pre-connection %s message from %s", platform, msg.Username)
				return nil
			}
		}
	}

	enabled, err := r.p.Config.PlatformBool(string(platform), "messagesEnabled", true)
	if err != nil {
		return err
	}
	if !enabled {
		return nil
	}

	if strings.TrimSpace(msg.MessageText) == "" {
		return nil
	}
	sanitized := text.Sanitize(msg.MessageText, maxChatMessageLength)
	if sanitized == "" {
		return nil
	}

	if r.p.Parser != nil {
		firstToken := strings.Fields(sanitized)[0]
		if cfg := r.p.Parser.GetVFXConfig(firstToken, sanitized); cfg != nil {
			r.dispatchCommand(platform, msg, cfg)
			return nil
		}
	}

	item := &display.Item{
		Type:           event.TypeChatMessage,
		Platform:       platform,
		Priority:       notify.PriorityChat,
		Username:       msg.Username,
		UserID:         msg.UserID,
		DisplayMessage: fmt.Sprintf("%s: %s", msg.DisplayName, sanitized),
		TTSMessage:     fmt.Sprintf("%s says %s", msg.DisplayName, sanitized),
		LogMessage:     fmt.Sprintf("[%s] %s: %s", platform, msg.Username, sanitized),
		SourceName:     r.p.ChatSource,
		SceneName:      r.p.ChatScene,
		Duration:       r.chatInterval,
	}
	if addErr := r.p.Queue.AddItem(item); addErr != nil {
		telemetry.Errorf("router: failed to enqueue chat message from %s: %v", msg.Username, addErr)
	}
	return nil
}

// dispatchCommand runs the cooldown gate and, if the command may fire, publishes
// it on the VFX topic
func (r *ChatRouter) dispatchCommand(platform event.Platform, msg *event.ChatMessage, cfg *vfx.Config) {
	if r.p.Commands != nil && r.p.Commands.OnCooldown(cfg.CommandKey, r.p.CommandCooldown) {
		telemetry.Debugf("router: command '%s' is on cooldown", cfg.CommandKey)
		return
	}
	if r.p.Users != nil && msg.UserID != "" && !r.p.Users.Check(msg.UserID, r.p.PerUserCooldown, r.p.HeavyCooldown) {
		telemetry.Debugf("router: user %s is on command cooldown", msg.UserID)
		return
	}
	r.p.Bus.Publish(event.TopicVFXCommandReceived, display.VFXCommand{
		CommandKey: cfg.CommandKey,
		Username:   msg.Username,
		Platform:   platform,
		UserID:     msg.UserID,
		Context:    display.CommandContext{Source: "chat"},
	})
}
