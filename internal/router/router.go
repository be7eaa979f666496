// Package router is the central dispatch point between platform adapters and the
// rest of the pipeline: every normalized event enters through RouteEvent, chat
// messages continue into the chat sub-router.
package router

import (
	"errors"
	"fmt"

	"github.com/stagehand-live/stagehand/internal/config"
	"github.com/stagehand-live/stagehand/internal/event"
	"github.com/stagehand-live/stagehand/internal/notify"
	"github.com/stagehand-live/stagehand/internal/telemetry"
)

// ErrUnsupportedEventType indicates an event whose type has no dispatch entry;
// the table is exhaustive and an unknown type is a programming error
var ErrUnsupportedEventType = errors.New("unsupported platform event type")

// Notifier is the slice of the notification manager the router dispatches
// monetization events to
type Notifier interface {
	HandleNotification(typ string, platform string, data *event.Data) (notify.Result, error)
}

// Lifecycle tracks per-platform stream-live state and accepts event-pushed
// viewer counts alongside the polled ones
type Lifecycle interface {
	SetStreamLive(platform event.Platform, isLive bool)
	Deliver(platform event.Platform, count float64)
}

// Router fans normalized events out to their collaborators. Construction fails
// without a config service: gating decisions cannot be guessed.
type Router struct {
	cfg       *config.Config
	notifier  Notifier
	chat      *ChatRouter
	lifecycle Lifecycle
	bus       *event.Bus
}

func NewRouter(cfg *config.Config, notifier Notifier, chat *ChatRouter, lifecycle Lifecycle, bus *event.Bus) (*Router, error) {
	if cfg == nil {
		return nil, errors.New("router requires a config service")
	}
	if notifier == nil {
		return nil, errors.New("router requires a notification manager")
	}
	if bus == nil {
		return nil, errors.New("router requires an event bus")
	}
	return &Router{
		cfg:       cfg,
		notifier:  notifier,
		chat:      chat,
		lifecycle: lifecycle,
		bus:       bus,
	}, nil
}

// RouteEvent dispatches one normalized event. The returned error is non-nil for
// unknown event types and for configuration faults, both of which must surface
// rather than be swallowed.
func (r *Router) RouteEvent(ev *event.Event) error {
	if ev == nil {
		return errors.New("cannot route a nil event")
	}
	r.bus.Publish(event.TopicPlatformEvent, ev)
	r.relay(ev)
	switch ev.Type {
	case event.TypeChatMessage:
		if r.chat == nil {
			telemetry.Warnf("router: dropping chat message, no chat router configured")
			return nil
		}
		return r.chat.HandleChatMessage(ev.Platform, ev.Data.ChatMessage)
	case event.TypeGift:
		return r.notifyOf("platform:gift", ev)
	case event.TypeEnvelope:
		return r.notifyOf("platform:envelope", ev)
	case event.TypePaypiggy:
		return r.notifyOf("platform:paypiggy", ev)
	case event.TypeGiftPaypiggy:
		return r.notifyOf("platform:giftpaypiggy", ev)
	case event.TypeFollow:
		return r.notifyOf("platform:follow", ev)
	case event.TypeRaid:
		return r.notifyOf("platform:raid", ev)
	case event.TypeViewerCount:
		if r.lifecycle != nil && ev.Data.ViewerCount != nil {
			r.lifecycle.Deliver(ev.Platform, float64(ev.Data.ViewerCount.Count))
		}
		r.bus.Publish(event.TopicPlatformViewerCount, ev)
		return nil
	case event.TypeStreamOnline:
		if r.lifecycle != nil {
			r.lifecycle.SetStreamLive(ev.Platform, true)
		}
		r.bus.Publish(event.TopicStreamOnline, ev)
		return nil
	case event.TypeStreamOffline:
		if r.lifecycle != nil {
			r.lifecycle.SetStreamLive(ev.Platform, false)
		}
		r.bus.Publish(event.TopicStreamOffline, ev)
		return nil
	}
	return fmt.Errorf("%w '%s'", ErrUnsupportedEventType, ev.Type)
}

// relay republishes the event on its per-kind topic for components that only care
// about one kind of event
func (r *Router) relay(ev *event.Event) {
	switch ev.Type {
	case event.TypeChatMessage:
		r.bus.Publish(event.TopicMessage, ev)
	case event.TypeFollow:
		r.bus.Publish(event.TopicFollow, ev)
	case event.TypeGift, event.TypeEnvelope:
		r.bus.Publish(event.TopicGift, ev)
		if g := ev.Data.Gift; g != nil && (g.Currency == "bits" || g.Currency == "mixed bits") {
			r.bus.Publish(event.TopicCheer, ev)
		}
	case event.TypePaypiggy:
		r.bus.Publish(event.TopicPaypiggy, ev)
		if p := ev.Data.Paypiggy; p != nil && p.Message != "" {
			r.bus.Publish(event.TopicPaypiggyMessage, ev)
		}
	case event.TypeGiftPaypiggy:
		r.bus.Publish(event.TopicPaypiggyGift, ev)
	case event.TypeRaid:
		r.bus.Publish(event.TopicRaid, ev)
	}
}

// notifyOf forwards a monetization event to the notification manager. Config
// faults propagate; per-event rejections are logged and absorbed.
func (r *Router) notifyOf(typ string, ev *event.Event) error {
	result, err := r.notifier.HandleNotification(typ, string(ev.Platform), &ev.Data)
	if err != nil {
		return err
	}
	if !result.Success {
		if result.Disabled {
			telemetry.Debugf("router: %s notifications disabled for %s", typ, ev.Platform)
		} else {
			telemetry.Debugf("router: %s notification rejected: %s", typ, result.Error)
		}
	}
	return nil
}
