package router

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stagehand-live/stagehand/internal/config"
	"github.com/stagehand-live/stagehand/internal/cooldown"
	"github.com/stagehand-live/stagehand/internal/display"
	"github.com/stagehand-live/stagehand/internal/event"
	"github.com/stagehand-live/stagehand/internal/notify"
	"github.com/stagehand-live/stagehand/internal/vfx"
)

type fakeNotifier struct {
	calls  []string
	result notify.Result
	err    error
}

func (f *fakeNotifier) HandleNotification(typ string, platform string, data *event.Data) (notify.Result, error) {
	f.calls = append(f.calls, fmt.Sprintf("%s/%s", typ, platform))
	return f.result, f.err
}

type fakeLifecycle struct {
	transitions []string
	counts      []string
}

func (f *fakeLifecycle) SetStreamLive(platform event.Platform, isLive bool) {
	f.transitions = append(f.transitions, fmt.Sprintf("%s=%t", platform, isLive))
}

func (f *fakeLifecycle) Deliver(platform event.Platform, count float64) {
	f.counts = append(f.counts, fmt.Sprintf("%s=%g", platform, count))
}

func testConfig(t *testing.T) *config.Config {
	cfg, err := config.LoadBytes([]byte(`
[general]
username = testchannel

[obs]
host = localhost
`))
	assert.NoError(t, err)
	return cfg
}

func Test_NewRouter(t *testing.T) {
	t.Run("requires a config service", func(t *testing.T) {
		_, err := NewRouter(nil, &fakeNotifier{}, nil, nil, event.NewBus())
		assert.ErrorContains(t, err, "config")
	})
	t.Run("requires a notification manager", func(t *testing.T) {
		_, err := NewRouter(testConfig(t), nil, nil, nil, event.NewBus())
		assert.ErrorContains(t, err, "notification")
	})
}

func Test_RouteEvent(t *testing.T) {
	newRouter := func(t *testing.T, n *fakeNotifier, l *fakeLifecycle, bus *event.Bus) *Router {
		r, err := NewRouter(testConfig(t), n, nil, l, bus)
		assert.NoError(t, err)
		return r
	}

	t.Run("monetization events dispatch to the notification manager", func(t *testing.T) {
		n := &fakeNotifier{result: notify.Result{Success: true}}
		r := newRouter(t, n, nil, event.NewBus())

		events := []*event.Event{
			{Type: event.TypeGift, Platform: event.PlatformTikTok, Data: event.Data{Gift: &event.Gift{}}},
			{Type: event.TypeEnvelope, Platform: event.PlatformTikTok, Data: event.Data{Envelope: &event.Envelope{}}},
			{Type: event.TypePaypiggy, Platform: event.PlatformTwitch, Data: event.Data{Paypiggy: &event.Paypiggy{}}},
			{Type: event.TypeGiftPaypiggy, Platform: event.PlatformTwitch, Data: event.Data{GiftPaypiggy: &event.GiftPaypiggy{}}},
			{Type: event.TypeFollow, Platform: event.PlatformTwitch, Data: event.Data{Follow: &event.Follow{}}},
			{Type: event.TypeRaid, Platform: event.PlatformTwitch, Data: event.Data{Raid: &event.Raid{}}},
		}
		for _, ev := range events {
			assert.NoError(t, r.RouteEvent(ev))
		}
		assert.Equal(t, []string{
			"platform:gift/tiktok",
			"platform:envelope/tiktok",
			"platform:paypiggy/twitch",
			"platform:giftpaypiggy/twitch",
			"platform:follow/twitch",
			"platform:raid/twitch",
		}, n.calls)
	})
	t.Run("configuration faults from the notifier propagate", func(t *testing.T) {
		n := &fakeNotifier{err: fmt.Errorf("mock config fault")}
		r := newRouter(t, n, nil, event.NewBus())
		err := r.RouteEvent(&event.Event{
			Type: event.TypeGift, Platform: event.PlatformTikTok,
			Data: event.Data{Gift: &event.Gift{}},
		})
		assert.ErrorContains(t, err, "mock config fault")
	})
	t.Run("per-event rejections are absorbed", func(t *testing.T) {
		n := &fakeNotifier{result: notify.Result{Success: false, Error: "user is suppressed"}}
		r := newRouter(t, n, nil, event.NewBus())
		err := r.RouteEvent(&event.Event{
			Type: event.TypeGift, Platform: event.PlatformTikTok,
			Data: event.Data{Gift: &event.Gift{}},
		})
		assert.NoError(t, err)
	})
	t.Run("stream status toggles lifecycle state and publishes", func(t *testing.T) {
		n := &fakeNotifier{}
		l := &fakeLifecycle{}
		bus := event.NewBus()
		published := 0
		bus.Subscribe(event.TopicStreamOnline, func(any) error { published++; return nil })
		bus.Subscribe(event.TopicStreamOffline, func(any) error { published++; return nil })
		r := newRouter(t, n, l, bus)

		assert.NoError(t, r.RouteEvent(&event.Event{
			Type: event.TypeStreamOnline, Platform: event.PlatformTwitch,
			Data: event.Data{StreamOnline: &event.StreamStatus{}},
		}))
		assert.NoError(t, r.RouteEvent(&event.Event{
			Type: event.TypeStreamOffline, Platform: event.PlatformTwitch,
			Data: event.Data{StreamOffline: &event.StreamStatus{}},
		}))
		assert.Equal(t, []string{"twitch=true", "twitch=false"}, l.transitions)
		assert.Equal(t, 2, published)
	})
	t.Run("viewer counts publish on the bus and reach the fanout", func(t *testing.T) {
		bus := event.NewBus()
		seen := 0
		bus.Subscribe(event.TopicPlatformViewerCount, func(any) error { seen++; return nil })
		l := &fakeLifecycle{}
		r := newRouter(t, &fakeNotifier{}, l, bus)
		assert.NoError(t, r.RouteEvent(&event.Event{
			Type: event.TypeViewerCount, Platform: event.PlatformTikTok,
			Data: event.Data{ViewerCount: &event.ViewerCount{Count: 42}},
		}))
		assert.Equal(t, 1, seen)
		assert.Equal(t, []string{"tiktok=42"}, l.counts)
	})
	t.Run("events republish on the primary fanout and per-kind relays", func(t *testing.T) {
		bus := event.NewBus()
		topics := make(map[event.Topic]int)
		for _, topic := range []event.Topic{
			event.TopicPlatformEvent, event.TopicGift, event.TopicCheer,
			event.TopicPaypiggy, event.TopicPaypiggyMessage, event.TopicFollow,
		} {
			topic := topic
			bus.Subscribe(topic, func(any) error { topics[topic]++; return nil })
		}
		r := newRouter(t, &fakeNotifier{result: notify.Result{Success: true}}, nil, bus)
		assert.NoError(t, r.RouteEvent(&event.Event{
			Type: event.TypeGift, Platform: event.PlatformTwitch,
			Data: event.Data{Gift: &event.Gift{UserID: "1", Currency: "bits", TimestampIso: "2024-01-01T00:00:00Z"}},
		}))
		assert.NoError(t, r.RouteEvent(&event.Event{
			Type: event.TypePaypiggy, Platform: event.PlatformTwitch,
			Data: event.Data{Paypiggy: &event.Paypiggy{UserID: "2", Message: "resubbed!", TimestampIso: "2024-01-01T00:00:00Z"}},
		}))
		assert.NoError(t, r.RouteEvent(&event.Event{
			Type: event.TypeFollow, Platform: event.PlatformTwitch,
			Data: event.Data{Follow: &event.Follow{UserID: "3", TimestampIso: "2024-01-01T00:00:00Z"}},
		}))
		assert.Equal(t, 3, topics[event.TopicPlatformEvent])
		assert.Equal(t, 1, topics[event.TopicGift])
		assert.Equal(t, 1, topics[event.TopicCheer])
		assert.Equal(t, 1, topics[event.TopicPaypiggy])
		assert.Equal(t, 1, topics[event.TopicPaypiggyMessage])
		assert.Equal(t, 1, topics[event.TopicFollow])
	})
	t.Run("unknown type fails with unsupported platform event type", func(t *testing.T) {
		r := newRouter(t, &fakeNotifier{}, nil, event.NewBus())
		err := r.RouteEvent(&event.Event{Type: event.Type("mystery")})
		assert.ErrorIs(t, err, ErrUnsupportedEventType)
		assert.ErrorContains(t, err, "unsupported platform event type 'mystery'")
	})
	t.Run("nil event fails", func(t *testing.T) {
		r := newRouter(t, &fakeNotifier{}, nil, event.NewBus())
		assert.Error(t, r.RouteEvent(nil))
	})
	t.Run("chat without a chat router is dropped, not fatal", func(t *testing.T) {
		r := newRouter(t, &fakeNotifier{}, nil, event.NewBus())
		assert.NoError(t, r.RouteEvent(&event.Event{
			Type: event.TypeChatMessage, Platform: event.PlatformTwitch,
			Data: event.Data{ChatMessage: &event.ChatMessage{MessageText: "hi"}},
		}))
	})
}

type fakeQueue struct {
	items []*display.Item
	err   error
	panic any
}

func (q *fakeQueue) AddItem(item *display.Item) error {
	if q.panic != nil {
		panic(q.panic)
	}
	if q.err != nil {
		return q.err
	}
	q.items = append(q.items, item)
	return nil
}

type fixedConnections struct {
	at time.Time
}

func (c fixedConnections) GetPlatformConnectionTime(event.Platform) time.Time { return c.at }

func newChatMessage(message string) *event.ChatMessage {
	return &event.ChatMessage{
		Username:     "someviewer",
		UserID:       "12345",
		DisplayName:  "Some Viewer",
		MessageText:  message,
		TimestampIso: event.IsoTimestamp(time.Now()),
	}
}

func Test_ChatRouter(t *testing.T) {
	newChat := func(t *testing.T, q *fakeQueue, bus *event.Bus, opts func(*ChatRouterParams)) *ChatRouter {
		p := ChatRouterParams{
			Config:     testConfig(t),
			Queue:      q,
			Bus:        bus,
			ChatSource: "chat-text",
		}
		if opts != nil {
			opts(&p)
		}
		r, err := NewChatRouter(p)
		assert.NoError(t, err)
		return r
	}

	t.Run("plain message is sanitized and enqueued", func(t *testing.T) {
		q := &fakeQueue{}
		r := newChat(t, q, event.NewBus(), nil)
		err := r.HandleChatMessage(event.PlatformTwitch, newChatMessage("<b>Hello</b><script>alert(1)</script> world"))
		assert.NoError(t, err)
		assert.Len(t, q.items, 1)
		item := q.items[0]
		assert.Equal(t, "Some Viewer: Hello world", item.DisplayMessage)
		assert.Equal(t, notify.PriorityChat, item.Priority)
		assert.Equal(t, "chat-text", item.SourceName)
	})
	t.Run("whitespace-only message is dropped", func(t *testing.T) {
		q := &fakeQueue{}
		r := newChat(t, q, event.NewBus(), nil)
		assert.NoError(t, r.HandleChatMessage(event.PlatformTwitch, newChatMessage("   \t ")))
		assert.Empty(t, q.items)
	})
	t.Run("pre-connection message is dropped", func(t *testing.T) {
		q := &fakeQueue{}
		r := newChat(t, q, event.NewBus(), func(p *ChatRouterParams) {
			p.Connections = fixedConnections{at: time.Now().Add(time.Hour)}
		})
		assert.NoError(t, r.HandleChatMessage(event.PlatformTwitch, newChatMessage("too early")))
		assert.Empty(t, q.items)
	})
	t.Run("malformed messagesEnabled flag propagates", func(t *testing.T) {
		cfg, err := config.LoadBytes([]byte(`
[general]
username = testchannel
messagesEnabled = maybe

[obs]
host = localhost
`))
		assert.NoError(t, err)
		r, err := NewChatRouter(ChatRouterParams{Config: cfg, Queue: &fakeQueue{}, Bus: event.NewBus()})
		assert.NoError(t, err)
		err = r.HandleChatMessage(event.PlatformTwitch, newChatMessage("hello"))
		assert.Error(t, err)
	})
	t.Run("messages disabled for platform drops silently", func(t *testing.T) {
		cfg, err := config.LoadBytes([]byte(`
[general]
username = testchannel

[twitch]
messagesEnabled = false

[obs]
host = localhost
`))
		assert.NoError(t, err)
		q := &fakeQueue{}
		r, err := NewChatRouter(ChatRouterParams{Config: cfg, Queue: q, Bus: event.NewBus()})
		assert.NoError(t, err)
		assert.NoError(t, r.HandleChatMessage(event.PlatformTwitch, newChatMessage("hello")))
		assert.Empty(t, q.items)
	})
	t.Run("panic with an error value routes to the platform error handler", func(t *testing.T) {
		var handled error
		q := &fakeQueue{panic: fmt.Errorf("mock enqueue panic")}
		r := newChat(t, q, event.NewBus(), func(p *ChatRouterParams) {
			p.ErrorHandler = func(platform event.Platform, err error) {
				assert.Equal(t, event.PlatformTikTok, platform)
				handled = err
			}
		})
		assert.NoError(t, r.HandleChatMessage(event.PlatformTikTok, newChatMessage("boom")))
		assert.ErrorContains(t, handled, "mock enqueue panic")
	})
	t.Run("panic with a non-error value is absorbed", func(t *testing.T) {
		q := &fakeQueue{panic: "string panic"}
		r := newChat(t, q, event.NewBus(), nil)
		assert.NotPanics(t, func() {
			assert.NoError(t, r.HandleChatMessage(event.PlatformTikTok, newChatMessage("boom")))
		})
	})
}

type fakeMatcher struct {
	trigger string
	cfg     *vfx.Config
}

func (m fakeMatcher) GetVFXConfig(firstToken, fullMessage string) *vfx.Config {
	if firstToken == m.trigger {
		return m.cfg
	}
	return nil
}

func Test_ChatRouter_commands(t *testing.T) {
	newCommandRouter := func(t *testing.T, q *fakeQueue, bus *event.Bus, opts func(*ChatRouterParams)) *ChatRouter {
		p := ChatRouterParams{
			Config: testConfig(t),
			Queue:  q,
			Bus:    bus,
			Parser: fakeMatcher{trigger: "!boom", cfg: &vfx.Config{Command: "!boom", CommandKey: "boom"}},
		}
		if opts != nil {
			opts(&p)
		}
		r, err := NewChatRouter(p)
		assert.NoError(t, err)
		return r
	}

	t.Run("command message publishes on the VFX topic instead of enqueuing", func(t *testing.T) {
		q := &fakeQueue{}
		bus := event.NewBus()
		var received []display.VFXCommand
		bus.Subscribe(event.TopicVFXCommandReceived, func(payload any) error {
			received = append(received, payload.(display.VFXCommand))
			return nil
		})
		r := newCommandRouter(t, q, bus, nil)

		assert.NoError(t, r.HandleChatMessage(event.PlatformTwitch, newChatMessage("!boom go")))
		assert.Empty(t, q.items)
		assert.Len(t, received, 1)
		assert.Equal(t, "boom", received[0].CommandKey)
		assert.Equal(t, "12345", received[0].UserID)
		assert.Equal(t, "chat", received[0].Context.Source)
	})
	t.Run("command on cooldown is dropped", func(t *testing.T) {
		q := &fakeQueue{}
		bus := event.NewBus()
		received := 0
		bus.Subscribe(event.TopicVFXCommandReceived, func(any) error { received++; return nil })
		commands := cooldown.NewManager()
		r := newCommandRouter(t, q, bus, func(p *ChatRouterParams) {
			p.Commands = commands
			p.CommandCooldown = time.Minute
		})

		commands.Touch("boom")
		assert.NoError(t, r.HandleChatMessage(event.PlatformTwitch, newChatMessage("!boom")))
		assert.Equal(t, 0, received)
		assert.Empty(t, q.items)
	})
	t.Run("non-command message still enqueues", func(t *testing.T) {
		q := &fakeQueue{}
		r := newCommandRouter(t, q, event.NewBus(), nil)
		assert.NoError(t, r.HandleChatMessage(event.PlatformTwitch, newChatMessage("just chatting")))
		assert.Len(t, q.items, 1)
	})
}
