package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/stagehand-live/stagehand/internal/config"
	"github.com/stagehand-live/stagehand/internal/cooldown"
	"github.com/stagehand-live/stagehand/internal/display"
	"github.com/stagehand-live/stagehand/internal/event"
	"github.com/stagehand-live/stagehand/internal/notify"
	"github.com/stagehand-live/stagehand/internal/obs"
	"github.com/stagehand-live/stagehand/internal/router"
	"github.com/stagehand-live/stagehand/internal/telemetry"
	"github.com/stagehand-live/stagehand/internal/vfx"
	"github.com/stagehand-live/stagehand/internal/viewers"
)

// stdoutSink stands in for OBS: text-source writes and media plays go to the
// terminal so the pipeline can be exercised without credentials or a live OBS
type stdoutSink struct{}

func (stdoutSink) SetTextSourceText(ctx context.Context, inputName, textValue string) error {
	fmt.Printf("  [obs] %s <- %q\n", inputName, textValue)
	return nil
}

func (stdoutSink) PlayMedia(ctx context.Context, inputName, filePath string) error {
	fmt.Printf("  [obs] play %s via %s\n", filePath, inputName)
	return nil
}

func main() {
	configPath := flag.String("config", "config.ini", "path to the INI config file")
	delay := flag.Duration("delay", 500*time.Millisecond, "pause between scripted events")
	flag.Parse()

	telemetry.Init(slog.LevelDebug)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("error loading config from '%s': %v", *configPath, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := stdoutSink{}
	bus := event.NewBus()
	queue := display.NewQueue(bus, sink, nil, display.Options{
		MaxQueueSize:    50,
		DefaultDuration: 250 * time.Millisecond,
	})
	queue.Start(ctx)

	var manager *notify.Manager
	detector := notify.NewCoalescingDetector(time.Second, func(agg notify.AggregatedDonation) {
		if _, err := manager.HandleAggregatedDonation(agg); err != nil {
			telemetry.Errorf("aggregated donation failed: %v", err)
		}
	})
	manager, err = notify.NewManager(notify.Params{
		Queue:        queue,
		Bus:          bus,
		Config:       cfg,
		Sources:      notify.Sources{NotificationSource: "notification_text"},
		Goals:        obs.NewGoalTracker(sink, "goal_text"),
		SpamDetector: detector,
	})
	if err != nil {
		log.Fatalf("error initializing notification manager: %v", err)
	}

	parser, err := vfx.NewParser(cfg, false)
	if err != nil {
		log.Fatalf("error parsing VFX command table: %v", err)
	}
	commandCooldowns := cooldown.NewManager()
	userCooldowns := cooldown.NewUserTracker()
	vfxService, err := vfx.NewService(parser, sink, commandCooldowns, userCooldowns, vfx.CooldownSettings{
		Command:  time.Second,
		PerUser:  time.Second,
		HeavyUse: time.Minute,
	})
	if err != nil {
		log.Fatalf("error initializing VFX service: %v", err)
	}
	vfxService.Attach(ctx, bus)

	connections := router.NewConnectionTracker()
	for _, p := range []event.Platform{event.PlatformTwitch, event.PlatformTikTok, event.PlatformYouTube} {
		connections.RecordConnection(p)
	}

	viewerSystem := viewers.NewSystem(bus, 0, nil)
	chatRouter, err := router.NewChatRouter(router.ChatRouterParams{
		Config:      cfg,
		Queue:       queue,
		Bus:         bus,
		Parser:      parser,
		Commands:    commandCooldowns,
		Users:       userCooldowns,
		Connections: connections,
		ErrorHandler: func(platform event.Platform, err error) {
			telemetry.Errorf("%s: chat handling failed: %v", platform, err)
		},
		ChatSource: "chat_text",
	})
	if err != nil {
		log.Fatalf("error initializing chat router: %v", err)
	}
	rtr, err := router.NewRouter(cfg, manager, chatRouter, viewerSystem, bus)
	if err != nil {
		log.Fatalf("error initializing event router: %v", err)
	}

	for _, ev := range script() {
		fmt.Printf("-- %s %s\n", ev.Platform, ev.Type)
		if err := rtr.RouteEvent(ev); err != nil {
			telemetry.Errorf("route failed: %v", err)
		}
		time.Sleep(*delay)
	}

	// let the queue drain before tearing down
	for queue.Depth() > 0 || queue.Active() != nil {
		time.Sleep(100 * time.Millisecond)
	}
	vfxService.Detach()
	queue.Stop()
	bus.Clear()
	fmt.Println("simulation complete")
}

func script() []*event.Event {
	now := event.IsoTimestamp(time.Now())
	chat := func(platform event.Platform, user, text string) *event.Event {
		return &event.Event{
			Type:     event.TypeChatMessage,
			Platform: platform,
			Data: event.Data{ChatMessage: &event.ChatMessage{
				UserID:       "sim-" + user,
				Username:     user,
				DisplayName:  user,
				MessageText:  text,
				TimestampIso: now,
			}},
		}
	}
	return []*event.Event{
		{
			Type:     event.TypeStreamOnline,
			Platform: event.PlatformTwitch,
			Data:     event.Data{StreamOnline: &event.StreamStatus{StreamID: "sim-stream", TimestampIso: now}},
		},
		chat(event.PlatformTwitch, "alice", "hello from the simulator"),
		{
			Type:     event.TypeFollow,
			Platform: event.PlatformTwitch,
			Data: event.Data{Follow: &event.Follow{
				UserID:       "sim-bob",
				Username:     "bob",
				TimestampIso: now,
			}},
		},
		{
			Type:     event.TypeGift,
			Platform: event.PlatformTikTok,
			Data: event.Data{Gift: &event.Gift{
				UserID:       "sim-carol",
				Username:     "carol",
				GiftType:     "Rose",
				GiftCount:    3,
				RepeatCount:  3,
				Amount:       3,
				Currency:     "coins",
				ID:           "sim-gift-1",
				TimestampIso: now,
			}},
		},
		{
			Type:     event.TypePaypiggy,
			Platform: event.PlatformYouTube,
			Data: event.Data{Paypiggy: &event.Paypiggy{
				UserID:       "sim-dave",
				Username:     "dave",
				Months:       6,
				TimestampIso: now,
			}},
		},
		{
			Type:     event.TypeRaid,
			Platform: event.PlatformTwitch,
			Data: event.Data{Raid: &event.Raid{
				UserID:       "sim-erin",
				Username:     "erin",
				ViewerCount:  42,
				TimestampIso: now,
			}},
		},
		{
			Type:     event.TypeViewerCount,
			Platform: event.PlatformTikTok,
			Data:     event.Data{ViewerCount: &event.ViewerCount{Count: 128, TimestampIso: now}},
		},
		chat(event.PlatformTwitch, "alice", "!rain make it pour"),
		{
			Type:     event.TypeStreamOffline,
			Platform: event.PlatformTwitch,
			Data:     event.Data{StreamOffline: &event.StreamStatus{StreamID: "sim-stream", TimestampIso: now}},
		},
	}
}
