package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stagehand-live/stagehand"
	"github.com/stagehand-live/stagehand/internal/config"
	"github.com/stagehand-live/stagehand/internal/cooldown"
	"github.com/stagehand-live/stagehand/internal/display"
	"github.com/stagehand-live/stagehand/internal/event"
	"github.com/stagehand-live/stagehand/internal/notify"
	"github.com/stagehand-live/stagehand/internal/obs"
	"github.com/stagehand-live/stagehand/internal/router"
	"github.com/stagehand-live/stagehand/internal/secrets"
	"github.com/stagehand-live/stagehand/internal/server"
	"github.com/stagehand-live/stagehand/internal/telemetry"
	"github.com/stagehand-live/stagehand/internal/tiktok"
	"github.com/stagehand-live/stagehand/internal/tts"
	"github.com/stagehand-live/stagehand/internal/twitch"
	"github.com/stagehand-live/stagehand/internal/vfx"
	"github.com/stagehand-live/stagehand/internal/viewers"
	"github.com/stagehand-live/stagehand/internal/youtube"
)

const startupTimeout = 15 * time.Second

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	configPath := flag.String("config", "config.ini", "path to the INI config file")
	dotenvPath := flag.String("dotenv", ".env", "path to an optional .env file")
	noKeywords := flag.Bool("no-keywords", false, "disable keyword-based VFX command matching")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	telemetry.Init(level)

	path := *configPath
	if override := os.Getenv("CHAT_BOT_CONFIG_PATH"); override != "" {
		path = override
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("error loading config from '%s': %v", path, err)
	}

	twitchEnabled := mustBool(cfg, "twitch", "enabled", false)
	tiktokEnabled := mustBool(cfg, "tiktok", "enabled", false)
	youtubeEnabled := mustBool(cfg, "youtube", "enabled", false)

	vals, err := secrets.Resolve(*dotenvPath, true)
	if err != nil {
		log.Fatalf("error resolving secrets: %v", err)
	}
	if err := vals.Validate(secrets.Requirements{
		TwitchEnabled:                twitchEnabled,
		TikTokEnabled:                tiktokEnabled,
		YouTubeEnabled:               youtubeEnabled,
		YouTubeAPIEnabled:            mustBool(cfg, "youtube", "enableAPI", false),
		YouTubeStreamDetectionMethod: cfg.String("youtube", "streamDetectionMethod", "innertube"),
		YouTubeViewerCountMethod:     cfg.String("youtube", "viewerCountMethod", "api"),
	}); err != nil {
		log.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill, syscall.SIGTERM)
	defer stop()

	// everything that must succeed before the service is up shares one deadline
	startupCtx, cancelStartup := context.WithTimeout(ctx, startupTimeout)
	defer cancelStartup()

	bus := event.NewBus()
	bus.SetErrorSink(func(topic event.Topic, err error) {
		telemetry.Errorf("bus: handler on '%s' failed: %v", topic, err)
	})

	obsClient, err := obs.Connect(startupCtx, cfg.String("obs", "websocketUrl", "ws://127.0.0.1:4455"), vals.OBSPassword)
	if err != nil {
		log.Fatalf("error connecting to OBS: %v", err)
	}

	var speaker display.Speaker
	if mustBool(cfg, "tts", "enabled", false) {
		ttsSpeaker, err := tts.NewSpeaker(nil, obsClient, tts.Options{
			Endpoint:    cfg.String("streamelements", "speechUrl", ""),
			Voice:       cfg.String("tts", "voice", ""),
			MediaSource: cfg.String("obs", "ttsMediaSource", ""),
			MaxDuration: mustDuration(cfg, "tts", "maxDurationMs", 0),
		})
		if err != nil {
			log.Fatalf("error initializing TTS speaker: %v", err)
		}
		speaker = ttsSpeaker
	}

	queue := display.NewQueue(bus, obsClient, speaker, display.Options{
		MaxQueueSize:    mustInt(cfg, "timing", "maxQueueSize", 50),
		DefaultDuration: mustDuration(cfg, "timing", "displayDurationMs", 5*time.Second),
	})
	queue.Start(ctx)

	goals := obs.NewGoalTracker(obsClient, cfg.String("obs", "goalSource", "goal_text"))

	// the detector flushes back into the manager, so the manager variable has to
	// exist before the detector closure runs
	var manager *notify.Manager
	spamWindow := mustDuration(cfg, "timing", "donationSpamWindowMs", 5*time.Second)
	detector := notify.NewCoalescingDetector(spamWindow, func(agg notify.AggregatedDonation) {
		if _, err := manager.HandleAggregatedDonation(agg); err != nil {
			telemetry.Errorf("notify: aggregated donation failed: %v", err)
		}
	})
	suppression, err := notify.SuppressionOptionsFromConfig(cfg)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	manager, err = notify.NewManager(notify.Params{
		Queue:  queue,
		Bus:    bus,
		Config: cfg,
		Sources: notify.Sources{
			NotificationSource: cfg.String("obs", "notificationSource", "notification_text"),
			NotificationScene:  cfg.String("obs", "notificationScene", ""),
		},
		Goals:        goals,
		SpamDetector: detector,
		Suppression:  suppression,
	})
	if err != nil {
		log.Fatalf("error initializing notification manager: %v", err)
	}
	manager.StartCleanup(ctx)

	parser, err := vfx.NewParser(cfg, *noKeywords)
	if err != nil {
		log.Fatalf("error parsing VFX command table: %v", err)
	}
	commandCooldowns := cooldown.NewManager()
	userCooldowns := cooldown.NewUserTracker()
	cooldownSettings := vfx.CooldownSettings{
		Command:  mustDuration(cfg, "cooldowns", "commandCooldownMs", 10*time.Second),
		PerUser:  mustDuration(cfg, "cooldowns", "perUserCooldownMs", 30*time.Second),
		HeavyUse: mustDuration(cfg, "cooldowns", "heavyCooldownMs", 2*time.Minute),
	}
	vfxService, err := vfx.NewService(parser, obsClient, commandCooldowns, userCooldowns, cooldownSettings)
	if err != nil {
		log.Fatalf("error initializing VFX service: %v", err)
	}
	vfxService.Attach(ctx, bus)

	connections := router.NewConnectionTracker()

	// emit closes over rtr so the adapters can be constructed before the router;
	// rtr is assigned below, before any adapter connects
	var rtr *router.Router
	emit := func(ev *event.Event) {
		if err := rtr.RouteEvent(ev); err != nil {
			telemetry.Errorf("router: dropped %s event from %s: %v", ev.Type, ev.Platform, err)
		}
	}

	var viewerSources []viewers.Source
	var twitchAdapter *twitch.Adapter
	var twitchChat *twitch.ChatAgent
	var twitchAPI twitch.SubscriptionReader
	if twitchEnabled {
		channelName := cfg.String("twitch", "username", "")
		if channelName == "" {
			log.Fatalf("config error: [twitch] username is required when twitch is enabled")
		}
		helixClient, err := twitch.NewClientWithUserToken(vals.TwitchClientID, vals.TwitchAccessToken)
		if err != nil {
			log.Fatalf("error initializing Twitch API client: %v", err)
		}
		twitchAdapter, err = twitch.NewAdapter(helixClient, bus, channelName, stagehand.RequiredSubscriptions, emit, twitch.SocketOptions{})
		if err != nil {
			log.Fatalf("error initializing Twitch adapter: %v", err)
		}
		viewerSources = append(viewerSources, twitchAdapter)
		twitchAPI = helixClient
		if cfg.String("twitch", "chatTransport", "eventsub") == "irc" {
			twitchChat = twitch.NewChatAgent(channelName, twitchAdapter.BroadcasterID(), emit)
		}
	}

	var tiktokAdapter *tiktok.Adapter
	if tiktokEnabled {
		username := cfg.String("tiktok", "username", "")
		if username == "" {
			log.Fatalf("config error: [tiktok] username is required when tiktok is enabled")
		}
		gatewayURL := cfg.String("tiktok", "gatewayUrl", "ws://127.0.0.1:8765/webcast")
		tiktokClient := tiktok.NewWebcastClient(gatewayURL, username, vals.TikTokSessionID)
		retryDelay := mustDuration(cfg, "tiktok", "retryDelayMs", 5*time.Second)
		tiktokAdapter, err = tiktok.NewAdapter(tiktokClient, emit, tiktok.AdapterOptions{
			Username: username,
			RetryFunc: func(reason string) {
				telemetry.Warnf("tiktok: reconnecting after error: %s", reason)
				go func() {
					select {
					case <-ctx.Done():
					case <-time.After(retryDelay):
						if err := tiktokAdapter.Connect(ctx); err != nil {
							telemetry.Errorf("tiktok: reconnect failed: %v", err)
						} else {
							connections.RecordConnection(event.PlatformTikTok)
						}
					}
				}()
			},
			ConnectionIssueFunc: func(reason string) {
				telemetry.Warnf("tiktok: connection issue: %s", reason)
				connections.ClearConnection(event.PlatformTikTok)
			},
		})
		if err != nil {
			log.Fatalf("error initializing TikTok adapter: %v", err)
		}
		viewerSources = append(viewerSources, tiktokAdapter)
	}

	var youtubeAdapter *youtube.Adapter
	var youtubeAPI *youtube.APIClient
	var youtubeDetector *youtube.StreamDetector
	if youtubeEnabled {
		channel := cfg.String("youtube", "username", "")
		if channel == "" {
			log.Fatalf("config error: [youtube] username is required when youtube is enabled")
		}
		youtubeAPI = youtube.NewAPIClient(nil, vals.YouTubeAPIKey)
		youtubeDetector = youtube.NewStreamDetector(youtubeAPI.LookupLiveVideos, youtube.DefaultDetectionTimeout)
		youtubeAdapter, err = youtube.NewAdapter(emit, youtubeAPI.GetConcurrentViewers, cfg.String("youtube", "channelId", ""))
		if err != nil {
			log.Fatalf("error initializing YouTube adapter: %v", err)
		}
		viewerSources = append(viewerSources, youtubeAdapter)
	}

	pollInterval := mustDuration(cfg, "timing", "viewerPollIntervalMs", 30*time.Second)
	viewerSystem := viewers.NewSystem(bus, pollInterval, viewerSources)
	if err := viewerSystem.Register("obs-viewer-count", obs.NewViewerCountObserver(obsClient, cfg.String("obs", "viewerCountSource", "viewer_count_text"))); err != nil {
		log.Fatalf("error registering viewer count observer: %v", err)
	}

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
		ChatSource:      cfg.String("obs", "chatSource", "chat_text"),
		ChatScene:       cfg.String("obs", "chatScene", ""),
		CommandCooldown: cooldownSettings.Command,
		PerUserCooldown: cooldownSettings.PerUser,
		HeavyCooldown:   cooldownSettings.HeavyUse,
	})
	if err != nil {
		log.Fatalf("error initializing chat router: %v", err)
	}
	rtr, err = router.NewRouter(cfg, manager, chatRouter, viewerSystem, bus)
	if err != nil {
		log.Fatalf("error initializing event router: %v", err)
	}

	if twitchAdapter != nil {
		if err := twitchAdapter.Connect(ctx); err != nil {
			log.Fatalf("error connecting to Twitch EventSub: %v", err)
		}
		connections.RecordConnection(event.PlatformTwitch)
		if audit, err := twitch.AuditSubscriptions(twitchAPI); err != nil {
			telemetry.Warnf("twitch: subscription audit failed: %v", err)
		} else if len(audit.Stale) > 0 {
			telemetry.Warnf("twitch: %d of %d EventSub subscriptions are stale: %s", len(audit.Stale), audit.Total, strings.Join(audit.Stale, ", "))
		} else {
			telemetry.Infof("twitch: %d EventSub subscriptions enabled", audit.Enabled)
		}
		if twitchChat != nil {
			if err := twitchChat.Connect(startupCtx); err != nil {
				log.Fatalf("error connecting to Twitch chat: %v", err)
			}
		}
	}
	if tiktokAdapter != nil {
		if err := tiktokAdapter.Connect(ctx); err != nil {
			telemetry.Errorf("tiktok: initial connect failed: %v", err)
		} else {
			connections.RecordConnection(event.PlatformTikTok)
		}
	}

	getStatus := func() server.Status {
		status := server.Status{
			Platforms:  make(map[string]server.PlatformStatus),
			QueueDepth: queue.Depth(),
		}
		record := func(platform event.Platform, enabled bool) {
			status.Platforms[string(platform)] = server.PlatformStatus{
				Enabled:   enabled,
				Connected: !connections.GetPlatformConnectionTime(platform).IsZero(),
				Live:      viewerSystem.IsLive(platform),
			}
		}
		record(event.PlatformTwitch, twitchEnabled)
		record(event.PlatformTikTok, tiktokEnabled)
		record(event.PlatformYouTube, youtubeEnabled)
		return status
	}

	var wg errgroup.Group
	wg.Go(func() error {
		viewerSystem.Run(ctx)
		return nil
	})
	if youtubeAdapter != nil {
		detectionInterval := mustDuration(cfg, "youtube", "detectionIntervalMs", 30*time.Second)
		channel := cfg.String("youtube", "username", "")
		wg.Go(func() error {
			runYouTubeStreams(ctx, youtubeDetector, youtubeAPI, youtubeAdapter, connections, emit, channel, detectionInterval)
			return nil
		})
	}

	var httpServer *http.Server
	srv := server.New(ctx, bus, getStatus)
	if mustBool(cfg, "general", "enableAPI", true) {
		addr := fmt.Sprintf(":%d", mustInt(cfg, "general", "apiPort", 3000))
		httpServer = &http.Server{Addr: addr, Handler: srv}
		fmt.Printf("Listening on %s...\n", addr)
		wg.Go(httpServer.ListenAndServe)
	}

	<-ctx.Done()
	fmt.Printf("Received signal; shutting down...\n")

	if httpServer != nil {
		httpServer.Shutdown(context.Background())
	}
	vfxService.Detach()
	if twitchChat != nil {
		if err := twitchChat.Disconnect(); err != nil {
			telemetry.Warnf("twitch: chat disconnect failed: %v", err)
		}
	}
	if twitchAdapter != nil {
		twitchAdapter.Disconnect()
	}
	if tiktokAdapter != nil {
		if err := tiktokAdapter.Disconnect(); err != nil {
			telemetry.Warnf("tiktok: disconnect failed: %v", err)
		}
	}
	queue.Stop()
	if err := obsClient.Close(); err != nil {
		telemetry.Warnf("obs: close failed: %v", err)
	}
	bus.Clear()

	err = wg.Wait()
	if err == http.ErrServerClosed || err == nil || err == context.Canceled {
		fmt.Printf("Shutdown complete.\n")
	} else {
		log.Fatalf("error during shutdown: %v", err)
	}
}

// runYouTubeStreams polls for live streams while none are attached, then seeds one
// chat feed per detected stream. Feeds stop when the stream context is canceled.
func runYouTubeStreams(ctx context.Context, detector *youtube.StreamDetector, api *youtube.APIClient, adapter *youtube.Adapter, connections *router.ConnectionTracker, emit func(*event.Event), channel string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if len(adapter.ActiveStreamIDs()) > 0 {
			continue
		}
		result := detector.Detect(ctx, channel)
		if !result.Success {
			if result.Message != "" {
				telemetry.Debugf("youtube: stream detection: %s", result.Message)
			}
			continue
		}
		for _, videoID := range result.VideoIDs {
			continuation, err := api.GetLiveChatContinuation(ctx, videoID)
			if err != nil {
				telemetry.Warnf("youtube: no chat feed for %s: %v", videoID, err)
				continue
			}
			adapter.AttachStream(videoID)
			feed := youtube.NewChatFeed(nil, videoID, continuation)
			go func(videoID string) {
				defer adapter.DetachStream(videoID)
				feed.Run(ctx, adapter.HandleChatItem)
			}(videoID)
			telemetry.Infof("youtube: attached live stream %s", videoID)
		}
		if len(result.VideoIDs) > 0 {
			connections.RecordConnection(event.PlatformYouTube)
			emit(&event.Event{
				Type:     event.TypeStreamOnline,
				Platform: event.PlatformYouTube,
				Data: event.Data{StreamOnline: &event.StreamStatus{
					StreamID:     result.VideoIDs[0],
					TimestampIso: event.IsoTimestamp(time.Now()),
				}},
			})
		}
	}
}

func mustBool(cfg *config.Config, section, key string, fallback bool) bool {
	v, err := cfg.Bool(section, key, fallback)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	return v
}

func mustInt(cfg *config.Config, section, key string, fallback int) int {
	v, err := cfg.Int(section, key, fallback)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	return v
}

func mustDuration(cfg *config.Config, section, key string, fallback time.Duration) time.Duration {
	v, err := cfg.Duration(section, key, fallback)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	return v
}
