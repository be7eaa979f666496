// Package twitch implements the Twitch platform adapter: an EventSub WebSocket
// session for events and chat, normalization into the platform-neutral schema, and
// a Helix-backed viewer count source.
package twitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nicklaw5/helix/v2"

	"github.com/stagehand-live/stagehand/internal/event"
	"github.com/stagehand-live/stagehand/internal/telemetry"
)

// EmitFunc receives every normalized event the adapter produces
type EmitFunc func(ev *event.Event)

// Adapter holds the live Twitch connection for one channel
type Adapter struct {
	client        *helix.Client
	channelName   string
	broadcasterID string
	userID        string
	subscriptions []RequiredSubscription
	emit          EmitFunc
	socket        *Socket
	bus           *event.Bus

	cancel context.CancelFunc
}

// NewAdapter wires an adapter for the given channel. The helix client must carry a
// user access token; EventSub WebSocket subscriptions are rejected otherwise.
func NewAdapter(client *helix.Client, bus *event.Bus, channelName string, subscriptions []RequiredSubscription, emit EmitFunc, opts SocketOptions) (*Adapter, error) {
	if client == nil {
		return nil, errors.New("twitch adapter requires a helix client")
	}
	if emit == nil {
		return nil, errors.New("twitch adapter requires an emit function")
	}
	broadcasterID, err := GetChannelUserId(client, channelName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve channel '%s': %w", channelName, err)
	}

	a := &Adapter{
		client:        client,
		channelName:   channelName,
		broadcasterID: broadcasterID,
		userID:        broadcasterID,
		subscriptions: subscriptions,
		emit:          emit,
		bus:           bus,
	}
	a.socket = NewSocket(bus, a.setupSubscriptions, a.handleNotification, opts)
	return a, nil
}

func (a *Adapter) Platform() event.Platform { return event.PlatformTwitch }

// BroadcasterID returns the resolved user id for the configured channel
func (a *Adapter) BroadcasterID() string { return a.broadcasterID }

// Connect opens the EventSub session; it returns once the session is welcomed and
// every required subscription is established
func (a *Adapter) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	return a.socket.Connect(ctx)
}

// Disconnect tears the session down
func (a *Adapter) Disconnect() {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}

// IsConnected reports whether the EventSub session is live
func (a *Adapter) IsConnected() bool {
	return a.socket.IsConnected()
}

// setupSubscriptions registers the required subscription set against a fresh
// session, returning the types that failed
func (a *Adapter) setupSubscriptions(ctx context.Context, sessionID string) []string {
	params := ConditionParams{
		BroadcasterUserID: a.broadcasterID,
		UserID:            a.userID,
	}
	failures := make([]string, 0)
	for _, sub := range a.subscriptions {
		condition := sub.GetCondition(params)
		r, err := a.client.CreateEventSubSubscription(&helix.EventSubSubscription{
			Type:      sub.Type,
			Version:   sub.Version,
			Condition: condition,
			Transport: helix.EventSubTransport{
				Method:    "websocket",
				SessionID: sessionID,
			},
		})
		if err != nil {
			telemetry.Errorf("twitch: failed to create '%s' subscription: %v", sub.Type, err)
			failures = append(failures, sub.Type)
			continue
		}
		if r.StatusCode != http.StatusAccepted {
			telemetry.Errorf("twitch: got response %d creating '%s' subscription: %s", r.StatusCode, sub.Type, r.ErrorMessage)
			failures = append(failures, sub.Type)
		}
	}
	return failures
}

// handleNotification translates one EventSub notification into a normalized event.
// messageTimestamp is the envelope's message_timestamp; events whose bodies lack a
// timestamp are backfilled from it so every normalized event carries a valid
// instant.
func (a *Adapter) handleNotification(subscriptionType, messageTimestamp string, data json.RawMessage) {
	var err error
	switch subscriptionType {
	case "channel.chat.message":
		err = a.handleChatMessage(data)
	case helix.EventSubTypeChannelFollow:
		err = a.handleFollow(data, messageTimestamp)
	case helix.EventSubTypeChannelSubscription:
		err = a.handleSubscribe(data, messageTimestamp)
	case helix.EventSubTypeChannelSubscriptionGift:
		err = a.handleSubscriptionGift(data, messageTimestamp)
	case helix.EventSubTypeChannelSubscriptionMessage:
		err = a.handleSubscriptionMessage(data, messageTimestamp)
	case helix.EventSubTypeChannelRaid:
		err = a.handleRaid(data, messageTimestamp)
	case "channel.bits.use":
		err = a.handleBitsUse(data, messageTimestamp)
	case helix.EventSubTypeStreamOnline:
		err = a.handleStreamOnline(data, messageTimestamp)
	case helix.EventSubTypeStreamOffline:
		err = a.handleStreamOffline(data, messageTimestamp)
	default:
		telemetry.Warnf("twitch: notification for unsupported subscription type '%s'", subscriptionType)
		return
	}
	if err != nil {
		telemetry.Errorf("twitch: failed to handle '%s' notification: %v", subscriptionType, err)
	}
}

func (a *Adapter) handleChatMessage(data json.RawMessage) error {
	var ev chatMessageEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("failed to unmarshal chat message event: %w", err)
	}

	badges := event.Badges{}
	for _, b := range ev.Badges {
		switch b.SetID {
		case "broadcaster":
			badges.Broadcaster = true
		case "moderator":
			badges.Moderator = true
		case "subscriber", "founder":
			badges.Subscriber = true
		}
	}
	emotes := make([]event.EmoteDetails, 0)
	for _, f := range ev.Message.Fragments {
		if f.Emote != nil {
			emotes = append(emotes, event.EmoteDetails{
				Name: f.Text,
				Url:  fmt.Sprintf("https://static-cdn.jtvnw.net/emoticons/v2/%s/default/dark/1.0", f.Emote.ID),
			})
		}
	}

	a.emit(&event.Event{
		Type:     event.TypeChatMessage,
		Platform: event.PlatformTwitch,
		Data: event.Data{ChatMessage: &event.ChatMessage{
			Username:     ev.ChatterUserLogin,
			UserID:       ev.ChatterUserID,
			DisplayName:  ev.ChatterUserName,
			MessageText:  ev.Message.Text,
			Badges:       badges,
			Color:        ev.Color,
			Emotes:       emotes,
			TimestampIso: event.IsoTimestamp(time.Now()),
			IsSelf:       ev.ChatterUserID == a.broadcasterID,
		}},
	})
	return nil
}

func (a *Adapter) handleFollow(data json.RawMessage, messageTimestamp string) error {
	var ev helix.EventSubChannelFollowEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("failed to unmarshal follow event: %w", err)
	}
	a.emit(&event.Event{
		Type:     event.TypeFollow,
		Platform: event.PlatformTwitch,
		Data: event.Data{Follow: &event.Follow{
			Username:     ev.UserName,
			UserID:       ev.UserID,
			TimestampIso: backfillTimestamp(ev.FollowedAt.Time, messageTimestamp),
		}},
	})
	return nil
}

// handleSubscribe drops gift subscriptions: channel.subscription.gift already
// conveys them, and forwarding both would double-notify
func (a *Adapter) handleSubscribe(data json.RawMessage, messageTimestamp string) error {
	var ev helix.EventSubChannelSubscribeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("failed to unmarshal subscribe event: %w", err)
	}
	if ev.IsGift {
		telemetry.Debugf("twitch: suppressing gifted channel.subscribe for %s", ev.UserName)
		return nil
	}
	a.emit(&event.Event{
		Type:     event.TypePaypiggy,
		Platform: event.PlatformTwitch,
		Data: event.Data{Paypiggy: &event.Paypiggy{
			Username:     ev.UserName,
			UserID:       ev.UserID,
			Tier:         ev.Tier,
			TimestampIso: backfillTimestamp(time.Time{}, messageTimestamp),
		}},
	})
	return nil
}

func (a *Adapter) handleSubscriptionGift(data json.RawMessage, messageTimestamp string) error {
	var ev helix.EventSubChannelSubscriptionGiftEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("failed to unmarshal subscription gift event: %w", err)
	}
	a.emit(&event.Event{
		Type:     event.TypeGiftPaypiggy,
		Platform: event.PlatformTwitch,
		Data: event.Data{GiftPaypiggy: &event.GiftPaypiggy{
			Username:        ev.UserName,
			UserID:          ev.UserID,
			Tier:            ev.Tier,
			GiftCount:       ev.Total,
			CumulativeTotal: ev.CumulativeTotal,
			IsAnonymous:     ev.IsAnonymous,
			TimestampIso:    backfillTimestamp(time.Time{}, messageTimestamp),
		}},
	})
	return nil
}

func (a *Adapter) handleSubscriptionMessage(data json.RawMessage, messageTimestamp string) error {
	var ev helix.EventSubChannelSubscriptionMessageEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("failed to unmarshal subscription message event: %w", err)
	}
	a.emit(&event.Event{
		Type:     event.TypePaypiggy,
		Platform: event.PlatformTwitch,
		Data: event.Data{Paypiggy: &event.Paypiggy{
			Username:     ev.UserName,
			UserID:       ev.UserID,
			Tier:         ev.Tier,
			Months:       ev.CumulativeMonths,
			Message:      ev.Message.Text,
			TimestampIso: backfillTimestamp(time.Time{}, messageTimestamp),
		}},
	})
	return nil
}

func (a *Adapter) handleRaid(data json.RawMessage, messageTimestamp string) error {
	var ev helix.EventSubChannelRaidEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("failed to unmarshal raid event: %w", err)
	}
	a.emit(&event.Event{
		Type:     event.TypeRaid,
		Platform: event.PlatformTwitch,
		Data: event.Data{Raid: &event.Raid{
			Username:     ev.FromBroadcasterUserName,
			UserID:       ev.FromBroadcasterUserID,
			ViewerCount:  ev.Viewers,
			TimestampIso: backfillTimestamp(time.Time{}, messageTimestamp),
		}},
	})
	return nil
}

// handleBitsUse translates a bits event into a normalized gift with currency
// "bits". The gift type is "mixed bits" when the message carries more than one
// distinct cheermote, and the message text is the concatenation of the
// non-cheermote fragments.
func (a *Adapter) handleBitsUse(data json.RawMessage, messageTimestamp string) error {
	var ev bitsUseEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("failed to unmarshal bits event: %w", err)
	}

	giftType := "bits"
	var textParts []string
	cheermotes := make([]event.CheermoteInfo, 0)
	seenPrefixes := make(map[string]bool)
	if ev.Message != nil {
		for _, f := range ev.Message.Fragments {
			if f.Cheermote != nil {
				cheermotes = append(cheermotes, event.CheermoteInfo{
					Prefix: f.Cheermote.Prefix,
					Bits:   f.Cheermote.Bits,
				})
				seenPrefixes[f.Cheermote.Prefix] = true
				continue
			}
			if f.Type == "text" {
				textParts = append(textParts, f.Text)
			}
		}
	}
	if len(seenPrefixes) > 1 {
		giftType = "mixed bits"
	}

	amount, isErr := event.CoerceAmount(float64(ev.Bits))
	ts := ev.Timestamp
	if ts == "" {
		ts = messageTimestamp
	}
	if ts == "" {
		ts = event.IsoTimestamp(time.Now())
	}
	a.emit(&event.Event{
		Type:     event.TypeGift,
		Platform: event.PlatformTwitch,
		Data: event.Data{Gift: &event.Gift{
			Username:      ev.UserName,
			UserID:        ev.UserID,
			GiftType:      giftType,
			GiftCount:     1,
			Amount:        amount,
			Currency:      "bits",
			Message:       strings.TrimSpace(strings.Join(textParts, "")),
			CheermoteInfo: cheermotes,
			ID:            ev.ID,
			RepeatCount:   1,
			IsError:       isErr,
			TimestampIso:  ts,
		}},
	})
	return nil
}

func (a *Adapter) handleStreamOnline(data json.RawMessage, messageTimestamp string) error {
	var ev helix.EventSubStreamOnlineEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("failed to unmarshal stream online event: %w", err)
	}
	a.emit(&event.Event{
		Type:     event.TypeStreamOnline,
		Platform: event.PlatformTwitch,
		Data: event.Data{StreamOnline: &event.StreamStatus{
			StreamID:     ev.ID,
			TimestampIso: backfillTimestamp(ev.StartedAt.Time, messageTimestamp),
		}},
	})
	return nil
}

func (a *Adapter) handleStreamOffline(data json.RawMessage, messageTimestamp string) error {
	var ev helix.EventSubStreamOfflineEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("failed to unmarshal stream offline event: %w", err)
	}
	a.emit(&event.Event{
		Type:     event.TypeStreamOffline,
		Platform: event.PlatformTwitch,
		Data: event.Data{StreamOffline: &event.StreamStatus{
			TimestampIso: backfillTimestamp(time.Time{}, messageTimestamp),
		}},
	})
	return nil
}

// GetViewerCount queries Helix for the channel's live viewer count
func (a *Adapter) GetViewerCount(ctx context.Context) (float64, error) {
	r, err := a.client.GetStreams(&helix.StreamsParams{
		UserIDs: []string{a.broadcasterID},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get stream for channel '%s': %w", a.channelName, err)
	}
	if r.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("got response %d from get streams request: %s", r.StatusCode, r.ErrorMessage)
	}
	if len(r.Data.Streams) == 0 {
		return 0, nil
	}
	return float64(r.Data.Streams[0].ViewerCount), nil
}

// backfillTimestamp prefers the event body's own timestamp, falling back to the
// notification envelope's message_timestamp, then to now
func backfillTimestamp(bodyTime time.Time, messageTimestamp string) string {
	if !bodyTime.IsZero() {
		return event.IsoTimestamp(bodyTime)
	}
	if messageTimestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, messageTimestamp); err == nil {
			return event.IsoTimestamp(t)
		}
	}
	return event.IsoTimestamp(time.Now())
}
