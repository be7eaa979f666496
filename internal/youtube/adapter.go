package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/stagehand-live/stagehand/internal/event"
	"github.com/stagehand-live/stagehand/internal/telemetry"
)

// ChatItem is one entry from the live chat feed. Type carries the exact internal
// name YouTube tags the item with; the "Renderer" suffix is stripped at the feed
// boundary and never appears here.
type ChatItem struct {
	Type      string
	VideoID   string
	Timestamp int64 // epoch ms; 0 when the feed omitted it
	Payload   json.RawMessage
}

// StreamCountFunc returns the live viewer count for one video ID
type StreamCountFunc func(ctx context.Context, videoID string) (float64, error)

// EmitFunc receives every normalized event the adapter produces
type EmitFunc func(ev *event.Event)

// Adapter normalizes YouTube live chat items and aggregates viewer counts across
// all of the channel's concurrent streams
type Adapter struct {
	emit         EmitFunc
	countStream  StreamCountFunc
	ownChannelID string

	dispatch map[string]func(item ChatItem) error

	mu              sync.Mutex
	connectionTimes map[string]int64 // videoID -> epoch ms
	activeStreamIDs []string
	unknownTypes    map[string]int
}

func NewAdapter(emit EmitFunc, countStream StreamCountFunc, ownChannelID string) (*Adapter, error) {
	if emit == nil {
		return nil, fmt.Errorf("youtube adapter requires an emit function")
	}
	a := &Adapter{
		emit:            emit,
		countStream:     countStream,
		ownChannelID:    ownChannelID,
		connectionTimes: make(map[string]int64),
		unknownTypes:    make(map[string]int),
	}
	a.dispatch = map[string]func(item ChatItem) error{
		"LiveChatTextMessage":                         a.handleTextMessage,
		"LiveChatPaidMessage":                         a.handlePaidMessage,
		"LiveChatPaidSticker":                         a.handlePaidSticker,
		"LiveChatMembershipItem":                      a.handleMembershipItem,
		"LiveChatSponsorshipsGiftPurchaseAnnouncement": a.handleGiftPurchase,
	}
	return a, nil
}

func (a *Adapter) Platform() event.Platform { return event.PlatformYouTube }

// AttachStream records a stream as active and stamps its connection time, the
// baseline for the historical-message filter
func (a *Adapter) AttachStream(videoID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range a.activeStreamIDs {
		if id == videoID {
			return
		}
	}
	a.activeStreamIDs = append(a.activeStreamIDs, videoID)
	a.connectionTimes[videoID] = time.Now().UnixMilli()
}

// DetachStream forgets a stream that has ended
func (a *Adapter) DetachStream(videoID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.activeStreamIDs[:0]
	for _, id := range a.activeStreamIDs {
		if id != videoID {
			kept = append(kept, id)
		}
	}
	a.activeStreamIDs = kept
	delete(a.connectionTimes, videoID)
}

// ActiveStreamIDs returns the streams currently being consumed
func (a *Adapter) ActiveStreamIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.activeStreamIDs))
	copy(out, a.activeStreamIDs)
	return out
}

// HandleChatItem routes one feed item through the historical filter and the
// type dispatch table. Unknown types land in the unknown-event sink.
func (a *Adapter) HandleChatItem(item ChatItem) {
	if a.isHistorical(item) {
		telemetry.Debugf("youtube: dropping historical chat item for video %s", item.VideoID)
		return
	}
	handler, ok := a.dispatch[item.Type]
	if !ok {
		a.mu.Lock()
		a.unknownTypes[item.Type]++
		seen := a.unknownTypes[item.Type]
		a.mu.Unlock()
		if seen == 1 {
			telemetry.Warnf("youtube: unknown chat item type '%s'", item.Type)
		}
		return
	}
	if err := handler(item); err != nil {
		telemetry.Errorf("youtube: failed to handle '%s' item: %v", item.Type, err)
	}
}

// isHistorical drops items timestamped at or before the recorded connection time
// for their stream
func (a *Adapter) isHistorical(item ChatItem) bool {
	if item.VideoID == "" {
		return false
	}
	a.mu.Lock()
	connTime, ok := a.connectionTimes[item.VideoID]
	a.mu.Unlock()
	if !ok || connTime <= 0 {
		return false
	}
	msgTime := item.Timestamp
	if msgTime == 0 {
		msgTime = time.Now().UnixMilli()
	}
	return msgTime <= connTime
}

type textMessagePayload struct {
	ID              string `json:"id"`
	AuthorName      string `json:"authorName"`
	AuthorChannelID string `json:"authorChannelId"`
	Message         string `json:"message"`
	IsModerator     bool   `json:"isModerator"`
	IsOwner         bool   `json:"isOwner"`
	IsSponsor       bool   `json:"isSponsor"`
}

type paidMessagePayload struct {
	ID              string `json:"id"`
	AuthorName      string `json:"authorName"`
	AuthorChannelID string `json:"authorChannelId"`
	Message         string `json:"message"`
	AmountMicros    int64  `json:"amountMicros"`
	Currency        string `json:"currency"`
}

type membershipPayload struct {
	ID              string `json:"id"`
	AuthorName      string `json:"authorName"`
	AuthorChannelID string `json:"authorChannelId"`
	MemberLevelName string `json:"memberLevelName"`
	MemberMonths    int    `json:"memberMonths"`
	Message         string `json:"message"`
}

type giftPurchasePayload struct {
	ID              string `json:"id"`
	AuthorName      string `json:"authorName"`
	AuthorChannelID string `json:"authorChannelId"`
	MemberLevelName string `json:"memberLevelName"`
	GiftCount       int    `json:"giftCount"`
}

func (a *Adapter) handleTextMessage(item ChatItem) error {
	var p textMessagePayload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return fmt.Errorf("failed to unmarshal text message: %w", err)
	}
	a.emit(&event.Event{
		Type:     event.TypeChatMessage,
		Platform: event.PlatformYouTube,
		Data: event.Data{ChatMessage: &event.ChatMessage{
			Username:    p.AuthorName,
			UserID:      p.AuthorChannelID,
			DisplayName: p.AuthorName,
			MessageText: p.Message,
			Badges: event.Badges{
				Broadcaster: p.IsOwner,
				Moderator:   p.IsModerator,
				Subscriber:  p.IsSponsor,
			},
			TimestampIso: itemTimestamp(item),
			IsSelf:       a.ownChannelID != "" && p.AuthorChannelID == a.ownChannelID,
		}},
	})
	return nil
}

func (a *Adapter) handlePaidMessage(item ChatItem) error {
	return a.emitPaid(item, "Super Chat")
}

func (a *Adapter) handlePaidSticker(item ChatItem) error {
	return a.emitPaid(item, "Super Sticker")
}

func (a *Adapter) emitPaid(item ChatItem, giftType string) error {
	var p paidMessagePayload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return fmt.Errorf("failed to unmarshal paid item: %w", err)
	}
	amount, isErr := event.CoerceAmount(float64(p.AmountMicros) / 1e6)
	a.emit(&event.Event{
		Type:     event.TypeGift,
		Platform: event.PlatformYouTube,
		Data: event.Data{Gift: &event.Gift{
			Username:     p.AuthorName,
			UserID:       p.AuthorChannelID,
			GiftType:     giftType,
			GiftCount:    1,
			Amount:       amount,
			Currency:     p.Currency,
			Message:      p.Message,
			ID:           p.ID,
			RepeatCount:  1,
			IsError:      isErr,
			TimestampIso: itemTimestamp(item),
		}},
	})
	return nil
}

func (a *Adapter) handleMembershipItem(item ChatItem) error {
	var p membershipPayload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return fmt.Errorf("failed to unmarshal membership item: %w", err)
	}
	a.emit(&event.Event{
		Type:     event.TypePaypiggy,
		Platform: event.PlatformYouTube,
		Data: event.Data{Paypiggy: &event.Paypiggy{
			Username:        p.AuthorName,
			UserID:          p.AuthorChannelID,
			MembershipLevel: p.MemberLevelName,
			Months:          p.MemberMonths,
			Message:         p.Message,
			TimestampIso:    itemTimestamp(item),
		}},
	})
	return nil
}

func (a *Adapter) handleGiftPurchase(item ChatItem) error {
	var p giftPurchasePayload
	if err := json.Unmarshal(item.Payload, &p); err != nil {
		return fmt.Errorf("failed to unmarshal gift purchase announcement: %w", err)
	}
	a.emit(&event.Event{
		Type:     event.TypeGiftPaypiggy,
		Platform: event.PlatformYouTube,
		Data: event.Data{GiftPaypiggy: &event.GiftPaypiggy{
			Username:     p.AuthorName,
			UserID:       p.AuthorChannelID,
			Tier:         p.MemberLevelName,
			GiftCount:    p.GiftCount,
			TimestampIso: itemTimestamp(item),
		}},
	})
	return nil
}

// GetViewerCount sums per-stream counts across every active stream. A failing
// stream is skipped so one bad lookup cannot zero the aggregate.
func (a *Adapter) GetViewerCount(ctx context.Context) (float64, error) {
	if a.countStream == nil {
		return 0, fmt.Errorf("no stream count source configured")
	}
	streamIDs := a.ActiveStreamIDs()
	total := float64(0)
	for _, id := range streamIDs {
		count, err := a.countStream(ctx, id)
		if err != nil {
			telemetry.Debugf("youtube: skipping viewer count for stream %s: %v", id, err)
			continue
		}
		total += count
	}
	return total, nil
}

// UnknownTypeCounts exposes the unknown-event sink tallies
func (a *Adapter) UnknownTypeCounts() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(a.unknownTypes))
	for k, v := range a.unknownTypes {
		out[k] = v
	}
	return out
}

func itemTimestamp(item ChatItem) string {
	if item.Timestamp > 0 {
		return event.IsoFromEpoch(item.Timestamp)
	}
	return event.IsoTimestamp(time.Now())
}
