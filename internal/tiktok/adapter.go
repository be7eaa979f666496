package tiktok

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stagehand-live/stagehand/internal/event"
	"github.com/stagehand-live/stagehand/internal/telemetry"
)

// DefaultErrorDedupWindow bounds how often a single underlying connection failure
// may trigger a retry: the webcast ERROR and control:ERROR classes can both fire
// for one failure, and only the first within the window acts
const DefaultErrorDedupWindow = 2 * time.Second

// EmitFunc receives every normalized event the adapter produces
type EmitFunc func(ev *event.Event)

// AdapterOptions configures the TikTok adapter's collaborators
type AdapterOptions struct {
	// Username is the broadcaster's own uniqueId, used to drop self-messages
	Username string
	// RetryFunc is invoked (at most once per failure window) when the connection
	// reports an error that warrants a reconnect
	RetryFunc func(reason string)
	// ConnectionIssueFunc is invoked when the webcast connection drops
	ConnectionIssueFunc func(reason string)
	// ErrorDedupWindow overrides DefaultErrorDedupWindow when positive
	ErrorDedupWindow time.Duration
}

type listenerHandle struct {
	eventName string
	id        int
}

// Adapter bridges a WebCast client to the normalized event schema
type Adapter struct {
	client Client
	emit   EmitFunc
	opts   AdapterOptions

	mu                  sync.Mutex
	listenersConfigured bool
	handles             []listenerHandle
	connectionTimeMs    int64
	lastErrorAt         time.Time
	lastViewerCount     float64
	sawViewerCount      bool
}

func NewAdapter(client Client, emit EmitFunc, opts AdapterOptions) (*Adapter, error) {
	if client == nil {
		return nil, fmt.Errorf("tiktok adapter requires a webcast client")
	}
	if emit == nil {
		return nil, fmt.Errorf("tiktok adapter requires an emit function")
	}
	if opts.ErrorDedupWindow <= 0 {
		opts.ErrorDedupWindow = DefaultErrorDedupWindow
	}
	return &Adapter{
		client: client,
		emit:   emit,
		opts:   opts,
	}, nil
}

func (a *Adapter) Platform() event.Platform { return event.PlatformTikTok }

// Connect installs the listener set (if not already configured) and opens the
// webcast connection
func (a *Adapter) Connect(ctx context.Context) error {
	if err := a.setupListeners(); err != nil {
		return err
	}
	return a.client.Connect(ctx)
}

// Disconnect tears down every installed listener and closes the connection.
// Per-listener removal failures are reported but never abort the teardown.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	handles := a.handles
	a.handles = nil
	a.listenersConfigured = false
	a.mu.Unlock()

	removalFailures := 0
	for _, h := range handles {
		if err := a.client.RemoveListener(h.eventName, h.id); err != nil {
			removalFailures++
			telemetry.Warnf("tiktok: failed to remove '%s' listener: %v", h.eventName, err)
		}
	}
	if removalFailures > 0 {
		telemetry.Warnf("tiktok: %d of %d listeners failed to remove during teardown", removalFailures, len(handles))
	}
	return a.client.Disconnect()
}

// GetViewerCount returns the most recent ROOM_USER count, forwarded verbatim
func (a *Adapter) GetViewerCount(ctx context.Context) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.sawViewerCount {
		return 0, fmt.Errorf("no viewer count received yet")
	}
	return a.lastViewerCount, nil
}

// setupListeners registers the full listener set exactly once per connection
// generation; a disconnect resets the flag so a reconnect reattaches
func (a *Adapter) setupListeners() error {
	a.mu.Lock()
	if a.listenersConfigured {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	bindings := []struct {
		eventName string
		fn        ListenerFunc
	}{
		{EventChat, a.handleChat},
		{EventGift, a.handleGift},
		{EventFollow, a.handleFollow},
		{EventSocial, a.handleSocial},
		{EventRoomUser, a.handleRoomUser},
		{EventEnvelope, a.handleEnvelope},
		{EventSubscribe, a.handleSubscribe},
		{EventSuperFan, a.handleSuperFan},
		{EventError, func(data json.RawMessage) { a.handleConnectionError("webcast", data) }},
		{EventDisconnect, a.handleDisconnect},
		{EventStreamEnd, a.handleStreamEnd},
		{EventControlConnected, a.handleControlConnected},
		{EventControlDisconnected, a.handleControlDisconnected},
		{EventControlError, func(data json.RawMessage) { a.handleConnectionError("control", data) }},
		{EventRawData, a.handleRawData},
	}

	handles := make([]listenerHandle, 0, len(bindings))
	for _, b := range bindings {
		id, err := a.client.AddListener(b.eventName, b.fn)
		if err != nil {
			for _, h := range handles {
				if rmErr := a.client.RemoveListener(h.eventName, h.id); rmErr != nil {
					telemetry.Warnf("tiktok: failed to remove '%s' listener while unwinding setup: %v", h.eventName, rmErr)
				}
			}
			return fmt.Errorf("failed to register '%s' listener: %w", b.eventName, err)
		}
		handles = append(handles, listenerHandle{b.eventName, id})
	}

	a.mu.Lock()
	a.handles = handles
	a.listenersConfigured = true
	a.mu.Unlock()
	return nil
}

type webcastUser struct {
	UserID   json.Number `json:"userId"`
	UniqueID string      `json:"uniqueId"`
	Nickname string      `json:"nickname"`
}

func (u webcastUser) displayName() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	return u.UniqueID
}

type chatPayload struct {
	webcastUser
	Comment      string `json:"comment"`
	CreateTime   int64  `json:"createTime"`
	IsModerator  bool   `json:"isModerator"`
	IsSubscriber bool   `json:"isSubscriber"`
}

type giftPayload struct {
	webcastUser
	GiftID       int    `json:"giftId"`
	GiftName     string `json:"giftName"`
	GiftType     int    `json:"giftType"`
	DiamondCount int    `json:"diamondCount"`
	RepeatCount  int    `json:"repeatCount"`
	RepeatEnd    bool   `json:"repeatEnd"`
	Timestamp    int64  `json:"timestamp"`
}

type envelopePayload struct {
	webcastUser
	EnvelopeID string `json:"envelopeId"`
	Coins      int    `json:"coins"`
	Timestamp  int64  `json:"timestamp"`
}

type subscribePayload struct {
	webcastUser
	SubMonth  int   `json:"subMonth"`
	Timestamp int64 `json:"timestamp"`
}

type socialPayload struct {
	webcastUser
	DisplayType string `json:"displayType"`
	Label       string `json:"label"`
	Timestamp   int64  `json:"timestamp"`
}

type roomUserPayload struct {
	ViewerCount float64 `json:"viewerCount"`
}

// handleChat applies the chat filter chain: non-empty comment, historical drop,
// normalize, self-detection, whitespace drop. Each step short-circuits.
func (a *Adapter) handleChat(data json.RawMessage) {
	var p chatPayload
	if err := json.Unmarshal(data, &p); err != nil {
		telemetry.Warnf("tiktok: discarding malformed chat payload: %v", err)
		return
	}
	if p.Comment == "" {
		return
	}

	eventTs := epochToMillis(p.CreateTime)
	if eventTs == 0 {
		eventTs = time.Now().UnixMilli()
	}
	a.mu.Lock()
	connectionTime := a.connectionTimeMs
	a.mu.Unlock()
	if connectionTime > 0 && eventTs < connectionTime {
		telemetry.Debugf("tiktok: dropping historical chat message from %s", p.UniqueID)
		return
	}

	msg := &event.ChatMessage{
		Username:    p.UniqueID,
		UserID:      p.UserID.String(),
		DisplayName: p.displayName(),
		MessageText: p.Comment,
		Badges: event.Badges{
			Moderator:  p.IsModerator,
			Subscriber: p.IsSubscriber,
		},
		TimestampIso: event.IsoFromEpoch(eventTs),
	}

	if a.isSelf(p.UniqueID) {
		return
	}
	if strings.TrimSpace(msg.MessageText) == "" {
		return
	}

	a.emit(&event.Event{
		Type:     event.TypeChatMessage,
		Platform: event.PlatformTikTok,
		Data:     event.Data{ChatMessage: msg},
	})
}

// handleGift normalizes gift events. Streakable gifts (giftType 1) repeat while
// the streak runs and finalize with repeatEnd, so only the final event emits.
func (a *Adapter) handleGift(data json.RawMessage) {
	var p giftPayload
	if err := json.Unmarshal(data, &p); err != nil {
		telemetry.Warnf("tiktok: discarding malformed gift payload: %v", err)
		return
	}
	if p.GiftType == 1 && !p.RepeatEnd {
		return
	}
	repeatCount := p.RepeatCount
	if repeatCount < 1 {
		repeatCount = 1
	}
	amount, isErr := event.CoerceAmount(float64(p.DiamondCount) * float64(repeatCount))
	a.emit(&event.Event{
		Type:     event.TypeGift,
		Platform: event.PlatformTikTok,
		Data: event.Data{Gift: &event.Gift{
			Username:     p.UniqueID,
			UserID:       p.UserID.String(),
			GiftType:     p.GiftName,
			GiftCount:    repeatCount,
			Amount:       amount,
			Currency:     "coins",
			ID:           fmt.Sprintf("%d", p.GiftID),
			RepeatCount:  repeatCount,
			IsError:      isErr,
			TimestampIso: isoFromEpochOrNow(p.Timestamp),
		}},
	})
}

func (a *Adapter) handleFollow(data json.RawMessage) {
	var p socialPayload
	if err := json.Unmarshal(data, &p); err != nil {
		telemetry.Warnf("tiktok: discarding malformed follow payload: %v", err)
		return
	}
	a.emit(&event.Event{
		Type:     event.TypeFollow,
		Platform: event.PlatformTikTok,
		Data: event.Data{Follow: &event.Follow{
			Username:     p.UniqueID,
			UserID:       p.UserID.String(),
			TimestampIso: isoFromEpochOrNow(p.Timestamp),
		}},
	})
}

// handleSocial covers the catch-all social class: follow-type socials normalize to
// follow events, shares are logged only
func (a *Adapter) handleSocial(data json.RawMessage) {
	var p socialPayload
	if err := json.Unmarshal(data, &p); err != nil {
		telemetry.Warnf("tiktok: discarding malformed social payload: %v", err)
		return
	}
	if strings.Contains(p.DisplayType, "follow") {
		a.handleFollow(data)
		return
	}
	if strings.Contains(p.DisplayType, "share") {
		telemetry.Debugf("tiktok: %s shared the stream", p.UniqueID)
		return
	}
	telemetry.Debugf("tiktok: ignoring social event with displayType '%s'", p.DisplayType)
}

func (a *Adapter) handleRoomUser(data json.RawMessage) {
	var p roomUserPayload
	if err := json.Unmarshal(data, &p); err != nil {
		telemetry.Warnf("tiktok: discarding malformed room user payload: %v", err)
		return
	}
	a.mu.Lock()
	a.lastViewerCount = p.ViewerCount
	a.sawViewerCount = true
	a.mu.Unlock()
}

func (a *Adapter) handleEnvelope(data json.RawMessage) {
	var p envelopePayload
	if err := json.Unmarshal(data, &p); err != nil {
		telemetry.Warnf("tiktok: discarding malformed envelope payload: %v", err)
		return
	}
	amount, isErr := event.CoerceAmount(float64(p.Coins))
	a.emit(&event.Event{
		Type:     event.TypeEnvelope,
		Platform: event.PlatformTikTok,
		Data: event.Data{Envelope: &event.Envelope{
			Username:     p.UniqueID,
			UserID:       p.UserID.String(),
			GiftType:     "Treasure chest",
			GiftCount:    1,
			Amount:       amount,
			Currency:     "coins",
			ID:           p.EnvelopeID,
			IsError:      isErr,
			TimestampIso: isoFromEpochOrNow(p.Timestamp),
		}},
	})
}

func (a *Adapter) handleSubscribe(data json.RawMessage) {
	a.emitPaypiggy(data, "subscribe")
}

func (a *Adapter) handleSuperFan(data json.RawMessage) {
	a.emitPaypiggy(data, "super fan")
}

func (a *Adapter) emitPaypiggy(data json.RawMessage, kind string) {
	var p subscribePayload
	if err := json.Unmarshal(data, &p); err != nil {
		telemetry.Warnf("tiktok: discarding malformed %s payload: %v", kind, err)
		return
	}
	a.emit(&event.Event{
		Type:     event.TypePaypiggy,
		Platform: event.PlatformTikTok,
		Data: event.Data{Paypiggy: &event.Paypiggy{
			Username:     p.UniqueID,
			UserID:       p.UserID.String(),
			Months:       p.SubMonth,
			TimestampIso: isoFromEpochOrNow(p.Timestamp),
		}},
	})
}

// handleConnectionError deduplicates the webcast ERROR and control:ERROR classes:
// one underlying failure can raise both, and only the first within the dedup
// window triggers a retry
func (a *Adapter) handleConnectionError(source string, data json.RawMessage) {
	now := time.Now()
	a.mu.Lock()
	if now.Sub(a.lastErrorAt) < a.opts.ErrorDedupWindow {
		a.mu.Unlock()
		telemetry.Debugf("tiktok: ignoring duplicate %s error within dedup window", source)
		return
	}
	a.lastErrorAt = now
	a.mu.Unlock()

	reason := fmt.Sprintf("%s error", source)
	if len(data) > 0 {
		reason = fmt.Sprintf("%s error: %s", source, string(data))
	}
	telemetry.Errorf("tiktok: connection error (%s)", reason)
	if a.opts.RetryFunc != nil {
		a.opts.RetryFunc(reason)
	}
}

// handleDisconnect resets the listener-configured flag so a reconnect reattaches,
// then raises the connection issue
func (a *Adapter) handleDisconnect(data json.RawMessage) {
	a.mu.Lock()
	a.listenersConfigured = false
	a.connectionTimeMs = 0
	a.mu.Unlock()
	telemetry.Warnf("tiktok: webcast connection dropped")
	if a.opts.ConnectionIssueFunc != nil {
		a.opts.ConnectionIssueFunc("webcast disconnect")
	}
}

// handleStreamEnd forwards stream end independently of DISCONNECT; both can arrive
// for the same underlying drop (TikTok code 4404) and downstream deduplicates
func (a *Adapter) handleStreamEnd(data json.RawMessage) {
	a.emit(&event.Event{
		Type:     event.TypeStreamOffline,
		Platform: event.PlatformTikTok,
		Data: event.Data{StreamOffline: &event.StreamStatus{
			TimestampIso: event.IsoTimestamp(time.Now()),
		}},
	})
}

func (a *Adapter) handleControlConnected(data json.RawMessage) {
	a.mu.Lock()
	a.connectionTimeMs = time.Now().UnixMilli()
	a.mu.Unlock()
	telemetry.Infof("tiktok: webcast connection established")
	a.emit(&event.Event{
		Type:     event.TypeStreamOnline,
		Platform: event.PlatformTikTok,
		Data: event.Data{StreamOnline: &event.StreamStatus{
			TimestampIso: event.IsoTimestamp(time.Now()),
		}},
	})
}

func (a *Adapter) handleControlDisconnected(data json.RawMessage) {
	telemetry.Debugf("tiktok: control channel reported disconnect")
}

func (a *Adapter) handleRawData(data json.RawMessage) {
	telemetry.Debugf("tiktok: raw frame: %d bytes", len(data))
}

func (a *Adapter) isSelf(uniqueID string) bool {
	return a.opts.Username != "" && strings.EqualFold(uniqueID, a.opts.Username)
}

// epochToMillis normalizes an epoch of ambiguous precision to milliseconds, using
// the same sub-1e12 seconds heuristic as event.IsoFromEpoch
func epochToMillis(epoch int64) int64 {
	if epoch > 0 && epoch < 1_000_000_000_000 {
		return epoch * 1000
	}
	return epoch
}

func isoFromEpochOrNow(epoch int64) string {
	if epoch > 0 {
		return event.IsoFromEpoch(epoch)
	}
	return event.IsoTimestamp(time.Now())
}
