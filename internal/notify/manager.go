// Package notify builds notification copy and decides which notifications reach
// the display queue: validation, per-user suppression, donation spam detection, and
// priority assignment all live here.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stagehand-live/stagehand/internal/config"
	"github.com/stagehand-live/stagehand/internal/display"
	"github.com/stagehand-live/stagehand/internal/event"
	"github.com/stagehand-live/stagehand/internal/telemetry"
)

// Result is the outcome of a HandleNotification call. Validation failures are
// results, not errors; only configuration faults surface as errors.
type Result struct {
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Details  string `json:"details,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// ItemAdder is the slice of the display queue the manager needs
type ItemAdder interface {
	AddItem(item *display.Item) error
}

// GoalTracker records monetization totals onto OBS goal sources
type GoalTracker interface {
	RecordDonation(platform event.Platform, amount float64, currency string)
}

// UserTracker observes which users have produced notifications; used by the
// greeting system
type UserTracker interface {
	RecordActivity(platform event.Platform, userID, username string)
}

// Sources names the OBS sources and scenes that notification items write to
type Sources struct {
	NotificationSource string
	NotificationScene  string
}

// Params carries the manager's dependencies. Queue, Bus, Config, Sources, and
// Goals are required; the rest are optional.
type Params struct {
	Queue   ItemAdder
	Bus     *event.Bus
	Config  *config.Config
	Sources Sources
	Goals   GoalTracker

	SpamDetector DonationSpamDetector
	Users        UserTracker
	Suppression  SuppressionOptions
}

// Manager is the notification manager: every monetization, follow, and raid event
// flows through HandleNotification on its way to the display queue.
type Manager struct {
	queue    ItemAdder
	bus      *event.Bus
	cfg      *config.Config
	sources  Sources
	goals    GoalTracker
	spam     DonationSpamDetector
	users    UserTracker
	suppress *suppressor
	now      func() time.Time
}

func NewManager(p Params) (*Manager, error) {
	if p.Queue == nil {
		return nil, errors.New("notification manager requires a display queue")
	}
	if p.Bus == nil {
		return nil, errors.New("notification manager requires an event bus")
	}
	if p.Config == nil {
		return nil, errors.New("notification manager requires config")
	}
	if p.Sources.NotificationSource == "" {
		return nil, errors.New("notification manager requires a notification source name")
	}
	if p.Goals == nil {
		return nil, errors.New("notification manager requires a goal tracker")
	}
	if p.Suppression.Window <= 0 {
		p.Suppression = DefaultSuppressionOptions()
	}
	return &Manager{
		queue:    p.Queue,
		bus:      p.Bus,
		cfg:      p.Config,
		sources:  p.Sources,
		goals:    p.Goals,
		spam:     p.SpamDetector,
		users:    p.Users,
		suppress: newSuppressor(p.Suppression),
		now:      time.Now,
	}, nil
}

// sweepInterval paces the donation-burst sweep; short enough that a quiet burst
// flushes promptly after its coalescing window expires
var sweepInterval = time.Second

// burstSweeper is implemented by spam detectors that flush quiet bursts
type burstSweeper interface {
	Sweep()
}

// StartCleanup launches the periodic suppression-map cleanup and, when the spam
// detector accumulates bursts, its sweep loop, until ctx is canceled
func (m *Manager) StartCleanup(ctx context.Context) {
	go m.suppress.runCleanup(ctx)
	if sweeper, ok := m.spam.(burstSweeper); ok {
		go m.runSweep(ctx, sweeper)
	}
}

func (m *Manager) runSweep(ctx context.Context, sweeper burstSweeper) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweeper.Sweep()
		}
	}
}

// notificationTypes maps accepted notification type names to normalized event types
var notificationTypes = map[string]event.Type{
	"platform:gift":         event.TypeGift,
	"platform:envelope":     event.TypeEnvelope,
	"platform:paypiggy":     event.TypePaypiggy,
	"platform:giftpaypiggy": event.TypeGiftPaypiggy,
	"platform:follow":       event.TypeFollow,
	"platform:raid":         event.TypeRaid,
}

// legacyAliases are the bare type names the old schema used; they are rejected with
// a pointer at the replacement rather than silently accepted
var legacyAliases = map[string]string{
	"subscription": "platform:paypiggy",
	"gift":         "platform:gift",
	"follow":       "platform:follow",
	"raid":         "platform:raid",
	"membership":   "platform:paypiggy",
}

// gatingKey returns the config flag that enables each notification type
func gatingKey(t event.Type) string {
	switch t {
	case event.TypeGift, event.TypeEnvelope:
		return "giftsEnabled"
	case event.TypePaypiggy, event.TypeGiftPaypiggy:
		return "paypiggiesEnabled"
	case event.TypeFollow:
		return "followsEnabled"
	case event.TypeRaid:
		return "raidsEnabled"
	}
	return ""
}

// HandleNotification validates, normalizes, suppression-checks, and enqueues one
// notification. The returned error is non-nil only for configuration faults, which
// callers must propagate; everything else is reported through the Result.
func (m *Manager) HandleNotification(typ string, platform string, data *event.Data) (Result, error) {
	if data == nil || *data == (event.Data{}) {
		return Result{Success: false, Error: "Invalid data"}, nil
	}
	if strings.TrimSpace(platform) == "" {
		return Result{Success: false, Error: "platform must be a non-empty string"}, nil
	}
	if replacement, ok := legacyAliases[typ]; ok {
		return Result{
			Success: false,
			Error:   fmt.Sprintf("'%s' is a legacy type alias; use '%s'", typ, replacement),
		}, nil
	}
	eventType, ok := notificationTypes[typ]
	if !ok {
		return Result{Success: false, Error: fmt.Sprintf("Unknown notification type '%s'", typ)}, nil
	}
	if dataType := variantType(data); dataType != eventType {
		return Result{
			Success: false,
			Error:   fmt.Sprintf("notification data has type '%s' but '%s' was declared", dataType, eventType),
		}, nil
	}

	// Config gating comes before any state mutation; a malformed flag propagates
	normalizedPlatform := event.Platform(strings.ToLower(platform))
	if key := gatingKey(eventType); key != "" {
		enabled, err := m.cfg.PlatformBool(string(normalizedPlatform), key, true)
		if err != nil {
			return Result{}, err
		}
		if !enabled {
			return Result{Success: false, Disabled: true}, nil
		}
	}

	// Normalize in place: userId coercion must land before the suppression check
	userID, username := m.normalize(eventType, normalizedPlatform, data)

	if m.suppress.isSuppressed(userID) || !m.suppress.allow(userID) {
		telemetry.Debugf("notify: suppressed %s notification from user %s", eventType, userID)
		return Result{Success: false, Error: "user is suppressed"}, nil
	}

	if m.spam != nil && (eventType == event.TypeGift || eventType == event.TypeEnvelope) {
		gift := data.Gift
		if gift == nil && data.Envelope != nil {
			gift = envelopeAsGift(data.Envelope)
		}
		if gift != nil && !gift.IsAggregated {
			if decision := m.spam.HandleDonationSpam(normalizedPlatform, gift); !decision.ShouldShow {
				return Result{Success: false, Error: "donation hidden by spam detector"}, nil
			}
		}
	}

	built, err := BuildCopy(eventType, normalizedPlatform, data)
	if err != nil {
		return Result{Success: false, Error: "Invalid data", Details: err.Error()}, nil
	}
	priority, err := PriorityFor(eventType)
	if err != nil {
		return Result{}, err
	}
	priority, err = m.overridePriority(eventType, priority)
	if err != nil {
		return Result{}, err
	}

	item := &display.Item{
		Type:           eventType,
		Platform:       normalizedPlatform,
		Priority:       priority,
		Username:       username,
		UserID:         userID,
		DisplayMessage: built.DisplayMessage,
		TTSMessage:     built.TTSMessage,
		LogMessage:     built.LogMessage,
		SourceName:     m.sources.NotificationSource,
		SceneName:      m.sources.NotificationScene,
		IsError:        variantIsError(data),
		Duration:       m.durationFor(eventType),
	}
	if err := m.queue.AddItem(item); err != nil {
		return Result{Success: false, Error: "Display queue error", Details: err.Error()}, nil
	}

	m.recordSideEffects(eventType, normalizedPlatform, data, userID, username)
	m.bus.Publish(event.TopicNotificationProcessed, item)
	return Result{Success: true}, nil
}

// HandleAggregatedDonation collapses a burst of gifts from one user into a single
// synthetic gift notification
func (m *Manager) HandleAggregatedDonation(agg AggregatedDonation) (Result, error) {
	gift := &event.Gift{
		Username:     agg.Username,
		UserID:       agg.UserID,
		GiftType:     fmt.Sprintf("Multiple Gifts (%s)", strings.Join(agg.GiftTypes, ", ")),
		GiftCount:    agg.TotalGifts,
		Amount:       agg.TotalCoins,
		Currency:     "coins",
		Message:      agg.Message,
		IsAggregated: true,
		TimestampIso: event.IsoTimestamp(m.now()),
	}
	return m.HandleNotification("platform:gift", string(agg.Platform), &event.Data{Gift: gift})
}

// normalize applies the pre-mutation normalizations: error payloads get placeholder
// values, user IDs become non-empty strings, timestamps become valid ISO instants.
// Returns the normalized (userID, username).
func (m *Manager) normalize(t event.Type, platform event.Platform, data *event.Data) (string, string) {
	nowIso := event.IsoTimestamp(m.now())
	switch t {
	case event.TypeGift:
		g := data.Gift
		if g.IsError {
			g.Username = "Unknown User"
			g.UserID = "unknown"
			if g.GiftType == "" {
				g.GiftType = "Unknown gift"
			}
			g.GiftCount = 0
			g.Amount = 0
			g.Currency = "unknown"
		}
		g.UserID = coerceUserID(g.UserID)
		g.TimestampIso = normalizeTimestamp(g.TimestampIso, nowIso)
		return g.UserID, g.Username
	case event.TypeEnvelope:
		e := data.Envelope
		if e.IsError {
			e.Username = "Unknown User"
			e.UserID = "unknown"
			e.GiftCount = 0
			e.Amount = 0
			e.Currency = "unknown"
		}
		e.UserID = coerceUserID(e.UserID)
		e.TimestampIso = normalizeTimestamp(e.TimestampIso, nowIso)
		return e.UserID, e.Username
	case event.TypePaypiggy:
		p := data.Paypiggy
		if p.IsError {
			p.Username = "Unknown User"
			p.UserID = "unknown"
		}
		p.UserID = coerceUserID(p.UserID)
		p.TimestampIso = normalizeTimestamp(p.TimestampIso, nowIso)
		return p.UserID, p.Username
	case event.TypeGiftPaypiggy:
		g := data.GiftPaypiggy
		if g.IsError {
			g.Username = "Unknown User"
			g.UserID = "unknown"
			if platform == event.PlatformTwitch {
				g.Tier = "unknown"
			}
		}
		g.UserID = coerceUserID(g.UserID)
		g.TimestampIso = normalizeTimestamp(g.TimestampIso, nowIso)
		return g.UserID, g.Username
	case event.TypeFollow:
		f := data.Follow
		f.UserID = coerceUserID(f.UserID)
		f.TimestampIso = normalizeTimestamp(f.TimestampIso, nowIso)
		return f.UserID, f.Username
	case event.TypeRaid:
		r := data.Raid
		r.UserID = coerceUserID(r.UserID)
		r.TimestampIso = normalizeTimestamp(r.TimestampIso, nowIso)
		return r.UserID, r.Username
	}
	return "", ""
}

func (m *Manager) recordSideEffects(t event.Type, platform event.Platform, data *event.Data, userID, username string) {
	if m.users != nil {
		m.users.RecordActivity(platform, userID, username)
	}
	switch t {
	case event.TypeGift:
		m.goals.RecordDonation(platform, data.Gift.Amount, data.Gift.Currency)
	case event.TypeEnvelope:
		m.goals.RecordDonation(platform, data.Envelope.Amount, data.Envelope.Currency)
	}
}

// overridePriority applies an explicit per-type priority from the [timing] section
// when configured
func (m *Manager) overridePriority(t event.Type, fallback int) (int, error) {
	key := strings.ReplaceAll(string(t), "-", "") + "Priority"
	return m.cfg.Int("timing", key, fallback)
}

// durationFor looks up the per-type display interval from the [timing] section
func (m *Manager) durationFor(t event.Type) time.Duration {
	key := strings.ReplaceAll(string(t), "-", "") + "DurationMs"
	d, err := m.cfg.Duration("timing", key, 0)
	if err != nil {
		telemetry.Warnf("notify: invalid %s in [timing]: %v", key, err)
		return 0
	}
	return d
}

func variantType(d *event.Data) event.Type {
	switch {
	case d.ChatMessage != nil:
		return event.TypeChatMessage
	case d.Follow != nil:
		return event.TypeFollow
	case d.Gift != nil:
		return event.TypeGift
	case d.Envelope != nil:
		return event.TypeEnvelope
	case d.Paypiggy != nil:
		return event.TypePaypiggy
	case d.GiftPaypiggy != nil:
		return event.TypeGiftPaypiggy
	case d.Raid != nil:
		return event.TypeRaid
	case d.ViewerCount != nil:
		return event.TypeViewerCount
	case d.StreamOnline != nil:
		return event.TypeStreamOnline
	case d.StreamOffline != nil:
		return event.TypeStreamOffline
	}
	return ""
}

func variantIsError(d *event.Data) bool {
	switch {
	case d.Gift != nil:
		return d.Gift.IsError
	case d.Envelope != nil:
		return d.Envelope.IsError
	case d.Paypiggy != nil:
		return d.Paypiggy.IsError
	case d.GiftPaypiggy != nil:
		return d.GiftPaypiggy.IsError
	}
	return false
}

func envelopeAsGift(e *event.Envelope) *event.Gift {
	return &event.Gift{
		Username:     e.Username,
		UserID:       e.UserID,
		GiftType:     e.GiftType,
		GiftCount:    e.GiftCount,
		Amount:       e.Amount,
		Currency:     e.Currency,
		ID:           e.ID,
		TimestampIso: e.TimestampIso,
	}
}

// coerceUserID renders any user identifier as a non-empty string. Numeric IDs from
// platform payloads arrive here already stringified by CoerceUserID at the adapter
// boundary; an empty value becomes the error placeholder.
func coerceUserID(id string) string {
	if strings.TrimSpace(id) == "" {
		return "unknown"
	}
	return id
}

// CoerceUserID converts a platform-native user identifier of any scalar type to the
// string form required everywhere downstream
func CoerceUserID(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func normalizeTimestamp(ts, fallback string) string {
	if ts == "" {
		return fallback
	}
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		// Numeric epochs slip through some adapters; convert rather than discard
		if epoch, convErr := strconv.ParseInt(ts, 10, 64); convErr == nil {
			return event.IsoFromEpoch(epoch)
		}
		return fallback
	}
	return ts
}
