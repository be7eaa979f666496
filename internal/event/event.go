package event

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Platform identifies the origin of a normalized event.
type Platform string

const (
	PlatformTikTok  Platform = "tiktok"
	PlatformTwitch  Platform = "twitch"
	PlatformYouTube Platform = "youtube"
)

// Type is the tag carried by every normalized event.
type Type string

const (
	TypeChatMessage   Type = "chat-message"
	TypeFollow        Type = "follow"
	TypeGift          Type = "gift"
	TypeEnvelope      Type = "envelope"
	TypePaypiggy      Type = "paypiggy"
	TypeGiftPaypiggy  Type = "giftpaypiggy"
	TypeRaid          Type = "raid"
	TypeViewerCount   Type = "viewer-count"
	TypeStreamOnline  Type = "stream-online"
	TypeStreamOffline Type = "stream-offline"
)

// Event is the platform-neutral envelope that every adapter emits, regardless of
// which platform produced it
type Event struct {
	Type     Type     `json:"type"`
	Platform Platform `json:"platform"`
	Data     Data     `json:"data"`
}

// Data holds exactly one payload variant, selected by the enclosing Event's Type
type Data struct {
	ChatMessage   *ChatMessage
	Follow        *Follow
	Gift          *Gift
	Envelope      *Envelope
	Paypiggy      *Paypiggy
	GiftPaypiggy  *GiftPaypiggy
	Raid          *Raid
	ViewerCount   *ViewerCount
	StreamOnline  *StreamStatus
	StreamOffline *StreamStatus
}

func (d Data) MarshalJSON() ([]byte, error) {
	if d.ChatMessage != nil {
		return json.Marshal(d.ChatMessage)
	}
	if d.Follow != nil {
		return json.Marshal(d.Follow)
	}
	if d.Gift != nil {
		return json.Marshal(d.Gift)
	}
	if d.Envelope != nil {
		return json.Marshal(d.Envelope)
	}
	if d.Paypiggy != nil {
		return json.Marshal(d.Paypiggy)
	}
	if d.GiftPaypiggy != nil {
		return json.Marshal(d.GiftPaypiggy)
	}
	if d.Raid != nil {
		return json.Marshal(d.Raid)
	}
	if d.ViewerCount != nil {
		return json.Marshal(d.ViewerCount)
	}
	if d.StreamOnline != nil {
		return json.Marshal(d.StreamOnline)
	}
	if d.StreamOffline != nil {
		return json.Marshal(d.StreamOffline)
	}
	return json.Marshal(nil)
}

// Badges carries the subset of chat badges that affect display formatting
type Badges struct {
	Broadcaster bool `json:"broadcaster"`
	Moderator   bool `json:"mod"`
	Subscriber  bool `json:"sub"`
}

// EmoteDetails identifies a single emote occurring in a chat message
type EmoteDetails struct {
	Name string `json:"name"`
	Url  string `json:"url"`
}

// ChatMessage is the payload for a 'chat-message' event
type ChatMessage struct {
	Username     string         `json:"username"`
	UserID       string         `json:"userId"`
	DisplayName  string         `json:"displayName"`
	MessageText  string         `json:"messageText"`
	Badges       Badges         `json:"badges"`
	Color        string         `json:"color"`
	Emotes       []EmoteDetails `json:"emotes"`
	TimestampIso string         `json:"timestampIso"`
	TmiSentMs    int64          `json:"tmiSentMs,omitempty"`
	IsSelf       bool           `json:"isSelf"`
}

// Follow is the payload for a 'follow' event
type Follow struct {
	Username     string `json:"username"`
	UserID       string `json:"userId"`
	TimestampIso string `json:"timestampIso"`
}

// CheermoteInfo describes the bits breakdown of a Twitch cheer
type CheermoteInfo struct {
	Prefix string `json:"prefix"`
	Bits   int    `json:"bits"`
}

// Gift is the payload for a 'gift' event: TikTok gifts, Twitch bits, YouTube Super
// Chats and Super Stickers all normalize to this shape
type Gift struct {
	Username      string          `json:"username"`
	UserID        string          `json:"userId"`
	GiftType      string          `json:"giftType"`
	GiftCount     int             `json:"giftCount"`
	Amount        float64         `json:"amount"`
	Currency      string          `json:"currency"`
	Message       string          `json:"message,omitempty"`
	CheermoteInfo []CheermoteInfo `json:"cheermoteInfo,omitempty"`
	ID            string          `json:"id"`
	RepeatCount   int             `json:"repeatCount"`
	IsAnonymous   bool            `json:"isAnonymous"`
	IsError       bool            `json:"isError,omitempty"`
	IsAggregated  bool            `json:"isAggregated,omitempty"`
	TimestampIso  string          `json:"timestampIso"`
}

// Envelope is the payload for an 'envelope' event (TikTok treasure chest)
type Envelope struct {
	Username     string  `json:"username"`
	UserID       string  `json:"userId"`
	GiftType     string  `json:"giftType"`
	GiftCount    int     `json:"giftCount"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	ID           string  `json:"id"`
	IsError      bool    `json:"isError,omitempty"`
	TimestampIso string  `json:"timestampIso"`
}

// Paypiggy is the payload for a 'paypiggy' event: any paid subscription or
// membership (Twitch sub, YouTube member, TikTok subscribe)
type Paypiggy struct {
	Username        string `json:"username"`
	UserID          string `json:"userId"`
	Tier            string `json:"tier,omitempty"`
	MembershipLevel string `json:"membershipLevel,omitempty"`
	Months          int    `json:"months,omitempty"`
	Message         string `json:"message,omitempty"`
	IsError         bool   `json:"isError,omitempty"`
	TimestampIso    string `json:"timestampIso"`
}

// GiftPaypiggy is the payload for a 'giftpaypiggy' event (gifted subscriptions)
type GiftPaypiggy struct {
	Username        string `json:"username"`
	UserID          string `json:"userId"`
	Tier            string `json:"tier"`
	GiftCount       int    `json:"giftCount"`
	CumulativeTotal int    `json:"cumulativeTotal,omitempty"`
	IsAnonymous     bool   `json:"isAnonymous"`
	IsError         bool   `json:"isError,omitempty"`
	TimestampIso    string `json:"timestampIso"`
}

// Raid is the payload for a 'raid' event
type Raid struct {
	Username     string `json:"username"`
	UserID       string `json:"userId"`
	ViewerCount  int    `json:"viewerCount"`
	TimestampIso string `json:"timestampIso"`
}

// ViewerCount is the payload for a 'viewer-count' event
type ViewerCount struct {
	Count        int    `json:"count"`
	TimestampIso string `json:"timestampIso"`
}

// StreamStatus is the payload for 'stream-online' and 'stream-offline' events
type StreamStatus struct {
	StreamID     string `json:"streamId"`
	TimestampIso string `json:"timestampIso"`
}

// IsoTimestamp formats t as an ISO-8601 instant, the only timestamp representation
// allowed on normalized events
func IsoTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// IsoFromEpoch converts an epoch value of ambiguous precision into an ISO timestamp.
// Values below 1e12 are treated as seconds, anything larger as milliseconds: the
// cutover corresponds to September 2001 in milliseconds and the year 33658 in
// seconds, so no plausible event timestamp is ambiguous.
func IsoFromEpoch(epoch int64) string {
	if epoch < 1_000_000_000_000 {
		return IsoTimestamp(time.Unix(epoch, 0))
	}
	return IsoTimestamp(time.UnixMilli(epoch))
}

// CoerceAmount clamps a monetary value into the finite non-negative domain required
// by the normalized schema. The second return is true when the input was pathological
// and the event should carry an error tag.
func CoerceAmount(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, true
	}
	return v, false
}

// Validate checks the envelope-level invariants that every adapter must uphold
func (ev *Event) Validate() error {
	if ev.Platform == "" {
		return fmt.Errorf("event of type '%s' has no platform", ev.Type)
	}
	ts, isErr := ev.timestampAndErrorTag()
	if ts == "" {
		return fmt.Errorf("event of type '%s' has no timestamp", ev.Type)
	}
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		return fmt.Errorf("event of type '%s' has unparseable timestamp '%s'", ev.Type, ts)
	}
	if userID, ok := ev.userID(); ok && userID == "" {
		return fmt.Errorf("event of type '%s' has empty userId", ev.Type)
	} else if ok && userID == "unknown" && !isErr {
		return fmt.Errorf("event of type '%s' uses placeholder userId without error tag", ev.Type)
	}
	return nil
}

func (ev *Event) timestampAndErrorTag() (string, bool) {
	switch {
	case ev.Data.ChatMessage != nil:
		return ev.Data.ChatMessage.TimestampIso, false
	case ev.Data.Follow != nil:
		return ev.Data.Follow.TimestampIso, false
	case ev.Data.Gift != nil:
		return ev.Data.Gift.TimestampIso, ev.Data.Gift.IsError
	case ev.Data.Envelope != nil:
		return ev.Data.Envelope.TimestampIso, ev.Data.Envelope.IsError
	case ev.Data.Paypiggy != nil:
		return ev.Data.Paypiggy.TimestampIso, ev.Data.Paypiggy.IsError
	case ev.Data.GiftPaypiggy != nil:
		return ev.Data.GiftPaypiggy.TimestampIso, ev.Data.GiftPaypiggy.IsError
	case ev.Data.Raid != nil:
		return ev.Data.Raid.TimestampIso, false
	case ev.Data.ViewerCount != nil:
		return ev.Data.ViewerCount.TimestampIso, false
	case ev.Data.StreamOnline != nil:
		return ev.Data.StreamOnline.TimestampIso, false
	case ev.Data.StreamOffline != nil:
		return ev.Data.StreamOffline.TimestampIso, false
	}
	return "", false
}

func (ev *Event) userID() (string, bool) {
	switch {
	case ev.Data.ChatMessage != nil:
		return ev.Data.ChatMessage.UserID, true
	case ev.Data.Follow != nil:
		return ev.Data.Follow.UserID, true
	case ev.Data.Gift != nil:
		return ev.Data.Gift.UserID, true
	case ev.Data.Envelope != nil:
		return ev.Data.Envelope.UserID, true
	case ev.Data.Paypiggy != nil:
		return ev.Data.Paypiggy.UserID, true
	case ev.Data.GiftPaypiggy != nil:
		return ev.Data.GiftPaypiggy.UserID, true
	case ev.Data.Raid != nil:
		return ev.Data.Raid.UserID, true
	}
	return "", false
}
