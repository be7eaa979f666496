package twitch

import (
	"encoding/json"

	"github.com/nicklaw5/helix/v2"
)

// SubscriptionReader represents the subset of Twitch Helix API operations required to
// view the state of EventSub subscriptions, with read-only access
type SubscriptionReader interface {
	GetEventSubSubscriptions(params *helix.EventSubSubscriptionsParams) (*helix.EventSubSubscriptionsResponse, error)
}

// ConditionParams carries the identifiers available to a subscription's condition
// builder
type ConditionParams struct {
	BroadcasterUserID string
	UserID            string
}

// RequiredSubscription declares one EventSub subscription the Twitch adapter must
// establish over its WebSocket session before it reports itself connected
type RequiredSubscription struct {
	Type         string
	Version      string
	GetCondition func(p ConditionParams) helix.EventSubCondition
}

// EventSub WebSocket frame shapes. These mirror the wire format of Twitch's
// EventSub WebSocket transport; helix provides payload types for the channel
// events that predate the WebSocket transport, and the newer chat/bits payloads
// are declared below.

type socketMessage struct {
	Metadata socketMetadata  `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

type socketMetadata struct {
	MessageID           string `json:"message_id"`
	MessageType         string `json:"message_type"`
	MessageTimestamp    string `json:"message_timestamp"`
	SubscriptionType    string `json:"subscription_type"`
	SubscriptionVersion string `json:"subscription_version"`
}

const (
	messageTypeWelcome      = "session_welcome"
	messageTypeKeepalive    = "session_keepalive"
	messageTypeReconnect    = "session_reconnect"
	messageTypeNotification = "notification"
	messageTypeRevocation   = "revocation"
)

type sessionPayload struct {
	Session struct {
		ID           string `json:"id"`
		Status       string `json:"status"`
		ReconnectURL string `json:"reconnect_url"`
	} `json:"session"`
}

type notificationPayload struct {
	Subscription struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"subscription"`
	Event json.RawMessage `json:"event"`
}

// chatMessageEvent is the payload of 'channel.chat.message'
type chatMessageEvent struct {
	BroadcasterUserID string `json:"broadcaster_user_id"`
	ChatterUserID     string `json:"chatter_user_id"`
	ChatterUserLogin  string `json:"chatter_user_login"`
	ChatterUserName   string `json:"chatter_user_name"`
	MessageID         string `json:"message_id"`
	Message           struct {
		Text      string            `json:"text"`
		Fragments []messageFragment `json:"fragments"`
	} `json:"message"`
	Color  string `json:"color"`
	Badges []struct {
		SetID string `json:"set_id"`
		ID    string `json:"id"`
	} `json:"badges"`
}

type messageFragment struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Cheermote *struct {
		Prefix string `json:"prefix"`
		Bits   int    `json:"bits"`
		Tier   int    `json:"tier"`
	} `json:"cheermote"`
	Emote *struct {
		ID         string `json:"id"`
		EmoteSetID string `json:"emote_set_id"`
	} `json:"emote"`
}

// bitsUseEvent is the payload of 'channel.bits.use'
type bitsUseEvent struct {
	UserID    string `json:"user_id"`
	UserLogin string `json:"user_login"`
	UserName  string `json:"user_name"`
	Bits      int    `json:"bits"`
	ID        string `json:"id"`
	Type      string `json:"type"`
	Message   *struct {
		Text      string            `json:"text"`
		Fragments []messageFragment `json:"fragments"`
	} `json:"message"`
	Timestamp string `json:"timestamp"`
}
