package twitch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stagehand-live/stagehand/internal/event"
)

func newTestAdapter(emit EmitFunc) *Adapter {
	return &Adapter{
		broadcasterID: "1337",
		channelName:   "testchannel",
		emit:          emit,
	}
}

func collectEvents(t *testing.T) (*[]*event.Event, EmitFunc) {
	got := make([]*event.Event, 0)
	return &got, func(ev *event.Event) {
		got = append(got, ev)
	}
}

func Test_Adapter_handleNotification(t *testing.T) {
	t.Run("chat message is normalized with badges and emotes", func(t *testing.T) {
		got, emit := collectEvents(t)
		a := newTestAdapter(emit)
		a.handleNotification("channel.chat.message", "2023-10-01T12:00:00Z", json.RawMessage(`{
			"broadcaster_user_id": "1337",
			"chatter_user_id": "90790024",
			"chatter_user_login": "wasabimilkshake",
			"chatter_user_name": "wasabimilkshake",
			"color": "#00FF7F",
			"message": {
				"text": "hello, this is a message seasonGreeting1",
				"fragments": [
					{"type": "text", "text": "hello, this is a message "},
					{"type": "emote", "text": "seasonGreeting1", "emote": {"id": "emotesv2_abc", "emote_set_id": "1234"}}
				]
			},
			"badges": [
				{"set_id": "moderator", "id": "1"},
				{"set_id": "subscriber", "id": "12"}
			]
		}`))

		assert.Len(t, *got, 1)
		ev := (*got)[0]
		assert.Equal(t, event.TypeChatMessage, ev.Type)
		assert.Equal(t, event.PlatformTwitch, ev.Platform)
		msg := ev.Data.ChatMessage
		assert.NotNil(t, msg)
		assert.Equal(t, "wasabimilkshake", msg.Username)
		assert.Equal(t, "90790024", msg.UserID)
		assert.Equal(t, "hello, this is a message seasonGreeting1", msg.MessageText)
		assert.True(t, msg.Badges.Moderator)
		assert.True(t, msg.Badges.Subscriber)
		assert.False(t, msg.Badges.Broadcaster)
		assert.Len(t, msg.Emotes, 1)
		assert.Equal(t, "seasonGreeting1", msg.Emotes[0].Name)
		assert.False(t, msg.IsSelf)
	})

	t.Run("broadcaster's own chat message is flagged as self", func(t *testing.T) {
		got, emit := collectEvents(t)
		a := newTestAdapter(emit)
		a.handleNotification("channel.chat.message", "", json.RawMessage(`{
			"chatter_user_id": "1337",
			"chatter_user_login": "testchannel",
			"chatter_user_name": "TestChannel",
			"message": {"text": "hi chat", "fragments": [{"type": "text", "text": "hi chat"}]},
			"badges": [{"set_id": "broadcaster", "id": "1"}]
		}`))

		assert.Len(t, *got, 1)
		msg := (*got)[0].Data.ChatMessage
		assert.True(t, msg.IsSelf)
		assert.True(t, msg.Badges.Broadcaster)
	})

	t.Run("gifted channel.subscribe is suppressed", func(t *testing.T) {
		got, emit := collectEvents(t)
		a := newTestAdapter(emit)
		a.handleNotification("channel.subscribe", "2023-10-01T12:00:00Z", json.RawMessage(`{
			"user_id": "90790024",
			"user_name": "wasabimilkshake",
			"tier": "1000",
			"is_gift": true
		}`))
		assert.Empty(t, *got)
	})

	t.Run("direct channel.subscribe becomes a paypiggy event", func(t *testing.T) {
		got, emit := collectEvents(t)
		a := newTestAdapter(emit)
		a.handleNotification("channel.subscribe", "2023-10-01T12:00:00Z", json.RawMessage(`{
			"user_id": "90790024",
			"user_name": "wasabimilkshake",
			"tier": "2000",
			"is_gift": false
		}`))

		assert.Len(t, *got, 1)
		ev := (*got)[0]
		assert.Equal(t, event.TypePaypiggy, ev.Type)
		assert.Equal(t, "2000", ev.Data.Paypiggy.Tier)
		assert.Equal(t, "2023-10-01T12:00:00Z", ev.Data.Paypiggy.TimestampIso)
	})

	t.Run("subscription gift becomes giftpaypiggy", func(t *testing.T) {
		got, emit := collectEvents(t)
		a := newTestAdapter(emit)
		a.handleNotification("channel.subscription.gift", "2023-10-01T12:00:00Z", json.RawMessage(`{
			"user_id": "90790024",
			"user_name": "wasabimilkshake",
			"tier": "1000",
			"total": 5,
			"cumulative_total": 12,
			"is_anonymous": false
		}`))

		assert.Len(t, *got, 1)
		ev := (*got)[0]
		assert.Equal(t, event.TypeGiftPaypiggy, ev.Type)
		gp := ev.Data.GiftPaypiggy
		assert.Equal(t, 5, gp.GiftCount)
		assert.Equal(t, 12, gp.CumulativeTotal)
		assert.False(t, gp.IsAnonymous)
	})

	t.Run("resub message becomes paypiggy with months and message", func(t *testing.T) {
		got, emit := collectEvents(t)
		a := newTestAdapter(emit)
		a.handleNotification("channel.subscription.message", "2023-10-01T12:00:00Z", json.RawMessage(`{
			"user_id": "90790024",
			"user_name": "wasabimilkshake",
			"tier": "1000",
			"cumulative_months": 7,
			"message": {"text": "still here!"}
		}`))

		assert.Len(t, *got, 1)
		pp := (*got)[0].Data.Paypiggy
		assert.Equal(t, 7, pp.Months)
		assert.Equal(t, "still here!", pp.Message)
	})

	t.Run("raid is normalized with envelope timestamp", func(t *testing.T) {
		got, emit := collectEvents(t)
		a := newTestAdapter(emit)
		a.handleNotification("channel.raid", "2023-10-01T12:00:00Z", json.RawMessage(`{
			"from_broadcaster_user_id": "55555",
			"from_broadcaster_user_name": "somestreamer",
			"to_broadcaster_user_id": "1337",
			"viewers": 42
		}`))

		assert.Len(t, *got, 1)
		raid := (*got)[0].Data.Raid
		assert.Equal(t, "somestreamer", raid.Username)
		assert.Equal(t, 42, raid.ViewerCount)
		assert.Equal(t, "2023-10-01T12:00:00Z", raid.TimestampIso)
	})

	t.Run("stream online and offline are normalized", func(t *testing.T) {
		got, emit := collectEvents(t)
		a := newTestAdapter(emit)
		a.handleNotification("stream.online", "", json.RawMessage(`{
			"id": "9001",
			"started_at": "2023-10-01T11:59:00Z"
		}`))
		a.handleNotification("stream.offline", "2023-10-01T14:00:00Z", json.RawMessage(`{}`))

		assert.Len(t, *got, 2)
		assert.Equal(t, event.TypeStreamOnline, (*got)[0].Type)
		assert.Equal(t, "9001", (*got)[0].Data.StreamOnline.StreamID)
		assert.Equal(t, "2023-10-01T11:59:00Z", (*got)[0].Data.StreamOnline.TimestampIso)
		assert.Equal(t, event.TypeStreamOffline, (*got)[1].Type)
		assert.Equal(t, "2023-10-01T14:00:00Z", (*got)[1].Data.StreamOffline.TimestampIso)
	})

	t.Run("unsupported subscription type emits nothing", func(t *testing.T) {
		got, emit := collectEvents(t)
		a := newTestAdapter(emit)
		a.handleNotification("channel.update", "", json.RawMessage(`{}`))
		assert.Empty(t, *got)
	})

	t.Run("malformed payload emits nothing", func(t *testing.T) {
		got, emit := collectEvents(t)
		a := newTestAdapter(emit)
		a.handleNotification("channel.raid", "", json.RawMessage(`{invalid`))
		assert.Empty(t, *got)
	})
}

func Test_Adapter_handleBitsUse(t *testing.T) {
	t.Run("single cheermote yields gift with currency bits", func(t *testing.T) {
		got, emit := collectEvents(t)
		a := newTestAdapter(emit)
		a.handleNotification("channel.bits.use", "2023-10-01T12:00:00Z", json.RawMessage(`{
			"user_id": "90790024",
			"user_login": "wasabimilkshake",
			"user_name": "wasabimilkshake",
			"bits": 200,
			"type": "cheer",
			"message": {
				"text": "Cheer200 great show!",
				"fragments": [
					{"type": "cheermote", "text": "Cheer200", "cheermote": {"prefix": "cheer", "bits": 200, "tier": 100}},
					{"type": "text", "text": " great show!"}
				]
			}
		}`))

		assert.Len(t, *got, 1)
		gift := (*got)[0].Data.Gift
		assert.NotNil(t, gift)
		assert.Equal(t, "bits", gift.GiftType)
		assert.Equal(t, "bits", gift.Currency)
		assert.Equal(t, float64(200), gift.Amount)
		assert.Equal(t, 1, gift.GiftCount)
		assert.Equal(t, "great show!", gift.Message)
		assert.Len(t, gift.CheermoteInfo, 1)
		assert.Equal(t, "cheer", gift.CheermoteInfo[0].Prefix)
	})

	t.Run("multiple distinct cheermotes yield mixed bits", func(t *testing.T) {
		got, emit := collectEvents(t)
		a := newTestAdapter(emit)
		a.handleNotification("channel.bits.use", "2023-10-01T12:00:00Z", json.RawMessage(`{
			"user_id": "90790024",
			"user_name": "wasabimilkshake",
			"bits": 300,
			"type": "cheer",
			"message": {
				"text": "Cheer100 Kappa200 wow",
				"fragments": [
					{"type": "cheermote", "text": "Cheer100", "cheermote": {"prefix": "cheer", "bits": 100, "tier": 100}},
					{"type": "cheermote", "text": "Kappa200", "cheermote": {"prefix": "kappa", "bits": 200, "tier": 100}},
					{"type": "text", "text": " wow"}
				]
			}
		}`))

		assert.Len(t, *got, 1)
		gift := (*got)[0].Data.Gift
		assert.Equal(t, "mixed bits", gift.GiftType)
		assert.Equal(t, float64(300), gift.Amount)
		assert.Len(t, gift.CheermoteInfo, 2)
	})

	t.Run("repeated cheermote prefix is not mixed", func(t *testing.T) {
		got, emit := collectEvents(t)
		a := newTestAdapter(emit)
		a.handleNotification("channel.bits.use", "", json.RawMessage(`{
			"user_id": "90790024",
			"user_name": "wasabimilkshake",
			"bits": 200,
			"type": "cheer",
			"message": {
				"text": "Cheer100 Cheer100",
				"fragments": [
					{"type": "cheermote", "text": "Cheer100", "cheermote": {"prefix": "cheer", "bits": 100, "tier": 100}},
					{"type": "cheermote", "text": "Cheer100", "cheermote": {"prefix": "cheer", "bits": 100, "tier": 100}}
				]
			}
		}`))

		assert.Len(t, *got, 1)
		assert.Equal(t, "bits", (*got)[0].Data.Gift.GiftType)
		assert.Equal(t, "", (*got)[0].Data.Gift.Message)
	})

	t.Run("bits event without message still emits", func(t *testing.T) {
		got, emit := collectEvents(t)
		a := newTestAdapter(emit)
		a.handleNotification("channel.bits.use", "2023-10-01T12:00:00Z", json.RawMessage(`{
			"user_id": "90790024",
			"user_name": "wasabimilkshake",
			"bits": 50,
			"type": "power_up"
		}`))

		assert.Len(t, *got, 1)
		gift := (*got)[0].Data.Gift
		assert.Equal(t, "bits", gift.GiftType)
		assert.Equal(t, float64(50), gift.Amount)
		assert.Empty(t, gift.CheermoteInfo)
		assert.Equal(t, "2023-10-01T12:00:00Z", gift.TimestampIso)
	})
}

func Test_backfillTimestamp(t *testing.T) {
	t.Run("body timestamp wins", func(t *testing.T) {
		bodyTime, err := time.Parse(time.RFC3339, "2023-10-01T10:00:00Z")
		assert.NoError(t, err)
		got := backfillTimestamp(bodyTime, "2023-10-01T12:00:00Z")
		assert.Equal(t, "2023-10-01T10:00:00Z", got)
	})
	t.Run("envelope timestamp used when body has none", func(t *testing.T) {
		got := backfillTimestamp(time.Time{}, "2023-10-01T12:00:00.1234Z")
		assert.Equal(t, "2023-10-01T12:00:00Z", got)
	})
	t.Run("falls back to now when neither is set", func(t *testing.T) {
		got := backfillTimestamp(time.Time{}, "")
		assert.NotEmpty(t, got)
	})
}
