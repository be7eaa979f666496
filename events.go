package stagehand

import (
	"github.com/nicklaw5/helix/v2"

	"github.com/stagehand-live/stagehand/internal/twitch"
)

// RequiredSubscriptions declares every EventSub subscription the Twitch adapter
// establishes on each new WebSocket session
var RequiredSubscriptions = []twitch.RequiredSubscription{
	{
		Type:    "channel.chat.message",
		Version: "1",
		GetCondition: func(p twitch.ConditionParams) helix.EventSubCondition {
			return helix.EventSubCondition{
				BroadcasterUserID: p.BroadcasterUserID,
				UserID:            p.UserID,
			}
		},
	},
	{
		Type:    helix.EventSubTypeChannelFollow,
		Version: "2",
		GetCondition: func(p twitch.ConditionParams) helix.EventSubCondition {
			return helix.EventSubCondition{
				BroadcasterUserID: p.BroadcasterUserID,
				ModeratorUserID:   p.UserID,
			}
		},
	},
	{
		Type:    helix.EventSubTypeChannelSubscription,
		Version: "1",
		GetCondition: func(p twitch.ConditionParams) helix.EventSubCondition {
			return helix.EventSubCondition{
				BroadcasterUserID: p.BroadcasterUserID,
			}
		},
	},
	{
		Type:    helix.EventSubTypeChannelSubscriptionGift,
		Version: "1",
		GetCondition: func(p twitch.ConditionParams) helix.EventSubCondition {
			return helix.EventSubCondition{
				BroadcasterUserID: p.BroadcasterUserID,
			}
		},
	},
	{
		Type:    helix.EventSubTypeChannelSubscriptionMessage,
		Version: "1",
		GetCondition: func(p twitch.ConditionParams) helix.EventSubCondition {
			return helix.EventSubCondition{
				BroadcasterUserID: p.BroadcasterUserID,
			}
		},
	},
	{
		Type:    helix.EventSubTypeChannelRaid,
		Version: "1",
		GetCondition: func(p twitch.ConditionParams) helix.EventSubCondition {
			return helix.EventSubCondition{
				ToBroadcasterUserID: p.BroadcasterUserID,
			}
		},
	},
	{
		Type:    "channel.bits.use",
		Version: "1",
		GetCondition: func(p twitch.ConditionParams) helix.EventSubCondition {
			return helix.EventSubCondition{
				BroadcasterUserID: p.BroadcasterUserID,
			}
		},
	},
	{
		Type:    helix.EventSubTypeStreamOnline,
		Version: "1",
		GetCondition: func(p twitch.ConditionParams) helix.EventSubCondition {
			return helix.EventSubCondition{
				BroadcasterUserID: p.BroadcasterUserID,
			}
		},
	},
	{
		Type:    helix.EventSubTypeStreamOffline,
		Version: "1",
		GetCondition: func(p twitch.ConditionParams) helix.EventSubCondition {
			return helix.EventSubCondition{
				BroadcasterUserID: p.BroadcasterUserID,
			}
		},
	},
}
