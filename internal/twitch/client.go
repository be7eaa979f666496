package twitch

import (
	"fmt"
	"net/http"

	"github.com/nicklaw5/helix/v2"
)

// NewClientWithUserToken prepares a Helix client authorized with a user access
// token. EventSub WebSocket subscriptions require user authorization; an app token
// is not accepted for them.
func NewClientWithUserToken(clientId, accessToken string) (*helix.Client, error) {
	c, err := helix.NewClient(&helix.Options{
		ClientID:        clientId,
		UserAccessToken: accessToken,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Twitch API client: %w", err)
	}
	return c, nil
}

// SubscriptionAudit summarizes the EventSub subscription state visible to the
// client's token
type SubscriptionAudit struct {
	Total   int
	Enabled int
	Stale   []string
}

// AuditSubscriptions lists every EventSub subscription visible to the client's
// token and flags entries that are not enabled. Stale websocket subscriptions from
// dead sessions count against Twitch's subscription cap until they expire.
func AuditSubscriptions(reader SubscriptionReader) (SubscriptionAudit, error) {
	var audit SubscriptionAudit
	cursor := ""
	for {
		r, err := reader.GetEventSubSubscriptions(&helix.EventSubSubscriptionsParams{After: cursor})
		if err != nil {
			return audit, fmt.Errorf("failed to list EventSub subscriptions: %w", err)
		}
		if r.StatusCode != http.StatusOK {
			return audit, fmt.Errorf("got response %d from subscriptions request: %s", r.StatusCode, r.ErrorMessage)
		}
		for _, sub := range r.Data.EventSubSubscriptions {
			audit.Total++
			if sub.Status == "enabled" {
				audit.Enabled++
			} else {
				audit.Stale = append(audit.Stale, fmt.Sprintf("%s (%s)", sub.Type, sub.Status))
			}
		}
		cursor = r.Data.Pagination.Cursor
		if cursor == "" {
			return audit, nil
		}
	}
}
