package twitch

import (
	"errors"
	"net/http"
	"testing"

	"github.com/nicklaw5/helix/v2"
	"github.com/stretchr/testify/assert"
)

type fakeSubscriptionLister struct {
	pages   []*helix.EventSubSubscriptionsResponse
	err     error
	cursors []string
}

func (f *fakeSubscriptionLister) GetEventSubSubscriptions(params *helix.EventSubSubscriptionsParams) (*helix.EventSubSubscriptionsResponse, error) {
	f.cursors = append(f.cursors, params.After)
	if f.err != nil {
		return nil, f.err
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func subsPage(cursor string, subs ...helix.EventSubSubscription) *helix.EventSubSubscriptionsResponse {
	r := &helix.EventSubSubscriptionsResponse{
		Data: helix.ManyEventSubSubscriptions{
			EventSubSubscriptions: subs,
		},
	}
	r.StatusCode = http.StatusOK
	r.Data.Pagination.Cursor = cursor
	return r
}

func Test_AuditSubscriptions(t *testing.T) {
	t.Run("all subscriptions enabled", func(t *testing.T) {
		lister := &fakeSubscriptionLister{pages: []*helix.EventSubSubscriptionsResponse{
			subsPage("",
				helix.EventSubSubscription{Type: "channel.follow", Status: "enabled"},
				helix.EventSubSubscription{Type: "channel.cheer", Status: "enabled"},
			),
		}}
		audit, err := AuditSubscriptions(lister)
		assert.NoError(t, err)
		assert.Equal(t, 2, audit.Total)
		assert.Equal(t, 2, audit.Enabled)
		assert.Empty(t, audit.Stale)
	})

	t.Run("stale subscriptions are flagged with their status", func(t *testing.T) {
		lister := &fakeSubscriptionLister{pages: []*helix.EventSubSubscriptionsResponse{
			subsPage("",
				helix.EventSubSubscription{Type: "channel.follow", Status: "enabled"},
				helix.EventSubSubscription{Type: "channel.cheer", Status: "websocket_disconnected"},
				helix.EventSubSubscription{Type: "channel.raid", Status: "authorization_revoked"},
			),
		}}
		audit, err := AuditSubscriptions(lister)
		assert.NoError(t, err)
		assert.Equal(t, 3, audit.Total)
		assert.Equal(t, 1, audit.Enabled)
		assert.Equal(t, []string{
			"channel.cheer (websocket_disconnected)",
			"channel.raid (authorization_revoked)",
		}, audit.Stale)
	})

	t.Run("paginates until the cursor is exhausted", func(t *testing.T) {
		lister := &fakeSubscriptionLister{pages: []*helix.EventSubSubscriptionsResponse{
			subsPage("next-page",
				helix.EventSubSubscription{Type: "channel.follow", Status: "enabled"},
			),
			subsPage("",
				helix.EventSubSubscription{Type: "channel.cheer", Status: "websocket_disconnected"},
			),
		}}
		audit, err := AuditSubscriptions(lister)
		assert.NoError(t, err)
		assert.Equal(t, []string{"", "next-page"}, lister.cursors)
		assert.Equal(t, 2, audit.Total)
		assert.Equal(t, 1, audit.Enabled)
		assert.Equal(t, []string{"channel.cheer (websocket_disconnected)"}, audit.Stale)
	})

	t.Run("transport error is propagated", func(t *testing.T) {
		lister := &fakeSubscriptionLister{err: errors.New("connection refused")}
		_, err := AuditSubscriptions(lister)
		assert.ErrorContains(t, err, "failed to list EventSub subscriptions")
	})

	t.Run("non-200 response is an error", func(t *testing.T) {
		page := subsPage("")
		page.StatusCode = http.StatusUnauthorized
		page.ErrorMessage = "Invalid OAuth token"
		lister := &fakeSubscriptionLister{pages: []*helix.EventSubSubscriptionsResponse{page}}
		_, err := AuditSubscriptions(lister)
		assert.ErrorContains(t, err, "got response 401")
		assert.ErrorContains(t, err, "Invalid OAuth token")
	})
}
