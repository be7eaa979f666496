package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/stagehand-live/stagehand/internal/telemetry"
)

const (
	liveChatEndpoint    = "https://www.youtube.com/youtubei/v1/live_chat/get_live_chat"
	defaultPollInterval = 2 * time.Second
)

// ChatFeed polls one stream's Innertube live chat continuation and translates the
// raw renderer entries into ChatItems for the adapter
type ChatFeed struct {
	httpClient   *http.Client
	videoID      string
	continuation string
	interval     time.Duration
}

func NewChatFeed(httpClient *http.Client, videoID, initialContinuation string) *ChatFeed {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ChatFeed{
		httpClient:   httpClient,
		videoID:      videoID,
		continuation: initialContinuation,
		interval:     defaultPollInterval,
	}
}

// Run polls until ctx is canceled, passing each chat item to handle. Poll errors
// are logged and retried on the next tick; only context cancellation ends the run.
func (f *ChatFeed) Run(ctx context.Context, handle func(item ChatItem)) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			items, err := f.poll(ctx)
			if err != nil {
				telemetry.Warnf("youtube: live chat poll for %s failed: %v", f.videoID, err)
				continue
			}
			for _, item := range items {
				handle(item)
			}
		}
	}
}

func (f *ChatFeed) poll(ctx context.Context) ([]ChatItem, error) {
	body, err := json.Marshal(map[string]any{
		"context": map[string]any{
			"client": map[string]any{
				"clientName":    "WEB",
				"clientVersion": innertubeVersion,
			},
		},
		"continuation": f.continuation,
	})
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s?key=%s", liveChatEndpoint, innertubeKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("content-type", "application/json")
	res, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get_live_chat request failed: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("got response %d from get_live_chat request", res.StatusCode)
	}

	var payload liveChatResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode get_live_chat response: %w", err)
	}
	if c := payload.nextContinuation(); c != "" {
		f.continuation = c
	}

	items := make([]ChatItem, 0, len(payload.ContinuationContents.LiveChatContinuation.Actions))
	for _, action := range payload.ContinuationContents.LiveChatContinuation.Actions {
		item, ok := translateAction(f.videoID, action)
		if ok {
			items = append(items, item)
		}
	}
	return items, nil
}

type liveChatResponse struct {
	ContinuationContents struct {
		LiveChatContinuation struct {
			Continuations []struct {
				InvalidationContinuationData *struct {
					Continuation string `json:"continuation"`
				} `json:"invalidationContinuationData"`
				TimedContinuationData *struct {
					Continuation string `json:"continuation"`
				} `json:"timedContinuationData"`
			} `json:"continuations"`
			Actions []liveChatAction `json:"actions"`
		} `json:"liveChatContinuation"`
	} `json:"continuationContents"`
}

func (r liveChatResponse) nextContinuation() string {
	for _, c := range r.ContinuationContents.LiveChatContinuation.Continuations {
		if c.InvalidationContinuationData != nil {
			return c.InvalidationContinuationData.Continuation
		}
		if c.TimedContinuationData != nil {
			return c.TimedContinuationData.Continuation
		}
	}
	return ""
}

type liveChatAction struct {
	AddChatItemAction *struct {
		Item map[string]json.RawMessage `json:"item"`
	} `json:"addChatItemAction"`
}

type textRun struct {
	Text string `json:"text"`
}

// runsText covers the two shapes Innertube renders text in: a simpleText string or
// a runs array
type runsText struct {
	SimpleText string    `json:"simpleText"`
	Runs       []textRun `json:"runs"`
}

func (t runsText) text() string {
	if t.SimpleText != "" {
		return t.SimpleText
	}
	parts := make([]string, 0, len(t.Runs))
	for _, run := range t.Runs {
		parts = append(parts, run.Text)
	}
	return strings.Join(parts, "")
}

// renderer is the raw shape shared by the chat renderers we translate. Membership
// milestones carry the months in headerPrimaryText and the level in headerSubtext;
// gift purchases carry the author and count inside their header renderer.
type renderer struct {
	ID         string `json:"id"`
	AuthorName struct {
		SimpleText string `json:"simpleText"`
	} `json:"authorName"`
	AuthorExternalChannelID string   `json:"authorExternalChannelId"`
	Message                 runsText `json:"message"`
	TimestampUsec           string   `json:"timestampUsec"`
	PurchaseAmountText      runsText `json:"purchaseAmountText"`
	HeaderPrimaryText       runsText `json:"headerPrimaryText"`
	HeaderSubtext           runsText `json:"headerSubtext"`
	Header                  struct {
		LiveChatSponsorshipsHeaderRenderer *struct {
			AuthorName struct {
				SimpleText string `json:"simpleText"`
			} `json:"authorName"`
			PrimaryText runsText `json:"primaryText"`
		} `json:"liveChatSponsorshipsHeaderRenderer"`
	} `json:"header"`
}

// translateAction flattens one addChatItemAction into a ChatItem. The renderer key
// (e.g. "liveChatTextMessageRenderer") becomes the internal type name with its
// "Renderer" suffix stripped and a leading capital.
func translateAction(videoID string, action liveChatAction) (ChatItem, bool) {
	if action.AddChatItemAction == nil {
		return ChatItem{}, false
	}
	for key, raw := range action.AddChatItemAction.Item {
		if !strings.HasSuffix(key, "Renderer") {
			continue
		}
		typeName := strings.TrimSuffix(key, "Renderer")
		typeName = strings.ToUpper(typeName[:1]) + typeName[1:]

		var r renderer
		if err := json.Unmarshal(raw, &r); err != nil {
			telemetry.Warnf("youtube: failed to decode %s: %v", key, err)
			return ChatItem{}, false
		}
		amountMicros, currency := parseAmount(r.PurchaseAmountText.text())

		authorName := r.AuthorName.SimpleText
		giftCount := 0
		if h := r.Header.LiveChatSponsorshipsHeaderRenderer; h != nil {
			if authorName == "" {
				authorName = h.AuthorName.SimpleText
			}
			giftCount = firstInt(h.PrimaryText.text())
		}

		flat, err := json.Marshal(map[string]any{
			"id":              r.ID,
			"authorName":      authorName,
			"authorChannelId": r.AuthorExternalChannelID,
			"message":         r.Message.text(),
			"amountMicros":    amountMicros,
			"currency":        currency,
			"memberLevelName": r.HeaderSubtext.text(),
			"memberMonths":    firstInt(r.HeaderPrimaryText.text()),
			"giftCount":       giftCount,
		})
		if err != nil {
			return ChatItem{}, false
		}
		return ChatItem{
			Type:      typeName,
			VideoID:   videoID,
			Timestamp: usecToMillis(r.TimestampUsec),
			Payload:   flat,
		}, true
	}
	return ChatItem{}, false
}

var intPattern = regexp.MustCompile(`\d+`)

// firstInt extracts the first integer from rendered copy like "Member for 6 months"
// or "gifted 5 memberships"; no integer yields zero
func firstInt(s string) int {
	m := intPattern.FindString(s)
	if m == "" {
		return 0
	}
	v, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return v
}

func usecToMillis(usec string) int64 {
	v, err := strconv.ParseInt(usec, 10, 64)
	if err != nil {
		return 0
	}
	return v / 1000
}

var amountPattern = regexp.MustCompile(`^([^\d]*)([\d,]+(?:\.\d+)?)$`)

// parseAmount splits a rendered amount like "$5.00" or "CA$2.00" into micros and a
// currency marker; unparseable values yield zero
func parseAmount(s string) (int64, string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ""
	}
	m := amountPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, ""
	}
	currency := strings.TrimSpace(m[1])
	value, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
	if err != nil {
		return 0, currency
	}
	return int64(value * 1e6), currency
}
