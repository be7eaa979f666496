package twitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stagehand-live/stagehand/internal/event"
	"github.com/stagehand-live/stagehand/internal/telemetry"
)

const DefaultSocketURL = "wss://eventsub.wss.twitch.tv/ws"

const (
	defaultWelcomeTimeout   = 30 * time.Second
	defaultMaxRetryAttempts = 10
	minReconnectBackoff     = time.Second
	maxReconnectBackoff     = 30 * time.Second
)

var ErrWelcomeTimeout = errors.New("timed out waiting for session_welcome")
var ErrRetriesExhausted = errors.New("EventSub reconnect attempts exhausted")

// SessionConnected is published on eventsub:connected once subscription setup
// succeeds for a session
type SessionConnected struct {
	SessionID string `json:"sessionId"`
}

// SessionSetupFailed is published on eventsub:subscription-failed when one or more
// subscriptions could not be established
type SessionSetupFailed struct {
	SessionID string   `json:"sessionId"`
	Failures  []string `json:"failures"`
}

// NotificationFunc receives each EventSub notification: the subscription type, the
// envelope's message_timestamp (used for missing-timestamp backfill), and the raw
// event body.
type NotificationFunc func(subscriptionType, messageTimestamp string, eventData json.RawMessage)

// SetupFunc establishes the required subscriptions for a fresh session. It returns
// the list of subscription types that failed; any failure aborts the connect.
type SetupFunc func(ctx context.Context, sessionID string) []string

// SocketOptions tunes the EventSub WebSocket lifecycle
type SocketOptions struct {
	URL              string
	WelcomeTimeout   time.Duration
	MaxRetryAttempts int
}

// Socket owns one EventSub WebSocket session and its reconnect loop. The lifecycle
// is: dial, await session_welcome, run subscription setup, then pump notifications
// until the connection drops, reconnecting with exponential backoff and jitter.
type Socket struct {
	opts   SocketOptions
	bus    *event.Bus
	setup  SetupFunc
	notify NotificationFunc

	mu            sync.Mutex
	sessionID     string
	reconnectURL  string
	isConnected   bool
	isInitialized bool
}

func NewSocket(bus *event.Bus, setup SetupFunc, notify NotificationFunc, opts SocketOptions) *Socket {
	if opts.URL == "" {
		opts.URL = DefaultSocketURL
	}
	if opts.WelcomeTimeout <= 0 {
		opts.WelcomeTimeout = defaultWelcomeTimeout
	}
	if opts.MaxRetryAttempts <= 0 {
		opts.MaxRetryAttempts = defaultMaxRetryAttempts
	}
	return &Socket{
		opts:   opts,
		bus:    bus,
		setup:  setup,
		notify: notify,
	}
}

// Connect establishes the first session synchronously, so the caller learns
// immediately whether subscription setup succeeded, then keeps the session alive in
// the background until ctx is canceled.
func (s *Socket) Connect(ctx context.Context) error {
	conn, err := s.openSession(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.isInitialized = true
	s.mu.Unlock()

	go s.runLoop(ctx, conn)
	return nil
}

// IsConnected reports whether a session is currently established
func (s *Socket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isConnected
}

// IsInitialized reports whether the socket is still managing its connection; it
// goes false once reconnect attempts are exhausted
func (s *Socket) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isInitialized
}

// SessionID returns the id of the current session, empty when disconnected
func (s *Socket) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// openSession dials, waits for session_welcome, and runs subscription setup. Only
// after setup succeeds is the socket marked connected.
func (s *Socket) openSession(ctx context.Context) (*websocket.Conn, error) {
	url := s.opts.URL
	s.mu.Lock()
	if s.reconnectURL != "" {
		url = s.reconnectURL
		s.reconnectURL = ""
	}
	s.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial EventSub socket at %s: %w", url, err)
	}

	conn.SetReadDeadline(time.Now().Add(s.opts.WelcomeTimeout))
	var welcome socketMessage
	if err := conn.ReadJSON(&welcome); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrWelcomeTimeout, err)
	}
	conn.SetReadDeadline(time.Time{})
	if welcome.Metadata.MessageType != messageTypeWelcome {
		conn.Close()
		return nil, fmt.Errorf("expected session_welcome, got '%s'", welcome.Metadata.MessageType)
	}
	var session sessionPayload
	if err := json.Unmarshal(welcome.Payload, &session); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to decode session_welcome payload: %w", err)
	}

	sessionID := session.Session.ID
	if failures := s.setup(ctx, sessionID); len(failures) > 0 {
		conn.Close()
		s.bus.Publish(event.TopicEventSubSubFailed, SessionSetupFailed{
			SessionID: sessionID,
			Failures:  failures,
		})
		return nil, fmt.Errorf("failed to establish %d EventSub subscription(s): %v", len(failures), failures)
	}

	s.mu.Lock()
	s.sessionID = sessionID
	s.isConnected = true
	s.mu.Unlock()

	s.bus.Publish(event.TopicEventSubConnected, SessionConnected{SessionID: sessionID})
	telemetry.Infof("twitch: EventSub session %s established", sessionID)
	return conn, nil
}

// runLoop pumps the current session and reconnects on failure. A session that
// lasted over a minute resets the retry counter.
func (s *Socket) runLoop(ctx context.Context, conn *websocket.Conn) {
	attempt := 0
	for {
		start := time.Now()
		err := s.pump(ctx, conn)
		s.mu.Lock()
		s.isConnected = false
		s.sessionID = ""
		s.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		if time.Since(start) > time.Minute {
			attempt = 0
		}

		attempt++
		if attempt > s.opts.MaxRetryAttempts {
			s.mu.Lock()
			s.isInitialized = false
			s.mu.Unlock()
			telemetry.Errorf("twitch: %v after %d attempts (last error: %v)", ErrRetriesExhausted, s.opts.MaxRetryAttempts, err)
			return
		}

		backoff := backoffWithJitter(attempt)
		telemetry.Warnf("twitch: EventSub session lost (attempt %d): %v; retrying in %s", attempt, err, backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		next, openErr := s.openSession(ctx)
		if openErr != nil {
			err = openErr
			conn = nil
			// Dial failures loop straight back into the retry accounting
			continue
		}
		conn = next
	}
}

// pump reads frames from one session until it fails or a reconnect is requested
func (s *Socket) pump(ctx context.Context, conn *websocket.Conn) error {
	if conn == nil {
		return errors.New("no connection")
	}
	defer conn.Close()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var msg socketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		switch msg.Metadata.MessageType {
		case messageTypeKeepalive:
			// nothing to do
		case messageTypeReconnect:
			var session sessionPayload
			if err := json.Unmarshal(msg.Payload, &session); err == nil && session.Session.ReconnectURL != "" {
				s.mu.Lock()
				s.reconnectURL = session.Session.ReconnectURL
				s.mu.Unlock()
				telemetry.Infof("twitch: session_reconnect received; will use reconnect URL on next attempt")
			}
			return errors.New("server requested reconnect")
		case messageTypeRevocation:
			var notif notificationPayload
			if err := json.Unmarshal(msg.Payload, &notif); err == nil {
				telemetry.Warnf("twitch: subscription '%s' revoked", notif.Subscription.Type)
			}
		case messageTypeNotification:
			var notif notificationPayload
			if err := json.Unmarshal(msg.Payload, &notif); err != nil {
				telemetry.Warnf("twitch: undecodable notification: %v", err)
				continue
			}
			s.notify(notif.Subscription.Type, msg.Metadata.MessageTimestamp, notif.Event)
		}
	}
}

// backoffWithJitter returns an exponential backoff capped at maxReconnectBackoff,
// with up to 25% random jitter to avoid thundering reconnects
func backoffWithJitter(attempt int) time.Duration {
	exp := float64(minReconnectBackoff) * math.Pow(2, float64(min(attempt-1, 5)))
	backoff := time.Duration(exp)
	if backoff > maxReconnectBackoff {
		backoff = maxReconnectBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(backoff) / 4))
	return backoff + jitter
}
