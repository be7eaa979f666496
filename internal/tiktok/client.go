// Package tiktok implements the TikTok platform adapter, reading LIVE events from a
// WebCast gateway over WebSocket and normalizing them into the platform-neutral
// schema.
package tiktok

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/stagehand-live/stagehand/internal/telemetry"
)

// WebCast event classes the adapter listens for. The control-prefixed classes are
// connection lifecycle signals from the gateway itself rather than room events.
const (
	EventChat                = "CHAT"
	EventGift                = "GIFT"
	EventFollow              = "FOLLOW"
	EventSocial              = "SOCIAL"
	EventRoomUser            = "ROOM_USER"
	EventEnvelope            = "ENVELOPE"
	EventSubscribe           = "SUBSCRIBE"
	EventSuperFan            = "SUPER_FAN"
	EventError               = "ERROR"
	EventDisconnect          = "DISCONNECT"
	EventStreamEnd           = "STREAM_END"
	EventControlConnected    = "control:CONNECTED"
	EventControlDisconnected = "control:DISCONNECTED"
	EventControlError        = "control:ERROR"
	EventRawData             = "rawData"
)

var ErrClientNotConnected = errors.New("webcast client not connected")

// ListenerFunc handles the raw payload of one WebCast event
type ListenerFunc func(data json.RawMessage)

// Client is the WebCast transport the adapter installs its listeners on
type Client interface {
	Connect(ctx context.Context) error
	Disconnect() error
	AddListener(eventName string, fn ListenerFunc) (int, error)
	RemoveListener(eventName string, id int) error
}

// webcastFrame is the shape of every message the gateway relays
type webcastFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// WebcastClient reads a TikTok LIVE room through a WebCast relay gateway. The
// gateway speaks JSON frames tagged with the event class; the client dispatches
// each frame to the listeners registered for that class, plus the rawData tap.
type WebcastClient struct {
	gatewayURL string
	uniqueID   string
	sessionID  string

	mu        sync.Mutex
	conn      *websocket.Conn
	listeners map[string]map[int]ListenerFunc
	nextID    int
	connected bool
}

func NewWebcastClient(gatewayURL, uniqueID, sessionID string) *WebcastClient {
	return &WebcastClient{
		gatewayURL: gatewayURL,
		uniqueID:   uniqueID,
		sessionID:  sessionID,
		listeners:  make(map[string]map[int]ListenerFunc),
	}
}

// Connect dials the gateway and starts reading frames. It returns once the socket
// is open; the control:CONNECTED event fires through the listener table.
func (c *WebcastClient) Connect(ctx context.Context) error {
	u, err := url.Parse(c.gatewayURL)
	if err != nil {
		return fmt.Errorf("invalid webcast gateway url: %w", err)
	}
	q := u.Query()
	q.Set("uniqueId", c.uniqueID)
	if c.sessionID != "" {
		q.Set("sessionId", c.sessionID)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to dial webcast gateway: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.dispatch(EventControlConnected, nil)
	go c.readPump(conn)
	return nil
}

func (c *WebcastClient) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	wasConnected := c.connected
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
	if !wasConnected || conn == nil {
		return ErrClientNotConnected
	}
	return conn.Close()
}

// AddListener registers fn for the given event class and returns a handle usable
// with RemoveListener
func (c *WebcastClient) AddListener(eventName string, fn ListenerFunc) (int, error) {
	if eventName == "" {
		return 0, errors.New("listener event name may not be empty")
	}
	if fn == nil {
		return 0, errors.New("listener function may not be nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	if c.listeners[eventName] == nil {
		c.listeners[eventName] = make(map[int]ListenerFunc)
	}
	c.listeners[eventName][id] = fn
	return id, nil
}

func (c *WebcastClient) RemoveListener(eventName string, id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	byID, ok := c.listeners[eventName]
	if !ok {
		return fmt.Errorf("no listeners registered for event '%s'", eventName)
	}
	if _, ok := byID[id]; !ok {
		return fmt.Errorf("no listener %d registered for event '%s'", id, eventName)
	}
	delete(byID, id)
	if len(byID) == 0 {
		delete(c.listeners, eventName)
	}
	return nil
}

func (c *WebcastClient) readPump(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			wasConnected := c.connected
			c.connected = false
			c.mu.Unlock()
			if wasConnected {
				telemetry.Warnf("tiktok: webcast connection lost: %v", err)
				c.dispatch(EventDisconnect, nil)
				c.dispatch(EventControlDisconnected, nil)
			}
			return
		}
		var frame webcastFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			telemetry.Warnf("tiktok: discarding malformed webcast frame: %v", err)
			continue
		}
		c.dispatch(EventRawData, payload)
		c.dispatch(frame.Event, frame.Data)
	}
}

// dispatch invokes every listener registered for the event class, isolating
// listener panics so one bad handler cannot kill the read pump
func (c *WebcastClient) dispatch(eventName string, data json.RawMessage) {
	c.mu.Lock()
	fns := make([]ListenerFunc, 0, len(c.listeners[eventName]))
	for _, fn := range c.listeners[eventName] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					telemetry.Errorf("tiktok: listener for '%s' panicked: %v", eventName, r)
				}
			}()
			fn(data)
		}()
	}
}

var _ Client = (*WebcastClient)(nil)
