// Package obs implements the subset of the OBS WebSocket v5 protocol the overlay
// pipeline uses: writing text sources, toggling source visibility, and triggering
// media playback. Requests are serialized through a single writer goroutine, so the
// core issues one logical request per display item without racing the socket.
package obs

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/stagehand-live/stagehand/internal/telemetry"
)

var ErrNotConnected = errors.New("OBS client is not connected")

const identifyTimeout = 10 * time.Second

// Client is a connection to OBS over its v5 WebSocket protocol
type Client struct {
	mu       sync.Mutex
	conn     *websocket.Conn
	pending  map[string]chan responseData
	writeMu  sync.Mutex
	closed   bool
	done     chan struct{}
}

// Connect dials the OBS WebSocket, performs version negotiation, and answers the
// authentication challenge when a password is configured
func Connect(ctx context.Context, url, password string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial OBS at %s: %w", url, err)
	}

	c := &Client{
		conn:    conn,
		pending: make(map[string]chan responseData),
		done:    make(chan struct{}),
	}
	if err := c.identify(password); err != nil {
		conn.Close()
		return nil, err
	}
	go c.readPump()
	return c, nil
}

func (c *Client) identify(password string) error {
	c.conn.SetReadDeadline(time.Now().Add(identifyTimeout))
	defer c.conn.SetReadDeadline(time.Time{})

	var hello envelope
	if err := c.conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("failed to read OBS hello: %w", err)
	}
	if hello.Op != opHello {
		return fmt.Errorf("expected hello (op %d) from OBS, got op %d", opHello, hello.Op)
	}
	var helloPayload helloData
	if err := json.Unmarshal(hello.D, &helloPayload); err != nil {
		return fmt.Errorf("failed to decode OBS hello: %w", err)
	}

	identify := identifyData{RpcVersion: rpcVersion}
	if helloPayload.Authentication != nil {
		if password == "" {
			return errors.New("OBS requires authentication but no password is configured")
		}
		identify.Authentication = buildAuthResponse(
			password,
			helloPayload.Authentication.Salt,
			helloPayload.Authentication.Challenge,
		)
	}
	if err := c.writeEnvelope(opIdentify, identify); err != nil {
		return fmt.Errorf("failed to send identify: %w", err)
	}

	var identified envelope
	if err := c.conn.ReadJSON(&identified); err != nil {
		return fmt.Errorf("failed to read identified: %w", err)
	}
	if identified.Op != opIdentified {
		return fmt.Errorf("OBS rejected identification (op %d)", identified.Op)
	}
	telemetry.Infof("obs: connected (server version %s)", helloPayload.ObsWebSocketVersion)
	return nil
}

// buildAuthResponse computes the OBS v5 challenge response:
// base64(sha256(base64(sha256(password + salt)) + challenge))
func buildAuthResponse(password, salt, challenge string) string {
	secretHash := sha256.Sum256([]byte(password + salt))
	secret := base64.StdEncoding.EncodeToString(secretHash[:])
	responseHash := sha256.Sum256([]byte(secret + challenge))
	return base64.StdEncoding.EncodeToString(responseHash[:])
}

func (c *Client) readPump() {
	defer close(c.done)
	for {
		var env envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			c.failPending(err)
			return
		}
		if env.Op != opResponse {
			continue
		}
		var resp responseData
		if err := json.Unmarshal(env.D, &resp); err != nil {
			telemetry.Warnf("obs: undecodable response frame: %v", err)
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.RequestID]
		delete(c.pending, resp.RequestID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	_ = err
}

func (c *Client) writeEnvelope(op int, d any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(envelope{Op: op, D: raw})
}

// Call issues a request and waits for its response or ctx cancellation
func (c *Client) Call(ctx context.Context, requestType string, data any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	id := uuid.NewString()
	ch := make(chan responseData, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	err := c.writeEnvelope(opRequest, requestData{
		RequestType: requestType,
		RequestID:   id,
		RequestData: data,
	})
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("failed to send %s request: %w", requestType, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		if !resp.RequestStatus.Result {
			return nil, fmt.Errorf("%s failed with code %d: %s", requestType, resp.RequestStatus.Code, resp.RequestStatus.Comment)
		}
		return resp.ResponseData, nil
	}
}

// SetTextSourceText writes text into a text input
func (c *Client) SetTextSourceText(ctx context.Context, inputName, textValue string) error {
	_, err := c.Call(ctx, "SetInputSettings", map[string]any{
		"inputName":     inputName,
		"inputSettings": map[string]any{"text": textValue},
		"overlay":       true,
	})
	return err
}

// SetSourceVisibility enables or disables a scene item by source name
func (c *Client) SetSourceVisibility(ctx context.Context, sceneName, sourceName string, visible bool) error {
	raw, err := c.Call(ctx, "GetSceneItemId", map[string]any{
		"sceneName":  sceneName,
		"sourceName": sourceName,
	})
	if err != nil {
		return err
	}
	var idResp struct {
		SceneItemID int `json:"sceneItemId"`
	}
	if err := json.Unmarshal(raw, &idResp); err != nil {
		return fmt.Errorf("failed to decode scene item id: %w", err)
	}
	_, err = c.Call(ctx, "SetSceneItemEnabled", map[string]any{
		"sceneName":        sceneName,
		"sceneItemId":      idResp.SceneItemID,
		"sceneItemEnabled": visible,
	})
	return err
}

// PlayMedia points a media input at a file and restarts playback
func (c *Client) PlayMedia(ctx context.Context, inputName, filePath string) error {
	_, err := c.Call(ctx, "SetInputSettings", map[string]any{
		"inputName":     inputName,
		"inputSettings": map[string]any{"local_file": filePath},
		"overlay":       true,
	})
	if err != nil {
		return err
	}
	_, err = c.Call(ctx, "TriggerMediaInputAction", map[string]any{
		"inputName":   inputName,
		"mediaAction": "OBS_WEBSOCKET_MEDIA_INPUT_ACTION_RESTART",
	})
	return err
}

// Close shuts the connection down
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.conn.Close()
	<-c.done
	return err
}
