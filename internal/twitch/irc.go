package twitch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	irc "github.com/gempir/go-twitch-irc/v4"

	"github.com/stagehand-live/stagehand/internal/event"
)

var ErrChatNotConnected = errors.New("chat connection not open")

// ircConnection is the subset of the IRC client the chat agent drives, split out so
// tests can stand in for the real client
type ircConnection interface {
	OnConnect(func())
	Connect() error
	Disconnect() error
}

// ChatAgent reads channel chat over anonymous IRC, for configurations where the
// chat transport is 'irc' instead of EventSub. Messages are normalized into the
// same chat-message shape the EventSub path produces.
type ChatAgent struct {
	client      ircConnection
	channelName string
	selfUserID  string
	emit        EmitFunc

	connectErrChan chan error
	open           bool
	lastErr        error
}

// NewChatAgent prepares an anonymous IRC client joined to the given channel.
// selfUserID marks the broadcaster's own messages so downstream consumers can
// ignore them.
func NewChatAgent(channelName, selfUserID string, emit EmitFunc) *ChatAgent {
	a := &ChatAgent{
		channelName:    channelName,
		selfUserID:     selfUserID,
		emit:           emit,
		connectErrChan: make(chan error),
	}
	client := irc.NewAnonymousClient()
	client.OnPrivateMessage(a.handleMessage)
	client.Join(channelName)
	a.client = client
	return a
}

// Connect opens the IRC connection, blocking until connected or ctx is done
func (a *ChatAgent) Connect(ctx context.Context) error {
	// Write nil (indicating no error) when connection succeeds, limited to the scope
	// of this function
	a.client.OnConnect(func() { a.connectErrChan <- nil })
	defer a.client.OnConnect(nil)

	// Connect() is blocking, so run it in a separate goroutine and signal its return
	// value by writing to the error channel
	go func() {
		a.connectErrChan <- a.client.Connect()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("context canceled while waiting to connect to chat: %v", ctx.Err())
	case err := <-a.connectErrChan:
		if err != nil {
			a.lastErr = err
			return err
		}
	}

	// Connected. The client.Connect() goroutine is still running; if it later
	// returns an error, record it so GetStatus reflects the dropped connection.
	a.open = true
	go func() {
		if err := <-a.connectErrChan; err != nil {
			a.open = false
			a.lastErr = err
		}
	}()
	return nil
}

func (a *ChatAgent) GetStatus() error {
	if a.lastErr == nil && !a.open {
		return ErrChatNotConnected
	}
	return a.lastErr
}

func (a *ChatAgent) Disconnect() error {
	if !a.open {
		return ErrChatNotConnected
	}
	a.open = false
	return a.client.Disconnect()
}

func (a *ChatAgent) handleMessage(m irc.PrivateMessage) {
	badges := event.Badges{
		Broadcaster: m.User.Badges["broadcaster"] > 0,
		Moderator:   m.User.Badges["moderator"] > 0,
		Subscriber:  m.User.Badges["subscriber"] > 0 || m.User.Badges["founder"] > 0,
	}
	emotes := make([]event.EmoteDetails, 0, len(m.Emotes))
	for _, e := range m.Emotes {
		emotes = append(emotes, event.EmoteDetails{
			Name: e.Name,
			Url:  fmt.Sprintf("https://static-cdn.jtvnw.net/emoticons/v2/%s/default/dark/1.0", e.ID),
		})
	}
	var tmiSentMs int64
	if raw, ok := m.Tags["tmi-sent-ts"]; ok {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			tmiSentMs = parsed
		}
	}
	ts := m.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	a.emit(&event.Event{
		Type:     event.TypeChatMessage,
		Platform: event.PlatformTwitch,
		Data: event.Data{ChatMessage: &event.ChatMessage{
			Username:     m.User.Name,
			UserID:       m.User.ID,
			DisplayName:  m.User.DisplayName,
			MessageText:  m.Message,
			Badges:       badges,
			Color:        m.User.Color,
			Emotes:       emotes,
			TimestampIso: event.IsoTimestamp(ts),
			TmiSentMs:    tmiSentMs,
			IsSelf:       a.selfUserID != "" && m.User.ID == a.selfUserID,
		}},
	})
}
