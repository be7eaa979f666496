// Package server exposes the local HTTP surface: a JSON status endpoint for
// monitoring and an SSE feed of processed notifications for overlay debugging.
package server

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/stagehand-live/stagehand/internal/display"
	"github.com/stagehand-live/stagehand/internal/event"
	"github.com/stagehand-live/stagehand/internal/sse"
	"github.com/stagehand-live/stagehand/internal/telemetry"
)

// StatusFunc resolves the current status snapshot on each request
type StatusFunc func() Status

// Status reports per-platform connection state and pipeline depth
type Status struct {
	Platforms  map[string]PlatformStatus `json:"platforms"`
	QueueDepth int                       `json:"queueDepth"`
}

type PlatformStatus struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
	Live      bool `json:"live"`
}

type Server struct {
	http.Handler

	getStatus StatusFunc
	alerts    chan *display.Item
	sub       *event.Subscription
}

// New builds the HTTP surface. Processed notifications arriving on the bus are
// relayed to /alerts subscribers until ctx is canceled.
func New(ctx context.Context, bus *event.Bus, getStatus StatusFunc) *Server {
	s := &Server{
		getStatus: getStatus,
		alerts:    make(chan *display.Item, 32),
	}
	s.sub = bus.Subscribe(event.TopicNotificationProcessed, func(payload any) error {
		if item, ok := payload.(*display.Item); ok {
			select {
			case s.alerts <- item:
			default:
			}
		}
		return nil
	})
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	r := mux.NewRouter()
	r.Path("/status").Methods("GET").HandlerFunc(s.handleStatus)
	r.Path("/alerts").Methods("GET").Handler(sse.NewHandler[*display.Item](ctx, s.alerts))
	s.Handler = cors.AllowAll().Handler(r)
	return s
}

// Close disposes the bus subscription feeding /alerts
func (s *Server) Close() {
	if s.sub != nil {
		if err := s.sub.Dispose(); err != nil {
			telemetry.Warnf("server: dispose alerts subscription: %v", err)
		}
		s.sub = nil
	}
}
