// Package sse serves a channel of JSON-serializable values to any number of HTTP
// clients as a Server-Sent Events stream.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stagehand-live/stagehand/internal/telemetry"
)

const keepaliveInterval = 30 * time.Second

// Handler is an HTTP handler that streams messages via Server-Sent Events
type Handler[T any] struct {
	ctx context.Context
	b   bus[T]

	// OnConnectEventFunc, when set, resolves an initial value sent to each client
	// immediately on connect
	OnConnectEventFunc func() T
}

// NewHandler initializes an SSE handler that reads messages from ch and fans them
// out to all open HTTP connections until ctx is canceled
func NewHandler[T any](ctx context.Context, ch <-chan T) *Handler[T] {
	h := &Handler[T]{
		ctx: ctx,
		b:   newBus[T](),
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				h.b.clear()
				return
			case message := <-ch:
				h.b.publish(message)
			}
		}
	}()
	return h
}

// ServeHTTP holds the connection open and writes each received message as a
// text/event-stream data frame, with periodic keepalive comments
func (h *Handler[T]) ServeHTTP(res http.ResponseWriter, req *http.Request) {
	accept := req.Header.Get("accept")
	if accept != "" && accept != "*/*" && !strings.HasPrefix(accept, "text/event-stream") {
		http.Error(res, fmt.Sprintf("content-type %s is not supported", accept), http.StatusBadRequest)
		return
	}

	flusher, ok := res.(http.Flusher)
	if !ok {
		http.Error(res, "streaming is not supported", http.StatusInternalServerError)
		return
	}

	res.Header().Set("content-type", "text/event-stream")
	res.Header().Set("cache-control", "no-cache")
	res.Header().Set("connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	flusher.Flush()

	if h.OnConnectEventFunc != nil {
		h.write(res, flusher, h.OnConnectEventFunc())
	} else {
		res.Write([]byte(":\n\n"))
		flusher.Flush()
	}

	ch := make(chan T, 32)
	h.b.register(ch)
	defer h.b.unregister(ch)

	telemetry.Debugf("sse: opened connection to %s", req.RemoteAddr)
	for {
		select {
		case <-time.After(keepaliveInterval):
			res.Write([]byte(":\n\n"))
			flusher.Flush()
		case message := <-ch:
			h.write(res, flusher, message)
		case <-h.ctx.Done():
			telemetry.Debugf("sse: shutting down, abandoning connection to %s", req.RemoteAddr)
			return
		case <-req.Context().Done():
			telemetry.Debugf("sse: connection to %s closed", req.RemoteAddr)
			return
		}
	}
}

func (h *Handler[T]) write(res http.ResponseWriter, flusher http.Flusher, message T) {
	data, err := json.Marshal(message)
	if err != nil {
		telemetry.Errorf("sse: failed to serialize message: %v", err)
		return
	}
	fmt.Fprintf(res, "data: %s\n\n", data)
	flusher.Flush()
}
