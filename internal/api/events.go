package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mintmesh/wallet_layer/internal/events"
	"github.com/mintmesh/wallet_layer/internal/httputil"
)

const (
	eventBuffer   = 64
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The gateway binds to loopback for the local client; origin checks
	// belong to the outer reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents streams every bus event to the client as JSON frames. A
// slow client drops events rather than blocking publishers.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Bus == nil {
		httputil.NotFound(w, "event stream is not enabled")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	stream := make(chan events.Event, eventBuffer)
	subs := s.cfg.Bus.SubscribeAll(func(ctx context.Context, ev events.Event) {
		select {
		case stream <- ev:
		default:
		}
	})
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	// The read loop only exists to notice the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case ev := <-stream:
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
