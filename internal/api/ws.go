package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chaz8081/meetscribe/internal/jobs"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10
)

// handleJobEvents streams job events to a websocket client. A "since" query
// parameter replays buffered events with a greater sequence number first.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	var since int64 = -1
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		since = n
	}

	// Subscribed before the handshake: events after Dial returns are delivered.
	events, unsubscribe := s.deps.Events.Subscribe(256)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		unsubscribe()
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	var backlog []jobs.Event
	if since >= 0 {
		backlog = s.deps.Events.Since(since)
	}

	done := make(chan struct{})
	go readPump(conn, done)
	go writePump(conn, backlog, events, unsubscribe, done)
}

func writePump(conn *websocket.Conn, backlog []jobs.Event, events <-chan jobs.Event, unsubscribe func(), done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		unsubscribe()
		conn.Close()
	}()

	var lastSeq int64
	send := func(ev jobs.Event) bool {
		if ev.Seq <= lastSeq {
			return true
		}
		lastSeq = ev.Seq
		data, err := json.Marshal(ev)
		if err != nil {
			return false
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, data) == nil
	}

	for _, ev := range backlog {
		if !send(ev) {
			return
		}
	}

	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !send(ev) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains control frames and closes done when the peer goes away.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket read error", "error", err)
			}
			return
		}
	}
}
