package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rflorenc/fitsync/internal/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Event is one message on the migration event stream.
type Event struct {
	Type string      `json:"type"` // "state", "progress" or "result"
	Data interface{} `json:"data"`
}

const (
	eventBuffer  = 64
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// StreamMigrationEvents streams migration state, progress and results over
// WebSocket. The current state is sent once subscriptions are in place. Migrations publish on their
// own goroutine, so a client that cannot keep up loses events rather than
// stalling the migration; the state event that follows every change lets it
// catch up.
func (s *Server) StreamMigrationEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events := make(chan Event, eventBuffer)
	send := func(e Event) {
		select {
		case events <- e:
		default:
			s.logger().Warn("event stream client is slow, dropping event", "type", e.Type)
		}
	}
	unsubs := []func(){
		s.Migrations.OnStateChange(func(st models.MigrationState) { send(Event{Type: "state", Data: st}) }),
		s.Migrations.OnProgress(func(p models.MigrationProgress) { send(Event{Type: "progress", Data: p}) }),
		s.Migrations.OnResult(func(res models.MigrationResult) { send(Event{Type: "result", Data: res}) }),
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()
	send(Event{Type: "state", Data: s.Migrations.State()})

	// Reader: detects the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case e := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
