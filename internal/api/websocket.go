package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"hedge-core/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
	wsBuffer     = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket replays the log history, then streams every broadcast message.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.deps.Hub == nil {
		_ = conn.WriteJSON(gin.H{"type": "error", "message": "broadcast not ready"})
		return
	}

	// Subscribe before replaying so nothing published in between is lost.
	stream, unsub := s.deps.Hub.Bus().Subscribe(events.EventBroadcast, wsBuffer)
	defer unsub()

	for _, msg := range s.deps.Hub.History() {
		if err := write(conn, msg); err != nil {
			return
		}
	}
	if err := write(conn, s.statusMessage()); err != nil {
		return
	}

	// The reader only handles control frames and notices disconnects.
	closed := make(chan struct{})
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case msg, ok := <-stream:
			if !ok {
				return
			}
			if err := write(conn, msg); err != nil {
				log.Debugf("ws write error: %v", err)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func (s *Server) statusMessage() events.StatusMessage {
	st := s.deps.Trading.Status()
	msg := "idle"
	if st.IsRunning && st.Progress != nil {
		msg = "task " + st.Progress.TaskName + " running"
	}
	return events.StatusMessage{Type: "status", Message: msg, IsRunning: st.IsRunning}
}

func write(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(v)
}
