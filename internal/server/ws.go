package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/danshapiro/routeforge/internal/jobs"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsMaxMessage = 4 << 10
)

// upgrader accepts any origin: the service runs behind a trusted frontend
// and the channel carries no mutating operations.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// clientMessage is what a connected client sends.
type clientMessage struct {
	Event  string `json:"event"`
	JobID  string `json:"jobId,omitempty"`
	UserID string `json:"userId,omitempty"`
}

// updateMessage is the only server-to-client message.
type updateMessage struct {
	Event string       `json:"event"`
	JobID string       `json:"jobId"`
	Data  updatePayload `json:"data"`
}

type updatePayload struct {
	Status   jobs.Status    `json:"status,omitempty"`
	Progress *jobs.Progress `json:"progress,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// handleWebSocket runs one client connection: a read loop interpreting
// identify/subscribe/unsubscribe, and a write loop pumping job events.
// Subscriptions do not survive reconnects; clients re-subscribe.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", zap.Error(err))
		return
	}

	bc := s.registry.Broadcaster()
	sub := bc.Register()
	log := s.log.With(zap.String("remote", conn.RemoteAddr().String()))

	go s.writePump(conn, sub, log)
	s.readPump(conn, bc, sub, log)
}

func (s *Server) readPump(conn *websocket.Conn, bc *jobs.Broadcaster, sub *jobs.Subscriber, log *zap.Logger) {
	defer func() {
		bc.Remove(sub)
		_ = conn.Close()
	}()
	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("websocket closed", zap.Error(err))
			}
			return
		}
		switch msg.Event {
		case "identify":
			log.Debug("client identified", zap.String("user_id", msg.UserID))
		case "subscribe":
			if msg.JobID != "" {
				bc.Subscribe(msg.JobID, sub)
			}
		case "unsubscribe":
			if msg.JobID != "" {
				bc.Unsubscribe(msg.JobID, sub)
			}
		default:
			log.Debug("unknown websocket event", zap.String("event", msg.Event))
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, sub *jobs.Subscriber, log *zap.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case ev, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				// Removed: disconnect or slow-client drop.
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			out := updateMessage{
				Event: "job_update",
				JobID: ev.JobID,
				Data: updatePayload{
					Status:   ev.Status,
					Progress: ev.Progress,
					Error:    ev.Error,
				},
			}
			if err := conn.WriteJSON(out); err != nil {
				log.Debug("websocket write", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
