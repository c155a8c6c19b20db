package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/turbine-shutdown/backend/internal/models"
)

// WebSocket message types for the session stream
const (
	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeEvent     = "event"
	MsgTypeError     = "error"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// WSMessage is one frame sent to a stream subscriber
type WSMessage struct {
	Type      string               `json:"type"`
	SessionID string               `json:"sessionId,omitempty"`
	Event     *models.SessionEvent `json:"event,omitempty"`
	Message   string               `json:"message,omitempty"`
	Timestamp int64                `json:"timestamp"`
}

// WebSocketHandler streams committed session events to clients
type WebSocketHandler struct {
	sessions SessionService
	events   EventSource
	upgrader websocket.Upgrader
	log      *zap.SugaredLogger
}

// NewWebSocketHandler creates a new session stream handler
func NewWebSocketHandler(sessions SessionService, events EventSource, log *zap.SugaredLogger) StreamHandler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &WebSocketHandler{
		sessions: sessions,
		events:   events,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		log: log,
	}
}

// HandleSessionStream upgrades the connection and forwards every event of
// the session until the client disconnects or the session ends. The
// subscription is taken before the session is read so no event committed in
// between is missed. A session that has already ended is closed right after
// the connected message.
func (wsh *WebSocketHandler) HandleSessionStream(c echo.Context) error {
	sessionID := c.Param("id")
	events, unsubscribe := wsh.events.Subscribe(sessionID)
	defer unsubscribe()

	sess, err := wsh.sessions.Get(sessionID)
	if err != nil {
		return FromDomainError(err)
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	wsh.log.Debugw("Stream client connected", "session", sessionID, "remote", c.RealIP())

	closed := make(chan struct{})
	go wsh.readLoop(ws, closed)

	if err := wsh.send(ws, WSMessage{Type: MsgTypeConnected, SessionID: sessionID}); err != nil {
		return nil
	}
	if sess.Status.Terminal() {
		wsh.closeNormal(ws)
		return nil
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			wsh.log.Debugw("Stream client disconnected", "session", sessionID)
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := wsh.send(ws, WSMessage{Type: MsgTypeEvent, SessionID: sessionID, Event: &ev}); err != nil {
				wsh.log.Debugw("Stream write failed", "session", sessionID, "error", err)
				return nil
			}
			if ev.Type == models.EventSessionCompleted || ev.Type == models.EventSessionAborted {
				wsh.closeNormal(ws)
				return nil
			}
		case <-ping.C:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}

// readLoop discards client frames and closes done once the peer goes away.
func (wsh *WebSocketHandler) readLoop(ws *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (wsh *WebSocketHandler) send(ws *websocket.Conn, msg WSMessage) error {
	msg.Timestamp = time.Now().UnixMilli()
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return ws.WriteJSON(msg)
}

func (wsh *WebSocketHandler) closeNormal(ws *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
