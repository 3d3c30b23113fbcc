package api

import (
	"net/http"
	"time"

	"github.com/docingest/backend/internal/events"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// Message types on the event stream besides relayed pipeline events
const (
	MsgTypeConnected = "connected"
	MsgTypePing      = "ping"
	MsgTypePong      = "pong"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WSMessage is a control message on the event stream.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// EventStreamHandler relays hub events to websocket clients
type EventStreamHandler struct {
	source   EventSource
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

// NewEventStreamHandler creates a new event stream handler
func NewEventStreamHandler(source EventSource, logger logrus.FieldLogger) *EventStreamHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &EventStreamHandler{
		source: source,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// CORS is enforced by middleware
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		log: logger.WithField("component", "events-ws"),
	}
}

// HandleEvents upgrades the connection and streams events until the client
// disconnects or the hub stops.
func (h *EventStreamHandler) HandleEvents(c echo.Context) error {
	sub := h.source.Subscribe()
	if sub == nil {
		return NewServiceUnavailableError("event stream is shutting down")
	}
	defer sub.Cancel()

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	log := h.log.WithField("subscriber", sub.ID)
	log.Info("client connected")

	h.send(ws, WSMessage{Type: MsgTypeConnected, ID: sub.ID, Timestamp: time.Now().UnixMilli()})

	// Reader: answers pings and notices disconnects.
	closed := make(chan struct{})
	pings := make(chan struct{}, 1)
	go func() {
		defer close(closed)
		ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			var msg WSMessage
			if err := ws.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.WithError(err).Debug("connection error")
				}
				return
			}
			ws.SetReadDeadline(time.Now().Add(pongWait))
			if msg.Type == MsgTypePing {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			log.Info("client disconnected")
			return nil
		case <-pings:
			if !h.send(ws, WSMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()}) {
				return nil
			}
		case ev, ok := <-sub.C:
			if !ok {
				ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
				return nil
			}
			if !h.send(ws, ev) {
				return nil
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return nil
			}
		}
	}
}

func (h *EventStreamHandler) send(ws *websocket.Conn, v interface{}) bool {
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(v); err != nil {
		h.log.WithError(err).Debug("failed to send message")
		return false
	}
	return true
}

var _ EventHandler = (*EventStreamHandler)(nil)
var _ EventSource = (*events.Hub)(nil)
