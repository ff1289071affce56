package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"taixiu-backend/internal/middleware"
	"taixiu-backend/internal/models"
	"taixiu-backend/internal/services"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSize = 32
)

var errHubStopped = errors.New("websocket hub stopped")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHub fans scope events out to subscribed display clients. It
// implements services.Broadcaster.
type WebSocketHub struct {
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	done       chan struct{}
	log        *zap.Logger
}

type Client struct {
	Scope         string
	ParticipantID string
	Conn          *websocket.Conn
	send          chan []byte
	control       chan []byte
}

type Message struct {
	Scope   string
	Payload []byte
}

type clientMessage struct {
	Type string `json:"type"`
}

func NewWebSocketHub(log *zap.Logger) *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 256),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run serves the hub until ctx is done, then closes every client.
func (hub *WebSocketHub) Run(ctx context.Context) {
	defer close(hub.done)
	for {
		select {
		case <-ctx.Done():
			for _, clients := range hub.clients {
				for client := range clients {
					close(client.send)
				}
			}
			hub.clients = make(map[string]map[*Client]struct{})
			return

		case client := <-hub.register:
			clients, ok := hub.clients[client.Scope]
			if !ok {
				clients = make(map[*Client]struct{})
				hub.clients[client.Scope] = clients
			}
			clients[client] = struct{}{}
			hub.log.Debug("client registered",
				zap.String("scope", client.Scope),
				zap.String("participant_id", client.ParticipantID),
			)

		case client := <-hub.unregister:
			hub.remove(client)

		case message := <-hub.broadcast:
			for client := range hub.clients[message.Scope] {
				select {
				case client.send <- message.Payload:
				default:
					// Slow consumer.
					hub.remove(client)
				}
			}
		}
	}
}

func (hub *WebSocketHub) remove(client *Client) {
	clients, ok := hub.clients[client.Scope]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(hub.clients, client.Scope)
	}
	hub.log.Debug("client unregistered",
		zap.String("scope", client.Scope),
		zap.String("participant_id", client.ParticipantID),
	)
}

func (hub *WebSocketHub) BroadcastSnapshot(ctx context.Context, snapshot models.SessionSnapshot) error {
	return hub.publish(ctx, models.Event{Type: models.EventSnapshot, Scope: snapshot.Scope, Data: snapshot})
}

func (hub *WebSocketHub) BroadcastResult(ctx context.Context, result models.SessionResult) error {
	return hub.publish(ctx, models.Event{Type: models.EventResult, Scope: result.Scope, Data: result})
}

func (hub *WebSocketHub) publish(ctx context.Context, event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	select {
	case hub.broadcast <- &Message{Scope: event.Scope, Payload: payload}:
		return nil
	case <-hub.done:
		return errHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (hub *WebSocketHub) subscribe(client *Client) bool {
	select {
	case hub.register <- client:
		return true
	case <-hub.done:
		return false
	}
}

func (hub *WebSocketHub) unsubscribe(client *Client) {
	select {
	case hub.unregister <- client:
	case <-hub.done:
	}
}

type WebSocketHandler struct {
	engine *services.Engine
	hub    *WebSocketHub
	log    *zap.Logger
}

func NewWebSocketHandler(engine *services.Engine, hub *WebSocketHub, log *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		engine: engine,
		hub:    hub,
		log:    log,
	}
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	scope := strings.TrimSpace(c.Query("scope"))
	if scope == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope query parameter is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("failed to upgrade to websocket", zap.Error(err))
		return
	}

	client := &Client{
		Scope:         scope,
		ParticipantID: c.GetString(middleware.KeyParticipantID),
		Conn:          conn,
		send:          make(chan []byte, clientSendSize),
		control:       make(chan []byte, 1),
	}

	if snapshot, err := h.engine.Snapshot(scope); err == nil {
		if payload, err := json.Marshal(models.Event{Type: models.EventSnapshot, Scope: scope, Data: snapshot}); err == nil {
			client.send <- payload
		}
	}

	if !h.hub.subscribe(client) {
		conn.Close()
		return
	}

	go h.writePump(client)
	h.readPump(client)
}

func (h *WebSocketHandler) readPump(client *Client) {
	defer func() {
		h.hub.unsubscribe(client)
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(512)
	_ = client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := client.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket error", zap.String("scope", client.Scope), zap.Error(err))
			}
			return
		}

		if strings.EqualFold(msg.Type, "ping") {
			payload, _ := json.Marshal(gin.H{"type": "pong", "timestamp": time.Now().Unix()})
			select {
			case client.control <- payload:
			default:
			}
		}
	}
}

func (h *WebSocketHandler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case payload, ok := <-client.send:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case payload := <-client.control:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
