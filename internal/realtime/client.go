package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope, used in both directions.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ConnInfo describes a freshly upgraded connection. Verified is true when the
// upgrade carried a valid token, in which case UserID/DisplayName/Role come from it.
type ConnInfo struct {
	ID          string
	UserID      string
	DisplayName string
	Role        string
	Verified    bool
}

// Dispatcher consumes inbound connection events.
type Dispatcher interface {
	Connect(info ConnInfo)
	HandleEvent(connID, event string, data json.RawMessage)
	Disconnect(connID string)
}

// TokenValidator validates an upgrade token and returns the identity it carries.
type TokenValidator func(token string) (userID, displayName, role string, err error)

// Client represents a single WebSocket connection.
type Client struct {
	ID        string
	hub       *Hub
	conn      *websocket.Conn
	send      chan WSMessage
	closeOnce sync.Once
	logger    *zap.Logger
}

func newClient(id string, hub *Hub, conn *websocket.Conn, logger *zap.Logger) *Client {
	return &Client{
		ID:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan WSMessage, sendBuffer),
		logger: logger,
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// ServeWs handles the WebSocket upgrade and runs the client loop. The token query
// parameter is optional; when present it must be valid.
func ServeWs(hub *Hub, dispatcher Dispatcher, validate TokenValidator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		info := ConnInfo{ID: uuid.New().String()}
		if token := c.Query("token"); token != "" && validate != nil {
			userID, name, role, err := validate(token)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			info.UserID, info.DisplayName, info.Role, info.Verified = userID, name, role, true
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := newClient(info.ID, hub, conn, logger)
		hub.Register(client)
		dispatcher.Connect(info)
		go client.writePump()
		client.readPump(dispatcher)
	}
}

func (c *Client) readPump(dispatcher Dispatcher) {
	defer func() {
		c.hub.Unregister(c.ID)
		dispatcher.Disconnect(c.ID)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read", zap.String("conn_id", c.ID), zap.Error(err))
			}
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		dispatcher.HandleEvent(c.ID, msg.Event, msg.Data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug("websocket write", zap.String("conn_id", c.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
