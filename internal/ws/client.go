package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/arunpravin125/Eduvance-api/internal/chaterr"
	"github.com/arunpravin125/Eduvance-api/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	authorizeWait  = 5 * time.Second
)

// NewUpgrader accepts browsers from the listed origins. "*" allows any origin.
// Requests without an Origin header, or from the serving host, are always allowed.
func NewUpgrader(origins []string) *websocket.Upgrader {
	allowAll := false
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowAll {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			if strings.EqualFold(u.Host, r.Host) {
				return true
			}
			_, ok := allowed[strings.ToLower(strings.TrimRight(origin, "/"))]
			return ok
		},
	}
}

// Authorizer decides whether a user may watch a room.
type Authorizer interface {
	AuthorizeSubscribe(ctx context.Context, userID, roomID string) error
}

// Client is one websocket connection. It may watch several rooms.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte

	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	rooms map[string]struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
		rooms:  make(map[string]struct{}),
	}
}

func (c *Client) UserID() string { return c.userID }

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) track(roomID string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.rooms[roomID] = struct{}{}
	} else {
		delete(c.rooms, roomID)
	}
}

func (c *Client) subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	return ids
}

// reply queues a control frame for this connection only.
func (c *Client) reply(p replyPayload) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

type command struct {
	Op     string `json:"op"`
	RoomID string `json:"room_id"`
}

func (c *Client) handle(cmd command, authz Authorizer) {
	switch cmd.Op {
	case "subscribe":
		ctx, cancel := context.WithTimeout(context.Background(), authorizeWait)
		err := authz.AuthorizeSubscribe(ctx, c.userID, cmd.RoomID)
		cancel()
		if err != nil {
			c.reply(replyPayload{Type: eventError, RoomID: cmd.RoomID, Error: chaterr.Kind(err)})
			return
		}
		if !c.hub.Subscribe(c, cmd.RoomID) {
			c.reply(replyPayload{Type: eventError, RoomID: cmd.RoomID, Error: "unavailable"})
			return
		}
		c.reply(replyPayload{Type: eventSubscribed, RoomID: cmd.RoomID})
	case "unsubscribe":
		c.hub.Unsubscribe(c, cmd.RoomID)
		c.reply(replyPayload{Type: eventUnsubscribed, RoomID: cmd.RoomID})
	case "ping":
		c.reply(replyPayload{Type: eventPong})
	default:
		c.reply(replyPayload{Type: eventError, Error: "unknown op"})
	}
}

func (c *Client) readPump(authz Authorizer, log zerolog.Logger) {
	defer func() {
		c.hub.Disconnect(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("user_id", c.userID).Msg("websocket closed")
			}
			return
		}
		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.reply(replyPayload{Type: eventError, Error: "malformed command"})
			continue
		}
		c.handle(cmd, authz)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-c.hub.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs upgrades the request and serves the connection until it closes.
func ServeWs(hub *Hub, authz Authorizer, upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request, userID string, sendBuffer int, log zerolog.Logger) {
	if authz == nil {
		http.Error(w, "subscriptions unavailable", http.StatusServiceUnavailable)
		return
	}
	if upgrader == nil {
		upgrader = NewUpgrader(nil)
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	metrics.WsConnections.Inc()
	defer metrics.WsConnections.Dec()

	client := NewClient(hub, conn, userID, sendBuffer)
	go client.writePump()
	client.readPump(authz, log)
}
