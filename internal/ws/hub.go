package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/arunpravin125/Eduvance-api/internal/metrics"
	"github.com/rs/zerolog"
)

// Hub fans committed events out to room subscribers. Each room has its own
// goroutine, so events of one room are delivered in the order they were published.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]*roomHub
	buffer int
	log    zerolog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

func NewHub(log zerolog.Logger, roomBuffer int) *Hub {
	if roomBuffer <= 0 {
		roomBuffer = 256
	}
	return &Hub{
		rooms:  make(map[string]*roomHub),
		buffer: roomBuffer,
		log:    log.With().Str("component", "hub").Logger(),
		done:   make(chan struct{}),
	}
}

type roomHub struct {
	roomID     string
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan Event
	online     atomic.Int32
	// quit is closed once the room goroutine has exited after its last client left.
	quit chan struct{}
}

func (h *Hub) lookup(roomID string) *roomHub {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[roomID]
}

// room lazily starts the room goroutine. It returns nil once the hub is shut down.
func (h *Hub) room(roomID string) *roomHub {
	if rh := h.lookup(roomID); rh != nil {
		return rh
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return nil
	default:
	}
	if rh := h.rooms[roomID]; rh != nil {
		return rh
	}
	rh := &roomHub{
		roomID:     roomID,
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, h.buffer),
		quit:       make(chan struct{}),
	}
	h.rooms[roomID] = rh
	go h.run(rh)
	return rh
}

// Subscribe adds c to the room. It returns false if the hub is shut down.
func (h *Hub) Subscribe(c *Client, roomID string) bool {
	for {
		rh := h.room(roomID)
		if rh == nil {
			return false
		}
		select {
		case rh.register <- c:
			c.track(roomID, true)
			return true
		case <-rh.quit:
			// Reaped between lookup and register; start a fresh room.
		case <-h.done:
			return false
		}
	}
}

func (h *Hub) Unsubscribe(c *Client, roomID string) {
	defer c.track(roomID, false)
	rh := h.lookup(roomID)
	if rh == nil {
		return
	}
	select {
	case rh.unregister <- c:
	case <-rh.quit:
	case <-h.done:
	}
}

// Disconnect removes c from every room it joined and closes it.
func (h *Hub) Disconnect(c *Client) {
	for _, roomID := range c.subscriptions() {
		h.Unsubscribe(c, roomID)
	}
	c.close()
}

// Publish queues evt for its room without blocking. Rooms nobody watches are
// skipped, and a full room backlog drops the event.
func (h *Hub) Publish(evt Event) {
	rh := h.lookup(evt.RoomID)
	if rh == nil {
		return
	}
	select {
	case rh.broadcast <- evt:
		metrics.EventsPublished.WithLabelValues(string(evt.Type)).Inc()
	case <-h.done:
	default:
		metrics.EventsDropped.WithLabelValues("room_backlog").Inc()
		h.log.Warn().Str("room_id", evt.RoomID).Str("type", string(evt.Type)).Msg("room backlog full, dropping event")
	}
}

// Online is the number of connections subscribed to the room.
func (h *Hub) Online(roomID string) int {
	rh := h.lookup(roomID)
	if rh == nil {
		return 0
	}
	return int(rh.online.Load())
}

// Shutdown stops every room goroutine and closes all subscribed clients.
func (h *Hub) Shutdown() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		close(h.done)
		h.mu.Unlock()
	})
}

func (h *Hub) run(rh *roomHub) {
	for {
		select {
		case <-h.done:
			for c := range rh.clients {
				c.close()
			}
			return
		case c := <-rh.register:
			if _, ok := rh.clients[c]; !ok {
				rh.clients[c] = struct{}{}
				metrics.WsSubscriptions.Inc()
			}
			rh.online.Store(int32(len(rh.clients)))
		case c := <-rh.unregister:
			if _, ok := rh.clients[c]; ok {
				delete(rh.clients, c)
				metrics.WsSubscriptions.Dec()
			}
			rh.online.Store(int32(len(rh.clients)))
		case evt := <-rh.broadcast:
			h.deliver(rh, evt)
		}
		if len(rh.clients) == 0 {
			h.reap(rh)
			return
		}
	}
}

// reap forgets an empty room. Senders blocked on its channels see quit and retry
// against a new room.
func (h *Hub) reap(rh *roomHub) {
	h.mu.Lock()
	if h.rooms[rh.roomID] == rh {
		delete(h.rooms, rh.roomID)
	}
	h.mu.Unlock()
	close(rh.quit)
}

func (h *Hub) size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) deliver(rh *roomHub, evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", rh.roomID).Msg("encode event")
		return
	}
	for c := range rh.clients {
		if !evt.VisibleTo(c.userID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			delete(rh.clients, c)
			metrics.WsSubscriptions.Dec()
			metrics.EventsDropped.WithLabelValues("slow_client").Inc()
			h.log.Warn().Str("room_id", rh.roomID).Str("user_id", c.userID).Msg("dropping slow subscriber")
			c.close()
		}
	}
	rh.online.Store(int32(len(rh.clients)))
}
