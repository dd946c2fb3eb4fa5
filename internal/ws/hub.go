// Package ws maintains the WebSocket rooms: job status updates fan out
// to /ws/jobs subscribers, and /ws/performance keeps the shared player
// state synchronized across karaoke clients.
package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"karaoke/internal/events"
	"karaoke/internal/logger"
	"karaoke/internal/model"
	"karaoke/internal/storage"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	maxMessageSize = 4096
	sendBuffer     = 64
)

// Message is the wire envelope in both directions.
type Message struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// outbound is a frame queued for delivery, with an optional payload
// that is not a map (snapshots, job objects).
type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The CORS middleware governs browser access; the upgrade
		// itself accepts any origin.
		return true
	},
}

// Client is one WebSocket session.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan outbound

	mu   sync.Mutex
	dead bool // send channel closed, session being torn down
}

// Hub owns the rooms and the authoritative performance state.
type Hub struct {
	store *storage.JobStore
	bus   *events.Bus

	jobsMu      sync.RWMutex
	jobsClients map[*Client]bool

	perfMu      sync.Mutex
	perfClients map[*Client]bool
	perfState   model.PerformanceState
}

// NewHub creates the hub and subscribes it to both event families on
// the bus. Bus handlers only enqueue frames; client I/O happens on each
// session's write pump.
func NewHub(store *storage.JobStore, bus *events.Bus) *Hub {
	h := &Hub{
		store:       store,
		bus:         bus,
		jobsClients: make(map[*Client]bool),
		perfClients: make(map[*Client]bool),
		perfState:   model.DefaultPerformanceState(),
	}

	bus.SubscribeJobs(func(e events.JobEvent) {
		h.broadcastJobs(outbound{Event: e.EventName(), Data: e.Job})
	})
	bus.SubscribePlayer(h.handlePlayerEvent)

	return h
}

// handlePlayerEvent fans a bus player event out to the performance
// room. Control updates and resets skip the originating session;
// playback commands and state syncs reach everyone.
func (h *Hub) handlePlayerEvent(e events.PlayerEvent) {
	switch e.Kind {
	case events.PlayerKindControlUpdated:
		h.broadcastPerformance(outbound{Event: events.ControlUpdated, Data: e.Payload}, e.SenderID)
	case events.PlayerKindReset:
		h.broadcastPerformance(outbound{Event: events.ResetPlayerState}, e.SenderID)
	case events.PlayerKindPlay:
		h.broadcastPerformance(outbound{Event: events.PlaybackPlay}, "")
	case events.PlayerKindPause:
		h.broadcastPerformance(outbound{Event: events.PlaybackPause}, "")
	case events.PlayerKindState:
		h.broadcastPerformance(outbound{Event: events.PerformanceState, Data: e.Payload}, "")
	default:
		logger.Log.Warn().Str("kind", string(e.Kind)).Msg("ignored unknown player event kind")
	}
}

// ServeJobs upgrades the connection and subscribes it to job updates.
// The new session immediately receives a snapshot of all non-dismissed
// jobs.
func (h *Hub) ServeJobs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("jobs websocket upgrade failed")
		return
	}

	client := newClient(h, conn)

	h.jobsMu.Lock()
	h.jobsClients[client] = true
	h.jobsMu.Unlock()

	logger.Log.Info().Str("sessionID", client.id).Msg("client subscribed to job updates")

	jobs, err := h.store.List(storage.JobFilter{})
	if err != nil {
		logger.Log.Error().Err(err).Msg("failed to load jobs snapshot")
		jobs = nil
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	client.enqueue(outbound{Event: events.JobsList, Data: map[string]any{"jobs": jobs}})

	go client.writePump()
	go client.readPump(func(msg Message) {
		// The jobs room is broadcast-only; inbound frames are ignored.
	})
}

// ServePerformance upgrades the connection into the performance
// namespace. The client participates in room broadcasts once it sends
// join_performance.
func (h *Hub) ServePerformance(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("performance websocket upgrade failed")
		return
	}

	client := newClient(h, conn)
	logger.Log.Info().Str("sessionID", client.id).Msg("client connected to performance controls")

	go client.writePump()
	go client.readPump(func(msg Message) {
		h.handlePerformanceMessage(client, msg)
	})
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.New().String(),
		hub:  h,
		conn: conn,
		send: make(chan outbound, sendBuffer),
	}
}

// enqueue hands a frame to the session's write pump. A full buffer
// means the client is too slow to keep; it gets dropped rather than
// blocking the broadcaster. c.mu serializes enqueues so closing the
// channel is safe.
func (c *Client) enqueue(msg outbound) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dead {
		return
	}

	select {
	case c.send <- msg:
	default:
		logger.Log.Warn().Str("sessionID", c.id).Msg("client send buffer full, dropping session")
		c.dead = true
		c.hub.remove(c)
		close(c.send)
	}
}

func (h *Hub) remove(c *Client) {
	h.jobsMu.Lock()
	delete(h.jobsClients, c)
	h.jobsMu.Unlock()

	h.perfMu.Lock()
	delete(h.perfClients, c)
	h.perfMu.Unlock()
}

// broadcastJobs delivers a frame to every jobs subscriber. A failing
// session never blocks the others.
func (h *Hub) broadcastJobs(msg outbound) {
	h.jobsMu.RLock()
	clients := make([]*Client, 0, len(h.jobsClients))
	for c := range h.jobsClients {
		clients = append(clients, c)
	}
	h.jobsMu.RUnlock()

	for _, c := range clients {
		c.enqueue(msg)
	}
}

// broadcastPerformance delivers a frame to the performance room,
// skipping the session named by exceptID (empty means everyone).
func (h *Hub) broadcastPerformance(msg outbound, exceptID string) {
	h.perfMu.Lock()
	clients := make([]*Client, 0, len(h.perfClients))
	for c := range h.perfClients {
		if exceptID == "" || c.id != exceptID {
			clients = append(clients, c)
		}
	}
	h.perfMu.Unlock()

	for _, c := range clients {
		c.enqueue(msg)
	}
}

// readPump handles reading from the WebSocket connection.
func (c *Client) readPump(handle func(Message)) {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Debug().Err(err).Str("sessionID", c.id).Msg("websocket read error")
			}
			return
		}
		handle(msg)
	}
}

// writePump handles writing to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				logger.Log.Debug().Err(err).Str("sessionID", c.id).Msg("websocket write error")
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
