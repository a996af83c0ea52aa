// Package broadcast pushes market state to WebSocket subscribers: every
// trade as it happens, and periodic snapshots throttled to at most five
// per second.
package broadcast

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"bourse/internal/types"
)

// Channel names clients can subscribe to.
const (
	ChannelTrades    = "trades"
	ChannelSnapshots = "snapshots"
)

// snapshotRate caps snapshot publications per second.
const snapshotRate = 5

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is the envelope every broadcast frame uses.
type Message struct {
	Channel string      `json:"channel"`
	Data    interface{} `json:"data"`
}

// Hub maintains the active WebSocket connections and fans broadcasts out
// to them.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client

	limiter *rate.Limiter
	logger  zerolog.Logger
	mu      sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		limiter:    rate.NewLimiter(rate.Limit(snapshotRate), 1),
		logger:     log.With().Str("component", "broadcast").Logger(),
	}
}

// Run starts the hub's connection bookkeeping loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info().
				Str("client_id", client.id).
				Int("total", total).
				Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info().
				Str("client_id", client.id).
				Int("total", total).
				Msg("client disconnected")
		}
	}
}

// PublishTrade sends one fill to every trades subscriber, unthrottled.
func (h *Hub) PublishTrade(trade types.Trade) {
	h.broadcast(ChannelTrades, trade)
}

// PublishSnapshot sends the market snapshot to every snapshots subscriber.
// Publications beyond the per-second cap are dropped, not queued; the next
// snapshot supersedes them anyway.
func (h *Hub) PublishSnapshot(snapshot types.MarketSnapshot) {
	if !h.limiter.Allow() {
		return
	}
	h.broadcast(ChannelSnapshots, snapshot)
}

func (h *Hub) broadcast(channel string, data interface{}) {
	payload, err := json.Marshal(Message{Channel: channel, Data: data})
	if err != nil {
		h.logger.Error().Err(err).Str("channel", channel).Msg("failed to marshal broadcast")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.IsSubscribed(channel) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			// Slow consumer, skip this frame.
		}
	}
}

// ServeWS handles the WebSocket upgrade and starts the client pumps. New
// clients start subscribed to both channels.
func (h *Hub) ServeWS() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Error().Err(err).Msg("websocket upgrade failed")
			return
		}

		client := &Client{
			hub:  h,
			conn: conn,
			send: make(chan []byte, 256),
			id:   conn.RemoteAddr().String(),
			subscriptions: map[string]bool{
				ChannelTrades:    true,
				ChannelSnapshots: true,
			},
		}
		h.register <- client

		go client.writePump()
		go client.readPump()
	}
}
