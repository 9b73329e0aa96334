package hub

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-palm/internal/log"
	"github.com/teslashibe/go-palm/pkg/protocol"
)

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	// Name for logging
	name string

	// Registered clients
	clients map[*Client]bool

	// Inbound messages to broadcast
	broadcast chan Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	// Guards clients and last
	mu sync.RWMutex

	// Most recent message, replayed to new clients
	last    *Message
	lastEvt *protocol.StatusEvent

	running atomic.Bool
	dropped atomic.Uint64
}

// New creates a new Hub
func New(name string) *Hub {
	return &Hub{
		name:       name,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop and returns when ctx is cancelled.
// This should be called in a goroutine
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		close(h.done)
	}()

	logger := log.With("hub", h.name)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			logger.Info("hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if h.last != nil {
				client.send <- *h.last // fresh buffer, cannot block
			}
			count := len(h.clients)
			h.mu.Unlock()
			logger.Info("client connected", "clients", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			logger.Info("client disconnected", "clients", count)

		case message := <-h.broadcast:
			h.mu.Lock()
			h.last = &message
			for client := range h.clients {
				select {
				case client.send <- message:
					// Message queued successfully
				default:
					// Client's buffer is full - they're too slow
					close(client.send)
					delete(h.clients, client)
					h.dropped.Add(1)
					logger.Warn("dropped slow client")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		// Broadcast channel full - drop message
		log.Warn("broadcast channel full, dropping message", "hub", h.name)
	}
}

// Publish broadcasts a status event and remembers it as the current status.
func (h *Hub) Publish(ev protocol.StatusEvent) {
	data, err := ev.Bytes()
	if err != nil {
		log.Error("failed to encode status event", "hub", h.name, log.Err(err))
		return
	}

	h.mu.Lock()
	h.lastEvt = &ev
	h.mu.Unlock()

	h.Broadcast(Message{Data: data, Terminal: ev.IsTerminal()})
}

// Last returns the most recently published status event.
func (h *Hub) Last() (protocol.StatusEvent, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.lastEvt == nil {
		return protocol.StatusEvent{}, false
	}
	return *h.lastEvt, true
}

// Subscribe registers an in-process listener. The channel is closed when
// the listener is dropped, unsubscribed, or the hub stops.
func (h *Hub) Subscribe() (<-chan Message, func()) {
	c := newClient(h, nil)
	var once sync.Once
	return c.send, func() {
		once.Do(func() { h.leave(c) })
	}
}

func (h *Hub) join(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		close(c.send)
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many slow clients have been disconnected.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// IsRunning returns whether the hub is running
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}
