package probe

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-palm/internal/log"
	"github.com/teslashibe/go-palm/pkg/protocol"
)

// DefaultMaxAge is how long a pushed reading stays usable.
const DefaultMaxAge = 250 * time.Millisecond

// Node is a connected remote sensor.
type Node struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
}

// Remote serves distance readings pushed by a sensor node over a websocket.
// Sample returns the newest reading if it is fresh enough, otherwise waits
// for the next push until the context deadline.
type Remote struct {
	maxAge time.Duration
	now    func() time.Time

	mu       sync.Mutex
	latest   float64
	at       time.Time
	updated  chan struct{} // closed and replaced on every push
	nodes    map[string]*Node
	received atomic.Uint64
}

// NewRemote creates a remote probe. maxAge <= 0 uses DefaultMaxAge.
func NewRemote(maxAge time.Duration) *Remote {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Remote{
		maxAge:  maxAge,
		now:     time.Now,
		updated: make(chan struct{}),
		nodes:   make(map[string]*Node),
	}
}

// Push records a reading as received now.
func (r *Remote) Push(reading protocol.ProbeReading) {
	r.mu.Lock()
	r.latest = reading.DistanceCm
	r.at = r.now()
	close(r.updated)
	r.updated = make(chan struct{})
	r.mu.Unlock()

	r.received.Add(1)
}

// Sample returns the newest fresh reading.
func (r *Remote) Sample(ctx context.Context) (float64, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	for {
		r.mu.Lock()
		fresh := !r.at.IsZero() && r.now().Sub(r.at) <= r.maxAge
		v := r.latest
		wait := r.updated
		r.mu.Unlock()

		if fresh {
			if v <= 0 {
				return Sentinel, ErrNoReading
			}
			return v, nil
		}

		select {
		case <-wait:
		case <-ctx.Done():
			return Sentinel, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
	}
}

// Received returns the number of readings pushed so far.
func (r *Remote) Received() uint64 {
	return r.received.Load()
}

// Nodes returns the connected sensor nodes.
func (r *Remote) Nodes() []Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	nodes := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		nodes = append(nodes, *n)
	}
	return nodes
}

// RegisterRoutes registers the sensor node endpoint on a Fiber app
func (r *Remote) RegisterRoutes(app *fiber.App) {
	app.Use("/ws/probe", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/probe", websocket.New(r.handleNode))
	app.Get("/ws/probe/:id", websocket.New(r.handleNode))
}

func (r *Remote) handleNode(c *websocket.Conn) {
	id := c.Params("id")
	if id == "" {
		id = uuid.NewString()
	}

	node := &Node{ID: id, Connected: r.now(), LastSeen: r.now()}

	r.mu.Lock()
	r.nodes[id] = node
	count := len(r.nodes)
	r.mu.Unlock()

	log.Info("probe node connected", "node", id, "nodes", count)

	defer func() {
		r.mu.Lock()
		delete(r.nodes, id)
		count := len(r.nodes)
		r.mu.Unlock()
		log.Info("probe node disconnected", "node", id, "nodes", count)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("probe node read error", "node", id, log.Err(err))
			}
			return
		}

		reading, err := protocol.ParseProbeReading(data)
		if err != nil {
			log.Debug("probe node sent bad reading", "node", id, log.Err(err))
			continue
		}

		r.mu.Lock()
		node.LastSeen = r.now()
		r.mu.Unlock()

		r.Push(*reading)
	}
}
