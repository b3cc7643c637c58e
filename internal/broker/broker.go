package broker

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/hidesapp/hides-signal/internal/metrics"
)

// maxIDAttempts bounds connection id generation when ids collide.
const maxIDAttempts = 4

// Config wires a Broker's dependencies.
type Config struct {
	// Strategy defaults to a queue strategy without auto-seek.
	Strategy Strategy

	// MaxConnections caps concurrent connections. Zero means unlimited.
	MaxConnections int

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// NewID overrides connection identifier generation (tests).
	NewID func() ConnID
}

// Stats is a point-in-time view of broker occupancy.
type Stats struct {
	Connections int
	Queued      int
	Pairs       int
	Rooms       int
}

type Broker struct {
	log      *slog.Logger
	metrics  *metrics.Metrics
	maxConns int
	newID    func() ConnID

	mu       sync.Mutex
	reg      *registry
	strategy Strategy
	handlers map[string]handlerFunc
}

func New(cfg Config) *Broker {
	if cfg.Strategy == nil {
		cfg.Strategy = NewQueueStrategy(QueueOptions{})
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.NewID == nil {
		cfg.NewID = func() ConnID { return ConnID(uuid.NewString()) }
	}

	b := &Broker{
		log:      cfg.Logger.With("strategy", cfg.Strategy.Name()),
		metrics:  cfg.Metrics,
		maxConns: cfg.MaxConnections,
		newID:    cfg.NewID,
		reg:      newRegistry(),
		strategy: cfg.Strategy,
	}
	cfg.Strategy.attach(b)
	b.handlers = cfg.Strategy.routes()
	return b
}

// StrategyName reports the active matchmaking strategy.
func (b *Broker) StrategyName() string {
	return b.strategy.Name()
}

// Connect registers a new connection, greets it with hello{id} and returns
// its identifier.
func (b *Broker) Connect(p Peer) (ConnID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxConns > 0 && b.reg.len() >= b.maxConns {
		b.metrics.Inc(metrics.ConnectionsRejected)
		return "", ErrTooManyConnections
	}

	id := b.newID()
	for attempt := 0; b.reg.get(id) != nil && attempt < maxIDAttempts-1; attempt++ {
		id = b.newID()
	}
	if b.reg.get(id) != nil {
		b.log.Error("failed to allocate connection id", "attempts", maxIDAttempts)
		return "", fmt.Errorf("%w: %d collisions", ErrIDAllocation, maxIDAttempts)
	}

	c := &connection{id: id, peer: p, state: StateIdle, seat: noSeat}
	b.reg.add(c)
	b.metrics.Inc(metrics.ConnectionsOpened)
	b.log.Debug("connection registered", "conn_id", id)

	b.send(c, helloMessage{Type: typeHello, ID: id})
	b.strategy.connected(c)
	return id, nil
}

// Disconnect unwinds every piece of state that references id. It is safe to
// call more than once.
func (b *Broker) Disconnect(id ConnID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.reg.get(id)
	if c == nil {
		return
	}
	b.strategy.disconnected(c)
	b.reg.remove(id)
	b.metrics.Inc(metrics.ConnectionsClosed)
	b.log.Debug("connection removed", "conn_id", id)
}

// Lookup returns the session state of a live connection.
func (b *Broker) Lookup(id ConnID) (ConnInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.reg.get(id)
	if c == nil {
		return ConnInfo{}, false
	}
	return c.info(), true
}

func (b *Broker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{Connections: b.reg.len()}
	b.strategy.stats(&s)
	return s
}

// send encodes msg and hands it to c's transport. Closed transports are
// skipped; a refused send is counted and otherwise ignored.
func (b *Broker) send(c *connection, msg any) bool {
	if !c.open() {
		return false
	}
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.Error("failed to encode notification", "conn_id", c.id, "err", err)
		return false
	}
	return b.sendFrame(c, data)
}

// sendFrame hands already encoded data to c's transport.
func (b *Broker) sendFrame(c *connection, data []byte) bool {
	if !c.open() {
		return false
	}
	if !c.peer.Send(data) {
		b.metrics.Inc(metrics.SendsDropped)
		return false
	}
	return true
}
