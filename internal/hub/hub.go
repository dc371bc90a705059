package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/config"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/domain"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/broadcaster"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/logger"
	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/interfaces/membership"
)

// Handshake carries the validated inputs of a connect request.
type Handshake struct {
	Identity string
	Topics   []string
}

// Registry is the presence surface the hub mutates as connections come and
// go.
type Registry interface {
	Register(identity, handle string)
	Unregister(identity, handle string)
	Heartbeat(identity string)
	ConnectionsFor(identity string) []string
}

// Dependencies groups the collaborators required by the hub.
type Dependencies struct {
	Directory membership.Directory
	Presence  Registry
	Logger    logger.Logger
	Config    config.HubConfig
}

// Hub owns the set of live client connections. Different connections are
// served fully in parallel; a slow or stalled connection never blocks
// delivery to the others.
type Hub struct {
	directory membership.Directory
	presence  Registry
	logger    logger.Logger
	cfg       config.HubConfig

	mu    sync.RWMutex
	conns map[string]*Connection
}

var _ broadcaster.Broadcaster = (*Hub)(nil)

// New builds the connection hub.
func New(deps Dependencies) (*Hub, error) {
	if deps.Directory == nil {
		return nil, fmt.Errorf("hub: membership directory is required")
	}
	if deps.Presence == nil {
		return nil, fmt.Errorf("hub: presence registry is required")
	}
	if deps.Logger == nil {
		deps.Logger = &logger.Nop{}
	}
	if deps.Config.SendBuffer <= 0 {
		deps.Config.SendBuffer = 256
	}
	if deps.Config.HandshakeTimeout <= 0 {
		deps.Config.HandshakeTimeout = 5 * time.Second
	}
	return &Hub{
		directory: deps.Directory,
		presence:  deps.Presence,
		logger:    deps.Logger,
		cfg:       deps.Config,
		conns:     make(map[string]*Connection),
	}, nil
}

// Accept validates the handshake and admits the connection. Every requested
// topic is capability-checked against the membership directory; a check
// that fails or does not complete within the handshake timeout rejects the
// whole connect with ErrUnauthorized.
func (h *Hub) Accept(ctx context.Context, hs Handshake) (*Connection, error) {
	if hs.Identity == "" {
		return nil, fmt.Errorf("hub: %w: empty identity", domain.ErrUnauthorized)
	}

	ctx, cancel := context.WithTimeout(ctx, h.cfg.HandshakeTimeout)
	defer cancel()

	for _, topic := range hs.Topics {
		ok, err := h.directory.CanAccess(ctx, hs.Identity, topic)
		if err != nil {
			return nil, fmt.Errorf("hub: capability check for %s: %w", topic, domain.ErrUnauthorized)
		}
		if !ok {
			return nil, fmt.Errorf("hub: %w: identity %s lacks access to %s", domain.ErrUnauthorized, hs.Identity, topic)
		}
	}

	conn := newConnection(uuid.NewString(), hs.Identity, hs.Topics, h.cfg.SendBuffer)

	h.mu.Lock()
	h.conns[conn.ID] = conn
	total := len(h.conns)
	h.mu.Unlock()

	h.presence.Register(hs.Identity, conn.ID)
	h.logger.Info("connection accepted",
		logger.Field{Key: "conn", Value: conn.ID},
		logger.Field{Key: "identity", Value: hs.Identity},
		logger.Field{Key: "total", Value: total},
	)
	return conn, nil
}

// Subscribe adds a topic to the connection after re-validating capability.
func (h *Hub) Subscribe(ctx context.Context, conn *Connection, topic string) error {
	ok, err := h.directory.CanAccess(ctx, conn.Identity, topic)
	if err != nil {
		return fmt.Errorf("hub: capability check for %s: %w", topic, domain.ErrUnauthorized)
	}
	if !ok {
		return fmt.Errorf("hub: %w: identity %s lacks access to %s", domain.ErrUnauthorized, conn.Identity, topic)
	}
	conn.addTopic(topic)
	return nil
}

// Unsubscribe removes a topic from the connection's set.
func (h *Hub) Unsubscribe(conn *Connection, topic string) {
	conn.removeTopic(topic)
}

// Heartbeat refreshes liveness for the connection and its identity.
func (h *Hub) Heartbeat(conn *Connection) {
	conn.mu.Lock()
	conn.lastBeat = time.Now()
	conn.mu.Unlock()
	h.presence.Heartbeat(conn.Identity)
}

// Send attempts one outbound delivery on a single connection.
func (h *Hub) Send(conn *Connection, evt *domain.Event) SendResult {
	if !conn.subscribed(evt.Topic) {
		return Skipped
	}
	result := conn.enqueue(domain.NewEventFrame(evt), evt.Kind.Critical())
	if result == Dropped {
		h.logger.Warn("connection queue saturated, frame shed",
			logger.Field{Key: "conn", Value: conn.ID},
			logger.Field{Key: "identity", Value: conn.Identity},
			logger.Field{Key: "topic", Value: evt.Topic},
			logger.Field{Key: "sequence", Value: evt.Sequence},
		)
	}
	return result
}

// Queue places a frame on the connection's outbound stream without a
// subscription check. Transports use it to splice replayed frames into the
// live stream so a single writer drains both.
func (h *Hub) Queue(conn *Connection, frame domain.Frame, critical bool) SendResult {
	return conn.enqueue(frame, critical)
}

// SendTo pushes the event to every live connection of the identity,
// reporting whether at least one accepted it. Implements the broadcaster
// contract consumed by the event router.
func (h *Hub) SendTo(ctx context.Context, identity string, evt *domain.Event) bool {
	delivered := false
	for _, handle := range h.presence.ConnectionsFor(identity) {
		h.mu.RLock()
		conn, ok := h.conns[handle]
		h.mu.RUnlock()
		if !ok {
			continue
		}
		if h.Send(conn, evt) == Ack {
			delivered = true
		}
	}
	return delivered
}

// Close releases the connection and unregisters it from presence.
func (h *Hub) Close(conn *Connection, reason string) {
	h.mu.Lock()
	_, ok := h.conns[conn.ID]
	delete(h.conns, conn.ID)
	h.mu.Unlock()
	if !ok {
		return
	}

	conn.close()
	h.presence.Unregister(conn.Identity, conn.ID)
	h.logger.Info("connection closed",
		logger.Field{Key: "conn", Value: conn.ID},
		logger.Field{Key: "identity", Value: conn.Identity},
		logger.Field{Key: "reason", Value: reason},
	)
}

// DropIdentity closes every live connection of one identity and returns how
// many were dropped. Identities with no connections are a no-op, so the
// logout path can call this repeatedly.
func (h *Hub) DropIdentity(identity, reason string) int {
	h.mu.RLock()
	conns := make([]*Connection, 0, 2)
	for _, conn := range h.conns {
		if conn.Identity == identity {
			conns = append(conns, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		h.Close(conn, reason)
	}
	return len(conns)
}

// Get returns the live connection for a handle.
func (h *Hub) Get(handle string) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.conns[handle]
	return conn, ok
}

// Len reports how many connections are live.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Shutdown closes every connection, used on server stop.
func (h *Hub) Shutdown(reason string) {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		h.Close(conn, reason)
	}
}
