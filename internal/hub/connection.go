package hub

import (
	"context"
	"sync"
	"time"

	"github.com/nhtrieuvy/PlanPalApp-sub002/pkg/domain"
)

// SendResult classifies one live delivery attempt on a connection.
type SendResult int

const (
	// Ack means the frame was queued on the connection's outbound stream.
	Ack SendResult = iota
	// Dropped means the outbound queue was saturated and the frame was
	// shed; the caller should degrade to durable delivery.
	Dropped
	// Skipped means the connection is not subscribed to the frame's topic.
	Skipped
)

// Connection is one live transport session. The hub owns its lifecycle:
// created on handshake, destroyed on disconnect or forced eviction. Each
// connection's outbound stream is serialized; frames for one connection are
// never reordered relative to each other.
type Connection struct {
	ID       string
	Identity string

	mu     sync.Mutex
	topics map[string]struct{}
	// queue is the bounded outbound buffer. A deque rather than a channel
	// so saturation can shed the oldest non-critical frame in place while
	// preserving the order of everything else.
	queue    []domain.Frame
	limit    int
	notify   chan struct{}
	done     chan struct{}
	closed   bool
	lastBeat time.Time
	// delivered remembers the newest sequence handed to the transport per
	// topic. A gap marker carries it as the last-known-good sequence, so a
	// replay from it can never skip a shed frame.
	delivered map[string]uint64
}

func newConnection(id, identity string, topics []string, limit int) *Connection {
	set := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		set[t] = struct{}{}
	}
	return &Connection{
		ID:        id,
		Identity:  identity,
		topics:    set,
		limit:     limit,
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		lastBeat:  time.Now(),
		delivered: make(map[string]uint64),
	}
}

// Topics returns a snapshot of the connection's subscriptions.
func (c *Connection) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	return out
}

func (c *Connection) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.topics[topic]
	return ok
}

func (c *Connection) addTopic(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics[topic] = struct{}{}
}

func (c *Connection) removeTopic(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.topics, topic)
}

// enqueue places a frame on the outbound stream. When the queue is full the
// oldest non-critical event frame is replaced by a gap marker for its topic
// so the client knows to resynchronize via replay; if nothing can be shed
// the incoming frame itself is dropped.
func (c *Connection) enqueue(frame domain.Frame, critical bool) SendResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Dropped
	}

	if len(c.queue) >= c.limit {
		if !c.shedOldestLocked() {
			if !critical {
				return Dropped
			}
			// Critical frames push out the head even when everything queued
			// is itself critical; the gap marker keeps the loss explicit.
			c.forceShedHeadLocked()
		}
	}

	c.queue = append(c.queue, frame)
	c.signalLocked()
	return Ack
}

// shedOldestLocked drops the oldest non-critical event frame, leaving a gap
// marker in its place. Gap markers already queued merge instead of stacking.
func (c *Connection) shedOldestLocked() bool {
	for i, frame := range c.queue {
		evt, ok := frame.(domain.EventFrame)
		if !ok || evt.Kind.Critical() {
			continue
		}
		c.queue[i] = c.gapFor(evt.Topic)
		c.dedupeGapsLocked()
		return true
	}
	return false
}

func (c *Connection) forceShedHeadLocked() {
	if len(c.queue) == 0 {
		return
	}
	topic := c.queue[0].FrameTopic()
	c.queue[0] = c.gapFor(topic)
	c.dedupeGapsLocked()
}

func (c *Connection) gapFor(topic string) domain.GapFrame {
	return domain.GapFrame{
		Type:     domain.FrameTypeGap,
		Topic:    topic,
		LastGood: c.delivered[topic],
	}
}

// dedupeGapsLocked collapses adjacent gap markers for the same topic; one
// marker is enough to trigger a replay.
func (c *Connection) dedupeGapsLocked() {
	out := c.queue[:0]
	for _, frame := range c.queue {
		if gap, ok := frame.(domain.GapFrame); ok && len(out) > 0 {
			if prev, ok := out[len(out)-1].(domain.GapFrame); ok && prev.Topic == gap.Topic {
				continue
			}
		}
		out = append(out, frame)
	}
	c.queue = out
}

func (c *Connection) signalLocked() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Next blocks until a frame is available, the connection closes, or the
// context is cancelled. Transport write pumps drain the stream through it.
func (c *Connection) Next(ctx context.Context) (domain.Frame, bool) {
	for {
		if frame, ok := c.pop(); ok {
			return frame, true
		}
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return nil, false
		}

		select {
		case <-c.notify:
		case <-c.done:
			// Drain whatever was queued before the close.
			if frame, ok := c.pop(); ok {
				return frame, true
			}
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (c *Connection) pop() (domain.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil, false
	}
	frame := c.queue[0]
	c.queue = c.queue[1:]
	if evt, ok := frame.(domain.EventFrame); ok {
		if evt.Sequence > c.delivered[evt.Topic] {
			c.delivered[evt.Topic] = evt.Sequence
		}
	}
	return frame, true
}

// QueueLen reports the number of frames waiting on the outbound stream.
func (c *Connection) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Done is closed when the hub releases the connection.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
}
