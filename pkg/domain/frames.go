package domain

import "errors"

// Engine-level failure taxonomy. Everything else is wrapped transport or
// storage detail.
var (
	// ErrUnauthorized means a capability check failed. Not retryable.
	ErrUnauthorized = errors.New("domain: unauthorized")
	// ErrStaleReplay means the requested replay window predates retention.
	// The client must resynchronize full state from the source of truth.
	ErrStaleReplay = errors.New("domain: replay window beyond retention")
)

// Frame types on the outbound client stream.
const (
	FrameTypeEvent = "event"
	FrameTypeGap   = "gap"
)

// Frame is anything the hub can queue on a connection's outbound stream.
type Frame interface {
	FrameType() string
	FrameTopic() string
}

// EventFrame is one pushed event on a live connection.
type EventFrame struct {
	Type     string  `json:"type"`
	Topic    string  `json:"topic"`
	Sequence uint64  `json:"sequence"`
	Kind     Kind    `json:"kind"`
	Payload  JSONMap `json:"payload,omitempty"`
	Origin   string  `json:"origin,omitempty"`
}

// GapFrame tells the client the hub dropped frames under backpressure.
// LastGood is the last sequence known delivered for the topic; the client
// fills the hole by requesting replay from it.
type GapFrame struct {
	Type     string `json:"type"`
	Topic    string `json:"topic"`
	LastGood uint64 `json:"last_good"`
}

func (f EventFrame) FrameType() string  { return FrameTypeEvent }
func (f EventFrame) FrameTopic() string { return f.Topic }

func (f GapFrame) FrameType() string  { return FrameTypeGap }
func (f GapFrame) FrameTopic() string { return f.Topic }

// NewEventFrame converts a logged event into its wire representation.
func NewEventFrame(evt *Event) EventFrame {
	return EventFrame{
		Type:     FrameTypeEvent,
		Topic:    evt.Topic,
		Sequence: evt.Sequence,
		Kind:     evt.Kind,
		Payload:  evt.Payload,
		Origin:   evt.Origin,
	}
}

// Inbound client operations.
const (
	ClientOpSubscribe   = "subscribe"
	ClientOpUnsubscribe = "unsubscribe"
	ClientOpHeartbeat   = "heartbeat"
	ClientOpAck         = "ack"
)

// ClientFrame is one decoded inbound message from a connected client.
type ClientFrame struct {
	Op       string `json:"op"`
	Topic    string `json:"topic,omitempty"`
	Sequence uint64 `json:"sequence,omitempty"`
}
