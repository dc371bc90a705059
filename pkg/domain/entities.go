package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RecordMeta captures identifiers and audit fields shared across entities.
type RecordMeta struct {
	ID        uuid.UUID `bun:",pk,type:uuid" json:"id"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"updated_at"`
	DeletedAt time.Time `bun:",soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// EnsureID assigns a UUID when the struct is about to be persisted.
func (m *RecordMeta) EnsureID() {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
}

// JSONMap persists arbitrary payload fields as JSON.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("null"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value any) error {
	if m == nil {
		return errors.New("JSONMap: Scan on nil pointer")
	}
	switch v := value.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("JSONMap: unsupported type %T", value)
	}
}

// StringList stores []string as JSON.
type StringList []string

func (s StringList) Value() (driver.Value, error) {
	return json.Marshal([]string(s))
}

func (s *StringList) Scan(value any) error {
	if s == nil {
		return errors.New("StringList: Scan on nil pointer")
	}
	switch v := value.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		return json.Unmarshal(v, (*[]string)(s))
	case string:
		return json.Unmarshal([]byte(v), (*[]string)(s))
	default:
		return fmt.Errorf("StringList: unsupported type %T", value)
	}
}

// Event is one durably logged record in a topic's stream. The sequence
// number is assigned atomically per topic at append time and never reused;
// an Event is immutable once written.
type Event struct {
	bun.BaseModel `bun:"table:events"`
	RecordMeta

	Topic    string  `bun:",nullzero,notnull" json:"topic"`
	Sequence uint64  `bun:",notnull" json:"sequence"`
	Kind     Kind    `bun:",nullzero,notnull" json:"kind"`
	Payload  JSONMap `bun:"type:jsonb,nullzero" json:"payload,omitempty"`
	Origin   string  `bun:",nullzero" json:"origin,omitempty"`
}

// TopicSequence backs atomic per-topic sequence allocation.
type TopicSequence struct {
	bun.BaseModel `bun:"table:topic_sequences"`

	Topic string `bun:",pk"`
	Next  uint64 `bun:",notnull"`
}

// DeliveryJob tracks one durable push delivery for an identity that missed
// live delivery. Jobs are unique per (identity, topic, sequence); a retried
// publish never creates a second job for the same pair.
type DeliveryJob struct {
	bun.BaseModel `bun:"table:delivery_jobs"`
	RecordMeta

	Identity      string    `bun:",nullzero,notnull,unique:job_dedup" json:"identity"`
	Topic         string    `bun:",nullzero,notnull,unique:job_dedup" json:"topic"`
	Sequence      uint64    `bun:",notnull,unique:job_dedup" json:"sequence"`
	EventID       uuid.UUID `bun:",nullzero,notnull" json:"event_id"`
	Attempts      int       `bun:",nullzero" json:"attempts"`
	NextAttemptAt time.Time `bun:",nullzero" json:"next_attempt_at"`
	Status        string    `bun:",nullzero" json:"status"`
	LastError     string    `bun:",nullzero" json:"last_error,omitempty"`
}

// DedupKey identifies the (identity, topic, sequence) pair a job delivers.
func (j *DeliveryJob) DedupKey() string {
	return fmt.Sprintf("%s|%s|%d", j.Identity, j.Topic, j.Sequence)
}

// DeadLetter records a delivery job abandoned after exhausting its retry
// budget or hitting a permanent destination failure. Kept for inspection,
// never retried.
type DeadLetter struct {
	bun.BaseModel `bun:"table:dead_letters"`
	RecordMeta

	JobID    uuid.UUID `bun:",nullzero,notnull" json:"job_id"`
	Identity string    `bun:",nullzero,notnull" json:"identity"`
	Topic    string    `bun:",nullzero,notnull" json:"topic"`
	Sequence uint64    `bun:",notnull" json:"sequence"`
	Attempts int       `bun:",nullzero" json:"attempts"`
	Reason   string    `bun:",nullzero" json:"reason"`
}

// ClientAck stores the highest sequence a client durably processed for a
// topic. Retention pruning keeps everything above the lowest outstanding
// ack so reconnect replay stays gap free.
type ClientAck struct {
	bun.BaseModel `bun:"table:client_acks"`

	Identity string    `bun:",pk" json:"identity"`
	Topic    string    `bun:",pk" json:"topic"`
	Sequence uint64    `bun:",notnull" json:"sequence"`
	AckedAt  time.Time `bun:",nullzero" json:"acked_at"`
}

// Delivery job statuses.
const (
	JobStatusQueued     = "queued"
	JobStatusAttempting = "attempting"
	JobStatusSucceeded  = "succeeded"
	JobStatusDead       = "dead"
)

// Dead letter reasons.
const (
	DeadReasonExhausted = "retries_exhausted"
	DeadReasonPermanent = "permanent_destination"
)
