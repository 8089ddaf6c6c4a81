// Package events defines the auth event envelope published to Kafka and the
// topic routing for it.
package events

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"hireloop/internal/platform/kafka"
	"hireloop/internal/platform/kafka/producer"
)

// Type names a committed auth state transition.
type Type string

const (
	TypeUserRegistered       Type = "UserRegistered"
	TypeUserLoggedIn         Type = "UserLoggedIn"
	TypeSessionRefreshed     Type = "SessionRefreshed"
	TypeUserLoggedOut        Type = "UserLoggedOut"
	TypeAccountStatusChanged Type = "AccountStatusChanged"
)

// IsValid reports whether t is a known event type.
func (t Type) IsValid() bool {
	switch t {
	case TypeUserRegistered, TypeUserLoggedIn, TypeSessionRefreshed, TypeUserLoggedOut, TypeAccountStatusChanged:
		return true
	}
	return false
}

// Header keys set on every record.
const (
	HeaderEventType     = "event_type"
	HeaderEventID       = "event_id"
	HeaderCorrelationID = "correlation_id"
)

// AuthEvent is an immutable record of one committed auth transition.
// ID is the dedupe key for at-least-once consumers.
type AuthEvent struct {
	ID            uuid.UUID         `json:"event_id"`
	Type          Type              `json:"event_type"`
	SubjectID     uuid.UUID         `json:"subject_id"`
	Timestamp     time.Time         `json:"timestamp"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Outcome       map[string]string `json:"outcome,omitempty"`
}

// New builds an event with a fresh ID. outcome is copied.
func New(t Type, subjectID uuid.UUID, at time.Time, correlationID string, outcome map[string]string) AuthEvent {
	return AuthEvent{
		ID:            uuid.New(),
		Type:          t,
		SubjectID:     subjectID,
		Timestamp:     at.UTC(),
		CorrelationID: correlationID,
		Outcome:       maps.Clone(outcome),
	}
}

// Clone returns a deep copy so holders cannot alter each other's view.
func (e AuthEvent) Clone() AuthEvent {
	e.Outcome = maps.Clone(e.Outcome)
	return e
}

// Validate checks the envelope is publishable.
func (e AuthEvent) Validate() error {
	if e.ID == uuid.Nil {
		return fmt.Errorf("event id is required")
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.SubjectID == uuid.Nil {
		return fmt.Errorf("subject id is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// PartitionKey is the subject id; all events for one subject share a partition.
func (e AuthEvent) PartitionKey() string {
	return e.SubjectID.String()
}

// Encode serializes the envelope as compact JSON.
func Encode(e AuthEvent) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode auth event: %w", err)
	}
	return b, nil
}

// Decode parses and validates an envelope.
func Decode(data []byte) (AuthEvent, error) {
	var e AuthEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return AuthEvent{}, fmt.Errorf("decode auth event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return AuthEvent{}, fmt.Errorf("decode auth event: %w", err)
	}
	return e, nil
}

// Router picks the destination topic for an event type.
type Router struct {
	mode  string
	topic string
}

// NewRouter builds a router. In per-type mode topic is used as a prefix:
// "<topic>.<event_type>".
func NewRouter(mode, topic string) Router {
	if mode != kafka.TopicModePerType {
		mode = kafka.TopicModeSingle
	}
	if topic == "" {
		topic = "hireloop.auth.events"
	}
	return Router{mode: mode, topic: topic}
}

// Topic returns the destination for t.
func (r Router) Topic(t Type) string {
	if r.mode == kafka.TopicModePerType {
		return r.topic + "." + string(t)
	}
	return r.topic
}

// Topics lists every topic the router can produce to.
func (r Router) Topics() []string {
	if r.mode != kafka.TopicModePerType {
		return []string{r.topic}
	}
	all := []Type{TypeUserRegistered, TypeUserLoggedIn, TypeSessionRefreshed, TypeUserLoggedOut, TypeAccountStatusChanged}
	out := make([]string, 0, len(all))
	for _, t := range all {
		out = append(out, r.Topic(t))
	}
	return out
}

// Message wraps an already-encoded envelope as a producer record.
func (r Router) Message(e AuthEvent, payload []byte) *producer.Message {
	headers := map[string]string{
		HeaderEventType: string(e.Type),
		HeaderEventID:   e.ID.String(),
	}
	if e.CorrelationID != "" {
		headers[HeaderCorrelationID] = e.CorrelationID
	}
	return &producer.Message{
		Topic:   r.Topic(e.Type),
		Key:     []byte(e.PartitionKey()),
		Value:   payload,
		Headers: headers,
	}
}
