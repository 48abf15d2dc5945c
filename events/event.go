package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sketchtocad/sagaflow/types"
)

// Event is the transport envelope every message shares. Events are immutable
// once constructed; they are never mutated after publication.
//
// SagaID identifies the workflow instance and doubles as the partition key,
// so all events of one saga land in the same ordered stream. CorrelationID is
// generated once per causal chain and propagated unchanged to every event it
// causes, so a request can be traced end to end independently of the saga.
type Event struct {
	SagaID        string         `json:"saga_id"`
	EventType     EventType      `json:"event_type"`
	CorrelationID string         `json:"correlation_id"`
	Timestamp     Timestamp      `json:"timestamp"`
	Payload       types.Document `json:"payload"`
	Metadata      types.Document `json:"metadata"`
	RetryCount    int            `json:"retry_count"`
	ErrorMessage  string         `json:"error_message,omitempty"`
}

// Option customizes a constructed event.
type Option func(*Event)

// WithCorrelationID propagates an existing correlation identifier instead of
// generating a fresh one.
func WithCorrelationID(id string) Option {
	return func(e *Event) {
		if id != "" {
			e.CorrelationID = id
		}
	}
}

// WithMetadata attaches free-form metadata (user id, tenant, ...).
func WithMetadata(md types.Document) Option {
	return func(e *Event) {
		e.Metadata = md
	}
}

// WithErrorMessage records the error that produced this event.
func WithErrorMessage(msg string) Option {
	return func(e *Event) {
		e.ErrorMessage = msg
	}
}

// New assembles an envelope around a payload. The typed constructors in this
// package are the preferred entry points; New is exported for worker services
// building success and failure events.
func New(sagaID string, eventType EventType, payload types.Document, opts ...Option) *Event {
	if payload == nil {
		payload = types.Document{}
	}
	e := &Event{
		SagaID:        sagaID,
		EventType:     eventType,
		CorrelationID: uuid.NewString(),
		Timestamp:     Timestamp{time.Now().UTC()},
		Payload:       payload,
		Metadata:      types.Document{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Marshal serializes the event to its transport-neutral JSON document.
func Marshal(e *Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", e.EventType, err)
	}
	return data, nil
}

// Unmarshal decodes a transport document into an Event.
func Unmarshal(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	if e.SagaID == "" {
		return nil, fmt.Errorf("unmarshal event: missing saga_id")
	}
	if e.EventType == "" {
		return nil, fmt.Errorf("unmarshal event: missing event_type")
	}
	if e.Payload == nil {
		e.Payload = types.Document{}
	}
	if e.Metadata == nil {
		e.Metadata = types.Document{}
	}
	return &e, nil
}

// Timestamp wraps time.Time to accept the timestamp shapes producers actually
// emit: RFC 3339 with or without fractional seconds, and the zone-less ISO
// form the Python workers send.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, raw)
		if err == nil {
			t.Time = parsed.UTC()
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("parse timestamp %q: %w", raw, lastErr)
}
