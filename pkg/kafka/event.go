package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is bumped whenever a payload changes incompatibly.
const SchemaVersion = 1

// Event is the JSON envelope written as the value of every message. Subject
// is the id of the review the event is about and doubles as the message key.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Subject       string          `json:"subject"`
	Time          time.Time       `json:"time"`
	SchemaVersion int             `json:"schema_version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent encodes data into a fresh envelope stamped with a new id and the
// current time.
func NewEvent(eventType, source, subject string, data any) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		Source:        source,
		Subject:       subject,
		Time:          time.Now().UTC(),
		SchemaVersion: SchemaVersion,
		Data:          raw,
	}, nil
}

// DecodeEvent parses a message value written by Publish.
func DecodeEvent(value []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(value, &e); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if e.Type == "" || e.Subject == "" {
		return nil, fmt.Errorf("decode event: missing type or subject")
	}
	return &e, nil
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}
