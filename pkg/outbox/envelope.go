package outbox

import (
	"encoding/json"
	"time"
)

// CauseRef identifies the processor event that produced a domain event.
type CauseRef struct {
	Source    string `json:"source"`
	EventID   string `json:"eventId"`
	EventType string `json:"eventType,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Cause      *CauseRef       `json:"cause,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// Message is the broker-neutral shape handed to a sink.
type Message struct {
	Key        string
	Data       []byte
	Attributes map[string]string
}
