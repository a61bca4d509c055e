package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Publishable is anything a broker publisher can send. Key is the stable
// identifier consumers deduplicate on; PartitionKey groups related messages.
type Publishable interface {
	Key() string
	PartitionKey() string
	Headers() map[string]string
}

// BrokerMessage is the body published for a delivered event.
type BrokerMessage struct {
	EventId    uuid.UUID       `json:"eventId"`
	Type       EventType       `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurredAt"`
	CompanyId  string          `json:"companyId"`
	EntityId   string          `json:"entityId"`
	Source     Source          `json:"source"`
}

func NewBrokerMessage(e *Entry) *BrokerMessage {
	return &BrokerMessage{
		EventId:    e.EventId,
		Type:       e.Type,
		Payload:    e.Payload,
		OccurredAt: e.OccurredAt,
		CompanyId:  e.CompanyId,
		EntityId:   e.EntityId,
		Source:     e.Source,
	}
}

func (m *BrokerMessage) Key() string {
	return m.EventId.String()
}

func (m *BrokerMessage) PartitionKey() string {
	return m.EntityId
}

// FailedWrite is published under the Unhandled routing key when an event
// could not be written to the outbox.
type FailedWrite struct {
	Event    *Event    `json:"event"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failedAt"`
	Attempts int       `json:"attempts"`
}

func NewFailedWrite(e *Event, err error, at time.Time) *FailedWrite {
	return &FailedWrite{
		Event:    e,
		Error:    err.Error(),
		FailedAt: at,
		Attempts: 1,
	}
}

func (f *FailedWrite) Key() string {
	return f.Event.EventId.String()
}

func (f *FailedWrite) PartitionKey() string {
	return f.Event.EntityId
}

// Headers returns the transport headers describing the event.
func (m *BrokerMessage) Headers() map[string]string {
	return map[string]string{
		"x-event-id":     m.EventId.String(),
		"x-event-type":   string(m.Type),
		"x-event-source": string(m.Source),
	}
}

func (f *FailedWrite) Headers() map[string]string {
	return map[string]string{
		"x-event-id":     f.Event.EventId.String(),
		"x-event-type":   Unhandled,
		"x-event-source": string(f.Event.Source),
	}
}
