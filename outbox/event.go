package outbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventType string

type Source string

const (
	Accident EventType = "ACCIDENT"
	Service  EventType = "SERVICE"
	Transfer EventType = "TRANSFER"

	// Unhandled is the routing key for writes that could not be persisted.
	Unhandled = "UNHANDLED"

	Mobile  Source = "mobile"
	Partner Source = "partner"
	Manual  Source = "manual"
)

// EventTypes lists every routable event type, in the order their queues are
// declared on the broker.
var EventTypes = []EventType{Accident, Service, Transfer}

var sources = map[Source]bool{
	Mobile:  true,
	Partner: true,
	Manual:  true,
}

func (t EventType) Valid() bool {
	for _, et := range EventTypes {
		if t == et {
			return true
		}
	}
	return false
}

func (s Source) Valid() bool {
	return sources[s]
}

// Event is an immutable business fact. It is written once by the Writer
// together with its Entry and Delivery and never mutated afterwards.
type Event struct {
	EventId    uuid.UUID       `json:"eventId"`
	CompanyId  string          `json:"companyId"`
	EntityId   string          `json:"entityId"`
	Type       EventType       `json:"type"`
	Source     Source          `json:"source"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurredAt"`
	CreatedAt  time.Time       `json:"-"`
}

// Validate checks the fields an ingestion request must carry.
func (e *Event) Validate() error {
	switch {
	case e.EventId == uuid.Nil:
		return fmt.Errorf("eventId must be a non-nil UUID")
	case e.CompanyId == "":
		return fmt.Errorf("companyId must not be empty")
	case e.EntityId == "":
		return fmt.Errorf("entityId must not be empty")
	case !e.Type.Valid():
		return fmt.Errorf("type %q is not one of %v", e.Type, EventTypes)
	case !e.Source.Valid():
		return fmt.Errorf("source %q is not one of mobile, partner, manual", e.Source)
	case e.OccurredAt.IsZero():
		return fmt.Errorf("occurredAt must be set")
	}

	p := bytes.TrimSpace(e.Payload)
	if len(p) == 0 || p[0] != '{' || !json.Valid(p) {
		return fmt.Errorf("payload must be a JSON object")
	}

	return nil
}

// Entry is the denormalised copy of an Event that the relay publishes from.
type Entry struct {
	EventId    uuid.UUID
	CompanyId  string
	EntityId   string
	Type       EventType
	Source     Source
	Payload    json.RawMessage
	OccurredAt time.Time
}
