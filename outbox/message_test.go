package outbox

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-test/deep"
)

func TestNewBrokerMessage(t *testing.T) {
	e := createEvent()
	entry := &Entry{
		EventId:    e.EventId,
		CompanyId:  e.CompanyId,
		EntityId:   e.EntityId,
		Type:       e.Type,
		Source:     e.Source,
		Payload:    e.Payload,
		OccurredAt: e.OccurredAt,
	}

	msg := NewBrokerMessage(entry)

	if msg.Key() != e.EventId.String() {
		t.Errorf("expected the message key to be the event id, got %s", msg.Key())
	}
	if msg.PartitionKey() != e.EntityId {
		t.Errorf("expected the partition key to be the entity id, got %s", msg.PartitionKey())
	}

	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	got := map[string]interface{}{}
	_ = json.Unmarshal(body, &got)
	exp := map[string]interface{}{
		"eventId":    e.EventId.String(),
		"type":       "SERVICE",
		"payload":    map[string]interface{}{"mileage": float64(1200)},
		"occurredAt": "2024-03-02T08:30:00Z",
		"companyId":  "company-7",
		"entityId":   "vehicle-42",
		"source":     "partner",
	}
	if diff := deep.Equal(exp, got); diff != nil {
		t.Error(diff)
	}
}

func TestNewFailedWrite(t *testing.T) {
	e := createEvent()
	at := time.Date(2024, 3, 2, 8, 31, 0, 0, time.UTC)

	f := NewFailedWrite(e, errors.New("connection refused"), at)

	if f.Attempts != 1 {
		t.Errorf("expected a failed write to record a single attempt, got %d", f.Attempts)
	}
	if f.Error != "connection refused" {
		t.Errorf("unexpected error text: %s", f.Error)
	}
	if f.Key() != e.EventId.String() || f.PartitionKey() != e.EntityId {
		t.Errorf("expected the failed write to be keyed by the event, got %s/%s", f.Key(), f.PartitionKey())
	}

	body, _ := json.Marshal(f)
	got := map[string]interface{}{}
	_ = json.Unmarshal(body, &got)
	if _, ok := got["event"].(map[string]interface{}); !ok {
		t.Errorf("expected the original event to be embedded, got %s", body)
	}
	if got["failedAt"] != "2024-03-02T08:31:00Z" {
		t.Errorf("unexpected failedAt: %v", got["failedAt"])
	}
}

func TestPublishableHeaders(t *testing.T) {
	e := createEvent()

	tests := []struct {
		name string
		msg  Publishable
		exp  map[string]string
	}{
		{
			name: "broker message",
			msg:  NewBrokerMessage(&Entry{EventId: e.EventId, Type: Transfer, Source: Manual}),
			exp:  map[string]string{"x-event-id": e.EventId.String(), "x-event-type": "TRANSFER", "x-event-source": "manual"},
		},
		{
			name: "failed write",
			msg:  NewFailedWrite(e, errors.New("oops"), time.Now()),
			exp:  map[string]string{"x-event-id": e.EventId.String(), "x-event-type": "UNHANDLED", "x-event-source": "partner"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := deep.Equal(tt.exp, tt.msg.Headers()); diff != nil {
				t.Error(diff)
			}
		})
	}
}
