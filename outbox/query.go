package outbox

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

var ErrInvalidCursor = errors.New("outbox: invalid page cursor")

// Cursor is the keyset position of the last event on a page.
type Cursor struct {
	OccurredAt time.Time `json:"occurredAt"`
	EventId    uuid.UUID `json:"eventId"`
}

// Encode renders the cursor as an opaque, URL safe token.
func (c Cursor) Encode() string {
	b, _ := json.Marshal(c)

	return base64.RawURLEncoding.EncodeToString(b)
}

func DecodeCursor(token string) (*Cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	c := &Cursor{}
	if err := json.Unmarshal(b, c); err != nil || c.EventId == uuid.Nil || c.OccurredAt.IsZero() {
		return nil, ErrInvalidCursor
	}

	return c, nil
}

// EventQuery filters the events of one company. Zero values leave the
// optional filters out.
type EventQuery struct {
	CompanyId string
	EntityId  string
	Type      EventType
	From      time.Time
	To        time.Time
	Limit     int
	After     *Cursor
}

func (q EventQuery) Validate() error {
	switch {
	case q.CompanyId == "":
		return fmt.Errorf("companyId is required")
	case q.Type != "" && !q.Type.Valid():
		return fmt.Errorf("type %q is not one of %v", q.Type, EventTypes)
	case !q.From.IsZero() && !q.To.IsZero() && q.From.After(q.To):
		return fmt.Errorf("dateFrom must not be after dateTo")
	}

	return nil
}

// EventPage holds one page of events, newest first. Next is nil on the
// last page.
type EventPage struct {
	Items []*Event
	Next  *Cursor
}

// ClampLimit keeps a page size within [1, MaxListLimit].
func ClampLimit(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxListLimit {
		return MaxListLimit
	}

	return n
}
