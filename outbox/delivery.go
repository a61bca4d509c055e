package outbox

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusNew     Status = "NEW"
	StatusSending Status = "SENDING"
	StatusSent    Status = "SENT"
	StatusRetry   Status = "RETRY"
	StatusDead    Status = "DEAD"
)

// Terminal reports whether no further automatic transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusDead
}

// Claimable reports whether a record in status s may be claimed once eligible.
func (s Status) Claimable() bool {
	return s == StatusNew || s == StatusRetry
}

var (
	ErrEntryNotFound = errors.New("outbox entry not found for delivery")
)

// Delivery tracks the publication state of a single event. ClaimBatch only
// fills EventId, Status and Attempts, as they were before the claim.
type Delivery struct {
	EventId     uuid.UUID
	Status      Status
	Attempts    int
	NextRetryAt sql.NullTime
	LockedBy    sql.NullString
	LockedAt    sql.NullTime
	LastError   sql.NullString
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PublishError is returned by broker publishers when a message was rejected,
// not confirmed, or could not be sent at all.
type PublishError struct {
	RoutingKey string
	Err        error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publishing to %q failed: %s", e.RoutingKey, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}
