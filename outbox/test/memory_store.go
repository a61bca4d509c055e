package test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"inviqa/event-outbox-relay/outbox"

	"github.com/google/uuid"
)

var ErrStoreUnavailable = errors.New("store unavailable")

// MemoryStore is an in-memory delivery state store with the same claim
// semantics as the SQL repository: a claim is atomic and a delivery held by
// one worker is never handed to another.
type MemoryStore struct {
	sync.Mutex
	entries    map[uuid.UUID]*outbox.Entry
	deliveries map[uuid.UUID]*outbox.Delivery
	seq        map[uuid.UUID]int
	next       int
	now        func() time.Time
	failClaims bool
	failSizes  bool
	claimCalls int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:    map[uuid.UUID]*outbox.Entry{},
		deliveries: map[uuid.UUID]*outbox.Delivery{},
		seq:        map[uuid.UUID]int{},
		now:        time.Now,
	}
}

// Add writes an entry and a NEW delivery for it.
func (ms *MemoryStore) Add(e *outbox.Entry) {
	ms.Lock()
	defer ms.Unlock()
	ms.entries[e.EventId] = e
	ms.addDelivery(e.EventId)
}

// AddDeliveryOnly writes a NEW delivery whose entry is missing.
func (ms *MemoryStore) AddDeliveryOnly(eventId uuid.UUID) {
	ms.Lock()
	defer ms.Unlock()
	ms.addDelivery(eventId)
}

func (ms *MemoryStore) addDelivery(eventId uuid.UUID) {
	now := ms.now()
	ms.deliveries[eventId] = &outbox.Delivery{EventId: eventId, Status: outbox.StatusNew, CreatedAt: now, UpdatedAt: now}
	ms.seq[eventId] = ms.next
	ms.next++
}

func (ms *MemoryStore) SetClock(now func() time.Time) {
	ms.Lock()
	defer ms.Unlock()
	ms.now = now
}

func (ms *MemoryStore) FailClaims(fail bool) {
	ms.Lock()
	defer ms.Unlock()
	ms.failClaims = fail
}

func (ms *MemoryStore) FailSizes(fail bool) {
	ms.Lock()
	defer ms.Unlock()
	ms.failSizes = fail
}

func (ms *MemoryStore) ClaimCalls() int {
	ms.Lock()
	defer ms.Unlock()
	return ms.claimCalls
}

// Delivery returns a copy of the delivery record for eventId.
func (ms *MemoryStore) Delivery(eventId uuid.UUID) outbox.Delivery {
	ms.Lock()
	defer ms.Unlock()
	if d, ok := ms.deliveries[eventId]; ok {
		return *d
	}
	return outbox.Delivery{}
}

func (ms *MemoryStore) ClaimBatch(_ context.Context, workerId string, limit int) ([]*outbox.Delivery, error) {
	ms.Lock()
	defer ms.Unlock()
	ms.claimCalls++

	if ms.failClaims {
		return nil, ErrStoreUnavailable
	}

	now := ms.now()
	var eligible []*outbox.Delivery
	for _, d := range ms.deliveries {
		if d.Status.Claimable() && (!d.NextRetryAt.Valid || !d.NextRetryAt.Time.After(now)) {
			eligible = append(eligible, d)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		return ms.seq[eligible[i].EventId] < ms.seq[eligible[j].EventId]
	})

	claimed := []*outbox.Delivery{}
	for i, d := range eligible {
		if i == limit {
			break
		}
		claimed = append(claimed, &outbox.Delivery{EventId: d.EventId, Status: d.Status, Attempts: d.Attempts})
		d.Status = outbox.StatusSending
		d.LockedBy.String, d.LockedBy.Valid = workerId, true
		d.LockedAt.Time, d.LockedAt.Valid = now, true
		d.UpdatedAt = now
	}

	return claimed, nil
}

func (ms *MemoryStore) GetEntry(_ context.Context, eventId uuid.UUID) (*outbox.Entry, error) {
	ms.Lock()
	defer ms.Unlock()
	e, ok := ms.entries[eventId]
	if !ok {
		return nil, outbox.ErrEntryNotFound
	}
	return e, nil
}

func (ms *MemoryStore) MarkSent(_ context.Context, eventId uuid.UUID) error {
	ms.Lock()
	defer ms.Unlock()
	if d := ms.sending(eventId); d != nil {
		d.Status = outbox.StatusSent
		d.LastError.Valid = false
	}
	return nil
}

func (ms *MemoryStore) MarkRetry(_ context.Context, eventId uuid.UUID, attempts int, delay time.Duration, reason string) error {
	ms.Lock()
	defer ms.Unlock()
	if d := ms.sending(eventId); d != nil {
		d.Status = outbox.StatusRetry
		d.Attempts = attempts
		d.NextRetryAt.Time, d.NextRetryAt.Valid = ms.now().Add(delay), true
		d.LastError.String, d.LastError.Valid = reason, true
	}
	return nil
}

func (ms *MemoryStore) MarkDead(_ context.Context, eventId uuid.UUID, attempts int, reason string) error {
	ms.Lock()
	defer ms.Unlock()
	if d := ms.sending(eventId); d != nil {
		d.Status = outbox.StatusDead
		d.Attempts = attempts
		d.LastError.String, d.LastError.Valid = reason, true
	}
	return nil
}

func (ms *MemoryStore) ReleaseStuckSending(_ context.Context, olderThan time.Duration) (int64, error) {
	ms.Lock()
	defer ms.Unlock()

	if ms.failSizes {
		return 0, ErrStoreUnavailable
	}

	now := ms.now()
	var released int64
	for _, d := range ms.deliveries {
		if d.Status == outbox.StatusSending && d.LockedAt.Valid && d.LockedAt.Time.Before(now.Add(-olderThan)) {
			d.Status = outbox.StatusRetry
			d.NextRetryAt.Time, d.NextRetryAt.Valid = now, true
			d.LockedBy.Valid, d.LockedAt.Valid = false, false
			released++
		}
	}

	return released, nil
}

func (ms *MemoryStore) GetQueueSize() (uint, error) {
	return ms.countWhere(func(s outbox.Status) bool { return !s.Terminal() })
}

func (ms *MemoryStore) GetDeadSize() (uint, error) {
	return ms.countWhere(func(s outbox.Status) bool { return s == outbox.StatusDead })
}

func (ms *MemoryStore) countWhere(match func(outbox.Status) bool) (uint, error) {
	ms.Lock()
	defer ms.Unlock()

	if ms.failSizes {
		return 0, ErrStoreUnavailable
	}

	var n uint
	for _, d := range ms.deliveries {
		if match(d.Status) {
			n++
		}
	}
	return n, nil
}

// sending returns the delivery only while it is SENDING, mirroring the
// guarded updates of the SQL repository.
func (ms *MemoryStore) sending(eventId uuid.UUID) *outbox.Delivery {
	d, ok := ms.deliveries[eventId]
	if !ok || d.Status != outbox.StatusSending {
		return nil
	}
	d.LockedBy.Valid, d.LockedAt.Valid = false, false
	d.UpdatedAt = ms.now()
	return d
}
