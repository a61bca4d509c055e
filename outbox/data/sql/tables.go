package sql

// Tables names the three tables the outbox is made of.
type Tables struct {
	Events     string
	Entries    string
	Deliveries string
}

var (
	DefaultTables = Tables{
		Events:     "events",
		Entries:    "outbox_events",
		Deliveries: "outbox_delivery",
	}

	// EntryColumns is the column order every entry query selects and scans.
	EntryColumns = []string{"event_id", "company_id", "entity_id", "type", "source", "payload", "occurred_at"}

	// EventListColumns is the column order of event list queries.
	EventListColumns = append(append([]string{}, EntryColumns...), "created_at")

	// ClaimColumns is the column order of the claim snapshot.
	ClaimColumns = []string{"event_id", "status", "attempts"}
)

// EventListFilter says which optional predicates an event list query has.
// Arguments follow in this order: company id, entity id, type, from, to,
// cursor occurred at, cursor event id, limit.
type EventListFilter struct {
	Entity bool
	Type   bool
	From   bool
	To     bool
	After  bool
}
