package event

import "time"

// EntityType names the aggregate a change event refers to.
type EntityType string

const (
	EntityOrder  EntityType = "order"
	EntityLedger EntityType = "ledger"
)

// Kind of mutation carried by an event.
type Kind string

const (
	Created       Kind = "created"
	StatusChanged Kind = "status_changed"
	LedgerUpdated Kind = "ledger_updated"
	// Resync tells a subscriber its queue overflowed and the oldest
	// events were dropped; it must re-fetch full state.
	Resync Kind = "resync"
)

// Event is the change envelope pushed to subscribers on every order
// or ledger mutation.
type Event struct {
	EntityType EntityType  `json:"entityType"`
	EntityID   string      `json:"entityId"`
	Kind       Kind        `json:"kind"`
	Payload    interface{} `json:"payload,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// SubjectKind names the key space a subscription listens on.
type SubjectKind string

const (
	ByOrder   SubjectKind = "order"
	ByUser    SubjectKind = "user"
	ByCompany SubjectKind = "company"
)
