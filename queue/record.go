// Package queue persists pending mutations and drains them to the remote
// backend in order, one in-flight push per collection.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sidelinehq/coachsync/entity"
	syncErrors "github.com/sidelinehq/coachsync/errors"
)

// Op identifies what a mutation does to its entity.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Valid reports whether op is a known mutation op.
func (o Op) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// State tracks a record through the dispatch state machine:
// pending → sending → {committed | retrying → sending | abandoned}.
// Committed records are removed rather than stored.
type State string

const (
	StatePending   State = "pending"
	StateSending   State = "sending"
	StateRetrying  State = "retrying"
	StateAbandoned State = "abandoned"
)

// Record is one durable queued mutation. ID is stable across retries so the
// backend can deduplicate replayed deliveries.
type Record struct {
	ID          string            `json:"id"`
	Collection  entity.Collection `json:"collection"`
	EntityID    string            `json:"entity_id"`
	Op          Op                `json:"op"`
	BaseVersion uint64            `json:"base_version"`
	Payload     json.RawMessage   `json:"payload,omitempty"`
	EnqueuedAt  time.Time         `json:"enqueued_at"`

	// Assigned by Append.
	Seq uint64 `json:"seq"`

	// Dispatch bookkeeping.
	State     State  `json:"state"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
}

func (r *Record) validate() error {
	if r.ID == "" {
		return syncErrors.E(syncErrors.OpEnqueue, component, syncErrors.KindValidation,
			"record id is required")
	}
	if !r.Collection.Valid() {
		return syncErrors.E(syncErrors.OpEnqueue, component, syncErrors.KindValidation,
			fmt.Errorf("unknown collection %q", r.Collection))
	}
	if r.EntityID == "" {
		return syncErrors.E(syncErrors.OpEnqueue, component, syncErrors.KindValidation,
			"entity id is required")
	}
	if !r.Op.Valid() {
		return syncErrors.E(syncErrors.OpEnqueue, component, syncErrors.KindValidation,
			fmt.Errorf("unknown op %q", r.Op))
	}
	if r.Op != OpDelete && len(r.Payload) == 0 {
		return syncErrors.E(syncErrors.OpEnqueue, component, syncErrors.KindValidation,
			fmt.Errorf("%s mutation requires a payload", r.Op))
	}
	return nil
}

// recordKey orders the mutations namespace by collection, then sequence.
// Zero-padding keeps byte order equal to numeric order.
func recordKey(c entity.Collection, seq uint64) string {
	return fmt.Sprintf("%s/%020d", c, seq)
}
