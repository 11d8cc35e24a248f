// Package entity defines the persisted collections of the coaching app and
// the sync metadata envelope carried by every record.
package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Collection names one logical entity type's storage namespace.
type Collection string

const (
	CollectionRoster      Collection = "roster"
	CollectionGames       Collection = "games"
	CollectionSeasons     Collection = "seasons"
	CollectionTournaments Collection = "tournaments"
	CollectionSettings    Collection = "settings"
)

// Collections returns all entity collections in their canonical order.
func Collections() []Collection {
	return []Collection{
		CollectionRoster,
		CollectionGames,
		CollectionSeasons,
		CollectionTournaments,
		CollectionSettings,
	}
}

// Valid reports whether c names a known collection.
func (c Collection) Valid() bool {
	switch c {
	case CollectionRoster, CollectionGames, CollectionSeasons,
		CollectionTournaments, CollectionSettings:
		return true
	}
	return false
}

func (c Collection) String() string { return string(c) }

// NewID returns a new client-generated entity id.
func NewID() string {
	return uuid.NewString()
}

// Envelope is the persisted form of an entity: the typed payload plus the
// metadata the sync subsystem tracks for it. Version increases by one on
// every local mutation; Dirty stays true until the remote acknowledges all
// queued mutations referencing the entity.
type Envelope struct {
	ID         string          `json:"id"`
	Collection Collection      `json:"collection"`
	Version    uint64          `json:"version"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Dirty      bool            `json:"dirty"`
	Payload    json.RawMessage `json:"payload"`
}

// Delta is one remote entity state returned by a pull: either a full state
// or a tombstone when Deleted is set.
type Delta struct {
	Collection Collection      `json:"collection"`
	ID         string          `json:"id"`
	Deleted    bool            `json:"deleted,omitempty"`
	Version    uint64          `json:"version"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}
