// Package localstore provides namespaced durable key-value storage with
// transactions and a capacity ceiling. It is the foundation the entity
// repositories, the mutation queue, and the sync cursors build on.
//
// A Store holds one namespace per entity collection plus the reserved
// namespaces below. Within a namespace, records are ordered by key bytes;
// List always returns them in that order.
package localstore

import (
	"context"
	"fmt"

	syncErrors "github.com/sidelinehq/coachsync/errors"
)

// Reserved namespaces shared by all backends.
const (
	NamespaceMutations = "mutations"
	NamespaceAbandoned = "abandoned"
	NamespaceCursors   = "cursors"
)

// Record is one stored key/value pair.
type Record struct {
	Key   string
	Value []byte
}

// ReadTx is the read-only view of a transaction.
type ReadTx interface {
	// Get returns the value stored under ns/key, or a KindNotFound error.
	Get(ns, key string) ([]byte, error)

	// List returns every record in the namespace ordered by key bytes.
	// A missing namespace yields an empty list, not an error.
	List(ns string) ([]Record, error)

	// Count returns the number of records in the namespace.
	Count(ns string) (int, error)
}

// Tx is a write transaction. Writes are only visible to other transactions
// after the enclosing Update commits.
type Tx interface {
	ReadTx

	// Put stores value under ns/key, replacing any existing record. It
	// returns a KindQuota error when the write would exceed the store's
	// capacity limits.
	Put(ns, key string, value []byte) error

	// Delete removes ns/key, or returns a KindNotFound error.
	Delete(ns, key string) error

	// NextSeq increments and returns the namespace's monotonic counter.
	// The increment commits or rolls back with the transaction.
	NextSeq(ns string) (uint64, error)
}

// Store is durable local storage scoped to one app session. Implementations
// must release the transaction handle on every exit path: fn error, panic,
// or context cancellation.
type Store interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(ReadTx) error) error

	// Update runs fn in a write transaction. Either every write fn made is
	// visible afterwards, or none are.
	Update(ctx context.Context, fn func(Tx) error) error

	Close() error
}

// Limits bounds the store's capacity. Zero values disable a bound.
type Limits struct {
	// MaxValueBytes caps a single record's value size.
	MaxValueBytes int

	// MaxRecordsPerNamespace caps the number of records per namespace.
	MaxRecordsPerNamespace int
}

// DefaultLimits returns the capacity bounds used when a backend's config
// leaves Limits unset.
func DefaultLimits() Limits {
	return Limits{
		MaxValueBytes:          512 * 1024,
		MaxRecordsPerNamespace: 10000,
	}
}

// CheckQuota validates a pending write against the limits. count is the
// namespace's current record count and isNew reports whether the key does
// not exist yet. Backends call this from Tx.Put.
func CheckQuota(l Limits, op syncErrors.Op, component syncErrors.Component, isNew bool, count int, value []byte) error {
	if l.MaxValueBytes > 0 && len(value) > l.MaxValueBytes {
		return syncErrors.E(op, component, syncErrors.KindQuota,
			fmt.Errorf("value of %d bytes exceeds limit of %d", len(value), l.MaxValueBytes))
	}
	if l.MaxRecordsPerNamespace > 0 && isNew && count >= l.MaxRecordsPerNamespace {
		return syncErrors.E(op, component, syncErrors.KindQuota,
			fmt.Errorf("namespace is at its record limit of %d", l.MaxRecordsPerNamespace))
	}
	return nil
}

// ValidateKey rejects the empty namespace and key before they reach a
// backend.
func ValidateKey(op syncErrors.Op, component syncErrors.Component, ns, key string) error {
	if ns == "" {
		return syncErrors.E(op, component, syncErrors.KindValidation, "namespace is required")
	}
	if key == "" {
		return syncErrors.E(op, component, syncErrors.KindValidation, "key is required")
	}
	return nil
}

// Get is a convenience wrapper for a single-read transaction.
func Get(ctx context.Context, s Store, ns, key string) ([]byte, error) {
	var value []byte
	err := s.View(ctx, func(tx ReadTx) error {
		v, err := tx.Get(ns, key)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Put is a convenience wrapper for a single-write transaction.
func Put(ctx context.Context, s Store, ns, key string, value []byte) error {
	return s.Update(ctx, func(tx Tx) error {
		return tx.Put(ns, key, value)
	})
}

// Delete is a convenience wrapper for a single-delete transaction.
func Delete(ctx context.Context, s Store, ns, key string) error {
	return s.Update(ctx, func(tx Tx) error {
		return tx.Delete(ns, key)
	})
}

// List is a convenience wrapper for a single-list transaction.
func List(ctx context.Context, s Store, ns string) ([]Record, error) {
	var records []Record
	err := s.View(ctx, func(tx ReadTx) error {
		r, err := tx.List(ns)
		if err != nil {
			return err
		}
		records = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
