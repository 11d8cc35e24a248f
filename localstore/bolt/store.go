// Package bolt implements localstore.Store on a single bbolt database file.
// Namespaces map to top-level buckets; per-namespace sequence counters use
// the bucket's built-in sequence.
package bolt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	syncErrors "github.com/sidelinehq/coachsync/errors"
	"github.com/sidelinehq/coachsync/localstore"
	"github.com/sidelinehq/coachsync/logging"
)

const component = syncErrors.Component("localstore/bolt")

// ErrStoreClosed is returned for operations on a closed store.
var ErrStoreClosed = errors.New("store is closed")

// Config holds the options for opening a bolt-backed store.
type Config struct {
	// Path is the database file location.
	Path string

	// Timeout bounds the wait for the file lock.
	Timeout time.Duration

	// Limits bounds the store's capacity. Zero means DefaultLimits.
	Limits localstore.Limits

	Logger *logging.Logger
}

func (c *Config) setDefaults() {
	if c.Timeout == 0 {
		c.Timeout = time.Second
	}
	if c.Limits == (localstore.Limits{}) {
		c.Limits = localstore.DefaultLimits()
	}
	if c.Logger == nil {
		c.Logger = logging.Nop()
	}
}

// Store is a bbolt-backed localstore.Store.
type Store struct {
	db     *bbolt.DB
	limits localstore.Limits
	logger *logging.Logger

	mu     sync.RWMutex
	closed bool
}

var _ localstore.Store = (*Store)(nil)

// Open opens or creates the database file.
func Open(cfg Config) (*Store, error) {
	cfg.setDefaults()
	if cfg.Path == "" {
		return nil, syncErrors.E(syncErrors.Op("bolt.Open"), component,
			syncErrors.KindValidation, "database path is required")
	}

	db, err := bbolt.Open(cfg.Path, 0o600, &bbolt.Options{Timeout: cfg.Timeout})
	if err != nil {
		return nil, syncErrors.E(syncErrors.Op("bolt.Open"), component, syncErrors.KindIO, err)
	}

	cfg.Logger.Debug("opened bolt store", "path", cfg.Path)

	return &Store{
		db:     db,
		limits: cfg.Limits,
		logger: cfg.Logger,
	}, nil
}

func (s *Store) checkOpen(op syncErrors.Op) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return syncErrors.E(op, component, syncErrors.KindIO, ErrStoreClosed)
	}
	return nil
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(localstore.ReadTx) error) error {
	if err := s.checkOpen(syncErrors.Op("bolt.View")); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return syncErrors.E(syncErrors.Op("bolt.View"), component, err)
	}
	return s.db.View(func(btx *bbolt.Tx) error {
		return fn(&storeTx{btx: btx, limits: s.limits})
	})
}

// Update runs fn in a write transaction. bbolt guarantees the transaction
// rolls back unless fn returns nil, including on panic.
func (s *Store) Update(ctx context.Context, fn func(localstore.Tx) error) error {
	if err := s.checkOpen(syncErrors.Op("bolt.Update")); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return syncErrors.E(syncErrors.Op("bolt.Update"), component, err)
	}
	return s.db.Update(func(btx *bbolt.Tx) error {
		return fn(&storeTx{btx: btx, limits: s.limits})
	})
}

// Close releases the database file. Further calls error.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return syncErrors.E(syncErrors.OpClose, component, syncErrors.KindIO, err)
	}
	s.logger.Debug("closed bolt store")
	return nil
}

// storeTx adapts a bbolt transaction to the localstore interfaces. Values
// returned by bbolt are only valid for the life of the transaction, so every
// read copies.
type storeTx struct {
	btx    *bbolt.Tx
	limits localstore.Limits
}

func (t *storeTx) Get(ns, key string) ([]byte, error) {
	const op = syncErrors.Op("bolt.Get")
	if err := localstore.ValidateKey(op, component, ns, key); err != nil {
		return nil, err
	}
	b := t.btx.Bucket([]byte(ns))
	if b == nil {
		return nil, notFound(op, ns, key)
	}
	v := b.Get([]byte(key))
	if v == nil {
		return nil, notFound(op, ns, key)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (t *storeTx) List(ns string) ([]localstore.Record, error) {
	const op = syncErrors.Op("bolt.List")
	if ns == "" {
		return nil, syncErrors.E(op, component, syncErrors.KindValidation, "namespace is required")
	}
	b := t.btx.Bucket([]byte(ns))
	if b == nil {
		return nil, nil
	}
	var records []localstore.Record
	err := b.ForEach(func(k, v []byte) error {
		value := make([]byte, len(v))
		copy(value, v)
		records = append(records, localstore.Record{Key: string(k), Value: value})
		return nil
	})
	if err != nil {
		return nil, syncErrors.E(op, component, syncErrors.KindIO, err)
	}
	return records, nil
}

func (t *storeTx) Count(ns string) (int, error) {
	if ns == "" {
		return 0, syncErrors.E(syncErrors.Op("bolt.Count"), component,
			syncErrors.KindValidation, "namespace is required")
	}
	b := t.btx.Bucket([]byte(ns))
	if b == nil {
		return 0, nil
	}
	return countKeys(b), nil
}

func (t *storeTx) Put(ns, key string, value []byte) error {
	const op = syncErrors.Op("bolt.Put")
	if err := localstore.ValidateKey(op, component, ns, key); err != nil {
		return err
	}
	b, err := t.btx.CreateBucketIfNotExists([]byte(ns))
	if err != nil {
		return syncErrors.E(op, component, syncErrors.KindIO, err)
	}

	isNew := b.Get([]byte(key)) == nil
	count := 0
	if isNew && t.limits.MaxRecordsPerNamespace > 0 {
		count = countKeys(b)
	}
	if err := localstore.CheckQuota(t.limits, op, component, isNew, count, value); err != nil {
		return err
	}

	if err := b.Put([]byte(key), value); err != nil {
		return syncErrors.E(op, component, syncErrors.KindIO, err)
	}
	return nil
}

func (t *storeTx) Delete(ns, key string) error {
	const op = syncErrors.Op("bolt.Delete")
	if err := localstore.ValidateKey(op, component, ns, key); err != nil {
		return err
	}
	b := t.btx.Bucket([]byte(ns))
	if b == nil || b.Get([]byte(key)) == nil {
		return notFound(op, ns, key)
	}
	if err := b.Delete([]byte(key)); err != nil {
		return syncErrors.E(op, component, syncErrors.KindIO, err)
	}
	return nil
}

func (t *storeTx) NextSeq(ns string) (uint64, error) {
	const op = syncErrors.Op("bolt.NextSeq")
	if ns == "" {
		return 0, syncErrors.E(op, component, syncErrors.KindValidation, "namespace is required")
	}
	b, err := t.btx.CreateBucketIfNotExists([]byte(ns))
	if err != nil {
		return 0, syncErrors.E(op, component, syncErrors.KindIO, err)
	}
	seq, err := b.NextSequence()
	if err != nil {
		return 0, syncErrors.E(op, component, syncErrors.KindIO, err)
	}
	return seq, nil
}

// countKeys walks the bucket with a cursor so records written earlier in the
// same transaction are included.
func countKeys(b *bbolt.Bucket) int {
	n := 0
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
}

func notFound(op syncErrors.Op, ns, key string) error {
	return syncErrors.E(op, component, syncErrors.KindNotFound,
		fmt.Errorf("%s/%s not found", ns, key))
}
