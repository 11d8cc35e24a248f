package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sidelinehq/coachsync/entity"
	syncErrors "github.com/sidelinehq/coachsync/errors"
	"github.com/sidelinehq/coachsync/localstore"
	"github.com/sidelinehq/coachsync/logging"
)

const component = syncErrors.Component("queue")

// Config holds the options for a Queue.
type Config struct {
	// Store is the durable backing store. Required.
	Store localstore.Store

	Logger *logging.Logger

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = logging.Nop()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Queue is the durable mutation queue. Records live in the mutations
// namespace until committed (removed) or abandoned (moved to the abandoned
// namespace); every transition happens in its own store transaction.
type Queue struct {
	store  localstore.Store
	logger *logging.Logger
	now    func() time.Time
}

// New builds a Queue over the given store.
func New(cfg Config) (*Queue, error) {
	if cfg.Store == nil {
		return nil, syncErrors.E(syncErrors.OpEnqueue, component, syncErrors.KindValidation,
			"store is required")
	}
	cfg.setDefaults()
	return &Queue{
		store:  cfg.Store,
		logger: cfg.Logger.WithComponent(logging.Component("queue")),
		now:    cfg.Now,
	}, nil
}

// Append stages r inside the caller's transaction, so the entity write and
// its queue record become durable together. The record's sequence number is
// drawn from the store and assigns its drain position.
func (q *Queue) Append(tx localstore.Tx, r *Record) error {
	if r.EnqueuedAt.IsZero() {
		r.EnqueuedAt = q.now().UTC()
	}
	r.State = StatePending
	r.Attempts = 0
	r.LastError = ""

	if err := r.validate(); err != nil {
		return err
	}

	seq, err := tx.NextSeq(localstore.NamespaceMutations)
	if err != nil {
		return syncErrors.WrapOpComponent(err, string(syncErrors.OpEnqueue), string(component))
	}
	r.Seq = seq

	data, err := json.Marshal(r)
	if err != nil {
		return syncErrors.E(syncErrors.OpEnqueue, component, syncErrors.KindInternal, err)
	}
	return tx.Put(localstore.NamespaceMutations, recordKey(r.Collection, r.Seq), data)
}

// Pending returns the queued records for one collection in drain order.
func (q *Queue) Pending(ctx context.Context, c entity.Collection) ([]Record, error) {
	var records []Record
	err := q.store.View(ctx, func(tx localstore.ReadTx) error {
		var err error
		records, err = listCollection(tx, localstore.NamespaceMutations, c)
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Health summarizes queue state for the sync health surface.
type Health struct {
	PendingCount         int
	PendingPerCollection map[entity.Collection]int
	Abandoned            []Record
}

// Health reports pending depth per collection plus the abandoned records.
func (q *Queue) Health(ctx context.Context) (Health, error) {
	h := Health{PendingPerCollection: make(map[entity.Collection]int)}
	err := q.store.View(ctx, func(tx localstore.ReadTx) error {
		pending, err := tx.List(localstore.NamespaceMutations)
		if err != nil {
			return err
		}
		for _, rec := range pending {
			c, ok := collectionOfKey(rec.Key)
			if !ok {
				continue
			}
			h.PendingCount++
			h.PendingPerCollection[c]++
		}

		abandoned, err := tx.List(localstore.NamespaceAbandoned)
		if err != nil {
			return err
		}
		for _, raw := range abandoned {
			var r Record
			if err := json.Unmarshal(raw.Value, &r); err != nil {
				continue
			}
			h.Abandoned = append(h.Abandoned, r)
		}
		return nil
	})
	if err != nil {
		return Health{}, err
	}
	return h, nil
}

// oldestPending returns the head record for a collection, if any.
func (q *Queue) oldestPending(ctx context.Context, c entity.Collection) (Record, bool, error) {
	var (
		head  Record
		found bool
	)
	err := q.store.View(ctx, func(tx localstore.ReadTx) error {
		records, err := listCollection(tx, localstore.NamespaceMutations, c)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		head = records[0]
		found = true
		return nil
	})
	if err != nil {
		return Record{}, false, err
	}
	return head, found, nil
}

// markSending transitions the record to sending and returns the stored copy.
func (q *Queue) markSending(ctx context.Context, rec Record) (Record, error) {
	key := recordKey(rec.Collection, rec.Seq)
	var fresh Record
	err := q.store.Update(ctx, func(tx localstore.Tx) error {
		data, err := tx.Get(localstore.NamespaceMutations, key)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &fresh); err != nil {
			return syncErrors.E(syncErrors.OpDrain, component, syncErrors.KindInternal, err)
		}
		fresh.State = StateSending
		return putRecord(tx, localstore.NamespaceMutations, key, &fresh)
	})
	if err != nil {
		return Record{}, err
	}
	return fresh, nil
}

// complete removes a committed record. When no other queued record still
// references the entity, its envelope's dirty flag clears and the local
// version reconciles up to the acknowledged remote version.
func (q *Queue) complete(ctx context.Context, rec Record, remoteVersion uint64) error {
	key := recordKey(rec.Collection, rec.Seq)
	return q.store.Update(ctx, func(tx localstore.Tx) error {
		if err := tx.Delete(localstore.NamespaceMutations, key); err != nil {
			if syncErrors.IsNotFound(err) {
				return nil
			}
			return err
		}

		others, err := listCollection(tx, localstore.NamespaceMutations, rec.Collection)
		if err != nil {
			return err
		}
		for _, other := range others {
			if other.EntityID == rec.EntityID {
				return nil
			}
		}
		return clearDirty(tx, rec.Collection, rec.EntityID, remoteVersion)
	})
}

// fail records a push failure. Below the attempt ceiling the record stays
// queued as retrying; at the ceiling it moves to the abandoned namespace.
func (q *Queue) fail(ctx context.Context, rec Record, cause error, maxAttempts int) (Record, bool, error) {
	key := recordKey(rec.Collection, rec.Seq)
	var (
		fresh     Record
		abandoned bool
	)
	err := q.store.Update(ctx, func(tx localstore.Tx) error {
		data, err := tx.Get(localstore.NamespaceMutations, key)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &fresh); err != nil {
			return syncErrors.E(syncErrors.OpDrain, component, syncErrors.KindInternal, err)
		}

		fresh.Attempts++
		fresh.LastError = cause.Error()
		if maxAttempts > 0 && fresh.Attempts >= maxAttempts {
			abandoned = true
			return moveToAbandoned(tx, key, &fresh)
		}
		fresh.State = StateRetrying
		return putRecord(tx, localstore.NamespaceMutations, key, &fresh)
	})
	if err != nil {
		return Record{}, false, err
	}
	return fresh, abandoned, nil
}

// abandon moves a record straight to the abandoned namespace. Used for
// rejections, which must never be retried.
func (q *Queue) abandon(ctx context.Context, rec Record, cause error) error {
	key := recordKey(rec.Collection, rec.Seq)
	return q.store.Update(ctx, func(tx localstore.Tx) error {
		data, err := tx.Get(localstore.NamespaceMutations, key)
		if err != nil {
			if syncErrors.IsNotFound(err) {
				return nil
			}
			return err
		}
		var fresh Record
		if err := json.Unmarshal(data, &fresh); err != nil {
			return syncErrors.E(syncErrors.OpDrain, component, syncErrors.KindInternal, err)
		}
		fresh.Attempts++
		fresh.LastError = cause.Error()
		return moveToAbandoned(tx, key, &fresh)
	})
}

// revertSending returns an interrupted record to pending without charging an
// attempt, for shutdown paths where the push outcome is unknown.
func (q *Queue) revertSending(ctx context.Context, rec Record) error {
	key := recordKey(rec.Collection, rec.Seq)
	return q.store.Update(ctx, func(tx localstore.Tx) error {
		data, err := tx.Get(localstore.NamespaceMutations, key)
		if err != nil {
			if syncErrors.IsNotFound(err) {
				return nil
			}
			return err
		}
		var fresh Record
		if err := json.Unmarshal(data, &fresh); err != nil {
			return syncErrors.E(syncErrors.OpDrain, component, syncErrors.KindInternal, err)
		}
		if fresh.State != StateSending {
			return nil
		}
		fresh.State = StatePending
		return putRecord(tx, localstore.NamespaceMutations, key, &fresh)
	})
}

// recoverSending flips records stranded in sending back to pending. Called
// once before dispatch starts, covering crashes mid-push.
func (q *Queue) recoverSending(ctx context.Context) (int, error) {
	recovered := 0
	err := q.store.Update(ctx, func(tx localstore.Tx) error {
		records, err := tx.List(localstore.NamespaceMutations)
		if err != nil {
			return err
		}
		for _, raw := range records {
			var r Record
			if err := json.Unmarshal(raw.Value, &r); err != nil {
				continue
			}
			if r.State != StateSending {
				continue
			}
			r.State = StatePending
			if err := putRecord(tx, localstore.NamespaceMutations, raw.Key, &r); err != nil {
				return err
			}
			recovered++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return recovered, nil
}

func putRecord(tx localstore.Tx, ns, key string, r *Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return syncErrors.E(syncErrors.OpDrain, component, syncErrors.KindInternal, err)
	}
	return tx.Put(ns, key, data)
}

func moveToAbandoned(tx localstore.Tx, key string, r *Record) error {
	r.State = StateAbandoned
	if err := putRecord(tx, localstore.NamespaceAbandoned, key, r); err != nil {
		return err
	}
	return tx.Delete(localstore.NamespaceMutations, key)
}

// clearDirty rewrites the entity envelope as clean. Missing envelopes are
// fine: the entity was deleted locally after this mutation was queued.
func clearDirty(tx localstore.Tx, c entity.Collection, entityID string, remoteVersion uint64) error {
	data, err := tx.Get(string(c), entityID)
	if err != nil {
		if syncErrors.IsNotFound(err) {
			return nil
		}
		return err
	}
	var env entity.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return syncErrors.E(syncErrors.OpDrain, component, syncErrors.KindInternal, err)
	}
	env.Dirty = false
	if remoteVersion > env.Version {
		env.Version = remoteVersion
	}
	updated, err := json.Marshal(&env)
	if err != nil {
		return syncErrors.E(syncErrors.OpDrain, component, syncErrors.KindInternal, err)
	}
	return tx.Put(string(c), entityID, updated)
}

// listCollection decodes the queued records for one collection, in key order.
func listCollection(tx localstore.ReadTx, ns string, c entity.Collection) ([]Record, error) {
	raw, err := tx.List(ns)
	if err != nil {
		return nil, err
	}
	prefix := string(c) + "/"
	var records []Record
	for _, item := range raw {
		if !strings.HasPrefix(item.Key, prefix) {
			continue
		}
		var r Record
		if err := json.Unmarshal(item.Value, &r); err != nil {
			return nil, syncErrors.E(syncErrors.OpDrain, component, syncErrors.KindInternal,
				fmt.Errorf("corrupt record %s: %w", item.Key, err))
		}
		records = append(records, r)
	}
	return records, nil
}

func collectionOfKey(key string) (entity.Collection, bool) {
	idx := strings.IndexByte(key, '/')
	if idx < 0 {
		return "", false
	}
	c := entity.Collection(key[:idx])
	if !c.Valid() {
		return "", false
	}
	return c, true
}
