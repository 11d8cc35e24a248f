// Package repository is the write and read surface for the app's entity
// collections. Every write validates its payload, then lands the envelope
// and its mutation record in one store transaction: there are no
// sync-silent writes. Reads never touch the queue or the network.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sidelinehq/coachsync/entity"
	syncErrors "github.com/sidelinehq/coachsync/errors"
	"github.com/sidelinehq/coachsync/localstore"
	"github.com/sidelinehq/coachsync/logging"
	"github.com/sidelinehq/coachsync/queue"
)

const component = syncErrors.Component("repository")

// EvictionConfirm approves purging one saved game to make room when the
// games namespace hits its quota. Returning false keeps the game and
// surfaces the quota error to the caller.
type EvictionConfirm func(ctx context.Context, candidate entity.Envelope) (bool, error)

// Config wires the repositories.
type Config struct {
	Store localstore.Store
	Queue *queue.Queue

	// ConfirmEviction gates the games quota eviction policy. Nil disables
	// eviction entirely.
	ConfirmEviction EvictionConfirm

	Logger *logging.Logger
	Now    func() time.Time
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = logging.Nop()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Repositories bundles one repository per collection.
type Repositories struct {
	Roster      *Roster
	Games       *Games
	Seasons     *Seasons
	Tournaments *Tournaments
	Settings    *Settings
}

// New builds the repository set over one store and queue.
func New(cfg Config) (*Repositories, error) {
	if cfg.Store == nil {
		return nil, syncErrors.E(syncErrors.OpOpen, component, syncErrors.KindValidation,
			"store is required")
	}
	if cfg.Queue == nil {
		return nil, syncErrors.E(syncErrors.OpOpen, component, syncErrors.KindValidation,
			"queue is required")
	}
	cfg.setDefaults()
	logger := cfg.Logger.WithComponent(logging.Component("repository"))

	core := func(c entity.Collection) collectionRepo {
		return collectionRepo{
			collection: c,
			store:      cfg.Store,
			queue:      cfg.Queue,
			logger:     logger.WithCollection(string(c)),
			now:        cfg.Now,
		}
	}

	return &Repositories{
		Roster:      &Roster{core(entity.CollectionRoster)},
		Games:       &Games{collectionRepo: core(entity.CollectionGames), confirm: cfg.ConfirmEviction},
		Seasons:     &Seasons{core(entity.CollectionSeasons)},
		Tournaments: &Tournaments{core(entity.CollectionTournaments)},
		Settings:    &Settings{core(entity.CollectionSettings)},
	}, nil
}

// collectionRepo holds the envelope lifecycle shared by every repository.
type collectionRepo struct {
	collection entity.Collection
	store      localstore.Store
	queue      *queue.Queue
	logger     *logging.Logger
	now        func() time.Time
}

func (r *collectionRepo) namespace() string { return string(r.collection) }

// create writes version 1 of a new entity and enqueues its create mutation.
// An existing id is a conflict, not an overwrite.
func (r *collectionRepo) create(ctx context.Context, id string, payload json.RawMessage) (entity.Envelope, error) {
	env := entity.Envelope{
		ID:         id,
		Collection: r.collection,
		Version:    1,
		UpdatedAt:  r.now().UTC(),
		Dirty:      true,
		Payload:    payload,
	}

	err := r.store.Update(ctx, func(tx localstore.Tx) error {
		if _, err := tx.Get(r.namespace(), id); err == nil {
			return syncErrors.E(syncErrors.OpPut, component, syncErrors.KindConflict,
				fmt.Errorf("%s %q already exists", r.collection, id))
		} else if !syncErrors.IsNotFound(err) {
			return err
		}
		if err := r.putEnvelope(tx, env); err != nil {
			return err
		}
		return r.enqueue(tx, queue.OpCreate, id, env.Version, payload)
	})
	if err != nil {
		return entity.Envelope{}, err
	}

	r.logger.Debug("entity created", slog.String("id", id))
	return env, nil
}

// update bumps the version, stamps updatedAt, marks the entity dirty and
// enqueues the update mutation.
func (r *collectionRepo) update(ctx context.Context, id string, payload json.RawMessage) (entity.Envelope, error) {
	var env entity.Envelope
	err := r.store.Update(ctx, func(tx localstore.Tx) error {
		current, err := r.envelopeTx(tx, id)
		if err != nil {
			return err
		}
		env = current
		env.Version = current.Version + 1
		env.UpdatedAt = r.now().UTC()
		env.Dirty = true
		env.Payload = payload

		if err := r.putEnvelope(tx, env); err != nil {
			return err
		}
		return r.enqueue(tx, queue.OpUpdate, id, env.Version, payload)
	})
	if err != nil {
		return entity.Envelope{}, err
	}

	r.logger.Debug("entity updated", slog.String("id", id), slog.Uint64("version", env.Version))
	return env, nil
}

// remove deletes the entity and enqueues its tombstone mutation.
func (r *collectionRepo) remove(ctx context.Context, id string) error {
	err := r.store.Update(ctx, func(tx localstore.Tx) error {
		current, err := r.envelopeTx(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Delete(r.namespace(), id); err != nil {
			return err
		}
		return r.enqueue(tx, queue.OpDelete, id, current.Version+1, nil)
	})
	if err != nil {
		return err
	}

	r.logger.Debug("entity deleted", slog.String("id", id))
	return nil
}

func (r *collectionRepo) enqueue(tx localstore.Tx, op queue.Op, entityID string, version uint64, payload json.RawMessage) error {
	rec := queue.Record{
		ID:          entity.NewID(),
		Collection:  r.collection,
		EntityID:    entityID,
		Op:          op,
		BaseVersion: version,
		Payload:     payload,
		EnqueuedAt:  r.now().UTC(),
	}
	return r.queue.Append(tx, &rec)
}

func (r *collectionRepo) putEnvelope(tx localstore.Tx, env entity.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return syncErrors.E(syncErrors.OpPut, component, syncErrors.KindInternal, err)
	}
	return tx.Put(r.namespace(), env.ID, data)
}

func (r *collectionRepo) envelopeTx(tx localstore.ReadTx, id string) (entity.Envelope, error) {
	data, err := tx.Get(r.namespace(), id)
	if err != nil {
		return entity.Envelope{}, err
	}
	var env entity.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return entity.Envelope{}, syncErrors.E(syncErrors.OpGet, component, syncErrors.KindInternal,
			fmt.Errorf("corrupt envelope %s/%s: %w", r.collection, id, err))
	}
	return env, nil
}

// envelope reads one entity's envelope, sync metadata included.
func (r *collectionRepo) envelope(ctx context.Context, id string) (entity.Envelope, error) {
	var env entity.Envelope
	err := r.store.View(ctx, func(tx localstore.ReadTx) error {
		var err error
		env, err = r.envelopeTx(tx, id)
		return err
	})
	if err != nil {
		return entity.Envelope{}, err
	}
	return env, nil
}

// envelopes lists every envelope in the collection in key order.
func (r *collectionRepo) envelopes(ctx context.Context) ([]entity.Envelope, error) {
	var envs []entity.Envelope
	err := r.store.View(ctx, func(tx localstore.ReadTx) error {
		records, err := tx.List(r.namespace())
		if err != nil {
			return err
		}
		envs = make([]entity.Envelope, 0, len(records))
		for _, rec := range records {
			var env entity.Envelope
			if err := json.Unmarshal(rec.Value, &env); err != nil {
				return syncErrors.E(syncErrors.OpList, component, syncErrors.KindInternal,
					fmt.Errorf("corrupt envelope %s/%s: %w", r.collection, rec.Key, err))
			}
			envs = append(envs, env)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return envs, nil
}

func (r *collectionRepo) count(ctx context.Context) (int, error) {
	var n int
	err := r.store.View(ctx, func(tx localstore.ReadTx) error {
		var err error
		n, err = tx.Count(r.namespace())
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// validator is implemented by every typed payload.
type validator interface {
	Validate() error
}

// encodePayload runs the typed validation, encodes the payload, and checks
// the encoded form against the collection schema. Nothing that fails here
// touches storage.
func encodePayload(c entity.Collection, v validator) (json.RawMessage, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, syncErrors.E(syncErrors.OpValidate, component, syncErrors.KindInternal, err)
	}
	if err := entity.ValidatePayload(c, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func decodePayload(env entity.Envelope, v interface{}) error {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return syncErrors.E(syncErrors.OpGet, component, syncErrors.KindInternal,
			fmt.Errorf("corrupt %s payload %s: %w", env.Collection, env.ID, err))
	}
	return nil
}

// Source adapter: the app state detector reads through these.

// CountPlayers returns the roster size.
func (r *Repositories) CountPlayers(ctx context.Context) (int, error) {
	return r.Roster.Count(ctx)
}

// SavedGameIDs returns the ids of all saved games.
func (r *Repositories) SavedGameIDs(ctx context.Context) ([]string, error) {
	return r.Games.IDs(ctx)
}

// CountSeasons returns the number of seasons.
func (r *Repositories) CountSeasons(ctx context.Context) (int, error) {
	return r.Seasons.Count(ctx)
}

// CountTournaments returns the number of tournaments.
func (r *Repositories) CountTournaments(ctx context.Context) (int, error) {
	return r.Tournaments.Count(ctx)
}

// CurrentGameID returns the current game setting, "" when unset.
func (r *Repositories) CurrentGameID(ctx context.Context) (string, error) {
	return r.Settings.CurrentGameID(ctx)
}

// LastGameID returns the last played game setting, "" when unset.
func (r *Repositories) LastGameID(ctx context.Context) (string, error) {
	return r.Settings.LastGameID(ctx)
}
