package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sidelinehq/coachsync/entity"
	syncErrors "github.com/sidelinehq/coachsync/errors"
	"github.com/sidelinehq/coachsync/localstore"
	"github.com/sidelinehq/coachsync/queue"
)

// Settings manages string-keyed JSON values. The key doubles as the entity
// id within the settings collection, so writes are natural upserts.
type Settings struct {
	collectionRepo
}

// Upsert writes a setting, creating it on first write and versioning up on
// every later one.
func (s *Settings) Upsert(ctx context.Context, setting entity.Setting) (entity.Envelope, error) {
	payload, err := encodePayload(s.collection, &setting)
	if err != nil {
		return entity.Envelope{}, err
	}

	var env entity.Envelope
	err = s.store.Update(ctx, func(tx localstore.Tx) error {
		current, err := s.envelopeTx(tx, setting.Key)
		switch {
		case err == nil:
			env = current
			env.Version = current.Version + 1
			env.UpdatedAt = s.now().UTC()
			env.Dirty = true
			env.Payload = payload
			if err := s.putEnvelope(tx, env); err != nil {
				return err
			}
			return s.enqueue(tx, queue.OpUpdate, setting.Key, env.Version, payload)
		case syncErrors.IsNotFound(err):
			env = entity.Envelope{
				ID:         setting.Key,
				Collection: s.collection,
				Version:    1,
				UpdatedAt:  s.now().UTC(),
				Dirty:      true,
				Payload:    payload,
			}
			if err := s.putEnvelope(tx, env); err != nil {
				return err
			}
			return s.enqueue(tx, queue.OpCreate, setting.Key, 1, payload)
		default:
			return err
		}
	})
	if err != nil {
		return entity.Envelope{}, err
	}
	return env, nil
}

// Get returns one setting.
func (s *Settings) Get(ctx context.Context, key string) (entity.Setting, error) {
	env, err := s.envelope(ctx, key)
	if err != nil {
		return entity.Setting{}, err
	}
	var setting entity.Setting
	if err := decodePayload(env, &setting); err != nil {
		return entity.Setting{}, err
	}
	return setting, nil
}

// Delete removes a setting and queues the deletion for sync.
func (s *Settings) Delete(ctx context.Context, key string) error {
	return s.remove(ctx, key)
}

// CurrentGameID returns the id of the game in progress, "" when none.
func (s *Settings) CurrentGameID(ctx context.Context) (string, error) {
	return s.gameID(ctx, entity.SettingCurrentGameID)
}

// SetCurrentGameID records the game in progress; an empty id clears it.
func (s *Settings) SetCurrentGameID(ctx context.Context, id string) error {
	return s.setGameID(ctx, entity.SettingCurrentGameID, id)
}

// LastGameID returns the id of the most recently played game, "" when none.
func (s *Settings) LastGameID(ctx context.Context) (string, error) {
	return s.gameID(ctx, entity.SettingLastGameID)
}

// SetLastGameID records the most recently played game; an empty id clears it.
func (s *Settings) SetLastGameID(ctx context.Context, id string) error {
	return s.setGameID(ctx, entity.SettingLastGameID, id)
}

func (s *Settings) gameID(ctx context.Context, key string) (string, error) {
	setting, err := s.Get(ctx, key)
	if syncErrors.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var id string
	if err := json.Unmarshal(setting.Value, &id); err != nil {
		return "", syncErrors.E(syncErrors.OpGet, component, syncErrors.KindInternal,
			fmt.Errorf("setting %s does not hold a string: %w", key, err))
	}
	return id, nil
}

func (s *Settings) setGameID(ctx context.Context, key, id string) error {
	if id == "" {
		err := s.Delete(ctx, key)
		if syncErrors.IsNotFound(err) {
			return nil
		}
		return err
	}

	value, err := json.Marshal(id)
	if err != nil {
		return syncErrors.E(syncErrors.OpPut, component, syncErrors.KindInternal, err)
	}
	_, err = s.Upsert(ctx, entity.Setting{Key: key, Value: value})
	return err
}
