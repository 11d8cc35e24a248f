package repository

import (
	"context"

	"github.com/sidelinehq/coachsync/entity"
)

// Roster manages the players collection.
type Roster struct {
	collectionRepo
}

// Create stores a new player. An empty id is filled with a generated one.
func (r *Roster) Create(ctx context.Context, p entity.Player) (entity.Envelope, error) {
	if p.ID == "" {
		p.ID = entity.NewID()
	}
	payload, err := encodePayload(r.collection, &p)
	if err != nil {
		return entity.Envelope{}, err
	}
	return r.create(ctx, p.ID, payload)
}

// Update replaces an existing player.
func (r *Roster) Update(ctx context.Context, p entity.Player) (entity.Envelope, error) {
	payload, err := encodePayload(r.collection, &p)
	if err != nil {
		return entity.Envelope{}, err
	}
	return r.update(ctx, p.ID, payload)
}

// Delete removes a player and queues the deletion for sync.
func (r *Roster) Delete(ctx context.Context, id string) error {
	return r.remove(ctx, id)
}

// Get returns one player.
func (r *Roster) Get(ctx context.Context, id string) (entity.Player, error) {
	env, err := r.envelope(ctx, id)
	if err != nil {
		return entity.Player{}, err
	}
	var p entity.Player
	if err := decodePayload(env, &p); err != nil {
		return entity.Player{}, err
	}
	return p, nil
}

// List returns all players in id order.
func (r *Roster) List(ctx context.Context) ([]entity.Player, error) {
	envs, err := r.envelopes(ctx)
	if err != nil {
		return nil, err
	}
	players := make([]entity.Player, 0, len(envs))
	for _, env := range envs {
		var p entity.Player
		if err := decodePayload(env, &p); err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, nil
}

// Count returns the roster size.
func (r *Roster) Count(ctx context.Context) (int, error) {
	return r.count(ctx)
}

// Envelope exposes one player's sync metadata.
func (r *Roster) Envelope(ctx context.Context, id string) (entity.Envelope, error) {
	return r.envelope(ctx, id)
}
