package repository

import (
	"context"

	"github.com/sidelinehq/coachsync/entity"
)

// Tournaments manages the tournaments collection.
type Tournaments struct {
	collectionRepo
}

// Create stores a new tournament. An empty id is filled with a generated one.
func (t *Tournaments) Create(ctx context.Context, tournament entity.Tournament) (entity.Envelope, error) {
	if tournament.ID == "" {
		tournament.ID = entity.NewID()
	}
	payload, err := encodePayload(t.collection, &tournament)
	if err != nil {
		return entity.Envelope{}, err
	}
	return t.create(ctx, tournament.ID, payload)
}

// Update replaces an existing tournament.
func (t *Tournaments) Update(ctx context.Context, tournament entity.Tournament) (entity.Envelope, error) {
	payload, err := encodePayload(t.collection, &tournament)
	if err != nil {
		return entity.Envelope{}, err
	}
	return t.update(ctx, tournament.ID, payload)
}

// Delete removes a tournament and queues the deletion for sync.
func (t *Tournaments) Delete(ctx context.Context, id string) error {
	return t.remove(ctx, id)
}

// Get returns one tournament.
func (t *Tournaments) Get(ctx context.Context, id string) (entity.Tournament, error) {
	env, err := t.envelope(ctx, id)
	if err != nil {
		return entity.Tournament{}, err
	}
	var tournament entity.Tournament
	if err := decodePayload(env, &tournament); err != nil {
		return entity.Tournament{}, err
	}
	return tournament, nil
}

// List returns all tournaments in id order.
func (t *Tournaments) List(ctx context.Context) ([]entity.Tournament, error) {
	envs, err := t.envelopes(ctx)
	if err != nil {
		return nil, err
	}
	tournaments := make([]entity.Tournament, 0, len(envs))
	for _, env := range envs {
		var tournament entity.Tournament
		if err := decodePayload(env, &tournament); err != nil {
			return nil, err
		}
		tournaments = append(tournaments, tournament)
	}
	return tournaments, nil
}

// Count returns the number of tournaments.
func (t *Tournaments) Count(ctx context.Context) (int, error) {
	return t.count(ctx)
}
