package repository

import (
	"context"

	"github.com/sidelinehq/coachsync/entity"
)

// Seasons manages the seasons collection.
type Seasons struct {
	collectionRepo
}

// Create stores a new season. An empty id is filled with a generated one.
func (s *Seasons) Create(ctx context.Context, season entity.Season) (entity.Envelope, error) {
	if season.ID == "" {
		season.ID = entity.NewID()
	}
	payload, err := encodePayload(s.collection, &season)
	if err != nil {
		return entity.Envelope{}, err
	}
	return s.create(ctx, season.ID, payload)
}

// Update replaces an existing season.
func (s *Seasons) Update(ctx context.Context, season entity.Season) (entity.Envelope, error) {
	payload, err := encodePayload(s.collection, &season)
	if err != nil {
		return entity.Envelope{}, err
	}
	return s.update(ctx, season.ID, payload)
}

// Delete removes a season and queues the deletion for sync.
func (s *Seasons) Delete(ctx context.Context, id string) error {
	return s.remove(ctx, id)
}

// Get returns one season.
func (s *Seasons) Get(ctx context.Context, id string) (entity.Season, error) {
	env, err := s.envelope(ctx, id)
	if err != nil {
		return entity.Season{}, err
	}
	var season entity.Season
	if err := decodePayload(env, &season); err != nil {
		return entity.Season{}, err
	}
	return season, nil
}

// List returns all seasons in id order.
func (s *Seasons) List(ctx context.Context) ([]entity.Season, error) {
	envs, err := s.envelopes(ctx)
	if err != nil {
		return nil, err
	}
	seasons := make([]entity.Season, 0, len(envs))
	for _, env := range envs {
		var season entity.Season
		if err := decodePayload(env, &season); err != nil {
			return nil, err
		}
		seasons = append(seasons, season)
	}
	return seasons, nil
}

// Count returns the number of seasons.
func (s *Seasons) Count(ctx context.Context) (int, error) {
	return s.count(ctx)
}
