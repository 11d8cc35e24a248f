package repository

import (
	"context"
	"log/slog"

	"github.com/sidelinehq/coachsync/entity"
	syncErrors "github.com/sidelinehq/coachsync/errors"
)

// Games manages saved games, including the quota eviction policy: when the
// collection hits its record ceiling, the least-recently-updated game may be
// purged, but only after the configured confirmation hook approves. No other
// collection is ever auto-deleted.
type Games struct {
	collectionRepo
	confirm EvictionConfirm
}

// Create stores a new saved game. On QuotaExceeded it offers the stalest
// game for eviction and retries once if the hook approves.
func (g *Games) Create(ctx context.Context, game entity.SavedGame) (entity.Envelope, error) {
	if game.ID == "" {
		game.ID = entity.NewID()
	}
	payload, err := encodePayload(g.collection, &game)
	if err != nil {
		return entity.Envelope{}, err
	}

	env, err := g.create(ctx, game.ID, payload)
	if syncErrors.IsQuotaExceeded(err) {
		if evictErr := g.evictStalest(ctx, game.ID, err); evictErr != nil {
			return entity.Envelope{}, evictErr
		}
		return g.create(ctx, game.ID, payload)
	}
	return env, err
}

// Update replaces an existing saved game. A quota failure here means the
// payload itself is over the value limit; eviction cannot help, so it
// surfaces directly.
func (g *Games) Update(ctx context.Context, game entity.SavedGame) (entity.Envelope, error) {
	payload, err := encodePayload(g.collection, &game)
	if err != nil {
		return entity.Envelope{}, err
	}
	return g.update(ctx, game.ID, payload)
}

// Delete removes a saved game and queues the deletion for sync.
func (g *Games) Delete(ctx context.Context, id string) error {
	return g.remove(ctx, id)
}

// Get returns one saved game.
func (g *Games) Get(ctx context.Context, id string) (entity.SavedGame, error) {
	env, err := g.envelope(ctx, id)
	if err != nil {
		return entity.SavedGame{}, err
	}
	var game entity.SavedGame
	if err := decodePayload(env, &game); err != nil {
		return entity.SavedGame{}, err
	}
	return game, nil
}

// List returns all saved games in id order.
func (g *Games) List(ctx context.Context) ([]entity.SavedGame, error) {
	envs, err := g.envelopes(ctx)
	if err != nil {
		return nil, err
	}
	games := make([]entity.SavedGame, 0, len(envs))
	for _, env := range envs {
		var game entity.SavedGame
		if err := decodePayload(env, &game); err != nil {
			return nil, err
		}
		games = append(games, game)
	}
	return games, nil
}

// IDs returns the ids of all saved games.
func (g *Games) IDs(ctx context.Context) ([]string, error) {
	envs, err := g.envelopes(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(envs))
	for _, env := range envs {
		ids = append(ids, env.ID)
	}
	return ids, nil
}

// Count returns the number of saved games.
func (g *Games) Count(ctx context.Context) (int, error) {
	return g.count(ctx)
}

// Envelope exposes one saved game's sync metadata.
func (g *Games) Envelope(ctx context.Context, id string) (entity.Envelope, error) {
	return g.envelope(ctx, id)
}

// evictStalest purges the least-recently-updated saved game once the
// confirmation hook approves. Whenever eviction cannot go ahead, the
// original quota error is returned so the caller sees the real failure.
func (g *Games) evictStalest(ctx context.Context, excludeID string, quotaErr error) error {
	if g.confirm == nil {
		return quotaErr
	}

	envs, err := g.envelopes(ctx)
	if err != nil {
		return quotaErr
	}
	var candidate *entity.Envelope
	for i := range envs {
		env := &envs[i]
		if env.ID == excludeID {
			continue
		}
		if candidate == nil || env.UpdatedAt.Before(candidate.UpdatedAt) {
			candidate = env
		}
	}
	if candidate == nil {
		return quotaErr
	}

	approved, err := g.confirm(ctx, *candidate)
	if err != nil || !approved {
		return quotaErr
	}

	g.logger.Info("evicting stalest saved game to reclaim space",
		slog.String("id", candidate.ID),
		slog.Time("updated_at", candidate.UpdatedAt))
	return g.remove(ctx, candidate.ID)
}
