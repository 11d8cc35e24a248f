// Package appstate derives UI readiness flags from local data. The detector
// owns no data of its own: it fans out reads over the stored collections and
// summarizes what it finds.
package appstate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	syncErrors "github.com/sidelinehq/coachsync/errors"
	"github.com/sidelinehq/coachsync/logging"
)

const component = syncErrors.Component("appstate")

// Source reads the slices of app data the detector aggregates.
// Implementations must be safe for concurrent calls.
type Source interface {
	CountPlayers(ctx context.Context) (int, error)
	SavedGameIDs(ctx context.Context) ([]string, error)
	CountSeasons(ctx context.Context) (int, error)
	CountTournaments(ctx context.Context) (int, error)

	// CurrentGameID and LastGameID return "" when the setting is unset.
	CurrentGameID(ctx context.Context) (string, error)
	LastGameID(ctx context.Context) (string, error)
}

// Snapshot is one computed readiness state.
type Snapshot struct {
	HasPlayers            bool
	HasSavedGames         bool
	HasSeasonsTournaments bool
	CanResume             bool
	IsFirstTimeUser       bool

	// ResumeGameID is the game CanResume points at: the current game when it
	// still exists, otherwise the last game. Empty when CanResume is false.
	ResumeGameID string
}

// FirstRun is the conservative default used when nothing can be read: treat
// the user as brand new rather than hiding onboarding.
func FirstRun() Snapshot {
	return Snapshot{IsFirstTimeUser: true}
}

// Config configures a Detector.
type Config struct {
	Source Source
	Logger *logging.Logger
}

// Detector computes readiness snapshots on demand and notifies subscribers
// when the computed state changes.
type Detector struct {
	source Source
	logger *logging.Logger

	reqToken atomic.Uint64

	mu       sync.RWMutex
	snapshot Snapshot
	loaded   bool
	applied  uint64
	subs     map[int]func(Snapshot)
	nextSub  int
}

// New creates a Detector over the given source.
func New(cfg Config) (*Detector, error) {
	if cfg.Source == nil {
		return nil, syncErrors.E(syncErrors.OpRefresh, component, syncErrors.KindValidation,
			"source is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Detector{
		source: cfg.Source,
		logger: logger.WithComponent(logging.Component("appstate")),
		subs:   make(map[int]func(Snapshot)),
	}, nil
}

// Refresh recomputes the snapshot from the stored data. A failing source
// degrades to empty; only when every source fails does Refresh fall back to
// the FirstRun default, and then it also returns an error. Concurrent
// refreshes are safe: results land last-completed-wins by request token, so
// a slow stale result never overwrites a fresher one.
func (d *Detector) Refresh(ctx context.Context) (Snapshot, error) {
	token := d.reqToken.Add(1)

	var (
		players, seasons, tournaments int
		gameIDs                       []string
		currentID, lastID             string

		playersErr, gamesErr, seasonsErr, tournamentsErr, currentErr, lastErr error
	)

	// Fan out; every goroutine writes only its own slots.
	var wg sync.WaitGroup
	wg.Add(6)
	go func() { defer wg.Done(); players, playersErr = d.source.CountPlayers(ctx) }()
	go func() { defer wg.Done(); gameIDs, gamesErr = d.source.SavedGameIDs(ctx) }()
	go func() { defer wg.Done(); seasons, seasonsErr = d.source.CountSeasons(ctx) }()
	go func() { defer wg.Done(); tournaments, tournamentsErr = d.source.CountTournaments(ctx) }()
	go func() { defer wg.Done(); currentID, currentErr = d.source.CurrentGameID(ctx) }()
	go func() { defer wg.Done(); lastID, lastErr = d.source.LastGameID(ctx) }()
	wg.Wait()

	sources := []struct {
		name string
		err  error
	}{
		{"players", playersErr},
		{"saved_games", gamesErr},
		{"seasons", seasonsErr},
		{"tournaments", tournamentsErr},
		{"current_game_id", currentErr},
		{"last_game_id", lastErr},
	}
	failed := 0
	for _, src := range sources {
		if src.err == nil {
			continue
		}
		failed++
		d.logger.Warn("app state source failed, treating as empty",
			slog.String("source", src.name),
			slog.Any("error", src.err))
	}

	var snap Snapshot
	var refreshErr error
	if failed == len(sources) {
		snap = FirstRun()
		refreshErr = syncErrors.E(syncErrors.OpRefresh, component, syncErrors.KindIO,
			fmt.Errorf("all %d app state sources failed", len(sources)))
	} else {
		if playersErr != nil {
			players = 0
		}
		if gamesErr != nil {
			gameIDs = nil
		}
		if seasonsErr != nil {
			seasons = 0
		}
		if tournamentsErr != nil {
			tournaments = 0
		}
		if currentErr != nil {
			currentID = ""
		}
		if lastErr != nil {
			lastID = ""
		}
		snap = compute(players, gameIDs, seasons, tournaments, currentID, lastID)
	}

	d.commit(token, snap)
	return snap, refreshErr
}

func compute(players int, gameIDs []string, seasons, tournaments int, currentID, lastID string) Snapshot {
	games := make(map[string]struct{}, len(gameIDs))
	for _, id := range gameIDs {
		games[id] = struct{}{}
	}

	snap := Snapshot{
		HasPlayers:            players > 0,
		HasSavedGames:         len(gameIDs) > 0,
		HasSeasonsTournaments: seasons > 0 || tournaments > 0,
	}

	// The current game takes priority; a stale current id falls back to the
	// last played game.
	if currentID != "" {
		if _, ok := games[currentID]; ok {
			snap.CanResume = true
			snap.ResumeGameID = currentID
		}
	}
	if !snap.CanResume && lastID != "" {
		if _, ok := games[lastID]; ok {
			snap.CanResume = true
			snap.ResumeGameID = lastID
		}
	}

	snap.IsFirstTimeUser = !snap.HasPlayers || !snap.HasSavedGames
	return snap
}

// commit stores a computed snapshot unless a fresher refresh already landed.
func (d *Detector) commit(token uint64, snap Snapshot) {
	d.mu.Lock()
	if token <= d.applied {
		d.mu.Unlock()
		return
	}
	d.applied = token
	changed := !d.loaded || snap != d.snapshot
	d.snapshot = snap
	d.loaded = true

	var handlers []func(Snapshot)
	if changed {
		handlers = make([]func(Snapshot), 0, len(d.subs))
		for _, h := range d.subs {
			handlers = append(handlers, h)
		}
	}
	d.mu.Unlock()

	for _, h := range handlers {
		go func(notify func(Snapshot)) {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Warn("app state subscriber panicked", slog.Any("panic", r))
				}
			}()
			notify(snap)
		}(h)
	}
}

// Current returns the last committed snapshot; ok is false before the first
// completed Refresh.
func (d *Detector) Current() (Snapshot, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshot, d.loaded
}

// Subscribe registers fn for snapshot-change notifications. Notifications
// run on their own goroutines; a panicking subscriber is contained. The
// returned func unsubscribes.
func (d *Detector) Subscribe(fn func(Snapshot)) func() {
	if fn == nil {
		return func() {}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subs, id)
	}
}
