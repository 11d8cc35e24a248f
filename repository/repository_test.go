package repository

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/sidelinehq/coachsync/entity"
	syncErrors "github.com/sidelinehq/coachsync/errors"
	"github.com/sidelinehq/coachsync/localstore"
	"github.com/sidelinehq/coachsync/localstore/bolt"
	"github.com/sidelinehq/coachsync/queue"
)

func newTestRepos(tb testing.TB, limits localstore.Limits, mutate func(*Config)) (*Repositories, *queue.Queue, localstore.Store) {
	tb.Helper()

	store, err := bolt.Open(bolt.Config{
		Path:   filepath.Join(tb.TempDir(), "test.db"),
		Limits: limits,
	})
	if err != nil {
		tb.Fatalf("open store: %v", err)
	}
	tb.Cleanup(func() { store.Close() })

	q, err := queue.New(queue.Config{Store: store})
	if err != nil {
		tb.Fatalf("new queue: %v", err)
	}

	cfg := Config{Store: store, Queue: q}
	if mutate != nil {
		mutate(&cfg)
	}
	repos, err := New(cfg)
	if err != nil {
		tb.Fatalf("New() error = %v", err)
	}
	return repos, q, store
}

func TestRoster_WriteRoundTrip(t *testing.T) {
	repos, q, _ := newTestRepos(t, localstore.Limits{}, nil)
	ctx := context.Background()

	created, err := repos.Roster.Create(ctx, entity.Player{ID: "p-1", Name: "Alex", Position: "GK"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.Version != 1 {
		t.Errorf("created version = %d, want 1", created.Version)
	}
	if !created.Dirty {
		t.Error("created envelope must be dirty")
	}
	if created.UpdatedAt.IsZero() {
		t.Error("created envelope missing updatedAt")
	}

	got, err := repos.Roster.Get(ctx, "p-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "Alex" || got.Position != "GK" {
		t.Errorf("Get() = %+v, want the created payload back", got)
	}

	// Each local mutation bumps the version by exactly one and re-dirties.
	updated, err := repos.Roster.Update(ctx, entity.Player{ID: "p-1", Name: "Alexis"})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Version != created.Version+1 {
		t.Errorf("updated version = %d, want %d", updated.Version, created.Version+1)
	}
	if !updated.Dirty {
		t.Error("updated envelope must be dirty")
	}

	got, err = repos.Roster.Get(ctx, "p-1")
	if err != nil {
		t.Fatalf("Get() after update error = %v", err)
	}
	if got.Name != "Alexis" {
		t.Errorf("Get() name = %q, want Alexis", got.Name)
	}

	pending, err := q.Pending(ctx, entity.CollectionRoster)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending records = %d, want 2", len(pending))
	}
	if pending[0].Op != queue.OpCreate || pending[0].BaseVersion != 1 {
		t.Errorf("first record = %s v%d, want create v1", pending[0].Op, pending[0].BaseVersion)
	}
	if pending[1].Op != queue.OpUpdate || pending[1].BaseVersion != 2 {
		t.Errorf("second record = %s v%d, want update v2", pending[1].Op, pending[1].BaseVersion)
	}
}

func TestRoster_CreateFillsID(t *testing.T) {
	repos, _, _ := newTestRepos(t, localstore.Limits{}, nil)

	env, err := repos.Roster.Create(context.Background(), entity.Player{Name: "NoID"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if env.ID == "" {
		t.Fatal("Create() must fill an empty id")
	}
}

func TestRoster_DuplicateCreateConflict(t *testing.T) {
	repos, q, _ := newTestRepos(t, localstore.Limits{}, nil)
	ctx := context.Background()

	if _, err := repos.Roster.Create(ctx, entity.Player{ID: "p-1", Name: "Alex"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, err := repos.Roster.Create(ctx, entity.Player{ID: "p-1", Name: "Impostor"})
	if syncErrors.KindOf(err) != syncErrors.KindConflict {
		t.Fatalf("duplicate create error kind = %v, want %v", syncErrors.KindOf(err), syncErrors.KindConflict)
	}

	// The failed create must leave no trace.
	got, err := repos.Roster.Get(ctx, "p-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "Alex" {
		t.Errorf("name = %q, want the original Alex", got.Name)
	}
	pending, err := q.Pending(ctx, entity.CollectionRoster)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending records = %d, want 1", len(pending))
	}
}

func TestRoster_ValidationBeforeStorage(t *testing.T) {
	repos, q, _ := newTestRepos(t, localstore.Limits{}, nil)
	ctx := context.Background()

	_, err := repos.Roster.Create(ctx, entity.Player{ID: "p-1"})
	if syncErrors.KindOf(err) != syncErrors.KindValidation {
		t.Fatalf("error kind = %v, want %v", syncErrors.KindOf(err), syncErrors.KindValidation)
	}

	count, err := repos.Roster.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0 after rejected write", count)
	}
	pending, err := q.Pending(ctx, entity.CollectionRoster)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending records = %d, want 0", len(pending))
	}
}

func TestRoster_MissingEntity(t *testing.T) {
	repos, _, _ := newTestRepos(t, localstore.Limits{}, nil)
	ctx := context.Background()

	if _, err := repos.Roster.Update(ctx, entity.Player{ID: "ghost", Name: "X"}); !syncErrors.IsNotFound(err) {
		t.Errorf("Update() missing error = %v, want not found", err)
	}
	if err := repos.Roster.Delete(ctx, "ghost"); !syncErrors.IsNotFound(err) {
		t.Errorf("Delete() missing error = %v, want not found", err)
	}
	if _, err := repos.Roster.Get(ctx, "ghost"); !syncErrors.IsNotFound(err) {
		t.Errorf("Get() missing error = %v, want not found", err)
	}
}

func TestRoster_DeleteEnqueuesTombstone(t *testing.T) {
	repos, q, _ := newTestRepos(t, localstore.Limits{}, nil)
	ctx := context.Background()

	if _, err := repos.Roster.Create(ctx, entity.Player{ID: "p-1", Name: "Alex"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repos.Roster.Delete(ctx, "p-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := repos.Roster.Get(ctx, "p-1"); !syncErrors.IsNotFound(err) {
		t.Errorf("Get() after delete = %v, want not found", err)
	}

	pending, err := q.Pending(ctx, entity.CollectionRoster)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending records = %d, want create+delete", len(pending))
	}
	del := pending[1]
	if del.Op != queue.OpDelete {
		t.Errorf("second record op = %s, want delete", del.Op)
	}
	if len(del.Payload) != 0 {
		t.Errorf("delete record payload = %s, want none", del.Payload)
	}
	if del.BaseVersion != 2 {
		t.Errorf("delete record base version = %d, want 2", del.BaseVersion)
	}
}

func TestWriteAndEnqueueAreAtomic(t *testing.T) {
	// One mutation slot: the create consumes it, so the update's enqueue
	// hits the quota and the whole transaction must roll back.
	repos, _, _ := newTestRepos(t, localstore.Limits{MaxRecordsPerNamespace: 1}, nil)
	ctx := context.Background()

	created, err := repos.Roster.Create(ctx, entity.Player{ID: "p-1", Name: "Alex"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_, err = repos.Roster.Update(ctx, entity.Player{ID: "p-1", Name: "Alexis"})
	if !syncErrors.IsQuotaExceeded(err) {
		t.Fatalf("Update() error = %v, want quota exceeded", err)
	}

	// The envelope write joined the failed enqueue in the rollback.
	env, err := repos.Roster.Envelope(ctx, "p-1")
	if err != nil {
		t.Fatalf("Envelope() error = %v", err)
	}
	if env.Version != created.Version {
		t.Errorf("version = %d, want unchanged %d", env.Version, created.Version)
	}
	var p entity.Player
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.Name != "Alex" {
		t.Errorf("name = %q, want the pre-update Alex", p.Name)
	}
}

func TestRepositories_DetectorSource(t *testing.T) {
	repos, _, _ := newTestRepos(t, localstore.Limits{}, nil)
	ctx := context.Background()

	if _, err := repos.Roster.Create(ctx, entity.Player{ID: "p-1", Name: "Alex"}); err != nil {
		t.Fatalf("create player: %v", err)
	}
	if _, err := repos.Games.Create(ctx, entity.SavedGame{ID: "g-1", Opponent: "Rivals"}); err != nil {
		t.Fatalf("create game: %v", err)
	}
	if err := repos.Settings.SetCurrentGameID(ctx, "g-1"); err != nil {
		t.Fatalf("set current game: %v", err)
	}

	if n, err := repos.CountPlayers(ctx); err != nil || n != 1 {
		t.Errorf("CountPlayers() = (%d, %v), want (1, nil)", n, err)
	}
	ids, err := repos.SavedGameIDs(ctx)
	if err != nil || len(ids) != 1 || ids[0] != "g-1" {
		t.Errorf("SavedGameIDs() = (%v, %v), want ([g-1], nil)", ids, err)
	}
	if id, err := repos.CurrentGameID(ctx); err != nil || id != "g-1" {
		t.Errorf("CurrentGameID() = (%q, %v), want (g-1, nil)", id, err)
	}
	if id, err := repos.LastGameID(ctx); err != nil || id != "" {
		t.Errorf("LastGameID() = (%q, %v), want unset", id, err)
	}
	if n, err := repos.CountSeasons(ctx); err != nil || n != 0 {
		t.Errorf("CountSeasons() = (%d, %v), want (0, nil)", n, err)
	}
}

func TestSeasons_ValidateDateOrder(t *testing.T) {
	repos, _, _ := newTestRepos(t, localstore.Limits{}, nil)

	starts := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	_, err := repos.Seasons.Create(context.Background(), entity.Season{
		ID:       "s-1",
		Name:     "Fall",
		StartsOn: starts,
		EndsOn:   starts.AddDate(0, -1, 0),
	})
	if syncErrors.KindOf(err) != syncErrors.KindValidation {
		t.Errorf("error kind = %v, want %v", syncErrors.KindOf(err), syncErrors.KindValidation)
	}
}
