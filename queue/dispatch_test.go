package queue

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sidelinehq/coachsync/entity"
	syncErrors "github.com/sidelinehq/coachsync/errors"
	"github.com/sidelinehq/coachsync/localstore"
)

type mockProvider struct {
	mu     sync.Mutex
	pushFn func(rec Record) (PushAck, error)
	calls  []Record
}

func (m *mockProvider) Push(ctx context.Context, rec Record) (PushAck, error) {
	m.mu.Lock()
	m.calls = append(m.calls, rec)
	fn := m.pushFn
	m.mu.Unlock()
	if fn == nil {
		return PushAck{RemoteVersion: rec.BaseVersion}, nil
	}
	return fn(rec)
}

func (m *mockProvider) recorded() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.calls...)
}

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func newTestDispatcher(tb testing.TB, q *Queue, p Provider, mutate func(*DispatcherConfig)) *Dispatcher {
	cfg := DispatcherConfig{
		Queue:        q,
		Provider:     p,
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		PushTimeout:  time.Second,
		PollInterval: 10 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := NewDispatcher(cfg)
	if err != nil {
		tb.Fatalf("Failed to create dispatcher: %v", err)
	}
	return d
}

func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", msg)
}

func TestDispatcher_DrainsInOrder(t *testing.T) {
	q, store := newTestQueue(t)
	ctx := context.Background()

	env := entity.Envelope{
		ID:         "player-1",
		Collection: entity.CollectionRoster,
		Version:    3,
		UpdatedAt:  time.Now().UTC(),
		Dirty:      true,
		Payload:    json.RawMessage(`{"name":"Alex"}`),
	}
	envData, _ := json.Marshal(&env)
	if err := localstore.Put(ctx, store, string(entity.CollectionRoster), env.ID, envData); err != nil {
		t.Fatalf("Failed to seed envelope: %v", err)
	}

	for i, id := range []string{"m-1", "m-2", "m-3"} {
		appendRecord(t, q, store, testRecord(id, "player-1", uint64(i+1)))
	}

	provider := &mockProvider{}
	d := newTestDispatcher(t, q, provider, nil)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Failed to start dispatcher: %v", err)
	}
	defer d.Stop()

	waitFor(t, 2*time.Second, "queue to drain", func() bool {
		pending, err := q.Pending(ctx, entity.CollectionRoster)
		return err == nil && len(pending) == 0
	})

	calls := provider.recorded()
	if len(calls) != 3 {
		t.Fatalf("Expected 3 pushes, got %d", len(calls))
	}
	for i, want := range []string{"m-1", "m-2", "m-3"} {
		if calls[i].ID != want {
			t.Errorf("Expected push %d to carry %s, got %s", i, want, calls[i].ID)
		}
	}
	if last := calls[2]; last.BaseVersion != 3 {
		t.Errorf("Expected final push at version 3, got %d", last.BaseVersion)
	}

	got := readEnvelope(t, store, "player-1")
	if got.Dirty {
		t.Error("Expected envelope clean after drain")
	}
}

func TestDispatcher_AbandonsAfterCeiling(t *testing.T) {
	q, store := newTestQueue(t)
	ctx := context.Background()

	appendRecord(t, q, store, testRecord("m-1", "player-1", 1))

	provider := &mockProvider{
		pushFn: func(Record) (PushAck, error) {
			return PushAck{}, syncErrors.NewNetworkError(syncErrors.OpPush, testErr("conn refused"))
		},
	}
	d := newTestDispatcher(t, q, provider, nil)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Failed to start dispatcher: %v", err)
	}
	defer d.Stop()

	waitFor(t, 2*time.Second, "record to be abandoned", func() bool {
		health, err := q.Health(ctx)
		return err == nil && len(health.Abandoned) == 1
	})

	if got := provider.callCount(); got != 3 {
		t.Errorf("Expected exactly 3 attempts, got %d", got)
	}

	// Abandoned records must never be retried.
	time.Sleep(50 * time.Millisecond)
	if got := provider.callCount(); got != 3 {
		t.Errorf("Expected no further attempts after abandonment, got %d", got)
	}

	health, err := q.Health(ctx)
	if err != nil {
		t.Fatalf("Failed to read health: %v", err)
	}
	if health.PendingCount != 0 {
		t.Errorf("Expected empty queue, got %d pending", health.PendingCount)
	}
	got := health.Abandoned[0]
	if got.Attempts != 3 || got.State != StateAbandoned || got.LastError == "" {
		t.Errorf("Unexpected abandoned record: %+v", got)
	}
}

func TestDispatcher_RejectedNeverRetried(t *testing.T) {
	q, store := newTestQueue(t)
	ctx := context.Background()

	appendRecord(t, q, store, testRecord("m-1", "player-1", 1))

	provider := &mockProvider{
		pushFn: func(Record) (PushAck, error) {
			return PushAck{}, syncErrors.NewRejectedError(syncErrors.OpPush, testErr("schema mismatch"))
		},
	}
	d := newTestDispatcher(t, q, provider, nil)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Failed to start dispatcher: %v", err)
	}
	defer d.Stop()

	waitFor(t, 2*time.Second, "record to be abandoned", func() bool {
		health, err := q.Health(ctx)
		return err == nil && len(health.Abandoned) == 1
	})

	if got := provider.callCount(); got != 1 {
		t.Errorf("Expected a single attempt for a rejection, got %d", got)
	}
}

func TestDispatcher_ReplayedDeliveryCommits(t *testing.T) {
	q, store := newTestQueue(t)
	ctx := context.Background()

	appendRecord(t, q, store, testRecord("m-1", "player-1", 1))

	// First delivery succeeds remotely but the ack is lost; the retry
	// replays the same record id and the backend reports it committed.
	var calls atomic.Int32
	provider := &mockProvider{
		pushFn: func(rec Record) (PushAck, error) {
			if calls.Add(1) == 1 {
				return PushAck{}, syncErrors.NewNetworkError(syncErrors.OpPush, testErr("ack lost"))
			}
			return PushAck{RemoteVersion: rec.BaseVersion}, nil
		},
	}
	d := newTestDispatcher(t, q, provider, nil)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Failed to start dispatcher: %v", err)
	}
	defer d.Stop()

	waitFor(t, 2*time.Second, "queue to drain", func() bool {
		pending, err := q.Pending(ctx, entity.CollectionRoster)
		return err == nil && len(pending) == 0
	})

	recorded := provider.recorded()
	if len(recorded) != 2 {
		t.Fatalf("Expected 2 deliveries, got %d", len(recorded))
	}
	if recorded[0].ID != recorded[1].ID {
		t.Errorf("Expected replay to carry the same record id, got %s and %s",
			recorded[0].ID, recorded[1].ID)
	}

	health, err := q.Health(ctx)
	if err != nil {
		t.Fatalf("Failed to read health: %v", err)
	}
	if len(health.Abandoned) != 0 {
		t.Errorf("Expected no abandoned records, got %d", len(health.Abandoned))
	}
}

func TestDispatcher_OfflineGatesDrainWithoutDiscardingWork(t *testing.T) {
	q, store := newTestQueue(t)
	ctx := context.Background()

	appendRecord(t, q, store, testRecord("m-1", "player-1", 1))

	var online atomic.Bool
	provider := &mockProvider{}
	d := newTestDispatcher(t, q, provider, func(cfg *DispatcherConfig) {
		cfg.Online = online.Load
	})
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Failed to start dispatcher: %v", err)
	}
	defer d.Stop()

	time.Sleep(30 * time.Millisecond)
	if got := provider.callCount(); got != 0 {
		t.Fatalf("Expected no pushes while offline, got %d", got)
	}
	pending, err := q.Pending(ctx, entity.CollectionRoster)
	if err != nil || len(pending) != 1 {
		t.Fatalf("Expected the record retained while offline, got %d (err %v)", len(pending), err)
	}

	online.Store(true)
	d.Kick()

	waitFor(t, 2*time.Second, "queue to drain after reconnect", func() bool {
		p, err := q.Pending(ctx, entity.CollectionRoster)
		return err == nil && len(p) == 0
	})
}

func TestDispatcher_KickWakesIdleWorkers(t *testing.T) {
	q, store := newTestQueue(t)
	ctx := context.Background()

	provider := &mockProvider{}
	d := newTestDispatcher(t, q, provider, func(cfg *DispatcherConfig) {
		cfg.PollInterval = time.Minute
	})
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Failed to start dispatcher: %v", err)
	}
	defer d.Stop()

	// Give the workers time to go idle, then enqueue and kick.
	time.Sleep(20 * time.Millisecond)
	appendRecord(t, q, store, testRecord("m-1", "player-1", 1))
	d.Kick()

	waitFor(t, 2*time.Second, "kicked worker to drain", func() bool {
		return provider.callCount() == 1
	})
}

func TestDispatcher_StartStop(t *testing.T) {
	q, _ := newTestQueue(t)
	d := newTestDispatcher(t, q, &mockProvider{}, nil)

	if err := d.Stop(); err != nil {
		t.Errorf("Expected stop before start to be a no-op, got: %v", err)
	}

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Failed to start dispatcher: %v", err)
	}
	if err := d.Start(ctx); err == nil {
		t.Error("Expected second start to fail")
	}
	if err := d.Stop(); err != nil {
		t.Errorf("Failed to stop dispatcher: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Errorf("Expected second stop to be a no-op, got: %v", err)
	}
}

func TestExponentialBackoff_NextDelay(t *testing.T) {
	eb := &exponentialBackoff{
		initialDelay: 100 * time.Millisecond,
		maxDelay:     time.Second,
		multiplier:   2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, 100 * time.Millisecond},
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{10, time.Second},
	}

	for _, tt := range tests {
		if got := eb.nextDelay(tt.attempt); got != tt.want {
			t.Errorf("nextDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponentialBackoff_Jitter(t *testing.T) {
	eb := &exponentialBackoff{
		initialDelay: 100 * time.Millisecond,
		maxDelay:     time.Second,
		multiplier:   2.0,
		jitter:       0.5,
	}

	lo := 75 * time.Millisecond
	hi := 125 * time.Millisecond
	seen := make(map[time.Duration]bool)
	for i := 0; i < 100; i++ {
		got := eb.nextDelay(0)
		if got < lo || got > hi {
			t.Fatalf("nextDelay(0) = %v, want within [%v, %v]", got, lo, hi)
		}
		seen[got] = true
	}
	if len(seen) < 2 {
		t.Error("Expected jitter to vary the delay")
	}
}
