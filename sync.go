package coachsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sidelinehq/coachsync/conflict"
	"github.com/sidelinehq/coachsync/cursor"
	"github.com/sidelinehq/coachsync/entity"
	syncErrors "github.com/sidelinehq/coachsync/errors"
	"github.com/sidelinehq/coachsync/localstore"
)

// syncLifecycle tracks the background loops and pull-result subscribers.
type syncLifecycle struct {
	mu          sync.Mutex
	running     bool
	stop        chan struct{}
	wg          sync.WaitGroup
	unsubscribe func()
	pullMu      sync.Mutex

	subMu   sync.RWMutex
	subs    map[int]func(SyncResult)
	nextSub int
}

// SyncResult summarizes one pull pass. Pushes run continuously in the
// background and are not part of it; Health covers their state.
type SyncResult struct {
	StartTime time.Time
	Duration  time.Duration

	// Pulled counts deltas received; the rest split them by outcome.
	Pulled    int
	Applied   int
	Deleted   int
	KeptLocal int
	Discarded int

	// Errors collects per-collection failures. Collections fail
	// independently; a partial pass still advances the others.
	Errors []error
}

// Start launches background sync: the queue dispatcher, the connectivity
// monitor when configured, and a periodic pull loop. It returns an error
// when already running. Offline clients (no backend configured) only gain
// the app state refresh loop.
func (c *Client) Start(ctx context.Context) error {
	c.lifecycle.mu.Lock()
	defer c.lifecycle.mu.Unlock()

	if c.lifecycle.running {
		return syncErrors.E(syncErrors.OpDrain, component, fmt.Errorf("client is already started"))
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if c.monitor != nil {
		if err := c.monitor.Start(ctx); err != nil {
			return err
		}
	}
	if c.dispatcher != nil {
		if err := c.dispatcher.Start(ctx); err != nil {
			if c.monitor != nil {
				c.monitor.Stop()
			}
			return err
		}
	}

	stop := make(chan struct{})
	c.lifecycle.stop = stop
	c.lifecycle.running = true

	// Reconnects flush the backlog right away instead of waiting out the
	// poll interval.
	c.lifecycle.unsubscribe = c.signal.Subscribe(func(online bool) {
		if !online {
			return
		}
		c.Kick()
		if c.provider != nil {
			go c.backgroundSync("reconnect")
		}
	})

	if c.provider != nil {
		c.lifecycle.wg.Add(1)
		go c.pullLoop(ctx, stop)
	}

	// Seed the app state so Current() answers before the first refresh.
	c.lifecycle.wg.Add(1)
	go func() {
		defer c.lifecycle.wg.Done()
		refreshCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := c.AppState.Refresh(refreshCtx); err != nil {
			c.logger.Warn("initial app state refresh failed", slog.Any("error", err))
		}
	}()

	c.logger.Info("sync client started",
		slog.Bool("remote", c.provider != nil),
		slog.Bool("monitor", c.monitor != nil))
	return nil
}

// Stop halts the background loops. In-flight pushes settle first; queued
// work stays durable. Safe to call twice.
func (c *Client) Stop() {
	c.lifecycle.mu.Lock()
	if !c.lifecycle.running {
		c.lifecycle.mu.Unlock()
		return
	}
	c.lifecycle.running = false
	close(c.lifecycle.stop)
	if c.lifecycle.unsubscribe != nil {
		c.lifecycle.unsubscribe()
		c.lifecycle.unsubscribe = nil
	}
	c.lifecycle.mu.Unlock()

	if c.dispatcher != nil {
		c.dispatcher.Stop()
	}
	c.lifecycle.wg.Wait()
	c.logger.Info("sync client stopped")
}

// Subscribe registers fn for the result of every pull pass. The returned
// function removes the subscription.
func (c *Client) Subscribe(fn func(SyncResult)) func() {
	if fn == nil {
		return func() {}
	}
	lc := &c.lifecycle
	lc.subMu.Lock()
	if lc.subs == nil {
		lc.subs = make(map[int]func(SyncResult))
	}
	id := lc.nextSub
	lc.nextSub++
	lc.subs[id] = fn
	lc.subMu.Unlock()

	return func() {
		lc.subMu.Lock()
		delete(lc.subs, id)
		lc.subMu.Unlock()
	}
}

func (c *Client) notifySubscribers(result SyncResult) {
	lc := &c.lifecycle
	lc.subMu.RLock()
	handlers := make([]func(SyncResult), 0, len(lc.subs))
	for _, fn := range lc.subs {
		handlers = append(handlers, fn)
	}
	lc.subMu.RUnlock()

	for _, fn := range handlers {
		go func(h func(SyncResult)) {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("sync subscriber panicked", slog.Any("panic", r))
				}
			}()
			h(result)
		}(fn)
	}
}

func (c *Client) pullLoop(ctx context.Context, stop <-chan struct{}) {
	defer c.lifecycle.wg.Done()

	interval := c.cfg.PullInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.signal.Online() {
				continue
			}
			c.backgroundSync("interval")
		}
	}
}

func (c *Client) backgroundSync(trigger string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	result, err := c.SyncNow(ctx)
	if err != nil {
		c.logger.Warn("background sync failed",
			slog.String("trigger", trigger),
			slog.Any("error", err))
		return
	}
	if len(result.Errors) > 0 {
		c.logger.Warn("background sync finished with errors",
			slog.String("trigger", trigger),
			slog.Int("errors", len(result.Errors)))
	}
}

// SyncNow runs one pull pass over every collection, folds the deltas into
// the local store through the conflict resolver, refreshes the app state
// and kicks the dispatcher. Collections fail independently; their errors
// land in the result. Safe to call while background sync runs.
func (c *Client) SyncNow(ctx context.Context) (SyncResult, error) {
	if c.provider == nil {
		return SyncResult{}, syncErrors.E(syncErrors.OpPull, component, syncErrors.KindValidation,
			"no backend configured")
	}

	// One pull pass at a time; concurrent callers queue up behind it.
	c.lifecycle.pullMu.Lock()
	defer c.lifecycle.pullMu.Unlock()

	result := SyncResult{StartTime: time.Now()}
	defer func() {
		result.Duration = time.Since(result.StartTime)
		c.notifySubscribers(result)
	}()

	for _, collection := range entity.Collections() {
		if err := c.pullCollection(ctx, collection, &result); err != nil {
			result.Errors = append(result.Errors,
				fmt.Errorf("pull %s: %w", collection, err))
			if ctx.Err() != nil {
				break
			}
		}
	}

	refreshCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := c.AppState.Refresh(refreshCtx); err != nil {
		c.logger.Warn("app state refresh after sync failed", slog.Any("error", err))
	}

	c.Kick()

	if len(result.Errors) > 0 {
		c.logger.Warn("pull pass finished with errors",
			slog.Int("pulled", result.Pulled),
			slog.Int("errors", len(result.Errors)))
	} else {
		c.logger.Debug("pull pass finished",
			slog.Int("pulled", result.Pulled),
			slog.Int("applied", result.Applied))
	}
	return result, nil
}

// pullCollection pages deltas for one collection until the backend reports
// no further progress. Each page is applied and its cursor persisted in a
// single transaction, so a crash never re-applies a half-page or skips one.
func (c *Client) pullCollection(ctx context.Context, collection entity.Collection, result *SyncResult) error {
	since, err := c.loadCursor(ctx, collection)
	if err != nil {
		return err
	}

	start := time.Now()
	applied := 0
	for {
		deltas, next, err := c.provider.PullDeltas(ctx, collection, since, c.cfg.PullLimit)
		if err != nil {
			return err
		}
		// The watermark only moves forward, whatever the backend returns.
		next = since.Advance(next.Seq, next.SyncedAt)
		result.Pulled += len(deltas)

		if len(deltas) > 0 {
			pageApplied, err := c.applyPage(ctx, collection, deltas, next, result)
			if err != nil {
				return err
			}
			applied += pageApplied
		} else if next.Compare(since) > 0 {
			// An empty page can still move the watermark.
			if err := c.saveCursor(ctx, collection, next); err != nil {
				return err
			}
		}

		if next.Compare(since) <= 0 {
			break
		}
		since = next
	}

	c.metrics.RecordPull(string(collection), applied, time.Since(start))
	return nil
}

// applyPage resolves one page of deltas against the local envelopes and
// advances the collection cursor, all inside one store transaction. Remote
// applications never enqueue mutations: only user writes sync back out.
func (c *Client) applyPage(ctx context.Context, collection entity.Collection, deltas []entity.Delta, next cursor.Cursor, result *SyncResult) (int, error) {
	ns := string(collection)
	applied := 0
	err := c.store.Update(ctx, func(tx localstore.Tx) error {
		for _, delta := range deltas {
			local, err := readEnvelope(tx, ns, delta.ID)
			if err != nil {
				return err
			}
			res, err := c.resolver.Resolve(ctx, conflict.Conflict{Local: local, Remote: delta})
			if err != nil {
				return err
			}
			if local != nil && local.Dirty {
				c.metrics.RecordConflict(ns, string(res.Decision))
			}

			switch res.Decision {
			case conflict.DecisionApplyRemote:
				value, err := json.Marshal(res.Envelope)
				if err != nil {
					return syncErrors.E(syncErrors.OpResolve, component, syncErrors.KindInternal, err)
				}
				if err := tx.Put(ns, delta.ID, value); err != nil {
					return err
				}
				applied++
				result.Applied++
			case conflict.DecisionDelete:
				if err := tx.Delete(ns, delta.ID); err != nil && !syncErrors.IsNotFound(err) {
					return err
				}
				applied++
				result.Deleted++
			case conflict.DecisionKeepLocal:
				result.KeptLocal++
			case conflict.DecisionDiscard:
				result.Discarded++
			default:
				return syncErrors.E(syncErrors.OpResolve, component, syncErrors.KindInternal,
					fmt.Errorf("unknown resolution %q", res.Decision))
			}
		}
		return putCursor(tx, collection, next)
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}

func readEnvelope(tx localstore.ReadTx, ns, id string) (*entity.Envelope, error) {
	value, err := tx.Get(ns, id)
	if syncErrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var env entity.Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, syncErrors.E(syncErrors.OpResolve, component, syncErrors.KindInternal,
			fmt.Errorf("corrupt envelope %s/%s: %w", ns, id, err))
	}
	return &env, nil
}

func (c *Client) loadCursor(ctx context.Context, collection entity.Collection) (cursor.Cursor, error) {
	value, err := localstore.Get(ctx, c.store, localstore.NamespaceCursors, string(collection))
	if syncErrors.IsNotFound(err) {
		return cursor.Cursor{}, nil
	}
	if err != nil {
		return cursor.Cursor{}, err
	}
	var wc cursor.WireCursor
	if err := json.Unmarshal(value, &wc); err != nil {
		return cursor.Cursor{}, syncErrors.E(syncErrors.OpPull, component, syncErrors.KindInternal,
			fmt.Errorf("corrupt cursor for %s: %w", collection, err))
	}
	cur, err := cursor.UnmarshalWire(&wc)
	if err != nil {
		return cursor.Cursor{}, syncErrors.E(syncErrors.OpPull, component, syncErrors.KindInternal, err)
	}
	return cur, nil
}

func (c *Client) saveCursor(ctx context.Context, collection entity.Collection, cur cursor.Cursor) error {
	return c.store.Update(ctx, func(tx localstore.Tx) error {
		return putCursor(tx, collection, cur)
	})
}

func putCursor(tx localstore.Tx, collection entity.Collection, cur cursor.Cursor) error {
	wc, err := cursor.MarshalWire(cur)
	if err != nil {
		return syncErrors.E(syncErrors.OpPull, component, syncErrors.KindInternal, err)
	}
	value, err := json.Marshal(wc)
	if err != nil {
		return syncErrors.E(syncErrors.OpPull, component, syncErrors.KindInternal, err)
	}
	return tx.Put(localstore.NamespaceCursors, string(collection), value)
}
