package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/sidelinehq/coachsync/entity"
	syncErrors "github.com/sidelinehq/coachsync/errors"
	"github.com/sidelinehq/coachsync/logging"
	"github.com/sidelinehq/coachsync/syncmetrics"
)

// Provider pushes one mutation to the remote backend. A nil error means the
// backend holds the mutation durably, including the case where the entity was
// already at or past the pushed version.
type Provider interface {
	Push(ctx context.Context, rec Record) (PushAck, error)
}

// PushAck acknowledges a committed mutation.
type PushAck struct {
	RemoteVersion uint64
}

// DispatcherConfig holds the options for a Dispatcher.
type DispatcherConfig struct {
	// Queue supplies records and persists their transitions. Required.
	Queue *Queue

	// Provider receives the pushes. Required.
	Provider Provider

	// Collections to drain; nil means all known collections.
	Collections []entity.Collection

	// MaxAttempts is the retry ceiling before a record is abandoned.
	// Default 8.
	MaxAttempts int

	// Backoff between retries: InitialDelay doubling per attempt (Multiplier),
	// capped at MaxDelay, with Jitter randomizing each delay by that fraction.
	// Defaults: 500ms, 1m, 2.0, 0.2.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64

	// PushTimeout bounds a single provider call. Default 30s.
	PushTimeout time.Duration

	// PollInterval bounds how long an idle worker sleeps between queue
	// checks; Kick wakes workers earlier. Default 5s.
	PollInterval time.Duration

	// Online gates drain activity without discarding queued work.
	// nil means always online.
	Online func() bool

	Logger  *logging.Logger
	Metrics syncmetrics.Collector
}

func (c *DispatcherConfig) setDefaults() {
	if c.Collections == nil {
		c.Collections = entity.Collections()
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 8
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = 500 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = time.Minute
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	if c.Jitter == 0 {
		c.Jitter = 0.2
	}
	if c.PushTimeout == 0 {
		c.PushTimeout = 30 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.Online == nil {
		c.Online = func() bool { return true }
	}
	if c.Logger == nil {
		c.Logger = logging.Nop()
	}
	if c.Metrics == nil {
		c.Metrics = &syncmetrics.NoOp{}
	}
}

// Dispatcher drains the queue with exactly one worker per collection, so a
// collection never has more than one push in flight and order is preserved.
type Dispatcher struct {
	cfg      DispatcherConfig
	queue    *Queue
	provider Provider
	logger   *logging.Logger
	metrics  syncmetrics.Collector

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	kicks   []chan struct{}
	wg      sync.WaitGroup
}

// NewDispatcher builds a Dispatcher from the config.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Queue == nil {
		return nil, syncErrors.E(syncErrors.OpDrain, component, syncErrors.KindValidation,
			"queue is required")
	}
	if cfg.Provider == nil {
		return nil, syncErrors.E(syncErrors.OpDrain, component, syncErrors.KindValidation,
			"provider is required")
	}
	cfg.setDefaults()
	return &Dispatcher{
		cfg:      cfg,
		queue:    cfg.Queue,
		provider: cfg.Provider,
		logger:   cfg.Logger.WithComponent(logging.Component("queue/dispatch")),
		metrics:  cfg.Metrics,
	}, nil
}

// Start recovers records stranded in sending, then launches one worker per
// collection. Workers run until Stop or ctx cancellation.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if d.running {
		return syncErrors.E(syncErrors.OpDrain, component, fmt.Errorf("dispatcher is already running"))
	}

	recovered, err := d.queue.recoverSending(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		d.logger.Info("recovered interrupted mutations", slog.Int("count", recovered))
	}

	d.stop = make(chan struct{})
	d.kicks = make([]chan struct{}, len(d.cfg.Collections))
	for i, c := range d.cfg.Collections {
		kick := make(chan struct{}, 1)
		d.kicks[i] = kick
		d.wg.Add(1)
		go d.worker(ctx, c, d.stop, kick)
	}
	d.running = true
	return nil
}

// Kick wakes every worker for an immediate queue check. Non-blocking; safe
// from any goroutine.
func (d *Dispatcher) Kick() {
	d.mu.Lock()
	kicks := d.kicks
	d.mu.Unlock()

	for _, kick := range kicks {
		select {
		case kick <- struct{}{}:
		default:
		}
	}
}

// Stop halts the workers and waits for in-flight pushes to settle.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	close(d.stop)
	d.running = false
	d.mu.Unlock()

	d.wg.Wait()
	return nil
}

func (d *Dispatcher) worker(ctx context.Context, c entity.Collection, stop <-chan struct{}, kick <-chan struct{}) {
	defer d.wg.Done()

	log := d.logger.WithCollection(string(c))
	eb := &exponentialBackoff{
		initialDelay: d.cfg.InitialDelay,
		maxDelay:     d.cfg.MaxDelay,
		multiplier:   d.cfg.Multiplier,
		jitter:       d.cfg.Jitter,
	}

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		for d.step(ctx, c, stop, eb, log) {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			default:
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-kick:
		case <-ticker.C:
		}
	}
}

// step processes at most one record and reports whether the worker should
// check the queue again immediately.
func (d *Dispatcher) step(ctx context.Context, c entity.Collection, stop <-chan struct{}, eb *exponentialBackoff, log *logging.Logger) bool {
	if !d.cfg.Online() {
		return false
	}

	head, ok, err := d.queue.oldestPending(ctx, c)
	if err != nil {
		log.LogError(ctx, err, "failed to read queue head")
		return false
	}
	if !ok {
		return false
	}

	rec, err := d.queue.markSending(ctx, head)
	if err != nil {
		if syncErrors.IsNotFound(err) {
			return true
		}
		log.LogError(ctx, err, "failed to mark record sending")
		return false
	}

	pushCtx, cancel := context.WithTimeout(ctx, d.cfg.PushTimeout)
	start := time.Now()
	ack, pushErr := d.provider.Push(pushCtx, rec)
	cancel()

	switch {
	case pushErr == nil:
		d.metrics.RecordPush(string(c), "committed", time.Since(start))
		if err := d.queue.complete(ctx, rec, ack.RemoteVersion); err != nil {
			log.LogError(ctx, err, "failed to finalize committed record",
				slog.String("record_id", rec.ID))
			return false
		}
		log.Debug("mutation committed",
			slog.String("record_id", rec.ID),
			slog.Uint64("remote_version", ack.RemoteVersion))
		d.recordDepth(ctx, c)
		return true

	case ctx.Err() != nil:
		// Shutdown or cancellation: outcome unknown, so the record goes back
		// to pending without charging an attempt.
		d.metrics.RecordPush(string(c), "interrupted", time.Since(start))
		revertCtx, revertCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer revertCancel()
		if err := d.queue.revertSending(revertCtx, rec); err != nil {
			log.LogError(revertCtx, err, "failed to revert interrupted record",
				slog.String("record_id", rec.ID))
		}
		return false

	case syncErrors.IsRetryable(pushErr) || errors.Is(pushErr, context.DeadlineExceeded):
		d.metrics.RecordPush(string(c), "retry", time.Since(start))
		fresh, abandoned, err := d.queue.fail(ctx, rec, pushErr, d.cfg.MaxAttempts)
		if err != nil {
			log.LogError(ctx, err, "failed to record push failure",
				slog.String("record_id", rec.ID))
			return false
		}
		if abandoned {
			d.metrics.RecordAbandonment(string(c))
			log.LogError(ctx, pushErr, "mutation abandoned after retry ceiling",
				slog.String("record_id", rec.ID),
				slog.Int("attempts", fresh.Attempts))
			d.recordDepth(ctx, c)
			return true
		}
		delay := eb.nextDelay(fresh.Attempts - 1)
		log.Warn("push failed, backing off",
			slog.String("record_id", rec.ID),
			slog.Int("attempts", fresh.Attempts),
			slog.Duration("delay", delay))
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-stop:
			return false
		case <-timer.C:
			return true
		}

	default:
		// Rejected or otherwise non-retryable: abandon immediately.
		d.metrics.RecordPush(string(c), "rejected", time.Since(start))
		if err := d.queue.abandon(ctx, rec, pushErr); err != nil {
			log.LogError(ctx, err, "failed to abandon rejected record",
				slog.String("record_id", rec.ID))
			return false
		}
		d.metrics.RecordAbandonment(string(c))
		log.LogError(ctx, pushErr, "mutation rejected by backend",
			slog.String("record_id", rec.ID))
		d.recordDepth(ctx, c)
		return true
	}
}

func (d *Dispatcher) recordDepth(ctx context.Context, c entity.Collection) {
	pending, err := d.queue.Pending(ctx, c)
	if err != nil {
		return
	}
	d.metrics.RecordQueueDepth(string(c), len(pending))
}

type exponentialBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	jitter       float64
}

func (eb *exponentialBackoff) nextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(eb.initialDelay)
	for i := 0; i < attempt; i++ {
		delay *= eb.multiplier
	}

	result := time.Duration(delay)
	if result > eb.maxDelay {
		result = eb.maxDelay
	}

	// Spread retries out so reconnecting clients do not stampede.
	if eb.jitter > 0 {
		span := float64(result) * eb.jitter
		result = time.Duration(float64(result) - span/2 + rand.Float64()*span)
	}
	if result < 0 {
		result = 0
	}

	return result
}
