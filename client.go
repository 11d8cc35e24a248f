// Package coachsync is an offline-first persistence and synchronization
// subsystem for coaching apps. Every write lands in a durable local store
// together with a queued mutation, a background dispatcher drains the queue
// to the backend per collection, and pull passes fold remote deltas back in
// through last-write-wins conflict resolution. The app stays fully usable
// with no connectivity; sync is a background concern.
package coachsync

import (
	"context"
	"net/http"

	"github.com/sidelinehq/coachsync/appstate"
	"github.com/sidelinehq/coachsync/config"
	"github.com/sidelinehq/coachsync/conflict"
	"github.com/sidelinehq/coachsync/connectivity"
	"github.com/sidelinehq/coachsync/cursor"
	"github.com/sidelinehq/coachsync/entity"
	syncErrors "github.com/sidelinehq/coachsync/errors"
	"github.com/sidelinehq/coachsync/localstore"
	"github.com/sidelinehq/coachsync/localstore/bolt"
	"github.com/sidelinehq/coachsync/localstore/sqlite"
	"github.com/sidelinehq/coachsync/logging"
	"github.com/sidelinehq/coachsync/queue"
	"github.com/sidelinehq/coachsync/remote"
	"github.com/sidelinehq/coachsync/repository"
	"github.com/sidelinehq/coachsync/syncmetrics"
)

const component = syncErrors.Component("client")

// Backend is the remote surface the client drives: pushes for the queue
// dispatcher and paginated delta pulls for the pull pass. *remote.Client
// implements it.
type Backend interface {
	queue.Provider
	PullDeltas(ctx context.Context, collection entity.Collection, since cursor.Cursor, limit int) ([]entity.Delta, cursor.Cursor, error)
}

// Client wires the local store, repositories, outbox dispatcher, remote
// transport and app state detector into one unit. Build it with New, then
// Start it to begin background sync.
type Client struct {
	// Typed collection access. Reads never touch the network.
	Roster      *repository.Roster
	Games       *repository.Games
	Seasons     *repository.Seasons
	Tournaments *repository.Tournaments
	Settings    *repository.Settings

	// AppState answers "what should the UI show on launch".
	AppState *appstate.Detector

	cfg        config.Config
	store      localstore.Store
	queue      *queue.Queue
	repos      *repository.Repositories
	provider   Backend
	dispatcher *queue.Dispatcher
	signal     connectivity.Signal
	monitor    *connectivity.Monitor
	resolver   conflict.Resolver
	metrics    syncmetrics.Collector
	logger     *logging.Logger

	lifecycle syncLifecycle
}

// Option tweaks a Client beyond what configuration covers.
type Option func(*options)

type options struct {
	logger          *logging.Logger
	metrics         syncmetrics.Collector
	resolver        conflict.Resolver
	tokens          remote.TokenSource
	signal          connectivity.Signal
	provider        Backend
	confirmEviction repository.EvictionConfirm
}

// WithLogger replaces the logger built from the config.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics installs a metrics collector. Default is no metrics.
func WithMetrics(m syncmetrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

// WithResolver replaces the last-write-wins conflict resolver.
func WithResolver(r conflict.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithTokenSource authenticates backend calls.
func WithTokenSource(t remote.TokenSource) Option {
	return func(o *options) { o.tokens = t }
}

// WithSignal replaces the connectivity signal built from the config.
func WithSignal(s connectivity.Signal) Option {
	return func(o *options) { o.signal = s }
}

// WithBackend replaces the HTTP backend client, mainly for tests.
func WithBackend(b Backend) Option {
	return func(o *options) { o.provider = b }
}

// WithEvictionConfirm installs the hook that approves purging the stalest
// saved game when storage is full. Without it, a full store rejects writes.
func WithEvictionConfirm(fn repository.EvictionConfirm) Option {
	return func(o *options) { o.confirmEviction = fn }
}

// New builds a Client from the configuration. The local store opens
// immediately; nothing talks to the backend until Start or SyncNow.
func New(cfg config.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, syncErrors.E(syncErrors.OpOpen, component, syncErrors.KindValidation, err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = logging.NewLogger(cfg.LogConfig())
	}
	metrics := o.metrics
	if metrics == nil {
		metrics = &syncmetrics.NoOp{}
	}
	resolver := o.resolver
	if resolver == nil {
		resolver = &conflict.LWW{}
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	q, err := queue.New(queue.Config{Store: store, Logger: logger})
	if err != nil {
		store.Close()
		return nil, err
	}

	repos, err := repository.New(repository.Config{
		Store:           store,
		Queue:           q,
		ConfirmEviction: o.confirmEviction,
		Logger:          logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	provider := o.provider
	if provider == nil && cfg.RemoteURL != "" {
		remoteOpts := []remote.Option{
			remote.WithHTTPClient(&http.Client{Timeout: cfg.RemoteTimeout}),
			remote.WithLogger(logger),
		}
		if o.tokens != nil {
			remoteOpts = append(remoteOpts, remote.WithTokenSource(o.tokens))
		}
		provider, err = remote.NewClient(cfg.RemoteURL, remoteOpts...)
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	signal := o.signal
	var monitor *connectivity.Monitor
	if signal == nil {
		if cfg.KeepaliveURL != "" {
			monitor, err = connectivity.NewMonitor(connectivity.MonitorConfig{
				URL:          cfg.KeepaliveURL,
				PingInterval: cfg.PingInterval,
				Logger:       logger,
			})
			if err != nil {
				store.Close()
				return nil, err
			}
			signal = monitor
		} else {
			// No keepalive endpoint: assume online and let push
			// failures drive the retry backoff instead.
			signal = connectivity.NewManual(true)
		}
	}

	var dispatcher *queue.Dispatcher
	if provider != nil {
		dispatcher, err = queue.NewDispatcher(queue.DispatcherConfig{
			Queue:        q,
			Provider:     provider,
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: cfg.InitialDelay,
			MaxDelay:     cfg.MaxDelay,
			Multiplier:   cfg.Multiplier,
			Jitter:       cfg.Jitter,
			PushTimeout:  cfg.PushTimeout,
			Online:       signal.Online,
			Logger:       logger,
			Metrics:      metrics,
		})
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	detector, err := appstate.New(appstate.Config{Source: repos, Logger: logger})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &Client{
		Roster:      repos.Roster,
		Games:       repos.Games,
		Seasons:     repos.Seasons,
		Tournaments: repos.Tournaments,
		Settings:    repos.Settings,
		AppState:    detector,
		cfg:         cfg,
		store:       store,
		queue:       q,
		repos:       repos,
		provider:    provider,
		dispatcher:  dispatcher,
		signal:      signal,
		monitor:     monitor,
		resolver:    resolver,
		metrics:     metrics,
		logger:      logger.WithComponent(logging.Component("client")),
	}, nil
}

func openStore(cfg config.Config, logger *logging.Logger) (localstore.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		return sqlite.New(&sqlite.Config{
			DataSourceName: "file:" + cfg.StorePath,
			EnableWAL:      true,
			Limits:         cfg.Limits(),
			Logger:         logger,
		})
	default:
		return bolt.Open(bolt.Config{
			Path:   cfg.StorePath,
			Limits: cfg.Limits(),
			Logger: logger,
		})
	}
}

// Store exposes the underlying local store, mainly for health inspection.
func (c *Client) Store() localstore.Store { return c.store }

// Online reports the current connectivity estimate.
func (c *Client) Online() bool { return c.signal.Online() }

// Health is one diagnostic snapshot of the sync engine.
type Health struct {
	Online        bool
	Queue         queue.Health
	AppState      appstate.Snapshot
	AppStateKnown bool
}

// Health reports queue depth, abandoned mutations, connectivity and the
// last computed app state.
func (c *Client) Health(ctx context.Context) (Health, error) {
	qh, err := c.queue.Health(ctx)
	if err != nil {
		return Health{}, err
	}
	snap, known := c.AppState.Current()
	return Health{
		Online:        c.signal.Online(),
		Queue:         qh,
		AppState:      snap,
		AppStateKnown: known,
	}, nil
}

// Kick wakes the queue workers for an immediate drain attempt.
func (c *Client) Kick() {
	if c.dispatcher != nil {
		c.dispatcher.Kick()
	}
}

// Close stops background sync and closes the local store. Queued mutations
// stay durable and resume draining on the next Start.
func (c *Client) Close() error {
	c.Stop()
	if c.monitor != nil {
		c.monitor.Stop()
	}
	return c.store.Close()
}

