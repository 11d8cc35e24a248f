package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	syncErrors "github.com/sidelinehq/coachsync/errors"
	"github.com/sidelinehq/coachsync/logging"
)

const component = syncErrors.Component("connectivity")

// Conn is the slice of a websocket connection the monitor drives.
type Conn interface {
	// CloseRead discards incoming data frames and returns a context that is
	// canceled when the connection dies.
	CloseRead(ctx context.Context) context.Context
	Ping(ctx context.Context) error
	CloseNow() error
}

// DialFunc opens the keepalive connection. Tests inject one; production uses
// the websocket dialer.
type DialFunc func(ctx context.Context) (Conn, error)

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	// URL is the ws:// or wss:// keepalive endpoint. Required unless Dial is
	// set.
	URL string

	// Dial overrides the websocket dialer.
	Dial DialFunc

	// HTTPClient is used by the websocket handshake.
	HTTPClient *http.Client

	// DialTimeout bounds one connection attempt. Default 15s.
	DialTimeout time.Duration

	// PingInterval is the keepalive cadence. Default 30s.
	PingInterval time.Duration

	// PingTimeout bounds one ping round trip. Default 10s.
	PingTimeout time.Duration

	// InitialDelay, MaxDelay and Multiplier shape the redial backoff.
	// Defaults 1s, 2m, 2.0.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	Logger *logging.Logger
}

func (c *MonitorConfig) setDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 15 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 10 * time.Second
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Minute
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2.0
	}
	if c.Logger == nil {
		c.Logger = logging.Nop()
	}
}

// Monitor derives reachability from a live websocket to the backend: online
// while the keepalive connection holds, offline while redialing. Starts
// offline until the first successful dial.
type Monitor struct {
	*signalState

	cfg    MonitorConfig
	logger *logging.Logger

	lifecycle sync.Mutex
	running   bool
	stop      chan struct{}
	wg        sync.WaitGroup
}

var _ Signal = (*Monitor)(nil)

// NewMonitor creates a Monitor. It does not dial until Start.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if cfg.URL == "" && cfg.Dial == nil {
		return nil, syncErrors.E(syncErrors.OpOpen, component, syncErrors.KindValidation,
			"keepalive URL is required")
	}
	cfg.setDefaults()
	logger := cfg.Logger.WithComponent(logging.Component("connectivity"))
	return &Monitor{
		signalState: newSignalState(false, logger),
		cfg:         cfg,
		logger:      logger,
	}, nil
}

// Start launches the dial/keepalive loop.
func (m *Monitor) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return syncErrors.E(syncErrors.OpOpen, component, syncErrors.KindInternal, err)
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if m.running {
		return syncErrors.E(syncErrors.OpOpen, component, syncErrors.KindInternal,
			fmt.Errorf("monitor already running"))
	}
	m.running = true
	m.stop = make(chan struct{})

	m.wg.Add(1)
	go m.run(ctx, m.stop)
	return nil
}

// Stop halts monitoring. The online flag keeps its last value; a stopped
// monitor reports stale state rather than flapping to offline.
func (m *Monitor) Stop() {
	m.lifecycle.Lock()
	if !m.running {
		m.lifecycle.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	m.lifecycle.Unlock()

	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context, stop <-chan struct{}) {
	defer m.wg.Done()

	attempt := 0
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
		conn, err := m.dial(dialCtx)
		cancel()
		if err != nil {
			m.set(false)
			attempt++
			delay := m.redialDelay(attempt)
			m.logger.Debug("keepalive dial failed",
				slog.Any("error", err),
				slog.Int("attempt", attempt),
				slog.Duration("retry_in", delay))

			timer := time.NewTimer(delay)
			select {
			case <-stop:
				timer.Stop()
				return
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}

		attempt = 0
		m.set(true)
		m.logger.Info("backend reachable")

		m.keepalive(ctx, stop, conn)

		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}
		m.set(false)
		m.logger.Info("backend unreachable, redialing")
	}
}

func (m *Monitor) dial(ctx context.Context) (Conn, error) {
	if m.cfg.Dial != nil {
		return m.cfg.Dial(ctx)
	}
	conn, _, err := websocket.Dial(ctx, m.cfg.URL, &websocket.DialOptions{
		HTTPClient: m.cfg.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// keepalive pings until the connection dies or the monitor stops.
func (m *Monitor) keepalive(ctx context.Context, stop <-chan struct{}, conn Conn) {
	defer conn.CloseNow()

	readCtx := conn.CloseRead(ctx)
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-readCtx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, m.cfg.PingTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				m.logger.Debug("keepalive ping failed", slog.Any("error", err))
				return
			}
		}
	}
}

func (m *Monitor) redialDelay(attempt int) time.Duration {
	delay := m.cfg.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * m.cfg.Multiplier)
		if delay >= m.cfg.MaxDelay {
			return m.cfg.MaxDelay
		}
	}
	if delay > m.cfg.MaxDelay {
		delay = m.cfg.MaxDelay
	}
	return delay
}
