// Package sqlite provides a SQLite implementation of localstore.Store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	syncErrors "github.com/sidelinehq/coachsync/errors"
	"github.com/sidelinehq/coachsync/localstore"
	"github.com/sidelinehq/coachsync/logging"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Operation constants for consistent error reporting
const (
	opOpen    = "sqlite.Open"
	opView    = "sqlite.View"
	opUpdate  = "sqlite.Update"
	opGet     = "sqlite.Get"
	opPut     = "sqlite.Put"
	opDelete  = "sqlite.Delete"
	opList    = "sqlite.List"
	opCount   = "sqlite.Count"
	opNextSeq = "sqlite.NextSeq"
)

const component = syncErrors.Component("localstore/sqlite")

// ErrStoreClosed is returned for operations on a closed store.
var ErrStoreClosed = errors.New("store is closed")

// Config holds configuration options for the sqlite-backed store.
//
// Production-ready defaults are applied by DefaultConfig() including:
//   - WAL mode enabled for better concurrency
//   - Connection pool with 25 max open, 5 max idle connections
//   - Connection lifetimes of 1 hour max, 5 minutes max idle
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:coachsync.db?_journal_mode=WAL"
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// When true, automatically appends "?_journal_mode=WAL" to DataSourceName.
	EnableWAL bool

	// Limits bounds the store's capacity. Zero means DefaultLimits.
	Limits localstore.Limits

	// Logger is optional; nil disables logging.
	Logger *logging.Logger

	// Connection pool settings.
	// Defaults: MaxOpen=25, MaxIdle=5, Lifetime=1h, IdleTime=5m
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.Limits == (localstore.Limits{}) {
		c.Limits = localstore.DefaultLimits()
	}
	if c.Logger == nil {
		c.Logger = logging.Nop()
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL {
		if !strings.Contains(c.DataSourceName, "_journal_mode=") {
			c.DataSourceName += "?_journal_mode=WAL"
		}
	}
	// A plain in-memory database exists per connection; the pool must not
	// hand out a second one.
	if strings.Contains(c.DataSourceName, ":memory:") {
		c.MaxOpenConns = 1
		c.MaxIdleConns = 1
	}
}

// DefaultConfig returns a Config with production-ready defaults.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// NewWithDataSource is a convenience constructor
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

// Store implements localstore.Store on SQLite.
type Store struct {
	db     *sql.DB
	limits localstore.Limits
	logger *logging.Logger

	mu     stdSync.RWMutex
	closed bool
}

// Compile-time check to ensure Store satisfies the localstore interface
var _ localstore.Store = (*Store)(nil)

// New creates a new Store from a Config.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	config.setDefaults()

	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := config.Logger.WithComponent(logging.Component("localstore/sqlite"))
	logger.Debug("opening sqlite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store := &Store{
		db:     db,
		limits: config.Limits,
		logger: logger,
	}

	if err := store.setupSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}

	return store, nil
}

// setupSchema creates the kv tables if they don't exist.
func (s *Store) setupSchema() error {
	query := `
    CREATE TABLE IF NOT EXISTS kv_records (
        namespace   TEXT NOT NULL,
        key         TEXT NOT NULL,
        value       BLOB NOT NULL,
        PRIMARY KEY (namespace, key)
    );
    CREATE TABLE IF NOT EXISTS kv_sequences (
        namespace   TEXT PRIMARY KEY,
        seq         INTEGER NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_kv_records_namespace ON kv_records (namespace);
    `
	_, err := s.db.Exec(query)
	return err
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(localstore.ReadTx) error) error {
	if err := s.checkOpen(); err != nil {
		return syncErrors.E(syncErrors.Op(opView), component, syncErrors.KindIO, err)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return syncErrors.WrapOpComponent(err, opView, string(component))
	}
	defer tx.Rollback()

	return fn(&storeTx{ctx: ctx, tx: tx, limits: s.limits})
}

// Update runs fn in a write transaction. The transaction commits only when
// fn returns nil; any other exit path rolls back.
func (s *Store) Update(ctx context.Context, fn func(localstore.Tx) error) (err error) {
	if err := s.checkOpen(); err != nil {
		return syncErrors.E(syncErrors.Op(opUpdate), component, syncErrors.KindIO, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncErrors.WrapOpComponent(err, opUpdate, string(component))
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(&storeTx{ctx: ctx, tx: tx, limits: s.limits}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return syncErrors.WrapOpComponent(err, opUpdate, string(component))
	}
	return nil
}

// Close shuts the connection pool down. Further calls error.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return syncErrors.E(syncErrors.OpClose, component, syncErrors.KindIO, err)
	}
	s.logger.Debug("closed sqlite store")
	return nil
}

// storeTx adapts one *sql.Tx to the localstore interfaces.
type storeTx struct {
	ctx    context.Context
	tx     *sql.Tx
	limits localstore.Limits
}

func (t *storeTx) Get(ns, key string) ([]byte, error) {
	if err := localstore.ValidateKey(syncErrors.Op(opGet), component, ns, key); err != nil {
		return nil, err
	}
	var value []byte
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT value FROM kv_records WHERE namespace = ? AND key = ?`, ns, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, syncErrors.E(syncErrors.Op(opGet), component, syncErrors.KindNotFound,
			fmt.Errorf("%s/%s not found", ns, key))
	}
	if err != nil {
		return nil, syncErrors.WrapOpComponentKind(err, opGet, string(component), syncErrors.KindIO)
	}
	return value, nil
}

func (t *storeTx) List(ns string) ([]localstore.Record, error) {
	if ns == "" {
		return nil, syncErrors.E(syncErrors.Op(opList), component, syncErrors.KindValidation,
			"namespace is required")
	}
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT key, value FROM kv_records WHERE namespace = ? ORDER BY key ASC`, ns)
	if err != nil {
		return nil, syncErrors.WrapOpComponentKind(err, opList, string(component), syncErrors.KindIO)
	}
	defer rows.Close()
	return scanRecords(rows, opList)
}

func (t *storeTx) Count(ns string) (int, error) {
	if ns == "" {
		return 0, syncErrors.E(syncErrors.Op(opCount), component, syncErrors.KindValidation,
			"namespace is required")
	}
	var count int
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT COUNT(*) FROM kv_records WHERE namespace = ?`, ns).Scan(&count)
	if err != nil {
		return 0, syncErrors.WrapOpComponentKind(err, opCount, string(component), syncErrors.KindIO)
	}
	return count, nil
}

func (t *storeTx) Put(ns, key string, value []byte) error {
	if err := localstore.ValidateKey(syncErrors.Op(opPut), component, ns, key); err != nil {
		return err
	}

	var exists int
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT 1 FROM kv_records WHERE namespace = ? AND key = ?`, ns, key).Scan(&exists)
	isNew := errors.Is(err, sql.ErrNoRows)
	if err != nil && !isNew {
		return syncErrors.WrapOpComponentKind(err, opPut, string(component), syncErrors.KindIO)
	}

	count := 0
	if isNew && t.limits.MaxRecordsPerNamespace > 0 {
		if count, err = t.Count(ns); err != nil {
			return err
		}
	}
	if err := localstore.CheckQuota(t.limits, syncErrors.Op(opPut), component, isNew, count, value); err != nil {
		return err
	}

	_, err = t.tx.ExecContext(t.ctx,
		`INSERT INTO kv_records (namespace, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value`, ns, key, value)
	if err != nil {
		return syncErrors.WrapOpComponentKind(err, opPut, string(component), syncErrors.KindIO)
	}
	return nil
}

func (t *storeTx) Delete(ns, key string) error {
	if err := localstore.ValidateKey(syncErrors.Op(opDelete), component, ns, key); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM kv_records WHERE namespace = ? AND key = ?`, ns, key)
	if err != nil {
		return syncErrors.WrapOpComponentKind(err, opDelete, string(component), syncErrors.KindIO)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return syncErrors.WrapOpComponentKind(err, opDelete, string(component), syncErrors.KindIO)
	}
	if affected == 0 {
		return syncErrors.E(syncErrors.Op(opDelete), component, syncErrors.KindNotFound,
			fmt.Errorf("%s/%s not found", ns, key))
	}
	return nil
}

func (t *storeTx) NextSeq(ns string) (uint64, error) {
	if ns == "" {
		return 0, syncErrors.E(syncErrors.Op(opNextSeq), component, syncErrors.KindValidation,
			"namespace is required")
	}
	var seq uint64
	err := t.tx.QueryRowContext(t.ctx,
		`INSERT INTO kv_sequences (namespace, seq) VALUES (?, 1)
		 ON CONFLICT (namespace) DO UPDATE SET seq = seq + 1
		 RETURNING seq`, ns).Scan(&seq)
	if err != nil {
		return 0, syncErrors.WrapOpComponentKind(err, opNextSeq, string(component), syncErrors.KindIO)
	}
	return seq, nil
}

// scanRecords converts query rows into records.
func scanRecords(rows *sql.Rows, op string) ([]localstore.Record, error) {
	var records []localstore.Record
	for rows.Next() {
		var r localstore.Record
		if err := rows.Scan(&r.Key, &r.Value); err != nil {
			return nil, syncErrors.WrapOpComponentKind(err, op, string(component), syncErrors.KindIO)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, syncErrors.WrapOpComponentKind(err, op, string(component), syncErrors.KindIO)
	}
	return records, nil
}
