// Package store persists admission decision events to an embedded sqlite
// database so they can be inspected later with the logs command.
// Writes are queued and applied by a single background goroutine; the
// request path never waits on disk.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver
)

const (
	// DefaultQueueSize is the buffered channel capacity for pending writes.
	DefaultQueueSize = 256

	defaultCleanupInterval = 10 * time.Minute
	defaultQueryLimit      = 100
	drainTimeout           = 5 * time.Second
)

// ErrQueueFull is returned when the write queue is at capacity.
var ErrQueueFull = errors.New("store: write queue full, event dropped")

// Event is one persisted admission decision.
type Event struct {
	ID         int64
	Time       time.Time
	RequestID  string
	ClientAddr string
	Method     string
	Path       string
	Type       string // allowed, blocked, rate_limited, lockdown_deny
	Stage      string // blocking stage, empty when allowed
	Reason     string
	StatusCode int
	Score      int
	Identity   string
}

// Query selects stored events. Zero-value fields are not filtered on.
type Query struct {
	Since      time.Time
	Until      time.Time
	Type       string
	Stage      string
	ClientAddr string
	PathPrefix string
	Limit      int // default 100
}

// Store is a sqlite-backed decision event log.
type Store struct {
	db          *sql.DB
	insertStmt  *sql.Stmt
	cleanupStmt *sql.Stmt
	retention   time.Duration
	interval    time.Duration
	onError     func(error)
	queue       chan Event
	dropped     atomic.Int64
	done        chan struct{}
	closeWG     sync.WaitGroup
	closeOnce   sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithQueueSize sets the buffered channel capacity for pending writes.
func WithQueueSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.queue = make(chan Event, n)
		}
	}
}

// WithRetention sets how long events are kept before the periodic cleanup
// deletes them. Zero or negative keeps events forever.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		s.retention = d
	}
}

// WithCleanupInterval sets how often the retention cleanup runs.
func WithCleanupInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithErrorHandler sets the callback invoked when a background write or
// cleanup fails. The default discards errors.
func WithErrorHandler(fn func(error)) Option {
	return func(s *Store) {
		if fn != nil {
			s.onError = fn
		}
	}
}

// Open opens (creating if needed) the event database at path and starts
// the background writer. The caller must Close the returned Store.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, errors.New("store: path cannot be empty")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// sqlite allows a single writer; one connection avoids lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:       db,
		interval: defaultCleanupInterval,
		onError:  func(error) {},
		queue:    make(chan Event, DefaultQueueSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: initialize schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: prepare statements: %w", err)
	}

	s.closeWG.Add(1)
	go s.run()

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		request_id TEXT NOT NULL DEFAULT '',
		client_addr TEXT NOT NULL DEFAULT '',
		method TEXT NOT NULL DEFAULT '',
		path TEXT NOT NULL DEFAULT '',
		event_type TEXT NOT NULL,
		stage TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		status_code INTEGER NOT NULL DEFAULT 0,
		score INTEGER NOT NULL DEFAULT 0,
		identity TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
	CREATE INDEX IF NOT EXISTS idx_events_stage ON events(stage);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) prepareStatements() error {
	var err error

	s.insertStmt, err = s.db.Prepare(`
		INSERT INTO events (ts, request_id, client_addr, method, path, event_type, stage, reason, status_code, score, identity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}

	s.cleanupStmt, err = s.db.Prepare(`DELETE FROM events WHERE ts < ?`)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}

	return nil
}

// Record enqueues an event for async persistence. A zero Time is stamped
// with the current time. Returns ErrQueueFull when the writer cannot keep
// up; the event is dropped and counted.
func (s *Store) Record(ev Event) error {
	select {
	case <-s.done:
		return errors.New("store: closed")
	default:
	}

	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	select {
	case s.queue <- ev:
		return nil
	case <-s.done:
		return errors.New("store: closed")
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (s *Store) Dropped() int64 {
	return s.dropped.Load()
}

// Query returns stored events matching q, newest first.
func (s *Store) Query(ctx context.Context, q Query) ([]Event, error) {
	var conds []string
	var args []any

	if !q.Since.IsZero() {
		conds = append(conds, "ts >= ?")
		args = append(args, q.Since.Unix())
	}
	if !q.Until.IsZero() {
		conds = append(conds, "ts <= ?")
		args = append(args, q.Until.Unix())
	}
	if q.Type != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, q.Type)
	}
	if q.Stage != "" {
		conds = append(conds, "stage = ?")
		args = append(args, q.Stage)
	}
	if q.ClientAddr != "" {
		conds = append(conds, "client_addr = ?")
		args = append(args, q.ClientAddr)
	}
	if q.PathPrefix != "" {
		conds = append(conds, `path LIKE ? ESCAPE '\'`)
		args = append(args, escapeLike(q.PathPrefix)+"%")
	}

	query := "SELECT id, ts, request_id, client_addr, method, path, event_type, stage, reason, status_code, score, identity FROM events"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC"

	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var ts int64
		if err := rows.Scan(&ev.ID, &ts, &ev.RequestID, &ev.ClientAddr, &ev.Method, &ev.Path, &ev.Type, &ev.Stage, &ev.Reason, &ev.StatusCode, &ev.Score, &ev.Identity); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		ev.Time = time.Unix(ts, 0)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: query events: %w", err)
	}

	return events, nil
}

// Close flushes pending writes and closes the database.
// Close is idempotent and safe to call multiple times.
func (s *Store) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)
		s.closeWG.Wait()

		if s.insertStmt != nil {
			_ = s.insertStmt.Close()
		}
		if s.cleanupStmt != nil {
			_ = s.cleanupStmt.Close()
		}

		// Final checkpoint folds the WAL into the main database file.
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		closeErr = s.db.Close()
	})

	return closeErr
}

// run is the single writer goroutine. It applies queued events, runs the
// periodic retention cleanup, and drains the queue on shutdown.
func (s *Store) run() {
	defer s.closeWG.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-s.queue:
			s.write(ev)
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.done:
			s.drain()
			return
		}
	}
}

// drain flushes events still queued at Close, bounded by drainTimeout.
func (s *Store) drain() {
	deadline := time.After(drainTimeout)
	for {
		select {
		case ev := <-s.queue:
			s.write(ev)
		case <-deadline:
			return
		default:
			return
		}
	}
}

func (s *Store) write(ev Event) {
	_, err := s.insertStmt.Exec(ev.Time.Unix(), ev.RequestID, ev.ClientAddr, ev.Method, ev.Path, ev.Type, ev.Stage, ev.Reason, ev.StatusCode, ev.Score, ev.Identity)
	if err != nil {
		s.onError(fmt.Errorf("store: insert event: %w", err))
	}
}

func (s *Store) cleanupExpired() {
	if s.retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.retention).Unix()
	if _, err := s.cleanupStmt.Exec(cutoff); err != nil {
		s.onError(fmt.Errorf("store: retention cleanup: %w", err))
	}
}

// escapeLike escapes LIKE wildcards so a path prefix matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
