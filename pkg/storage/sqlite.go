package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"override-dns/pkg/config"

	_ "modernc.org/sqlite"
)

var (
	// ErrInvalidConfig means the journal was asked to open without a path
	ErrInvalidConfig = errors.New("invalid journal configuration")
	// ErrConnectionFailed wraps open and ping failures of the database file
	ErrConnectionFailed = errors.New("journal database unavailable")
	// ErrQueryFailed wraps reads and cleanups that the database rejected
	ErrQueryFailed = errors.New("journal query failed")
	// ErrBufferFull means an entry was dropped because the flush worker is behind
	ErrBufferFull = errors.New("journal buffer full")
	// ErrClosed is returned by every call made after Close
	ErrClosed = errors.New("journal is closed")
)

const (
	defaultBufferSize    = 256
	defaultFlushInterval = 2 * time.Second
	batchSize            = 100
)

// record is anything the flush worker can write inside a transaction
type record interface {
	insert(ctx context.Context, tx *sql.Tx) error
}

// SQLiteStorage implements Storage on an embedded SQLite database.
// Writes go through a bounded buffer drained by one flush goroutine.
type SQLiteStorage struct {
	db            *sql.DB
	metrics       MetricsRecorder
	buffer        chan record
	flushInterval time.Duration
	wg            sync.WaitGroup
	mu            sync.RWMutex
	closed        bool
}

// NewSQLiteStorage opens (or creates) the database and starts the flush worker
func NewSQLiteStorage(cfg *config.StorageConfig, metrics MetricsRecorder) (*SQLiteStorage, error) {
	if cfg == nil || cfg.DatabasePath == "" {
		return nil, ErrInvalidConfig
	}

	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if pingErr := db.Ping(); pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, pingErr)
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, pragmaErr := db.Exec(pragma); pragmaErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", pragmaErr)
		}
	}

	if migrationErr := runMigrations(db); migrationErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", migrationErr)
	}

	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	s := &SQLiteStorage{
		db:            db,
		metrics:       metrics,
		buffer:        make(chan record, bufferSize),
		flushInterval: flushInterval,
	}

	s.wg.Add(1)
	go s.flushWorker()

	return s, nil
}

// LogMutation queues a journal entry (async, buffered)
func (s *SQLiteStorage) LogMutation(ctx context.Context, entry *MutationEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	return s.enqueue(ctx, entry)
}

// LogQuery queues a query log entry (async, buffered)
func (s *SQLiteStorage) LogQuery(ctx context.Context, query *QueryLog) error {
	if query.Timestamp.IsZero() {
		query.Timestamp = time.Now()
	}
	return s.enqueue(ctx, query)
}

func (s *SQLiteStorage) enqueue(ctx context.Context, r record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	select {
	case s.buffer <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		if s.metrics != nil {
			s.metrics.AddDroppedEntries(ctx, 1)
		}
		return ErrBufferFull
	}
}

// flushWorker batches buffered entries and writes them either when the
// batch is full or when the flush interval elapses. It exits after the
// buffer is closed and drained.
func (s *SQLiteStorage) flushWorker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	batch := make([]record, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.flushBatch(batch); err != nil {
			slog.Default().Error("Failed to flush journal batch",
				"error", err,
				"batch_size", len(batch),
			)
		}
		batch = batch[:0]
	}

	for {
		select {
		case r, ok := <-s.buffer:
			if !ok {
				flush()
				return
			}
			batch = append(batch, r)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *SQLiteStorage) flushBatch(batch []record) error {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range batch {
		if err := r.insert(ctx, tx); err != nil {
			return fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return nil
}

func (m *MutationEntry) insert(ctx context.Context, tx *sql.Tx) error {
	var records any
	if len(m.Records) > 0 {
		data, err := json.Marshal(m.Records)
		if err != nil {
			return err
		}
		records = string(data)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO mutations
		(timestamp, version, kind, name, record_type, records, source, applied, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.Timestamp.UnixNano(), int64(m.Version), m.Kind, m.Name, m.Type, records, m.Source, m.Applied, m.Error)
	return err
}

func (q *QueryLog) insert(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO queries
		(timestamp, client_ip, domain, query_type, response_code, source, response_time_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, q.Timestamp.UnixNano(), q.ClientIP, q.Domain, q.QueryType, q.ResponseCode, q.Source, q.ResponseTimeMs)
	return err
}

// RecentMutations returns the newest journal entries first
func (s *SQLiteStorage) RecentMutations(ctx context.Context, limit int) ([]*MutationEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, version, kind, name, record_type, records, source, applied, error_message
		FROM mutations
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	entries := []*MutationEntry{}
	for rows.Next() {
		var (
			m                        MutationEntry
			ts, version              int64
			records, source, errText sql.NullString
		)
		if err := rows.Scan(&m.ID, &ts, &version, &m.Kind, &m.Name, &m.Type, &records, &source, &m.Applied, &errText); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
		m.Timestamp = time.Unix(0, ts)
		m.Version = uint64(version)
		m.Source = source.String
		m.Error = errText.String
		if records.Valid && records.String != "" {
			if err := json.Unmarshal([]byte(records.String), &m.Records); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
			}
		}
		entries = append(entries, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return entries, nil
}

// RecentQueries returns the newest query log entries first
func (s *SQLiteStorage) RecentQueries(ctx context.Context, limit int) ([]*QueryLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, client_ip, domain, query_type, response_code, source, response_time_ms
		FROM queries
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	queries := []*QueryLog{}
	for rows.Next() {
		var (
			q      QueryLog
			ts     int64
			source sql.NullString
		)
		if err := rows.Scan(&q.ID, &ts, &q.ClientIP, &q.Domain, &q.QueryType, &q.ResponseCode, &source, &q.ResponseTimeMs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
		}
		q.Timestamp = time.Unix(0, ts)
		q.Source = source.String
		queries = append(queries, &q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	return queries, nil
}

// Cleanup removes entries older than olderThan from both tables
func (s *SQLiteStorage) Cleanup(ctx context.Context, olderThan time.Time) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}

	cutoff := olderThan.UnixNano()
	for _, table := range []string{"mutations", "queries"} {
		// table names come from the fixed list above
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE timestamp < ?", cutoff); err != nil {
			return fmt.Errorf("%w: cleanup %s: %v", ErrQueryFailed, table, err)
		}
	}
	return nil
}

// Ping checks the database connection
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Close stops accepting entries, flushes what is buffered and closes the database
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.buffer)
	s.mu.Unlock()

	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
