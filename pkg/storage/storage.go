// Package storage keeps an append-only journal of applied mutations and
// answered queries. It is an observability aid: the override zone itself is
// never loaded from here.
package storage

import (
	"context"
	"time"

	"override-dns/pkg/config"
	"override-dns/pkg/logging"
)

// Storage defines the journal backend. Implementations must be safe for
// concurrent use.
type Storage interface {
	// Mutation journal
	LogMutation(ctx context.Context, entry *MutationEntry) error
	RecentMutations(ctx context.Context, limit int) ([]*MutationEntry, error)

	// Query log
	LogQuery(ctx context.Context, query *QueryLog) error
	RecentQueries(ctx context.Context, limit int) ([]*QueryLog, error)

	// Maintenance
	Cleanup(ctx context.Context, olderThan time.Time) error
	Ping(ctx context.Context) error
	Close() error
}

// MetricsRecorder receives the number of entries dropped because the write
// buffer was full. Declared here to keep storage free of telemetry imports.
type MetricsRecorder interface {
	AddDroppedEntries(ctx context.Context, count int64)
}

// MutationEntry records one instruction processed by the mutation writer
type MutationEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Source    string    `json:"source,omitempty"`
	Error     string    `json:"error,omitempty"`
	Records   []string  `json:"records,omitempty"` // presentation format
	ID        int64     `json:"id"`
	Version   uint64    `json:"version"`
	Applied   bool      `json:"applied"`
}

// QueryLog represents a single answered query
type QueryLog struct {
	Timestamp      time.Time `json:"timestamp"`
	ClientIP       string    `json:"client_ip"`
	Domain         string    `json:"domain"`
	QueryType      string    `json:"query_type"`
	Source         string    `json:"source,omitempty"` // override, forward or empty
	ID             int64     `json:"id"`
	ResponseCode   int       `json:"response_code"`
	ResponseTimeMs float64   `json:"response_time_ms"`
}

// New opens the configured backend, or a no-op journal when storage is disabled
func New(cfg *config.StorageConfig, metrics MetricsRecorder) (Storage, error) {
	if cfg == nil || !cfg.Enabled {
		return NewNoOpStorage(), nil
	}
	return NewSQLiteStorage(cfg, metrics)
}

// RunRetention deletes entries older than retentionDays once a day until
// ctx is done
func RunRetention(ctx context.Context, s Storage, retentionDays int, logger *logging.Logger) {
	if retentionDays <= 0 {
		return
	}

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		cutoff := time.Now().AddDate(0, 0, -retentionDays)
		if err := s.Cleanup(ctx, cutoff); err != nil {
			logger.Warn("Journal cleanup failed", "error", err)
		} else {
			logger.Debug("Journal cleanup complete", "cutoff", cutoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// NoOpStorage is used when storage is disabled
type NoOpStorage struct{}

// NewNoOpStorage creates a new no-op storage
func NewNoOpStorage() *NoOpStorage {
	return &NoOpStorage{}
}

// LogMutation does nothing
func (n *NoOpStorage) LogMutation(context.Context, *MutationEntry) error { return nil }

// RecentMutations returns an empty slice
func (n *NoOpStorage) RecentMutations(context.Context, int) ([]*MutationEntry, error) {
	return []*MutationEntry{}, nil
}

// LogQuery does nothing
func (n *NoOpStorage) LogQuery(context.Context, *QueryLog) error { return nil }

// RecentQueries returns an empty slice
func (n *NoOpStorage) RecentQueries(context.Context, int) ([]*QueryLog, error) {
	return []*QueryLog{}, nil
}

// Cleanup does nothing
func (n *NoOpStorage) Cleanup(context.Context, time.Time) error { return nil }

// Ping does nothing
func (n *NoOpStorage) Ping(context.Context) error { return nil }

// Close does nothing
func (n *NoOpStorage) Close() error { return nil }
