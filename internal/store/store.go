package store

import (
	"context"
	"time"
)

// Store is the persistence interface for the request-log observability tail
// and the distributed refresh lock. Account state itself persists to the
// JSON account file (internal/account.Store), not here.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	// InsertRequestLog appends one completed request to the durable tail.
	InsertRequestLog(ctx context.Context, l *RequestLog) error
	// QueryRequestLogs lists recent entries, most recent first.
	QueryRequestLogs(ctx context.Context, opts RequestLogQuery) ([]*RequestLog, int, error)
	// PurgeOldLogs deletes entries older than before, returning the count removed.
	PurgeOldLogs(ctx context.Context, before time.Time) (int64, error)

	// AcquireRefreshLock takes a cooperative lock on accountID so that only
	// one of several relay processes sharing the same account file refreshes
	// its token at a time. lockID identifies the holder for diagnostics.
	AcquireRefreshLock(ctx context.Context, accountID, lockID string) (bool, error)
	ReleaseRefreshLock(ctx context.Context, accountID, lockID string) error
}

// RequestLog is one durable row backing the request-log ring's tail.
type RequestLog struct {
	ID                int64
	AccountID         string
	Model             string
	InputTokens       int
	OutputTokens      int
	CacheReadTokens   int
	CacheCreateTokens int
	Status            string
	DurationMs        int64
	CreatedAt         time.Time
}

// RequestLogQuery filters/paginates QueryRequestLogs.
type RequestLogQuery struct {
	AccountID string
	Limit     int
	Offset    int
}
