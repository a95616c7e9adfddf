package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// refreshLockTTL bounds how long a refresh lock survives its holder dying
// without releasing it.
const refreshLockTTL = 30 * time.Second

// SQLiteStore backs the request-log durable tail and the distributed
// refresh lock with a single-file SQLite database, shared by every relay
// process pointed at the same DB path.
type SQLiteStore struct {
	db *sql.DB
}

// New opens dbPath, creating it and its schema if necessary.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLiteStore) Close() error                   { return s.db.Close() }

func (s *SQLiteStore) InsertRequestLog(ctx context.Context, l *RequestLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO request_log (account_id, model, input_tokens, output_tokens,
			cache_read_tokens, cache_create_tokens, status, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.AccountID, l.Model, l.InputTokens, l.OutputTokens,
		l.CacheReadTokens, l.CacheCreateTokens, l.Status, l.DurationMs, l.CreatedAt.Unix())
	return err
}

func (s *SQLiteStore) QueryRequestLogs(ctx context.Context, opts RequestLogQuery) ([]*RequestLog, int, error) {
	where := "1=1"
	var args []interface{}
	if opts.AccountID != "" {
		where += " AND account_id = ?"
		args = append(args, opts.AccountID)
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM request_log WHERE %s", where), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	fetchArgs := append(append([]interface{}{}, args...), limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, account_id, model, input_tokens, output_tokens, cache_read_tokens,
			cache_create_tokens, status, duration_ms, created_at
		FROM request_log WHERE %s ORDER BY created_at DESC LIMIT ? OFFSET ?`, where), fetchArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var logs []*RequestLog
	for rows.Next() {
		l := &RequestLog{}
		var ts int64
		if err := rows.Scan(&l.ID, &l.AccountID, &l.Model, &l.InputTokens, &l.OutputTokens,
			&l.CacheReadTokens, &l.CacheCreateTokens, &l.Status, &l.DurationMs, &ts); err != nil {
			return nil, 0, err
		}
		l.CreatedAt = time.Unix(ts, 0).UTC()
		logs = append(logs, l)
	}
	return logs, total, rows.Err()
}

func (s *SQLiteStore) PurgeOldLogs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM request_log WHERE created_at < ?", before.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AcquireRefreshLock takes the row for accountID if it is absent or its
// lease has expired, stamping a fresh expiry under holderID.
func (s *SQLiteStore) AcquireRefreshLock(ctx context.Context, accountID, holderID string) (bool, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO refresh_locks (account_id, holder_id, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET holder_id = excluded.holder_id, expires_at = excluded.expires_at
		WHERE refresh_locks.expires_at < ?`,
		accountID, holderID, now.Add(refreshLockTTL).Unix(), now.Unix())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReleaseRefreshLock drops the lease if still held by holderID.
func (s *SQLiteStore) ReleaseRefreshLock(ctx context.Context, accountID, holderID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM refresh_locks WHERE account_id = ? AND holder_id = ?", accountID, holderID)
	return err
}
