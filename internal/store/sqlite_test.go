package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRequestLogInsertAndQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	for i, acct := range []string{"a@x.com", "b@x.com", "a@x.com"} {
		if err := s.InsertRequestLog(ctx, &RequestLog{
			AccountID:    acct,
			Model:        "gemini-3-pro",
			InputTokens:  10 + i,
			OutputTokens: 20 + i,
			Status:       "ok",
			DurationMs:   int64(100 + i),
			CreatedAt:    now.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	logs, total, err := s.QueryRequestLogs(ctx, RequestLogQuery{})
	if err != nil {
		t.Fatalf("query all: %v", err)
	}
	if total != 3 || len(logs) != 3 {
		t.Fatalf("expected 3 logs, got total=%d len=%d", total, len(logs))
	}
	if logs[0].AccountID != "a@x.com" || logs[0].InputTokens != 12 {
		t.Fatalf("expected most recent row first, got %+v", logs[0])
	}

	filtered, total, err := s.QueryRequestLogs(ctx, RequestLogQuery{AccountID: "b@x.com"})
	if err != nil {
		t.Fatalf("query filtered: %v", err)
	}
	if total != 1 || len(filtered) != 1 || filtered[0].AccountID != "b@x.com" {
		t.Fatalf("expected 1 row for b@x.com, got total=%d len=%d", total, len(filtered))
	}
}

func TestPurgeOldLogs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()
	if err := s.InsertRequestLog(ctx, &RequestLog{AccountID: "a@x.com", Model: "m", Status: "ok", CreatedAt: old}); err != nil {
		t.Fatalf("insert old: %v", err)
	}
	if err := s.InsertRequestLog(ctx, &RequestLog{AccountID: "a@x.com", Model: "m", Status: "ok", CreatedAt: recent}); err != nil {
		t.Fatalf("insert recent: %v", err)
	}

	n, err := s.PurgeOldLogs(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row purged, got %d", n)
	}

	_, total, err := s.QueryRequestLogs(ctx, RequestLogQuery{})
	if err != nil {
		t.Fatalf("query after purge: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected 1 row remaining, got %d", total)
	}
}

func TestRefreshLockMutualExclusion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ok, err := s.AcquireRefreshLock(ctx, "acct-1", "holder-a")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if !ok {
		t.Fatalf("expected first acquire to succeed")
	}

	ok, err = s.AcquireRefreshLock(ctx, "acct-1", "holder-b")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatalf("expected second acquire to fail while lock is held")
	}

	if err := s.ReleaseRefreshLock(ctx, "acct-1", "holder-a"); err != nil {
		t.Fatalf("release: %v", err)
	}

	ok, err = s.AcquireRefreshLock(ctx, "acct-1", "holder-b")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if !ok {
		t.Fatalf("expected acquire to succeed after release")
	}
}

func TestRefreshLockExpiresAfterTTL(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO refresh_locks (account_id, holder_id, expires_at) VALUES (?, ?, ?)",
		"acct-2", "holder-a", time.Now().Add(-time.Second).Unix()); err != nil {
		t.Fatalf("seed expired lock: %v", err)
	}

	ok, err := s.AcquireRefreshLock(ctx, "acct-2", "holder-b")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !ok {
		t.Fatalf("expected acquire to succeed once the lease expired")
	}
}
