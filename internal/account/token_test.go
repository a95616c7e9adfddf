package account

import (
	"context"
	"testing"
	"time"
)

func TestGetTokenManualSourceDecryptsAndCaches(t *testing.T) {
	crypto := NewCrypto("test-encryption-key")
	encrypted, err := crypto.Encrypt("sk-manual-key", "a@x.com")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	accounts := []*Account{{Email: "a@x.com", Source: SourceManual, APIKey: encrypted}}
	pool := NewPool(accounts, 0, testSettings(), nil)
	ts := NewTokenSource(pool, crypto, time.Minute, nil)

	tok, err := ts.GetToken(context.Background(), accounts[0])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "sk-manual-key" {
		t.Fatalf("expected decrypted key, got %q", tok)
	}

	if cached, ok := pool.cachedToken("a@x.com", time.Minute); !ok || cached != tok {
		t.Fatalf("expected token to be cached after acquisition")
	}
}

func TestGetTokenManualSourceMissingKeyMarksInvalid(t *testing.T) {
	crypto := NewCrypto("test-encryption-key")
	accounts := []*Account{{Email: "a@x.com", Source: SourceManual}}
	pool := NewPool(accounts, 0, testSettings(), nil)
	ts := NewTokenSource(pool, crypto, time.Minute, nil)

	_, err := ts.GetToken(context.Background(), accounts[0])
	if err == nil {
		t.Fatalf("expected error for missing api key")
	}
	if !accounts[0].IsInvalid {
		t.Fatalf("expected account marked invalid")
	}
}

func TestGetTokenDatabaseSourceUnconfiguredFails(t *testing.T) {
	crypto := NewCrypto("test-encryption-key")
	accounts := []*Account{{Email: "a@x.com", Source: SourceDatabase, DBPath: "/tmp/state.db"}}
	pool := NewPool(accounts, 0, testSettings(), nil)
	ts := NewTokenSource(pool, crypto, time.Minute, nil)

	_, err := ts.GetToken(context.Background(), accounts[0])
	if err == nil {
		t.Fatalf("expected unconfigured database reader to fail")
	}
}

type stubDBReader struct {
	token string
	err   error
}

func (s stubDBReader) ReadToken(context.Context, string) (string, error) {
	return s.token, s.err
}

func TestGetTokenDatabaseSourceUsesInjectedReader(t *testing.T) {
	crypto := NewCrypto("test-encryption-key")
	accounts := []*Account{{Email: "a@x.com", Source: SourceDatabase, DBPath: "/tmp/state.db"}}
	pool := NewPool(accounts, 0, testSettings(), nil)
	ts := NewTokenSource(pool, crypto, time.Minute, stubDBReader{token: "extracted-token"})

	tok, err := ts.GetToken(context.Background(), accounts[0])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "extracted-token" {
		t.Fatalf("expected token from injected reader, got %q", tok)
	}
}

func TestGetTokenReturnsCachedBeforeRefreshInterval(t *testing.T) {
	crypto := NewCrypto("test-encryption-key")
	accounts := []*Account{{Email: "a@x.com", Source: SourceDatabase}}
	pool := NewPool(accounts, 0, testSettings(), nil)
	pool.cacheToken("a@x.com", "cached-token")

	ts := NewTokenSource(pool, crypto, time.Minute, stubDBReader{token: "should-not-be-used"})

	tok, err := ts.GetToken(context.Background(), accounts[0])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "cached-token" {
		t.Fatalf("expected cached token to be returned without dispatch, got %q", tok)
	}
}
