package account

import (
	"testing"
	"time"
)

func testSettings() Settings {
	return Settings{DefaultCooldown: 60 * time.Millisecond, MaxWaitBeforeError: 200 * time.Millisecond}
}

func TestPickStickyReturnsCurrentWhenAvailable(t *testing.T) {
	accounts := []*Account{{Email: "a@x.com"}, {Email: "b@x.com"}}
	p := NewPool(accounts, 0, testSettings(), nil)

	got, wait, err := p.PickSticky()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wait != 0 {
		t.Fatalf("expected no wait, got %d", wait)
	}
	if got == nil || got.Email != "a@x.com" {
		t.Fatalf("expected sticky account a@x.com, got %+v", got)
	}
}

func TestPickStickyWaitsWithinThreshold(t *testing.T) {
	resetAt := time.Now().Add(50 * time.Millisecond)
	accounts := []*Account{
		{Email: "a@x.com", IsRateLimited: true, RateLimitResetTime: &resetAt},
		{Email: "b@x.com"},
	}
	p := NewPool(accounts, 0, testSettings(), nil)

	got, wait, err := p.PickSticky()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil account while waiting, got %+v", got)
	}
	if wait <= 0 {
		t.Fatalf("expected a positive wait, got %d", wait)
	}
}

func TestPickStickyFailsOverBeyondThreshold(t *testing.T) {
	resetAt := time.Now().Add(time.Hour)
	accounts := []*Account{
		{Email: "a@x.com", IsRateLimited: true, RateLimitResetTime: &resetAt},
		{Email: "b@x.com"},
	}
	p := NewPool(accounts, 0, testSettings(), nil)

	got, wait, err := p.PickSticky()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wait != 0 {
		t.Fatalf("expected no wait on failover, got %d", wait)
	}
	if got == nil || got.Email != "b@x.com" {
		t.Fatalf("expected failover to b@x.com, got %+v", got)
	}
}

func TestClearExpiredLimitsClearsPastReset(t *testing.T) {
	past := time.Now().Add(-time.Second)
	accounts := []*Account{{Email: "a@x.com", IsRateLimited: true, RateLimitResetTime: &past}}
	p := NewPool(accounts, 0, testSettings(), nil)

	got, _, err := p.PickSticky()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.Email != "a@x.com" {
		t.Fatalf("expected expired limit cleared and account returned, got %+v", got)
	}
	if accounts[0].IsRateLimited {
		t.Fatalf("expected rate limit flag cleared")
	}
}

func TestIsAllRateLimited(t *testing.T) {
	resetAt := time.Now().Add(time.Hour)
	accounts := []*Account{
		{Email: "a@x.com", IsRateLimited: true, RateLimitResetTime: &resetAt},
		{Email: "b@x.com", IsRateLimited: true, RateLimitResetTime: &resetAt},
	}
	p := NewPool(accounts, 0, testSettings(), nil)
	if !p.IsAllRateLimited() {
		t.Fatalf("expected all accounts rate limited")
	}

	p2 := NewPool(nil, 0, testSettings(), nil)
	if p2.IsAllRateLimited() {
		t.Fatalf("expected empty pool to not count as all rate limited")
	}
}

func TestMarkRateLimitedUsesProvidedResetMs(t *testing.T) {
	accounts := []*Account{{Email: "a@x.com"}}
	p := NewPool(accounts, 0, testSettings(), nil)

	p.MarkRateLimited("a@x.com", 5000)

	if !accounts[0].IsRateLimited {
		t.Fatalf("expected account marked rate limited")
	}
	wait := time.Until(*accounts[0].RateLimitResetTime)
	if wait <= 4*time.Second || wait > 6*time.Second {
		t.Fatalf("expected ~5s reset window, got %v", wait)
	}
}

func TestMarkRateLimitedDefaultsCooldown(t *testing.T) {
	accounts := []*Account{{Email: "a@x.com"}}
	settings := testSettings()
	p := NewPool(accounts, 0, settings, nil)

	p.MarkRateLimited("a@x.com", 0)

	wait := time.Until(*accounts[0].RateLimitResetTime)
	if wait <= 0 || wait > settings.DefaultCooldown {
		t.Fatalf("expected default cooldown window, got %v", wait)
	}
}

func TestMarkInvalidAndClearInvalid(t *testing.T) {
	accounts := []*Account{{Email: "a@x.com"}}
	p := NewPool(accounts, 0, testSettings(), nil)

	p.MarkInvalid("a@x.com", "bad refresh token")
	if !accounts[0].IsInvalid || accounts[0].InvalidReason != "bad refresh token" {
		t.Fatalf("expected account marked invalid with reason")
	}
	if accounts[0].Available() {
		t.Fatalf("invalid account should not be available")
	}

	p.clearInvalid("a@x.com")
	if accounts[0].IsInvalid || accounts[0].InvalidReason != "" {
		t.Fatalf("expected invalid flag cleared")
	}
}

func TestResetAllRateLimits(t *testing.T) {
	resetAt := time.Now().Add(time.Hour)
	accounts := []*Account{
		{Email: "a@x.com", IsRateLimited: true, RateLimitResetTime: &resetAt},
		{Email: "b@x.com", IsRateLimited: true, RateLimitResetTime: &resetAt},
	}
	p := NewPool(accounts, 0, testSettings(), nil)

	p.ResetAllRateLimits()

	for _, a := range accounts {
		if a.IsRateLimited || a.RateLimitResetTime != nil {
			t.Fatalf("expected rate limit cleared for %s", a.Email)
		}
	}
}

func TestPickNextSkipsDisabledAndInvalid(t *testing.T) {
	accounts := []*Account{
		{Email: "a@x.com"},
		{Email: "b@x.com", Disabled: true},
		{Email: "c@x.com", IsInvalid: true},
		{Email: "d@x.com"},
	}
	p := NewPool(accounts, 0, testSettings(), nil)

	got, err := p.PickNext()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.Email != "d@x.com" {
		t.Fatalf("expected pickNext to skip to d@x.com, got %+v", got)
	}
	if got.LastUsed == nil {
		t.Fatalf("expected lastUsed stamped")
	}
}

func TestAddAndRemove(t *testing.T) {
	p := NewPool(nil, 0, testSettings(), nil)
	p.Add(&Account{Email: "a@x.com"})
	p.Add(&Account{Email: "b@x.com"})

	if p.Count() != 2 {
		t.Fatalf("expected 2 accounts, got %d", p.Count())
	}

	if !p.Remove("a@x.com") {
		t.Fatalf("expected removal to succeed")
	}
	if p.Count() != 1 {
		t.Fatalf("expected 1 account after removal, got %d", p.Count())
	}
	if p.Remove("missing@x.com") {
		t.Fatalf("expected removal of missing account to report false")
	}
}

func TestTokenCacheExpiry(t *testing.T) {
	p := NewPool([]*Account{{Email: "a@x.com"}}, 0, testSettings(), nil)
	p.cacheToken("a@x.com", "tok1")

	if tok, ok := p.cachedToken("a@x.com", time.Minute); !ok || tok != "tok1" {
		t.Fatalf("expected fresh cached token, got %q ok=%v", tok, ok)
	}
	if _, ok := p.cachedToken("a@x.com", 0); ok {
		t.Fatalf("expected zero-duration window to always miss")
	}
}
