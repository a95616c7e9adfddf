// Package account implements the account pool (component C9): sticky
// selection with failover, rate-limit/invalid state transitions, token and
// project caches, and atomic JSON-file persistence. Selection policy and
// sort order are grounded on the teacher's internal/scheduler/scheduler.go
// (priority DESC / lastUsedAt ASC pool ordering, sticky-session lookup
// shape); state-transition and cooldown bookkeeping are grounded on
// internal/ratelimit/manager.go's cleanup-ticker shape, generalized from
// Claude-specific 5h-window/Opus tracking down to the single
// {limited, reset_at} / {invalid, reason} pair the data model calls for.
package account

import (
	"context"
	"sync"
	"time"
)

// Source identifies how an account's credential is obtained.
type Source string

const (
	SourceOAuth    Source = "oauth"
	SourceManual   Source = "manual"
	SourceDatabase Source = "database"
)

// Account is one credential entry in the pool (§3 data model).
type Account struct {
	Email        string     `json:"email"`
	Source       Source     `json:"source"`
	DBPath       string     `json:"dbPath,omitempty"`
	RefreshToken string     `json:"refreshToken,omitempty"` // encrypted at rest
	APIKey       string     `json:"apiKey,omitempty"`       // encrypted at rest
	ProjectID    string     `json:"projectId,omitempty"`
	AddedAt      *time.Time `json:"addedAt,omitempty"`

	IsRateLimited      bool       `json:"isRateLimited"`
	RateLimitResetTime *time.Time `json:"rateLimitResetTime,omitempty"`
	IsInvalid          bool       `json:"isInvalid"`
	InvalidReason      string     `json:"invalidReason,omitempty"`
	Disabled           bool       `json:"disabled,omitempty"`
	LastUsed           *time.Time `json:"lastUsed,omitempty"`

	// Proxy is an optional per-account egress proxy, carried over from the
	// teacher's transport pooling (outbound dialing, §5) and generalized
	// from Claude-only accounts to any credential source — not part of the
	// account data model itself, so it is never persisted.
	Proxy *ProxyConfig `json:"-"`
}

// ProxyConfig configures a per-account egress proxy for the outbound HTTP
// transport (internal/transport.Manager).
type ProxyConfig struct {
	Type     string // "socks5" or "http"
	Host     string
	Port     int
	Username string
	Password string
}

// Available reports whether an account is eligible for selection right now
// (§3 invariant): not rate-limited, not invalid, not disabled.
func (a *Account) Available() bool {
	return !a.IsRateLimited && !a.IsInvalid && !a.Disabled
}

// Settings mirrors the pool's configurable knobs, persisted alongside the
// account list so a restart recovers the same cooldown policy.
type Settings struct {
	DefaultCooldown    time.Duration `json:"defaultCooldownMs"`
	MaxWaitBeforeError time.Duration `json:"maxWaitBeforeErrorMs"`
}

// Pool is the in-memory account pool plus its token/project caches. All
// mutating methods persist (best-effort, async) via the configured Persister.
type Pool struct {
	mu       sync.Mutex
	accounts []*Account
	index    int
	settings Settings

	tokenCache   map[string]tokenEntry
	projectCache map[string]string

	persist func([]*Account, int, Settings)
}

type tokenEntry struct {
	token    string
	issuedAt time.Time
}

// NewPool builds a pool from an already-loaded account list. persist is
// invoked (in a new goroutine) after every state mutation; pass a no-op
// to disable persistence (e.g. in tests).
func NewPool(accounts []*Account, index int, settings Settings, persist func([]*Account, int, Settings)) *Pool {
	if persist == nil {
		persist = func([]*Account, int, Settings) {}
	}
	return &Pool{
		accounts:     accounts,
		index:        index,
		settings:     settings,
		tokenCache:   map[string]tokenEntry{},
		projectCache: map[string]string{},
		persist:      persist,
	}
}

func (p *Pool) persistLocked() {
	snapshot := make([]*Account, len(p.accounts))
	copy(snapshot, p.accounts)
	idx := p.index
	settings := p.settings
	go p.persist(snapshot, idx, settings)
}

// clearExpiredLimitsLocked lazily clears any rate-limit whose reset time has
// passed. Must be called with mu held.
func (p *Pool) clearExpiredLimitsLocked() {
	now := time.Now()
	for _, a := range p.accounts {
		if a.IsRateLimited && a.RateLimitResetTime != nil && !now.Before(*a.RateLimitResetTime) {
			a.IsRateLimited = false
			a.RateLimitResetTime = nil
		}
	}
}

// ClearExpiredLimits is the exported form, for callers outside selection
// (e.g. a background sweep).
func (p *Pool) ClearExpiredLimits() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearExpiredLimitsLocked()
}

// PickSticky implements the sticky-with-failover selection policy
// (§4.9). A zero waitMs with a nil account and nil error means the pool is
// empty or every account is unavailable for a reason other than cooldown.
func (p *Pool) PickSticky() (acct *Account, waitMs int64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.clearExpiredLimitsLocked()

	if len(p.accounts) == 0 {
		return nil, 0, nil
	}

	cur := p.accounts[p.index]
	if cur.Available() {
		return cur, 0, nil
	}

	if cur.IsRateLimited && cur.RateLimitResetTime != nil {
		wait := time.Until(*cur.RateLimitResetTime)
		if wait <= p.settings.MaxWaitBeforeError {
			if wait < 0 {
				wait = 0
			}
			return nil, wait.Milliseconds(), nil
		}
	}

	return p.pickNextLocked()
}

// PickNext linear-probes from index+1 for the first available account
// (§4.9).
func (p *Pool) PickNext() (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearExpiredLimitsLocked()
	acct, _ := p.pickNextLocked()
	return acct, nil
}

func (p *Pool) pickNextLocked() (*Account, int64) {
	n := len(p.accounts)
	if n == 0 {
		return nil, 0
	}
	for i := 1; i <= n; i++ {
		idx := (p.index + i) % n
		if p.accounts[idx].Available() {
			p.index = idx
			p.stampLastUsedLocked(p.accounts[idx])
			p.persistLocked()
			return p.accounts[idx], 0
		}
	}
	return nil, 0
}

func (p *Pool) stampLastUsedLocked(a *Account) {
	now := time.Now()
	a.LastUsed = &now
}

// IsAllRateLimited reports whether the pool is non-empty and every account
// is currently marked rate-limited.
func (p *Pool) IsAllRateLimited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.accounts) == 0 {
		return false
	}
	for _, a := range p.accounts {
		if !a.IsRateLimited {
			return false
		}
	}
	return true
}

// MinWaitMs returns the smallest remaining cooldown across rate-limited
// accounts, or 0 if none are rate-limited.
func (p *Pool) MinWaitMs() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var min int64 = -1
	now := time.Now()
	for _, a := range p.accounts {
		if !a.IsRateLimited || a.RateLimitResetTime == nil {
			continue
		}
		wait := a.RateLimitResetTime.Sub(now).Milliseconds()
		if wait < 0 {
			wait = 0
		}
		if min < 0 || wait < min {
			min = wait
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

// MarkRateLimited sets an account's cooldown (§4.9). resetMs <= 0 uses the
// configured default cooldown.
func (p *Pool) MarkRateLimited(email string, resetMs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.findLocked(email)
	if a == nil {
		return
	}
	cooldown := p.settings.DefaultCooldown
	if resetMs > 0 {
		cooldown = time.Duration(resetMs) * time.Millisecond
	}
	resetAt := time.Now().Add(cooldown)
	a.IsRateLimited = true
	a.RateLimitResetTime = &resetAt
	p.persistLocked()
}

// MarkInvalid marks an account invalid with a reason (§4.9).
func (p *Pool) MarkInvalid(email, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.findLocked(email)
	if a == nil {
		return
	}
	a.IsInvalid = true
	a.InvalidReason = reason
	p.persistLocked()
}

// clearInvalid clears the invalid flag, called on a successful token
// refresh (§3 invariant: "invalid state is cleared only on a successful
// token refresh").
func (p *Pool) clearInvalid(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.findLocked(email)
	if a == nil {
		return
	}
	a.IsInvalid = false
	a.InvalidReason = ""
	p.persistLocked()
}

// ResetAllRateLimits clears rate-limit flags across the whole pool, used by
// the front-end on entry to any request when every account is marked
// (optimistic retry, §4.9, §9).
func (p *Pool) ResetAllRateLimits() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.accounts {
		a.IsRateLimited = false
		a.RateLimitResetTime = nil
	}
	p.persistLocked()
}

func (p *Pool) findLocked(email string) *Account {
	for _, a := range p.accounts {
		if a.Email == email {
			return a
		}
	}
	return nil
}

// Count returns the number of accounts in the pool.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accounts)
}

// List returns a shallow copy of the pool's accounts, for CLI/debug use.
func (p *Pool) List() []*Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Account, len(p.accounts))
	copy(out, p.accounts)
	return out
}

// Add appends a new account to the pool and persists.
func (p *Pool) Add(a *Account) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	a.AddedAt = &now
	p.accounts = append(p.accounts, a)
	p.persistLocked()
}

// Reload replaces the pool's accounts, index, and settings wholesale
// (used when an external edit to the account file is detected). Token and
// project caches are cleared since the on-disk identities may no longer
// match cached entries.
func (p *Pool) Reload(accounts []*Account, index int, settings Settings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts = accounts
	if index < 0 || index >= len(accounts) {
		index = 0
	}
	p.index = index
	p.settings = settings
	p.tokenCache = map[string]tokenEntry{}
	p.projectCache = map[string]string{}
}

// Remove deletes an account by email, adjusting the current index if
// needed, and persists.
func (p *Pool) Remove(email string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, a := range p.accounts {
		if a.Email != email {
			continue
		}
		p.accounts = append(p.accounts[:i], p.accounts[i+1:]...)
		if p.index >= len(p.accounts) && p.index > 0 {
			p.index--
		}
		delete(p.tokenCache, email)
		delete(p.projectCache, email)
		p.persistLocked()
		return true
	}
	return false
}

// cachedToken returns a still-fresh cached token for email, if any.
func (p *Pool) cachedToken(email string, refreshInterval time.Duration) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.tokenCache[email]
	if !ok || time.Since(e.issuedAt) >= refreshInterval {
		return "", false
	}
	return e.token, true
}

func (p *Pool) cacheToken(email, token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenCache[email] = tokenEntry{token: token, issuedAt: time.Now()}
}

func (p *Pool) clearTokenCache(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tokenCache, email)
}

func (p *Pool) cachedProject(email string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.projectCache[email]
	return v, ok
}

func (p *Pool) cacheProject(email, projectID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.projectCache[email] = projectID
}

func (p *Pool) clearProjectCache(email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.projectCache, email)
}

// context is accepted by the higher-level token/project acquisition methods
// in token.go and project.go even though Pool's own state is purely
// in-memory, so callers can bound upstream calls with a deadline.
var _ = context.Background
