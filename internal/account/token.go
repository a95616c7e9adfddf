package account

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// oauthTokenURL is Google's standard OAuth2 token endpoint. The pool's
// oauth-source accounts are Google-authenticated Cloud Code credentials, so
// a refresh is a plain refresh_token grant against Google, not against the
// upstream vendor itself.
const oauthTokenURL = "https://oauth2.googleapis.com/token"

// oauthClientID/oauthClientSecret identify the installed-app OAuth client
// used to mint the original refresh tokens. Public client credentials for
// an installed app, not a secret in the security sense.
const (
	oauthClientID     = "681255809395-oo8ft2oprdrnp9e3aqf6av3hmdib135j.apps.googleusercontent.com"
	oauthClientSecret = "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"
)

// DatabaseTokenReader extracts a token for a `database`-source account from
// a local state store. The extraction mechanics against that store are an
// external collaborator, out of scope here; callers inject a concrete
// implementation.
type DatabaseTokenReader interface {
	ReadToken(ctx context.Context, dbPath string) (string, error)
}

// unconfiguredDatabaseReader is the default DatabaseTokenReader: it always
// fails, since local state-store token extraction mechanics are out of
// scope.
type unconfiguredDatabaseReader struct{}

func (unconfiguredDatabaseReader) ReadToken(_ context.Context, dbPath string) (string, error) {
	return "", fmt.Errorf("database-source token extraction not configured (path %q)", dbPath)
}

// TokenSource obtains and refreshes access tokens for the pool's accounts
// (§4.9 token acquisition).
type TokenSource struct {
	pool            *Pool
	crypto          *Crypto
	client          *http.Client
	refreshInterval time.Duration
	dbReader        DatabaseTokenReader
}

func NewTokenSource(pool *Pool, crypto *Crypto, refreshInterval time.Duration, dbReader DatabaseTokenReader) *TokenSource {
	if dbReader == nil {
		dbReader = unconfiguredDatabaseReader{}
	}
	return &TokenSource{
		pool:            pool,
		crypto:          crypto,
		client:          &http.Client{Timeout: 30 * time.Second},
		refreshInterval: refreshInterval,
		dbReader:        dbReader,
	}
}

// GetToken implements getToken(account): cached-if-fresh, else dispatch by
// source, clearing the invalid flag on success and marking invalid on
// failure.
func (t *TokenSource) GetToken(ctx context.Context, a *Account) (string, error) {
	if tok, ok := t.pool.cachedToken(a.Email, t.refreshInterval); ok {
		return tok, nil
	}

	var (
		tok string
		err error
	)
	switch a.Source {
	case SourceOAuth:
		tok, err = t.refreshOAuth(ctx, a)
	case SourceManual:
		tok, err = t.manualKey(a)
	case SourceDatabase:
		tok, err = t.dbReader.ReadToken(ctx, a.DBPath)
	default:
		err = fmt.Errorf("unknown account source %q", a.Source)
	}

	if err != nil {
		t.pool.MarkInvalid(a.Email, err.Error())
		return "", fmt.Errorf("get token for %s: %w", a.Email, err)
	}

	t.pool.cacheToken(a.Email, tok)
	t.pool.clearInvalid(a.Email)
	return tok, nil
}

// InvalidateToken clears the cached token for an account, forcing the next
// GetToken call to re-dispatch (used after a 401 from the upstream).
func (t *TokenSource) InvalidateToken(email string) {
	t.pool.clearTokenCache(email)
}

func (t *TokenSource) manualKey(a *Account) (string, error) {
	if a.APIKey == "" {
		return "", fmt.Errorf("manual account has no api key")
	}
	key, err := t.crypto.Decrypt(a.APIKey, a.Email)
	if err != nil {
		return "", fmt.Errorf("decrypt api key: %w", err)
	}
	return key, nil
}

type oauthTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func (t *TokenSource) refreshOAuth(ctx context.Context, a *Account) (string, error) {
	if a.RefreshToken == "" {
		return "", fmt.Errorf("oauth account has no refresh token")
	}
	refreshToken, err := t.crypto.Decrypt(a.RefreshToken, a.Email)
	if err != nil {
		return "", fmt.Errorf("decrypt refresh token: %w", err)
	}

	body, _ := json.Marshal(map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     oauthClientID,
		"client_secret": oauthClientSecret,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, oauthTokenURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("oauth refresh request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read oauth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("oauth refresh returned %d: %s", resp.StatusCode, string(respBody))
	}

	var tr oauthTokenResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return "", fmt.Errorf("parse oauth response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("empty access_token in oauth response")
	}
	return tr.AccessToken, nil
}
