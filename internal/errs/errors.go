// Package errs implements the proxy's typed error taxonomy (component C1 of
// the design): classification predicates over both structured errors and
// unstructured upstream error text, plus the client-visible status mapping.
package errs

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// RateLimited indicates the account (or all accounts) are throttled upstream.
// Retryable by switching accounts or waiting.
type RateLimited struct {
	AccountID string
	ResetMs   int64 // 0 if unknown
}

func (e *RateLimited) Error() string {
	if e.AccountID != "" {
		return fmt.Sprintf("rate limited on account %s, reset in %dms", e.AccountID, e.ResetMs)
	}
	return fmt.Sprintf("rate limited, reset in %dms", e.ResetMs)
}

// AuthInvalid indicates the credential itself is bad. Not retryable on the
// same credential; triggers a refresh attempt then marks the account invalid.
type AuthInvalid struct {
	AccountID string
	Reason    string
}

func (e *AuthInvalid) Error() string {
	return fmt.Sprintf("account %s auth invalid: %s", e.AccountID, e.Reason)
}

// NoAccounts is terminal: the pool has nothing schedulable.
type NoAccounts struct {
	AllRateLimited bool
}

func (e *NoAccounts) Error() string {
	if e.AllRateLimited {
		return "no accounts available: all rate-limited"
	}
	return "no accounts available"
}

// MaxRetries is terminal: the outer retry loop exhausted its attempt budget.
type MaxRetries struct {
	Attempts int
}

func (e *MaxRetries) Error() string {
	return fmt.Sprintf("max retries exceeded after %d attempts", e.Attempts)
}

// Upstream wraps a non-2xx upstream HTTP response. Retryable iff Status >= 500.
type Upstream struct {
	Status int
	Type   string
	Body   string
}

func (e *Upstream) Error() string {
	return fmt.Sprintf("upstream error %d (%s): %s", e.Status, e.Type, e.Body)
}

func (e *Upstream) Retryable() bool { return e.Status >= 500 }

// Transport covers network/connection-level failures. Retryable on the next
// endpoint.
type Transport struct {
	Cause error
}

func (e *Transport) Error() string { return fmt.Sprintf("transport error: %v", e.Cause) }
func (e *Transport) Unwrap() error { return e.Cause }

// --- Classification predicates ---

func IsRateLimited(err error) bool {
	var rl *RateLimited
	if errors.As(err, &rl) {
		return true
	}
	return matchesAny(err, legacyRateLimitPatterns)
}

func IsAuthInvalid(err error) bool {
	var ai *AuthInvalid
	if errors.As(err, &ai) {
		return true
	}
	return matchesAny(err, legacyAuthPatterns)
}

func IsTransport(err error) bool {
	var t *Transport
	return errors.As(err, &t)
}

func IsRetryableUpstream(err error) bool {
	var u *Upstream
	if errors.As(err, &u) {
		return u.Retryable()
	}
	return false
}

// Legacy substring detection: the upstream sometimes embeds its error code in
// free text rather than a structured field (§4.1, §9 — the duplication
// between structured and string-matching checks is intentional, not
// accidental redundancy to be "cleaned up").
var legacyRateLimitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b429\b`),
	regexp.MustCompile(`RESOURCE_EXHAUSTED`),
	regexp.MustCompile(`QUOTA_EXHAUSTED`),
}

var legacyAuthPatterns = []*regexp.Regexp{
	regexp.MustCompile(`INVALID_GRANT`),
	regexp.MustCompile(`TOKEN REFRESH FAILED`),
	regexp.MustCompile(`\b401\b`),
	regexp.MustCompile(`UNAUTHENTICATED`),
}

func matchesAny(err error, patterns []*regexp.Regexp) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, p := range patterns {
		if p.MatchString(msg) {
			return true
		}
	}
	return false
}

// --- Client-visible classification (§7) ---
//
// 401 for auth errors; 400 for rate-limit (deliberately, so clients do not
// auto-retry the proxy into a storm); 403 for permission; 503 for "all
// endpoints failed"; 500 for unclassified.

func ClientStatus(err error) (status int, errType string) {
	switch {
	case IsAuthInvalid(err):
		return 401, "authentication_error"
	case IsRateLimited(err):
		return 400, "invalid_request_error"
	case isPermission(err):
		return 403, "permission_error"
	case isAllEndpointsFailed(err):
		return 503, "api_error"
	default:
		var u *Upstream
		if errors.As(err, &u) && u.Status > 0 {
			return u.Status, cmpOrDefault(u.Type, "api_error")
		}
		return 500, "api_error"
	}
}

func cmpOrDefault(s, d string) string {
	if s == "" {
		return d
	}
	return s
}

var permissionPattern = regexp.MustCompile(`(?i)PERMISSION_DENIED|permission.?error|forbidden`)

func isPermission(err error) bool {
	var u *Upstream
	if errors.As(err, &u) && u.Status == 403 {
		return true
	}
	return err != nil && permissionPattern.MatchString(err.Error())
}

var allEndpointsPattern = regexp.MustCompile(`(?i)all endpoints failed`)

func isAllEndpointsFailed(err error) bool {
	return err != nil && allEndpointsPattern.MatchString(err.Error())
}

// ClientBody builds the Anthropic-shaped {type:error, error:{type,message}}
// JSON body for a classified error.
func ClientBody(status int, errType, message string) []byte {
	resp := map[string]interface{}{
		"type": "error",
		"error": map[string]interface{}{
			"type":    errType,
			"message": message,
		},
	}
	data, _ := json.Marshal(resp)
	return data
}

// SanitizeForClient is the top-level helper HTTP handlers call: classify err,
// build the response body, strip any internal route-tag noise from the
// message.
func SanitizeForClient(err error) (status int, body []byte) {
	status, errType := ClientStatus(err)
	msg := strings.TrimSpace(err.Error())
	return status, ClientBody(status, errType, msg)
}
