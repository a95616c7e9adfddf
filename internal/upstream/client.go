// Package upstream dispatches vendor requests across the endpoint set with
// sticky-account selection, bounded retries, and SSE framing (component
// C10). Adapted from the teacher's internal/relay/relay.go retry/endpoint
// loop and internal/relay/stream.go's SSEScanner, repointed from a single
// direct-Anthropic upstream to the ordered Cloud Code endpoint list and the
// project/envelope machinery §4.9/§4.10 describe.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yansir/cc-relayer/internal/account"
	"github.com/yansir/cc-relayer/internal/convert"
	"github.com/yansir/cc-relayer/internal/errs"
	"github.com/yansir/cc-relayer/internal/sigcache"
	"github.com/yansir/cc-relayer/internal/wire"
)

// TransportProvider supplies per-account HTTP clients (utls + optional
// per-account proxy).
type TransportProvider interface {
	GetClient(acct *account.Account) *http.Client
}

// Client drives the outer retry loop described in §4.10.
type Client struct {
	pool      *account.Pool
	tokens    *account.TokenSource
	projects  *account.ProjectResolver
	transport TransportProvider
	endpoints []string

	maxWaitBeforeError time.Duration
	minRetryAccounts   int
}

func NewClient(
	pool *account.Pool,
	tokens *account.TokenSource,
	projects *account.ProjectResolver,
	transport TransportProvider,
	endpoints []string,
	maxWaitBeforeError time.Duration,
	minRetryAccounts int,
) *Client {
	return &Client{
		pool:               pool,
		tokens:             tokens,
		projects:           projects,
		transport:          transport,
		endpoints:          endpoints,
		maxWaitBeforeError: maxWaitBeforeError,
		minRetryAccounts:   minRetryAccounts,
	}
}

// Result carries the upstream response, already unwrapped of its outer
// envelope bookkeeping, for the front-end to forward.
type Result struct {
	Account *account.Account
	Model   string

	// NonStreaming is populated when the request was not streamed.
	NonStreaming *wire.MessagesResponse

	// Events is populated when the request was streamed: every Anthropic
	// SSE event the converter produced, in arrival order.
	Events []convert.StreamEvent

	// Usage is the token usage reported by the upstream for this exchange,
	// for the request-log ring (§3 RequestRecord); zero value if the
	// upstream never reported usage.
	Usage wire.Usage
}

// maxAttempts implements §4.10: max(5, account_count+1).
func (c *Client) maxAttempts() int {
	n := max(c.minRetryAccounts, c.pool.Count()+1)
	if n < 1 {
		n = 1
	}
	return n
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Dispatch runs the outer retry loop for one vendor request and returns the
// translated result. stream selects streaming vs non-streaming upstream
// consumption; cache is the signature cache used by the response converter.
func (c *Client) Dispatch(ctx context.Context, model string, vendorReq wire.VendorRequest, stream, familyC, thinking bool, cache *sigcache.Cache) (*Result, error) {
	attempts := c.maxAttempts()
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		acct, waitMs, err := c.pool.PickSticky()
		if err != nil {
			return nil, err
		}
		if acct == nil {
			if waitMs > 0 {
				if err := sleepOrDone(ctx, time.Duration(waitMs)*time.Millisecond); err != nil {
					return nil, err
				}
				continue
			}
			if c.pool.IsAllRateLimited() && time.Duration(c.pool.MinWaitMs())*time.Millisecond > c.maxWaitBeforeError {
				return nil, &errs.RateLimited{ResetMs: c.pool.MinWaitMs()}
			}
			return nil, &errs.NoAccounts{AllRateLimited: c.pool.IsAllRateLimited()}
		}

		result, err := c.attempt(ctx, acct, model, vendorReq, stream, familyC, thinking, cache)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errs.IsRateLimited(err) || errs.IsAuthInvalid(err) {
			continue
		}
		return nil, err
	}

	if lastErr != nil {
		return nil, &errs.MaxRetries{Attempts: attempts}
	}
	return nil, &errs.MaxRetries{Attempts: attempts}
}

// attempt runs the inner endpoint-failover loop for one selected account.
func (c *Client) attempt(ctx context.Context, acct *account.Account, model string, vendorReq wire.VendorRequest, stream, familyC, thinking bool, cache *sigcache.Cache) (*Result, error) {
	token, err := c.tokens.GetToken(ctx, acct)
	if err != nil {
		return nil, &errs.AuthInvalid{AccountID: acct.Email, Reason: err.Error()}
	}
	project := c.projects.GetProject(ctx, acct, token)

	body, err := json.Marshal(wire.VendorEnvelope{
		Project:   project,
		Model:     model,
		Request:   vendorReq,
		UserAgent: "antigravity",
		RequestID: NewRequestID(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal vendor envelope: %w", err)
	}

	path := "/v1internal:generateContent"
	if stream || thinking {
		path = "/v1internal:streamGenerateContent?alt=sse"
	}

	var (
		minResetMs    int64 = -1
		lastErrStatus int
		lastErrBody   []byte
	)

	for _, base := range c.endpoints {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build upstream request: %w", err)
		}
		SetRequiredHeaders(req.Header, token, familyC, thinking)
		if stream || thinking {
			req.Header.Set("Accept", "text/event-stream")
		}

		client := c.transport.GetClient(acct)
		resp, err := client.Do(req)
		if err != nil {
			lastErrStatus = 0
			lastErrBody = []byte(err.Error())
			continue
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			resp.Body.Close()
			c.tokens.InvalidateToken(acct.Email)
			c.projects.InvalidateProject(acct.Email)
			lastErrStatus = resp.StatusCode
			continue

		case resp.StatusCode == http.StatusTooManyRequests:
			errBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if ms, ok := ParseResetMs(resp.Header, errBody); ok {
				if minResetMs < 0 || ms < minResetMs {
					minResetMs = ms
				}
			}
			lastErrStatus = resp.StatusCode
			lastErrBody = errBody
			continue

		case resp.StatusCode >= 400:
			errBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErrStatus = resp.StatusCode
			lastErrBody = errBody
			continue

		default:
			return c.consume(ctx, resp, acct, model, stream, thinking, cache)
		}
	}

	if lastErrStatus == http.StatusTooManyRequests {
		reset := int64(0)
		if minResetMs >= 0 {
			reset = minResetMs
		}
		c.pool.MarkRateLimited(acct.Email, reset)
		return nil, &errs.RateLimited{AccountID: acct.Email, ResetMs: reset}
	}

	return nil, &errs.Upstream{Status: lastErrStatus, Type: "upstream_error", Body: string(lastErrBody)}
}

func (c *Client) consume(ctx context.Context, resp *http.Response, acct *account.Account, model string, stream, thinking bool, cache *sigcache.Cache) (*Result, error) {
	defer resp.Body.Close()

	if !stream && !thinking {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &errs.Transport{Cause: err}
		}
		var vr wire.VendorResponse
		if err := json.Unmarshal(raw, &vr); err != nil {
			return nil, fmt.Errorf("parse vendor response: %w", err)
		}
		msg := convert.BuildMessagesResponse(vr, model, cache)
		return &Result{Account: acct, Model: model, NonStreaming: &msg, Usage: msg.Usage}, nil
	}

	// A thinking-capable model only exposes full content over SSE, even for
	// a non-streaming request: accumulate the vendor parts here, then either
	// emit them as Anthropic SSE events (if the client asked to stream) or
	// run them through the non-streaming converter once the vendor stream
	// ends (§4.7).
	scanner := NewSSEScanner(resp.Body)

	if !stream {
		acc := convert.NewPartAccumulator()
		for scanner.Scan() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			vr, ok := decodeDataLine(scanner.Text())
			if !ok {
				continue
			}
			acc.Feed(vr)
		}
		if err := scanner.Err(); err != nil {
			return nil, &errs.Transport{Cause: err}
		}
		msg := convert.BuildMessagesResponse(acc.Build(), model, cache)
		return &Result{Account: acct, Model: model, NonStreaming: &msg, Usage: msg.Usage}, nil
	}

	state := convert.NewStreamState(model, cache)
	var events []convert.StreamEvent

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vr, ok := decodeDataLine(scanner.Text())
		if !ok {
			continue
		}
		events = append(events, state.Feed(vr)...)
	}
	if err := scanner.Err(); err != nil {
		return nil, &errs.Transport{Cause: err}
	}
	events = append(events, state.Finish()...)

	return &Result{Account: acct, Model: model, Events: events, Usage: state.Usage()}, nil
}

func decodeDataLine(line string) (wire.VendorResponse, bool) {
	var vr wire.VendorResponse
	if len(line) < 5 || line[:5] != "data:" {
		return vr, false
	}
	payload := trimDataPrefix(line)
	if payload == "" || payload == "[DONE]" {
		return vr, false
	}
	if err := json.Unmarshal([]byte(payload), &vr); err != nil {
		return vr, false
	}
	return vr, true
}

func trimDataPrefix(line string) string {
	rest := line[5:]
	for len(rest) > 0 && (rest[0] == ' ' || rest[0] == '\t') {
		rest = rest[1:]
	}
	return rest
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
