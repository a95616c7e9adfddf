package upstream

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ParseResetMs extracts a rate-limit reset delay in milliseconds from an
// upstream 429 response, in the precedence order §4.10 specifies: response
// headers first, then the error body/message text. A negative or zero
// result is discarded (returns 0, false).
func ParseResetMs(header http.Header, body []byte) (int64, bool) {
	if ms, ok := fromHeaders(header); ok {
		return ms, true
	}
	return fromText(string(body))
}

func fromHeaders(h http.Header) (int64, bool) {
	if v := h.Get("Retry-After"); v != "" {
		if ms, ok := parseRetryAfter(v); ok {
			return ms, true
		}
	}
	if v := h.Get("x-ratelimit-reset"); v != "" {
		if secs, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			ms := secs*1000 - time.Now().UnixMilli()
			if ms > 0 {
				return ms, true
			}
		}
	}
	if v := h.Get("x-ratelimit-reset-after"); v != "" {
		if secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && secs > 0 {
			return int64(secs * 1000), true
		}
	}
	return 0, false
}

func parseRetryAfter(v string) (int64, bool) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		if secs <= 0 {
			return 0, false
		}
		return secs * 1000, true
	}
	if t, err := http.ParseTime(v); err == nil {
		ms := time.Until(t).Milliseconds()
		if ms > 0 {
			return ms, true
		}
	}
	return 0, false
}

var (
	retryDelaySecondsPattern = regexp.MustCompile(`(?i)"?retry(?:-after-ms|Delay)"?\s*[:=]\s*"?(\d+(?:\.\d+)?)s"?`)
	retryDelayMillisPattern  = regexp.MustCompile(`(?i)"?retry(?:-after-ms|Delay)"?\s*[:=]\s*"?(\d+)(?:ms)?"?`)
	retryAfterSecPattern     = regexp.MustCompile(`(?i)retry\s*after\s*(\d+)\s*(?:sec|s)\b`)
	durationPattern          = regexp.MustCompile(`\b(\d+h)?(\d+m)?(\d+(?:\.\d+)?s)\b`)
	isoResetPattern          = regexp.MustCompile(`(?i)reset\D{0,10}(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2}))`)
)

func fromText(text string) (int64, bool) {
	if text == "" {
		return 0, false
	}

	if m := retryDelaySecondsPattern.FindStringSubmatch(text); m != nil {
		if secs, err := strconv.ParseFloat(m[1], 64); err == nil && secs > 0 {
			return int64(secs * 1000), true
		}
	}
	if m := retryDelayMillisPattern.FindStringSubmatch(text); m != nil {
		if ms, err := strconv.ParseInt(m[1], 10, 64); err == nil && ms > 0 {
			return ms, true
		}
	}
	if m := retryAfterSecPattern.FindStringSubmatch(text); m != nil {
		if secs, err := strconv.ParseInt(m[1], 10, 64); err == nil && secs > 0 {
			return secs * 1000, true
		}
	}
	if m := durationPattern.FindStringSubmatch(text); m != nil && m[0] != "" {
		if d, err := time.ParseDuration(normalizeDuration(m)); err == nil && d > 0 {
			return d.Milliseconds(), true
		}
	}
	if m := isoResetPattern.FindStringSubmatch(text); m != nil {
		if t, err := time.Parse(time.RFC3339, m[1]); err == nil {
			ms := time.Until(t).Milliseconds()
			if ms > 0 {
				return ms, true
			}
		}
	}
	return 0, false
}

// normalizeDuration rebuilds a Go-parseable duration string from the
// matched hour/minute/second groups, since any of them may be absent.
func normalizeDuration(m []string) string {
	var b strings.Builder
	for _, g := range m[1:] {
		b.WriteString(g)
	}
	return b.String()
}
