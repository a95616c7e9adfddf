// Package sigcache implements the thinking-signature cache (component C2):
// a time-bounded map from tool_use id to the opaque reasoning token ("thought
// signature") the upstream requires to accept prior reasoning on a follow-up
// turn. Pure optimization — recovers signatures that clients strip on the
// round trip.
package sigcache

import (
	"time"

	"github.com/yansir/cc-relayer/internal/store"
)

// TTL is fixed at 2 hours per the data model (§3).
const TTL = 2 * time.Hour

// Cache wraps a generic TTL map, adapted from the teacher's per-session
// signature cache (internal/identity/signature.go) but re-keyed directly by
// tool_use id instead of sha256(sessionID+thinkingText), since the design's
// SignatureCache is keyed purely on tool_use_id (§3, §4.2).
type Cache struct {
	m *store.TTLMap[string]
}

func New() *Cache {
	return &Cache{m: store.NewTTLMap[string]()}
}

// Put stores a signature for a tool_use id. No-op if either is empty.
func (c *Cache) Put(id, signature string) {
	if id == "" || signature == "" {
		return
	}
	c.m.Set(id, signature, TTL)
}

// Get returns the most recently stored signature for id, if it has not
// expired. Expiry is lazy: checked on read.
func (c *Cache) Get(id string) (string, bool) {
	if id == "" {
		return "", false
	}
	return c.m.Get(id)
}

// Sweep removes expired entries. Safe to call periodically or not at all —
// Get already performs lazy expiry.
func (c *Cache) Sweep() {
	c.m.Cleanup()
}
