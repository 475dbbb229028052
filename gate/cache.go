package gate

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
)

// Fingerprint derives the cache key for a request: the provider name, the
// normalized request text and the content hash of any attachment, hashed
// together. Requests that differ only in insignificant whitespace map to
// the same fingerprint; requests aimed at different providers never do.
func Fingerprint(provider, text, contentHash string) string {
	h := sha256.New()
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeText(text)))
	h.Write([]byte{0})
	h.Write([]byte(contentHash))
	return hex.EncodeToString(h.Sum(nil))
}

// ResponseCache stores successful provider responses keyed by request
// fingerprint. Failures are never stored, so a cached entry always replays
// a real success. The cache is unbounded; it lives for one process run.
type ResponseCache struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewResponseCache creates an empty response cache.
func NewResponseCache() *ResponseCache {
	return &ResponseCache{entries: make(map[string]string)}
}

// Get returns the cached body for a fingerprint, if present.
func (c *ResponseCache) Get(fingerprint string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	body, ok := c.entries[fingerprint]
	return body, ok
}

// Put stores a successful response body under its fingerprint.
func (c *ResponseCache) Put(fingerprint, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fingerprint] = body
	slog.Debug("Response cached", "fingerprint", fingerprint, "size", len(c.entries))
}

// Len returns the number of cached entries.
func (c *ResponseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
