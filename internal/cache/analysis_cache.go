// Package cache keeps recent analysis responses keyed by a digest of the
// document text and the prompt version that produced them.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"
)

type Entry struct {
	Value         json.RawMessage
	ModelID       string
	PromptVersion string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

type Config struct {
	TTL        time.Duration
	MaxEntries int
	Now        func() time.Time
}

type slot struct {
	signature string
	entry     Entry
}

// AnalysisCache is a bounded LRU with per-entry expiry. Values are copied on
// the way in and out.
type AnalysisCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	limit   int
	now     func() time.Time
	order   *list.List
	entries map[string]*list.Element
}

func NewAnalysisCache(config Config) *AnalysisCache {
	c := &AnalysisCache{
		ttl:     config.TTL,
		limit:   config.MaxEntries,
		now:     config.Now,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
	if c.ttl <= 0 {
		c.ttl = time.Hour
	}
	if c.limit <= 0 {
		c.limit = 500
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

func (c *AnalysisCache) Get(signature string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.entries[signature]
	if !ok {
		return Entry{}, false
	}
	stored := element.Value.(*slot)
	if !c.now().Before(stored.entry.ExpiresAt) {
		c.remove(element)
		return Entry{}, false
	}
	c.order.MoveToFront(element)

	entry := stored.entry
	entry.Value = append(json.RawMessage(nil), entry.Value...)
	return entry, true
}

func (c *AnalysisCache) Set(signature string, entry Entry) {
	now := c.now()
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(c.ttl)
	entry.Value = append(json.RawMessage(nil), entry.Value...)

	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.entries[signature]; ok {
		element.Value.(*slot).entry = entry
		c.order.MoveToFront(element)
		return
	}
	for c.order.Len() >= c.limit {
		c.remove(c.order.Back())
	}
	c.entries[signature] = c.order.PushFront(&slot{signature: signature, entry: entry})
}

func (c *AnalysisCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *AnalysisCache) remove(element *list.Element) {
	c.order.Remove(element)
	delete(c.entries, element.Value.(*slot).signature)
}

// Signature hashes the parts verbatim, NUL separated. Document content is
// case and whitespace sensitive, so nothing is normalized.
func Signature(parts ...string) string {
	hash := sha256.New()
	for _, part := range parts {
		hash.Write([]byte(part))
		hash.Write([]byte{0})
	}
	return hex.EncodeToString(hash.Sum(nil))
}

// KeyPrefix shortens a signature for logs.
func KeyPrefix(signature string) string {
	if len(signature) > 12 {
		return signature[:12]
	}
	return signature
}
