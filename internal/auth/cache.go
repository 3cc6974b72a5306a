package auth

import (
	"container/list"
	"sync"
	"time"
)

// tokenCache is an in-memory LRU cache from token hash to verified
// Principal. Entries are never served past their expiry and are evicted
// immediately on revocation. The cache TTL is configured shorter than the
// credential's own expiry, bounding how long a server-side role change can
// go unnoticed.
type tokenCache struct {
	maxEntries int
	ttl        time.Duration

	mu       sync.Mutex
	items    map[string]*list.Element
	eviction *list.List

	hits   int64
	misses int64
}

type tokenCacheEntry struct {
	hash      string
	principal *Principal
	expiresAt time.Time
}

func newTokenCache(maxEntries int, ttl time.Duration) *tokenCache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &tokenCache{
		maxEntries: maxEntries,
		ttl:        ttl,
		items:      make(map[string]*list.Element),
		eviction:   list.New(),
	}
}

// get returns the cached principal for a token hash, or nil on miss or
// expired entry.
func (c *tokenCache) get(hash string, now time.Time) *Principal {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[hash]
	if !ok {
		c.misses++
		return nil
	}

	entry := elem.Value.(*tokenCacheEntry)
	if now.After(entry.expiresAt) {
		c.removeElement(elem)
		c.misses++
		return nil
	}

	c.eviction.MoveToFront(elem)
	c.hits++
	return entry.principal
}

// set stores a verified principal. The entry expiry is the cache TTL capped
// at the credential's own expiry.
func (c *tokenCache) set(hash string, p *Principal, now time.Time) {
	expiresAt := now.Add(c.ttl)
	if !p.ExpiresAt.IsZero() && p.ExpiresAt.Before(expiresAt) {
		expiresAt = p.ExpiresAt
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[hash]; ok {
		entry := elem.Value.(*tokenCacheEntry)
		entry.principal = p
		entry.expiresAt = expiresAt
		c.eviction.MoveToFront(elem)
		return
	}

	if c.eviction.Len() >= c.maxEntries {
		if oldest := c.eviction.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}

	elem := c.eviction.PushFront(&tokenCacheEntry{
		hash:      hash,
		principal: p,
		expiresAt: expiresAt,
	})
	c.items[hash] = elem
}

// evict removes the entry for a token hash, if present.
func (c *tokenCache) evict(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[hash]; ok {
		c.removeElement(elem)
	}
}

// evictSubject removes every cache entry belonging to a subject. Used on
// role-change events so stale privileges do not survive until TTL expiry.
func (c *tokenCache) evictSubject(subjectID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var victims []*list.Element
	for elem := c.eviction.Front(); elem != nil; elem = elem.Next() {
		if elem.Value.(*tokenCacheEntry).principal.SubjectID == subjectID {
			victims = append(victims, elem)
		}
	}
	for _, elem := range victims {
		c.removeElement(elem)
	}
	return len(victims)
}

// purgeExpired drops all expired entries. Called periodically by the
// validator's janitor goroutine.
func (c *tokenCache) purgeExpired(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var victims []*list.Element
	for elem := c.eviction.Front(); elem != nil; elem = elem.Next() {
		if now.After(elem.Value.(*tokenCacheEntry).expiresAt) {
			victims = append(victims, elem)
		}
	}
	for _, elem := range victims {
		c.removeElement(elem)
	}
	return len(victims)
}

func (c *tokenCache) removeElement(elem *list.Element) {
	entry := elem.Value.(*tokenCacheEntry)
	delete(c.items, entry.hash)
	c.eviction.Remove(elem)
}

// size returns the current number of entries.
func (c *tokenCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// CacheStats holds token cache statistics for the operational endpoints.
type CacheStats struct {
	Size   int   `json:"size"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

func (c *tokenCache) stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Size:   len(c.items),
		Hits:   c.hits,
		Misses: c.misses,
	}
}
