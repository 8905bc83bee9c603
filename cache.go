package main

import (
	"sync"
	"time"
)

// PageCache provides thread-safe TTL caching for fetched URL content,
// keyed by URL.
type PageCache struct {
	mu      sync.RWMutex
	entries map[string]pageEntry
	ttl     time.Duration
}

type pageEntry struct {
	content   string
	fetchedAt time.Time
}

// NewPageCache creates a new page cache with the specified TTL
func NewPageCache(ttl time.Duration) *PageCache {
	return &PageCache{
		entries: make(map[string]pageEntry),
		ttl:     ttl,
	}
}

// Get retrieves cached content for a URL if present and not expired.
func (c *PageCache) Get(url string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[url]
	if !ok {
		return "", false
	}
	if time.Since(entry.fetchedAt) > c.ttl {
		return "", false
	}
	return entry.content, true
}

// Set stores content for a URL, resetting its TTL.
func (c *PageCache) Set(url, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[url] = pageEntry{
		content:   content,
		fetchedAt: time.Now(),
	}
}

// Clear drops every cached page.
func (c *PageCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]pageEntry)
}

// Size returns the number of cached pages, expired entries included.
func (c *PageCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}
