// Package seen is a time-bounded cache of chat line digests. The flood relay
// consults it so a line that comes back around a cycle of peers is dropped
// instead of being shown and forwarded again.
package seen

import (
	"crypto/sha256"
	"sync"
	"time"
)

const DefaultExpiry = 10 * time.Minute

type Digest [32]byte

// Of returns the digest of a chat line.
func Of(line string) Digest {
	return sha256.Sum256([]byte(line))
}

type Cache struct {
	mu      sync.Mutex
	entries map[Digest]time.Time
	expiry  time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// New starts a cache whose entries live for expiry. Close stops the reaper.
func New(expiry time.Duration) *Cache {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	c := &Cache{
		entries: make(map[Digest]time.Time),
		expiry:  expiry,
		stop:    make(chan struct{}),
	}
	go c.reap()
	return c
}

func (c *Cache) Has(d Digest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.entries[d]
	if !ok {
		return false
	}
	if time.Now().After(exp) {
		delete(c.entries, d)
		return false
	}
	return true
}

// Add records d and reports whether it was new.
func (c *Cache) Add(d Digest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if exp, ok := c.entries[d]; ok && time.Now().Before(exp) {
		return false
	}
	c.entries[d] = time.Now().Add(c.expiry)
	return true
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) reap() {
	ticker := time.NewTicker(c.expiry / 2)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for d, exp := range c.entries {
				if now.After(exp) {
					delete(c.entries, d)
				}
			}
			c.mu.Unlock()
		}
	}
}
