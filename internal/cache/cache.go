package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/b2bflash/crawler/pkg/models"
	"github.com/rs/zerolog/log"
)

// ProfileCache keeps analyzer probe results per domain with TTL and LRU
// eviction, so repeat companies on one domain within a batch skip the probe.
type ProfileCache struct {
	mu      sync.Mutex
	store   map[string]*list.Element
	lruList *list.List
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64
	done    chan struct{}
}

type entry struct {
	key       string
	profile   *models.SiteProfile
	expiresAt time.Time
}

// NewProfileCache creates the cache. A ttl of 0 disables caching entirely:
// Get always misses and Set is a no-op.
func NewProfileCache(maxSize int, ttl time.Duration) *ProfileCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	c := &ProfileCache{
		store:   make(map[string]*list.Element),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	if ttl > 0 {
		go c.cleanupExpired()
	}
	return c
}

// Get returns the cached profile for a domain, if fresh.
func (c *ProfileCache) Get(domain string) (*models.SiteProfile, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.store[domain]
	if !ok {
		c.misses++
		return nil, false
	}
	en := el.Value.(*entry)
	if time.Now().After(en.expiresAt) {
		c.lruList.Remove(el)
		delete(c.store, domain)
		c.misses++
		return nil, false
	}
	c.lruList.MoveToFront(el)
	c.hits++
	return en.profile, true
}

// Set stores a probe result for a domain.
func (c *ProfileCache) Set(domain string, profile *models.SiteProfile) {
	if c.ttl <= 0 || profile == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.store[domain]; ok {
		el.Value = &entry{key: domain, profile: profile, expiresAt: time.Now().Add(c.ttl)}
		c.lruList.MoveToFront(el)
		return
	}

	for c.lruList.Len() >= c.maxSize {
		back := c.lruList.Back()
		if back == nil {
			break
		}
		en := back.Value.(*entry)
		c.lruList.Remove(back)
		delete(c.store, en.key)
	}

	el := c.lruList.PushFront(&entry{key: domain, profile: profile, expiresAt: time.Now().Add(c.ttl)})
	c.store[domain] = el
}

// Stats returns hit/miss counters and the current entry count.
func (c *ProfileCache) Stats() (hits, misses uint64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.lruList.Len()
}

// Close stops the background cleanup goroutine.
func (c *ProfileCache) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (c *ProfileCache) cleanupExpired() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			var next *list.Element
			removed := 0
			for el := c.lruList.Front(); el != nil; el = next {
				next = el.Next()
				en := el.Value.(*entry)
				if now.After(en.expiresAt) {
					c.lruList.Remove(el)
					delete(c.store, en.key)
					removed++
				}
			}
			c.mu.Unlock()
			if removed > 0 {
				log.Debug().Int("removed", removed).Msg("Expired probe cache entries")
			}
		case <-c.done:
			return
		}
	}
}
