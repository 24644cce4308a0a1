// Package cache provides the in-memory TTL+LRU store shared by every tool.
package cache

import (
	"container/list"
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
)

type entry struct {
	key       string
	value     any
	expiresAt time.Time
}

// Cache is a bounded key/value store with absolute expiry. Eviction is
// insertion-ordered by default; NewLRU turns on move-to-front on read so
// eviction follows recency instead.
type Cache struct {
	mu           sync.Mutex
	capacity     int
	defaultTTL   time.Duration
	order        *list.List // front = newest
	items        map[string]*list.Element
	refreshOnGet bool
}

// New returns a cache evicting the oldest inserted entry once capacity is
// exceeded.
func New(capacity int, defaultTTL time.Duration) *Cache {
	return &Cache{
		capacity:   capacity,
		defaultTTL: defaultTTL,
		order:      list.New(),
		items:      make(map[string]*list.Element),
	}
}

// NewLRU returns a cache that additionally refreshes an entry's position on
// every hit, yielding strict least-recently-used eviction.
func NewLRU(capacity int, defaultTTL time.Duration) *Cache {
	c := New(capacity, defaultTTL)
	c.refreshOnGet = true
	return c
}

// Get returns the live value for key, purging it first when expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	ent := el.Value.(*entry)
	if time.Now().After(ent.expiresAt) {
		c.order.Remove(el)
		delete(c.items, key)
		return nil, false
	}
	if c.refreshOnGet {
		c.order.MoveToFront(el)
	}
	return ent.value, true
}

// Set stores value under key for ttl (the default TTL when ttl <= 0) and
// trims the oldest entries while the store exceeds its capacity.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		ent := el.Value.(*entry)
		ent.value = value
		ent.expiresAt = time.Now().Add(ttl)
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&entry{key: key, value: value, expiresAt: time.Now().Add(ttl)})
	c.items[key] = el
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*entry).key)
	}
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

// Len reports the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Purge drops every entry whose expiry has passed and reports how many were
// removed.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		ent := el.Value.(*entry)
		if now.After(ent.expiresAt) {
			c.order.Remove(el)
			delete(c.items, ent.key)
			removed++
		}
		el = prev
	}
	return removed
}

// Janitor sweeps expired entries from a set of caches on a cron schedule.
type Janitor struct {
	expr   *cronexpr.Expression
	caches []*Cache
	logger *log.Logger
}

// NewJanitor parses spec as a cron expression ("* * * * *" sweeps every
// minute).
func NewJanitor(spec string, logger *log.Logger, caches ...*Cache) (*Janitor, error) {
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[CACHE] ", log.LstdFlags)
	}
	return &Janitor{expr: expr, caches: caches, logger: logger}, nil
}

// Run blocks until ctx is done, sweeping at each scheduled tick.
func (j *Janitor) Run(ctx context.Context) {
	for {
		next := j.expr.Next(time.Now())
		if next.IsZero() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}
		total := 0
		for _, c := range j.caches {
			total += c.Purge()
		}
		if total > 0 {
			j.logger.Printf("swept %d expired entries", total)
		}
	}
}
