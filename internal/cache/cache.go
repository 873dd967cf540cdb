// Package cache is the read-through memo in front of the availability
// engine. Entries expire a fixed interval after insertion regardless of
// access; capacity overflow evicts the least recently used entry and a hit
// refreshes recency. Any reservation mutation or catalog reload purges the
// whole cache: mutations are rare relative to reads, so coarse invalidation
// buys correctness cheaply.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ulvgard/procplan/internal/models"
)

const (
	DefaultCapacity = 64
	DefaultTTL      = 30 * time.Second
)

// Key identifies one memoized grid. Window bounds are unix seconds so the
// key stays comparable and free of monotonic-clock noise.
type Key struct {
	NodeID     string
	Start      int64
	End        int64
	Resolution models.Resolution
}

func NewKey(nodeID string, start, end time.Time, resolution models.Resolution) Key {
	return Key{
		NodeID:     nodeID,
		Start:      start.UTC().Unix(),
		End:        end.UTC().Unix(),
		Resolution: resolution,
	}
}

type Cache struct {
	lru *expirable.LRU[Key, *models.Availability]
}

func New(capacity int, ttl time.Duration) *Cache {
	return &Cache{lru: expirable.NewLRU[Key, *models.Availability](capacity, nil, ttl)}
}

func (c *Cache) Get(key Key) (*models.Availability, bool) {
	return c.lru.Get(key)
}

func (c *Cache) Put(key Key, grid *models.Availability) {
	c.lru.Add(key, grid)
}

// Purge drops every entry. Called on create, complete, cancel and reload.
func (c *Cache) Purge() {
	c.lru.Purge()
}

func (c *Cache) Len() int {
	return c.lru.Len()
}
