package storage

import (
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
)

// QueryResult is a decoded range read, in series time units.
type QueryResult struct {
	Times  []uint64
	Values [][]float32
}

type QueryCacheConfig struct {
	TTL      time.Duration `yaml:"ttl"`
	MaxItems uint64        `yaml:"max-items"`
}

// QueryCache keeps recently served range reads for a short while so
// dashboards polling the same window do not hit the disk every time.
// Entries expire on TTL rather than on append, which bounds staleness by
// the TTL.
type QueryCache struct {
	cache *ttlcache.Cache[uint64, QueryResult]
}

func NewQueryCache(config QueryCacheConfig) *QueryCache {
	cache := ttlcache.New(
		ttlcache.WithTTL[uint64, QueryResult](config.TTL),
		ttlcache.WithCapacity[uint64, QueryResult](config.MaxItems),
	)

	// start cleanup process to free up memory
	go cache.Start()
	return &QueryCache{cache: cache}
}

func (c *QueryCache) Get(query string) (QueryResult, bool) {
	item := c.cache.Get(xxhash.Sum64String(query))
	if item == nil {
		return QueryResult{}, false
	}
	return item.Value(), true
}

func (c *QueryCache) Set(query string, result QueryResult) {
	c.cache.Set(xxhash.Sum64String(query), result, ttlcache.DefaultTTL)
}

func (c *QueryCache) Stop() {
	c.cache.Stop()
}
