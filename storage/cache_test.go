package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueryCacheHitAndMiss(t *testing.T) {
	cache := NewQueryCache(QueryCacheConfig{TTL: time.Minute, MaxItems: 16})
	defer cache.Stop()

	result := QueryResult{
		Times:  []uint64{1, 2, 3},
		Values: [][]float32{{1}, {2}, {3}},
	}
	cache.Set("home/kitchen/s8/co2|0|100|10", result)

	got, ok := cache.Get("home/kitchen/s8/co2|0|100|10")
	assert.True(t, ok)
	assert.Equal(t, result, got)

	_, ok = cache.Get("home/kitchen/s8/co2|0|100|20")
	assert.False(t, ok)
}

func TestQueryCacheExpires(t *testing.T) {
	cache := NewQueryCache(QueryCacheConfig{TTL: 20 * time.Millisecond, MaxItems: 16})
	defer cache.Stop()

	cache.Set("q", QueryResult{Times: []uint64{1}})
	time.Sleep(60 * time.Millisecond)

	_, ok := cache.Get("q")
	assert.False(t, ok)
}
