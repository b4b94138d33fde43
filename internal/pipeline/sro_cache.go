package pipeline

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/sro-registry-crawler/internal/metrics"
	"github.com/JakeFAU/sro-registry-crawler/internal/registry"
)

// SROFetcher loads one SRO descriptor.
type SROFetcher interface {
	FetchSRO(ctx context.Context, id int64) (registry.SRO, error)
}

// SROCache is a read-through cache of SRO descriptors owned by one Engine.
// Concurrent misses for the same key share one fetch.
type SROCache struct {
	service string
	fetcher SROFetcher

	mu      sync.RWMutex
	entries map[int64]registry.SRO
	group   singleflight.Group
}

// NewSROCache builds an empty cache in front of fetcher.
func NewSROCache(service string, fetcher SROFetcher) *SROCache {
	return &SROCache{
		service: service,
		fetcher: fetcher,
		entries: make(map[int64]registry.SRO),
	}
}

// Get returns the descriptor for id, fetching it on a miss.
func (c *SROCache) Get(ctx context.Context, id int64) (registry.SRO, error) {
	c.mu.RLock()
	sro, ok := c.entries[id]
	c.mu.RUnlock()
	metrics.ObserveSROLookup(c.service, ok)
	if ok {
		return sro, nil
	}

	v, err, _ := c.group.Do(strconv.FormatInt(id, 10), func() (any, error) {
		c.mu.RLock()
		cached, ok := c.entries[id]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}
		fetched, err := c.fetcher.FetchSRO(ctx, id)
		if err != nil {
			return registry.SRO{}, err
		}
		c.mu.Lock()
		c.entries[id] = fetched
		c.mu.Unlock()
		return fetched, nil
	})
	if err != nil {
		return registry.SRO{}, err
	}
	return v.(registry.SRO), nil
}

// Len reports the number of cached descriptors.
func (c *SROCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
