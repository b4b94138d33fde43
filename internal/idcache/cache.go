// Package idcache keeps the member IDs of a collection so repeated runs over
// the same window skip discovery.
package idcache

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/sro-registry-crawler/internal/registry"
)

// Source discovers IDs; discovery.Collector implements it.
type Source interface {
	Name() string
	Collect(ctx context.Context, filters registry.Filters) (registry.IDSet, error)
}

// Store persists ID lists under a key.
type Store interface {
	Load(ctx context.Context, key string) ([]int64, bool, error)
	Save(ctx context.Context, key string, ids []int64) error
}

// Hasher fingerprints the filter set.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Cache is a read-through cache in front of a Source.
type Cache struct {
	source Source
	store  Store
	hasher Hasher
	logger *zap.Logger
}

// New builds a Cache.
func New(source Source, store Store, hasher Hasher, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{source: source, store: store, hasher: hasher, logger: logger.Named("idcache")}
}

// Key returns the storage key for filters.
func (c *Cache) Key(filters registry.Filters) (string, error) {
	key := c.source.Name()
	fp, err := filters.Fingerprint()
	if err != nil {
		return "", err
	}
	if len(fp) == 0 {
		return key, nil
	}
	digest, err := c.hasher.Hash(fp)
	if err != nil {
		return "", fmt.Errorf("hash filters: %w", err)
	}
	return key + "_" + digest, nil
}

// GetIDs returns the sorted IDs for filters. With useCache and an existing
// entry no discovery happens; otherwise the entry is rebuilt.
func (c *Cache) GetIDs(ctx context.Context, filters registry.Filters, useCache bool) ([]int64, error) {
	key, err := c.Key(filters)
	if err != nil {
		return nil, err
	}
	logger := c.logger.With(zap.String("key", key))

	if useCache {
		ids, ok, err := c.store.Load(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("load id cache %s: %w", key, err)
		}
		if ok {
			ids = registry.NewIDSet(ids...).Sorted()
			logger.Info("ids loaded from cache", zap.Int("ids", len(ids)))
			return ids, nil
		}
	}

	set, err := c.source.Collect(ctx, filters)
	if err != nil {
		return nil, err
	}
	ids := set.Sorted()
	if err := c.store.Save(ctx, key, ids); err != nil {
		return nil, fmt.Errorf("save id cache %s: %w", key, err)
	}
	logger.Info("id cache refreshed", zap.Int("ids", len(ids)))
	return ids, nil
}

// Encode renders ids one decimal per line.
func Encode(ids []int64) []byte {
	var buf bytes.Buffer
	for _, id := range ids {
		buf.WriteString(strconv.FormatInt(id, 10))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Decode parses the line format written by Encode. Blank lines are skipped.
func Decode(data []byte) ([]int64, error) {
	var ids []int64
	sc := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		id, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ids = append(ids, id)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan ids: %w", err)
	}
	return slices.Clip(ids), nil
}
