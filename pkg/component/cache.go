// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

package component

import (
	"strconv"

	"go.uber.org/zap"

	"sampledb.io/sampledb/storage"
)

// CacheBucket is the bucket name used for a bolt-backed existence cache.
const CacheBucket = "components"

// Cache is a key/value backed existence cache for components. Cache failures
// degrade to database lookups and are only logged.
type Cache struct {
	log   *zap.Logger
	store storage.KeyValueStore
}

// NewCache creates an existence cache on top of a key/value store.
func NewCache(log *zap.Logger, store storage.KeyValueStore) *Cache {
	return &Cache{log: log, store: store}
}

func cacheKey(id int64) storage.Key {
	return storage.Key("component/" + strconv.FormatInt(id, 10))
}

// Lookup returns (exists, hit). A miss means the caller should consult the
// database.
func (cache *Cache) Lookup(id int64) (exists, hit bool) {
	value, err := cache.store.Get(cacheKey(id))
	if err != nil {
		if !storage.ErrKeyNotFound.Has(err) {
			cache.log.Debug("component cache lookup failed", zap.Error(err))
		}
		return false, false
	}
	return len(value) == 1 && value[0] == '1', true
}

// Store records that a component id exists.
func (cache *Cache) Store(id int64) {
	if err := cache.store.Put(cacheKey(id), storage.Value("1")); err != nil {
		cache.log.Debug("component cache store failed", zap.Error(err))
	}
}

// Invalidate drops a cached entry.
func (cache *Cache) Invalidate(id int64) {
	if err := cache.store.Delete(cacheKey(id)); err != nil && !storage.ErrKeyNotFound.Has(err) {
		cache.log.Debug("component cache invalidate failed", zap.Error(err))
	}
}

// Close closes the underlying store.
func (cache *Cache) Close() error { return cache.store.Close() }
