package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// streamCache caches marshaled stream responses, keyed per request.
// Backend errors are absorbed: a failed Get is a cache miss and a failed Set
// is only logged, so cache trouble never turns into a failed stream request.
type streamCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string)
}

var _ streamCache = (*redisCache)(nil)

// redisCache is a streamCache backed by Redis, for setups where multiple
// instances of the service share their cached responses.
type redisCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func (c *redisCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false
	} else if err != nil {
		c.logger.Error("Couldn't get cache entry from Redis", zap.Error(err), zap.String("key", key))
		return "", false
	}
	return val, true
}

func (c *redisCache) Set(ctx context.Context, key, value string) {
	if err := c.rdb.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.logger.Error("Couldn't set cache entry in Redis", zap.Error(err), zap.String("key", key))
	}
}

var _ streamCache = (*badgerCache)(nil)

// badgerCache is a streamCache backed by a local BadgerDB, so cached
// responses survive service restarts without requiring a Redis server.
type badgerCache struct {
	db     *badger.DB
	ttl    time.Duration
	logger *zap.Logger
}

func (c *badgerCache) Get(ctx context.Context, key string) (string, bool) {
	var val string
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		valBytes, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		val = string(valBytes)
		return nil
	})
	if err == badger.ErrKeyNotFound {
		return "", false
	} else if err != nil {
		c.logger.Error("Couldn't get cache entry from BadgerDB", zap.Error(err), zap.String("key", key))
		return "", false
	}
	return val, true
}

func (c *badgerCache) Set(ctx context.Context, key, value string) {
	err := c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), []byte(value)).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		c.logger.Error("Couldn't set cache entry in BadgerDB", zap.Error(err), zap.String("key", key))
	}
}

var _ streamCache = (*memCache)(nil)

// memCache is an in-memory streamCache, the fallback when neither Redis nor
// a storage path is configured.
type memCache struct {
	cache  *gocache.Cache
	logger *zap.Logger
}

func (c *memCache) Get(ctx context.Context, key string) (string, bool) {
	valIface, found := c.cache.Get(key)
	if !found {
		return "", false
	}
	val, ok := valIface.(string)
	if !ok {
		c.logger.Error("Couldn't cast cached value to string", zap.String("type", fmt.Sprintf("%T", valIface)), zap.String("key", key))
		return "", false
	}
	return val, true
}

func (c *memCache) Set(ctx context.Context, key, value string) {
	c.cache.Set(key, value, gocache.DefaultExpiration)
}
