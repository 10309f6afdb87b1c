// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

// Package redis implements a redis-backed key/value store.
package redis

import (
	"sort"
	"time"

	"github.com/go-redis/redis"

	"sampledb.io/sampledb/storage"
)

const defaultTTL = 61 * time.Minute

// Client is the entrypoint into Redis.
type Client struct {
	db  *redis.Client
	TTL time.Duration
}

// NewClient returns a configured Client instance, verifying a successful
// connection to redis.
func NewClient(address, password string, db int) (*Client, error) {
	client := &Client{
		db: redis.NewClient(&redis.Options{
			Addr:     address,
			Password: password,
			DB:       db,
		}),
		TTL: defaultTTL,
	}

	// ping here to verify we are able to connect to redis with the initialized client.
	if err := client.db.Ping().Err(); err != nil {
		return nil, err
	}

	return client, nil
}

// Put adds a value to the provided key, with the client's expiration.
func (client *Client) Put(key storage.Key, value storage.Value) error {
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}
	return client.db.Set(key.String(), []byte(value), client.TTL).Err()
}

// Get looks up the provided key from redis, returning the value or an error.
func (client *Client) Get(key storage.Key) (storage.Value, error) {
	if key.IsZero() {
		return nil, storage.ErrEmptyKey.New("")
	}
	value, err := client.db.Get(key.String()).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrKeyNotFound.New("%q", key)
	}
	if err != nil {
		return nil, err
	}
	return storage.Value(value), nil
}

// List returns up to limit keys, lexically ordered, starting at first.
func (client *Client) List(first storage.Key, limit storage.Limit) (storage.Keys, error) {
	all, err := client.db.Keys("*").Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(all)

	var keys storage.Keys
	for _, k := range all {
		if !first.IsZero() && k < first.String() {
			continue
		}
		keys = append(keys, storage.Key(k))
		if limit > 0 && storage.Limit(len(keys)) >= limit {
			break
		}
	}
	return keys, nil
}

// Delete deletes a key/value pair from redis.
func (client *Client) Delete(key storage.Key) error {
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}
	deleted, err := client.db.Del(key.String()).Result()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return storage.ErrKeyNotFound.New("%q", key)
	}
	return nil
}

// Close closes a redis client.
func (client *Client) Close() error {
	return client.db.Close()
}
