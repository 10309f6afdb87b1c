// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

// Package boltdb implements a bolt-backed key/value store.
package boltdb

import (
	"time"

	"github.com/boltdb/bolt"
	"go.uber.org/zap"

	"sampledb.io/sampledb/storage"
)

var defaultTimeout = 1 * time.Second

const (
	// fileMode sets permissions so owner can read and write
	fileMode = 0600
)

// Client is the storage interface for the Bolt database.
type Client struct {
	logger *zap.Logger
	db     *bolt.DB
	Path   string
	Bucket []byte
}

// New instantiates a new BoltDB client given a file path and bucket name.
func New(logger *zap.Logger, path, bucket string) (*Client, error) {
	db, err := bolt.Open(path, fileMode, &bolt.Options{Timeout: defaultTimeout})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Client{
		logger: logger,
		db:     db,
		Path:   path,
		Bucket: []byte(bucket),
	}, nil
}

// Put adds a key/value to the bucket.
func (client *Client) Put(key storage.Key, value storage.Value) error {
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}
	return client.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(client.Bucket).Put(key, value)
	})
}

// Get looks up the provided key from the bucket, returning the value or an error.
func (client *Client) Get(key storage.Key) (storage.Value, error) {
	if key.IsZero() {
		return nil, storage.ErrEmptyKey.New("")
	}
	var value storage.Value
	err := client.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(client.Bucket).Get(key)
		if data == nil {
			return storage.ErrKeyNotFound.New("%q", key)
		}
		value = storage.CloneValue(storage.Value(data))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// List returns up to limit keys starting at first.
func (client *Client) List(first storage.Key, limit storage.Limit) (storage.Keys, error) {
	var keys storage.Keys
	err := client.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(client.Bucket).Cursor()

		var k []byte
		if first.IsZero() {
			k, _ = cursor.First()
		} else {
			k, _ = cursor.Seek(first)
		}
		for ; k != nil; k, _ = cursor.Next() {
			keys = append(keys, storage.CloneKey(storage.Key(k)))
			if limit > 0 && storage.Limit(len(keys)) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Delete deletes a key/value pair from the bucket.
func (client *Client) Delete(key storage.Key) error {
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}
	return client.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(client.Bucket).Get(key) == nil {
			return storage.ErrKeyNotFound.New("%q", key)
		}
		return tx.Bucket(client.Bucket).Delete(key)
	})
}

// Close closes a BoltDB client.
func (client *Client) Close() error {
	return client.db.Close()
}
