// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

// Package teststore implements an in-memory key value store for tests.
package teststore

import (
	"sort"

	"sampledb.io/sampledb/storage"
)

// Client implements an in-memory key value store.
type Client struct {
	Items     []storage.ListItem
	CallCount struct {
		Get    int
		Put    int
		List   int
		Delete int
		Close  int
	}
}

// New creates a new in-memory key-value store.
func New() *Client { return &Client{} }

// indexOf finds index of key or where it could be inserted.
func (store *Client) indexOf(key storage.Key) (int, bool) {
	i := sort.Search(len(store.Items), func(k int) bool {
		return !store.Items[k].Key.Less(key)
	})

	if i >= len(store.Items) {
		return i, false
	}
	return i, store.Items[i].Key.Equal(key)
}

// Put adds a value to store.
func (store *Client) Put(key storage.Key, value storage.Value) error {
	store.CallCount.Put++
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}

	keyIndex, found := store.indexOf(key)
	if found {
		kv := &store.Items[keyIndex]
		kv.Value = storage.CloneValue(value)
		return nil
	}

	store.Items = append(store.Items, storage.ListItem{})
	copy(store.Items[keyIndex+1:], store.Items[keyIndex:])
	store.Items[keyIndex] = storage.ListItem{
		Key:   storage.CloneKey(key),
		Value: storage.CloneValue(value),
	}

	return nil
}

// Get gets a value from the store.
func (store *Client) Get(key storage.Key) (storage.Value, error) {
	store.CallCount.Get++
	if key.IsZero() {
		return nil, storage.ErrEmptyKey.New("")
	}

	keyIndex, found := store.indexOf(key)
	if !found {
		return nil, storage.ErrKeyNotFound.New("%q", key)
	}

	return storage.CloneValue(store.Items[keyIndex].Value), nil
}

// List lists up to limit keys starting from first.
func (store *Client) List(first storage.Key, limit storage.Limit) (storage.Keys, error) {
	store.CallCount.List++

	start, _ := store.indexOf(first)
	var keys storage.Keys
	for i := start; i < len(store.Items); i++ {
		keys = append(keys, storage.CloneKey(store.Items[i].Key))
		if limit > 0 && storage.Limit(len(keys)) >= limit {
			break
		}
	}
	return keys, nil
}

// Delete deletes key and the value.
func (store *Client) Delete(key storage.Key) error {
	store.CallCount.Delete++
	keyIndex, found := store.indexOf(key)
	if !found {
		return storage.ErrKeyNotFound.New("%q", key)
	}

	copy(store.Items[keyIndex:], store.Items[keyIndex+1:])
	store.Items = store.Items[:len(store.Items)-1]
	return nil
}

// Close closes the store.
func (store *Client) Close() error {
	store.CallCount.Close++
	return nil
}
