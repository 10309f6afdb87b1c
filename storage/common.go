// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

// Package storage describes key/value stores like redis and boltdb,
// used by the federation core as the component existence cache.
package storage

import (
	"bytes"

	"github.com/zeebo/errs"
)

// ErrKeyNotFound is returned when a lookup misses.
var ErrKeyNotFound = errs.Class("key not found")

// ErrEmptyKey is returned when an empty key is used in Put or Get.
var ErrEmptyKey = errs.Class("empty key")

// Key is the type for the keys in a KeyValueStore.
type Key []byte

// Value is the type for the values in a KeyValueStore.
type Value []byte

// Keys is the type for a slice of keys in a KeyValueStore.
type Keys []Key

// Limit indicates how many keys to return when calling List.
type Limit int

// ListItem is a single item in the store.
type ListItem struct {
	Key   Key
	Value Value
}

// KeyValueStore is an interface describing key/value stores like redis and boltdb.
type KeyValueStore interface {
	// Put adds a value to the provided key, returning an error on failure.
	Put(Key, Value) error
	// Get returns the value for a key, ErrKeyNotFound otherwise.
	Get(Key) (Value, error)
	// List returns up to limit keys starting at first.
	List(first Key, limit Limit) (Keys, error)
	// Delete removes a key, ErrKeyNotFound when absent.
	Delete(Key) error
	// Close closes the store.
	Close() error
}

// IsZero returns true if the key struct is it's zero value.
func (k Key) IsZero() bool { return len(k) == 0 }

// String implements the Stringer interface.
func (k Key) String() string { return string(k) }

// Less returns whether key is smaller than b.
func (k Key) Less(b Key) bool { return bytes.Compare(k, b) < 0 }

// Equal returns whether key equals b.
func (k Key) Equal(b Key) bool { return bytes.Equal(k, b) }

// CloneKey creates a copy of key.
func CloneKey(key Key) Key { return append(Key{}, key...) }

// CloneValue creates a copy of value.
func CloneValue(value Value) Value { return append(Value{}, value...) }
