// Copyright (C) 2024 SampleDB Authors.
// See LICENSE for copying information.

// Package testrand implements generating random base types for testing.
package testrand

import (
	"encoding/hex"
	"math/rand"

	"github.com/google/uuid"
)

// Read reads pseudo-random data into data.
func Read(data []byte) {
	src := rand.NewSource(rand.Int63())
	r := rand.New(src)
	_, _ = r.Read(data)
}

// BytesN generates size amount of random data.
func BytesN(size int) []byte {
	data := make([]byte, size)
	Read(data)
	return data
}

// UUID creates a random uuid.
func UUID() uuid.UUID {
	var id uuid.UUID
	Read(id[:])
	id[6] = (id[6] & 0x0f) | 0x40
	id[8] = (id[8] & 0x3f) | 0x80
	return id
}

// Token creates a random 64 character hex federation token.
func Token() string {
	return hex.EncodeToString(BytesN(32))
}
