// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

// Package registry provides a slot table that issues generation-tagged
// tokens for the values it stores.
package registry

import (
	"math"

	"github.com/pkg/errors"
)

// Errors reported by table operations.
var (
	// ErrStale marks a token whose value has been removed.
	ErrStale = errors.New("token is stale")
	// ErrUnknown marks a token the table never issued.
	ErrUnknown = errors.New("token is unknown")
	// ErrFull marks an insert beyond the table limit.
	ErrFull = errors.New("table is full")
)

// Pack combines a slot index and a generation into a token. Generation zero
// is never issued, so the zero token is always invalid.
func Pack(slot, gen uint32) uint64 {
	return uint64(gen)<<32 | uint64(slot)
}

// Slot extracts the slot index of a token.
func Slot(token uint64) uint32 {
	return uint32(token)
}

// Generation extracts the generation of a token.
func Generation(token uint64) uint32 {
	return uint32(token >> 32)
}

type slot[V any] struct {
	value V
	gen   uint32
	live  bool
}

// Table stores values in reusable slots and hands out one token per insert.
// A token stays valid until its value is removed. Freed slots are reused
// under a fresh generation, so a token of a removed value keeps failing
// lookups with ErrStale even after its slot holds a new value. Tokens that
// were never issued fail with ErrUnknown instead.
//
// Table is not safe for concurrent use.
type Table[V any] struct {
	slots []slot[V]
	free  []uint32
	limit int
	count int
}

// New creates a Table. limit caps the number of live values, zero or
// negative means no limit.
func New[V any](limit int) *Table[V] {
	return &Table[V]{limit: limit}
}

// Insert stores v and returns the token that identifies it.
func (t *Table[V]) Insert(v V) (uint64, error) {
	if t.limit > 0 && t.count >= t.limit {
		return 0, ErrFull
	}
	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		s := &t.slots[idx]
		s.value = v
		s.live = true
		t.count++
		return Pack(idx, s.gen), nil
	}
	if uint64(len(t.slots)) > math.MaxUint32 {
		return 0, ErrFull
	}
	t.slots = append(t.slots, slot[V]{value: v, gen: 1, live: true})
	t.count++
	return Pack(uint32(len(t.slots)-1), 1), nil
}

// Get returns the value identified by token.
func (t *Table[V]) Get(token uint64) (V, error) {
	var zero V
	s, err := t.lookup(token)
	if err != nil {
		return zero, err
	}
	return s.value, nil
}

// Remove drops the value identified by token and retires the token.
func (t *Table[V]) Remove(token uint64) (V, error) {
	var zero V
	s, err := t.lookup(token)
	if err != nil {
		return zero, err
	}
	v := s.value
	s.value = zero
	s.live = false
	s.gen++
	if s.gen == 0 { // generation zero stays reserved for the invalid token
		s.gen = 1
	}
	t.count--
	t.free = append(t.free, Slot(token))
	return v, nil
}

func (t *Table[V]) lookup(token uint64) (*slot[V], error) {
	idx, gen := Slot(token), Generation(token)
	if gen == 0 || uint64(idx) >= uint64(len(t.slots)) {
		return nil, ErrUnknown
	}
	s := &t.slots[idx]
	if s.live && s.gen == gen {
		return s, nil
	}
	// A live slot has issued every generation up to the current one, a dead
	// slot everything below the stored one.
	if gen < s.gen {
		return nil, ErrStale
	}
	return nil, ErrUnknown
}

// Len returns the number of live values.
func (t *Table[V]) Len() int {
	return t.count
}

// ForEach calls fn for every live value until fn returns false. The table
// must not be mutated during the walk.
func (t *Table[V]) ForEach(fn func(token uint64, v V) bool) {
	for i := range t.slots {
		s := &t.slots[i]
		if !s.live {
			continue
		}
		if !fn(Pack(uint32(i), s.gen), s.value) {
			return
		}
	}
}
