// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rcfstore implements the shared storage layer of a random
// cut forest: an IndexManager that hands out integer slots from a
// bounded capacity, and a reference-counted PointStore that
// de-duplicates the numeric payloads shared across all trees.
package rcfstore

import (
	"errors"
	"fmt"
)

var (
	ErrExhaustedCapacity = errors.New("capacity exhausted")
	ErrInvalidHandle     = errors.New("invalid handle")
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// An IndexManager hands out integers in [0, capacity) such that each
// outstanding integer is unique, and recycles released integers.
//
// Free space is kept as a stack of disjoint inclusive intervals
// [start[i], end[i]], stored in two parallel slices; Take pops from
// the top interval, and Release either extends an adjacent top
// interval or pushes a new unit interval.
type IndexManager struct {
	capacity int32
	occupied int32

	// freeStart and freeEnd are parallel; freeStart[i] <= freeEnd[i].
	freeStart []int32
	freeEnd   []int32
}

// NewIndexManager returns an IndexManager with all of [0, capacity)
// free.
func NewIndexManager(capacity int) *IndexManager {
	if capacity < 1 {
		panic(fmt.Errorf("rcfstore.NewIndexManager: capacity=%v is not positive", capacity))
	}
	return &IndexManager{
		capacity:  int32(capacity),
		freeStart: []int32{0},
		freeEnd:   []int32{int32(capacity) - 1},
	}
}

// NewIndexManagerFromBitset reconstructs an IndexManager from a
// bitset of occupied slots, such as when deserializing a store.
func NewIndexManagerFromBitset(occupied []bool) *IndexManager {
	m := &IndexManager{
		capacity: int32(len(occupied)),
	}
	// Scan for maximal runs of free slots, lowest-first, so that
	// the top of the stack is the highest free interval.
	for lo := int32(0); lo < m.capacity; lo++ {
		if occupied[lo] {
			m.occupied++
			continue
		}
		hi := lo
		for hi+1 < m.capacity && !occupied[hi+1] {
			hi++
		}
		m.freeStart = append(m.freeStart, lo)
		m.freeEnd = append(m.freeEnd, hi)
		lo = hi
	}
	return m
}

func (m *IndexManager) Capacity() int { return int(m.capacity) }
func (m *IndexManager) Occupied() int { return int(m.occupied) }

// Take returns a free index, marking it occupied.  It returns
// ErrExhaustedCapacity if no free index remains.
func (m *IndexManager) Take() (int32, error) {
	top := len(m.freeStart) - 1
	if top < 0 {
		return 0, fmt.Errorf("rcfstore.IndexManager.Take: %w", ErrExhaustedCapacity)
	}
	idx := m.freeEnd[top]
	if m.freeStart[top] == m.freeEnd[top] {
		m.freeStart = m.freeStart[:top]
		m.freeEnd = m.freeEnd[:top]
	} else {
		m.freeEnd[top]--
	}
	m.occupied++
	return idx, nil
}

// Release returns an index to the free pool.  Releasing an index that
// is out of range or already free is a bug in the caller, and panics.
func (m *IndexManager) Release(idx int32) {
	if idx < 0 || idx >= m.capacity {
		panic(fmt.Errorf("rcfstore.IndexManager.Release: index %v out of range [0,%v)", idx, m.capacity))
	}
	if m.IsFree(idx) {
		panic(fmt.Errorf("rcfstore.IndexManager.Release: index %v is already free", idx))
	}
	m.occupied--
	if top := len(m.freeStart) - 1; top >= 0 {
		switch {
		case idx == m.freeEnd[top]+1:
			m.freeEnd[top] = idx
			return
		case idx == m.freeStart[top]-1:
			m.freeStart[top] = idx
			return
		}
	}
	m.freeStart = append(m.freeStart, idx)
	m.freeEnd = append(m.freeEnd, idx)
}

// Extend grows the capacity to newCapacity, appending the new slots
// to the free pool.
func (m *IndexManager) Extend(newCapacity int) {
	if int32(newCapacity) <= m.capacity {
		return
	}
	m.freeStart = append(m.freeStart, m.capacity)
	m.freeEnd = append(m.freeEnd, int32(newCapacity)-1)
	m.capacity = int32(newCapacity)
}

// IsFree reports whether idx is currently free.
func (m *IndexManager) IsFree(idx int32) bool {
	for i := range m.freeStart {
		if m.freeStart[i] <= idx && idx <= m.freeEnd[i] {
			return true
		}
	}
	return false
}

// OccupiedBitset returns a bitset of occupied slots, suitable for
// NewIndexManagerFromBitset.
func (m *IndexManager) OccupiedBitset() []bool {
	ret := make([]bool, m.capacity)
	for i := range ret {
		ret[i] = true
	}
	for i := range m.freeStart {
		for idx := m.freeStart[i]; idx <= m.freeEnd[i]; idx++ {
			ret[idx] = false
		}
	}
	return ret
}
