// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rcfstore

import (
	"fmt"
	"math"

	"golang.org/x/exp/constraints"
)

// StoreState is the serializable image of a Store: the packed data
// segment, per-handle locations and reference counts, and the
// occupancy bitset the free-slot intervals are rebuilt from.
type StoreState struct {
	Config    StoreConfig
	Data      []byte // packed little-endian IEEE 754 values
	Locations []int32
	RefCounts []uint16
	Occupied  []bool
	FreeSeg   int32
}

// State captures s.
func (s *Store[T]) State() StoreState {
	width := floatWidth[T]()
	data := make([]byte, int(s.freeSeg)*width)
	for i := 0; i < int(s.freeSeg); i++ {
		bits := FloatBits(s.data[i])
		for b := 0; b < width; b++ {
			data[i*width+b] = byte(bits >> (8 * b))
		}
	}
	return StoreState{
		Config:    s.cfg,
		Data:      data,
		Locations: append([]int32(nil), s.location...),
		RefCounts: append([]uint16(nil), s.refCount...),
		Occupied:  s.indexes.OccupiedBitset(),
		FreeSeg:   s.freeSeg,
	}
}

// NewStoreFromState reconstructs a Store.  The de-duplication
// candidate is not part of the image; the first Add after restoring
// always writes a fresh slot.
func NewStoreFromState[T constraints.Float](st StoreState) (*Store[T], error) {
	s, err := NewStore[T](st.Config)
	if err != nil {
		return nil, err
	}
	width := floatWidth[T]()
	if len(st.Data)%width != 0 || len(st.Data)/width != int(st.FreeSeg) {
		return nil, fmt.Errorf("rcfstore.NewStoreFromState: %v data bytes, free segment at %v values: %w",
			len(st.Data), st.FreeSeg, ErrInvalidHandle)
	}
	if len(st.Locations) != s.cfg.Capacity || len(st.RefCounts) != s.cfg.Capacity ||
		len(st.Occupied) != s.cfg.Capacity {
		return nil, fmt.Errorf("rcfstore.NewStoreFromState: per-handle arrays do not match capacity %v: %w",
			s.cfg.Capacity, ErrInvalidHandle)
	}
	s.data = make([]T, st.FreeSeg)
	for i := range s.data {
		var bits uint64
		for b := 0; b < width; b++ {
			bits |= uint64(st.Data[i*width+b]) << (8 * b)
		}
		s.data[i] = floatFromBits[T](bits)
	}
	s.freeSeg = st.FreeSeg
	copy(s.location, st.Locations)
	copy(s.refCount, st.RefCounts)
	s.indexes = NewIndexManagerFromBitset(st.Occupied)
	return s, nil
}

func floatWidth[T constraints.Float]() int {
	var zero T
	if _, ok := any(zero).(float32); ok {
		return 4
	}
	return 8
}

func floatFromBits[T constraints.Float](bits uint64) T {
	var zero T
	if _, ok := any(zero).(float32); ok {
		return T(math.Float32frombits(uint32(bits)))
	}
	return T(math.Float64frombits(bits))
}
