// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rcfstore

import (
	"context"
	"fmt"
	"math"

	"github.com/datawire/dlib/dlog"
	"golang.org/x/exp/constraints"

	"git.lukeshu.com/rcforest/lib/textui"
)

// A Handle identifies a vector stored in a Store.  Handles are
// opaque, stable for the lifetime of the point's reference count, and
// reused after release.
type Handle int32

const NoHandle Handle = -1

// maxRefCount is the largest reference count a single handle can
// carry; an Add that would push a handle past this allocates a fresh
// slot instead.
const maxRefCount = math.MaxUint16

type StoreConfig struct {
	// Capacity is the maximum number of live handles.
	Capacity int
	// Dimensions is the length of every stored vector.
	Dimensions int
	// ShingleSize is the number of consecutive raw inputs
	// concatenated in to each vector; a value >1 enables
	// overlap compression of consecutive Adds.
	ShingleSize int
	// Rotation indicates cyclic shingles.  Rotated shingles do
	// not share prefixes linearly, so overlap compression is
	// disabled and the byte budget is doubled instead.
	Rotation bool
}

// A Store is content-addressed storage of numeric vectors with
// reference counting.  All trees of a forest share one Store;
// leaves refer to vectors by Handle.
type Store[T constraints.Float] struct {
	cfg     StoreConfig
	baseDim int
	maxData int

	indexes  *IndexManager
	refCount []uint16
	location []int32

	data    []T
	freeSeg int32 // start of the free segment at the end of data

	// last is the most recently Added live handle; it is the
	// candidate slot for content de-duplication.
	last Handle
}

func NewStore[T constraints.Float](cfg StoreConfig) (*Store[T], error) {
	if cfg.Capacity < 1 {
		return nil, fmt.Errorf("rcfstore.NewStore: capacity=%v: %w", cfg.Capacity, ErrExhaustedCapacity)
	}
	if cfg.Dimensions < 1 {
		return nil, fmt.Errorf("rcfstore.NewStore: dimensions=%v: %w", cfg.Dimensions, ErrDimensionMismatch)
	}
	if cfg.ShingleSize < 1 {
		cfg.ShingleSize = 1
	}
	if cfg.Dimensions%cfg.ShingleSize != 0 {
		return nil, fmt.Errorf("rcfstore.NewStore: dimensions=%v is not a multiple of shingleSize=%v: %w",
			cfg.Dimensions, cfg.ShingleSize, ErrDimensionMismatch)
	}
	maxData := cfg.Capacity * cfg.Dimensions
	if cfg.Rotation {
		maxData *= 2
	}
	initData := textui.Tunable(64) * cfg.Dimensions
	if initData > maxData {
		initData = maxData
	}
	return &Store[T]{
		cfg:     cfg,
		baseDim: cfg.Dimensions / cfg.ShingleSize,
		maxData: maxData,

		indexes:  NewIndexManager(cfg.Capacity),
		refCount: make([]uint16, cfg.Capacity),
		location: make([]int32, cfg.Capacity),

		data: make([]T, 0, initData),
		last: NoHandle,
	}, nil
}

func (s *Store[T]) Dimensions() int { return s.cfg.Dimensions }
func (s *Store[T]) Capacity() int   { return s.cfg.Capacity }

// Size returns the number of live handles.
func (s *Store[T]) Size() int { return s.indexes.Occupied() }

// Add copies point in to the store and returns its handle with a
// reference count of 1; or, if the point is bit-identical to the most
// recently added live point, returns that existing handle with an
// incremented reference count.
func (s *Store[T]) Add(ctx context.Context, point []T) (Handle, error) {
	if len(point) != s.cfg.Dimensions {
		return NoHandle, fmt.Errorf("rcfstore.Store.Add: point has %v dimensions, store has %v: %w",
			len(point), s.cfg.Dimensions, ErrDimensionMismatch)
	}

	if s.last != NoHandle && s.refCount[s.last] > 0 && s.refCount[s.last] < maxRefCount &&
		s.equalsAt(s.location[s.last], point) {
		s.refCount[s.last]++
		return s.last, nil
	}

	idx, err := s.indexes.Take()
	if err != nil {
		return NoHandle, fmt.Errorf("rcfstore.Store.Add: %w", err)
	}
	h := Handle(idx)

	loc, err := s.write(ctx, point)
	if err != nil {
		s.indexes.Release(idx)
		return NoHandle, err
	}
	s.location[h] = loc
	s.refCount[h] = 1
	s.last = h
	return h, nil
}

// write appends point to the data segment, reusing the overlapping
// prefix of the previous write when shingle-aware compression
// applies, and returns the point's location.
func (s *Store[T]) write(ctx context.Context, point []T) (int32, error) {
	dims := s.cfg.Dimensions
	if overlap := dims - s.baseDim; overlap > 0 && !s.cfg.Rotation && int(s.freeSeg) >= overlap {
		tail := s.data[s.freeSeg-int32(overlap) : s.freeSeg]
		if BitsEqual(tail, point[:overlap]) {
			if err := s.ensure(ctx, s.baseDim); err != nil {
				return 0, err
			}
			// ensure may have compacted away a dead previous
			// point; share the prefix only if it is still there.
			if int(s.freeSeg) >= overlap && BitsEqual(s.data[s.freeSeg-int32(overlap):s.freeSeg], point[:overlap]) {
				loc := s.freeSeg - int32(overlap)
				s.data = append(s.data, point[overlap:]...)
				s.freeSeg += int32(s.baseDim)
				return loc, nil
			}
		}
	}
	if err := s.ensure(ctx, dims); err != nil {
		return 0, err
	}
	loc := s.freeSeg
	s.data = append(s.data, point...)
	s.freeSeg += int32(dims)
	return loc, nil
}

// ensure makes room for n more values at the end of data, growing or
// compacting as needed.
func (s *Store[T]) ensure(ctx context.Context, n int) error {
	if int(s.freeSeg)+n <= cap(s.data) {
		return nil
	}
	if int(s.freeSeg)+n <= s.maxData {
		newCap := 2 * cap(s.data)
		if newCap < int(s.freeSeg)+n {
			newCap = int(s.freeSeg) + n
		}
		if newCap > s.maxData {
			newCap = s.maxData
		}
		dlog.Debugf(ctx, "point store: resizing data segment %v -> %v", cap(s.data), newCap)
		newData := make([]T, s.freeSeg, newCap)
		copy(newData, s.data)
		s.data = newData
		return nil
	}
	s.compact(ctx)
	if int(s.freeSeg)+n > s.maxData {
		return fmt.Errorf("rcfstore.Store: data segment full (%v+%v > %v): %w",
			s.freeSeg, n, s.maxData, ErrExhaustedCapacity)
	}
	return nil
}

// compact rewrites the data segment, dropping bytes that no live
// handle refers to while preserving prefix sharing between handles
// whose regions overlap.
func (s *Store[T]) compact(ctx context.Context) {
	dims := int32(s.cfg.Dimensions)

	live := make([]Handle, 0, s.indexes.Occupied())
	for i := 0; i < s.cfg.Capacity; i++ {
		if s.refCount[i] > 0 {
			live = append(live, Handle(i))
		}
	}
	// Sort by location so overlapping regions stay adjacent.
	for i := 1; i < len(live); i++ {
		for j := i; j > 0 && s.location[live[j]] < s.location[live[j-1]]; j-- {
			live[j], live[j-1] = live[j-1], live[j]
		}
	}

	newData := make([]T, 0, cap(s.data))
	var regStart, regEnd, regNew int32 // current merged region, old space
	regEnd = -1
	for _, h := range live {
		loc := s.location[h]
		if regEnd >= 0 && loc <= regEnd {
			// Overlaps the current region; extend it.
			s.location[h] = regNew + (loc - regStart)
			if loc+dims > regEnd {
				newData = append(newData, s.data[regEnd:loc+dims]...)
				regEnd = loc + dims
			}
			continue
		}
		regStart, regEnd = loc, loc+dims
		regNew = int32(len(newData))
		s.location[h] = regNew
		newData = append(newData, s.data[regStart:regEnd]...)
	}

	dlog.Debugf(ctx, "point store: compacted %v -> %v values (%v live points)",
		s.freeSeg, len(newData), len(live))
	s.data = newData
	s.freeSeg = int32(len(newData))
}

// IncrementRef adds a reference to h.
func (s *Store[T]) IncrementRef(h Handle) error {
	if err := s.check(h); err != nil {
		return err
	}
	if s.refCount[h] == maxRefCount {
		return fmt.Errorf("rcfstore.Store.IncrementRef: handle %v: %w", h, ErrExhaustedCapacity)
	}
	s.refCount[h]++
	return nil
}

// DecrementRef drops a reference to h, releasing the slot when the
// count reaches zero.
func (s *Store[T]) DecrementRef(h Handle) error {
	if err := s.check(h); err != nil {
		return err
	}
	s.refCount[h]--
	if s.refCount[h] == 0 {
		s.indexes.Release(int32(h))
		if s.last == h {
			s.last = NoHandle
		}
	}
	return nil
}

// Get returns a copy of the vector stored at h.
func (s *Store[T]) Get(h Handle) ([]T, error) {
	ref, err := s.Ref(h)
	if err != nil {
		return nil, err
	}
	ret := make([]T, len(ref))
	copy(ret, ref)
	return ret, nil
}

// Ref returns a view of the vector stored at h.  The view is only
// valid until the next call to Add; use Get for a stable copy.
func (s *Store[T]) Ref(h Handle) ([]T, error) {
	if err := s.check(h); err != nil {
		return nil, err
	}
	loc := s.location[h]
	return s.data[loc : loc+int32(s.cfg.Dimensions)], nil
}

// PointEquals reports whether the vector stored at h is bit-identical
// to point.
func (s *Store[T]) PointEquals(h Handle, point []T) (bool, error) {
	if err := s.check(h); err != nil {
		return false, err
	}
	if len(point) != s.cfg.Dimensions {
		return false, fmt.Errorf("rcfstore.Store.PointEquals: %w", ErrDimensionMismatch)
	}
	return s.equalsAt(s.location[h], point), nil
}

// RefCount returns the current reference count of h, or 0 for a dead
// in-range handle.
func (s *Store[T]) RefCount(h Handle) int {
	if h < 0 || int(h) >= s.cfg.Capacity {
		return 0
	}
	return int(s.refCount[h])
}

func (s *Store[T]) check(h Handle) error {
	if h < 0 || int(h) >= s.cfg.Capacity || s.refCount[h] == 0 {
		return fmt.Errorf("rcfstore.Store: handle %v: %w", h, ErrInvalidHandle)
	}
	return nil
}

func (s *Store[T]) equalsAt(loc int32, point []T) bool {
	return BitsEqual(s.data[loc:loc+int32(len(point))], point)
}

// BitsEqual compares two vectors for bit-exact equality.  Coalescing
// requires bit-exact identity, not approximate matching or IEEE `==`
// (which would conflate -0 with +0 and never match NaN).
func BitsEqual[T constraints.Float](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if FloatBits(a[i]) != FloatBits(b[i]) {
			return false
		}
	}
	return true
}

// FloatBits returns the IEEE 754 bit pattern of x, widened to 64
// bits.
func FloatBits[T constraints.Float](x T) uint64 {
	switch v := any(x).(type) {
	case float32:
		return uint64(math.Float32bits(v))
	case float64:
		return math.Float64bits(v)
	default:
		panic(fmt.Errorf("rcfstore: unsupported float type %T", x))
	}
}
