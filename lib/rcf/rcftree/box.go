// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rcftree implements randomized binary space-partitioning
// trees over point-store handles, with maintained bounding boxes and
// subtree masses, and the visitor-based traversal that scoring is
// built on.
//
// Two back-ends coexist: PointerTree keeps nodes in owned records
// with inline point copies, and CompactTree keeps nodes in parallel
// arenas keyed by integer indexes with leaves referring in to the
// shared point store.
package rcftree

import (
	"fmt"
	"math"

	"golang.org/x/exp/constraints"

	"git.lukeshu.com/rcforest/lib/rcf/rcfstore"
)

// A Box is the axis-aligned minimum enclosing hyperrectangle of a
// point set.
type Box[T constraints.Float] struct {
	Min, Max []T
}

// NewBox returns the degenerate box enclosing a single point.
func NewBox[T constraints.Float](point []T) *Box[T] {
	b := &Box[T]{
		Min: make([]T, len(point)),
		Max: make([]T, len(point)),
	}
	copy(b.Min, point)
	copy(b.Max, point)
	return b
}

func (b *Box[T]) Dimensions() int { return len(b.Min) }

func (b *Box[T]) Copy() *Box[T] {
	ret := &Box[T]{
		Min: make([]T, len(b.Min)),
		Max: make([]T, len(b.Max)),
	}
	copy(ret.Min, b.Min)
	copy(ret.Max, b.Max)
	return ret
}

// AddPoint extends b in place to enclose point.
func (b *Box[T]) AddPoint(point []T) {
	for i, v := range point {
		if v < b.Min[i] {
			b.Min[i] = v
		}
		if v > b.Max[i] {
			b.Max[i] = v
		}
	}
}

// AddBox extends b in place to enclose o.
func (b *Box[T]) AddBox(o *Box[T]) {
	for i := range b.Min {
		if o.Min[i] < b.Min[i] {
			b.Min[i] = o.Min[i]
		}
		if o.Max[i] > b.Max[i] {
			b.Max[i] = o.Max[i]
		}
	}
}

// Range returns the extent of b along dimension i.
func (b *Box[T]) Range(i int) float64 {
	return float64(b.Max[i]) - float64(b.Min[i])
}

// RangeSum returns the sum of b's extents over all dimensions.
func (b *Box[T]) RangeSum() float64 {
	var sum float64
	for i := range b.Min {
		sum += float64(b.Max[i]) - float64(b.Min[i])
	}
	return sum
}

// Contains reports whether point lies inside b (inclusive).
func (b *Box[T]) Contains(point []T) bool {
	for i, v := range point {
		if v < b.Min[i] || v > b.Max[i] {
			return false
		}
	}
	return true
}

func (b *Box[T]) Equal(o *Box[T]) bool {
	return rcfstore.BitsEqual(b.Min, o.Min) && rcfstore.BitsEqual(b.Max, o.Max)
}

// ProbabilityOfSeparation returns the probability that a random cut
// in the box extended by point separates point from b: the total
// range growth caused by point, divided by the extended box's total
// range.  Returns 0 when point adds no extent.
func (b *Box[T]) ProbabilityOfSeparation(point []T) float64 {
	var newRangeSum, diffSum float64
	for i, v := range point {
		lo, hi := b.Min[i], b.Max[i]
		if v < lo {
			diffSum += float64(lo) - float64(v)
			lo = v
		} else if v > hi {
			diffSum += float64(v) - float64(hi)
			hi = v
		}
		newRangeSum += float64(hi) - float64(lo)
	}
	if newRangeSum <= 0 {
		return 0
	}
	return diffSum / newRangeSum
}

func (b *Box[T]) String() string {
	return fmt.Sprintf("Box{Min: %v, Max: %v}", b.Min, b.Max)
}

// nextBelow returns the greatest representable value of T less than
// x, headed toward lo.
func nextBelow[T constraints.Float](x, lo T) T {
	switch v := any(x).(type) {
	case float32:
		return T(math.Nextafter32(v, float32(lo)))
	case float64:
		return T(math.Nextafter(v, float64(lo)))
	default:
		panic(fmt.Errorf("rcftree: unsupported float type %T", x))
	}
}
