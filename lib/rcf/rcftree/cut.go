// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rcftree

import (
	"fmt"
	"math/rand"

	"golang.org/x/exp/constraints"
)

// A Cut is a choice of dimension and threshold partitioning a
// bounding box; points with coordinate <= Value lie in the left
// subtree.
type Cut[T constraints.Float] struct {
	Dim   int32
	Value T
}

// drawCut chooses a random axis-aligned cut in box extended by
// point: a dimension is picked with probability proportional to the
// extended box's range along it, and the cut value is uniform within
// that range, always satisfying min <= value < max.
//
// The caller must guarantee that the extended box has a positive
// total range.
func drawCut[T constraints.Float](rng *rand.Rand, point []T, box *Box[T]) Cut[T] {
	var rangeSum float64
	for i := range point {
		lo, hi := box.Min[i], box.Max[i]
		if point[i] < lo {
			lo = point[i]
		}
		if point[i] > hi {
			hi = point[i]
		}
		rangeSum += float64(hi) - float64(lo)
	}
	if rangeSum <= 0 {
		panic(fmt.Errorf("rcftree.drawCut: zero total range"))
	}

	breakPoint := rng.Float64() * rangeSum
	lastDim := -1
	for i := range point {
		lo, hi := box.Min[i], box.Max[i]
		if point[i] < lo {
			lo = point[i]
		}
		if point[i] > hi {
			hi = point[i]
		}
		r := float64(hi) - float64(lo)
		if r <= 0 {
			continue
		}
		lastDim = i
		if breakPoint <= r {
			value := T(float64(lo) + breakPoint)
			if !(value < hi) {
				value = nextBelow(hi, lo)
			}
			if value < lo {
				value = lo
			}
			return Cut[T]{Dim: int32(i), Value: value}
		}
		breakPoint -= r
	}

	// Floating-point summation slop left breakPoint past the last
	// positive range; cut just below the top of that dimension.
	lo, hi := box.Min[lastDim], box.Max[lastDim]
	if point[lastDim] < lo {
		lo = point[lastDim]
	}
	if point[lastDim] > hi {
		hi = point[lastDim]
	}
	return Cut[T]{Dim: int32(lastDim), Value: nextBelow(hi, lo)}
}

// leftOf reports which side of a cut a coordinate falls on.
func leftOf[T constraints.Float](coord T, cut Cut[T]) bool {
	return coord <= cut.Value
}
