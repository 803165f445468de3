// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rcfscore

import (
	"math"

	"golang.org/x/exp/constraints"

	"git.lukeshu.com/rcforest/lib/rcf/rcftree"
)

// A Neighbor is a sampled point found near a query, with the
// insertion sequence indexes of its occurrences when the forest
// retains them.
type Neighbor struct {
	Point           []float64
	Distance        float64
	SequenceIndexes []uint64
}

// A NearNeighborVisitor reports the leaf a query descends to, if it
// lies within the distance threshold.  Ancestor nodes contribute
// nothing, so the visitor converges immediately after the leaf.
type NearNeighborVisitor[T constraints.Float] struct {
	point     []T
	threshold float64

	found    bool
	neighbor Neighbor
}

var _ rcftree.Visitor[float64] = (*NearNeighborVisitor[float64])(nil)

func NewNearNeighborVisitor[T constraints.Float](point []T, threshold float64) *NearNeighborVisitor[T] {
	return &NearNeighborVisitor[T]{
		point:     point,
		threshold: threshold,
	}
}

func (v *NearNeighborVisitor[T]) AcceptLeaf(leaf rcftree.NodeView[T], depth int) {
	leafPoint := leaf.LeafPoint()
	var sumSq float64
	for i := range v.point {
		d := float64(v.point[i]) - float64(leafPoint[i])
		sumSq += d * d
	}
	dist := math.Sqrt(sumSq)
	if dist > v.threshold {
		return
	}
	point := make([]float64, len(leafPoint))
	for i, c := range leafPoint {
		point[i] = float64(c)
	}
	var seqs []uint64
	if s := leaf.SequenceIndexes(); len(s) > 0 {
		seqs = make([]uint64, len(s))
		copy(seqs, s)
	}
	v.found = true
	v.neighbor = Neighbor{
		Point:           point,
		Distance:        dist,
		SequenceIndexes: seqs,
	}
}

func (v *NearNeighborVisitor[T]) Accept(node rcftree.NodeView[T], depth int) {}

func (v *NearNeighborVisitor[T]) IsConverged() bool { return true }

// Result returns the neighbor, if one was within the threshold.
func (v *NearNeighborVisitor[T]) Result() (Neighbor, bool) {
	return v.neighbor, v.found
}
