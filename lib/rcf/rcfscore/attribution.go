// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rcfscore

import (
	"golang.org/x/exp/constraints"

	"git.lukeshu.com/rcforest/lib/rcf/rcfstore"
	"git.lukeshu.com/rcforest/lib/rcf/rcftree"
)

// An AttributionVisitor computes the same quantity as ScoreVisitor,
// but tracked per dimension and per sign, so that the sum over the
// returned DiVector equals the scalar score up to floating-point
// summation.
type AttributionVisitor[T constraints.Float] struct {
	point    []T
	treeMass int

	result    *DiVector
	converged bool
}

var _ rcftree.Visitor[float64] = (*AttributionVisitor[float64])(nil)

func NewAttributionVisitor[T constraints.Float](point []T, treeMass int) *AttributionVisitor[T] {
	return &AttributionVisitor[T]{
		point:    point,
		treeMass: treeMass,
		result:   NewDiVector(len(point)),
	}
}

func (v *AttributionVisitor[T]) AcceptLeaf(leaf rcftree.NodeView[T], depth int) {
	leafPoint := leaf.LeafPoint()
	dims := len(v.point)
	if rcfstore.BitsEqual(v.point, leafPoint) {
		share := Damp(leaf.Mass(), v.treeMass) * ScoreSeen(depth, leaf.Mass()) / float64(2*dims)
		for i := 0; i < dims; i++ {
			v.result.High[i] = share
			v.result.Low[i] = share
		}
		v.converged = true
		return
	}

	unseen := ScoreUnseen(depth, leaf.Mass())
	var sumAbs float64
	for i := range v.point {
		d := float64(v.point[i]) - float64(leafPoint[i])
		if d < 0 {
			d = -d
		}
		sumAbs += d
	}
	if sumAbs == 0 {
		// Bit-different but numerically identical; spread
		// evenly.
		share := unseen / float64(2*dims)
		for i := 0; i < dims; i++ {
			v.result.High[i] = share
			v.result.Low[i] = share
		}
		return
	}
	for i := range v.point {
		d := float64(v.point[i]) - float64(leafPoint[i])
		if d > 0 {
			v.result.High[i] = unseen * d / sumAbs
			v.result.Low[i] = 0
		} else {
			v.result.High[i] = 0
			v.result.Low[i] = unseen * -d / sumAbs
		}
	}
}

func (v *AttributionVisitor[T]) Accept(node rcftree.NodeView[T], depth int) {
	box := node.BoundingBox()

	var newRangeSum float64
	for i := range v.point {
		lo, hi := float64(box.Min[i]), float64(box.Max[i])
		if f := float64(v.point[i]); f < lo {
			lo = f
		} else if f > hi {
			hi = f
		}
		newRangeSum += hi - lo
	}
	if newRangeSum <= 0 {
		v.converged = true
		return
	}

	var p float64
	unseen := ScoreUnseen(depth, node.Mass())
	// First pass: total probability of separation.
	for i := range v.point {
		f := float64(v.point[i])
		if gap := f - float64(box.Max[i]); gap > 0 {
			p += gap / newRangeSum
		}
		if gap := float64(box.Min[i]) - f; gap > 0 {
			p += gap / newRangeSum
		}
	}
	if p == 0 {
		v.converged = true
		return
	}
	for i := range v.point {
		f := float64(v.point[i])
		var high, low float64
		if gap := f - float64(box.Max[i]); gap > 0 {
			high = gap / newRangeSum
		}
		if gap := float64(box.Min[i]) - f; gap > 0 {
			low = gap / newRangeSum
		}
		v.result.High[i] = high*unseen + (1-p)*v.result.High[i]
		v.result.Low[i] = low*unseen + (1-p)*v.result.Low[i]
	}
}

func (v *AttributionVisitor[T]) IsConverged() bool { return v.converged }

// Result returns the tree's normalized attribution.
func (v *AttributionVisitor[T]) Result() *DiVector {
	ret := v.result.Copy()
	ret.Scale(Normalizer(1, v.treeMass))
	return ret
}
