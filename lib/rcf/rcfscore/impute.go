// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rcfscore

import (
	"math/rand"

	"golang.org/x/exp/constraints"

	"git.lukeshu.com/rcforest/lib/rcf/rcfstore"
	"git.lukeshu.com/rcforest/lib/rcf/rcftree"
)

// An ImputeVisitor fills the missing coordinates of a query point
// from tree leaves.  It is a MultiVisitor: whenever the traversal
// hits a cut on a missing dimension the visitor forks, because the
// query cannot tell which side it belongs on; Combine keeps the
// branch whose filled-in candidate looks least anomalous.
type ImputeVisitor[T constraints.Float] struct {
	point      []T
	missing    []int
	treeMass   int
	centrality float64
	rng        *rand.Rand

	imputed   []T
	rank      float64
	converged bool
}

var _ rcftree.MultiVisitor[float64] = (*ImputeVisitor[float64])(nil)

// NewImputeVisitor returns a visitor for point with the given
// missing coordinate indexes.  centrality in [0,1] weighs the
// anomaly rank against a uniform random tiebreaker when branches are
// combined: 1 always keeps the best-ranked branch, 0 picks uniformly.
func NewImputeVisitor[T constraints.Float](point []T, missing []int, treeMass int, centrality float64, rng *rand.Rand) *ImputeVisitor[T] {
	return &ImputeVisitor[T]{
		point:      point,
		missing:    missing,
		treeMass:   treeMass,
		centrality: centrality,
		rng:        rng,
	}
}

func (v *ImputeVisitor[T]) isMissing(dim int) bool {
	for _, m := range v.missing {
		if m == dim {
			return true
		}
	}
	return false
}

func (v *ImputeVisitor[T]) Trigger(node rcftree.NodeView[T]) bool {
	dim, _ := node.Cut()
	return v.isMissing(dim)
}

func (v *ImputeVisitor[T]) NewCopy() rcftree.MultiVisitor[T] {
	return &ImputeVisitor[T]{
		point:      v.point,
		missing:    v.missing,
		treeMass:   v.treeMass,
		centrality: v.centrality,
		rng:        v.rng,
	}
}

func (v *ImputeVisitor[T]) AcceptLeaf(leaf rcftree.NodeView[T], depth int) {
	leafPoint := leaf.LeafPoint()
	v.imputed = make([]T, len(v.point))
	copy(v.imputed, v.point)
	for _, m := range v.missing {
		v.imputed[m] = leafPoint[m]
	}
	if rcfstore.BitsEqual(v.imputed, leafPoint) {
		v.rank = Damp(leaf.Mass(), v.treeMass) * ScoreSeen(depth, leaf.Mass())
		v.converged = true
		return
	}
	v.rank = ScoreUnseen(depth, leaf.Mass())
}

func (v *ImputeVisitor[T]) Accept(node rcftree.NodeView[T], depth int) {
	// Once the candidate sits inside a box, ancestors cannot
	// change its rank; propagate it unchanged.
	if v.converged {
		return
	}
	p := node.BoundingBox().ProbabilityOfSeparation(v.imputed)
	if p == 0 {
		v.converged = true
		return
	}
	v.rank = p*ScoreUnseen(depth, node.Mass()) + (1-p)*v.rank
}

func (v *ImputeVisitor[T]) Combine(other rcftree.MultiVisitor[T]) {
	o := other.(*ImputeVisitor[T])
	if o.imputed == nil {
		return
	}
	if v.imputed == nil {
		v.takeFrom(o)
		return
	}
	vEff := v.centrality*v.rank + (1-v.centrality)*v.rng.Float64()
	oEff := v.centrality*o.rank + (1-v.centrality)*v.rng.Float64()
	if oEff < vEff {
		v.takeFrom(o)
	}
}

func (v *ImputeVisitor[T]) takeFrom(o *ImputeVisitor[T]) {
	v.imputed = o.imputed
	v.rank = o.rank
	v.converged = o.converged
}

func (v *ImputeVisitor[T]) IsConverged() bool { return v.converged }

// Result returns the filled-in candidate and its anomaly-style rank
// (lower reads as more central).
func (v *ImputeVisitor[T]) Result() ([]T, float64) {
	return v.imputed, Normalizer(v.rank, v.treeMass)
}
