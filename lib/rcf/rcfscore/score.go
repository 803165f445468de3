// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rcfscore

import (
	"math"

	"golang.org/x/exp/constraints"

	"git.lukeshu.com/rcforest/lib/rcf/rcfstore"
	"git.lukeshu.com/rcforest/lib/rcf/rcftree"
)

// ScoreSeen is the displacement score of a query that matches a leaf
// at the given depth with the given leaf mass.
func ScoreSeen(depth, mass int) float64 {
	return 1 / (float64(depth) + math.Log2(float64(mass)+1))
}

// ScoreUnseen is the displacement score of a query separated from a
// subtree at the given depth.
func ScoreUnseen(depth, mass int) float64 {
	return 1 / (float64(depth) + 1)
}

// Damp discounts the score of a point that is already well
// represented in the tree.
func Damp(leafMass, treeMass int) float64 {
	return 1 - float64(leafMass)/(2*float64(treeMass))
}

// Normalizer scales a raw displacement score so that points typical
// of the sample score near 1.
func Normalizer(score float64, treeMass int) float64 {
	return score * math.Log2(float64(treeMass)+1)
}

// A ScoreVisitor computes the anomaly score of one tree for a fixed
// query point.  On unwinding, each internal node blends the score a
// random cut separating the query there would produce with the score
// from below, weighted by the probability of that separation.
type ScoreVisitor[T constraints.Float] struct {
	point    []T
	treeMass int

	score     float64
	converged bool
}

var _ rcftree.Visitor[float64] = (*ScoreVisitor[float64])(nil)

func NewScoreVisitor[T constraints.Float](point []T, treeMass int) *ScoreVisitor[T] {
	return &ScoreVisitor[T]{
		point:    point,
		treeMass: treeMass,
	}
}

func (v *ScoreVisitor[T]) AcceptLeaf(leaf rcftree.NodeView[T], depth int) {
	leafPoint := leaf.LeafPoint()
	if rcfstore.BitsEqual(v.point, leafPoint) {
		v.score = Damp(leaf.Mass(), v.treeMass) * ScoreSeen(depth, leaf.Mass())
		// The query is inside every ancestor box; nothing
		// above can change the score.
		v.converged = true
		return
	}
	v.score = ScoreUnseen(depth, leaf.Mass())
}

func (v *ScoreVisitor[T]) Accept(node rcftree.NodeView[T], depth int) {
	p := node.BoundingBox().ProbabilityOfSeparation(v.point)
	if p == 0 {
		v.converged = true
		return
	}
	v.score = p*ScoreUnseen(depth, node.Mass()) + (1-p)*v.score
}

func (v *ScoreVisitor[T]) IsConverged() bool { return v.converged }

// Result returns the tree's normalized score.
func (v *ScoreVisitor[T]) Result() float64 {
	return Normalizer(v.score, v.treeMass)
}
