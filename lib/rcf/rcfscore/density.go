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

// An InterpolationMeasure is the 2D-structured (per-dimension,
// per-sign) measure that density estimation is computed from:
// ProbMass apportions the probability that a random cut separates the
// query, Measure the displacement it causes, and DistanceMeasure the
// geometric gaps behind it.
type InterpolationMeasure struct {
	Measure         *DiVector
	DistanceMeasure *DiVector
	ProbMass        *DiVector
	SampleSize      int
}

func NewInterpolationMeasure(dimensions, sampleSize int) *InterpolationMeasure {
	return &InterpolationMeasure{
		Measure:         NewDiVector(dimensions),
		DistanceMeasure: NewDiVector(dimensions),
		ProbMass:        NewDiVector(dimensions),
		SampleSize:      sampleSize,
	}
}

// Add accumulates o in to m.
func (m *InterpolationMeasure) Add(o *InterpolationMeasure) {
	m.Measure.Add(o.Measure)
	m.DistanceMeasure.Add(o.DistanceMeasure)
	m.ProbMass.Add(o.ProbMass)
	m.SampleSize += o.SampleSize
}

func (m *InterpolationMeasure) Scale(f float64) {
	m.Measure.Scale(f)
	m.DistanceMeasure.Scale(f)
	m.ProbMass.Scale(f)
}

// A DensityOutput is an InterpolationMeasure aggregated over a
// forest, with a simple kernel-density estimate derived from it.
type DensityOutput struct {
	InterpolationMeasure
}

// Density is a simple kernel estimate: the query's probability mass
// over the volume implied by the observed gap distances, scaled per
// sampled point.  Returns 0 for an empty aggregate and +Inf when the
// query sits exactly on the sample mass.
func (o *DensityOutput) Density() float64 {
	if o.SampleSize == 0 {
		return 0
	}
	dims := o.ProbMass.Dimensions()
	bandwidth := o.DistanceMeasure.Total() / float64(2*dims)
	if bandwidth == 0 {
		return math.Inf(1)
	}
	return o.ProbMass.Total() / (float64(o.SampleSize) * math.Pow(bandwidth, float64(dims)))
}

// An InterpolationVisitor accumulates one tree's contribution to an
// InterpolationMeasure, blending per-node directional gap and range
// contributions by the probability that a random cut separates the
// query there.
type InterpolationVisitor[T constraints.Float] struct {
	point    []T
	treeMass int

	result    *InterpolationMeasure
	converged bool
}

var _ rcftree.Visitor[float64] = (*InterpolationVisitor[float64])(nil)

func NewInterpolationVisitor[T constraints.Float](point []T, treeMass int) *InterpolationVisitor[T] {
	return &InterpolationVisitor[T]{
		point:    point,
		treeMass: treeMass,
		result:   NewInterpolationMeasure(len(point), treeMass),
	}
}

func (v *InterpolationVisitor[T]) AcceptLeaf(leaf rcftree.NodeView[T], depth int) {
	leafPoint := leaf.LeafPoint()
	dims := len(v.point)
	if rcfstore.BitsEqual(v.point, leafPoint) {
		// The query carries the leaf's own mass; gaps are
		// zero.
		share := 1 / float64(2*dims)
		for i := 0; i < dims; i++ {
			v.result.ProbMass.High[i] = share
			v.result.ProbMass.Low[i] = share
		}
		v.converged = true
		return
	}
	var sumAbs float64
	for i := range v.point {
		d := float64(v.point[i]) - float64(leafPoint[i])
		sumAbs += math.Abs(d)
	}
	for i := range v.point {
		d := float64(v.point[i]) - float64(leafPoint[i])
		switch {
		case d > 0:
			v.result.Measure.High[i] = d
			v.result.DistanceMeasure.High[i] = d
			if sumAbs > 0 {
				v.result.ProbMass.High[i] = d / sumAbs
			}
		case d < 0:
			v.result.Measure.Low[i] = -d
			v.result.DistanceMeasure.Low[i] = -d
			if sumAbs > 0 {
				v.result.ProbMass.Low[i] = -d / sumAbs
			}
		}
	}
}

func (v *InterpolationVisitor[T]) Accept(node rcftree.NodeView[T], depth int) {
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
	keep := 1 - p
	for i := range v.point {
		f := float64(v.point[i])
		var gapHigh, gapLow float64
		if gap := f - float64(box.Max[i]); gap > 0 {
			gapHigh = gap
		}
		if gap := float64(box.Min[i]) - f; gap > 0 {
			gapLow = gap
		}
		v.result.ProbMass.High[i] = gapHigh/newRangeSum + keep*v.result.ProbMass.High[i]
		v.result.ProbMass.Low[i] = gapLow/newRangeSum + keep*v.result.ProbMass.Low[i]
		v.result.Measure.High[i] = gapHigh*p + keep*v.result.Measure.High[i]
		v.result.Measure.Low[i] = gapLow*p + keep*v.result.Measure.Low[i]
		v.result.DistanceMeasure.High[i] = gapHigh + keep*v.result.DistanceMeasure.High[i]
		v.result.DistanceMeasure.Low[i] = gapLow + keep*v.result.DistanceMeasure.Low[i]
	}
}

func (v *InterpolationVisitor[T]) IsConverged() bool { return v.converged }

func (v *InterpolationVisitor[T]) Result() *InterpolationMeasure {
	return v.result
}
