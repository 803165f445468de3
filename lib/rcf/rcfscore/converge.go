// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rcfscore

import (
	"math"
)

// A ConvergingAccumulator folds per-tree results one at a time and
// reports when enough trees have been seen that the remaining ones
// are unlikely to move the mean; approximate forest queries stop
// there.
type ConvergingAccumulator[R any] interface {
	Accept(r R)
	IsConverged() bool
	Accepted() int
	Result() R
}

// A oneSidedAccumulator converges on a scalar witness of each
// result: once at least minAccepted results are in and the standard
// error sd/√n of the running mean is within precision of the mean,
// it stops.  highIsCritical picks whether the upper or the lower
// bound mean±sd/√n is computed; both lie the same distance from the
// mean, so the flag does not change when the accumulator converges.
type oneSidedAccumulator[R any] struct {
	highIsCritical bool
	precision      float64
	minAccepted    int
	witness        func(R) float64
	fold           func(R)
	result         func() R

	accepted  int
	sum       float64
	sumSq     float64
	converged bool
}

func (a *oneSidedAccumulator[R]) Accept(r R) {
	v := a.witness(r)
	a.fold(r)
	a.accepted++
	a.sum += v
	a.sumSq += v * v

	if a.accepted < a.minAccepted {
		return
	}
	n := float64(a.accepted)
	mean := a.sum / n
	variance := (a.sumSq - n*mean*mean) / math.Max(n-1, 1)
	if variance < 0 {
		variance = 0
	}
	halfWidth := math.Sqrt(variance / n)
	// The bound on the critical side; it is halfWidth from the
	// mean whichever side that is.
	critical := mean + halfWidth
	if !a.highIsCritical {
		critical = mean - halfWidth
	}
	a.converged = math.Abs(critical-mean) <= a.precision*math.Abs(mean)
}

func (a *oneSidedAccumulator[R]) IsConverged() bool { return a.converged }
func (a *oneSidedAccumulator[R]) Accepted() int     { return a.accepted }
func (a *oneSidedAccumulator[R]) Result() R         { return a.result() }

// NewConvergingScoreAccumulator accumulates scalar scores,
// converging once the running mean is stable to within precision.
func NewConvergingScoreAccumulator(precision float64, minAccepted int, highIsCritical bool) ConvergingAccumulator[float64] {
	var total float64
	a := &oneSidedAccumulator[float64]{
		highIsCritical: highIsCritical,
		precision:      precision,
		minAccepted:    minAccepted,
		witness:        func(v float64) float64 { return v },
		fold:           func(v float64) { total += v },
		result:         func() float64 { return total },
	}
	return a
}

// NewConvergingDiVectorAccumulator accumulates attributions,
// converging on the stability of their totals.
func NewConvergingDiVectorAccumulator(dimensions int, precision float64, minAccepted int, highIsCritical bool) ConvergingAccumulator[*DiVector] {
	total := NewDiVector(dimensions)
	a := &oneSidedAccumulator[*DiVector]{
		highIsCritical: highIsCritical,
		precision:      precision,
		minAccepted:    minAccepted,
		witness:        func(v *DiVector) float64 { return v.Total() },
		fold:           func(v *DiVector) { total.Add(v) },
		result:         func() *DiVector { return total },
	}
	return a
}
