// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rcfscore implements the concrete visitors that run over a
// random cut tree ensemble: anomaly score, directional attribution,
// density interpolation, imputation, and near-neighbor lookup, plus
// the convergence rule used for approximate forest queries.
package rcfscore

import (
	"fmt"
)

// A DiVector holds paired per-dimension directional contributions:
// High[i] is the contribution of being above the model's mass along
// dimension i, Low[i] of being below it.
type DiVector struct {
	High []float64
	Low  []float64
}

func NewDiVector(dimensions int) *DiVector {
	return &DiVector{
		High: make([]float64, dimensions),
		Low:  make([]float64, dimensions),
	}
}

func (v *DiVector) Dimensions() int { return len(v.High) }

// Total returns the sum over all components of both directions.
func (v *DiVector) Total() float64 {
	var sum float64
	for i := range v.High {
		sum += v.High[i] + v.Low[i]
	}
	return sum
}

// Add accumulates o in to v.
func (v *DiVector) Add(o *DiVector) {
	if len(o.High) != len(v.High) {
		panic(fmt.Errorf("rcfscore.DiVector.Add: %v != %v dimensions", len(o.High), len(v.High)))
	}
	for i := range v.High {
		v.High[i] += o.High[i]
		v.Low[i] += o.Low[i]
	}
}

// Scale multiplies every component by f.
func (v *DiVector) Scale(f float64) {
	for i := range v.High {
		v.High[i] *= f
		v.Low[i] *= f
	}
}

func (v *DiVector) Copy() *DiVector {
	ret := NewDiVector(len(v.High))
	copy(ret.High, v.High)
	copy(ret.Low, v.Low)
	return ret
}
