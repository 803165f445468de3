// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rcf implements a random cut forest: a streaming ensemble
// of randomized binary space-partitioning trees over weighted
// reservoir samples, supporting anomaly scores and attributions,
// density estimates, imputation, near-neighbor lookup, and simple
// forecasts, with continuous updates on an unbounded stream and
// bounded memory per tree.
package rcf

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"git.lukeshu.com/rcforest/lib/containers"
)

var ErrInvalidArgument = errors.New("invalid argument")

// Options configures a Forest.  The zero value of every field except
// Dimensions means "use the default".
type Options struct {
	// Dimensions is the input vector length.  Required.
	Dimensions int

	// ShingleSize is the number of consecutive raw inputs each
	// vector is a concatenation of; it must divide Dimensions.
	// Default 1 (unshingled).
	ShingleSize int

	// CyclicShingles marks the shingles as rotating rather than
	// sliding.
	CyclicShingles bool

	// NumberOfTrees is the ensemble size.  Default 50.
	NumberOfTrees int

	// SampleSize is each tree's reservoir capacity.  Default 256.
	SampleSize int

	// OutputAfter is how many updates are required before queries
	// return non-neutral results.  Default ceil(0.25*SampleSize).
	OutputAfter int

	// TimeDecay is the exponential decay rate λ of the reservoir
	// ordering.  Default 1/(10*SampleSize); explicitly set it to
	// 0 for an unbiased reservoir.
	TimeDecay containers.Optional[float64]

	// StoreSequenceIndexes retains per-leaf insertion sequence
	// indexes, surfaced by near-neighbor queries.
	StoreSequenceIndexes bool

	// CenterOfMass maintains per-subtree point sums.
	CenterOfMass bool

	// ParallelExecution dispatches per-tree updates and
	// traversals to a worker pool of ThreadPoolSize goroutines
	// (default: number of CPUs minus one).
	ParallelExecution bool
	ThreadPoolSize    int

	// Compact selects the arena-based tree back-end with
	// handle-based leaves.  Required for float32 precision and
	// for partial bounding-box caching.
	Compact bool

	// BoundingBoxCacheFraction is the fraction of internal nodes
	// whose bounding box stays materialized.  Default 1 (all
	// cached); values below 1 require Compact.
	BoundingBoxCacheFraction containers.Optional[float64]

	// RandomSeed seeds the forest-level generator; per-tree
	// generators are seeded from it.  Default: drawn from the
	// global source.
	RandomSeed containers.Optional[int64]
}

// withDefaults returns a copy of o with every unset field resolved.
func (o Options) withDefaults() Options {
	if o.ShingleSize == 0 {
		o.ShingleSize = 1
	}
	if o.NumberOfTrees == 0 {
		o.NumberOfTrees = 50
	}
	if o.SampleSize == 0 {
		o.SampleSize = 256
	}
	if o.OutputAfter == 0 {
		o.OutputAfter = int(math.Ceil(0.25 * float64(o.SampleSize)))
	}
	if !o.TimeDecay.OK {
		o.TimeDecay = containers.Optional[float64]{OK: true, Val: 1 / (10 * float64(o.SampleSize))}
	}
	if o.ParallelExecution && o.ThreadPoolSize == 0 {
		o.ThreadPoolSize = runtime.NumCPU() - 1
		if o.ThreadPoolSize < 1 {
			o.ThreadPoolSize = 1
		}
	}
	if !o.BoundingBoxCacheFraction.OK {
		o.BoundingBoxCacheFraction = containers.Optional[float64]{OK: true, Val: 1}
	}
	if !o.RandomSeed.OK {
		o.RandomSeed = containers.Optional[int64]{OK: true, Val: rand.Int63()}
	}
	return o
}

// validate checks a defaults-resolved Options.
func (o Options) validate() error {
	switch {
	case o.Dimensions < 1:
		return fmt.Errorf("rcf: dimensions=%v must be >= 1: %w", o.Dimensions, ErrInvalidArgument)
	case o.ShingleSize < 1 || o.Dimensions%o.ShingleSize != 0:
		return fmt.Errorf("rcf: shingleSize=%v must divide dimensions=%v: %w",
			o.ShingleSize, o.Dimensions, ErrInvalidArgument)
	case o.NumberOfTrees < 1:
		return fmt.Errorf("rcf: numberOfTrees=%v must be > 0: %w", o.NumberOfTrees, ErrInvalidArgument)
	case o.SampleSize < 1:
		return fmt.Errorf("rcf: sampleSize=%v must be > 0: %w", o.SampleSize, ErrInvalidArgument)
	case o.OutputAfter < 1 || o.OutputAfter > o.SampleSize:
		return fmt.Errorf("rcf: outputAfter=%v must be in [1, sampleSize=%v]: %w",
			o.OutputAfter, o.SampleSize, ErrInvalidArgument)
	case o.TimeDecay.Val < 0:
		return fmt.Errorf("rcf: timeDecay=%v must be >= 0: %w", o.TimeDecay.Val, ErrInvalidArgument)
	case o.BoundingBoxCacheFraction.Val < 0 || o.BoundingBoxCacheFraction.Val > 1:
		return fmt.Errorf("rcf: boundingBoxCacheFraction=%v must be in [0,1]: %w",
			o.BoundingBoxCacheFraction.Val, ErrInvalidArgument)
	case o.BoundingBoxCacheFraction.Val < 1 && !o.Compact:
		return fmt.Errorf("rcf: boundingBoxCacheFraction=%v requires the compact back-end: %w",
			o.BoundingBoxCacheFraction.Val, ErrInvalidArgument)
	case o.ParallelExecution && o.ThreadPoolSize < 1:
		return fmt.Errorf("rcf: threadPoolSize=%v must be > 0: %w", o.ThreadPoolSize, ErrInvalidArgument)
	}
	return nil
}
