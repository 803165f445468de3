// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rcf

import (
	"context"
	"fmt"
	"math"
	"sort"

	"git.lukeshu.com/rcforest/lib/rcf/rcfscore"
	"git.lukeshu.com/rcforest/lib/rcf/rcfstore"
	"git.lukeshu.com/rcforest/lib/slices"
	"git.lukeshu.com/rcforest/lib/textui"
)

func (f *Forest[T]) checkQuery(point []float64) error {
	if len(point) != f.opts.Dimensions {
		return fmt.Errorf("rcf: query has %v dimensions, forest has %v: %w",
			len(point), f.opts.Dimensions, rcfstore.ErrDimensionMismatch)
	}
	return nil
}

// AnomalyScore returns the forest's anomaly score for point: the
// mean over trees of the normalized displacement score.  Scores near
// 1 are typical of the sample; scores above it are anomalous.
// Returns 0 during warm-up.
func (f *Forest[T]) AnomalyScore(ctx context.Context, point []float64) (float64, error) {
	if err := f.checkQuery(point); err != nil {
		return 0, err
	}
	if !f.IsOutputReady() {
		return 0, nil
	}
	p := toVec[T](point)
	results, err := forEachComponent(ctx, f, func(_ context.Context, _ int, c *component[T]) (float64, error) {
		v := rcfscore.NewScoreVisitor(p, c.tree.Mass())
		if err := c.tree.Traverse(p, v); err != nil {
			return 0, err
		}
		return v.Result(), nil
	})
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, r := range results {
		sum += r
	}
	return sum / float64(len(results)), nil
}

// approxPrecision and approxMinTrees parameterize the convergence
// rule of the approximate queries.
var (
	approxPrecision = textui.Tunable(0.1)
	approxMinTrees  = textui.Tunable(5)
)

func (f *Forest[T]) approxMinAccepted() int {
	min := approxMinTrees
	if third := f.opts.NumberOfTrees / 3; third > min {
		min = third
	}
	if min > f.opts.NumberOfTrees {
		min = f.opts.NumberOfTrees
	}
	return min
}

// ApproximateAnomalyScore is AnomalyScore with convergence-based
// early stopping: trees are consulted sequentially and the query
// stops once the running mean is stable.
func (f *Forest[T]) ApproximateAnomalyScore(ctx context.Context, point []float64) (float64, error) {
	if err := f.checkQuery(point); err != nil {
		return 0, err
	}
	if !f.IsOutputReady() {
		return 0, nil
	}
	p := toVec[T](point)
	acc := rcfscore.NewConvergingScoreAccumulator(approxPrecision, f.approxMinAccepted(), true)
	for _, c := range f.components {
		v := rcfscore.NewScoreVisitor(p, c.tree.Mass())
		if err := c.tree.Traverse(p, v); err != nil {
			return 0, err
		}
		acc.Accept(v.Result())
		if acc.IsConverged() {
			break
		}
	}
	return acc.Result() / float64(acc.Accepted()), nil
}

// AnomalyAttribution returns the anomaly score of point decomposed
// in to per-dimension, per-sign contributions; the attribution's
// total equals AnomalyScore up to floating-point summation.  Returns
// a zero DiVector during warm-up.
func (f *Forest[T]) AnomalyAttribution(ctx context.Context, point []float64) (*rcfscore.DiVector, error) {
	if err := f.checkQuery(point); err != nil {
		return nil, err
	}
	if !f.IsOutputReady() {
		return rcfscore.NewDiVector(f.opts.Dimensions), nil
	}
	p := toVec[T](point)
	results, err := forEachComponent(ctx, f, func(_ context.Context, _ int, c *component[T]) (*rcfscore.DiVector, error) {
		v := rcfscore.NewAttributionVisitor(p, c.tree.Mass())
		if err := c.tree.Traverse(p, v); err != nil {
			return nil, err
		}
		return v.Result(), nil
	})
	if err != nil {
		return nil, err
	}
	total := rcfscore.NewDiVector(f.opts.Dimensions)
	for _, r := range results {
		total.Add(r)
	}
	total.Scale(1 / float64(len(results)))
	return total, nil
}

// ApproximateAnomalyAttribution is AnomalyAttribution with
// convergence-based early stopping.
func (f *Forest[T]) ApproximateAnomalyAttribution(ctx context.Context, point []float64) (*rcfscore.DiVector, error) {
	if err := f.checkQuery(point); err != nil {
		return nil, err
	}
	if !f.IsOutputReady() {
		return rcfscore.NewDiVector(f.opts.Dimensions), nil
	}
	p := toVec[T](point)
	acc := rcfscore.NewConvergingDiVectorAccumulator(f.opts.Dimensions, approxPrecision, f.approxMinAccepted(), true)
	for _, c := range f.components {
		v := rcfscore.NewAttributionVisitor(p, c.tree.Mass())
		if err := c.tree.Traverse(p, v); err != nil {
			return nil, err
		}
		acc.Accept(v.Result())
		if acc.IsConverged() {
			break
		}
	}
	total := acc.Result().Copy()
	total.Scale(1 / float64(acc.Accepted()))
	return total, nil
}

// SimpleDensity returns the interpolation measure of point
// aggregated over the forest, with its kernel-density estimate.
// Returns a zero output during warm-up.
func (f *Forest[T]) SimpleDensity(ctx context.Context, point []float64) (*rcfscore.DensityOutput, error) {
	if err := f.checkQuery(point); err != nil {
		return nil, err
	}
	out := &rcfscore.DensityOutput{
		InterpolationMeasure: *rcfscore.NewInterpolationMeasure(f.opts.Dimensions, 0),
	}
	if !f.IsOutputReady() {
		return out, nil
	}
	p := toVec[T](point)
	results, err := forEachComponent(ctx, f, func(_ context.Context, _ int, c *component[T]) (*rcfscore.InterpolationMeasure, error) {
		v := rcfscore.NewInterpolationVisitor(p, c.tree.Mass())
		if err := c.tree.Traverse(p, v); err != nil {
			return nil, err
		}
		return v.Result(), nil
	})
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		out.Add(r)
	}
	out.Scale(1 / float64(len(results)))
	out.SampleSize /= len(results)
	return out, nil
}

// imputeCandidates runs the branching impute traversal on every
// tree, returning each tree's filled-in candidate.
func (f *Forest[T]) imputeCandidates(ctx context.Context, point []float64, missing []int) ([][]T, error) {
	p := toVec[T](point)
	for _, m := range missing {
		p[m] = 0
	}
	centrality := textui.Tunable(1.0)
	return forEachComponent(ctx, f, func(_ context.Context, i int, c *component[T]) ([]T, error) {
		v := rcfscore.NewImputeVisitor(p, missing, c.tree.Mass(), centrality, c.rng)
		if err := c.tree.TraverseMulti(p, v); err != nil {
			return nil, err
		}
		imputed, _ := v.Result()
		return imputed, nil
	})
}

// ImputeMissingValues returns point with the entries at the missing
// indexes replaced by values consistent with the sample: for a
// single missing value the median over per-tree imputations, for
// several the candidate at the 25th percentile of this forest's own
// anomaly score.  Returns a copy of point when nothing is missing or
// during warm-up.
func (f *Forest[T]) ImputeMissingValues(ctx context.Context, point []float64, missing []int) ([]float64, error) {
	if err := f.checkQuery(point); err != nil {
		return nil, err
	}
	for _, m := range missing {
		if m < 0 || m >= f.opts.Dimensions {
			return nil, fmt.Errorf("rcf: missing index %v outside [0,%v): %w",
				m, f.opts.Dimensions, ErrInvalidArgument)
		}
	}
	ret := make([]float64, len(point))
	copy(ret, point)
	if len(missing) == 0 || !f.IsOutputReady() {
		return ret, nil
	}

	candidates, err := f.imputeCandidates(ctx, point, missing)
	if err != nil {
		return nil, err
	}

	if len(missing) == 1 {
		values := make([]float64, len(candidates))
		for i, c := range candidates {
			values[i] = float64(c[missing[0]])
		}
		slices.Sort(values)
		ret[missing[0]] = median(values)
		return ret, nil
	}

	// Rank full candidates by the forest's own view of how
	// anomalous they are, and keep a comfortably central one.
	type ranked struct {
		point []float64
		score float64
	}
	rankedCandidates := make([]ranked, len(candidates))
	for i, c := range candidates {
		candidate := toFloat64(c)
		score, err := f.AnomalyScore(ctx, candidate)
		if err != nil {
			return nil, err
		}
		rankedCandidates[i] = ranked{point: candidate, score: score}
	}
	sort.Slice(rankedCandidates, func(i, j int) bool {
		return rankedCandidates[i].score < rankedCandidates[j].score
	})
	return rankedCandidates[len(rankedCandidates)/4].point, nil
}

// median of a sorted slice.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Extrapolate forecasts horizon steps of blockSize values from a
// shingled point: each step marks the trailing (or, for cyclic
// shingles, the current) block as missing, imputes it, and shifts
// the shingle forward.  shingleIndex is the current block position
// of a cyclic shingle.
func (f *Forest[T]) Extrapolate(ctx context.Context, shingle []float64, horizon, blockSize int, cyclic bool, shingleIndex int) ([]float64, error) {
	if err := f.checkQuery(shingle); err != nil {
		return nil, err
	}
	dims := f.opts.Dimensions
	if blockSize < 1 || dims%blockSize != 0 {
		return nil, fmt.Errorf("rcf: blockSize=%v must divide dimensions=%v: %w",
			blockSize, dims, ErrInvalidArgument)
	}
	if horizon < 0 {
		return nil, fmt.Errorf("rcf: horizon=%v must be >= 0: %w", horizon, ErrInvalidArgument)
	}
	blocks := dims / blockSize
	if cyclic && (shingleIndex < 0 || shingleIndex >= blocks) {
		return nil, fmt.Errorf("rcf: shingleIndex=%v outside [0,%v): %w",
			shingleIndex, blocks, ErrInvalidArgument)
	}

	result := make([]float64, 0, horizon*blockSize)
	if !f.IsOutputReady() {
		return result[:horizon*blockSize], nil
	}

	buffer := make([]float64, dims)
	copy(buffer, shingle)
	missing := make([]int, blockSize)
	for step := 0; step < horizon; step++ {
		base := dims - blockSize
		if cyclic {
			base = shingleIndex * blockSize
		}
		for i := range missing {
			missing[i] = base + i
		}
		imputed, err := f.ImputeMissingValues(ctx, buffer, missing)
		if err != nil {
			return nil, err
		}
		result = append(result, imputed[base:base+blockSize]...)
		if cyclic {
			copy(buffer[base:base+blockSize], imputed[base:base+blockSize])
			shingleIndex = (shingleIndex + 1) % blocks
		} else {
			// Shift left by one block; the vacated trailing
			// block is the next step's missing region.
			copy(buffer, imputed[blockSize:])
		}
	}
	return result, nil
}

// NearNeighborsInSample returns the currently sampled points within
// threshold (L2) of point, nearest first; a non-positive threshold
// means no limit.  Sequence indexes are included when the forest
// retains them.
func (f *Forest[T]) NearNeighborsInSample(ctx context.Context, point []float64, threshold float64) ([]rcfscore.Neighbor, error) {
	if err := f.checkQuery(point); err != nil {
		return nil, err
	}
	if !f.IsOutputReady() {
		return nil, nil
	}
	if threshold <= 0 {
		threshold = math.Inf(1)
	}
	p := toVec[T](point)
	type maybeNeighbor struct {
		neighbor rcfscore.Neighbor
		ok       bool
	}
	results, err := forEachComponent(ctx, f, func(_ context.Context, _ int, c *component[T]) (maybeNeighbor, error) {
		v := rcfscore.NewNearNeighborVisitor(p, threshold)
		if err := c.tree.Traverse(p, v); err != nil {
			return maybeNeighbor{}, err
		}
		n, ok := v.Result()
		return maybeNeighbor{neighbor: n, ok: ok}, nil
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var neighbors []rcfscore.Neighbor
	for _, r := range results {
		if !r.ok {
			continue
		}
		key := pointKey(r.neighbor.Point)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		neighbors = append(neighbors, r.neighbor)
	}
	sort.Slice(neighbors, func(i, j int) bool {
		return neighbors[i].Distance < neighbors[j].Distance
	})
	return neighbors, nil
}

// pointKey is a bit-exact map key for a vector.
func pointKey(point []float64) string {
	buf := make([]byte, 0, 8*len(point))
	for _, v := range point {
		bits := math.Float64bits(v)
		for shift := 0; shift < 64; shift += 8 {
			buf = append(buf, byte(bits>>shift))
		}
	}
	return string(buf)
}
