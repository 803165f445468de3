// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rcfscore

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"git.lukeshu.com/rcforest/lib/rcf/rcfstore"
	"git.lukeshu.com/rcforest/lib/rcf/rcftree"
)

func TestScoreFunctions(t *testing.T) {
	t.Parallel()
	require.InDelta(t, 1.0/(0+math.Log2(9)), ScoreSeen(0, 8), 1e-15)
	require.InDelta(t, 1.0/3, ScoreUnseen(2, 100), 1e-15)
	require.InDelta(t, 0.5, Damp(8, 8), 1e-15)
	require.InDelta(t, 0.5, Normalizer(Damp(8, 8)*ScoreSeen(0, 8), 8), 1e-15)
}

// buildTree grows a tree over n Gaussian points and returns it with
// the store keeping every point alive.
func buildTree(t *testing.T, dims, n int, seed int64) rcftree.Tree[float64] {
	t.Helper()
	ctx := context.Background()
	store, err := rcfstore.NewStore[float64](rcfstore.StoreConfig{
		Capacity:   n + 1,
		Dimensions: dims,
	})
	require.NoError(t, err)
	tree := rcftree.NewCompactTree[float64](rcftree.Config{
		Capacity:   n,
		Dimensions: dims,
	}, rand.New(rand.NewSource(seed)), store)
	rng := rand.New(rand.NewSource(seed + 1))
	for seq := uint64(0); seq < uint64(n); seq++ {
		p := make([]float64, dims)
		for i := range p {
			p[i] = rng.NormFloat64()
		}
		h, err := store.Add(ctx, p)
		require.NoError(t, err)
		_, err = tree.Insert(p, h, seq)
		require.NoError(t, err)
	}
	return tree
}

func TestAttributionMatchesScore(t *testing.T) {
	t.Parallel()
	tree := buildTree(t, 4, 128, 10)
	rng := rand.New(rand.NewSource(11))

	for i := 0; i < 100; i++ {
		p := make([]float64, 4)
		for j := range p {
			p[j] = rng.NormFloat64() * 3
		}
		score := NewScoreVisitor(p, tree.Mass())
		require.NoError(t, tree.Traverse(p, score))
		attribution := NewAttributionVisitor(p, tree.Mass())
		require.NoError(t, tree.Traverse(p, attribution))
		require.InDelta(t, score.Result(), attribution.Result().Total(), 1e-6,
			"query %v: attribution must sum to the scalar score", p)
	}
}

func TestScoreSeenPoint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := rcfstore.NewStore[float64](rcfstore.StoreConfig{Capacity: 16, Dimensions: 2})
	require.NoError(t, err)
	tree := rcftree.NewCompactTree[float64](rcftree.Config{Capacity: 8, Dimensions: 2},
		rand.New(rand.NewSource(12)), store)

	p := []float64{0, 0}
	h, err := store.Add(ctx, p)
	require.NoError(t, err)
	for seq := uint64(0); seq < 8; seq++ {
		_, err := tree.Insert(p, h, seq)
		require.NoError(t, err)
	}

	v := NewScoreVisitor(p, tree.Mass())
	require.NoError(t, tree.Traverse(p, v))
	require.InDelta(t, 0.5, v.Result(), 1e-12,
		"a single coalesced leaf of mass 8 scores damp*seen = 0.5 normalized")
}

func TestConvergingScoreAccumulator(t *testing.T) {
	t.Parallel()
	acc := NewConvergingScoreAccumulator(0.1, 5, true)
	for i := 0; i < 100; i++ {
		require.False(t, i >= 6 && !acc.IsConverged(),
			"constant input must converge right after the minimum count")
		if acc.IsConverged() {
			break
		}
		acc.Accept(1.5)
	}
	require.True(t, acc.IsConverged())
	require.InDelta(t, 1.5, acc.Result()/float64(acc.Accepted()), 1e-15)
}

func TestConvergingAccumulatorNoisy(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(13))
	acc := NewConvergingScoreAccumulator(0.05, 10, true)
	n := 0
	for n < 10000 && !acc.IsConverged() {
		acc.Accept(10 + rng.Float64())
		n++
	}
	require.True(t, acc.IsConverged())
	require.GreaterOrEqual(t, acc.Accepted(), 10)
	require.InDelta(t, 10.5, acc.Result()/float64(acc.Accepted()), 0.5)
}

func TestNearNeighborVisitor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := rcfstore.NewStore[float64](rcfstore.StoreConfig{Capacity: 8, Dimensions: 2})
	require.NoError(t, err)
	tree := rcftree.NewCompactTree[float64](rcftree.Config{
		Capacity:             4,
		Dimensions:           2,
		StoreSequenceIndexes: true,
	}, rand.New(rand.NewSource(14)), store)

	p := []float64{1, 1}
	h, err := store.Add(ctx, p)
	require.NoError(t, err)
	_, err = tree.Insert(p, h, 42)
	require.NoError(t, err)

	v := NewNearNeighborVisitor([]float64{1.1, 1}, 0.5)
	require.NoError(t, tree.Traverse([]float64{1.1, 1}, v))
	n, ok := v.Result()
	require.True(t, ok)
	require.Equal(t, []float64{1, 1}, n.Point)
	require.InDelta(t, 0.1, n.Distance, 1e-12)
	require.Equal(t, []uint64{42}, n.SequenceIndexes)

	v = NewNearNeighborVisitor([]float64{9, 9}, 0.5)
	require.NoError(t, tree.Traverse([]float64{9, 9}, v))
	_, ok = v.Result()
	require.False(t, ok)
}

func TestImputeVisitor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := rcfstore.NewStore[float64](rcfstore.StoreConfig{Capacity: 64, Dimensions: 2})
	require.NoError(t, err)
	tree := rcftree.NewCompactTree[float64](rcftree.Config{Capacity: 32, Dimensions: 2},
		rand.New(rand.NewSource(15)), store)
	rng := rand.New(rand.NewSource(16))

	// Two tight clusters; the present coordinate picks the
	// cluster, the imputed one must follow it.
	for seq := uint64(0); seq < 32; seq++ {
		base := 0.0
		if seq%2 == 1 {
			base = 10
		}
		p := []float64{base + rng.Float64()*0.1, base + rng.Float64()*0.1}
		h, err := store.Add(ctx, p)
		require.NoError(t, err)
		_, err = tree.Insert(p, h, seq)
		require.NoError(t, err)
	}

	query := []float64{10.05, 0}
	v := NewImputeVisitor(query, []int{1}, tree.Mass(), 1, rng)
	require.NoError(t, tree.TraverseMulti(query, v))
	imputed, _ := v.Result()
	require.InDelta(t, 10, imputed[1], 0.5,
		"the missing coordinate must come from the cluster the present coordinate selects")
	require.InDelta(t, 10.05, imputed[0], 1e-12, "present coordinates are untouched")
}

func TestInterpolationVisitorDensity(t *testing.T) {
	t.Parallel()
	tree := buildTree(t, 2, 128, 17)

	inside := NewInterpolationVisitor([]float64{0, 0}, tree.Mass())
	require.NoError(t, tree.Traverse([]float64{0, 0}, inside))
	far := NewInterpolationVisitor([]float64{25, 25}, tree.Mass())
	require.NoError(t, tree.Traverse([]float64{25, 25}, far))

	insideOut := DensityOutput{InterpolationMeasure: *inside.Result()}
	farOut := DensityOutput{InterpolationMeasure: *far.Result()}
	require.Greater(t, insideOut.Density(), farOut.Density(),
		"density at the sample mass must exceed density far away")
}
