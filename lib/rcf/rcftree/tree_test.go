// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rcftree

import (
	"context"
	"math/rand"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"

	"git.lukeshu.com/rcforest/lib/rcf/rcfstore"
)

type backend struct {
	name    string
	newTree func(cfg Config, rng *rand.Rand, store *rcfstore.Store[float64]) Tree[float64]
}

func backends() []backend {
	return []backend{
		{
			name: "pointer",
			newTree: func(cfg Config, rng *rand.Rand, _ *rcfstore.Store[float64]) Tree[float64] {
				return NewPointerTree[float64](cfg, rng)
			},
		},
		{
			name: "compact",
			newTree: func(cfg Config, rng *rand.Rand, store *rcfstore.Store[float64]) Tree[float64] {
				return NewCompactTree[float64](cfg, rng, store)
			},
		},
		{
			name: "compact/uncached-boxes",
			newTree: func(cfg Config, rng *rand.Rand, store *rcfstore.Store[float64]) Tree[float64] {
				cfg.BoundingBoxCacheFraction = 0.4
				return NewCompactTree[float64](cfg, rng, store)
			},
		},
	}
}

func newTestStore(t *testing.T, capacity, dims int) *rcfstore.Store[float64] {
	store, err := rcfstore.NewStore[float64](rcfstore.StoreConfig{
		Capacity:   capacity,
		Dimensions: dims,
	})
	require.NoError(t, err)
	return store
}

func requireConsistent(t *testing.T, tree Tree[float64]) {
	t.Helper()
	if err := tree.CheckConsistency(); err != nil {
		t.Fatalf("inconsistent tree: %v\n%s", err, spew.Sdump(tree))
	}
}

func TestTreeDuplicateCoalescing(t *testing.T) {
	t.Parallel()
	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := newTestStore(t, 16, 2)
			tree := b.newTree(Config{Capacity: 8, Dimensions: 2}, rand.New(rand.NewSource(1)), store)

			point := []float64{0, 0}
			h, err := store.Add(ctx, point)
			require.NoError(t, err)
			for seq := uint64(0); seq < 8; seq++ {
				canonical, err := tree.Insert(point, h, seq)
				require.NoError(t, err)
				require.Equal(t, h, canonical)
			}
			require.Equal(t, 8, tree.Mass())
			requireConsistent(t, tree)

			for seq := uint64(0); seq < 8; seq++ {
				require.NoError(t, tree.Delete(point, h, seq))
				require.Equal(t, 7-int(seq), tree.Mass())
				requireConsistent(t, tree)
			}
			require.ErrorIs(t, tree.Delete(point, h, 99), ErrPointNotFound)
		})
	}
}

func TestTreeCanonicalHandle(t *testing.T) {
	t.Parallel()
	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := newTestStore(t, 16, 2)
			tree := b.newTree(Config{Capacity: 8, Dimensions: 2}, rand.New(rand.NewSource(2)), store)

			p := []float64{1, 2}
			h1, err := store.Add(ctx, p)
			require.NoError(t, err)
			canonical, err := tree.Insert(p, h1, 0)
			require.NoError(t, err)
			require.Equal(t, h1, canonical)

			// A second handle with identical content coalesces
			// in to the existing leaf.
			h2, err := store.Add(ctx, []float64{9, 9})
			require.NoError(t, err)
			_, err = tree.Insert([]float64{9, 9}, h2, 1)
			require.NoError(t, err)
			h3, err := store.Add(ctx, p)
			require.NoError(t, err)
			canonical, err = tree.Insert(p, h3, 2)
			require.NoError(t, err)
			require.Equal(t, h1, canonical)
			require.Equal(t, 3, tree.Mass())
			requireConsistent(t, tree)
		})
	}
}

func TestTreeChurn(t *testing.T) {
	t.Parallel()
	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			const capacity = 32
			store := newTestStore(t, 4*capacity, 3)
			tree := b.newTree(Config{
				Capacity:             capacity,
				Dimensions:           3,
				StoreSequenceIndexes: true,
				CenterOfMass:         true,
			}, rand.New(rand.NewSource(3)), store)
			rng := rand.New(rand.NewSource(4))

			type entry struct {
				point  []float64
				handle rcfstore.Handle
				seq    uint64
			}
			var live []entry
			for seq := uint64(0); seq < 600; seq++ {
				if len(live) == capacity {
					j := rng.Intn(len(live))
					e := live[j]
					require.NoError(t, tree.Delete(e.point, e.handle, e.seq))
					require.NoError(t, store.DecrementRef(e.handle))
					live = append(live[:j], live[j+1:]...)
				}
				p := []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
				h, err := store.Add(ctx, p)
				require.NoError(t, err)
				canonical, err := tree.Insert(p, h, seq)
				require.NoError(t, err)
				require.Equal(t, h, canonical)
				live = append(live, entry{point: p, handle: h, seq: seq})

				require.Equal(t, len(live), tree.Mass(),
					"tree mass must equal the number of live entries")
				if seq%25 == 0 {
					requireConsistent(t, tree)
				}
			}
			requireConsistent(t, tree)
			require.Equal(t, capacity, tree.Mass())
		})
	}
}

// depthRecorder checks the unwind order of Traverse: leaf first, then
// ancestors bottom-up at strictly decreasing depths.
type depthRecorder struct {
	leafDepth int
	depths    []int
}

func (v *depthRecorder) AcceptLeaf(leaf NodeView[float64], depth int) {
	v.leafDepth = depth
	if leaf.LeafPoint() == nil {
		panic("AcceptLeaf called on an internal node")
	}
}

func (v *depthRecorder) Accept(node NodeView[float64], depth int) {
	if node.LeafPoint() != nil {
		panic("Accept called on a leaf")
	}
	v.depths = append(v.depths, depth)
}

func (v *depthRecorder) IsConverged() bool { return false }

func TestTreeTraverseOrder(t *testing.T) {
	t.Parallel()
	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := newTestStore(t, 64, 2)
			tree := b.newTree(Config{Capacity: 32, Dimensions: 2}, rand.New(rand.NewSource(5)), store)

			var rec depthRecorder
			require.ErrorIs(t, tree.Traverse([]float64{0, 0}, &rec), ErrEmptyTree)

			rng := rand.New(rand.NewSource(6))
			for seq := uint64(0); seq < 32; seq++ {
				p := []float64{rng.Float64(), rng.Float64()}
				h, err := store.Add(ctx, p)
				require.NoError(t, err)
				_, err = tree.Insert(p, h, seq)
				require.NoError(t, err)
			}

			rec = depthRecorder{}
			require.NoError(t, tree.Traverse([]float64{0.5, 0.5}, &rec))
			require.Len(t, rec.depths, rec.leafDepth)
			for i, d := range rec.depths {
				require.Equal(t, rec.leafDepth-1-i, d, "unwind depth order")
			}
		})
	}
}

func TestTreeSequenceIndexes(t *testing.T) {
	t.Parallel()
	for _, b := range backends() {
		b := b
		t.Run(b.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := newTestStore(t, 16, 1)
			tree := b.newTree(Config{
				Capacity:             8,
				Dimensions:           1,
				StoreSequenceIndexes: true,
			}, rand.New(rand.NewSource(7)), store)

			p := []float64{5}
			h, err := store.Add(ctx, p)
			require.NoError(t, err)
			for _, seq := range []uint64{3, 8, 21} {
				_, err := tree.Insert(p, h, seq)
				require.NoError(t, err)
			}

			var got []uint64
			visitor := &leafSeqVisitor{out: &got}
			require.NoError(t, tree.Traverse(p, visitor))
			require.ElementsMatch(t, []uint64{3, 8, 21}, got)

			require.NoError(t, tree.Delete(p, h, 8))
			got = nil
			require.NoError(t, tree.Traverse(p, visitor))
			require.ElementsMatch(t, []uint64{3, 21}, got)
		})
	}
}

type leafSeqVisitor struct {
	out *[]uint64
}

func (v *leafSeqVisitor) AcceptLeaf(leaf NodeView[float64], depth int) {
	*v.out = append(*v.out, leaf.SequenceIndexes()...)
}
func (v *leafSeqVisitor) Accept(NodeView[float64], int) {}
func (v *leafSeqVisitor) IsConverged() bool             { return true }

func TestBoxProbabilityOfSeparation(t *testing.T) {
	t.Parallel()
	box := &Box[float64]{Min: []float64{0, 0}, Max: []float64{2, 2}}
	require.True(t, box.Contains([]float64{1, 1}))
	require.True(t, box.Contains([]float64{2, 0}))
	require.False(t, box.Contains([]float64{4, 1}))
	require.Equal(t, 2.0, box.Range(0))
	require.Equal(t, 4.0, box.RangeSum())

	require.Equal(t, 0.0, box.ProbabilityOfSeparation([]float64{1, 1}))
	require.Equal(t, 0.0, box.ProbabilityOfSeparation([]float64{2, 0}))
	// Extending [0,2]x[0,2] by (4,1): growth 2 over total range
	// 4+2.
	require.InDelta(t, 2.0/6.0, box.ProbabilityOfSeparation([]float64{4, 1}), 1e-15)
}

func TestDrawCutWithinRange(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(8))
	box := &Box[float64]{Min: []float64{0, 10}, Max: []float64{1, 20}}
	for i := 0; i < 1000; i++ {
		point := []float64{rng.Float64()*4 - 2, rng.Float64()*40 - 10}
		cut := drawCut(rng, point, box)
		lo, hi := box.Min[cut.Dim], box.Max[cut.Dim]
		if point[cut.Dim] < lo {
			lo = point[cut.Dim]
		}
		if point[cut.Dim] > hi {
			hi = point[cut.Dim]
		}
		require.GreaterOrEqual(t, cut.Value, lo)
		require.Less(t, cut.Value, hi)
	}
}
