// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rcf

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/datawire/dlib/dlog"
	"golang.org/x/exp/constraints"

	"git.lukeshu.com/rcforest/lib/rcf/rcfsampler"
	"git.lukeshu.com/rcforest/lib/rcf/rcfstore"
	"git.lukeshu.com/rcforest/lib/rcf/rcftree"
	"git.lukeshu.com/rcforest/lib/textui"
)

// A component is one (sampler, tree) pair; each is owned exclusively
// by the component and touched by at most one worker at a time.
type component[T constraints.Float] struct {
	sampler *rcfsampler.Sampler
	tree    rcftree.Tree[T]
	rng     *rand.Rand
}

// A Forest is an ordered collection of (sampler, tree) components
// sharing one point store and one update coordinator.
//
// A Forest is single-writer with no concurrent readers: Update and
// queries must be externally serialized with respect to each other.
type Forest[T constraints.Float] struct {
	opts  Options
	store *rcfstore.Store[T]

	components []*component[T]

	rng          *rand.Rand
	seq          uint64
	totalUpdates uint64
}

// New constructs a Forest.  The type parameter selects the stored
// precision; float32 requires Options.Compact.
func New[T constraints.Float](opts Options) (*Forest[T], error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	var zero T
	if _, single := any(zero).(float32); single && !opts.Compact {
		return nil, fmt.Errorf("rcf: single precision requires the compact back-end: %w", ErrInvalidArgument)
	}

	store, err := rcfstore.NewStore[T](rcfstore.StoreConfig{
		// +1 leaves room for the transient reference Update
		// holds while components decide.
		Capacity:    opts.NumberOfTrees*opts.SampleSize + 1,
		Dimensions:  opts.Dimensions,
		ShingleSize: opts.ShingleSize,
		Rotation:    opts.CyclicShingles,
	})
	if err != nil {
		return nil, err
	}

	f := &Forest[T]{
		opts:  opts,
		store: store,
		rng:   rand.New(rand.NewSource(opts.RandomSeed.Val)),
	}
	treeCfg := rcftree.Config{
		Capacity:                 opts.SampleSize,
		Dimensions:               opts.Dimensions,
		StoreSequenceIndexes:     opts.StoreSequenceIndexes,
		CenterOfMass:             opts.CenterOfMass,
		BoundingBoxCacheFraction: opts.BoundingBoxCacheFraction.Val,
	}
	for i := 0; i < opts.NumberOfTrees; i++ {
		samplerRNG := rand.New(rand.NewSource(f.rng.Int63()))
		treeRNG := rand.New(rand.NewSource(f.rng.Int63()))
		c := &component[T]{
			sampler: rcfsampler.New(opts.SampleSize, opts.TimeDecay.Val, samplerRNG),
			rng:     rand.New(rand.NewSource(f.rng.Int63())),
		}
		if opts.Compact {
			c.tree = rcftree.NewCompactTree[T](treeCfg, treeRNG, store)
		} else {
			c.tree = rcftree.NewPointerTree[T](treeCfg, treeRNG)
		}
		f.components = append(f.components, c)
	}
	return f, nil
}

func (f *Forest[T]) Dimensions() int      { return f.opts.Dimensions }
func (f *Forest[T]) NumberOfTrees() int   { return f.opts.NumberOfTrees }
func (f *Forest[T]) SampleSize() int      { return f.opts.SampleSize }
func (f *Forest[T]) TotalUpdates() uint64 { return f.totalUpdates }

// IsOutputReady reports whether enough updates have been seen for
// queries to return non-neutral results.
func (f *Forest[T]) IsOutputReady() bool {
	return f.totalUpdates >= uint64(f.opts.OutputAfter)
}

// SamplersFull reports whether every reservoir is at capacity.
func (f *Forest[T]) SamplersFull() bool {
	for _, c := range f.components {
		if !c.sampler.IsFull() {
			return false
		}
	}
	return true
}

// updateResult is one component's contribution to an update, applied
// to the shared store after all components have joined.
type updateResult struct {
	accepted  bool
	canonical rcfstore.Handle
	evicted   *rcfsampler.Entry
}

// Update routes one stream point through every component: the point
// is stored once, each sampler decides admission, admitting trees
// insert (and delete the eviction, if any), and reference counts are
// settled on the calling goroutine after all components complete, so
// that a handle's count always equals the number of samplers holding
// it.
func (f *Forest[T]) Update(ctx context.Context, point []float64) error {
	if len(point) != f.opts.Dimensions {
		return fmt.Errorf("rcf.Forest.Update: point has %v dimensions, forest has %v: %w",
			len(point), f.opts.Dimensions, rcfstore.ErrDimensionMismatch)
	}
	p := toVec[T](point)
	h, err := f.store.Add(ctx, p)
	if err != nil {
		return err
	}
	seq := f.seq
	f.seq++

	results, err := forEachComponent(ctx, f, func(ctx context.Context, i int, c *component[T]) (updateResult, error) {
		var ret updateResult
		ret.evicted, ret.accepted = c.sampler.Offer(ctx, seq)
		if !ret.accepted {
			return ret, nil
		}
		if ret.evicted != nil {
			evictedPoint, err := f.store.Ref(ret.evicted.Handle)
			if err != nil {
				return ret, err
			}
			if err := c.tree.Delete(evictedPoint, ret.evicted.Handle, ret.evicted.Seq); err != nil {
				return ret, err
			}
		}
		canonical, err := c.tree.Insert(p, h, seq)
		if err != nil {
			return ret, err
		}
		c.sampler.Admit(canonical, seq)
		ret.canonical = canonical
		return ret, nil
	})
	if err != nil {
		return err
	}

	for _, r := range results {
		if !r.accepted {
			continue
		}
		if err := f.store.IncrementRef(r.canonical); err != nil {
			return err
		}
		if r.evicted != nil {
			if err := f.store.DecrementRef(r.evicted.Handle); err != nil {
				return err
			}
		}
	}
	if err := f.store.DecrementRef(h); err != nil {
		return err
	}
	f.totalUpdates++
	return nil
}

type batchStats struct {
	Done, Total int
}

func (s batchStats) String() string {
	return textui.Sprintf("... updated %v", textui.Portion[int]{N: s.Done, D: s.Total})
}

// UpdateBatch feeds a slice of points through Update, reporting
// progress.
func (f *Forest[T]) UpdateBatch(ctx context.Context, points [][]float64) error {
	progress := textui.NewProgress[batchStats](ctx, dlog.LogLevelDebug, textui.Tunable(time.Second))
	defer progress.Done()
	for i, point := range points {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f.Update(ctx, point); err != nil {
			return fmt.Errorf("point %v: %w", i, err)
		}
		progress.Set(batchStats{Done: i + 1, Total: len(points)})
	}
	return nil
}

// CheckConsistency audits every tree and the cross-component
// reference-count invariant.
func (f *Forest[T]) CheckConsistency() error {
	refs := make(map[rcfstore.Handle]int)
	for i, c := range f.components {
		if err := c.tree.CheckConsistency(); err != nil {
			return fmt.Errorf("component %v: %w", i, err)
		}
		if got, want := c.tree.Mass(), c.sampler.Size(); got != want {
			return fmt.Errorf("component %v: tree mass %v != sampler size %v: %w",
				i, got, want, rcftree.ErrInconsistentState)
		}
		for _, entry := range c.sampler.Entries() {
			refs[entry.Handle]++
		}
	}
	for h, want := range refs {
		if got := f.store.RefCount(h); got != want {
			return fmt.Errorf("handle %v: refcount %v, %v sampler references: %w",
				h, got, want, rcftree.ErrInconsistentState)
		}
	}
	return nil
}

func toVec[T constraints.Float](point []float64) []T {
	ret := make([]T, len(point))
	for i, v := range point {
		ret[i] = T(v)
	}
	return ret
}

func toFloat64[T constraints.Float](point []T) []float64 {
	ret := make([]float64, len(point))
	for i, v := range point {
		ret[i] = float64(v)
	}
	return ret
}
