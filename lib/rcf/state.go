// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rcf

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"sort"

	"git.lukeshu.com/go/lowmemjson"
	"golang.org/x/exp/constraints"

	"git.lukeshu.com/rcforest/lib/jsonutil"
	"git.lukeshu.com/rcforest/lib/rcf/rcfsampler"
	"git.lukeshu.com/rcforest/lib/rcf/rcfstore"
	"git.lukeshu.com/rcforest/lib/rcf/rcftree"
	"git.lukeshu.com/rcforest/lib/textui"
)

// HexData is a byte string that serializes as split hex rather than
// base64, keeping large packed-float blobs diffable.
type HexData []byte

var (
	_ lowmemjson.Encodable = HexData(nil)
	_ lowmemjson.Decodable = (*HexData)(nil)
)

func (o HexData) EncodeJSON(w io.Writer) error {
	return jsonutil.EncodeSplitHexString(w, []byte(o), textui.Tunable(80))
}

func (o *HexData) DecodeJSON(r io.RuneScanner) error {
	var buf hexBuffer
	if err := jsonutil.DecodeSplitHexString(r, &buf); err != nil {
		return err
	}
	*o = HexData(buf)
	return nil
}

type hexBuffer []byte

func (b *hexBuffer) WriteByte(c byte) error {
	*b = append(*b, c)
	return nil
}

// StoreImage is the persisted form of the shared point store.
type StoreImage struct {
	Config    rcfstore.StoreConfig
	Data      HexData
	Locations []int32
	RefCounts []uint16
	Occupied  []bool
	FreeSeg   int32
}

// State is the persisted form of a Forest: configuration, the
// sequence counter, the point store image, and each sampler's
// entries.  Tree structure is not part of the contract; trees are
// rebuilt by re-inserting each sampler's entries on restore.
type State struct {
	Options      Options
	Seq          uint64
	TotalUpdates uint64
	Store        StoreImage
	Samplers     [][]rcfsampler.Entry
}

// State captures f.
func (f *Forest[T]) State() *State {
	ss := f.store.State()
	st := &State{
		Options:      f.opts,
		Seq:          f.seq,
		TotalUpdates: f.totalUpdates,
		Store: StoreImage{
			Config:    ss.Config,
			Data:      HexData(ss.Data),
			Locations: ss.Locations,
			RefCounts: ss.RefCounts,
			Occupied:  ss.Occupied,
			FreeSeg:   ss.FreeSeg,
		},
	}
	for _, c := range f.components {
		st.Samplers = append(st.Samplers, c.sampler.Entries())
	}
	return st
}

// WriteState serializes f as JSON.
func (f *Forest[T]) WriteState(w io.Writer) error {
	return lowmemjson.NewEncoder(w).Encode(f.State())
}

// ReadState deserializes a State written by WriteState.
func ReadState(r io.Reader) (*State, error) {
	var st State
	if err := lowmemjson.NewDecoder(bufio.NewReader(r)).Decode(&st); err != nil {
		return nil, err
	}
	return &st, nil
}

// NewFromState reconstructs a Forest from a snapshot: the point
// store is restored byte-for-byte, samplers from their entries, and
// each tree by re-inserting its sampler's entries in stream order.
// Tree shapes are re-randomized by the rebuild; scores are
// statistically, not bitwise, continuous across a snapshot/restore
// cycle.
func NewFromState[T constraints.Float](st *State) (*Forest[T], error) {
	opts := st.Options.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	var zero T
	if _, single := any(zero).(float32); single && !opts.Compact {
		return nil, fmt.Errorf("rcf: single precision requires the compact back-end: %w", ErrInvalidArgument)
	}
	if len(st.Samplers) != opts.NumberOfTrees {
		return nil, fmt.Errorf("rcf: state has %v samplers, options call for %v trees: %w",
			len(st.Samplers), opts.NumberOfTrees, ErrInvalidArgument)
	}

	store, err := rcfstore.NewStoreFromState[T](rcfstore.StoreState{
		Config:    st.Store.Config,
		Data:      []byte(st.Store.Data),
		Locations: st.Store.Locations,
		RefCounts: st.Store.RefCounts,
		Occupied:  st.Store.Occupied,
		FreeSeg:   st.Store.FreeSeg,
	})
	if err != nil {
		return nil, err
	}

	f := &Forest[T]{
		opts:         opts,
		store:        store,
		rng:          rand.New(rand.NewSource(opts.RandomSeed.Val)),
		seq:          st.Seq,
		totalUpdates: st.TotalUpdates,
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
		sampler, err := rcfsampler.NewFromEntries(opts.SampleSize, opts.TimeDecay.Val, samplerRNG, st.Samplers[i])
		if err != nil {
			return nil, err
		}
		c := &component[T]{
			sampler: sampler,
			rng:     rand.New(rand.NewSource(f.rng.Int63())),
		}
		if opts.Compact {
			c.tree = rcftree.NewCompactTree[T](treeCfg, treeRNG, store)
		} else {
			c.tree = rcftree.NewPointerTree[T](treeCfg, treeRNG)
		}

		entries := append([]rcfsampler.Entry(nil), st.Samplers[i]...)
		sort.Slice(entries, func(a, b int) bool { return entries[a].Seq < entries[b].Seq })
		for _, e := range entries {
			point, err := store.Ref(e.Handle)
			if err != nil {
				return nil, fmt.Errorf("rcf: sampler %v entry seq=%v: %w", i, e.Seq, err)
			}
			if _, err := c.tree.Insert(point, e.Handle, e.Seq); err != nil {
				return nil, fmt.Errorf("rcf: sampler %v entry seq=%v: %w", i, e.Seq, err)
			}
		}
		f.components = append(f.components, c)
	}
	return f, nil
}
