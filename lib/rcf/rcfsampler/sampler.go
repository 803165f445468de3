// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rcfsampler implements a time-decayed weighted reservoir
// sampler: each tree of a forest owns one, and it decides which
// stream points that tree admits and evicts.
package rcfsampler

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/datawire/dlib/dlog"

	"git.lukeshu.com/rcforest/lib/rcf/rcfstore"
)

// An Entry is one sampled point: the point's store handle, the
// stream position at which it was admitted, and the priority key
// that orders the reservoir.
type Entry struct {
	Handle rcfstore.Handle
	Seq    uint64
	Weight float64
}

// A Sampler maintains at most capacity entries representing a
// time-biased random sample of admitted handles.  Entries are kept in
// a binary max-heap on Weight; the root is always the next eviction
// candidate.
//
// Admission is split in two steps: Offer decides whether the point at
// a given stream position gets in (returning the evicted entry, if
// any), and Admit records the handle the point ended up stored under.
// The split exists because duplicate coalescing in the tree can remap
// the offered handle to an existing leaf's handle, and the reservoir
// must hold the handle the tree actually references.
type Sampler struct {
	capacity int
	lambda   float64
	rng      *rand.Rand

	heap []Entry

	pendingWeight float64
	pendingOK     bool

	maxSeq uint64
}

func New(capacity int, lambda float64, rng *rand.Rand) *Sampler {
	if capacity < 1 {
		panic(fmt.Errorf("rcfsampler.New: capacity=%v is not positive", capacity))
	}
	if lambda < 0 {
		panic(fmt.Errorf("rcfsampler.New: lambda=%v is negative", lambda))
	}
	return &Sampler{
		capacity: capacity,
		lambda:   lambda,
		rng:      rng,
		heap:     make([]Entry, 0, capacity),
	}
}

// NewFromEntries reconstructs a Sampler from previously sampled
// entries, such as when deserializing a forest.
func NewFromEntries(capacity int, lambda float64, rng *rand.Rand, entries []Entry) (*Sampler, error) {
	if len(entries) > capacity {
		return nil, fmt.Errorf("rcfsampler.NewFromEntries: %v entries exceed capacity %v",
			len(entries), capacity)
	}
	s := New(capacity, lambda, rng)
	s.heap = append(s.heap, entries...)
	for i := len(s.heap)/2 - 1; i >= 0; i-- {
		s.siftDown(i)
	}
	for _, entry := range entries {
		if entry.Seq > s.maxSeq {
			s.maxSeq = entry.Seq
		}
	}
	return s, nil
}

func (s *Sampler) Capacity() int  { return s.capacity }
func (s *Sampler) Size() int      { return len(s.heap) }
func (s *Sampler) IsFull() bool   { return len(s.heap) >= s.capacity }
func (s *Sampler) Lambda() float64 { return s.lambda }

// Entries returns a copy of the sampled entries, in heap order.  The
// order is stable for re-initialization but carries no meaning for
// scoring.
func (s *Sampler) Entries() []Entry {
	ret := make([]Entry, len(s.heap))
	copy(ret, s.heap)
	return ret
}

// Offer decides admission of the point at stream position seq.  When
// the decision is positive it must be completed with Admit; at most
// one admission happens per Offer.  Evictions happen only when the
// reservoir is full, and each admitting Offer past that point returns
// exactly one evicted entry.
func (s *Sampler) Offer(ctx context.Context, seq uint64) (evicted *Entry, accepted bool) {
	if s.pendingOK {
		panic(fmt.Errorf("rcfsampler.Sampler.Offer: previous Offer was not completed with Admit"))
	}
	if seq < s.maxSeq {
		dlog.Warnf(ctx, "sampler: non-monotonic sequence index %v (max seen %v)", seq, s.maxSeq)
	} else {
		s.maxSeq = seq
	}

	weight := s.computeWeight(seq)
	if !s.IsFull() {
		s.pendingWeight = weight
		s.pendingOK = true
		return nil, true
	}
	if weight < s.heap[0].Weight {
		ret := s.heap[0]
		s.popRoot()
		s.pendingWeight = weight
		s.pendingOK = true
		return &ret, true
	}
	return nil, false
}

// Admit completes an accepted Offer, recording the handle the
// admitted point is stored under.
func (s *Sampler) Admit(handle rcfstore.Handle, seq uint64) {
	if !s.pendingOK {
		panic(fmt.Errorf("rcfsampler.Sampler.Admit: no pending Offer"))
	}
	s.pendingOK = false
	s.heap = append(s.heap, Entry{
		Handle: handle,
		Seq:    seq,
		Weight: s.pendingWeight,
	})
	s.siftUp(len(s.heap) - 1)
}

// computeWeight returns -λ·seq + ln(−ln U) for U ~ Uniform(0,1).
// Lower is better; the max-heap root is the worst entry.
func (s *Sampler) computeWeight(seq uint64) float64 {
	u := s.rng.Float64()
	for u == 0 {
		u = s.rng.Float64()
	}
	return -s.lambda*float64(seq) + math.Log(-math.Log(u))
}

func (s *Sampler) popRoot() {
	last := len(s.heap) - 1
	s.heap[0] = s.heap[last]
	s.heap = s.heap[:last]
	if last > 0 {
		s.siftDown(0)
	}
}

func (s *Sampler) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if s.heap[parent].Weight >= s.heap[i].Weight {
			break
		}
		s.heap[parent], s.heap[i] = s.heap[i], s.heap[parent]
		i = parent
	}
}

func (s *Sampler) siftDown(i int) {
	n := len(s.heap)
	for {
		largest := i
		if l := 2*i + 1; l < n && s.heap[l].Weight > s.heap[largest].Weight {
			largest = l
		}
		if r := 2*i + 2; r < n && s.heap[r].Weight > s.heap[largest].Weight {
			largest = r
		}
		if largest == i {
			return
		}
		s.heap[i], s.heap[largest] = s.heap[largest], s.heap[i]
		i = largest
	}
}
