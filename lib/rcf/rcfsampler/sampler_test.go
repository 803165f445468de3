// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rcfsampler

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"git.lukeshu.com/rcforest/lib/rcf/rcfstore"
)

func TestSamplerFill(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(8, 0, rand.New(rand.NewSource(1)))

	for seq := uint64(0); seq < 8; seq++ {
		evicted, accepted := s.Offer(ctx, seq)
		require.True(t, accepted, "seq %v must be admitted while filling", seq)
		require.Nil(t, evicted, "no eviction while filling")
		s.Admit(rcfstore.Handle(seq), seq)
	}
	require.True(t, s.IsFull())
	require.Equal(t, 8, s.Size())
}

func TestSamplerSteadyState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(256, 1.0/2560, rand.New(rand.NewSource(2)))

	admissions, evictions := 0, 0
	for seq := uint64(0); seq < 10000; seq++ {
		evicted, accepted := s.Offer(ctx, seq)
		if accepted {
			admissions++
			if evicted != nil {
				evictions++
			}
			s.Admit(rcfstore.Handle(seq%4096), seq)
		} else {
			require.Nil(t, evicted, "rejections must not evict")
		}
		require.LessOrEqual(t, s.Size(), 256)
		if seq >= 256 {
			require.Equal(t, 256, s.Size(), "reservoir must stay full after filling")
		}
	}
	// Once full, every admission pairs with exactly one eviction.
	require.Equal(t, admissions-256, evictions)
}

func TestSamplerTimeDecayBias(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(128, 0.01, rand.New(rand.NewSource(3)))

	for seq := uint64(0); seq < 8192; seq++ {
		if _, accepted := s.Offer(ctx, seq); accepted {
			s.Admit(rcfstore.Handle(1), seq)
		}
	}
	var newer int
	for _, entry := range s.Entries() {
		if entry.Seq >= 4096 {
			newer++
		}
	}
	// With λ=0.01 the sample is overwhelmingly recent.
	require.Greater(t, newer, 96, "time decay must bias the sample toward recent points")
}

func TestSamplerOfferAdmitContract(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(4, 0, rand.New(rand.NewSource(4)))

	_, accepted := s.Offer(ctx, 0)
	require.True(t, accepted)
	require.Panics(t, func() { s.Offer(ctx, 1) }, "Offer before Admit completes")
	s.Admit(7, 0)
	require.Panics(t, func() { s.Admit(8, 1) }, "Admit without a pending Offer")
}

func TestSamplerRestoreFromEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(16, 0.001, rand.New(rand.NewSource(5)))
	for seq := uint64(0); seq < 100; seq++ {
		if _, accepted := s.Offer(ctx, seq); accepted {
			s.Admit(rcfstore.Handle(seq), seq)
		}
	}

	entries := s.Entries()
	restored, err := NewFromEntries(16, 0.001, rand.New(rand.NewSource(6)), entries)
	require.NoError(t, err)
	require.Equal(t, s.Size(), restored.Size())
	require.ElementsMatch(t, entries, restored.Entries())

	_, err = NewFromEntries(4, 0.001, rand.New(rand.NewSource(7)), entries)
	require.Error(t, err)

	// The restored heap must keep evicting correctly.
	for seq := uint64(100); seq < 200; seq++ {
		full := restored.IsFull()
		if evicted, accepted := restored.Offer(ctx, seq); accepted {
			if full {
				require.NotNil(t, evicted)
			}
			restored.Admit(rcfstore.Handle(seq), seq)
		}
		require.LessOrEqual(t, restored.Size(), 16)
	}
}
