// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rcfstore

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func testCtx(t *testing.T) context.Context {
	return context.Background()
}

func TestPointStoreAddGet(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	s, err := NewStore[float64](StoreConfig{Capacity: 8, Dimensions: 3})
	require.NoError(t, err)

	p := []float64{1.5, -2.25, 0}
	h, err := s.Add(ctx, p)
	require.NoError(t, err)
	got, err := s.Get(h)
	require.NoError(t, err)
	require.Equal(t, p, got)
	eq, err := s.PointEquals(h, p)
	require.NoError(t, err)
	require.True(t, eq)

	_, err = s.Add(ctx, []float64{1, 2})
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestPointStoreDedup(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	s, err := NewStore[float64](StoreConfig{Capacity: 8, Dimensions: 2})
	require.NoError(t, err)

	p := []float64{3, 4}
	h1, err := s.Add(ctx, p)
	require.NoError(t, err)
	h2, err := s.Add(ctx, p)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Equal(t, 2, s.RefCount(h1))
	require.Equal(t, 1, s.Size())

	// -0 is not bit-identical to +0, so no de-duplication.
	h3, err := s.Add(ctx, []float64{3, negZero()})
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)
}

func negZero() float64 {
	z := 0.0
	return -z
}

func TestPointStoreRefCounting(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	s, err := NewStore[float64](StoreConfig{Capacity: 2, Dimensions: 1})
	require.NoError(t, err)

	h1, err := s.Add(ctx, []float64{1})
	require.NoError(t, err)
	h2, err := s.Add(ctx, []float64{2})
	require.NoError(t, err)
	_, err = s.Add(ctx, []float64{3})
	require.ErrorIs(t, err, ErrExhaustedCapacity)

	require.NoError(t, s.IncrementRef(h1))
	require.NoError(t, s.DecrementRef(h1))
	require.NoError(t, s.DecrementRef(h1))
	require.ErrorIs(t, s.IncrementRef(h1), ErrInvalidHandle)
	_, err = s.Get(h1)
	require.ErrorIs(t, err, ErrInvalidHandle)

	// The freed slot is reusable.
	h3, err := s.Add(ctx, []float64{3})
	require.NoError(t, err)
	require.Equal(t, 1, s.RefCount(h3))
	got, err := s.Get(h2)
	require.NoError(t, err)
	require.Equal(t, []float64{2}, got)
}

func TestPointStoreShingleOverlap(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	// 4-dimensional shingles of 1-dimensional inputs: consecutive
	// points overlap in 3 of 4 entries and should share storage.
	s, err := NewStore[float64](StoreConfig{Capacity: 64, Dimensions: 4, ShingleSize: 4})
	require.NoError(t, err)

	var handles []Handle
	for i := 0; i < 32; i++ {
		p := []float64{float64(i), float64(i + 1), float64(i + 2), float64(i + 3)}
		h, err := s.Add(ctx, p)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for i, h := range handles {
		want := []float64{float64(i), float64(i + 1), float64(i + 2), float64(i + 3)}
		got, err := s.Get(h)
		require.NoError(t, err)
		require.Equal(t, want, got, "handle %v", h)
	}
}

func TestPointStoreCompaction(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	s, err := NewStore[float64](StoreConfig{Capacity: 8, Dimensions: 2})
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(3))

	// Churn far past the byte budget; dead segments must be
	// reclaimed for this to keep succeeding.
	live := make(map[Handle][]float64)
	var order []Handle
	for i := 0; i < 500; i++ {
		if len(order) == 8 {
			j := rng.Intn(len(order))
			h := order[j]
			require.NoError(t, s.DecrementRef(h))
			delete(live, h)
			order = append(order[:j], order[j+1:]...)
		}
		p := []float64{rng.NormFloat64(), rng.NormFloat64()}
		h, err := s.Add(ctx, p)
		require.NoError(t, err)
		live[h] = p
		order = append(order, h)
		for h, want := range live {
			got, err := s.Get(h)
			require.NoError(t, err)
			require.Equal(t, want, got)
		}
	}
}

func TestPointStoreStateRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := testCtx(t)
	s, err := NewStore[float32](StoreConfig{Capacity: 16, Dimensions: 2, ShingleSize: 2})
	require.NoError(t, err)

	var handles []Handle
	for i := 0; i < 10; i++ {
		h, err := s.Add(ctx, []float32{float32(i), float32(i) / 3})
		require.NoError(t, err)
		handles = append(handles, h)
	}
	require.NoError(t, s.DecrementRef(handles[4]))

	restored, err := NewStoreFromState[float32](s.State())
	require.NoError(t, err)
	require.Equal(t, s.Size(), restored.Size())
	for i, h := range handles {
		if i == 4 {
			require.Equal(t, 0, restored.RefCount(h))
			continue
		}
		want, err := s.Get(h)
		require.NoError(t, err)
		got, err := restored.Get(h)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}
