// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rcfstore

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"git.lukeshu.com/rcforest/lib/containers"
)

func TestIndexManagerTakeAll(t *testing.T) {
	t.Parallel()
	m := NewIndexManager(16)
	seen := make(containers.Set[int32])
	for i := 0; i < 16; i++ {
		idx, err := m.Take()
		require.NoError(t, err)
		require.False(t, seen.Has(idx), "index %v handed out twice", idx)
		require.GreaterOrEqual(t, idx, int32(0))
		require.Less(t, idx, int32(16))
		seen.Insert(idx)
	}
	_, err := m.Take()
	require.ErrorIs(t, err, ErrExhaustedCapacity)
	require.Equal(t, 16, m.Occupied())
}

func TestIndexManagerRelease(t *testing.T) {
	t.Parallel()
	m := NewIndexManager(4)
	a, _ := m.Take()
	b, _ := m.Take()
	m.Release(a)
	require.True(t, m.IsFree(a))
	require.False(t, m.IsFree(b))
	require.Panics(t, func() { m.Release(a) })
	require.Panics(t, func() { m.Release(99) })
}

func TestIndexManagerExtend(t *testing.T) {
	t.Parallel()
	m := NewIndexManager(2)
	_, _ = m.Take()
	_, _ = m.Take()
	_, err := m.Take()
	require.ErrorIs(t, err, ErrExhaustedCapacity)
	m.Extend(4)
	require.Equal(t, 4, m.Capacity())
	idx, err := m.Take()
	require.NoError(t, err)
	require.GreaterOrEqual(t, idx, int32(2))
}

func TestIndexManagerBitsetRoundTrip(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(1))
	m := NewIndexManager(64)
	var live []int32
	for i := 0; i < 200; i++ {
		if len(live) == 0 || (rng.Intn(2) == 0 && len(live) < 64) {
			idx, err := m.Take()
			require.NoError(t, err)
			live = append(live, idx)
		} else {
			j := rng.Intn(len(live))
			m.Release(live[j])
			live = append(live[:j], live[j+1:]...)
		}
	}
	bitset := m.OccupiedBitset()
	restored := NewIndexManagerFromBitset(bitset)
	require.Equal(t, m.Occupied(), restored.Occupied())
	require.Equal(t, m.Capacity(), restored.Capacity())
	for i := int32(0); i < 64; i++ {
		require.Equal(t, m.IsFree(i), restored.IsFree(i), "index %v", i)
	}
}

// FuzzIndexManager drives a tape of take/release operations against a
// reference set, checking that the interval-stack representation
// never hands out a live index or loses a free one.
func FuzzIndexManager(f *testing.F) {
	const capacity = 16
	Take := uint8(0b1000_0000)

	f.Add([]byte{})
	f.Add([]byte{Take, Take, Take, 0x01, Take, 0x00, 0x02})
	f.Fuzz(func(t *testing.T, tape []byte) {
		m := NewIndexManager(capacity)
		live := make(containers.Set[int32])
		for _, op := range tape {
			if op&Take != 0 {
				idx, err := m.Take()
				if live.Len() == capacity {
					require.ErrorIs(t, err, ErrExhaustedCapacity)
					continue
				}
				require.NoError(t, err)
				require.False(t, live.Has(idx))
				live.Insert(idx)
			} else {
				idx := int32(op % capacity)
				if !live.Has(idx) {
					require.Panics(t, func() { m.Release(idx) })
					continue
				}
				m.Release(idx)
				live.Delete(idx)
			}
			require.Equal(t, live.Len(), m.Occupied())
			for idx := int32(0); idx < capacity; idx++ {
				require.Equal(t, !live.Has(idx), m.IsFree(idx), "index %v", idx)
			}
		}
	})
}
