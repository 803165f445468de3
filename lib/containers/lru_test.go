// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package containers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLRUCache(t *testing.T) {
	t.Parallel()
	c := NewLRUCache[int, string](4)
	for i := 0; i < 16; i++ {
		c.Add(i, "x")
	}
	require.LessOrEqual(t, c.Len(), 4)

	c.Add(100, "y")
	v, ok := c.Get(100)
	require.True(t, ok)
	require.Equal(t, "y", v)

	c.Remove(100)
	_, ok = c.Get(100)
	require.False(t, ok)

	c.Purge()
	require.Zero(t, c.Len())
}
