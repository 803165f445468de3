// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package jsonutil_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"git.lukeshu.com/rcforest/lib/jsonutil"
)

func TestHexStringRoundTrip(t *testing.T) {
	t.Parallel()
	for _, tc := range [][]byte{
		nil,
		{0x00},
		{0xde, 0xad, 0xbe, 0xef},
		bytes.Repeat([]byte{0xab, 0x01}, 100),
	} {
		var enc strings.Builder
		require.NoError(t, jsonutil.EncodeHexString(&enc, tc))

		var dec bytes.Buffer
		require.NoError(t, jsonutil.DecodeHexString(strings.NewReader(enc.String()), &dec))
		require.Equal(t, tc, append([]byte(nil), dec.Bytes()...))
	}
}

func TestSplitHexStringRoundTrip(t *testing.T) {
	t.Parallel()
	for _, n := range []int{0, 1, 16, 17, 200} {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i * 7)
		}
		var enc strings.Builder
		require.NoError(t, jsonutil.EncodeSplitHexString(&enc, data, 16))
		if n > 16 {
			require.True(t, strings.HasPrefix(enc.String(), "["),
				"long blobs are split in to an array")
		}

		var dec bytes.Buffer
		require.NoError(t, jsonutil.DecodeSplitHexString(strings.NewReader(enc.String()), &dec))
		require.Equal(t, data, append([]byte{}, dec.Bytes()...))
	}
}
