// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package jsonutil provides utilities for implementing the interfaces
// consumed by the "git.lukeshu.com/go/lowmemjson" package.
package jsonutil

import (
	"io"

	"git.lukeshu.com/go/lowmemjson"
)

const hextable = "0123456789abcdef"

func EncodeHexString[T ~[]byte | ~string](w io.Writer, str T) error {
	var buf [2]byte
	buf[0] = '"'
	if _, err := w.Write(buf[:1]); err != nil {
		return err
	}
	for i := 0; i < len(str); i++ {
		buf[0] = hextable[str[i]>>4]
		buf[1] = hextable[str[i]&0x0f]
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	buf[0] = '"'
	if _, err := w.Write(buf[:1]); err != nil {
		return err
	}
	return nil
}

func DecodeHexString(r io.RuneScanner, dst io.ByteWriter) error {
	dec := &hexDecoder{dst: dst}
	if err := lowmemjson.DecodeString(r, dec); err != nil {
		return err
	}
	return dec.Close()
}

// EncodeSplitHexString is like EncodeHexString, but long strings are
// split in to an array of strings of at most lineLen bytes each, to
// keep large blobs diffable.
func EncodeSplitHexString[T ~[]byte | ~string](w io.Writer, str T, lineLen int) error {
	if len(str) <= lineLen {
		return EncodeHexString(w, str)
	}
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	for i := 0; i < len(str); i += lineLen {
		if i > 0 {
			if _, err := io.WriteString(w, ","); err != nil {
				return err
			}
		}
		end := i + lineLen
		if end > len(str) {
			end = len(str)
		}
		if err := EncodeHexString(w, str[i:end]); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, "]"); err != nil {
		return err
	}
	return nil
}

// DecodeSplitHexString accepts either a plain hex string or an array
// of hex strings, as written by EncodeSplitHexString.
func DecodeSplitHexString(r io.RuneScanner, dst io.ByteWriter) error {
	c, _, err := r.ReadRune()
	if err != nil {
		return err
	}
	if err := r.UnreadRune(); err != nil {
		return err
	}
	if c != '[' {
		return DecodeHexString(r, dst)
	}
	return lowmemjson.DecodeArray(r, func(r io.RuneScanner) error {
		return DecodeHexString(r, dst)
	})
}
