// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rcftree

import (
	"errors"

	"golang.org/x/exp/constraints"

	"git.lukeshu.com/rcforest/lib/rcf/rcfstore"
)

var (
	ErrPointNotFound     = errors.New("point not found in tree")
	ErrEmptyTree         = errors.New("tree is empty")
	ErrInconsistentState = errors.New("inconsistent tree state")
)

// Config is shared by both tree back-ends.
type Config struct {
	// Capacity is the maximum number of leaves (the sampler's
	// sample size); node count is bounded by 2*Capacity-1.
	Capacity int
	// Dimensions is the length of every point.
	Dimensions int
	// StoreSequenceIndexes retains per-leaf insertion sequence
	// indexes.
	StoreSequenceIndexes bool
	// CenterOfMass maintains per-subtree point sums.
	CenterOfMass bool
	// BoundingBoxCacheFraction is the fraction of internal nodes
	// whose bounding box is kept materialized; only the compact
	// back-end honors values below 1.
	BoundingBoxCacheFraction float64
}

// A Tree is a binary tree of axis-aligned random cuts over points.
//
// Insert and Delete are keyed by point content: a point bit-identical
// to an existing leaf coalesces in to that leaf (incrementing its
// mass) rather than growing the tree, and Insert returns the handle
// the caller's reference should be recorded under — the existing
// leaf's handle on coalescing, the offered handle otherwise.
type Tree[T constraints.Float] interface {
	Insert(point []T, h rcfstore.Handle, seq uint64) (rcfstore.Handle, error)
	Delete(point []T, h rcfstore.Handle, seq uint64) error

	Traverse(point []T, v Visitor[T]) error
	TraverseMulti(point []T, v MultiVisitor[T]) error

	Mass() int

	// CheckConsistency audits mass additivity, parent/child
	// symmetry, and bounding-box tightness, returning an error
	// wrapping ErrInconsistentState on the first violation.
	CheckConsistency() error
}
