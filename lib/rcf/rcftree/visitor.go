// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rcftree

import (
	"golang.org/x/exp/constraints"

	"git.lukeshu.com/rcforest/lib/rcf/rcfstore"
)

// A NodeView is the read-only window that a traversal hands to a
// visitor at each node on the path.  Views are only valid for the
// duration of the Accept/AcceptLeaf call they are passed to.
type NodeView[T constraints.Float] interface {
	// Mass is the subtree mass at this node; at a leaf it is the
	// number of times the leaf's point has been inserted.
	Mass() int

	// BoundingBox is the minimum axis-aligned box containing all
	// leaf points in this node's subtree; at a leaf it is
	// degenerate.  The returned box is borrowed and must not be
	// mutated or retained.
	BoundingBox() *Box[T]

	// Cut returns this internal node's cut; at a leaf the values
	// are meaningless.
	Cut() (dim int, value T)

	// LeafPoint returns the stored point at a leaf, nil at an
	// internal node.  The slice is borrowed.
	LeafPoint() []T

	// LeafHandle returns the store handle at a leaf, NoHandle at
	// an internal node.
	LeafHandle() rcfstore.Handle

	// SequenceIndexes returns the retained insertion sequence
	// indexes at a leaf, or nil when retention is disabled.
	SequenceIndexes() []uint64

	// CenterOfMass returns the mean of all leaf points in this
	// node's subtree when center-of-mass maintenance is enabled,
	// nil otherwise.  The slice is freshly allocated.
	CenterOfMass() []T
}

// A Visitor drives per-node computation during a traversal.  The
// traversal descends from the root along the unique path determined
// by per-node cuts until a leaf is reached, then unwinds: AcceptLeaf
// fires first, then Accept for each ancestor bottom-up.  Once
// IsConverged reports true the remaining Accept calls are skipped.
type Visitor[T constraints.Float] interface {
	Accept(node NodeView[T], depth int)
	AcceptLeaf(leaf NodeView[T], depth int)
	IsConverged() bool
}

// A MultiVisitor additionally supports branching: when Trigger
// reports true at an internal node, the traversal forks a copy down
// the subtree the plain path does not take, and the results are
// merged with Combine on the way up.
type MultiVisitor[T constraints.Float] interface {
	Visitor[T]
	Trigger(node NodeView[T]) bool
	NewCopy() MultiVisitor[T]
	Combine(other MultiVisitor[T])
}
