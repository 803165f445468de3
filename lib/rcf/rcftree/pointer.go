// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package rcftree

import (
	"fmt"
	"math/rand"

	"golang.org/x/exp/constraints"

	"git.lukeshu.com/rcforest/lib/containers"
	"git.lukeshu.com/rcforest/lib/rcf/rcfstore"
)

// A pointerNode is either an internal node (left and right non-nil,
// box cached) or a leaf (left and right nil, point inline).  Parent
// pointers are non-owning; down-edges own.
type pointerNode[T constraints.Float] struct {
	parent, left, right *pointerNode[T]

	cut Cut[T]
	box *Box[T]

	// pointSum is the sum of all leaf points (weighted by leaf
	// mass) in this subtree; only maintained on internal nodes,
	// and only when center-of-mass maintenance is on.
	pointSum []T

	mass int32

	// leaf-only fields
	handle rcfstore.Handle
	point  []T
	seqs   []uint64
}

func (n *pointerNode[T]) isLeaf() bool { return n.left == nil }

// A PointerTree is the record-based random cut tree back-end.  Leaf
// point coordinates live inline, so the tree never needs to consult
// the point store; all internal bounding boxes are cached.
type PointerTree[T constraints.Float] struct {
	cfg  Config
	rng  *rand.Rand
	root *pointerNode[T]

	pathPool containers.SlicePool[*pointerNode[T]]
}

var _ Tree[float64] = (*PointerTree[float64])(nil)

func NewPointerTree[T constraints.Float](cfg Config, rng *rand.Rand) *PointerTree[T] {
	if cfg.Capacity < 1 || cfg.Dimensions < 1 {
		panic(fmt.Errorf("rcftree.NewPointerTree: capacity=%v dimensions=%v", cfg.Capacity, cfg.Dimensions))
	}
	return &PointerTree[T]{
		cfg: cfg,
		rng: rng,
	}
}

func (t *PointerTree[T]) Mass() int {
	if t.root == nil {
		return 0
	}
	return int(t.root.mass)
}

func (t *PointerTree[T]) newLeaf(point []T, h rcfstore.Handle, seq uint64) *pointerNode[T] {
	n := &pointerNode[T]{
		mass:   1,
		handle: h,
		point:  make([]T, len(point)),
	}
	copy(n.point, point)
	if t.cfg.StoreSequenceIndexes {
		n.seqs = []uint64{seq}
	}
	return n
}

// Insert adds point to the tree.  A point bit-identical to an
// existing leaf coalesces in to it, and the leaf's handle is
// returned; otherwise h is returned.
func (t *PointerTree[T]) Insert(point []T, h rcfstore.Handle, seq uint64) (rcfstore.Handle, error) {
	if len(point) != t.cfg.Dimensions {
		return rcfstore.NoHandle, fmt.Errorf("rcftree.PointerTree.Insert: %w", rcfstore.ErrDimensionMismatch)
	}
	if t.root == nil {
		t.root = t.newLeaf(point, h, seq)
		return h, nil
	}
	newRoot, canonical := t.insertAt(t.root, point, h, seq)
	newRoot.parent = nil
	t.root = newRoot
	return canonical, nil
}

// insertAt inserts point in to the subtree rooted at node, returning
// the node that takes node's place (node itself unless a new internal
// node was interposed) and the canonical handle.
func (t *PointerTree[T]) insertAt(node *pointerNode[T], point []T, h rcfstore.Handle, seq uint64) (*pointerNode[T], rcfstore.Handle) {
	if node.isLeaf() {
		if rcfstore.BitsEqual(node.point, point) {
			t.coalesce(node, point, seq)
			return node, node.handle
		}
		if mergedRangeSum(NewBox(node.point), point) <= 0 {
			// Bit-different but numerically identical (e.g.
			// -0 vs +0): no cut can separate, so coalesce.
			t.coalesce(node, point, seq)
			return node, node.handle
		}
	}

	box := t.nodeBox(node)
	cut := drawCut(t.rng, point, box)
	if cut.Value < box.Min[cut.Dim] || cut.Value >= box.Max[cut.Dim] {
		// The cut separates point from node's subtree: a new
		// internal node takes node's place.
		leaf := t.newLeaf(point, h, seq)
		merged := box.Copy()
		merged.AddPoint(point)
		newNode := &pointerNode[T]{
			cut:  cut,
			box:  merged,
			mass: node.mass + 1,
		}
		if leftOf(point[cut.Dim], cut) {
			newNode.left, newNode.right = leaf, node
		} else {
			newNode.left, newNode.right = node, leaf
		}
		leaf.parent, node.parent = newNode, newNode
		if t.cfg.CenterOfMass {
			newNode.pointSum = make([]T, t.cfg.Dimensions)
			addSubtreeSum(newNode.pointSum, node)
			addScaled(newNode.pointSum, point, 1)
		}
		return newNode, h
	}

	child := node.right
	wasLeft := leftOf(point[node.cut.Dim], node.cut)
	if wasLeft {
		child = node.left
	}
	newChild, canonical := t.insertAt(child, point, h, seq)
	if newChild != child {
		if wasLeft {
			node.left = newChild
		} else {
			node.right = newChild
		}
		newChild.parent = node
	}
	node.mass++
	node.box.AddPoint(point)
	if t.cfg.CenterOfMass {
		addScaled(node.pointSum, point, 1)
	}
	return node, canonical
}

func (t *PointerTree[T]) coalesce(leaf *pointerNode[T], point []T, seq uint64) {
	leaf.mass++
	if t.cfg.StoreSequenceIndexes {
		leaf.seqs = append(leaf.seqs, seq)
	}
	// Ancestors' masses and point sums are updated by insertAt as
	// it unwinds.
}

// Delete removes one occurrence of point from the tree.  The leaf is
// located by descending the stored cuts, not by searching.
func (t *PointerTree[T]) Delete(point []T, h rcfstore.Handle, seq uint64) error {
	if len(point) != t.cfg.Dimensions {
		return fmt.Errorf("rcftree.PointerTree.Delete: %w", rcfstore.ErrDimensionMismatch)
	}
	if t.root == nil {
		return fmt.Errorf("rcftree.PointerTree.Delete: handle %v: %w", h, ErrPointNotFound)
	}
	node := t.root
	for !node.isLeaf() {
		if leftOf(point[node.cut.Dim], node.cut) {
			node = node.left
		} else {
			node = node.right
		}
	}
	if !rcfstore.BitsEqual(node.point, point) && mergedRangeSum(NewBox(node.point), point) > 0 {
		return fmt.Errorf("rcftree.PointerTree.Delete: handle %v: %w", h, ErrPointNotFound)
	}

	if node.mass > 1 {
		node.mass--
		t.dropSeq(node, seq)
		for a := node.parent; a != nil; a = a.parent {
			a.mass--
			if t.cfg.CenterOfMass {
				addScaled(a.pointSum, point, -1)
			}
		}
		return nil
	}

	parent := node.parent
	if parent == nil {
		t.root = nil
		return nil
	}
	sibling := parent.left
	if sibling == node {
		sibling = parent.right
	}
	gp := parent.parent
	sibling.parent = gp
	if gp == nil {
		t.root = sibling
		return nil
	}
	if gp.left == parent {
		gp.left = sibling
	} else {
		gp.right = sibling
	}

	boxDirty := true
	for a := gp; a != nil; a = a.parent {
		a.mass--
		if t.cfg.CenterOfMass {
			addScaled(a.pointSum, point, -1)
		}
		if boxDirty {
			newBox := t.childBox(a.left).Copy()
			newBox.AddBox(t.childBox(a.right))
			if newBox.Equal(a.box) {
				// The deleted point was interior to this
				// box; nothing above can shrink either.
				boxDirty = false
			} else {
				a.box = newBox
			}
		}
	}
	return nil
}

func (t *PointerTree[T]) dropSeq(leaf *pointerNode[T], seq uint64) {
	if !t.cfg.StoreSequenceIndexes {
		return
	}
	for i, s := range leaf.seqs {
		if s == seq {
			leaf.seqs = append(leaf.seqs[:i], leaf.seqs[i+1:]...)
			return
		}
	}
	if len(leaf.seqs) > 0 {
		leaf.seqs = leaf.seqs[:len(leaf.seqs)-1]
	}
}

// nodeBox returns node's bounding box; for a leaf this allocates a
// degenerate box.
func (t *PointerTree[T]) nodeBox(node *pointerNode[T]) *Box[T] {
	if node.isLeaf() {
		return NewBox(node.point)
	}
	return node.box
}

func (t *PointerTree[T]) childBox(node *pointerNode[T]) *Box[T] {
	return t.nodeBox(node)
}

// Traverse walks the root-to-leaf path determined by point's
// coordinates and the stored cuts, then unwinds through v.
func (t *PointerTree[T]) Traverse(point []T, v Visitor[T]) error {
	if len(point) != t.cfg.Dimensions {
		return fmt.Errorf("rcftree.PointerTree.Traverse: %w", rcfstore.ErrDimensionMismatch)
	}
	if t.root == nil {
		return fmt.Errorf("rcftree.PointerTree.Traverse: %w", ErrEmptyTree)
	}

	path := t.pathPool.Get(t.cfg.Capacity)[:0]
	defer func() { t.pathPool.Put(path[:0]) }()
	node := t.root
	path = append(path, node)
	for !node.isLeaf() {
		if leftOf(point[node.cut.Dim], node.cut) {
			node = node.left
		} else {
			node = node.right
		}
		path = append(path, node)
	}

	view := pointerView[T]{tree: t}
	depth := len(path) - 1
	view.node = path[depth]
	v.AcceptLeaf(&view, depth)
	for i := depth - 1; i >= 0; i-- {
		if v.IsConverged() {
			break
		}
		view.node = path[i]
		view.leafBox = nil
		v.Accept(&view, i)
	}
	return nil
}

// TraverseMulti is like Traverse, but forks the visitor down the
// untaken subtree at every internal node where v.Trigger fires.
func (t *PointerTree[T]) TraverseMulti(point []T, v MultiVisitor[T]) error {
	if len(point) != t.cfg.Dimensions {
		return fmt.Errorf("rcftree.PointerTree.TraverseMulti: %w", rcfstore.ErrDimensionMismatch)
	}
	if t.root == nil {
		return fmt.Errorf("rcftree.PointerTree.TraverseMulti: %w", ErrEmptyTree)
	}
	t.traverseMulti(t.root, point, v, 0)
	return nil
}

func (t *PointerTree[T]) traverseMulti(node *pointerNode[T], point []T, v MultiVisitor[T], depth int) {
	view := pointerView[T]{tree: t, node: node}
	if node.isLeaf() {
		v.AcceptLeaf(&view, depth)
		return
	}
	followed, other := node.left, node.right
	if !leftOf(point[node.cut.Dim], node.cut) {
		followed, other = other, followed
	}
	if v.Trigger(&view) {
		branch := v.NewCopy()
		t.traverseMulti(followed, point, v, depth+1)
		t.traverseMulti(other, point, branch, depth+1)
		v.Combine(branch)
	} else {
		t.traverseMulti(followed, point, v, depth+1)
	}
	if !v.IsConverged() {
		v.Accept(&view, depth)
	}
}

// CheckConsistency audits the whole tree.
func (t *PointerTree[T]) CheckConsistency() error {
	if t.root == nil {
		return nil
	}
	if t.root.parent != nil {
		return fmt.Errorf("rcftree.PointerTree: root has a parent: %w", ErrInconsistentState)
	}
	_, err := t.checkNode(t.root)
	return err
}

func (t *PointerTree[T]) checkNode(node *pointerNode[T]) (*Box[T], error) {
	if node.isLeaf() {
		if node.right != nil {
			return nil, fmt.Errorf("rcftree.PointerTree: half-leaf node: %w", ErrInconsistentState)
		}
		if node.mass < 1 {
			return nil, fmt.Errorf("rcftree.PointerTree: leaf mass %v < 1: %w", node.mass, ErrInconsistentState)
		}
		return NewBox(node.point), nil
	}
	if node.left.parent != node || node.right.parent != node {
		return nil, fmt.Errorf("rcftree.PointerTree: child does not point back to parent: %w", ErrInconsistentState)
	}
	if node.mass != node.left.mass+node.right.mass {
		return nil, fmt.Errorf("rcftree.PointerTree: mass %v != %v+%v: %w",
			node.mass, node.left.mass, node.right.mass, ErrInconsistentState)
	}
	leftBox, err := t.checkNode(node.left)
	if err != nil {
		return nil, err
	}
	rightBox, err := t.checkNode(node.right)
	if err != nil {
		return nil, err
	}
	want := leftBox.Copy()
	want.AddBox(rightBox)
	if !want.Equal(node.box) {
		return nil, fmt.Errorf("rcftree.PointerTree: cached box %v != recomputed %v: %w",
			node.box, want, ErrInconsistentState)
	}
	if float64(node.cut.Value) < float64(node.box.Min[node.cut.Dim]) ||
		float64(node.cut.Value) >= float64(node.box.Max[node.cut.Dim]) {
		return nil, fmt.Errorf("rcftree.PointerTree: cut %v outside box range: %w",
			node.cut, ErrInconsistentState)
	}
	return want, nil
}

// mergedRangeSum returns the total range of box extended by point.
func mergedRangeSum[T constraints.Float](box *Box[T], point []T) float64 {
	var sum float64
	for i := range point {
		lo, hi := box.Min[i], box.Max[i]
		if point[i] < lo {
			lo = point[i]
		}
		if point[i] > hi {
			hi = point[i]
		}
		sum += float64(hi) - float64(lo)
	}
	return sum
}

func addScaled[T constraints.Float](dst, point []T, scale T) {
	for i, v := range point {
		dst[i] += v * scale
	}
}

func addSubtreeSum[T constraints.Float](dst []T, node *pointerNode[T]) {
	if node.isLeaf() {
		for i, v := range node.point {
			dst[i] += v * T(node.mass)
		}
		return
	}
	for i, v := range node.pointSum {
		dst[i] += v
	}
}

// pointerView adapts a pointerNode to the NodeView contract.
type pointerView[T constraints.Float] struct {
	tree    *PointerTree[T]
	node    *pointerNode[T]
	leafBox *Box[T]
}

var _ NodeView[float64] = (*pointerView[float64])(nil)

func (v *pointerView[T]) Mass() int { return int(v.node.mass) }

func (v *pointerView[T]) BoundingBox() *Box[T] {
	if v.node.isLeaf() {
		if v.leafBox == nil {
			v.leafBox = NewBox(v.node.point)
		}
		return v.leafBox
	}
	return v.node.box
}

func (v *pointerView[T]) Cut() (int, T) {
	return int(v.node.cut.Dim), v.node.cut.Value
}

func (v *pointerView[T]) LeafPoint() []T {
	if !v.node.isLeaf() {
		return nil
	}
	return v.node.point
}

func (v *pointerView[T]) LeafHandle() rcfstore.Handle {
	if !v.node.isLeaf() {
		return rcfstore.NoHandle
	}
	return v.node.handle
}

func (v *pointerView[T]) SequenceIndexes() []uint64 {
	if !v.node.isLeaf() {
		return nil
	}
	return v.node.seqs
}

func (v *pointerView[T]) CenterOfMass() []T {
	if !v.tree.cfg.CenterOfMass {
		return nil
	}
	ret := make([]T, v.tree.cfg.Dimensions)
	if v.node.isLeaf() {
		copy(ret, v.node.point)
		return ret
	}
	for i, sum := range v.node.pointSum {
		ret[i] = sum / T(v.node.mass)
	}
	return ret
}
