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
	"git.lukeshu.com/rcforest/lib/textui"
)

const nilNode int32 = -1

// A CompactTree is the arena-based random cut tree back-end.
// Internal nodes live in parallel arrays at indexes [0, capacity-1),
// leaves at encoded indexes [capacity-1, 2*capacity-1); an index >=
// capacity-1 denotes a leaf.  Leaves store a handle in to the shared
// point store rather than inline coordinates.
//
// Bounding boxes of internal nodes are materialized for a configured
// fraction of slots; boxes of the remaining slots are recomputed on
// demand and kept in a small bounded cache.
type CompactTree[T constraints.Float] struct {
	cfg   Config
	rng   *rand.Rand
	store *rcfstore.Store[T]

	root int32

	nodes  *rcfstore.IndexManager // internal slots; nil when capacity == 1
	leaves *rcfstore.IndexManager

	// internal-node arenas, len capacity-1
	parent   []int32
	left     []int32
	right    []int32
	cutDim   []int32
	cutValue []T
	mass     []int32

	// leaf arenas, len capacity
	leafParent []int32
	leafHandle []rcfstore.Handle
	leafMass   []int32
	leafSeqs   [][]uint64

	// materialized bounding boxes, flat (capacity-1)*dims
	boxMin   []T
	boxMax   []T
	boxValid []bool
	boxKept  []bool
	boxLRU   *containers.LRUCache[int32, *Box[T]]

	// center-of-mass point sums, flat (capacity-1)*dims
	pointSum []T

	pathPool containers.SlicePool[int32]
}

var _ Tree[float64] = (*CompactTree[float64])(nil)

func NewCompactTree[T constraints.Float](cfg Config, rng *rand.Rand, store *rcfstore.Store[T]) *CompactTree[T] {
	if cfg.Capacity < 1 || cfg.Dimensions < 1 {
		panic(fmt.Errorf("rcftree.NewCompactTree: capacity=%v dimensions=%v", cfg.Capacity, cfg.Dimensions))
	}
	if cfg.BoundingBoxCacheFraction < 0 || cfg.BoundingBoxCacheFraction > 1 {
		panic(fmt.Errorf("rcftree.NewCompactTree: boundingBoxCacheFraction=%v outside [0,1]",
			cfg.BoundingBoxCacheFraction))
	}
	nInternal := cfg.Capacity - 1
	t := &CompactTree[T]{
		cfg:   cfg,
		rng:   rng,
		store: store,
		root:  nilNode,

		leaves: rcfstore.NewIndexManager(cfg.Capacity),

		parent:   make([]int32, nInternal),
		left:     make([]int32, nInternal),
		right:    make([]int32, nInternal),
		cutDim:   make([]int32, nInternal),
		cutValue: make([]T, nInternal),
		mass:     make([]int32, nInternal),

		leafParent: make([]int32, cfg.Capacity),
		leafHandle: make([]rcfstore.Handle, cfg.Capacity),
		leafMass:   make([]int32, cfg.Capacity),

		boxMin:   make([]T, nInternal*cfg.Dimensions),
		boxMax:   make([]T, nInternal*cfg.Dimensions),
		boxValid: make([]bool, nInternal),
		boxKept:  make([]bool, nInternal),
	}
	if nInternal > 0 {
		t.nodes = rcfstore.NewIndexManager(nInternal)
	}
	if cfg.StoreSequenceIndexes {
		t.leafSeqs = make([][]uint64, cfg.Capacity)
	}
	if cfg.CenterOfMass {
		t.pointSum = make([]T, nInternal*cfg.Dimensions)
	}
	if cfg.BoundingBoxCacheFraction < 1 {
		t.boxLRU = containers.NewLRUCache[int32, *Box[T]](textui.Tunable(64))
	}
	return t
}

func (t *CompactTree[T]) isLeaf(idx int32) bool  { return idx >= int32(t.cfg.Capacity)-1 }
func (t *CompactTree[T]) leafSlot(idx int32) int32 { return idx - (int32(t.cfg.Capacity) - 1) }
func (t *CompactTree[T]) leafIndex(slot int32) int32 { return slot + int32(t.cfg.Capacity) - 1 }

func (t *CompactTree[T]) Mass() int {
	switch {
	case t.root == nilNode:
		return 0
	case t.isLeaf(t.root):
		return int(t.leafMass[t.leafSlot(t.root)])
	default:
		return int(t.mass[t.root])
	}
}

func (t *CompactTree[T]) nodeMass(idx int32) int32 {
	if t.isLeaf(idx) {
		return t.leafMass[t.leafSlot(idx)]
	}
	return t.mass[idx]
}

func (t *CompactTree[T]) nodeParent(idx int32) int32 {
	if t.isLeaf(idx) {
		return t.leafParent[t.leafSlot(idx)]
	}
	return t.parent[idx]
}

func (t *CompactTree[T]) setParent(idx, p int32) {
	if t.isLeaf(idx) {
		t.leafParent[t.leafSlot(idx)] = p
	} else {
		t.parent[idx] = p
	}
}

// leafPoint returns a borrowed view of the leaf's stored point.
func (t *CompactTree[T]) leafPoint(slot int32) []T {
	point, err := t.store.Ref(t.leafHandle[slot])
	if err != nil {
		panic(fmt.Errorf("rcftree.CompactTree: leaf slot %v handle %v: %v: %w",
			slot, t.leafHandle[slot], err, ErrInconsistentState))
	}
	return point
}

// getBox returns idx's bounding box.  The result is borrowed: for a
// materialized slot it aliases the arena, otherwise it comes from the
// recompute cache.  It stays valid until the next mutation.
func (t *CompactTree[T]) getBox(idx int32) *Box[T] {
	if t.isLeaf(idx) {
		return NewBox(t.leafPoint(t.leafSlot(idx)))
	}
	if t.boxKept[idx] {
		if !t.boxValid[idx] {
			box := t.computeBox(idx)
			t.writeBox(idx, box)
		}
		return t.arenaBox(idx)
	}
	if box, ok := t.boxLRU.Get(idx); ok {
		return box
	}
	box := t.computeBox(idx)
	t.boxLRU.Add(idx, box)
	return box
}

// arenaBox returns a view over the materialized box arrays for slot
// idx.
func (t *CompactTree[T]) arenaBox(idx int32) *Box[T] {
	d := int32(t.cfg.Dimensions)
	return &Box[T]{
		Min: t.boxMin[idx*d : (idx+1)*d],
		Max: t.boxMax[idx*d : (idx+1)*d],
	}
}

func (t *CompactTree[T]) writeBox(idx int32, box *Box[T]) {
	d := int32(t.cfg.Dimensions)
	copy(t.boxMin[idx*d:(idx+1)*d], box.Min)
	copy(t.boxMax[idx*d:(idx+1)*d], box.Max)
	t.boxValid[idx] = true
}

// computeBox recomputes idx's box from scratch by descending both
// subtrees (reusing materialized descendants where possible).
func (t *CompactTree[T]) computeBox(idx int32) *Box[T] {
	if t.isLeaf(idx) {
		return NewBox(t.leafPoint(t.leafSlot(idx)))
	}
	if t.boxKept[idx] && t.boxValid[idx] {
		return t.arenaBox(idx).Copy()
	}
	box := t.computeBox(t.left[idx])
	box.AddBox(t.computeBox(t.right[idx]))
	return box
}

func (t *CompactTree[T]) allocLeaf(h rcfstore.Handle, seq uint64) (int32, error) {
	slot, err := t.leaves.Take()
	if err != nil {
		return nilNode, fmt.Errorf("rcftree.CompactTree: leaf arena: %w", err)
	}
	t.leafHandle[slot] = h
	t.leafMass[slot] = 1
	t.leafParent[slot] = nilNode
	if t.cfg.StoreSequenceIndexes {
		t.leafSeqs[slot] = append(t.leafSeqs[slot][:0], seq)
	}
	return t.leafIndex(slot), nil
}

func (t *CompactTree[T]) freeLeaf(idx int32) {
	slot := t.leafSlot(idx)
	t.leafHandle[slot] = rcfstore.NoHandle
	t.leafMass[slot] = 0
	if t.cfg.StoreSequenceIndexes {
		t.leafSeqs[slot] = t.leafSeqs[slot][:0]
	}
	t.leaves.Release(slot)
}

func (t *CompactTree[T]) allocInternal(cut Cut[T], leftIdx, rightIdx, mass int32) (int32, error) {
	if t.nodes == nil {
		return nilNode, fmt.Errorf("rcftree.CompactTree: no internal-node arena (capacity 1): %w",
			rcfstore.ErrExhaustedCapacity)
	}
	idx, err := t.nodes.Take()
	if err != nil {
		return nilNode, fmt.Errorf("rcftree.CompactTree: internal arena: %w", err)
	}
	t.parent[idx] = nilNode
	t.left[idx] = leftIdx
	t.right[idx] = rightIdx
	t.cutDim[idx] = cut.Dim
	t.cutValue[idx] = cut.Value
	t.mass[idx] = mass
	t.boxValid[idx] = false
	switch frac := t.cfg.BoundingBoxCacheFraction; {
	case frac >= 1:
		t.boxKept[idx] = true
	case frac <= 0:
		t.boxKept[idx] = false
	default:
		t.boxKept[idx] = t.rng.Float64() < frac
	}
	t.setParent(leftIdx, idx)
	t.setParent(rightIdx, idx)
	return idx, nil
}

func (t *CompactTree[T]) freeInternal(idx int32) {
	t.boxValid[idx] = false
	if t.boxLRU != nil {
		t.boxLRU.Remove(idx)
	}
	if t.cfg.CenterOfMass {
		d := int32(t.cfg.Dimensions)
		for i := idx * d; i < (idx+1)*d; i++ {
			t.pointSum[i] = 0
		}
	}
	t.nodes.Release(idx)
}

// Insert adds point (stored under h) to the tree, returning the
// canonical handle: the existing leaf's handle when the point
// coalesces, h otherwise.
func (t *CompactTree[T]) Insert(point []T, h rcfstore.Handle, seq uint64) (rcfstore.Handle, error) {
	if len(point) != t.cfg.Dimensions {
		return rcfstore.NoHandle, fmt.Errorf("rcftree.CompactTree.Insert: %w", rcfstore.ErrDimensionMismatch)
	}
	if t.root == nilNode {
		idx, err := t.allocLeaf(h, seq)
		if err != nil {
			return rcfstore.NoHandle, err
		}
		t.root = idx
		return h, nil
	}
	newRoot, canonical, err := t.insertAt(t.root, point, h, seq)
	if err != nil {
		return rcfstore.NoHandle, err
	}
	t.setParent(newRoot, nilNode)
	t.root = newRoot
	return canonical, nil
}

func (t *CompactTree[T]) insertAt(idx int32, point []T, h rcfstore.Handle, seq uint64) (int32, rcfstore.Handle, error) {
	if t.isLeaf(idx) {
		slot := t.leafSlot(idx)
		leafPt := t.leafPoint(slot)
		if rcfstore.BitsEqual(leafPt, point) || mergedRangeSum(NewBox(leafPt), point) <= 0 {
			t.coalesce(idx, point, seq)
			return idx, t.leafHandle[slot], nil
		}
	}

	box := t.getBox(idx)
	cut := drawCut(t.rng, point, box)
	if cut.Value < box.Min[cut.Dim] || cut.Value >= box.Max[cut.Dim] {
		leafIdx, err := t.allocLeaf(h, seq)
		if err != nil {
			return nilNode, rcfstore.NoHandle, err
		}
		merged := box.Copy()
		merged.AddPoint(point)
		leftIdx, rightIdx := leafIdx, idx
		if !leftOf(point[cut.Dim], cut) {
			leftIdx, rightIdx = idx, leafIdx
		}
		newIdx, err := t.allocInternal(cut, leftIdx, rightIdx, t.nodeMass(idx)+1)
		if err != nil {
			t.freeLeaf(leafIdx)
			return nilNode, rcfstore.NoHandle, err
		}
		if t.boxKept[newIdx] {
			t.writeBox(newIdx, merged)
		}
		if t.cfg.CenterOfMass {
			t.addSubtreeSum(newIdx, idx)
			t.addScaledSum(newIdx, point, 1)
		}
		return newIdx, h, nil
	}

	// idx is internal here: a leaf's degenerate box always
	// separates from a point it did not coalesce with.
	child := t.right[idx]
	wasLeft := leftOf(point[t.cutDim[idx]], Cut[T]{Dim: t.cutDim[idx], Value: t.cutValue[idx]})
	if wasLeft {
		child = t.left[idx]
	}
	newChild, canonical, err := t.insertAt(child, point, h, seq)
	if err != nil {
		return nilNode, rcfstore.NoHandle, err
	}
	if newChild != child {
		if wasLeft {
			t.left[idx] = newChild
		} else {
			t.right[idx] = newChild
		}
		t.setParent(newChild, idx)
	}
	t.mass[idx]++
	if t.boxKept[idx] {
		if t.boxValid[idx] {
			t.arenaBox(idx).AddPoint(point)
		}
	} else if box, ok := t.boxLRU.Get(idx); ok {
		box.AddPoint(point)
	}
	if t.cfg.CenterOfMass {
		t.addScaledSum(idx, point, 1)
	}
	return idx, canonical, nil
}

func (t *CompactTree[T]) coalesce(idx int32, point []T, seq uint64) {
	slot := t.leafSlot(idx)
	t.leafMass[slot]++
	if t.cfg.StoreSequenceIndexes {
		t.leafSeqs[slot] = append(t.leafSeqs[slot], seq)
	}
	// Ancestors' masses and point sums are updated by insertAt as
	// it unwinds.
}

// Delete removes one occurrence of point from the tree, locating the
// leaf by descending the stored cuts.
func (t *CompactTree[T]) Delete(point []T, h rcfstore.Handle, seq uint64) error {
	if len(point) != t.cfg.Dimensions {
		return fmt.Errorf("rcftree.CompactTree.Delete: %w", rcfstore.ErrDimensionMismatch)
	}
	if t.root == nilNode {
		return fmt.Errorf("rcftree.CompactTree.Delete: handle %v: %w", h, ErrPointNotFound)
	}
	idx := t.root
	for !t.isLeaf(idx) {
		if leftOf(point[t.cutDim[idx]], Cut[T]{Dim: t.cutDim[idx], Value: t.cutValue[idx]}) {
			idx = t.left[idx]
		} else {
			idx = t.right[idx]
		}
	}
	slot := t.leafSlot(idx)
	leafPt := t.leafPoint(slot)
	if !rcfstore.BitsEqual(leafPt, point) && mergedRangeSum(NewBox(leafPt), point) > 0 {
		return fmt.Errorf("rcftree.CompactTree.Delete: handle %v: %w", h, ErrPointNotFound)
	}

	if t.leafMass[slot] > 1 {
		t.leafMass[slot]--
		t.dropSeq(slot, seq)
		for a := t.leafParent[slot]; a != nilNode; a = t.parent[a] {
			t.mass[a]--
			if t.cfg.CenterOfMass {
				t.addScaledSum(a, point, -1)
			}
		}
		return nil
	}

	parentIdx := t.leafParent[slot]
	t.freeLeaf(idx)
	if parentIdx == nilNode {
		t.root = nilNode
		return nil
	}
	sibling := t.left[parentIdx]
	if sibling == idx {
		sibling = t.right[parentIdx]
	}
	gp := t.parent[parentIdx]
	t.setParent(sibling, gp)
	t.freeInternal(parentIdx)
	if gp == nilNode {
		t.root = sibling
		return nil
	}
	if t.left[gp] == parentIdx {
		t.left[gp] = sibling
	} else {
		t.right[gp] = sibling
	}

	dirty := true
	for a := gp; a != nilNode; a = t.parent[a] {
		t.mass[a]--
		if t.cfg.CenterOfMass {
			t.addScaledSum(a, point, -1)
		}
		switch {
		case t.boxKept[a] && t.boxValid[a]:
			if dirty {
				newBox := t.getBox(t.left[a]).Copy()
				newBox.AddBox(t.getBox(t.right[a]))
				if newBox.Equal(t.arenaBox(a)) {
					dirty = false
				} else {
					t.writeBox(a, newBox)
				}
			}
		case !t.boxKept[a]:
			t.boxLRU.Remove(a)
		}
	}
	return nil
}

func (t *CompactTree[T]) dropSeq(slot int32, seq uint64) {
	if !t.cfg.StoreSequenceIndexes {
		return
	}
	seqs := t.leafSeqs[slot]
	for i, s := range seqs {
		if s == seq {
			t.leafSeqs[slot] = append(seqs[:i], seqs[i+1:]...)
			return
		}
	}
	if len(seqs) > 0 {
		t.leafSeqs[slot] = seqs[:len(seqs)-1]
	}
}

func (t *CompactTree[T]) addScaledSum(idx int32, point []T, scale T) {
	d := int32(t.cfg.Dimensions)
	sum := t.pointSum[idx*d : (idx+1)*d]
	for i, v := range point {
		sum[i] += v * scale
	}
}

func (t *CompactTree[T]) addSubtreeSum(dst, src int32) {
	d := int32(t.cfg.Dimensions)
	sum := t.pointSum[dst*d : (dst+1)*d]
	if t.isLeaf(src) {
		slot := t.leafSlot(src)
		point := t.leafPoint(slot)
		for i, v := range point {
			sum[i] += v * T(t.leafMass[slot])
		}
		return
	}
	srcSum := t.pointSum[src*d : (src+1)*d]
	for i, v := range srcSum {
		sum[i] += v
	}
}

// Traverse walks the root-to-leaf path determined by point's
// coordinates and the stored cuts, then unwinds through v.
func (t *CompactTree[T]) Traverse(point []T, v Visitor[T]) error {
	if len(point) != t.cfg.Dimensions {
		return fmt.Errorf("rcftree.CompactTree.Traverse: %w", rcfstore.ErrDimensionMismatch)
	}
	if t.root == nilNode {
		return fmt.Errorf("rcftree.CompactTree.Traverse: %w", ErrEmptyTree)
	}

	path := t.pathPool.Get(t.cfg.Capacity)[:0]
	defer func() { t.pathPool.Put(path[:0]) }()
	idx := t.root
	path = append(path, idx)
	for !t.isLeaf(idx) {
		if leftOf(point[t.cutDim[idx]], Cut[T]{Dim: t.cutDim[idx], Value: t.cutValue[idx]}) {
			idx = t.left[idx]
		} else {
			idx = t.right[idx]
		}
		path = append(path, idx)
	}

	view := compactView[T]{tree: t}
	depth := len(path) - 1
	view.idx = path[depth]
	v.AcceptLeaf(&view, depth)
	for i := depth - 1; i >= 0; i-- {
		if v.IsConverged() {
			break
		}
		view.idx = path[i]
		view.box = nil
		v.Accept(&view, i)
	}
	return nil
}

// TraverseMulti is like Traverse, but forks the visitor down the
// untaken subtree at every internal node where v.Trigger fires.
func (t *CompactTree[T]) TraverseMulti(point []T, v MultiVisitor[T]) error {
	if len(point) != t.cfg.Dimensions {
		return fmt.Errorf("rcftree.CompactTree.TraverseMulti: %w", rcfstore.ErrDimensionMismatch)
	}
	if t.root == nilNode {
		return fmt.Errorf("rcftree.CompactTree.TraverseMulti: %w", ErrEmptyTree)
	}
	t.traverseMulti(t.root, point, v, 0)
	return nil
}

func (t *CompactTree[T]) traverseMulti(idx int32, point []T, v MultiVisitor[T], depth int) {
	view := compactView[T]{tree: t, idx: idx}
	if t.isLeaf(idx) {
		v.AcceptLeaf(&view, depth)
		return
	}
	followed, other := t.left[idx], t.right[idx]
	if !leftOf(point[t.cutDim[idx]], Cut[T]{Dim: t.cutDim[idx], Value: t.cutValue[idx]}) {
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
func (t *CompactTree[T]) CheckConsistency() error {
	if t.root == nilNode {
		if t.leaves.Occupied() != 0 {
			return fmt.Errorf("rcftree.CompactTree: empty tree with %v occupied leaf slots: %w",
				t.leaves.Occupied(), ErrInconsistentState)
		}
		return nil
	}
	if t.nodeParent(t.root) != nilNode {
		return fmt.Errorf("rcftree.CompactTree: root has a parent: %w", ErrInconsistentState)
	}
	nLeaves, nInternal := 0, 0
	_, err := t.checkNode(t.root, &nLeaves, &nInternal)
	if err != nil {
		return err
	}
	if nLeaves != t.leaves.Occupied() {
		return fmt.Errorf("rcftree.CompactTree: %v reachable leaves, %v occupied leaf slots: %w",
			nLeaves, t.leaves.Occupied(), ErrInconsistentState)
	}
	if t.nodes != nil && nInternal != t.nodes.Occupied() {
		return fmt.Errorf("rcftree.CompactTree: %v reachable internal nodes, %v occupied slots: %w",
			nInternal, t.nodes.Occupied(), ErrInconsistentState)
	}
	return nil
}

func (t *CompactTree[T]) checkNode(idx int32, nLeaves, nInternal *int) (*Box[T], error) {
	if t.isLeaf(idx) {
		*nLeaves++
		slot := t.leafSlot(idx)
		if t.leafMass[slot] < 1 {
			return nil, fmt.Errorf("rcftree.CompactTree: leaf slot %v mass %v < 1: %w",
				slot, t.leafMass[slot], ErrInconsistentState)
		}
		if t.store.RefCount(t.leafHandle[slot]) < 1 {
			return nil, fmt.Errorf("rcftree.CompactTree: leaf slot %v holds dead handle %v: %w",
				slot, t.leafHandle[slot], ErrInconsistentState)
		}
		return NewBox(t.leafPoint(slot)), nil
	}
	*nInternal++
	if t.nodeParent(t.left[idx]) != idx || t.nodeParent(t.right[idx]) != idx {
		return nil, fmt.Errorf("rcftree.CompactTree: node %v: child does not point back: %w",
			idx, ErrInconsistentState)
	}
	if t.mass[idx] != t.nodeMass(t.left[idx])+t.nodeMass(t.right[idx]) {
		return nil, fmt.Errorf("rcftree.CompactTree: node %v: mass %v != %v+%v: %w",
			idx, t.mass[idx], t.nodeMass(t.left[idx]), t.nodeMass(t.right[idx]), ErrInconsistentState)
	}
	leftBox, err := t.checkNode(t.left[idx], nLeaves, nInternal)
	if err != nil {
		return nil, err
	}
	rightBox, err := t.checkNode(t.right[idx], nLeaves, nInternal)
	if err != nil {
		return nil, err
	}
	want := leftBox
	want.AddBox(rightBox)
	if t.boxKept[idx] && t.boxValid[idx] && !want.Equal(t.arenaBox(idx)) {
		return nil, fmt.Errorf("rcftree.CompactTree: node %v: cached box %v != recomputed %v: %w",
			idx, t.arenaBox(idx), want, ErrInconsistentState)
	}
	if float64(t.cutValue[idx]) < float64(want.Min[t.cutDim[idx]]) ||
		float64(t.cutValue[idx]) >= float64(want.Max[t.cutDim[idx]]) {
		return nil, fmt.Errorf("rcftree.CompactTree: node %v: cut outside box range: %w",
			idx, ErrInconsistentState)
	}
	return want, nil
}

// compactView adapts an arena index to the NodeView contract.
type compactView[T constraints.Float] struct {
	tree *CompactTree[T]
	idx  int32
	box  *Box[T]
}

var _ NodeView[float64] = (*compactView[float64])(nil)

func (v *compactView[T]) Mass() int { return int(v.tree.nodeMass(v.idx)) }

func (v *compactView[T]) BoundingBox() *Box[T] {
	if v.box == nil {
		v.box = v.tree.getBox(v.idx)
	}
	return v.box
}

func (v *compactView[T]) Cut() (int, T) {
	if v.tree.isLeaf(v.idx) {
		return 0, 0
	}
	return int(v.tree.cutDim[v.idx]), v.tree.cutValue[v.idx]
}

func (v *compactView[T]) LeafPoint() []T {
	if !v.tree.isLeaf(v.idx) {
		return nil
	}
	return v.tree.leafPoint(v.tree.leafSlot(v.idx))
}

func (v *compactView[T]) LeafHandle() rcfstore.Handle {
	if !v.tree.isLeaf(v.idx) {
		return rcfstore.NoHandle
	}
	return v.tree.leafHandle[v.tree.leafSlot(v.idx)]
}

func (v *compactView[T]) SequenceIndexes() []uint64 {
	if !v.tree.isLeaf(v.idx) || !v.tree.cfg.StoreSequenceIndexes {
		return nil
	}
	return v.tree.leafSeqs[v.tree.leafSlot(v.idx)]
}

func (v *compactView[T]) CenterOfMass() []T {
	if !v.tree.cfg.CenterOfMass {
		return nil
	}
	ret := make([]T, v.tree.cfg.Dimensions)
	if v.tree.isLeaf(v.idx) {
		copy(ret, v.tree.leafPoint(v.tree.leafSlot(v.idx)))
		return ret
	}
	d := int32(v.tree.cfg.Dimensions)
	sum := v.tree.pointSum[v.idx*d : (v.idx+1)*d]
	for i, s := range sum {
		ret[i] = s / T(v.tree.mass[v.idx])
	}
	return ret
}
