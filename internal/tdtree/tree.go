// Package tdtree implements an in-memory B+tree of per-identifier time
// intervals. Each identifier owns a set of non-overlapping [start, end]
// intervals, each mapping to a value; a point query returns the value whose
// interval covers the requested instant.
package tdtree

import (
	"fmt"
	"math"
)

// Options configure a tree. They are fixed for the tree's lifetime.
type Options struct {
	// BranchingFactor is the maximum number of entries per leaf and children
	// per internal node. Non-root nodes hold at least BranchingFactor/2.
	BranchingFactor int

	// MaxIdentifierLen bounds identifier length in bytes.
	MaxIdentifierLen int

	// MaxValue is the largest representable time.
	MaxValue int64

	// ReverseIndex maintains a value to key-set index so DeleteValue does not
	// scan the whole tree.
	ReverseIndex bool
}

// DefaultOptions returns options suitable for nanosecond timestamps.
func DefaultOptions() Options {
	return Options{
		BranchingFactor:  64,
		MaxIdentifierLen: 64,
		MaxValue:         math.MaxInt64 - 1,
	}
}

// Interval is one stored fact: Value is valid for ID over [Start, End].
type Interval[V comparable] struct {
	ID    string
	Start int64
	End   int64
	Value V
}

// Contains reports whether t lies within the interval.
func (iv Interval[V]) Contains(t int64) bool {
	return iv.Start <= t && t <= iv.End
}

// Tree is a temporal interval index. It is not safe for concurrent use.
type Tree[V comparable] struct {
	codec  *Codec
	max    int
	min    int
	nodes  []node[V]
	free   []nodeID
	root   nodeID
	count  int
	leaves int
	height int

	// path records the internal nodes visited by the last descend, with the
	// child index taken at each.
	path []frame

	byValue map[V]map[Key]struct{}
}

type frame struct {
	id  nodeID
	idx int
}

// New creates an empty tree.
func New[V comparable](opts Options) (*Tree[V], error) {
	if opts.BranchingFactor < 4 {
		return nil, fmt.Errorf("%w: branching factor %d is below 4", ErrInvalidOptions, opts.BranchingFactor)
	}
	codec, err := NewCodec(opts.MaxIdentifierLen, opts.MaxValue)
	if err != nil {
		return nil, err
	}
	t := &Tree[V]{
		codec: codec,
		max:   opts.BranchingFactor,
		min:   opts.BranchingFactor / 2,
	}
	if opts.ReverseIndex {
		t.byValue = make(map[V]map[Key]struct{})
	}
	t.root = t.alloc(true)
	t.height = 1
	return t, nil
}

// Codec returns the tree's key codec.
func (t *Tree[V]) Codec() *Codec { return t.codec }

// Len returns the number of stored intervals.
func (t *Tree[V]) Len() int { return t.count }

// Leaves returns the number of leaf nodes.
func (t *Tree[V]) Leaves() int { return t.leaves }

// Height returns the number of levels; a lone root leaf has height 1.
func (t *Tree[V]) Height() int { return t.height }

// Nodes returns the number of live nodes.
func (t *Tree[V]) Nodes() int { return len(t.nodes) - len(t.free) }

// Fill returns the average leaf occupancy as a fraction of the branching
// factor.
func (t *Tree[V]) Fill() float64 {
	if t.leaves == 0 {
		return 0
	}
	return float64(t.count) / float64(t.leaves*t.max)
}

// Get returns the value whose interval for id covers time.
func (t *Tree[V]) Get(id string, time int64) (V, bool, error) {
	iv, ok, err := t.Lookup(id, time)
	return iv.Value, ok, err
}

// Lookup returns the interval for id that covers time.
func (t *Tree[V]) Lookup(id string, time int64) (Interval[V], bool, error) {
	k, err := t.codec.Encode(id, time)
	if err != nil {
		return Interval[V]{}, false, err
	}
	leaf, i, ok := t.covering(k, time)
	if !ok {
		return Interval[V]{}, false, nil
	}
	return t.interval(&t.nodes[leaf].entries[i]), true, nil
}

// Floor returns the interval for id with the latest start at or before time,
// whether or not its end reaches time.
func (t *Tree[V]) Floor(id string, time int64) (Interval[V], bool, error) {
	k, err := t.codec.Encode(id, time)
	if err != nil {
		return Interval[V]{}, false, err
	}
	leaf, i, ok := t.floor(k)
	if !ok || !t.codec.SameIdentifier(t.nodes[leaf].entries[i].key, k) {
		return Interval[V]{}, false, nil
	}
	return t.interval(&t.nodes[leaf].entries[i]), true, nil
}

// Insert stores v for id over [start, end]. Existing intervals of id that
// overlap are cut back so the new interval wins within its bounds and the
// older ones keep whatever lies outside them.
func (t *Tree[V]) Insert(id string, start, end int64, v V) error {
	if err := t.checkInterval(id, start, end); err != nil {
		return err
	}
	t.carve(id, start, end)
	t.insertEntry(entry[V]{key: t.codec.encode(id, start), start: start, end: end, value: v})
	return nil
}

func (t *Tree[V]) checkInterval(id string, start, end int64) error {
	if err := t.codec.CheckIdentifier(id); err != nil {
		return err
	}
	if err := t.codec.CheckTime(start); err != nil {
		return err
	}
	if end != Open {
		if err := t.codec.CheckTime(end); err != nil {
			return err
		}
	}
	if start > end {
		return fmt.Errorf("%w: start %d after end %d", ErrInvalidInterval, start, end)
	}
	return nil
}

func (t *Tree[V]) interval(e *entry[V]) Interval[V] {
	return Interval[V]{
		ID:    t.codec.Identifier(e.key),
		Start: e.start,
		End:   e.end,
		Value: e.value,
	}
}

// descend walks from the root to the leaf whose key range contains k,
// recording the path.
func (t *Tree[V]) descend(k Key) nodeID {
	t.path = t.path[:0]
	id := t.root
	for {
		n := &t.nodes[id]
		if n.leaf {
			return id
		}
		i := n.childIndex(k)
		t.path = append(t.path, frame{id: id, idx: i})
		id = n.children[i]
	}
}

// floor locates the entry with the greatest key <= k.
func (t *Tree[V]) floor(k Key) (nodeID, int, bool) {
	leaf := t.descend(k)
	i := t.nodes[leaf].upperBound(k) - 1
	for i < 0 {
		leaf = t.nodes[leaf].prev
		if leaf == nilNode {
			return nilNode, 0, false
		}
		i = len(t.nodes[leaf].entries) - 1
	}
	return leaf, i, true
}

// ceiling locates the entry with the smallest key >= k.
func (t *Tree[V]) ceiling(k Key) (nodeID, int, bool) {
	leaf := t.descend(k)
	i := t.nodes[leaf].lowerBound(k)
	for i >= len(t.nodes[leaf].entries) {
		leaf = t.nodes[leaf].next
		if leaf == nilNode {
			return nilNode, 0, false
		}
		i = 0
	}
	return leaf, i, true
}

// covering locates the entry for k's identifier whose interval covers time.
func (t *Tree[V]) covering(k Key, time int64) (nodeID, int, bool) {
	leaf, i, ok := t.floor(k)
	if !ok {
		return nilNode, 0, false
	}
	e := &t.nodes[leaf].entries[i]
	if !t.codec.SameIdentifier(e.key, k) || !e.covers(time) {
		return nilNode, 0, false
	}
	return leaf, i, true
}

// neighbour returns the entry at position i of leaf, stepping into the
// adjacent leaf when i falls off either end.
func (t *Tree[V]) neighbour(leaf nodeID, i int) (*entry[V], bool) {
	if i < 0 {
		leaf = t.nodes[leaf].prev
		if leaf == nilNode {
			return nil, false
		}
		i = len(t.nodes[leaf].entries) - 1
	} else if i >= len(t.nodes[leaf].entries) {
		leaf = t.nodes[leaf].next
		if leaf == nilNode {
			return nil, false
		}
		i = 0
	}
	if i < 0 || i >= len(t.nodes[leaf].entries) {
		return nil, false
	}
	return &t.nodes[leaf].entries[i], true
}

// carve removes every part of id's existing intervals that falls within
// [start, end].
func (t *Tree[V]) carve(id string, start, end int64) {
	var tails []entry[V]

	if start > 0 {
		k := t.codec.encode(id, start-1)
		if leaf, i, ok := t.floor(k); ok {
			e := &t.nodes[leaf].entries[i]
			if t.codec.SameIdentifier(e.key, k) && e.end >= start {
				if e.end > end && end < t.codec.maxValue {
					tails = append(tails, t.tail(id, e, end))
				}
				e.end = start - 1
			}
		}
	}

	first := t.codec.encode(id, start)
	for {
		leaf, i, ok := t.ceiling(first)
		if !ok {
			break
		}
		e := t.nodes[leaf].entries[i]
		if !t.codec.SameIdentifier(e.key, first) || e.start > end {
			break
		}
		t.removeKey(e.key)
		if e.end > end && end < t.codec.maxValue {
			tails = append(tails, t.tail(id, &e, end))
		}
	}

	for _, e := range tails {
		t.insertEntry(e)
	}
}

// tail returns the part of e after end.
func (t *Tree[V]) tail(id string, e *entry[V], end int64) entry[V] {
	return entry[V]{key: t.codec.encode(id, end+1), start: end + 1, end: e.end, value: e.value}
}

// insertEntry adds e to its leaf and splits upward on overflow. The caller
// guarantees e does not overlap its identifier's other intervals.
func (t *Tree[V]) insertEntry(e entry[V]) {
	leaf := t.descend(e.key)
	n := &t.nodes[leaf]
	i := n.lowerBound(e.key)
	if i < len(n.entries) && n.entries[i].key == e.key {
		panic(invariant(leaf, "duplicate key for %q at %d", t.codec.Identifier(e.key), e.start))
	}
	n.insertEntry(i, e)
	t.count++
	t.track(&e)
	t.assertDisjoint(leaf, i)

	if len(n.entries) > t.max {
		sep, right := t.splitLeaf(leaf)
		t.promote(sep, right)
	}
}

// assertDisjoint panics if the entry at position i overlaps a neighbour of
// the same identifier.
func (t *Tree[V]) assertDisjoint(leaf nodeID, i int) {
	e := &t.nodes[leaf].entries[i]
	if p, ok := t.neighbour(leaf, i-1); ok && t.codec.SameIdentifier(p.key, e.key) && p.end >= e.start {
		panic(invariant(leaf, "interval [%d,%d] overlaps predecessor [%d,%d] for %q",
			e.start, e.end, p.start, p.end, t.codec.Identifier(e.key)))
	}
	if s, ok := t.neighbour(leaf, i+1); ok && t.codec.SameIdentifier(s.key, e.key) && s.start <= e.end {
		panic(invariant(leaf, "interval [%d,%d] overlaps successor [%d,%d] for %q",
			e.start, e.end, s.start, s.end, t.codec.Identifier(e.key)))
	}
}

// promote inserts sep and right into the parents recorded on the path,
// splitting full ancestors and growing a new root if needed.
func (t *Tree[V]) promote(sep Key, right nodeID) {
	for level := len(t.path) - 1; level >= 0; level-- {
		f := t.path[level]
		p := &t.nodes[f.id]
		p.insertChild(f.idx, sep, right)
		if len(p.children) <= t.max {
			return
		}
		sep, right = t.splitInternal(f.id)
	}

	old := t.root
	root := t.alloc(false)
	r := &t.nodes[root]
	r.seps = append(make([]Key, 0, t.max), sep)
	r.children = append(make([]nodeID, 0, t.max+1), old, right)
	t.root = root
	t.height++
}

// removeKey deletes the entry stored under k, rebalancing on underflow.
func (t *Tree[V]) removeKey(k Key) (entry[V], bool) {
	leaf := t.descend(k)
	n := &t.nodes[leaf]
	i := n.lowerBound(k)
	if i >= len(n.entries) || n.entries[i].key != k {
		return entry[V]{}, false
	}
	e := n.removeEntry(i)
	t.count--
	t.untrack(&e)
	t.rebalance(leaf)
	return e, true
}

// rebalance walks the recorded path upward from id fixing underflow, then
// collapses a root left with a single child.
func (t *Tree[V]) rebalance(id nodeID) {
	for level := len(t.path) - 1; level >= 0; level-- {
		if t.nodes[id].size() >= t.min {
			break
		}
		f := t.path[level]
		t.fixUnderflow(f.id, f.idx)
		id = f.id
	}

	if r := &t.nodes[t.root]; !r.leaf && len(r.children) == 1 {
		old := t.root
		t.root = r.children[0]
		t.release(old)
		t.height--
	}
}

func (t *Tree[V]) track(e *entry[V]) {
	if t.byValue == nil {
		return
	}
	keys := t.byValue[e.value]
	if keys == nil {
		keys = make(map[Key]struct{})
		t.byValue[e.value] = keys
	}
	keys[e.key] = struct{}{}
}

func (t *Tree[V]) untrack(e *entry[V]) {
	if t.byValue == nil {
		return
	}
	keys := t.byValue[e.value]
	delete(keys, e.key)
	if len(keys) == 0 {
		delete(t.byValue, e.value)
	}
}
