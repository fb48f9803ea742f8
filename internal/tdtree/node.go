package tdtree

import (
	"slices"
	"sort"
)

// nodeID indexes the tree's node arena.
type nodeID int32

const nilNode nodeID = -1

type entry[V comparable] struct {
	key   Key
	start int64
	end   int64
	value V
}

func (e *entry[V]) covers(t int64) bool {
	return e.start <= t && t <= e.end
}

// node is either a leaf holding sorted entries, or an internal node holding
// len(children)-1 separators. Every key under children[i] lies in
// [seps[i-1], seps[i]).
type node[V comparable] struct {
	leaf     bool
	entries  []entry[V]
	seps     []Key
	children []nodeID
	prev     nodeID
	next     nodeID
}

func (n *node[V]) size() int {
	if n.leaf {
		return len(n.entries)
	}
	return len(n.children)
}

// childIndex returns the child whose key range contains k.
func (n *node[V]) childIndex(k Key) int {
	return sort.Search(len(n.seps), func(i int) bool { return n.seps[i] > k })
}

// lowerBound returns the position of the first entry with key >= k.
func (n *node[V]) lowerBound(k Key) int {
	return sort.Search(len(n.entries), func(i int) bool { return n.entries[i].key >= k })
}

// upperBound returns the position of the first entry with key > k.
func (n *node[V]) upperBound(k Key) int {
	return sort.Search(len(n.entries), func(i int) bool { return n.entries[i].key > k })
}

func (n *node[V]) insertEntry(i int, e entry[V]) {
	n.entries = slices.Insert(n.entries, i, e)
}

func (n *node[V]) removeEntry(i int) entry[V] {
	e := n.entries[i]
	n.entries = slices.Delete(n.entries, i, i+1)
	return e
}

func (n *node[V]) insertChild(i int, sep Key, child nodeID) {
	n.seps = slices.Insert(n.seps, i, sep)
	n.children = slices.Insert(n.children, i+1, child)
}

// alloc returns a fresh node, reusing released slots first. Pointers into the
// arena are invalid after alloc.
func (t *Tree[V]) alloc(leaf bool) nodeID {
	var id nodeID
	if n := len(t.free); n > 0 {
		id = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		id = nodeID(len(t.nodes))
		t.nodes = append(t.nodes, node[V]{})
	}
	t.nodes[id] = node[V]{leaf: leaf, prev: nilNode, next: nilNode}
	if leaf {
		t.leaves++
	}
	return id
}

func (t *Tree[V]) release(id nodeID) {
	if t.nodes[id].leaf {
		t.leaves--
	}
	t.nodes[id] = node[V]{prev: nilNode, next: nilNode}
	t.free = append(t.free, id)
}

// splitLeaf moves the upper half of a leaf into a new right sibling and
// returns the sibling with its first key.
func (t *Tree[V]) splitLeaf(id nodeID) (Key, nodeID) {
	right := t.alloc(true)
	n, r := &t.nodes[id], &t.nodes[right]

	mid := len(n.entries) / 2
	r.entries = append(make([]entry[V], 0, t.max+1), n.entries[mid:]...)
	clear(n.entries[mid:])
	n.entries = n.entries[:mid]

	r.prev, r.next = id, n.next
	if n.next != nilNode {
		t.nodes[n.next].prev = right
	}
	n.next = right
	return r.entries[0].key, right
}

// splitInternal moves the upper half of an internal node's children into a
// new right sibling and returns the separator to promote.
func (t *Tree[V]) splitInternal(id nodeID) (Key, nodeID) {
	right := t.alloc(false)
	n, r := &t.nodes[id], &t.nodes[right]

	m := len(n.children) / 2
	sep := n.seps[m-1]
	r.seps = append(make([]Key, 0, t.max), n.seps[m:]...)
	r.children = append(make([]nodeID, 0, t.max+1), n.children[m:]...)
	clear(n.seps[m-1:])
	n.seps = n.seps[:m-1]
	n.children = n.children[:m]
	return sep, right
}

// borrowLeft rotates the last item of children[i-1] into children[i].
func (t *Tree[V]) borrowLeft(pid nodeID, i int) {
	p := &t.nodes[pid]
	c, l := &t.nodes[p.children[i]], &t.nodes[p.children[i-1]]
	if c.leaf {
		e := l.removeEntry(len(l.entries) - 1)
		c.insertEntry(0, e)
		p.seps[i-1] = e.key
		return
	}
	last := len(l.children) - 1
	c.seps = slices.Insert(c.seps, 0, p.seps[i-1])
	c.children = slices.Insert(c.children, 0, l.children[last])
	p.seps[i-1] = l.seps[last-1]
	l.seps = slices.Delete(l.seps, last-1, last)
	l.children = slices.Delete(l.children, last, last+1)
}

// borrowRight rotates the first item of children[i+1] into children[i].
func (t *Tree[V]) borrowRight(pid nodeID, i int) {
	p := &t.nodes[pid]
	c, r := &t.nodes[p.children[i]], &t.nodes[p.children[i+1]]
	if c.leaf {
		c.entries = append(c.entries, r.removeEntry(0))
		p.seps[i] = r.entries[0].key
		return
	}
	c.seps = append(c.seps, p.seps[i])
	c.children = append(c.children, r.children[0])
	p.seps[i] = r.seps[0]
	r.seps = slices.Delete(r.seps, 0, 1)
	r.children = slices.Delete(r.children, 0, 1)
}

// merge folds children[i+1] into children[i] and drops their separator.
func (t *Tree[V]) merge(pid nodeID, i int) {
	p := &t.nodes[pid]
	lid, rid := p.children[i], p.children[i+1]
	l, r := &t.nodes[lid], &t.nodes[rid]
	if l.leaf {
		l.entries = append(l.entries, r.entries...)
		l.next = r.next
		if r.next != nilNode {
			t.nodes[r.next].prev = lid
		}
	} else {
		l.seps = append(l.seps, p.seps[i])
		l.seps = append(l.seps, r.seps...)
		l.children = append(l.children, r.children...)
	}
	p.seps = slices.Delete(p.seps, i, i+1)
	p.children = slices.Delete(p.children, i+1, i+2)
	t.release(rid)
}

// fixUnderflow restores minimum occupancy of children[i] by borrowing from a
// sibling with spare items, or merging with one.
func (t *Tree[V]) fixUnderflow(pid nodeID, i int) {
	p := &t.nodes[pid]
	if i > 0 && t.nodes[p.children[i-1]].size() > t.min {
		t.borrowLeft(pid, i)
		return
	}
	if i+1 < len(p.children) && t.nodes[p.children[i+1]].size() > t.min {
		t.borrowRight(pid, i)
		return
	}
	if i > 0 {
		t.merge(pid, i-1)
		return
	}
	t.merge(pid, i)
}
