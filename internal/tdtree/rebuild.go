package tdtree

// Rebuild discards the node structure and bulk-loads a densely packed tree
// from the current entries. Stored intervals are unchanged.
func (t *Tree[V]) Rebuild() {
	entries := t.collect()

	clear(t.nodes)
	t.nodes = t.nodes[:0]
	t.free = nil
	t.leaves = 0
	t.path = t.path[:0]

	if len(entries) == 0 {
		t.root = t.alloc(true)
		t.height = 1
		return
	}

	level := make([]nodeID, 0, len(entries)/t.max+1)
	firsts := make([]Key, 0, cap(level))
	prev := nilNode
	off := 0
	for _, size := range t.pack(len(entries)) {
		id := t.alloc(true)
		n := &t.nodes[id]
		n.entries = append(make([]entry[V], 0, t.max+1), entries[off:off+size]...)
		n.prev = prev
		if prev != nilNode {
			t.nodes[prev].next = id
		}
		prev = id
		level = append(level, id)
		firsts = append(firsts, entries[off].key)
		off += size
	}

	height := 1
	for len(level) > 1 {
		parents := make([]nodeID, 0, len(level)/t.max+1)
		parentFirsts := make([]Key, 0, cap(parents))
		off := 0
		for _, size := range t.pack(len(level)) {
			id := t.alloc(false)
			n := &t.nodes[id]
			n.children = append(make([]nodeID, 0, t.max+1), level[off:off+size]...)
			n.seps = append(make([]Key, 0, t.max), firsts[off+1:off+size]...)
			parents = append(parents, id)
			parentFirsts = append(parentFirsts, firsts[off])
			off += size
		}
		level, firsts = parents, parentFirsts
		height++
	}

	t.root = level[0]
	t.height = height
}

// pack splits n items into node sizes of t.max, evening out the last two
// nodes when the final one would fall below t.min.
func (t *Tree[V]) pack(n int) []int {
	count := (n + t.max - 1) / t.max
	sizes := make([]int, count)
	for i := range sizes {
		sizes[i] = t.max
	}
	sizes[count-1] = n - (count-1)*t.max
	if count > 1 && sizes[count-1] < t.min {
		total := sizes[count-2] + sizes[count-1]
		sizes[count-2] = total / 2
		sizes[count-1] = total - total/2
	}
	return sizes
}
