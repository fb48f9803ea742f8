package tdtree

// Verify checks every structural invariant of the tree and returns an
// *InvariantError describing the first violation found.
func (t *Tree[V]) Verify() error {
	type item struct {
		id     nodeID
		depth  int
		lo, hi Key
	}

	var leaves []nodeID
	count := 0
	stack := []item{{id: t.root, depth: 1}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &t.nodes[it.id]

		if it.id != t.root && (n.size() < t.min || n.size() > t.max) {
			return invariant(it.id, "occupancy %d outside [%d,%d]", n.size(), t.min, t.max)
		}

		if n.leaf {
			if it.depth != t.height {
				return invariant(it.id, "leaf at depth %d, height %d", it.depth, t.height)
			}
			for i := range n.entries {
				e := &n.entries[i]
				if i > 0 && n.entries[i-1].key >= e.key {
					return invariant(it.id, "entries out of order at %d", i)
				}
				if it.lo != "" && e.key < it.lo || it.hi != "" && e.key >= it.hi {
					return invariant(it.id, "entry %d outside separator bounds", i)
				}
				if e.start != t.codec.Time(e.key) || e.start > e.end {
					return invariant(it.id, "entry %d has bounds [%d,%d]", i, e.start, e.end)
				}
			}
			count += len(n.entries)
			leaves = append(leaves, it.id)
			continue
		}

		if len(n.children) < 2 || len(n.seps) != len(n.children)-1 {
			return invariant(it.id, "%d children with %d separators", len(n.children), len(n.seps))
		}
		for i := 1; i < len(n.seps); i++ {
			if n.seps[i-1] >= n.seps[i] {
				return invariant(it.id, "separators out of order at %d", i)
			}
		}
		// Push right to left so leaves are visited in key order.
		for i := len(n.children) - 1; i >= 0; i-- {
			lo, hi := it.lo, it.hi
			if i > 0 {
				lo = n.seps[i-1]
			}
			if i < len(n.seps) {
				hi = n.seps[i]
			}
			stack = append(stack, item{id: n.children[i], depth: it.depth + 1, lo: lo, hi: hi})
		}
	}

	if count != t.count {
		return invariant(-1, "counted %d entries, expected %d", count, t.count)
	}
	if len(leaves) != t.leaves {
		return invariant(-1, "counted %d leaves, expected %d", len(leaves), t.leaves)
	}
	for i, id := range leaves {
		prev, next := nilNode, nilNode
		if i > 0 {
			prev = leaves[i-1]
		}
		if i+1 < len(leaves) {
			next = leaves[i+1]
		}
		if t.nodes[id].prev != prev || t.nodes[id].next != next {
			return invariant(id, "leaf chain broken")
		}
	}

	var last *entry[V]
	tracked := 0
	for _, id := range leaves {
		for i := range t.nodes[id].entries {
			e := &t.nodes[id].entries[i]
			if last != nil && t.codec.SameIdentifier(last.key, e.key) && last.end >= e.start {
				return invariant(id, "intervals [%d,%d] and [%d,%d] overlap for %q",
					last.start, last.end, e.start, e.end, t.codec.Identifier(e.key))
			}
			last = e
			if t.byValue != nil {
				if _, ok := t.byValue[e.value][e.key]; !ok {
					return invariant(id, "entry %d missing from reverse index", i)
				}
			}
		}
	}
	if t.byValue != nil {
		for _, keys := range t.byValue {
			tracked += len(keys)
		}
		if tracked != t.count {
			return invariant(-1, "reverse index holds %d keys, expected %d", tracked, t.count)
		}
	}
	return nil
}
