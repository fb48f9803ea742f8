package tdtree

// first returns the leftmost leaf.
func (t *Tree[V]) first() nodeID {
	id := t.root
	for !t.nodes[id].leaf {
		id = t.nodes[id].children[0]
	}
	return id
}

// Ascend calls fn for every interval in key order until fn returns false.
// The tree must not be modified during iteration.
func (t *Tree[V]) Ascend(fn func(Interval[V]) bool) {
	for leaf := t.first(); leaf != nilNode; leaf = t.nodes[leaf].next {
		for i := range t.nodes[leaf].entries {
			if !fn(t.interval(&t.nodes[leaf].entries[i])) {
				return
			}
		}
	}
}

// History returns every interval stored for id in ascending start order.
func (t *Tree[V]) History(id string) ([]Interval[V], error) {
	if err := t.codec.CheckIdentifier(id); err != nil {
		return nil, err
	}
	k := t.codec.encode(id, 0)
	leaf, i, ok := t.ceiling(k)
	if !ok {
		return nil, nil
	}

	var out []Interval[V]
	for leaf != nilNode {
		n := &t.nodes[leaf]
		for ; i < len(n.entries); i++ {
			if !t.codec.SameIdentifier(n.entries[i].key, k) {
				return out, nil
			}
			out = append(out, t.interval(&n.entries[i]))
		}
		leaf, i = n.next, 0
	}
	return out, nil
}

// collect copies every entry in key order.
func (t *Tree[V]) collect() []entry[V] {
	out := make([]entry[V], 0, t.count)
	for leaf := t.first(); leaf != nilNode; leaf = t.nodes[leaf].next {
		out = append(out, t.nodes[leaf].entries...)
	}
	return out
}
