package tdtree

import "fmt"

// Update replaces the value of the interval for id covering time. The
// interval's bounds are unchanged.
func (t *Tree[V]) Update(id string, time int64, v V) error {
	k, err := t.codec.Encode(id, time)
	if err != nil {
		return err
	}
	leaf, i, ok := t.covering(k, time)
	if !ok {
		return fmt.Errorf("%w: %q at %d", ErrNotFound, id, time)
	}
	e := &t.nodes[leaf].entries[i]
	t.untrack(e)
	e.value = v
	t.track(e)
	return nil
}

// SetTemporals moves the bounds of the interval for id covering time to
// [start, end]. Other intervals of id that the new bounds reach into are
// truncated, split or removed.
func (t *Tree[V]) SetTemporals(id string, time, start, end int64) error {
	e, err := t.take(id, time, start, end)
	if err != nil {
		return err
	}
	return t.Insert(id, start, end, e.value)
}

// Replace removes the interval for id covering time and stores v over
// [start, end] instead.
func (t *Tree[V]) Replace(id string, time, start, end int64, v V) error {
	if _, err := t.take(id, time, start, end); err != nil {
		return err
	}
	return t.Insert(id, start, end, v)
}

// take validates the replacement bounds, then removes and returns the
// interval covering time.
func (t *Tree[V]) take(id string, time, start, end int64) (entry[V], error) {
	k, err := t.codec.Encode(id, time)
	if err != nil {
		return entry[V]{}, err
	}
	if err := t.checkInterval(id, start, end); err != nil {
		return entry[V]{}, err
	}
	leaf, i, ok := t.covering(k, time)
	if !ok {
		return entry[V]{}, fmt.Errorf("%w: %q at %d", ErrNotFound, id, time)
	}
	e, _ := t.removeKey(t.nodes[leaf].entries[i].key)
	return e, nil
}

// Delete removes the interval for id covering time.
func (t *Tree[V]) Delete(id string, time int64) error {
	k, err := t.codec.Encode(id, time)
	if err != nil {
		return err
	}
	leaf, i, ok := t.covering(k, time)
	if !ok {
		return fmt.Errorf("%w: %q at %d", ErrNotFound, id, time)
	}
	t.removeKey(t.nodes[leaf].entries[i].key)
	return nil
}

// DeleteValue removes every interval holding v and returns how many were
// removed. Without a reverse index this scans every leaf.
func (t *Tree[V]) DeleteValue(v V) int {
	var keys []Key
	if t.byValue != nil {
		for k := range t.byValue[v] {
			keys = append(keys, k)
		}
	} else {
		for leaf := t.first(); leaf != nilNode; leaf = t.nodes[leaf].next {
			for i := range t.nodes[leaf].entries {
				if e := &t.nodes[leaf].entries[i]; e.value == v {
					keys = append(keys, e.key)
				}
			}
		}
	}

	removed := 0
	for _, k := range keys {
		if _, ok := t.removeKey(k); ok {
			removed++
		}
	}
	return removed
}
