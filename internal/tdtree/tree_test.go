package tdtree

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
)

func newTestTree(t testing.TB, bf int, reverse bool) *Tree[string] {
	t.Helper()
	tr, err := New[string](Options{
		BranchingFactor:  bf,
		MaxIdentifierLen: 16,
		MaxValue:         1 << 40,
		ReverseIndex:     reverse,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr
}

func mustInsert(t testing.TB, tr *Tree[string], id string, start, end int64, v string) {
	t.Helper()
	if err := tr.Insert(id, start, end, v); err != nil {
		t.Fatalf("Insert(%q, %d, %d): %v", id, start, end, err)
	}
}

func mustVerify(t testing.TB, tr *Tree[string]) {
	t.Helper()
	if err := tr.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func assertGet(t *testing.T, tr *Tree[string], id string, time int64, want string) {
	t.Helper()
	got, ok, err := tr.Get(id, time)
	if err != nil {
		t.Fatalf("Get(%q, %d): %v", id, time, err)
	}
	if want == "" {
		if ok {
			t.Errorf("Get(%q, %d) = %q, want not found", id, time, got)
		}
		return
	}
	if !ok || got != want {
		t.Errorf("Get(%q, %d) = %q, %v, want %q", id, time, got, ok, want)
	}
}

type span struct {
	start, end int64
	value      string
}

func assertHistory(t *testing.T, tr *Tree[string], id string, want ...span) {
	t.Helper()
	got, err := tr.History(id)
	if err != nil {
		t.Fatalf("History(%q): %v", id, err)
	}
	if len(got) != len(want) {
		t.Fatalf("History(%q) = %v, want %v", id, got, want)
	}
	for i, iv := range got {
		if iv.ID != id || iv.Start != want[i].start || iv.End != want[i].end || iv.Value != want[i].value {
			t.Errorf("History(%q)[%d] = %+v, want %+v", id, i, iv, want[i])
		}
	}
}

func TestNewInvalidOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.BranchingFactor = 3
	if _, err := New[string](opts); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("New(bf=3) = %v, want ErrInvalidOptions", err)
	}
	opts = DefaultOptions()
	opts.MaxValue = 0
	if _, err := New[string](opts); !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("New(max=0) = %v, want ErrInvalidOptions", err)
	}
}

func TestEmptyTree(t *testing.T) {
	tr := newTestTree(t, 4, false)
	assertGet(t, tr, "x", 0, "")
	if tr.Len() != 0 || tr.Height() != 1 || tr.Leaves() != 1 {
		t.Errorf("Len/Height/Leaves = %d/%d/%d, want 0/1/1", tr.Len(), tr.Height(), tr.Leaves())
	}
	if h, err := tr.History("x"); err != nil || len(h) != 0 {
		t.Errorf("History = %v, %v, want empty", h, err)
	}
	mustVerify(t, tr)
}

func TestTemporalScenario(t *testing.T) {
	tr := newTestTree(t, 4, false)
	mustInsert(t, tr, "obj", 1, 5, "A")
	mustInsert(t, tr, "obj", 5, 5, "B")
	mustInsert(t, tr, "obj", 6, Open, "C")

	assertGet(t, tr, "obj", 0, "")
	assertGet(t, tr, "obj", 4, "A")
	assertGet(t, tr, "obj", 5, "B")
	assertGet(t, tr, "obj", 9, "C")
	assertGet(t, tr, "obj", 1<<40, "C")

	if err := tr.SetTemporals("obj", 6, 6, 8); err != nil {
		t.Fatalf("SetTemporals: %v", err)
	}
	assertGet(t, tr, "obj", 10, "")
	assertGet(t, tr, "obj", 7, "C")
	assertHistory(t, tr, "obj",
		span{1, 4, "A"},
		span{5, 5, "B"},
		span{6, 8, "C"},
	)
	mustVerify(t, tr)
}

func TestInsertOverlap(t *testing.T) {
	tests := []struct {
		name     string
		existing []span
		insert   span
		want     []span
	}{
		{
			name:     "splits enclosing interval",
			existing: []span{{0, 100, "A"}},
			insert:   span{10, 20, "B"},
			want:     []span{{0, 9, "A"}, {10, 20, "B"}, {21, 100, "A"}},
		},
		{
			name:     "truncates predecessor",
			existing: []span{{0, 10, "A"}},
			insert:   span{5, 15, "B"},
			want:     []span{{0, 4, "A"}, {5, 15, "B"}},
		},
		{
			name:     "trims successor",
			existing: []span{{10, 20, "A"}},
			insert:   span{5, 12, "B"},
			want:     []span{{5, 12, "B"}, {13, 20, "A"}},
		},
		{
			name:     "removes covered intervals",
			existing: []span{{0, 9, "A"}, {10, 19, "B"}, {20, 29, "C"}},
			insert:   span{5, 25, "D"},
			want:     []span{{0, 4, "A"}, {5, 25, "D"}, {26, 29, "C"}},
		},
		{
			name:     "replaces identical bounds",
			existing: []span{{3, 7, "A"}},
			insert:   span{3, 7, "B"},
			want:     []span{{3, 7, "B"}},
		},
		{
			name:     "open interval swallows later ones",
			existing: []span{{0, 4, "A"}, {5, 9, "B"}, {20, Open, "C"}},
			insert:   span{3, Open, "D"},
			want:     []span{{0, 2, "A"}, {3, Open, "D"}},
		},
		{
			name:     "closing an open interval keeps its tail",
			existing: []span{{0, Open, "A"}},
			insert:   span{0, 5, "B"},
			want:     []span{{0, 5, "B"}, {6, Open, "A"}},
		},
		{
			name:     "adjacent intervals untouched",
			existing: []span{{0, 4, "A"}, {10, 14, "C"}},
			insert:   span{5, 9, "B"},
			want:     []span{{0, 4, "A"}, {5, 9, "B"}, {10, 14, "C"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTree(t, 4, true)
			for _, s := range tt.existing {
				mustInsert(t, tr, "id", s.start, s.end, s.value)
			}
			mustInsert(t, tr, "id", tt.insert.start, tt.insert.end, tt.insert.value)
			assertHistory(t, tr, "id", tt.want...)
			mustVerify(t, tr)
		})
	}
}

func TestInsertMaxValueEnd(t *testing.T) {
	tr := newTestTree(t, 4, false)
	max := tr.Codec().MaxValue()
	mustInsert(t, tr, "id", 0, Open, "A")
	mustInsert(t, tr, "id", 10, max, "B")

	// Nothing after max is representable, so the open tail is dropped.
	assertHistory(t, tr, "id", span{0, 9, "A"}, span{10, max, "B"})
	mustVerify(t, tr)
}

func TestInsertInvalid(t *testing.T) {
	tr := newTestTree(t, 4, false)
	tests := []struct {
		name       string
		id         string
		start, end int64
		want       error
	}{
		{"start after end", "id", 5, 4, ErrInvalidInterval},
		{"empty id", "", 0, 1, ErrInvalidIdentifier},
		{"long id", "0123456789abcdefg", 0, 1, ErrInvalidIdentifier},
		{"negative start", "id", -1, 1, ErrOutOfRange},
		{"end past max", "id", 0, 1<<40 + 1, ErrOutOfRange},
		{"open start", "id", Open, Open, ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tr.Insert(tt.id, tt.start, tt.end, "v"); !errors.Is(err, tt.want) {
				t.Errorf("Insert = %v, want %v", err, tt.want)
			}
		})
	}
	if tr.Len() != 0 {
		t.Errorf("Len = %d after rejected inserts, want 0", tr.Len())
	}
}

func TestIdentifiersAreIsolated(t *testing.T) {
	tr := newTestTree(t, 4, false)
	mustInsert(t, tr, "a", 0, 10, "a")
	mustInsert(t, tr, "ab", 0, 10, "ab")
	mustInsert(t, tr, "b", 5, 6, "b")

	assertGet(t, tr, "a", 7, "a")
	assertGet(t, tr, "ab", 7, "ab")
	assertGet(t, tr, "b", 7, "")
	assertHistory(t, tr, "a", span{0, 10, "a"})

	mustInsert(t, tr, "a", 0, Open, "a2")
	assertHistory(t, tr, "ab", span{0, 10, "ab"})
	mustVerify(t, tr)
}

func TestLookupAndFloor(t *testing.T) {
	tr := newTestTree(t, 4, false)
	mustInsert(t, tr, "id", 10, 20, "A")
	mustInsert(t, tr, "id", 30, 40, "B")

	iv, ok, err := tr.Lookup("id", 15)
	if err != nil || !ok {
		t.Fatalf("Lookup = %v, %v", ok, err)
	}
	if iv.Start != 10 || iv.End != 20 || iv.Value != "A" || !iv.Contains(15) {
		t.Errorf("Lookup = %+v", iv)
	}

	// Floor finds the preceding interval even though it ended.
	iv, ok, err = tr.Floor("id", 25)
	if err != nil || !ok || iv.Value != "A" {
		t.Errorf("Floor(25) = %+v, %v, %v, want A", iv, ok, err)
	}
	if _, ok, _ := tr.Lookup("id", 25); ok {
		t.Error("Lookup(25) found an interval in a gap")
	}
	if _, ok, _ := tr.Floor("id", 5); ok {
		t.Error("Floor(5) found an interval before the first start")
	}
	if _, ok, _ := tr.Floor("other", 100); ok {
		t.Error("Floor crossed into another identifier")
	}
}

func TestAscend(t *testing.T) {
	tr := newTestTree(t, 4, false)
	for i := range 50 {
		mustInsert(t, tr, fmt.Sprintf("id%02d", i%5), int64(i), int64(i), "v")
	}
	var prev Interval[string]
	n := 0
	tr.Ascend(func(iv Interval[string]) bool {
		if n > 0 && (iv.ID < prev.ID || iv.ID == prev.ID && iv.Start <= prev.Start) {
			t.Errorf("Ascend out of order: %+v after %+v", iv, prev)
		}
		prev = iv
		n++
		return true
	})
	if n != 50 {
		t.Errorf("Ascend visited %d, want 50", n)
	}

	n = 0
	tr.Ascend(func(Interval[string]) bool {
		n++
		return n < 3
	})
	if n != 3 {
		t.Errorf("Ascend did not stop early: %d", n)
	}
}

func TestSplitGrowsTree(t *testing.T) {
	tr := newTestTree(t, 4, true)
	for i := range 500 {
		mustInsert(t, tr, "seq", int64(i*10), int64(i*10+5), fmt.Sprint(i))
		mustVerify(t, tr)
	}
	if tr.Len() != 500 {
		t.Errorf("Len = %d, want 500", tr.Len())
	}
	if tr.Height() < 4 {
		t.Errorf("Height = %d, want at least 4 with branching factor 4", tr.Height())
	}
	for i := range 500 {
		assertGet(t, tr, "seq", int64(i*10+3), fmt.Sprint(i))
		assertGet(t, tr, "seq", int64(i*10+7), "")
	}
}

func TestRandomInsertDelete(t *testing.T) {
	for _, bf := range []int{4, 5, 8, 32} {
		t.Run(fmt.Sprintf("bf=%d", bf), func(t *testing.T) {
			rng := rand.New(rand.NewSource(int64(bf)))
			tr := newTestTree(t, bf, bf%2 == 0)

			type point struct {
				id   string
				time int64
			}
			var points []point
			for i := range 2000 {
				p := point{id: fmt.Sprintf("k%d", rng.Intn(20)), time: int64(i) * 3}
				mustInsert(t, tr, p.id, p.time, p.time+1, fmt.Sprint(i))
				points = append(points, p)
			}
			mustVerify(t, tr)

			rng.Shuffle(len(points), func(i, j int) { points[i], points[j] = points[j], points[i] })
			for i, p := range points {
				if err := tr.Delete(p.id, p.time+1); err != nil {
					t.Fatalf("Delete(%q, %d): %v", p.id, p.time+1, err)
				}
				if i%97 == 0 {
					mustVerify(t, tr)
				}
			}
			mustVerify(t, tr)
			if tr.Len() != 0 || tr.Height() != 1 || tr.Leaves() != 1 || tr.Nodes() != 1 {
				t.Errorf("Len/Height/Leaves/Nodes = %d/%d/%d/%d, want 0/1/1/1",
					tr.Len(), tr.Height(), tr.Leaves(), tr.Nodes())
			}
		})
	}
}

func TestArenaReusesFreedNodes(t *testing.T) {
	tr := newTestTree(t, 4, false)
	peak := 0
	for round := range 3 {
		for i := range 200 {
			mustInsert(t, tr, "id", int64(i), int64(i), "v")
		}
		for i := range 200 {
			if err := tr.Delete("id", int64(i)); err != nil {
				t.Fatalf("round %d Delete(%d): %v", round, i, err)
			}
		}
		if round == 0 {
			peak = len(tr.nodes)
		}
	}
	if len(tr.nodes) != peak {
		t.Errorf("arena grew from %d to %d slots across rounds", peak, len(tr.nodes))
	}
	mustVerify(t, tr)
}
