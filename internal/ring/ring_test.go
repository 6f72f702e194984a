package ring_test

import "testing"
import "github.com/cypherbolt/bolt-go/internal/ring"

func TestNextIndexWrapsModuloLength(t *testing.T) {
	var idx ring.Index
	seen := make([]int, 0, 6)
	for i := 0; i < 6; i++ {
		v, ok := idx.NextIndex(3)
		if !ok {
			t.Fatal("expected ok")
		}
		seen = append(seen, v)
	}
	want := []int{0, 1, 2, 0, 1, 2}
	for i, w := range want {
		if seen[i] != w {
			t.Fatalf("at %d: got %d want %d (full=%v)", i, seen[i], w, seen)
		}
	}
}

func TestNextIndexEmptyReturnsFalse(t *testing.T) {
	var idx ring.Index
	if _, ok := idx.NextIndex(0); ok {
		t.Fatal("expected not ok for empty length")
	}
}

func TestNextIndexClampsAfterShrink(t *testing.T) {
	var idx ring.Index
	idx.NextIndex(5)
	idx.NextIndex(5)
	idx.NextIndex(5) // pos now 3

	// Slice shrank to length 2; must clamp rather than go out of range.
	v, ok := idx.NextIndex(2)
	if !ok || v < 0 || v >= 2 {
		t.Fatalf("got v=%d ok=%v", v, ok)
	}
}
