package addr

import "testing"

func TestParseAndString(t *testing.T) {
	a, err := Parse("Example.COM:7687")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Host != "example.com" || a.Port != 7687 {
		t.Fatalf("got %+v", a)
	}
	if a.String() != "example.com:7687" {
		t.Fatalf("got %s", a.String())
	}
}

func TestParseIPv6Brackets(t *testing.T) {
	a, err := Parse("[::1]:7687")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Host != "::1" {
		t.Fatalf("got %q", a.Host)
	}
}

func TestEqualityAsMapKey(t *testing.T) {
	a1 := New("Router1", 7687)
	a2 := New("router1", 7687)
	m := map[ServerAddress]int{a1: 1}
	if _, ok := m[a2]; !ok {
		t.Fatal("expected normalized addresses to compare equal as map keys")
	}
}

func TestDedupAndWithout(t *testing.T) {
	a := New("a", 1)
	b := New("b", 2)
	list := []ServerAddress{a, b, a}
	d := Dedup(list)
	if len(d) != 2 {
		t.Fatalf("expected 2 unique, got %d", len(d))
	}
	w := Without(d, a)
	if len(w) != 1 || w[0] != b {
		t.Fatalf("got %+v", w)
	}
	if !Contains(d, a) {
		t.Fatal("expected Contains to find a")
	}
}
