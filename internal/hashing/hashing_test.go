package hashing

import "testing"

func TestSumIsStable(t *testing.T) {
	a := Sum([]byte("const answer = 42;"))
	b := Sum([]byte("const answer = 42;"))
	if a != b {
		t.Fatalf("same bytes hashed differently: %s vs %s", a, b)
	}
	if a == Sum([]byte("const answer = 43;")) {
		t.Fatalf("different bytes produced the same hash")
	}
	if len(a) != 16 {
		t.Fatalf("digest length: got=%d want=16", len(a))
	}
}

func TestSumWithDependenciesIgnoresOrder(t *testing.T) {
	content := []byte("import './a.js'; import './b.js';")
	h1 := SumWithDependencies(content, []string{"aaa", "bbb"})
	h2 := SumWithDependencies(content, []string{"bbb", "aaa"})
	if h1 != h2 {
		t.Fatalf("dependency order changed the hash: %s vs %s", h1, h2)
	}
}

func TestSumWithDependenciesCascades(t *testing.T) {
	content := []byte("import './a.js';")
	before := SumWithDependencies(content, []string{"aaa"})
	after := SumWithDependencies(content, []string{"ccc"})
	if before == after {
		t.Fatalf("dependency change did not cascade into the hash")
	}
	if before == Sum(content) {
		t.Fatalf("hash with dependencies should differ from the bare content hash")
	}
}
