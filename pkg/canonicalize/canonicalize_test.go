package canonicalize

import (
	"bytes"
	"testing"
)

func TestJCSKeyOrder(t *testing.T) {
	a, err := JCS(map[string]interface{}{"b": 1, "a": 2})
	if err != nil {
		t.Fatal(err)
	}
	b, err := JCS(map[string]interface{}{"a": 2, "b": 1})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("canonical forms differ: %s vs %s", a, b)
	}
	if string(a) != `{"a":2,"b":1}` {
		t.Fatalf("unexpected canonical form: %s", a)
	}
}

func TestCanonicalHashStable(t *testing.T) {
	v := map[string]interface{}{"name": "Acme", "n": 3}
	h1, err := CanonicalHash(v)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := CanonicalHash(map[string]interface{}{"n": 3, "name": "Acme"})
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("hash not stable under key order: %s vs %s", h1, h2)
	}
	if h1[:7] != "sha256:" {
		t.Fatalf("missing algorithm prefix: %s", h1)
	}
}

func TestHashEmpty(t *testing.T) {
	if Hash(nil) != Hash([]byte{}) {
		t.Fatal("nil and empty should hash identically")
	}
}
