package crypto

import "testing"

func TestCanonicalSortsKeys(t *testing.T) {
	v := map[string]any{"b": 1, "a": 2, "c": map[string]any{"z": 1, "y": 2}}
	out, err := Canonical(v)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	want := `{"a":2,"b":1,"c":{"y":2,"z":1}}`
	if string(out) != want {
		t.Fatalf("got %s, want %s", out, want)
	}
}

func TestCanonicalDeterministicAcrossEquivalentMaps(t *testing.T) {
	v1 := map[string]any{"x": 1, "y": []any{"a", "b"}}
	v2 := map[string]any{"y": []any{"a", "b"}, "x": 1}
	out1, err := Canonical(v1)
	if err != nil {
		t.Fatalf("canonical v1: %v", err)
	}
	out2, err := Canonical(v2)
	if err != nil {
		t.Fatalf("canonical v2: %v", err)
	}
	if string(out1) != string(out2) {
		t.Fatalf("canonical form should not depend on map construction order: %s vs %s", out1, out2)
	}
}

func TestHashObjStable(t *testing.T) {
	v := map[string]any{"height": 1, "prev": "abc"}
	h1, err := HashObj(v)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	h2, err := HashObj(v)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 != h2 {
		t.Fatal("hashing the same object twice should be stable")
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64-char hex sha256, got %d", len(h1))
	}
}
