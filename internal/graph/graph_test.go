package graph

import "testing"

func TestQueryRanksBySimilarityThenRecency(t *testing.T) {
	g := New()
	g.AddClaim("hash-cats", "cats and dogs make great pets", nil, 100)
	g.AddClaim("hash-rockets", "rocket engines use liquid oxygen fuel", nil, 200)

	results := g.Query("pets cats dogs", 0, false)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ClaimHash != "hash-cats" {
		t.Fatalf("expected hash-cats ranked first, got %s", results[0].ClaimHash)
	}
}

func TestQuerySkipsRetractedByDefault(t *testing.T) {
	g := New()
	g.AddClaim("hash-a", "some shared text", nil, 100)
	g.Retract("hash-a")

	results := g.Query("some shared text", 0, false)
	if len(results) != 0 {
		t.Fatalf("expected retracted claim excluded, got %d results", len(results))
	}

	results = g.Query("some shared text", 0, true)
	if len(results) != 1 {
		t.Fatalf("expected retracted claim included when requested, got %d", len(results))
	}
}

func TestQueryTiesBreakByNewerCreatedMs(t *testing.T) {
	g := New()
	g.AddClaim("hash-old", "identical text", nil, 100)
	g.AddClaim("hash-new", "identical text", nil, 200)

	results := g.Query("identical text", 0, false)
	if len(results) != 2 || results[0].ClaimHash != "hash-new" {
		t.Fatalf("expected hash-new ranked first on tie, got %+v", results)
	}
}

func TestEmbedIsDeterministic(t *testing.T) {
	a := Embed("the quick brown fox")
	b := Embed("the quick brown fox")
	if a != b {
		t.Fatalf("expected identical embeddings for identical text")
	}
}

func TestEmbedEmptyTextIsZeroVector(t *testing.T) {
	v := Embed("")
	for _, x := range v {
		if x != 0 {
			t.Fatalf("expected zero vector for empty text")
		}
	}
}
