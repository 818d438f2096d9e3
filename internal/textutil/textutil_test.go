package textutil

import (
	"math"
	"testing"
)

func TestTokenize(t *testing.T) {
	got := Tokenize("Neon-lit CITY streets at Night, 4K!")
	want := []string{"neon", "lit", "city", "streets", "night"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "ocean waves crashing", "ocean waves crashing", 1},
		{"disjoint", "ocean waves", "mountain snow", 0},
		{"empty", "", "ocean", 0},
		{"half", "ocean waves", "ocean cliffs", 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(NewFingerprint(tt.a), NewFingerprint(tt.b))
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("similarity = %v, want %v", got, tt.want)
			}
			if back := CosineSimilarity(NewFingerprint(tt.b), NewFingerprint(tt.a)); math.Abs(back-got) > 1e-9 {
				t.Fatalf("similarity is not symmetric: %v vs %v", got, back)
			}
		})
	}
}

func TestRelevancePrefersRareTerms(t *testing.T) {
	docs := []string{
		"city skyline footage",
		"city traffic footage",
		"rainy city alley footage",
		"forest trail",
	}
	scores := Relevance("rainy city", docs)
	best := 0
	for i := range scores {
		if scores[i] > scores[best] {
			best = i
		}
	}
	if best != 2 {
		t.Fatalf("expected the rainy alley to rank first, scores %v", scores)
	}
	if scores[3] != 0 {
		t.Fatalf("expected unrelated doc to score 0, got %v", scores[3])
	}
	for _, s := range Relevance("at", docs) {
		if s != 0 {
			t.Fatalf("expected zero scores for a token-less query, got %v", s)
		}
	}
}

func TestSanitizeToken(t *testing.T) {
	tests := map[string]string{
		"Clip/ID:42":  "clip_id_42",
		"  ":          "unknown",
		"__-__":       "unknown",
		"vid_01-a":    "vid_01-a",
		"ünïcode Clip": "n_code_clip",
	}
	for in, want := range tests {
		if got := SanitizeToken(in); got != want {
			t.Fatalf("SanitizeToken(%q) = %q, want %q", in, got, want)
		}
	}
	if got := Slug("a very long search query about cities", 12); got != "a_very_long" {
		t.Fatalf("Slug = %q", got)
	}
}
