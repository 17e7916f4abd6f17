package search

import (
	"reflect"
	"strings"
	"testing"
)

func TestOptionsAndDefaults(t *testing.T) {
	def := defaultConfig()
	if def.minParagraphRunes != 1 || def.stopwords != nil || def.snippetRunes != 240 {
		t.Fatalf("defaultConfig unexpected: %#v", def)
	}

	cfg := def
	WithMinParagraphRunes(10)(&cfg)
	WithMinParagraphRunes(-5)(&cfg) // no-op
	if cfg.minParagraphRunes != 10 {
		t.Fatalf("minParagraphRunes = %d", cfg.minParagraphRunes)
	}

	WithStopwords([]string{"  The ", "", "An"})(&cfg)
	if _, ok := cfg.stopwords["the"]; !ok {
		t.Fatalf("WithStopwords missing 'the': %#v", cfg.stopwords)
	}
	cfg2 := def
	WithStopwords(nil)(&cfg2)
	if cfg2.stopwords != nil {
		t.Fatalf("empty stopwords should remain nil")
	}

	WithSnippetRunes(0)(&cfg)
	if cfg.snippetRunes != 0 {
		t.Fatalf("snippetRunes = %d", cfg.snippetRunes)
	}
}

func TestTerms(t *testing.T) {
	r := NewRanker(WithStopwords(DefaultStopwords))
	got := r.Terms("The Quarterly report, and THE budget report!")
	want := []string{"budget", "quarterly", "report"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Terms = %v, want %v", got, want)
	}
	if len(r.Terms("  ... ")) != 0 {
		t.Fatalf("punctuation-only query should have no terms")
	}
}

func TestRank_OrdersByBestParagraph(t *testing.T) {
	r := NewRanker()
	cands := []Candidate{
		{ID: "b", Filename: "misc.txt", Text: "nothing relevant here"},
		{ID: "c", Filename: "budget.md", Text: "intro\n\nquarterly budget report"},
		{ID: "a", Filename: "notes.txt", Text: "quarterly report\n\nother words entirely"},
	}
	got := r.Rank("quarterly report", cands, 10)
	if len(got) != 2 {
		t.Fatalf("expected 2 hits, got %+v", got)
	}
	if got[0].ID != "a" || got[0].Score != 1 || got[0].Snippet != "quarterly report" {
		t.Fatalf("best hit = %+v", got[0])
	}
	if got[1].ID != "c" {
		t.Fatalf("second hit = %+v", got[1])
	}
}

func TestRank_FilenameMatchesAndTies(t *testing.T) {
	r := NewRanker()
	cands := []Candidate{
		{ID: "y", Filename: "roadmap.pdf", Text: "unrelated"},
		{ID: "x", Filename: "roadmap.pdf", Text: "unrelated"},
	}
	got := r.Rank("roadmap", cands, 1)
	if len(got) != 1 || got[0].ID != "x" {
		t.Fatalf("ties should break on ID and respect k: %+v", got)
	}
}

func TestRank_EdgeCases(t *testing.T) {
	r := NewRanker()
	if r.Rank("q", nil, 3) != nil {
		t.Fatalf("no candidates -> nil")
	}
	if r.Rank("   ", []Candidate{{ID: "a", Text: "x"}}, 3) != nil {
		t.Fatalf("blank query -> nil")
	}
	if r.Rank("!!!", []Candidate{{ID: "a", Text: "x"}}, 3) != nil {
		t.Fatalf("token-less query -> nil")
	}
	cands := []Candidate{{ID: "a", Text: "alpha"}, {ID: "b", Text: "alpha"}, {ID: "c", Text: "alpha"}, {ID: "d", Text: "alpha"}}
	if got := r.Rank("alpha", cands, 0); len(got) != 3 {
		t.Fatalf("k<=0 should default to 3, got %d", len(got))
	}
}

func TestRank_SnippetClipped(t *testing.T) {
	r := NewRanker(WithSnippetRunes(5))
	got := r.Rank("alpha", []Candidate{{ID: "a", Text: "alpha beta gamma"}}, 1)
	if len(got) != 1 || got[0].Snippet != "alpha..." {
		t.Fatalf("snippet = %+v", got)
	}
}

func TestClip_BacksOffToWordBreak(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"alpha beta gamma", 0, "alpha beta gamma"},
		{"alpha beta gamma", 16, "alpha beta gamma"},
		{"alpha beta gamma", 8, "alpha..."},
		{"alpha beta gamma", 11, "alpha beta..."},
		{"supercalifragilistic", 5, "super..."},
		{"größe über alles", 7, "größe..."},
	}
	for _, tc := range cases {
		if got := clip(tc.in, tc.n); got != tc.want {
			t.Errorf("clip(%q, %d) = %q; want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestNormalizeWhitespace(t *testing.T) {
	if got := normalizeWhitespace("a \t\r\n  b"); got != "a b" {
		t.Fatalf("normalizeWhitespace = %q", got)
	}
}

func TestTokenizeAndOverlap(t *testing.T) {
	toks := tokenize("Héllo, wörld 42 abc123", map[string]struct{}{"abc123": {}})
	for _, w := range []string{"héllo", "wörld"} {
		if _, ok := toks[w]; !ok {
			t.Fatalf("missing %q in %v", w, toks)
		}
	}
	if _, ok := toks["abc123"]; ok {
		t.Fatalf("stopword kept")
	}
	if overlap(nil, toks) != 0 || toks.jaccard(nil) != 0 {
		t.Fatalf("empty sets should not overlap")
	}
	if !strings.Contains(strings.Join(NewRanker().Terms("a1 b2"), ","), "a1") {
		t.Fatalf("letter+digit tokens should survive")
	}
}

func TestRank_NumericTerms(t *testing.T) {
	r := NewRanker()
	if got := r.Terms("error 404 in 2024"); !reflect.DeepEqual(got, []string{"2024", "404", "error", "in"}) {
		t.Fatalf("Terms = %v", got)
	}

	cands := []Candidate{
		{ID: "a", Filename: "plan.md", Text: "Roadmap for 2024"},
		{ID: "b", Filename: "plan-2023.md", Text: "Roadmap"},
		{ID: "c", Filename: "errors.txt", Text: "HTTP 404 means not found"},
	}
	got := r.Rank("2024", cands, 0)
	if len(got) != 1 || got[0].ID != "a" || got[0].Snippet != "Roadmap for 2024" {
		t.Fatalf("Rank(2024) = %+v", got)
	}
	if got := r.Rank("404", cands, 0); len(got) != 1 || got[0].ID != "c" {
		t.Fatalf("Rank(404) = %+v", got)
	}
}
