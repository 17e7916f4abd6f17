// Package search ranks stored documents against a free-text query for the
// keyword search endpoint. It does no I/O and no logging.
//
// A candidate's score is the best Jaccard similarity between the query terms
// and the terms of any one paragraph (see Paragraphs), with the filename
// counted as a paragraph of its own:
//
//	score = |Q ∩ P| / |Q ∪ P|
//
// Scoring paragraphs rather than whole documents keeps long documents from
// being diluted, and the winning paragraph doubles as the result snippet.
package search

import (
	"cmp"
	"maps"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Candidate is a document offered for ranking.
type Candidate struct {
	ID       string
	Filename string
	Text     string
}

// Result is a ranked document with its best-matching paragraph.
type Result struct {
	ID      string
	Snippet string
	Score   float64
}

const defaultTopK = 3

// DefaultStopwords is a short English list suitable for WithStopwords.
var DefaultStopwords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from", "in", "is",
	"it", "of", "on", "or", "that", "the", "to", "was", "with",
}

type config struct {
	minParagraphRunes int
	stopwords         termSet
	snippetRunes      int
}

func defaultConfig() config {
	return config{minParagraphRunes: 1, snippetRunes: 240}
}

// Option configures a Ranker.
type Option func(*config)

// WithMinParagraphRunes ignores paragraphs shorter than n runes.
func WithMinParagraphRunes(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.minParagraphRunes = n
		}
	}
}

// WithStopwords drops the given words from queries and paragraphs.
func WithStopwords(words []string) Option {
	return func(c *config) {
		set := termSet{}
		for _, w := range words {
			if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
				set[w] = struct{}{}
			}
		}
		if len(set) > 0 {
			c.stopwords = set
		}
	}
}

// WithSnippetRunes caps Result.Snippet; 0 disables the cap.
func WithSnippetRunes(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.snippetRunes = n
		}
	}
}

// Ranker is immutable after construction and safe for concurrent use.
type Ranker struct {
	cfg config
}

// NewRanker builds a Ranker with the given options.
func NewRanker(opts ...Option) *Ranker {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Ranker{cfg: cfg}
}

// Terms returns the distinct query terms in sorted order, for prefiltering
// candidates in the database.
func (r *Ranker) Terms(query string) []string {
	return slices.Sorted(maps.Keys(tokenize(query, r.cfg.stopwords)))
}

// Rank returns up to k candidates with a positive score, best first, ties
// broken by ID. k <= 0 means 3.
func (r *Ranker) Rank(query string, cands []Candidate, k int) []Result {
	q := tokenize(query, r.cfg.stopwords)
	if len(q) == 0 || len(cands) == 0 {
		return nil
	}
	if k <= 0 {
		k = defaultTopK
	}

	var hits []Result
	for _, c := range cands {
		if res, ok := r.score(q, c); ok {
			hits = append(hits, res)
		}
	}
	slices.SortFunc(hits, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// score finds c's best paragraph for q.
func (r *Ranker) score(q termSet, c Candidate) (Result, bool) {
	best := Result{ID: c.ID}
	for _, p := range append([]string{c.Filename}, Paragraphs(c.Text)...) {
		p = normalizeWhitespace(p)
		if p == "" || utf8.RuneCountInString(p) < r.cfg.minParagraphRunes {
			continue
		}
		if s := q.jaccard(tokenize(p, r.cfg.stopwords)); s > best.Score {
			best.Score, best.Snippet = s, p
		}
	}
	if best.Score <= 0 {
		return Result{}, false
	}
	best.Snippet = clip(best.Snippet, r.cfg.snippetRunes)
	return best, true
}

// clip shortens s to at most n runes, backing off to the last word break
// when the cut would split a word.
func clip(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	rs := []rune(s)
	cut := n
	if !unicode.IsSpace(rs[n]) {
		if i := strings.LastIndexFunc(string(rs[:n]), unicode.IsSpace); i > 0 {
			cut = utf8.RuneCountInString(string(rs[:n])[:i])
		}
	}
	return strings.TrimRightFunc(string(rs[:cut]), unicode.IsSpace) + "..."
}

var wordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

// termSet is a set of lowercase terms.
type termSet map[string]struct{}

func tokenize(s string, stop termSet) termSet {
	words := wordRE.FindAllString(strings.ToLower(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(termSet, len(words))
	for _, w := range words {
		if _, skip := stop[w]; !skip {
			out[w] = struct{}{}
		}
	}
	return out
}

func (q termSet) jaccard(p termSet) float64 {
	n := overlap(q, p)
	if n == 0 {
		return 0
	}
	return float64(n) / float64(len(q)+len(p)-n)
}

func overlap(a, b termSet) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for t := range a {
		if _, ok := b[t]; ok {
			n++
		}
	}
	return n
}

// normalizeWhitespace collapses runs of whitespace to one space and trims
// the ends.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
