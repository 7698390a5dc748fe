// Package label names groups of texts by the terms that set them apart
// from the other groups, using a class-based TF-IDF.
package label

import (
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Miscellaneous is the label of a group with no usable terms.
const Miscellaneous = "miscellaneous"

// Config controls term scoring.
type Config struct {
	// Terms is how many top terms make up a label.
	Terms int `json:"terms" yaml:"terms" validate:"gte=1,lte=10"`
	// BM25 switches the inverse frequency to its BM25 form, which damps
	// terms common to every group.
	BM25 bool `json:"bm25" yaml:"bm25"`
	// SeedWords get their weight multiplied by SeedMultiplier.
	SeedWords      []string `json:"seed_words" yaml:"seed_words"`
	SeedMultiplier float64  `json:"seed_multiplier" yaml:"seed_multiplier" validate:"gte=0"`
	// MaxDF drops terms found in more than this share of the groups before
	// scoring. It only applies when there are at least two groups, and a
	// term found in a single group is always kept. Zero disables pruning.
	MaxDF float64 `json:"max_df" yaml:"max_df" validate:"gte=0,lte=1"`
	// Candidates is how many top terms per group are kept for reranking.
	Candidates int `json:"candidates" yaml:"candidates" validate:"gte=0"`
}

// DefaultConfig returns 3-term labels with BM25 weighting, drawn from 20
// candidates per group.
func DefaultConfig() Config {
	return Config{Terms: 3, BM25: true, SeedMultiplier: 2, MaxDF: 0.4, Candidates: 20}
}

// Term is one scored word.
type Term struct {
	Word  string  `json:"word"`
	Score float64 `json:"score"`
	Freq  int     `json:"freq"`
}

// Label is the result for one group.
type Label struct {
	Terms []Term `json:"terms"`
	Text  string `json:"text"`
}

// Words returns the label's terms in rank order.
func (l Label) Words() []string {
	out := make([]string, len(l.Terms))
	for i, t := range l.Terms {
		out[i] = t.Word
	}
	return out
}

// Labeler scores terms per group.
type Labeler struct {
	cfg   Config
	seeds map[string]bool
}

// New creates a Labeler. Seed words are tokenized like the texts.
func New(cfg Config) *Labeler {
	if cfg.Terms <= 0 {
		cfg.Terms = 3
	}
	if cfg.SeedMultiplier <= 0 {
		cfg.SeedMultiplier = 2
	}
	if cfg.Candidates < cfg.Terms {
		cfg.Candidates = cfg.Terms
	}
	seeds := make(map[string]bool)
	for _, s := range cfg.SeedWords {
		for _, w := range Tokenize(s) {
			seeds[w] = true
		}
	}
	return &Labeler{cfg: cfg, seeds: seeds}
}

// WithSeeds returns a copy of l that favors the words of the given seed
// phrases.
func (l *Labeler) WithSeeds(phrases []string) *Labeler {
	cfg := l.cfg
	cfg.SeedWords = append(append([]string(nil), cfg.SeedWords...), phrases...)
	return New(cfg)
}

// Label returns one label per group. groups[c] holds the texts of group c.
func (l *Labeler) Label(groups [][]string) []Label {
	return l.score(groups, l.cfg.Terms)
}

// Candidates is Label with up to Config.Candidates terms per group, for
// reranking with Rerank.
func (l *Labeler) Candidates(groups [][]string) []Label {
	return l.score(groups, l.cfg.Candidates)
}

// score keeps the top keep terms of each group.
//
// Terms present in more than MaxDF of the groups are dropped first. A
// term t scores tf(t,c) * idf(t) in group c, where tf is the term's share
// of all tokens in c and idf = log(1 + A/f) with A the average token count
// per group and f the term's count across all groups (BM25 form:
// log(1 + (A-f+0.5)/(f+0.5))). Ties rank by raw count in c, then
// alphabetically.
func (l *Labeler) score(groups [][]string, keep int) []Label {
	counts := make([]map[string]int, len(groups))
	totals := make([]int, len(groups))
	corpus := make(map[string]int)

	for c, texts := range groups {
		counts[c] = make(map[string]int)
		for _, t := range texts {
			for _, w := range Tokenize(t) {
				counts[c][w]++
				totals[c]++
				corpus[w]++
			}
		}
	}

	pruned := l.prune(counts)

	var avg float64
	for _, t := range totals {
		avg += float64(t)
	}
	if len(totals) > 0 {
		avg /= float64(len(totals))
	}

	idf := make(map[string]float64, len(corpus))
	for w, f := range corpus {
		ff := float64(f)
		v := math.Log(1 + avg/ff)
		if l.cfg.BM25 {
			v = math.Log(1 + (avg-ff+0.5)/(ff+0.5))
		}
		if l.seeds[w] && v > 0 {
			v *= l.cfg.SeedMultiplier
		}
		idf[w] = v
	}

	out := make([]Label, len(groups))
	for c := range groups {
		terms := make([]Term, 0, len(counts[c]))
		for w, n := range counts[c] {
			if pruned[w] {
				continue
			}
			terms = append(terms, Term{
				Word:  w,
				Score: float64(n) / float64(totals[c]) * idf[w],
				Freq:  n,
			})
		}
		sortTerms(terms)
		if len(terms) > keep {
			terms = terms[:keep]
		}
		out[c] = Label{Terms: terms, Text: join(terms)}
	}
	return out
}

// prune returns the terms found in more than MaxDF of the groups.
func (l *Labeler) prune(counts []map[string]int) map[string]bool {
	if l.cfg.MaxDF <= 0 || len(counts) < 2 {
		return nil
	}
	df := make(map[string]int)
	for _, c := range counts {
		for w := range c {
			df[w]++
		}
	}
	limit := max(l.cfg.MaxDF*float64(len(counts)), 1)
	out := make(map[string]bool)
	for w, n := range df {
		if float64(n) > limit {
			out[w] = true
		}
	}
	return out
}

func sortTerms(terms []Term) {
	sort.Slice(terms, func(i, j int) bool {
		a, b := terms[i], terms[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Freq != b.Freq {
			return a.Freq > b.Freq
		}
		return a.Word < b.Word
	})
}

func join(terms []Term) string {
	if len(terms) == 0 {
		return Miscellaneous
	}
	words := make([]string, len(terms))
	for i, t := range terms {
		words[i] = t.Word
	}
	return strings.Join(words, ", ")
}

// Tokenize normalizes text (NFKC, case folded) and splits it into words of
// at least two characters, dropping stop words and bare numbers.
func Tokenize(text string) []string {
	folded := cases.Fold().String(norm.NFKC.String(text))
	folded = strings.ReplaceAll(folded, "'", "")
	folded = strings.ReplaceAll(folded, "’", "")

	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, w := range fields {
		if utf8.RuneCountInString(w) < 2 || stopWords[w] || isNumber(w) {
			continue
		}
		out = append(out, w)
	}
	return out
}

func isNumber(w string) bool {
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
