package label

import (
	"math"
	"sort"

	"github.com/brunobiangulo/gotopics/embed"
)

// Vocabulary returns every term of labels once, in first-seen order.
func Vocabulary(labels []Label) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range labels {
		for _, t := range l.Terms {
			if !seen[t.Word] {
				seen[t.Word] = true
				out = append(out, t.Word)
			}
		}
	}
	return out
}

// Rerank orders the candidate terms of c by cosine similarity between each
// term's vector and topic, the embedding of the group's most typical texts,
// and keeps the top Terms. A seed word's positive similarity is multiplied
// by SeedMultiplier. Equal similarities keep candidate order, and a term
// with no vector ranks after every term that has one.
func (l *Labeler) Rerank(c Label, vectors map[string][]float32, topic []float32) Label {
	terms := make([]Term, len(c.Terms))
	for i, t := range c.Terms {
		v, ok := vectors[t.Word]
		if !ok {
			t.Score = math.Inf(-1)
			terms[i] = t
			continue
		}
		sim := embed.Cosine(v, topic)
		if l.seeds[t.Word] && sim > 0 {
			sim *= l.cfg.SeedMultiplier
		}
		t.Score = sim
		terms[i] = t
	}
	sort.SliceStable(terms, func(i, j int) bool { return terms[i].Score > terms[j].Score })
	if len(terms) > l.cfg.Terms {
		terms = terms[:l.cfg.Terms]
	}
	return Label{Terms: terms, Text: join(terms)}
}
