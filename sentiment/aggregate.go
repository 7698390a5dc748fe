package sentiment

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Outcome holds one label per text. Failed lists the indices whose
// classification errored; their Labels entry is meaningless and they are
// left out of every tally.
type Outcome struct {
	Labels []Label
	Failed []int

	failed map[int]bool
}

// OK reports whether text i was classified.
func (o *Outcome) OK(i int) bool { return !o.failed[i] }

// Aggregator classifies texts concurrently.
type Aggregator struct {
	clf         Classifier
	concurrency int
	// OnDone, when set, is called after every text with the number
	// finished so far.
	OnDone func(done, total int)
}

// NewAggregator creates an Aggregator with at most concurrency calls in
// flight.
func NewAggregator(clf Classifier, concurrency int) *Aggregator {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Aggregator{clf: clf, concurrency: concurrency}
}

// ClassifyAll labels every text. Blank texts are Neutral without a service
// call. Per-text failures are recorded, never returned; the only error is
// context cancellation.
func (a *Aggregator) ClassifyAll(ctx context.Context, texts []string) (*Outcome, error) {
	labels := make([]Label, len(texts))
	errs := make([]error, len(texts))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			labels[i] = Neutral
			a.progress(&done, len(texts))
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			l, err := a.clf.Classify(gctx, text)
			if err == nil && !l.Valid() {
				err = errInvalid(l)
			}
			labels[i], errs[i] = l, err
			a.progress(&done, len(texts))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &Outcome{Labels: labels, failed: make(map[int]bool)}
	for i, err := range errs {
		if err != nil {
			out.Failed = append(out.Failed, i)
			out.failed[i] = true
			slog.Warn("sentiment: classification failed", "index", i, "error", err)
		}
	}
	return out, nil
}

func (a *Aggregator) progress(done *atomic.Int64, total int) {
	n := done.Add(1)
	if a.OnDone != nil {
		a.OnDone(int(n), total)
	}
}

type invalidLabelError Label

func (e invalidLabelError) Error() string {
	return "sentiment: classifier returned " + Label(e).String()
}

func errInvalid(l Label) error { return invalidLabelError(l) }

// Distribution counts labels.
type Distribution map[Label]int

// Tally counts the labels of the given indices, skipping failures.
func (o *Outcome) Tally(indices []int) Distribution {
	d := make(Distribution)
	for _, i := range indices {
		if o.OK(i) {
			d[o.Labels[i]]++
		}
	}
	return d
}

// Total is the number of counted labels.
func (d Distribution) Total() int {
	var n int
	for _, c := range d {
		n += c
	}
	return n
}

// Mode returns the most frequent label. Among equally frequent labels the
// one nearest Neutral wins; if that still ties (one negative, one
// positive), the result is Neutral. An empty distribution is Neutral.
func (d Distribution) Mode() Label {
	best, bestCount := Neutral, 0
	tied := false
	for _, l := range Labels {
		c := d[l]
		if c == 0 {
			continue
		}
		switch {
		case c > bestCount:
			best, bestCount, tied = l, c, false
		case c == bestCount:
			switch {
			case abs(l) < abs(best):
				best, tied = l, false
			case abs(l) == abs(best):
				tied = true
			}
		}
	}
	if tied {
		return Neutral
	}
	return best
}

// Names renders the distribution keyed by label name, for reports.
func (d Distribution) Names() map[string]int {
	out := make(map[string]int, len(d))
	for l, c := range d {
		out[l.String()] = c
	}
	return out
}

func abs(l Label) int {
	if l < 0 {
		return -int(l)
	}
	return int(l)
}
