package gotopics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/gotopics/cluster"
	"github.com/brunobiangulo/gotopics/embed"
	"github.com/brunobiangulo/gotopics/hierarchy"
	"github.com/brunobiangulo/gotopics/label"
	"github.com/brunobiangulo/gotopics/reduce"
	"github.com/brunobiangulo/gotopics/sentiment"
	"github.com/brunobiangulo/gotopics/summarize"
)

// fallbackLabel names the single group of a degenerate run when the
// labeler finds no distinctive words.
const fallbackLabel = "General feedback"

// typicalTexts is how many of a cluster's most typical members define
// its direction when reranking keywords.
const typicalTexts = 5

// stageProgress is the cumulative fraction reported when a stage ends.
var stageProgress = map[string]float64{
	StageInput:     0.02,
	StageEmbed:     0.35,
	StageReduce:    0.50,
	StageCluster:   0.60,
	StageLabel:     0.65,
	StageHierarchy: 0.70,
	StageSentiment: 0.75,
	StageSummarize: 0.97,
	StageAssemble:  1,
}

// run carries the state of one Engine.Run call.
type run struct {
	e       *engine
	opts    runOptions
	records []Record
	texts   []string

	start      time.Time
	stageStart time.Time
	mu         sync.Mutex
}

type sentimentResult struct {
	out *sentiment.Outcome
	err error
}

// Run implements Engine.
func (e *engine) Run(ctx context.Context, records []Record, opts ...RunOption) (*Result, error) {
	var o runOptions
	for _, fn := range opts {
		fn(&o)
	}
	r := &run{e: e, opts: o, records: records, start: time.Now()}
	r.stageStart = r.start

	res, err := r.execute(ctx)

	status, subtopics := "ok", 0
	switch {
	case errors.Is(err, ErrCanceled):
		status = "canceled"
	case err != nil:
		status = "error"
	default:
		subtopics = len(res.Rows)
	}
	e.svc.Metrics.ObserveRun(status, len(records), subtopics, time.Since(r.start))
	if err != nil {
		slog.Warn("gotopics: run failed", "records", len(records), "error", err)
		return nil, err
	}
	slog.Info("gotopics: run complete",
		"run_id", res.RunID,
		"records", res.Report.Records,
		"topics", len(res.Topics),
		"subtopics", len(res.Rows),
		"noise", len(res.Noise),
		"degenerate", res.Report.Degenerate,
		"elapsed", res.Report.Elapsed.Round(time.Millisecond))
	return res, nil
}

func (r *run) execute(ctx context.Context) (*Result, error) {
	if err := validateRecords(r.records); err != nil {
		return nil, stageErr(StageInput, err)
	}
	minSize := r.e.cfg.Cluster.MinClusterSize
	if r.opts.minClusterSize != 0 {
		if r.opts.minClusterSize < 2 {
			return nil, stageErr(StageInput, fmt.Errorf("%w: min cluster size %d", ErrInvalidConfig, r.opts.minClusterSize))
		}
		minSize = r.opts.minClusterSize
	}
	if err := checkpoint(ctx, StageInput); err != nil {
		return nil, err
	}
	n := len(r.records)
	r.texts = make([]string, n)
	for i, rec := range r.records {
		r.texts[i] = rec.Text
	}
	seeds := nonBlank(r.opts.seeds)
	r.done(StageInput)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Sentiment runs alongside the geometry stages and is joined before
	// aggregation.
	sentCh := make(chan sentimentResult, 1)
	go func() {
		out, err := r.e.sentiment.ClassifyAll(runCtx, r.texts)
		sentCh <- sentimentResult{out, err}
	}()

	embedder := embed.New(r.e.svc.Embedder, r.e.cfg.Embed)
	vectors, err := embedder.Embed(runCtx, r.texts)
	if err != nil {
		return nil, failure(ctx, StageEmbed, fmt.Errorf("%w: %w", ErrModelUnavailable, err))
	}
	points := vectors
	if len(seeds) > 0 {
		seedVecs, err := embedder.Embed(runCtx, seeds)
		if err != nil {
			return nil, failure(ctx, StageEmbed, fmt.Errorf("%w: embedding seeds: %w", ErrModelUnavailable, err))
		}
		guided, assigned := cluster.Guide(vectors, seedVecs, r.e.cfg.GuideThreshold)
		points = cluster.WithAnchors(guided, seedVecs)
		slog.Debug("gotopics: seed guidance", "seeds", len(seeds), "guided", countGuided(assigned))
	}
	r.done(StageEmbed)

	var (
		clusters   [][]int
		reduced    bool
		degenerate = n < minSize
	)
	if !degenerate {
		rcfg := r.e.cfg.Reduce
		if r.opts.seedSet {
			rcfg.Seed = r.opts.seed
		}
		low, ok, err := reduce.New(rcfg).Reduce(runCtx, points)
		if err != nil {
			return nil, failure(ctx, StageReduce, err)
		}
		reduced = ok
		r.done(StageReduce)

		ccfg := r.e.cfg.Cluster
		ccfg.MinClusterSize = minSize
		fit, err := cluster.New(ccfg).Fit(runCtx, low)
		if err != nil {
			return nil, failure(ctx, StageCluster, err)
		}
		if len(points) > n {
			fit = fit.Strip(n, minSize)
		}
		for _, c := range fit.Clusters {
			clusters = append(clusters, c.Members)
		}
		degenerate = len(clusters) == 0
		r.done(StageCluster)
	}
	if degenerate {
		slog.Info("gotopics: no distinct groups, using a single fallback group",
			"records", n, "min_cluster_size", minSize, "reason", ErrDegenerateInput)
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		clusters = [][]int{all}
	}

	labeler := r.e.labeler
	if len(seeds) > 0 {
		labeler = labeler.WithSeeds(seeds)
	}
	docs := make([][]string, len(clusters))
	ordered := make([][]int, len(clusters))
	for c, members := range clusters {
		for _, m := range members {
			docs[c] = append(docs[c], r.texts[m])
		}
		ordered[c] = representative(vectors, members)
	}
	subLabels, err := r.keywords(runCtx, embedder, labeler, docs, ordered, vectors)
	if err != nil {
		return nil, failure(ctx, StageLabel, err)
	}
	if err := checkpoint(ctx, StageLabel); err != nil {
		return nil, err
	}
	r.done(StageLabel)

	topics := hierarchy.New(r.e.cfg.Hierarchy, labeler).Build(clusters, vectors, r.texts)
	if err := checkpoint(ctx, StageHierarchy); err != nil {
		return nil, err
	}
	r.done(StageHierarchy)

	var sr sentimentResult
	select {
	case sr = <-sentCh:
	case <-ctx.Done():
		return nil, failure(ctx, StageSentiment, ctx.Err())
	}
	if sr.err != nil {
		return nil, failure(ctx, StageSentiment, sr.err)
	}
	unclassified := make([]int, len(sr.out.Failed))
	for i, idx := range sr.out.Failed {
		unclassified[i] = r.records[idx].ID
	}
	r.e.svc.Metrics.AddFailures("sentiment", len(unclassified))

	subs := make([]SubtopicNode, len(clusters))
	for c, members := range clusters {
		dist := sr.out.Tally(members)
		ids := make([]int, len(members))
		for j, m := range members {
			ids[j] = r.records[m].ID
		}
		subs[c] = SubtopicNode{
			Label:        displayLabel(subLabels[c], degenerate),
			Keywords:     subLabels[c].Words(),
			MemberIDs:    ids,
			Sentiment:    dist.Mode(),
			Distribution: dist.Names(),
		}
	}
	r.done(StageSentiment)

	if r.e.svc.Namer != nil {
		reqs := make([]summarize.NameRequest, len(subs))
		for c, s := range subs {
			reqs[c] = summarize.NameRequest{
				Kind:     summarize.KindSubtopic,
				Label:    s.Label,
				Keywords: s.Keywords,
				Texts:    r.textsOf(ordered[c]),
			}
		}
		names, failed := r.nameAll(runCtx, reqs)
		for c, name := range names {
			if name != "" {
				subs[c].Label = name
			}
		}
		for _, c := range failed {
			subs[c].NameFailed = true
		}
	}

	reqs := make([]summarize.Request, len(subs))
	for c, s := range subs {
		reqs[c] = summarize.Request{
			Key:       s.Label,
			Keywords:  s.Keywords,
			Texts:     r.textsOf(ordered[c]),
			Sentiment: s.Distribution,
		}
	}
	lo, hi := stageProgress[StageSentiment], stageProgress[StageSummarize]
	summaries, failedSummaries := summarize.All(runCtx, r.e.svc.Summarizer, reqs, r.e.cfg.SummaryConcurrency,
		func(done, total int) {
			r.report(StageSummarize, lo+(hi-lo)*float64(done)/float64(total))
		})
	if err := checkpoint(ctx, StageSummarize); err != nil {
		return nil, err
	}
	for c := range subs {
		subs[c].Summary = summaries[c]
	}
	for _, c := range failedSummaries {
		subs[c].SummaryFailed = true
	}

	nodes := make([]TopicNode, len(topics))
	for t, tp := range topics {
		nodes[t] = TopicNode{
			Label:    displayLabel(tp.Label, degenerate),
			Keywords: tp.Label.Words(),
		}
		for _, c := range tp.Clusters {
			nodes[t].Subtopics = append(nodes[t].Subtopics, subs[c])
		}
	}
	if r.e.svc.Namer != nil {
		reqs := make([]summarize.NameRequest, len(nodes))
		for t, node := range nodes {
			var parts []string
			for _, c := range topics[t].Clusters {
				s := subs[c]
				parts = append(parts, summarize.Describe(s.Label, s.Keywords, r.textsOf(ordered[c]), s.Distribution))
			}
			reqs[t] = summarize.NameRequest{
				Kind:     summarize.KindTopic,
				Label:    node.Label,
				Keywords: node.Keywords,
				Texts:    parts,
			}
		}
		names, failed := r.nameAll(runCtx, reqs)
		for t, name := range names {
			if name != "" {
				nodes[t].Label = name
			}
		}
		for _, t := range failed {
			nodes[t].NameFailed = true
		}
	}
	if err := checkpoint(ctx, StageSummarize); err != nil {
		return nil, err
	}
	r.done(StageSummarize)

	nodes, rows := assemble(nodes)
	summaryFailures, namingFailures := failures(nodes)
	r.e.svc.Metrics.AddFailures("summary", len(summaryFailures))
	r.e.svc.Metrics.AddFailures("naming", len(namingFailures))
	r.done(StageAssemble)

	inCluster := make([]bool, n)
	for _, members := range clusters {
		for _, m := range members {
			inCluster[m] = true
		}
	}
	var noise []int
	for i, ok := range inCluster {
		if !ok {
			noise = append(noise, r.records[i].ID)
		}
	}

	return &Result{
		RunID:  uuid.NewString(),
		Rows:   rows,
		Topics: nodes,
		Noise:  noise,
		Report: Report{
			Records:         n,
			Clustered:       n - len(noise),
			Unclassified:    unclassified,
			SummaryFailures: summaryFailures,
			NamingFailures:  namingFailures,
			Degenerate:      degenerate,
			Reduced:         reduced,
			Elapsed:         time.Since(r.start),
		},
	}, nil
}

// done closes a stage: it records the stage duration and reports
// progress.
func (r *run) done(stage string) {
	now := time.Now()
	r.e.svc.Metrics.ObserveStage(stage, now.Sub(r.stageStart))
	r.stageStart = now
	r.report(stage, stageProgress[stage])
}

func (r *run) report(stage string, fraction float64) {
	if r.opts.progress == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opts.progress(stage, fraction)
}

func (r *run) textsOf(indices []int) []string {
	out := make([]string, len(indices))
	for i, idx := range indices {
		out[i] = r.texts[idx]
	}
	return out
}

// nameAll asks the namer for every request concurrently. A failed request
// yields an empty name and its index is returned in failed.
func (r *run) nameAll(ctx context.Context, reqs []summarize.NameRequest) (names []string, failed []int) {
	names = make([]string, len(reqs))
	errs := make([]error, len(reqs))

	var g errgroup.Group
	g.SetLimit(r.e.cfg.SummaryConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			names[i], errs[i] = r.e.svc.Namer.Name(ctx, req)
			return nil
		})
	}
	g.Wait()

	for i, err := range errs {
		if err != nil {
			slog.Warn("gotopics: naming failed", "kind", reqs[i].Kind, "label", reqs[i].Label, "error", err)
			names[i] = ""
			failed = append(failed, i)
		}
	}
	return names, failed
}

// keywords labels each cluster by its c-TF-IDF candidate terms reranked
// against the centroid of its most typical members. When the candidate
// words cannot be embedded the c-TF-IDF ranking stands.
func (r *run) keywords(ctx context.Context, embedder *embed.Embedder, labeler *label.Labeler,
	docs [][]string, ordered [][]int, vectors [][]float32) ([]label.Label, error) {
	cands := labeler.Candidates(docs)
	words := label.Vocabulary(cands)
	if len(words) == 0 {
		return labeler.Label(docs), nil
	}
	vecs, err := embedder.Embed(ctx, words)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("gotopics: keyword embedding failed, keeping term weights", "words", len(words), "error", err)
		r.e.svc.Metrics.AddFailures("keywords", 1)
		return labeler.Label(docs), nil
	}
	byWord := make(map[string][]float32, len(words))
	for i, w := range words {
		byWord[w] = vecs[i]
	}
	out := make([]label.Label, len(cands))
	for c, cand := range cands {
		typical := ordered[c][:min(len(ordered[c]), typicalTexts)]
		out[c] = labeler.Rerank(cand, byWord, embed.Centroid(vectors, typical))
	}
	return out, nil
}

func validateRecords(records []Record) error {
	if len(records) == 0 {
		return fmt.Errorf("%w: no records", ErrInput)
	}
	seen := make(map[int]bool, len(records))
	for _, rec := range records {
		if seen[rec.ID] {
			return fmt.Errorf("%w: duplicate record id %d", ErrInput, rec.ID)
		}
		seen[rec.ID] = true
	}
	return nil
}

func checkpoint(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return stageErr(stage, fmt.Errorf("%w: %w", ErrCanceled, err))
	}
	return nil
}

// failure attributes err to stage, or to cancellation when ctx is done.
func failure(ctx context.Context, stage string, err error) error {
	if cerr := checkpoint(ctx, stage); cerr != nil {
		return cerr
	}
	return stageErr(stage, err)
}

// representative orders members by similarity to their centroid, most
// typical first.
func representative(vectors [][]float32, members []int) []int {
	centroid := embed.Centroid(vectors, members)
	sims := make(map[int]float64, len(members))
	for _, m := range members {
		sims[m] = embed.Cosine(vectors[m], centroid)
	}
	out := append([]int(nil), members...)
	sort.SliceStable(out, func(i, j int) bool { return sims[out[i]] > sims[out[j]] })
	return out
}

func displayLabel(l label.Label, degenerate bool) string {
	if degenerate && l.Text == label.Miscellaneous {
		return fallbackLabel
	}
	return l.Text
}

func nonBlank(texts []string) []string {
	var out []string
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func countGuided(assigned []int) int {
	var n int
	for _, a := range assigned {
		if a >= 0 {
			n++
		}
	}
	return n
}
