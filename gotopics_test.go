package gotopics

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/brunobiangulo/gotopics/internal/fakes"
	"github.com/brunobiangulo/gotopics/label"
	"github.com/brunobiangulo/gotopics/llm"
	"github.com/brunobiangulo/gotopics/sentiment"
	"github.com/brunobiangulo/gotopics/summarize"
)

var (
	batteryTexts = []string{
		"battery drains in a few hours",
		"battery dies before lunch",
		"the battery barely lasts a day",
		"battery life got worse after the update",
		"battery percentage drops suddenly",
	}
	priceTexts = []string{
		"price is too expensive for what you get",
		"the price went up again, expensive",
		"expensive price compared to competitors",
		"price feels expensive for students",
		"subscription price is expensive",
	}
)

func records(groups ...[]string) []Record {
	var out []Record
	for _, g := range groups {
		for _, text := range g {
			out = append(out, Record{ID: len(out) + 1, Text: text})
		}
	}
	return out
}

type testServices struct {
	embedder   *fakes.Embedder
	sentiment  *fakes.Sentiment
	summarizer *fakes.Summarizer
}

func newFakes() testServices {
	return testServices{
		embedder:   &fakes.Embedder{Vocab: []string{"battery", "price", "shipping"}},
		sentiment:  &fakes.Sentiment{Negative: []string{"expensive", "worse", "dies", "drains", "late"}, Positive: []string{"love", "great"}},
		summarizer: &fakes.Summarizer{},
	}
}

func newTestEngine(t *testing.T, f testServices, mutate func(*Config)) Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Cluster.MinClusterSize = 2
	cfg.Embed.RetryDelay = 0
	if mutate != nil {
		mutate(&cfg)
	}
	eng, err := NewWithServices(cfg, Services{
		Embedder:   f.embedder,
		Sentiment:  f.sentiment,
		Summarizer: f.summarizer,
	})
	if err != nil {
		t.Fatalf("NewWithServices: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

// checkPartition asserts every record is in exactly one subtopic or in
// noise, and that response counts add up.
func checkPartition(t *testing.T, res *Result, recs []Record) {
	t.Helper()
	seen := make(map[int]int)
	for _, tp := range res.Topics {
		for _, s := range tp.Subtopics {
			for _, id := range s.MemberIDs {
				seen[id]++
			}
		}
	}
	for _, id := range res.Noise {
		seen[id]++
	}
	for _, r := range recs {
		if seen[r.ID] != 1 {
			t.Errorf("record %d placed %d times", r.ID, seen[r.ID])
		}
	}
	var sum int
	for _, row := range res.Rows {
		sum += row.ResponseCount
	}
	if want := len(recs) - len(res.Noise); sum != want {
		t.Errorf("response counts sum to %d, want %d", sum, want)
	}
}

func findRow(t *testing.T, res *Result, word string) OutputRow {
	t.Helper()
	for _, row := range res.Rows {
		if strings.Contains(row.Subtopic, word) {
			return row
		}
	}
	t.Fatalf("no row with %q in %+v", word, res.Rows)
	return OutputRow{}
}

func TestRunBatteryAndPrice(t *testing.T) {
	f := newFakes()
	eng := newTestEngine(t, f, nil)
	recs := records(batteryTexts, priceTexts)

	res, err := eng.Run(context.Background(), recs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("rows = %d, want 2: %+v", len(res.Rows), res.Rows)
	}
	if len(res.Topics) != 2 {
		t.Errorf("topics = %d, want 2", len(res.Topics))
	}
	checkPartition(t, res, recs)

	price := findRow(t, res, "price")
	if price.Sentiment != sentiment.Negative {
		t.Errorf("price sentiment = %v, want Negative", price.Sentiment)
	}
	if price.ResponseCount != 5 {
		t.Errorf("price responses = %d, want 5", price.ResponseCount)
	}
	if !strings.Contains(price.Summary, "5 responses") {
		t.Errorf("price summary = %q", price.Summary)
	}
	if res.RunID == "" {
		t.Error("expected a run ID")
	}
	if res.Report.Degenerate || res.Report.Reduced {
		t.Errorf("report = %+v, want no fallback and no projection", res.Report)
	}
}

func TestRunMixedBatteryAllNegativePrice(t *testing.T) {
	battery := []string{
		"love the battery on this phone",
		"great battery, lasts two days",
		"love how long the battery lasts",
		"battery drains overnight",
		"battery dies before lunch",
		"battery got worse after the update",
	}
	price := []string{
		"price is too expensive",
		"expensive price for what it does",
		"the price is expensive now",
		"expensive monthly price",
	}
	f := newFakes()
	eng := newTestEngine(t, f, nil)
	recs := records(battery, price)

	res, err := eng.Run(context.Background(), recs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Rows) != 2 {
		t.Fatalf("rows = %d, want 2: %+v", len(res.Rows), res.Rows)
	}
	var total int
	for _, row := range res.Rows {
		total += row.ResponseCount
	}
	if total != 10 {
		t.Errorf("response counts sum to %d, want 10", total)
	}
	if got := findRow(t, res, "price").Sentiment; got != sentiment.Negative {
		t.Errorf("price sentiment = %v, want Negative", got)
	}
	// Three positive and three negative members tie.
	if got := findRow(t, res, "battery").Sentiment; got != sentiment.Neutral {
		t.Errorf("battery sentiment = %v, want Neutral", got)
	}
	if res.Rows[0].ResponseCount != 6 {
		t.Errorf("first row has %d responses, want the larger battery group first", res.Rows[0].ResponseCount)
	}
}

func TestRunNoiseKeepsPartition(t *testing.T) {
	f := newFakes()
	eng := newTestEngine(t, f, nil)
	recs := records(batteryTexts, priceTexts, []string{"what a lovely afternoon"})

	res, err := eng.Run(context.Background(), recs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	checkPartition(t, res, recs)
	if diff := cmp.Diff([]int{11}, res.Noise); diff != "" {
		t.Errorf("noise (-want +got):\n%s", diff)
	}
	if res.Report.Clustered != 10 {
		t.Errorf("clustered = %d, want 10", res.Report.Clustered)
	}
}

func TestRunDeterministicWithSeed(t *testing.T) {
	shipping := []string{
		"shipping took two weeks", "shipping was late again", "slow shipping to canada",
		"shipping cost is high", "shipping box arrived damaged", "shipping updates never came",
		"free shipping please", "shipping tracking is broken",
	}
	more := func(texts []string, suffix string) []string {
		out := append([]string(nil), texts...)
		for _, t := range texts[:3] {
			out = append(out, t+" "+suffix)
		}
		return out
	}
	recs := records(more(batteryTexts, "again"), more(priceTexts, "really"), shipping)
	if len(recs) <= DefaultConfig().Reduce.Neighbors {
		t.Fatalf("dataset too small to exercise the projection: %d", len(recs))
	}

	var results []*Result
	for range 2 {
		f := newFakes()
		// Extra axes keep most texts apart so the projection has enough
		// distinct points.
		f.embedder.Vocab = append(f.embedder.Vocab,
			"drains", "dies", "barely", "life", "percentage", "went", "competitors",
			"students", "subscription", "took", "late", "canada", "cost", "box",
			"updates", "free", "tracking", "again", "really")
		eng := newTestEngine(t, f, func(c *Config) { c.Cluster.MinClusterSize = 3 })
		res, err := eng.Run(context.Background(), recs, WithSeed(7))
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !res.Report.Reduced {
			t.Error("expected the projection to run")
		}
		checkPartition(t, res, recs)
		results = append(results, res)
	}
	if diff := cmp.Diff(results[0].Rows, results[1].Rows); diff != "" {
		t.Errorf("rows differ between seeded runs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(results[0].Noise, results[1].Noise); diff != "" {
		t.Errorf("noise differs between seeded runs:\n%s", diff)
	}
}

func TestRunTwoRecords(t *testing.T) {
	eng := newTestEngine(t, newFakes(), func(c *Config) { c.Cluster.MinClusterSize = 4 })
	recs := records([]string{"battery dies fast", "price is expensive"})

	res, err := eng.Run(context.Background(), recs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(res.Rows))
	}
	if res.Rows[0].ResponseCount != 2 {
		t.Errorf("responses = %d, want 2", res.Rows[0].ResponseCount)
	}
	if !res.Report.Degenerate {
		t.Error("expected degenerate report")
	}
	checkPartition(t, res, recs)
}

func TestRunSummaryFailureUsesPlaceholder(t *testing.T) {
	f := newFakes()
	f.summarizer.FailOn = []string{"price"}
	eng := newTestEngine(t, f, nil)

	res, err := eng.Run(context.Background(), records(batteryTexts, priceTexts))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := findRow(t, res, "price").Summary; got != summarize.Unavailable {
		t.Errorf("price summary = %q, want placeholder", got)
	}
	if got := findRow(t, res, "battery").Summary; got == summarize.Unavailable {
		t.Error("battery summary should have been generated")
	}
	if len(res.Report.SummaryFailures) != 1 {
		t.Fatalf("summary failures = %v, want one", res.Report.SummaryFailures)
	}
	loc := res.Report.SummaryFailures[0]
	node := res.Topics[loc.Topic].Subtopics[loc.Subtopic]
	if node.Summary != summarize.Unavailable || !node.SummaryFailed || node.Label != loc.Label {
		t.Errorf("failure %+v points at %+v", loc, node)
	}
}

func TestRunSeedBiasesLabel(t *testing.T) {
	chargers := []string{
		"battery charger broken", "battery charger slow", "battery charger hot",
		"battery charger loud", "battery charger lost",
	}
	recs := records(chargers, priceTexts)

	first := func(opts ...RunOption) string {
		f := newFakes()
		f.embedder.Vocab = append(f.embedder.Vocab, "charger")
		eng := newTestEngine(t, f, nil)
		res, err := eng.Run(context.Background(), recs, opts...)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		for _, tp := range res.Topics {
			for _, s := range tp.Subtopics {
				if len(s.Keywords) > 0 && (s.Keywords[0] == "battery" || s.Keywords[0] == "charger") {
					return s.Keywords[0]
				}
			}
		}
		t.Fatalf("no battery subtopic in %+v", res.Topics)
		return ""
	}

	if got := first(); got != "battery" {
		t.Errorf("unseeded first keyword = %q, want battery", got)
	}
	if got := first(WithSeeds([]string{"charger"})); got != "charger" {
		t.Errorf("seeded first keyword = %q, want charger", got)
	}
}

func TestRunSentimentFailuresReported(t *testing.T) {
	f := newFakes()
	f.sentiment.Fail = []string{"lunch"}
	eng := newTestEngine(t, f, nil)

	res, err := eng.Run(context.Background(), records(batteryTexts, priceTexts))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]int{2}, res.Report.Unclassified); diff != "" {
		t.Errorf("unclassified (-want +got):\n%s", diff)
	}
	battery := res.Topics[0].Subtopics[0]
	for _, tp := range res.Topics {
		if strings.Contains(tp.Subtopics[0].Label, "battery") {
			battery = tp.Subtopics[0]
		}
	}
	var total int
	for _, n := range battery.Distribution {
		total += n
	}
	if total != 4 {
		t.Errorf("battery distribution total = %d, want 4", total)
	}
	if msgs := res.Report.Messages(); len(msgs) == 0 || msgs[0] != "1 record could not be classified" {
		t.Errorf("messages = %v", msgs)
	}
}

func TestRunBlankTextsSkipSentimentService(t *testing.T) {
	f := newFakes()
	eng := newTestEngine(t, f, nil)
	recs := records(batteryTexts, priceTexts, []string{"", "   "})

	res, err := eng.Run(context.Background(), recs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.sentiment.Calls() != 10 {
		t.Errorf("sentiment calls = %d, want 10", f.sentiment.Calls())
	}
	checkPartition(t, res, recs)
}

func TestRunAllBlankWhenServiceRejectsEmpty(t *testing.T) {
	f := newFakes()
	f.embedder.RejectEmpty = true
	eng := newTestEngine(t, f, func(c *Config) { c.Cluster.MinClusterSize = 4 })
	recs := records([]string{"", "  "})

	res, err := eng.Run(context.Background(), recs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0].ResponseCount != 2 {
		t.Fatalf("rows = %+v, want one row of 2", res.Rows)
	}
	if res.Rows[0].Subtopic != fallbackLabel {
		t.Errorf("subtopic = %q, want %q", res.Rows[0].Subtopic, fallbackLabel)
	}
	if !res.Report.Degenerate {
		t.Error("expected degenerate report")
	}
	checkPartition(t, res, recs)
}

func TestRunIdenticalTextsStayTogether(t *testing.T) {
	same := make([]string, 30)
	for i := range same {
		same[i] = "great battery"
	}
	eng := newTestEngine(t, newFakes(), nil)
	recs := records(same)

	res, err := eng.Run(context.Background(), recs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("rows = %d, want 1: %+v", len(res.Rows), res.Rows)
	}
	if res.Rows[0].ResponseCount != 30 || len(res.Noise) != 0 {
		t.Errorf("row has %d responses and %d noise, want 30 and 0", res.Rows[0].ResponseCount, len(res.Noise))
	}
	checkPartition(t, res, recs)
}

func TestRunKeywordsRerankedByEmbedding(t *testing.T) {
	drains := []string{
		"drains drains battery", "drains drains battery today", "drains drains battery again",
		"drains drains battery overnight", "drains drains battery fast",
	}
	f := newFakes()
	eng := newTestEngine(t, f, nil)

	res, err := eng.Run(context.Background(), records(drains, priceTexts))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Term weights alone put "drains" first; only the word embeddings
	// favor "battery".
	byWeight := label.New(label.DefaultConfig()).Label([][]string{drains, priceTexts})
	if byWeight[0].Words()[0] != "drains" {
		t.Fatalf("term weight ranking = %q, want drains first", byWeight[0].Text)
	}

	var kw []string
	for _, tp := range res.Topics {
		for _, s := range tp.Subtopics {
			if len(s.MemberIDs) == 5 && slices.Contains(s.Keywords, "drains") {
				kw = s.Keywords
			}
		}
	}
	if len(kw) == 0 || kw[0] != "battery" {
		t.Errorf("keywords = %v, want battery first", kw)
	}
	if !slices.Contains(f.embedder.Seen(), "drains") {
		t.Error("candidate words were not embedded")
	}
}

func TestRunInputErrors(t *testing.T) {
	tests := []struct {
		name string
		recs []Record
	}{
		{"empty", nil},
		{"duplicate ids", []Record{{ID: 1, Text: "a"}, {ID: 1, Text: "b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakes()
			eng := newTestEngine(t, f, nil)
			_, err := eng.Run(context.Background(), tt.recs)
			if !errors.Is(err, ErrInput) {
				t.Fatalf("err = %v, want ErrInput", err)
			}
			var se *StageError
			if !errors.As(err, &se) || se.Stage != StageInput {
				t.Errorf("err = %v, want input stage error", err)
			}
			if f.embedder.Calls() != 0 || f.sentiment.Calls() != 0 {
				t.Error("services called for invalid input")
			}
		})
	}
}

func TestRunInvalidMinClusterSize(t *testing.T) {
	eng := newTestEngine(t, newFakes(), nil)
	_, err := eng.Run(context.Background(), records(batteryTexts), WithMinClusterSize(1))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestRunEmbeddingFailure(t *testing.T) {
	f := newFakes()
	f.embedder.FailCalls = 100
	eng := newTestEngine(t, f, nil)

	_, err := eng.Run(context.Background(), records(batteryTexts, priceTexts))
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("err = %v, want ErrModelUnavailable", err)
	}
	if !errors.Is(err, fakes.ErrDown) {
		t.Errorf("err = %v, want cause preserved", err)
	}
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageEmbed {
		t.Errorf("err = %v, want embed stage", err)
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eng := newTestEngine(t, newFakes(), nil)

	res, err := eng.Run(ctx, records(batteryTexts, priceTexts))
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("err = %v, want ErrCanceled", err)
	}
	if res != nil {
		t.Error("canceled run returned a result")
	}
}

func TestRunProgress(t *testing.T) {
	var (
		mu     sync.Mutex
		stages []string
		last   float64
	)
	progress := func(stage string, fraction float64) {
		mu.Lock()
		defer mu.Unlock()
		if fraction < last {
			t.Errorf("progress went backwards at %s: %v < %v", stage, fraction, last)
		}
		last = fraction
		if len(stages) == 0 || stages[len(stages)-1] != stage {
			stages = append(stages, stage)
		}
	}
	eng := newTestEngine(t, newFakes(), nil)
	if _, err := eng.Run(context.Background(), records(batteryTexts, priceTexts), WithProgress(progress)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if last != 1 {
		t.Errorf("final progress = %v, want 1", last)
	}
	want := []string{StageInput, StageEmbed, StageReduce, StageCluster, StageLabel, StageHierarchy, StageSentiment, StageSummarize, StageAssemble}
	if diff := cmp.Diff(want, stages); diff != "" {
		t.Errorf("stages (-want +got):\n%s", diff)
	}
}

func TestRunReadableNames(t *testing.T) {
	f := newFakes()
	chat := &fakes.Chat{Fn: func(req llm.ChatRequest) (string, error) {
		prompt := req.Messages[len(req.Messages)-1].Content
		switch {
		case strings.Contains(prompt, "overarching theme") && strings.Contains(prompt, "Pricing"):
			return "", fakes.ErrDown
		case strings.Contains(prompt, "overarching theme"):
			return "Device Power", nil
		case strings.Contains(prompt, "price"):
			return "Pricing Concerns", nil
		default:
			return "Battery Drain", nil
		}
	}}

	cfg := DefaultConfig()
	cfg.Cluster.MinClusterSize = 2
	eng, err := NewWithServices(cfg, Services{
		Embedder:   f.embedder,
		Sentiment:  f.sentiment,
		Summarizer: f.summarizer,
		Namer:      summarize.NewLLM(chat, summarize.Config{}),
	})
	if err != nil {
		t.Fatalf("NewWithServices: %v", err)
	}
	res, err := eng.Run(context.Background(), records(batteryTexts, priceTexts))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := make(map[string]string)
	for _, row := range res.Rows {
		got[row.Subtopic] = row.GeneralTopic
	}
	if got["Battery Drain"] != "Device Power" {
		t.Errorf("battery row topic = %q, want Device Power (rows %+v)", got["Battery Drain"], res.Rows)
	}
	topic, ok := got["Pricing Concerns"]
	if !ok {
		t.Fatalf("no Pricing Concerns row in %+v", res.Rows)
	}
	if !strings.Contains(topic, "price") {
		t.Errorf("failed topic name should keep keyword label, got %q", topic)
	}
	if len(res.Report.NamingFailures) != 1 {
		t.Fatalf("naming failures = %v, want one", res.Report.NamingFailures)
	}
	if loc := res.Report.NamingFailures[0]; loc.Subtopic != -1 || !res.Topics[loc.Topic].NameFailed {
		t.Errorf("naming failure %+v should point at a topic", loc)
	}

	var topicPrompt string
	for _, req := range chat.Requests() {
		prompt := req.Messages[len(req.Messages)-1].Content
		if strings.Contains(prompt, "overarching theme") && strings.Contains(prompt, "name: Battery Drain") {
			topicPrompt = prompt
		}
	}
	for _, want := range []string{
		"tags: battery",
		"feedback: battery drains in a few hours",
		"sentiment: Negative: 3, Neutral: 2",
	} {
		if !strings.Contains(topicPrompt, want) {
			t.Errorf("battery topic prompt lacks %q:\n%s", want, topicPrompt)
		}
	}
}

func TestNewWithServicesRequiresServices(t *testing.T) {
	_, err := NewWithServices(DefaultConfig(), Services{Embedder: &fakes.Embedder{}})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestStoreDisabled(t *testing.T) {
	eng := newTestEngine(t, newFakes(), nil)
	ctx := context.Background()
	if _, err := eng.Runs(ctx, 0); !errors.Is(err, ErrStoreDisabled) {
		t.Errorf("Runs err = %v", err)
	}
	if err := eng.Save(ctx, &Result{}, ""); !errors.Is(err, ErrStoreDisabled) {
		t.Errorf("Save err = %v", err)
	}
}

func TestStageErrorMessage(t *testing.T) {
	err := stageErr(StageEmbed, fmt.Errorf("%w: timeout", ErrModelUnavailable))
	if got := err.Error(); got != "gotopics: embed stage: gotopics: model service unavailable: timeout" {
		t.Errorf("Error() = %q", got)
	}
}
