package gotopics

import (
	"fmt"
	"time"

	"github.com/brunobiangulo/gotopics/sentiment"
)

// Record is one piece of feedback.
type Record struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// TopicNode is a broad theme made of related subtopics.
type TopicNode struct {
	Label     string         `json:"label"`
	Keywords  []string       `json:"keywords"`
	Subtopics []SubtopicNode `json:"subtopics"`
	// NameFailed is set when a readable name was requested but not
	// produced, so Label is the keyword label.
	NameFailed bool `json:"name_failed,omitempty"`
}

// Size is the number of records across the topic's subtopics.
func (t TopicNode) Size() int {
	var n int
	for _, s := range t.Subtopics {
		n += len(s.MemberIDs)
	}
	return n
}

// SubtopicNode is one cluster of records.
type SubtopicNode struct {
	Label        string          `json:"label"`
	Keywords     []string        `json:"keywords"`
	MemberIDs    []int           `json:"member_ids"`
	Sentiment    sentiment.Label `json:"sentiment"`
	Distribution map[string]int  `json:"distribution"`
	Summary      string          `json:"summary"`
	// SummaryFailed is set when Summary is the placeholder.
	SummaryFailed bool `json:"summary_failed,omitempty"`
	NameFailed    bool `json:"name_failed,omitempty"`
}

// OutputRow is one row of the final table.
type OutputRow struct {
	GeneralTopic  string          `json:"general_topic"`
	Subtopic      string          `json:"subtopic"`
	Sentiment     sentiment.Label `json:"sentiment"`
	ResponseCount int             `json:"response_count"`
	Summary       string          `json:"summary"`
}

// Result is the outcome of a run.
type Result struct {
	RunID  string      `json:"run_id"`
	Rows   []OutputRow `json:"rows"`
	Topics []TopicNode `json:"topics"`
	// Noise holds the IDs of records that joined no subtopic.
	Noise  []int  `json:"noise"`
	Report Report `json:"report"`
}

// Report describes what happened during a run beyond the rows themselves.
type Report struct {
	Records   int `json:"records"`
	Clustered int `json:"clustered"`
	// Unclassified lists record IDs whose sentiment could not be
	// determined; they are excluded from every distribution.
	Unclassified    []int         `json:"unclassified,omitempty"`
	SummaryFailures []Failure     `json:"summary_failures,omitempty"`
	NamingFailures  []Failure     `json:"naming_failures,omitempty"`
	Degenerate      bool          `json:"degenerate"`
	Reduced         bool          `json:"reduced"`
	Elapsed         time.Duration `json:"elapsed"`
}

// Failure locates a topic or subtopic whose generated text is missing.
// Topic and Subtopic index Result.Topics and its Subtopics; Subtopic is -1
// when the topic itself failed.
type Failure struct {
	Topic    int    `json:"topic"`
	Subtopic int    `json:"subtopic"`
	Label    string `json:"label"`
}

// failures lists the flagged nodes of ordered topics.
func failures(topics []TopicNode) (summary, naming []Failure) {
	for t, tp := range topics {
		if tp.NameFailed {
			naming = append(naming, Failure{Topic: t, Subtopic: -1, Label: tp.Label})
		}
		for s, sub := range tp.Subtopics {
			if sub.SummaryFailed {
				summary = append(summary, Failure{Topic: t, Subtopic: s, Label: sub.Label})
			}
			if sub.NameFailed {
				naming = append(naming, Failure{Topic: t, Subtopic: s, Label: sub.Label})
			}
		}
	}
	return summary, naming
}

// Messages renders the report's problems as user-facing sentences.
func (r Report) Messages() []string {
	var out []string
	if r.Degenerate {
		out = append(out, "no distinct groups were found; all feedback was placed in a single topic")
	}
	if n := len(r.Unclassified); n > 0 {
		out = append(out, fmt.Sprintf("%d %s could not be classified", n, plural(n, "record", "records")))
	}
	if n := len(r.SummaryFailures); n > 0 {
		out = append(out, fmt.Sprintf("%d %s could not be generated", n, plural(n, "summary", "summaries")))
	}
	if n := len(r.NamingFailures); n > 0 {
		out = append(out, fmt.Sprintf("%d %s kept keyword labels", n, plural(n, "name", "names")))
	}
	if noise := r.Records - r.Clustered; noise > 0 {
		out = append(out, fmt.Sprintf("%d %s did not fit any subtopic", noise, plural(noise, "record", "records")))
	}
	return out
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
