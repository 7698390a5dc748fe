package summarize

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// Kind distinguishes the two hierarchy levels when naming.
type Kind string

const (
	KindTopic    Kind = "topic"
	KindSubtopic Kind = "subtopic"
)

// NameRequest describes a group to name. For a topic, Texts holds one
// Describe block per subtopic; for a subtopic, sample feedback.
type NameRequest struct {
	Kind     Kind
	Label    string
	Keywords []string
	Texts    []string
}

// Namer produces a short readable name for a group.
type Namer interface {
	Name(ctx context.Context, req NameRequest) (string, error)
}

const subtopicNamePrompt = `You are an analyst helping to label clusters of user feedback with concise and descriptive names. A subtopic is a smaller, more specific topic that is part of a larger, broader subject.

The subtopic has the following short description:
"%s"

The associated keywords for the subtopic are:
%s

The associated feedback for the subtopic is:
%s

Generate a brief, human-readable name for this subtopic.
- Keep it 2-5 words.
- Make it clear and intuitive.
- Avoid generic terms.
- Use title case.

Only return the name, without explanation.`

const topicNamePrompt = `You are generating a clear, human-readable name for a topic based on grouped subtopics. A topic is the overarching theme, while a subtopic is a smaller, more specific part of it.

The topic has the following short description:
"%s"

The associated keywords for the topic are:
%s

Below are descriptions of the subtopics that belong to this topic. Each includes its name, tags, sample feedback and sentiment distribution.

%s

Generate a brief, human-readable name for this topic.
- Keep it 2-5 words.
- Make it broader than any single subtopic.
- Use title case.

Only return the name, without explanation.`

// Name implements Namer.
func (l *LLM) Name(ctx context.Context, req NameRequest) (string, error) {
	tmpl, body := subtopicNamePrompt, bullets(Select(req.Texts, l.cfg.MaxChars))
	if req.Kind == KindTopic {
		tmpl, body = topicNamePrompt, strings.Join(Select(req.Texts, l.cfg.MaxChars), "\n\n")
	}
	prompt := fmt.Sprintf(tmpl, req.Label, strings.Join(req.Keywords, ", "), body)
	out, err := l.complete(ctx, prompt, 24)
	if err != nil {
		return "", fmt.Errorf("naming %s %q: %w", req.Kind, req.Label, err)
	}
	name := cleanName(out)
	if name == "" {
		return "", fmt.Errorf("naming %s %q: unusable reply %q", req.Kind, req.Label, out)
	}
	return name, nil
}

// sampleSize is how many feedback texts Describe includes.
const sampleSize = 4

// Describe renders one subtopic for a topic naming request: its name, tags,
// the first few feedback texts and its sentiment distribution.
func Describe(name string, tags, feedback []string, dist map[string]int) string {
	var sample []string
	for _, f := range feedback {
		if len(sample) == sampleSize {
			break
		}
		if f = strings.TrimSpace(f); f != "" {
			sample = append(sample, f)
		}
	}
	return fmt.Sprintf("name: %s\ntags: %s\nfeedback: %s\nsentiment: %s",
		name, strings.Join(tags, ", "), strings.Join(sample, " | "), formatSentiment(dist))
}

// cleanName keeps the first line of a reply and strips quotes, markdown
// and a leading "Name:" prefix.
func cleanName(reply string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(reply), "\n")
	if k, v, ok := strings.Cut(line, ":"); ok && strings.HasSuffix(strings.ToLower(strings.Trim(k, " *")), "name") {
		line = v
	}
	line = strings.TrimFunc(line, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(`"'*_#.`+"`", r)
	})
	if len(strings.Fields(line)) > 8 {
		return ""
	}
	return line
}
