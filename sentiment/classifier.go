package sentiment

import (
	"context"
	"fmt"
	"strings"

	"github.com/brunobiangulo/gotopics/llm"
)

// Classifier assigns a sentiment label to one text.
type Classifier interface {
	Classify(ctx context.Context, text string) (Label, error)
}

// ModelClassifier uses a hosted text-classification model and keeps its
// highest-scoring label.
type ModelClassifier struct {
	backend llm.Classifier
}

// NewModelClassifier wraps a classification backend.
func NewModelClassifier(backend llm.Classifier) *ModelClassifier {
	return &ModelClassifier{backend: backend}
}

// Classify implements Classifier.
func (m *ModelClassifier) Classify(ctx context.Context, text string) (Label, error) {
	scores, err := m.backend.Classify(ctx, text)
	if err != nil {
		return Neutral, err
	}
	if len(scores) == 0 {
		return Neutral, fmt.Errorf("sentiment: model returned no labels")
	}
	return ParseLabel(scores[0].Label)
}

// ChatClassifier asks a chat model for one of the five labels.
type ChatClassifier struct {
	chat  llm.Provider
	model string
}

// NewChatClassifier wraps a chat provider. An empty model uses the
// provider's default.
func NewChatClassifier(chat llm.Provider, model string) *ChatClassifier {
	return &ChatClassifier{chat: chat, model: model}
}

const classifyPrompt = `Classify the sentiment of the customer feedback below as exactly one of:
Very Negative, Negative, Neutral, Positive, Very Positive.
Reply with the label only.

Feedback:
%s`

// Classify implements Classifier.
func (c *ChatClassifier) Classify(ctx context.Context, text string) (Label, error) {
	resp, err := c.chat.Chat(ctx, llm.ChatRequest{
		Model: c.model,
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf(classifyPrompt, text)},
		},
		MaxTokens: 8,
	})
	if err != nil {
		return Neutral, err
	}
	return labelFromReply(resp.Content)
}

// labelFromReply tolerates chatty replies by falling back to the first
// label name found in the text, longest names first.
func labelFromReply(reply string) (Label, error) {
	clean := strings.Trim(strings.TrimSpace(reply), ".!\"'`*")
	if l, err := ParseLabel(clean); err == nil {
		return l, nil
	}
	lower := strings.ToLower(reply)
	for _, l := range []Label{VeryNegative, VeryPositive, Negative, Positive, Neutral} {
		if strings.Contains(lower, strings.ToLower(l.String())) {
			return l, nil
		}
	}
	return Neutral, fmt.Errorf("sentiment: unparseable reply %q", reply)
}
