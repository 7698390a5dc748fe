// Package sentiment classifies feedback records and aggregates the
// per-record labels into one label per group.
package sentiment

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Label is an ordinal sentiment from VeryNegative (-2) to VeryPositive (+2).
type Label int

const (
	VeryNegative Label = -2
	Negative     Label = -1
	Neutral      Label = 0
	Positive     Label = 1
	VeryPositive Label = 2
)

// Labels lists every label from most negative to most positive.
var Labels = []Label{VeryNegative, Negative, Neutral, Positive, VeryPositive}

var labelNames = map[Label]string{
	VeryNegative: "Very Negative",
	Negative:     "Negative",
	Neutral:      "Neutral",
	Positive:     "Positive",
	VeryPositive: "Very Positive",
}

func (l Label) String() string {
	if s, ok := labelNames[l]; ok {
		return s
	}
	return fmt.Sprintf("Label(%d)", int(l))
}

// Valid reports whether l is one of the five labels.
func (l Label) Valid() bool {
	return l >= VeryNegative && l <= VeryPositive
}

// MarshalText renders the label name.
func (l Label) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("sentiment: invalid label %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText accepts anything ParseLabel does.
func (l *Label) UnmarshalText(b []byte) error {
	v, err := ParseLabel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

var (
	starPattern  = regexp.MustCompile(`^([1-5])\s*stars?$`)
	indexPattern = regexp.MustCompile(`^label_([0-4])$`)
)

// ParseLabel maps model output to a Label. It accepts the five names in any
// case with spaces, underscores or hyphens, LABEL_0..LABEL_4, star ratings
// "1 star".."5 stars", and the binary POSITIVE/NEGATIVE.
func ParseLabel(s string) (Label, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("_", " ", "-", " ").Replace(key)
	key = strings.Join(strings.Fields(key), " ")

	switch key {
	case "very negative":
		return VeryNegative, nil
	case "negative", "neg":
		return Negative, nil
	case "neutral", "neu":
		return Neutral, nil
	case "positive", "pos":
		return Positive, nil
	case "very positive":
		return VeryPositive, nil
	}
	if m := starPattern.FindStringSubmatch(key); m != nil {
		n, _ := strconv.Atoi(m[1])
		return Label(n - 3), nil
	}
	if m := indexPattern.FindStringSubmatch(strings.ReplaceAll(key, " ", "_")); m != nil {
		n, _ := strconv.Atoi(m[1])
		return Label(n - 2), nil
	}
	return Neutral, fmt.Errorf("sentiment: unrecognized label %q", s)
}
