package gotopics

import "sort"

// assemble orders topics by total size and subtopics by size, larger
// first, with ties broken by label, and flattens them into one row per
// subtopic.
func assemble(topics []TopicNode) ([]TopicNode, []OutputRow) {
	out := make([]TopicNode, len(topics))
	for i, t := range topics {
		t.Subtopics = append([]SubtopicNode(nil), t.Subtopics...)
		sort.SliceStable(t.Subtopics, func(a, b int) bool {
			sa, sb := t.Subtopics[a], t.Subtopics[b]
			if len(sa.MemberIDs) != len(sb.MemberIDs) {
				return len(sa.MemberIDs) > len(sb.MemberIDs)
			}
			return sa.Label < sb.Label
		})
		out[i] = t
	}
	sort.SliceStable(out, func(a, b int) bool {
		if na, nb := out[a].Size(), out[b].Size(); na != nb {
			return na > nb
		}
		return out[a].Label < out[b].Label
	})

	var rows []OutputRow
	for _, t := range out {
		for _, s := range t.Subtopics {
			rows = append(rows, OutputRow{
				GeneralTopic:  t.Label,
				Subtopic:      s.Label,
				Sentiment:     s.Sentiment,
				ResponseCount: len(s.MemberIDs),
				Summary:       s.Summary,
			})
		}
	}
	return out, rows
}
