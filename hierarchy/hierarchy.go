// Package hierarchy groups subtopic clusters into broader topics by a
// coarse density pass over cluster centroids.
package hierarchy

import (
	"log/slog"
	"sort"

	"github.com/brunobiangulo/gotopics/embed"
	"github.com/brunobiangulo/gotopics/label"
)

// Config controls topic grouping.
type Config struct {
	// Distance is the largest cosine distance between two centroids that
	// still places their clusters under one topic.
	Distance float64 `json:"distance" yaml:"distance" validate:"gte=0,lte=2"`
	// MaxSubtopics splits topics that chain together more clusters than
	// this. Zero disables splitting.
	MaxSubtopics int `json:"max_subtopics" yaml:"max_subtopics" validate:"gte=0"`
}

// DefaultConfig returns a 0.35 distance threshold with topics of at most
// 8 subtopics.
func DefaultConfig() Config {
	return Config{Distance: 0.35, MaxSubtopics: 8}
}

// Topic is a group of clusters. Clusters holds indices into the input
// cluster list in ascending order.
type Topic struct {
	Clusters []int
	Label    label.Label
}

// Builder builds the two-level hierarchy.
type Builder struct {
	cfg     Config
	labeler *label.Labeler
}

// New creates a Builder that names topics with labeler.
func New(cfg Config, labeler *label.Labeler) *Builder {
	if cfg.Distance <= 0 {
		cfg.Distance = DefaultConfig().Distance
	}
	return &Builder{cfg: cfg, labeler: labeler}
}

// Build groups clusters (lists of record indices) into topics using the
// record vectors, and labels each topic from texts. Every cluster ends up
// in exactly one topic; a cluster near no other forms a topic alone.
// Topics are ordered by their smallest cluster index.
func (b *Builder) Build(clusters [][]int, vectors [][]float32, texts []string) []Topic {
	if len(clusters) == 0 {
		return nil
	}

	centroids := make([][]float32, len(clusters))
	for i, members := range clusters {
		centroids[i] = embed.Centroid(vectors, members)
	}

	adj := make([][]edge, len(clusters))
	for i := range centroids {
		for j := i + 1; j < len(centroids); j++ {
			sim := embed.Cosine(centroids[i], centroids[j])
			if 1-sim <= b.cfg.Distance {
				adj[i] = append(adj[i], edge{to: j, weight: sim})
				adj[j] = append(adj[j], edge{to: i, weight: sim})
			}
		}
	}

	var groups [][]int
	for _, comp := range components(adj) {
		if b.cfg.MaxSubtopics > 0 && len(comp) > b.cfg.MaxSubtopics {
			parts := modularitySplit(comp, adj)
			slog.Debug("hierarchy: split chained topic", "clusters", len(comp), "parts", len(parts))
			groups = append(groups, parts...)
			continue
		}
		groups = append(groups, comp)
	}
	for _, g := range groups {
		sort.Ints(g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })

	docs := make([][]string, len(groups))
	for t, g := range groups {
		for _, c := range g {
			for _, m := range clusters[c] {
				docs[t] = append(docs[t], texts[m])
			}
		}
	}
	labels := b.labeler.Label(docs)

	topics := make([]Topic, len(groups))
	for t, g := range groups {
		topics[t] = Topic{Clusters: g, Label: labels[t]}
	}
	slog.Debug("hierarchy: built topics", "clusters", len(clusters), "topics", len(topics))
	return topics
}

type edge struct {
	to     int
	weight float64
}

// components returns the connected components of adj by BFS, each in
// visit order, ordered by their first node.
func components(adj [][]edge) [][]int {
	visited := make([]bool, len(adj))
	var out [][]int
	for i := range adj {
		if visited[i] {
			continue
		}
		var comp []int
		queue := []int{i}
		visited[i] = true
		for len(queue) > 0 {
			node := queue[0]
			queue = queue[1:]
			comp = append(comp, node)
			for _, e := range adj[node] {
				if !visited[e.to] {
					visited[e.to] = true
					queue = append(queue, e.to)
				}
			}
		}
		out = append(out, comp)
	}
	return out
}

// modularitySplit moves nodes greedily to the neighbouring group with the
// best modularity gain (a single Louvain level). Candidate groups are
// scanned in ascending order so the outcome does not depend on map
// iteration. If nothing improves, comp is returned whole.
func modularitySplit(comp []int, adj [][]edge) [][]int {
	n := len(comp)
	local := make(map[int]int, n)
	for i, node := range comp {
		local[node] = i
	}

	group := make([]int, n)
	strength := make([]float64, n)
	var total float64
	for i, node := range comp {
		group[i] = i
		for _, e := range adj[node] {
			if _, ok := local[e.to]; ok {
				strength[i] += e.weight
				total += e.weight
			}
		}
	}
	m2 := total // each undirected edge counted twice above
	if m2 == 0 {
		return [][]int{comp}
	}

	groupStrength := make([]float64, n)
	copy(groupStrength, strength)

	const maxPasses = 20
	for pass := 0; pass < maxPasses; pass++ {
		moved := false
		for i, node := range comp {
			weights := make(map[int]float64)
			for _, e := range adj[node] {
				if li, ok := local[e.to]; ok {
					weights[group[li]] += e.weight
				}
			}
			cur := group[i]
			ki := strength[i]
			remove := weights[cur]/m2 - (groupStrength[cur]-ki)*ki/(m2*m2)

			cands := make([]int, 0, len(weights))
			for g := range weights {
				if g != cur {
					cands = append(cands, g)
				}
			}
			sort.Ints(cands)

			best, bestGain := cur, 0.0
			for _, g := range cands {
				gain := weights[g]/m2 - groupStrength[g]*ki/(m2*m2) - remove
				if gain > bestGain {
					best, bestGain = g, gain
				}
			}
			if best != cur {
				groupStrength[cur] -= ki
				groupStrength[best] += ki
				group[i] = best
				moved = true
			}
		}
		if !moved {
			break
		}
	}

	byGroup := make(map[int][]int)
	var order []int
	for i, node := range comp {
		if _, ok := byGroup[group[i]]; !ok {
			order = append(order, group[i])
		}
		byGroup[group[i]] = append(byGroup[group[i]], node)
	}
	if len(order) <= 1 {
		return [][]int{comp}
	}
	out := make([][]int, len(order))
	for i, g := range order {
		out[i] = byGroup[g]
	}
	return out
}
