package cluster

import (
	"math"

	"github.com/brunobiangulo/gotopics/embed"
)

// Seed guidance is a soft bias: records close to a seed are pulled toward
// it, and the seeds themselves join the point cloud as anchors so that
// density gathers around them. Neither forces an assignment.

const (
	recordWeight = 3
	seedWeight   = 1
)

// DefaultGuideThreshold is the cosine similarity a record needs to its
// nearest seed before it is nudged.
const DefaultGuideThreshold = 0.3

// Guide returns a copy of vectors in which every vector whose most similar
// seed reaches threshold is replaced by the normalized 3:1 weighted mean of
// itself and that seed. assigned[i] is the seed index used, or -1.
func Guide(vectors, seeds [][]float32, threshold float64) (guided [][]float32, assigned []int) {
	guided = make([][]float32, len(vectors))
	assigned = make([]int, len(vectors))
	for i, v := range vectors {
		assigned[i] = -1
		best, bestSim := -1, math.Inf(-1)
		for s, seed := range seeds {
			if sim := embed.Cosine(v, seed); sim > bestSim {
				best, bestSim = s, sim
			}
		}
		if best < 0 || bestSim < threshold {
			guided[i] = append([]float32(nil), v...)
			continue
		}
		assigned[i] = best
		guided[i] = blend(v, seeds[best])
	}
	return guided, assigned
}

func blend(v, seed []float32) []float32 {
	out := make([]float32, len(v))
	var sum float64
	for j := range v {
		x := (recordWeight*v[j] + seedWeight*seed[j]) / (recordWeight + seedWeight)
		out[j] = x
		sum += float64(x) * float64(x)
	}
	if sum > 0 {
		n := float32(math.Sqrt(sum))
		for j := range out {
			out[j] /= n
		}
	}
	return out
}

// WithAnchors appends the seed vectors after the records.
func WithAnchors(vectors, seeds [][]float32) [][]float32 {
	out := make([][]float32, 0, len(vectors)+len(seeds))
	out = append(out, vectors...)
	return append(out, seeds...)
}

// Strip removes anchor points (every index >= n) from r. Clusters left
// with fewer than minSize records fold into noise, and the remaining
// clusters are renumbered.
func (r *Result) Strip(n, minSize int) *Result {
	out := &Result{Labels: append([]int(nil), r.Labels[:n]...)}
	counts := make(map[int]int)
	for _, l := range out.Labels {
		if l != Noise {
			counts[l]++
		}
	}
	for i, l := range out.Labels {
		if l != Noise && counts[l] < minSize {
			out.Labels[i] = Noise
		}
	}
	out.relabel()
	return out
}
