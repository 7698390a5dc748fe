// Package reduce projects embeddings to a handful of dimensions while
// keeping local neighborhoods intact, so density clustering works on
// compact vectors.
//
// The projection follows the usual neighbor-graph recipe: an exact cosine
// kNN graph is turned into a fuzzy graph whose edge weights decay past each
// point's nearest neighbor, the graph is laid out spectrally, and the layout
// is refined by stochastic gradient descent with negative sampling.
package reduce

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"time"
)

// Config controls the projection.
type Config struct {
	Components int     `json:"components" yaml:"components" validate:"gte=1"`
	Neighbors  int     `json:"neighbors" yaml:"neighbors" validate:"gte=2"`
	MinDist    float64 `json:"min_dist" yaml:"min_dist" validate:"gte=0"`
	Spread     float64 `json:"spread" yaml:"spread" validate:"gt=0"`
	Epochs     int     `json:"epochs" yaml:"epochs" validate:"gte=1"`
	// Seed fixes the random state. Zero draws one from the clock.
	Seed int64 `json:"seed" yaml:"seed"`
	// SpectralLimit is the largest input laid out spectrally; bigger inputs
	// start from a random layout.
	SpectralLimit int `json:"spectral_limit" yaml:"spectral_limit"`
}

// DefaultConfig returns 5 components over 15 neighbors with tight packing.
func DefaultConfig() Config {
	return Config{
		Components:    5,
		Neighbors:     15,
		MinDist:       0,
		Spread:        1,
		Epochs:        200,
		Seed:          42,
		SpectralLimit: 1000,
	}
}

// Reducer projects vectors. It holds no state between calls.
type Reducer struct {
	cfg Config
}

// New creates a Reducer. Zero fields take defaults.
func New(cfg Config) *Reducer {
	def := DefaultConfig()
	if cfg.Components <= 0 {
		cfg.Components = def.Components
	}
	if cfg.Neighbors <= 1 {
		cfg.Neighbors = def.Neighbors
	}
	if cfg.Spread <= 0 {
		cfg.Spread = def.Spread
	}
	if cfg.Epochs <= 0 {
		cfg.Epochs = def.Epochs
	}
	if cfg.SpectralLimit <= 0 {
		cfg.SpectralLimit = def.SpectralLimit
	}
	return &Reducer{cfg: cfg}
}

// Reduce returns one low-dimensional vector per input, in order. Exact
// duplicates are projected once and share one output point. When the
// distinct inputs are too few to fill a neighborhood, or already have no
// more than Components dimensions, the vectors are returned unchanged and
// reduced is false.
func (r *Reducer) Reduce(ctx context.Context, vectors [][]float32) (out [][]float64, reduced bool, err error) {
	if len(vectors) == 0 {
		return nil, false, nil
	}
	distinct, index := dedupe(vectors)
	n := len(distinct)
	dim := len(vectors[0])
	if n <= r.cfg.Neighbors || dim <= r.cfg.Components {
		slog.Debug("reduce: skipping projection",
			"points", len(vectors), "distinct", n, "dim", dim, "neighbors", r.cfg.Neighbors)
		return widen(vectors), false, nil
	}

	seed := r.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	start := time.Now()
	knn := nearestNeighbors(distinct, r.cfg.Neighbors)
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	g := fuzzyGraph(knn)

	emb, spectral := initialLayout(g, n, r.cfg.Components, r.cfg.SpectralLimit, rng)
	a, b := fitCurve(r.cfg.Spread, r.cfg.MinDist)
	if err := optimize(ctx, emb, g, a, b, r.cfg.Epochs, rng); err != nil {
		return nil, false, err
	}

	slog.Debug("reduce: projection done",
		"points", len(vectors), "distinct", n, "components", r.cfg.Components,
		"edges", len(g.edges), "spectral", spectral,
		"elapsed", time.Since(start))

	out = make([][]float64, len(vectors))
	for i, k := range index {
		out[i] = append([]float64(nil), emb[k]...)
	}
	return out, true, nil
}

// dedupe returns the distinct vectors in first-seen order and, for every
// input, the position of its copy among them.
func dedupe(vectors [][]float32) (distinct [][]float32, index []int) {
	seen := make(map[string]int, len(vectors))
	index = make([]int, len(vectors))
	var key []byte
	for i, v := range vectors {
		key = key[:0]
		for _, x := range v {
			key = binary.LittleEndian.AppendUint32(key, math.Float32bits(x))
		}
		k, ok := seen[string(key)]
		if !ok {
			k = len(distinct)
			seen[string(key)] = k
			distinct = append(distinct, v)
		}
		index[i] = k
	}
	return distinct, index
}

func widen(vectors [][]float32) [][]float64 {
	out := make([][]float64, len(vectors))
	for i, v := range vectors {
		row := make([]float64, len(v))
		for j, x := range v {
			row[j] = float64(x)
		}
		out[i] = row
	}
	return out
}

// ---------------------------------------------------------------------------
// Neighbor graph
// ---------------------------------------------------------------------------

type neighbor struct {
	idx  int
	dist float64
}

// nearestNeighbors returns, for every point, its k nearest points by cosine
// distance, the point itself first.
func nearestNeighbors(vectors [][]float32, k int) [][]neighbor {
	n := len(vectors)
	norms := make([]float64, n)
	for i, v := range vectors {
		var s float64
		for _, x := range v {
			s += float64(x) * float64(x)
		}
		norms[i] = math.Sqrt(s)
	}

	out := make([][]neighbor, n)
	row := make([]neighbor, n)
	for i := range vectors {
		for j := range vectors {
			row[j] = neighbor{idx: j, dist: cosineDistance(vectors[i], vectors[j], norms[i], norms[j])}
		}
		row[i].dist = -1 // self sorts first
		sort.SliceStable(row, func(a, b int) bool {
			if row[a].dist != row[b].dist {
				return row[a].dist < row[b].dist
			}
			return row[a].idx < row[b].idx
		})
		nb := make([]neighbor, k)
		copy(nb, row[:k])
		nb[0].dist = 0
		out[i] = nb
	}
	return out
}

func cosineDistance(a, b []float32, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 1
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	d := 1 - dot/(na*nb)
	if d < 0 {
		return 0
	}
	return d
}

type edge struct {
	i, j   int
	weight float64
}

// graph is the symmetric fuzzy neighbor graph as an edge list (i < j).
type graph struct {
	n     int
	edges []edge
}

const (
	smoothIters     = 64
	smoothTolerance = 1e-5
	minScale        = 1e-3
)

// fuzzyGraph calibrates each point's bandwidth so that its membership
// strengths sum to log2(k), then combines the directed memberships with a
// fuzzy union.
func fuzzyGraph(knn [][]neighbor) *graph {
	n := len(knn)
	directed := make(map[[2]int]float64, n*len(knn[0]))

	var meanDist float64
	var count int
	for _, nb := range knn {
		for _, x := range nb[1:] {
			meanDist += x.dist
			count++
		}
	}
	if count > 0 {
		meanDist /= float64(count)
	}

	for i, nb := range knn {
		rho, sigma := smoothDistance(nb[1:], meanDist)
		for _, x := range nb[1:] {
			w := 1.0
			if d := x.dist - rho; d > 0 {
				w = math.Exp(-d / sigma)
			}
			directed[[2]int{i, x.idx}] = w
		}
	}

	weights := make(map[[2]int]float64, len(directed))
	for key := range directed {
		i, j := key[0], key[1]
		if i > j {
			i, j = j, i
		}
		if _, done := weights[[2]int{i, j}]; done {
			continue
		}
		wij := directed[[2]int{i, j}]
		wji := directed[[2]int{j, i}]
		weights[[2]int{i, j}] = wij + wji - wij*wji
	}

	g := &graph{n: n, edges: make([]edge, 0, len(weights))}
	for key, w := range weights {
		if w > 0 {
			g.edges = append(g.edges, edge{i: key[0], j: key[1], weight: w})
		}
	}
	sort.Slice(g.edges, func(a, b int) bool {
		if g.edges[a].i != g.edges[b].i {
			return g.edges[a].i < g.edges[b].i
		}
		return g.edges[a].j < g.edges[b].j
	})
	return g
}

// smoothDistance finds rho (distance to the nearest distinct neighbor) and
// sigma by bisection.
func smoothDistance(nb []neighbor, meanDist float64) (rho, sigma float64) {
	target := math.Log2(float64(len(nb) + 1))
	for _, x := range nb {
		if x.dist > 0 {
			rho = x.dist
			break
		}
	}

	lo, hi, mid := 0.0, math.Inf(1), 1.0
	for range smoothIters {
		var psum float64
		for _, x := range nb {
			d := x.dist - rho
			if d > 0 {
				psum += math.Exp(-d / mid)
			} else {
				psum++
			}
		}
		if math.Abs(psum-target) < smoothTolerance {
			break
		}
		if psum > target {
			hi = mid
			mid = (lo + hi) / 2
		} else {
			lo = mid
			if math.IsInf(hi, 1) {
				mid *= 2
			} else {
				mid = (lo + hi) / 2
			}
		}
	}

	var localMean float64
	for _, x := range nb {
		localMean += x.dist
	}
	localMean /= float64(max(len(nb), 1))
	floor := minScale * meanDist
	if rho > 0 {
		floor = minScale * localMean
	}
	if mid < floor {
		mid = floor
	}
	if mid <= 0 {
		mid = minScale
	}
	return rho, mid
}
