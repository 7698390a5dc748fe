package reduce

import (
	"context"
	"log/slog"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	layoutScale    = 10.0
	negativeRate   = 5
	gradientClip   = 4.0
	initialAlpha   = 1.0
	repulsionFloor = 0.001
)

// initialLayout places points using the leading non-trivial eigenvectors of
// the graph's normalized Laplacian. Large or disconnected graphs fall back to
// a uniform random layout.
func initialLayout(g *graph, n, dim, limit int, rng *rand.Rand) ([][]float64, bool) {
	if n <= limit && n > dim+1 && connected(g) {
		if emb, ok := spectralLayout(g, n, dim, rng); ok {
			return emb, true
		}
	}
	emb := make([][]float64, n)
	for i := range emb {
		emb[i] = make([]float64, dim)
		for j := range emb[i] {
			emb[i][j] = rng.Float64()*2*layoutScale - layoutScale
		}
	}
	return emb, false
}

func spectralLayout(g *graph, n, dim int, rng *rand.Rand) ([][]float64, bool) {
	deg := make([]float64, n)
	for _, e := range g.edges {
		deg[e.i] += e.weight
		deg[e.j] += e.weight
	}
	for i, d := range deg {
		if d == 0 {
			return nil, false
		}
		deg[i] = 1 / math.Sqrt(d)
	}

	lap := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		lap.SetSym(i, i, 1)
	}
	for _, e := range g.edges {
		lap.SetSym(e.i, e.j, -e.weight*deg[e.i]*deg[e.j])
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(lap, true); !ok {
		slog.Warn("reduce: spectral factorization failed, using random layout")
		return nil, false
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// Eigenvalues come back ascending; column 0 is the trivial one.
	emb := make([][]float64, n)
	col := make([]float64, n)
	for i := range emb {
		emb[i] = make([]float64, dim)
	}
	var maxAbs float64
	for c := 0; c < dim; c++ {
		mat.Col(col, c+1, &vecs)
		for i, v := range col {
			emb[i][c] = v
		}
		if m := floats.Max(col); m > maxAbs {
			maxAbs = m
		}
		if m := -floats.Min(col); m > maxAbs {
			maxAbs = m
		}
	}
	if maxAbs == 0 {
		return nil, false
	}
	expansion := layoutScale / maxAbs
	for i := range emb {
		floats.Scale(expansion, emb[i])
		for j := range emb[i] {
			emb[i][j] += rng.NormFloat64() * 0.0001
		}
	}
	return emb, true
}

func connected(g *graph) bool {
	if g.n == 0 {
		return true
	}
	adj := make([][]int, g.n)
	for _, e := range g.edges {
		adj[e.i] = append(adj[e.i], e.j)
		adj[e.j] = append(adj[e.j], e.i)
	}
	seen := make([]bool, g.n)
	queue := []int{0}
	seen[0] = true
	count := 1
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, nb := range adj[cur] {
			if !seen[nb] {
				seen[nb] = true
				count++
				queue = append(queue, nb)
			}
		}
	}
	return count == g.n
}

// fitCurve finds a, b so that 1/(1+a*x^(2b)) approximates a membership
// that is flat up to minDist and decays exponentially with the given
// spread. Least squares over a coarse grid refined three times.
func fitCurve(spread, minDist float64) (a, b float64) {
	const samples = 300
	xs := floats.Span(make([]float64, samples), 0, spread*3)
	ys := make([]float64, samples)
	for i, x := range xs {
		if x < minDist {
			ys[i] = 1
		} else {
			ys[i] = math.Exp(-(x - minDist) / spread)
		}
	}

	loss := func(a, b float64) float64 {
		var s float64
		for i, x := range xs {
			d := 1/(1+a*math.Pow(x, 2*b)) - ys[i]
			s += d * d
		}
		return s
	}

	aLo, aHi, bLo, bHi := 0.001, 10.0, 0.1, 3.0
	best := math.Inf(1)
	for round := 0; round < 4; round++ {
		const steps = 40
		da, db := (aHi-aLo)/steps, (bHi-bLo)/steps
		for i := 0; i <= steps; i++ {
			ca := aLo + float64(i)*da
			for j := 0; j <= steps; j++ {
				cb := bLo + float64(j)*db
				if l := loss(ca, cb); l < best {
					best, a, b = l, ca, cb
				}
			}
		}
		aLo, aHi = math.Max(a-2*da, 1e-4), a+2*da
		bLo, bHi = math.Max(b-2*db, 1e-2), b+2*db
	}
	return a, b
}

// optimize runs the layout SGD in place. Each edge is sampled in
// proportion to its weight; every positive sample is paired with
// negativeRate random repulsions.
func optimize(ctx context.Context, emb [][]float64, g *graph, a, b float64, epochs int, rng *rand.Rand) error {
	if len(g.edges) == 0 {
		return nil
	}
	var maxW float64
	for _, e := range g.edges {
		maxW = math.Max(maxW, e.weight)
	}

	type sample struct {
		edge
		every, next       float64
		everyNeg, nextNeg float64
	}
	samples := make([]sample, 0, len(g.edges))
	for _, e := range g.edges {
		// Edges too weak to be sampled once per run are dropped.
		if e.weight < maxW/float64(epochs) {
			continue
		}
		every := maxW / e.weight
		samples = append(samples, sample{
			edge:     e,
			every:    every,
			next:     every,
			everyNeg: every / negativeRate,
			nextNeg:  every / negativeRate,
		})
	}

	n, dim := len(emb), len(emb[0])
	delta := make([]float64, dim)
	for epoch := 0; epoch < epochs; epoch++ {
		if epoch%10 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		alpha := initialAlpha * (1 - float64(epoch)/float64(epochs))
		ep := float64(epoch)

		for s := range samples {
			sm := &samples[s]
			if sm.next > ep {
				continue
			}
			cur, other := emb[sm.i], emb[sm.j]

			d2 := sqDist(cur, other, delta)
			if d2 > 0 {
				coeff := -2 * a * b * math.Pow(d2, b-1) / (a*math.Pow(d2, b) + 1)
				for k := range delta {
					grad := clip(coeff*delta[k]) * alpha
					cur[k] += grad
					other[k] -= grad
				}
			}
			sm.next += sm.every

			negs := int((ep - sm.nextNeg) / sm.everyNeg)
			for range negs {
				t := rng.Intn(n)
				if t == sm.i {
					continue
				}
				d2 := sqDist(cur, emb[t], delta)
				if d2 <= 0 {
					continue
				}
				coeff := 2 * b / ((repulsionFloor + d2) * (a*math.Pow(d2, b) + 1))
				for k := range delta {
					cur[k] += clip(coeff*delta[k]) * alpha
				}
			}
			sm.nextNeg += float64(negs) * sm.everyNeg
		}
	}
	return nil
}

func sqDist(x, y, delta []float64) float64 {
	var s float64
	for k := range x {
		delta[k] = x[k] - y[k]
		s += delta[k] * delta[k]
	}
	return s
}

func clip(v float64) float64 {
	return math.Max(-gradientClip, math.Min(gradientClip, v))
}
