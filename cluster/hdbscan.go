// Package cluster groups projected vectors by density with HDBSCAN: points
// in dense regions separated by sparse ones form clusters, everything else
// is noise.
package cluster

import (
	"context"
	"log/slog"
	"math"
	"sort"
)

// Noise is the label of points that belong to no cluster.
const Noise = -1

// Config controls the density clustering.
type Config struct {
	// MinClusterSize is the smallest group reported as a cluster.
	MinClusterSize int `json:"min_cluster_size" yaml:"min_cluster_size" validate:"gte=2"`
	// MinSamples sets the neighborhood used for core distances. Zero means
	// MinClusterSize.
	MinSamples int `json:"min_samples" yaml:"min_samples" validate:"gte=0"`
	// AllowSingleCluster lets the whole dataset be selected as one cluster.
	AllowSingleCluster bool `json:"allow_single_cluster" yaml:"allow_single_cluster"`
}

// DefaultConfig returns clusters of at least 4 points.
func DefaultConfig() Config {
	return Config{MinClusterSize: 4}
}

// Cluster is one group of points, identified by index into the input.
type Cluster struct {
	ID      int   `json:"id"`
	Members []int `json:"members"`
}

// Result is a partition of the input into clusters and noise.
type Result struct {
	// Labels holds the cluster ID of every input point, or Noise.
	Labels   []int     `json:"labels"`
	Clusters []Cluster `json:"clusters"`
}

// Noise returns the indices of unclustered points in ascending order.
func (r *Result) Noise() []int {
	var out []int
	for i, l := range r.Labels {
		if l == Noise {
			out = append(out, i)
		}
	}
	return out
}

// Clusterer runs HDBSCAN. It holds no state between calls.
type Clusterer struct {
	cfg Config
}

// New creates a Clusterer.
func New(cfg Config) *Clusterer {
	if cfg.MinClusterSize < 2 {
		cfg.MinClusterSize = 2
	}
	return &Clusterer{cfg: cfg}
}

// MinClusterSize reports the configured minimum.
func (c *Clusterer) MinClusterSize() int { return c.cfg.MinClusterSize }

// Fit partitions points. Cluster IDs are assigned in order of each
// cluster's smallest member index, so equal input gives equal output.
func (c *Clusterer) Fit(ctx context.Context, points [][]float64) (*Result, error) {
	n := len(points)
	res := &Result{Labels: make([]int, n)}
	for i := range res.Labels {
		res.Labels[i] = Noise
	}
	if n < c.cfg.MinClusterSize || n < 2 {
		return res, nil
	}

	minSamples := c.cfg.MinSamples
	if minSamples <= 0 {
		minSamples = c.cfg.MinClusterSize
	}
	minSamples = min(minSamples, n)

	dist := pairwise(points)
	core := coreDistances(dist, minSamples)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mst := primMST(dist, core)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tree := singleLinkage(mst, n)
	ct := condense(tree, n, c.cfg.MinClusterSize)
	selected := ct.selectEOM(c.cfg.AllowSingleCluster)
	labels := ct.label(selected, n)

	res.Labels = labels
	res.relabel()
	slog.Debug("cluster: hdbscan done", "points", n, "clusters", len(res.Clusters), "noise", len(res.Noise()))
	return res, nil
}

// relabel renumbers clusters by smallest member and rebuilds Clusters.
func (r *Result) relabel() {
	mapping := make(map[int]int)
	next := 0
	for _, l := range r.Labels {
		if l == Noise {
			continue
		}
		if _, ok := mapping[l]; !ok {
			mapping[l] = next
			next++
		}
	}
	r.Clusters = make([]Cluster, next)
	for i := range r.Clusters {
		r.Clusters[i].ID = i
	}
	for i, l := range r.Labels {
		if l == Noise {
			continue
		}
		id := mapping[l]
		r.Labels[i] = id
		r.Clusters[id].Members = append(r.Clusters[id].Members, i)
	}
}

// ---------------------------------------------------------------------------
// Distances and spanning tree
// ---------------------------------------------------------------------------

func pairwise(points [][]float64) [][]float64 {
	n := len(points)
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			var s float64
			for k := range points[i] {
				x := points[i][k] - points[j][k]
				s += x * x
			}
			d[i][j] = math.Sqrt(s)
			d[j][i] = d[i][j]
		}
	}
	return d
}

// coreDistances returns each point's distance to its k-th nearest point,
// counting the point itself as the first.
func coreDistances(dist [][]float64, k int) []float64 {
	core := make([]float64, len(dist))
	row := make([]float64, len(dist))
	for i := range dist {
		copy(row, dist[i])
		sort.Float64s(row)
		core[i] = row[k-1]
	}
	return core
}

type mstEdge struct {
	a, b   int
	weight float64
}

// primMST builds the minimum spanning tree of the mutual reachability
// graph without materializing it.
func primMST(dist [][]float64, core []float64) []mstEdge {
	n := len(dist)
	inTree := make([]bool, n)
	best := make([]float64, n)
	from := make([]int, n)
	for i := range best {
		best[i] = math.Inf(1)
	}

	edges := make([]mstEdge, 0, n-1)
	cur := 0
	inTree[0] = true
	for len(edges) < n-1 {
		next, nextW := -1, math.Inf(1)
		for j := 0; j < n; j++ {
			if inTree[j] {
				continue
			}
			mr := math.Max(dist[cur][j], math.Max(core[cur], core[j]))
			if mr < best[j] {
				best[j] = mr
				from[j] = cur
			}
			if best[j] < nextW {
				next, nextW = j, best[j]
			}
		}
		edges = append(edges, mstEdge{a: from[next], b: next, weight: nextW})
		inTree[next] = true
		cur = next
	}

	sort.SliceStable(edges, func(i, j int) bool { return edges[i].weight < edges[j].weight })
	return edges
}

// ---------------------------------------------------------------------------
// Single linkage and condensed tree
// ---------------------------------------------------------------------------

type merge struct {
	left, right int
	dist        float64
	size        int
}

// singleLinkage turns sorted MST edges into a merge tree. Leaves are
// 0..n-1; merge i creates node n+i.
func singleLinkage(mst []mstEdge, n int) []merge {
	parent := make([]int, 2*n-1)
	size := make([]int, 2*n-1)
	for i := range parent {
		parent[i] = i
		if i < n {
			size[i] = 1
		}
	}
	find := func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	tree := make([]merge, 0, n-1)
	next := n
	for _, e := range mst {
		ra, rb := find(e.a), find(e.b)
		tree = append(tree, merge{left: ra, right: rb, dist: e.weight, size: size[ra] + size[rb]})
		parent[ra], parent[rb] = next, next
		size[next] = size[ra] + size[rb]
		next++
	}
	return tree
}

type condensedRow struct {
	parent, child int
	lambda        float64
	size          int
}

type condensedTree struct {
	rows []condensedRow
	root int
}

func lambdaOf(d float64) float64 {
	return 1 / math.Max(d, 1e-12)
}

// condense walks the merge tree from the root and keeps only splits where
// both sides have at least minSize points; smaller sides fall out as
// points.
func condense(tree []merge, n, minSize int) *condensedTree {
	root := 2*n - 2
	ct := &condensedTree{root: n}
	relabel := map[int]int{root: n}
	nextLabel := n + 1
	ignore := make(map[int]bool)

	nodeSize := func(x int) int {
		if x < n {
			return 1
		}
		return tree[x-n].size
	}
	leaves := func(x int, fn func(int)) {
		stack := []int{x}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if cur < n {
				fn(cur)
				continue
			}
			ignore[cur] = true
			stack = append(stack, tree[cur-n].left, tree[cur-n].right)
		}
	}

	queue := []int{root}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node < n || ignore[node] {
			continue
		}
		m := tree[node-n]
		queue = append(queue, m.left, m.right)
		lam := lambdaOf(m.dist)
		ls, rs := nodeSize(m.left), nodeSize(m.right)
		parent := relabel[node]

		switch {
		case ls >= minSize && rs >= minSize:
			relabel[m.left] = nextLabel
			ct.rows = append(ct.rows, condensedRow{parent, nextLabel, lam, ls})
			nextLabel++
			relabel[m.right] = nextLabel
			ct.rows = append(ct.rows, condensedRow{parent, nextLabel, lam, rs})
			nextLabel++
		case ls < minSize && rs < minSize:
			for _, side := range []int{m.left, m.right} {
				leaves(side, func(p int) {
					ct.rows = append(ct.rows, condensedRow{parent, p, lam, 1})
				})
			}
		case ls < minSize:
			relabel[m.right] = parent
			leaves(m.left, func(p int) {
				ct.rows = append(ct.rows, condensedRow{parent, p, lam, 1})
			})
		default:
			relabel[m.left] = parent
			leaves(m.right, func(p int) {
				ct.rows = append(ct.rows, condensedRow{parent, p, lam, 1})
			})
		}
	}
	return ct
}

// selectEOM picks the clusters maximizing total stability (excess of
// mass). The root is only eligible when allowSingle is set.
func (ct *condensedTree) selectEOM(allowSingle bool) map[int]bool {
	birth := map[int]float64{ct.root: 0}
	children := make(map[int][]int)
	var labels []int
	for _, r := range ct.rows {
		if r.child >= ct.root {
			birth[r.child] = r.lambda
			children[r.parent] = append(children[r.parent], r.child)
		}
	}
	for l := range birth {
		labels = append(labels, l)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(labels)))

	stability := make(map[int]float64, len(birth))
	for _, r := range ct.rows {
		stability[r.parent] += (r.lambda - birth[r.parent]) * float64(r.size)
	}

	selected := make(map[int]bool, len(labels))
	for _, l := range labels {
		selected[l] = true
	}
	if !allowSingle && len(labels) > 1 {
		delete(selected, ct.root)
	}

	var unselect func(int)
	unselect = func(l int) {
		for _, c := range children[l] {
			selected[c] = false
			unselect(c)
		}
	}

	// Labels are numbered so that children always exceed their parent.
	for _, l := range labels {
		if l == ct.root && !allowSingle {
			continue
		}
		var sub float64
		for _, c := range children[l] {
			sub += stability[c]
		}
		if sub > stability[l] {
			selected[l] = false
			stability[l] = sub
		} else {
			unselect(l)
		}
	}
	if !allowSingle {
		selected[ct.root] = false
	}
	return selected
}

// label assigns each point to the selected cluster above it, or Noise.
func (ct *condensedTree) label(selected map[int]bool, n int) []int {
	up := make(map[int]int)
	pointParent := make([]int, n)
	for i := range pointParent {
		pointParent[i] = -1
	}
	for _, r := range ct.rows {
		if r.child < n {
			pointParent[r.child] = r.parent
		} else {
			up[r.child] = r.parent
		}
	}

	labels := make([]int, n)
	for i := range labels {
		labels[i] = Noise
		c := pointParent[i]
		for c >= 0 {
			if selected[c] {
				labels[i] = c
				break
			}
			next, ok := up[c]
			if !ok {
				break
			}
			c = next
		}
	}
	return labels
}
