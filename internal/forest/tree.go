package forest

import (
	"cmp"
	"math/rand/v2"
	"slices"
)

// pureTolerance is the node SSE below which a node is treated as pure.
const pureTolerance = 1e-12

// Node is a flat tree node. Leaves have Feature == -1 and carry Value.
// Samples go left when x[Feature] <= Threshold.
type Node struct {
	Feature   int       `json:"f"`
	Threshold float64   `json:"t,omitempty"`
	Left      int32     `json:"l,omitempty"`
	Right     int32     `json:"r,omitempty"`
	Value     []float64 `json:"v,omitempty"`
	Samples   int       `json:"n"`
}

// Tree is a fitted regression tree stored as a node array rooted at 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) predict(x []float64) []float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = int(n.Left)
		} else {
			i = int(n.Right)
		}
	}
}

// Depth returns the number of edges on the longest root-to-leaf path.
func (t *Tree) Depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return 0
		}
		return 1 + max(walk(int(n.Left)), walk(int(n.Right)))
	}
	if len(t.Nodes) == 0 {
		return 0
	}
	return walk(0)
}

type builder struct {
	X, Y       [][]float64
	p          Params
	rng        *rand.Rand
	nOutputs   int
	nodes      []Node
	importance []float64
}

type split struct {
	feature   int
	threshold float64
	childSSE  float64
	pos       int // rows [0,pos) of the sorted index go left
	sorted    []int
}

// build grows the subtree for the rows in idx and returns its node index.
func (b *builder) build(idx []int, depth int) int32 {
	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: -1, Samples: len(idx)})

	mean, sse := b.stats(idx)
	if len(idx) < b.p.MinSamplesSplit ||
		(b.p.MaxDepth > 0 && depth >= b.p.MaxDepth) ||
		sse <= pureTolerance {
		b.nodes[id].Value = mean
		return int32(id)
	}

	s, ok := b.bestSplit(idx)
	if !ok {
		b.nodes[id].Value = mean
		return int32(id)
	}

	b.importance[s.feature] += sse - s.childSSE

	left := b.build(s.sorted[:s.pos], depth+1)
	right := b.build(s.sorted[s.pos:], depth+1)

	b.nodes[id].Feature = s.feature
	b.nodes[id].Threshold = s.threshold
	b.nodes[id].Left = left
	b.nodes[id].Right = right
	return int32(id)
}

// stats returns the per-output mean and the SSE summed over outputs.
func (b *builder) stats(idx []int) ([]float64, float64) {
	sum := make([]float64, b.nOutputs)
	sq := make([]float64, b.nOutputs)
	for _, i := range idx {
		for o, y := range b.Y[i] {
			sum[o] += y
			sq[o] += y * y
		}
	}
	n := float64(len(idx))
	mean := make([]float64, b.nOutputs)
	var sse float64
	for o := range sum {
		mean[o] = sum[o] / n
		sse += max(sq[o]-sum[o]*sum[o]/n, 0)
	}
	return mean, sse
}

// bestSplit scans every feature, visited in a random order so ties go to a
// randomly chosen feature, and returns the split with the lowest child SSE.
func (b *builder) bestSplit(idx []int) (split, bool) {
	n := len(idx)
	minLeaf := b.p.MinSamplesLeaf

	totalSum := make([]float64, b.nOutputs)
	totalSq := make([]float64, b.nOutputs)
	for _, i := range idx {
		for o, y := range b.Y[i] {
			totalSum[o] += y
			totalSq[o] += y * y
		}
	}

	best := split{feature: -1}
	leftSum := make([]float64, b.nOutputs)
	leftSq := make([]float64, b.nOutputs)

	for _, f := range b.rng.Perm(len(b.importance)) {
		sorted := slices.Clone(idx)
		slices.SortStableFunc(sorted, func(a, c int) int {
			return cmp.Compare(b.X[a][f], b.X[c][f])
		})
		if b.X[sorted[0]][f] == b.X[sorted[n-1]][f] {
			continue
		}

		clear(leftSum)
		clear(leftSq)
		for k := 1; k < n; k++ {
			for o, y := range b.Y[sorted[k-1]] {
				leftSum[o] += y
				leftSq[o] += y * y
			}
			lo, hi := b.X[sorted[k-1]][f], b.X[sorted[k]][f]
			if lo == hi || k < minLeaf || n-k < minLeaf {
				continue
			}

			nl, nr := float64(k), float64(n-k)
			var child float64
			for o := range leftSum {
				rs, rq := totalSum[o]-leftSum[o], totalSq[o]-leftSq[o]
				child += max(leftSq[o]-leftSum[o]*leftSum[o]/nl, 0)
				child += max(rq-rs*rs/nr, 0)
			}

			if best.feature < 0 || child < best.childSSE-pureTolerance {
				threshold := lo + (hi-lo)/2
				if threshold >= hi {
					threshold = lo
				}
				best = split{feature: f, threshold: threshold, childSSE: child, pos: k, sorted: sorted}
			}
		}
	}

	return best, best.feature >= 0
}
