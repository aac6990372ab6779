// Package forest implements a deterministic multi-output random forest
// regressor: bootstrap-sampled CART trees split on summed squared error
// across all outputs, averaged at prediction time.
//
// A fitted Forest is plain data and round-trips through JSON without loss,
// so a reloaded model predicts exactly what the trained one did.
package forest

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// Params configures training.
type Params struct {
	NTrees          int    `json:"n_trees"`
	Seed            uint64 `json:"seed"`
	MaxDepth        int    `json:"max_depth"` // 0 means unlimited
	MinSamplesSplit int    `json:"min_samples_split"`
	MinSamplesLeaf  int    `json:"min_samples_leaf"`
}

// DefaultParams returns 100 trees, seed 42, fully grown.
func DefaultParams() Params {
	return Params{NTrees: 100, Seed: 42, MinSamplesSplit: 2, MinSamplesLeaf: 1}
}

func (p Params) withDefaults() Params {
	if p.NTrees <= 0 {
		p.NTrees = 100
	}
	if p.MinSamplesSplit < 2 {
		p.MinSamplesSplit = 2
	}
	if p.MinSamplesLeaf < 1 {
		p.MinSamplesLeaf = 1
	}
	return p
}

var (
	ErrEmptyTrainingSet = errors.New("forest: empty training set")
	ErrDimension        = errors.New("forest: dimension mismatch")
)

// Forest is a fitted ensemble.
type Forest struct {
	Params      Params    `json:"params"`
	NFeatures   int       `json:"n_features"`
	NOutputs    int       `json:"n_outputs"`
	Trees       []Tree    `json:"trees"`
	Importances []float64 `json:"feature_importances"`
	// OOB is the out-of-bag R², nil when no sample was ever left out.
	OOB *float64 `json:"oob_score,omitempty"`
}

// Fit trains a forest on X (n×features) and Y (n×outputs). Trees are built
// in parallel; each draws from its own seeded generator so the result does
// not depend on scheduling.
func Fit(X, Y [][]float64, p Params) (*Forest, error) {
	nFeatures, nOutputs, err := checkShape(X, Y)
	if err != nil {
		return nil, err
	}
	p = p.withDefaults()

	master := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))
	seeds := make([]uint64, p.NTrees)
	for i := range seeds {
		seeds[i] = master.Uint64()
	}

	trees := make([]Tree, p.NTrees)
	inBag := make([][]bool, p.NTrees)
	importances := make([][]float64, p.NTrees)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for t := range p.NTrees {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(seeds[t], uint64(t)))
			sample, bag := bootstrap(len(X), rng)
			b := &builder{X: X, Y: Y, p: p, rng: rng, nOutputs: nOutputs, importance: make([]float64, nFeatures)}
			b.build(sample, 0)
			trees[t] = Tree{Nodes: b.nodes}
			inBag[t] = bag
			importances[t] = normalized(b.importance)
			return nil
		})
	}
	_ = g.Wait()

	f := &Forest{
		Params:      p,
		NFeatures:   nFeatures,
		NOutputs:    nOutputs,
		Trees:       trees,
		Importances: make([]float64, nFeatures),
	}
	for _, imp := range importances {
		floats.Add(f.Importances, imp)
	}
	f.Importances = normalized(f.Importances)
	f.OOB = f.oobScore(X, Y, inBag)

	return f, nil
}

// Predict returns the mean of all trees' outputs for x.
func (f *Forest) Predict(x []float64) ([]float64, error) {
	if len(x) != f.NFeatures {
		return nil, fmt.Errorf("%w: got %d features, want %d", ErrDimension, len(x), f.NFeatures)
	}
	out := make([]float64, f.NOutputs)
	for i := range f.Trees {
		floats.Add(out, f.Trees[i].predict(x))
	}
	floats.Scale(1/float64(len(f.Trees)), out)
	return out, nil
}

// PredictBatch predicts every row of X.
func (f *Forest) PredictBatch(X [][]float64) ([][]float64, error) {
	out := make([][]float64, len(X))
	for i, x := range X {
		y, err := f.Predict(x)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = y
	}
	return out, nil
}

// TreePredictions returns each tree's output for x, one row per tree.
func (f *Forest) TreePredictions(x []float64) ([][]float64, error) {
	if len(x) != f.NFeatures {
		return nil, fmt.Errorf("%w: got %d features, want %d", ErrDimension, len(x), f.NFeatures)
	}
	out := make([][]float64, len(f.Trees))
	for i := range f.Trees {
		leaf := f.Trees[i].predict(x)
		out[i] = append([]float64(nil), leaf...)
	}
	return out, nil
}

// FeatureImportances returns the normalized mean impurity decrease per
// feature. The slice sums to 1 unless no tree ever split.
func (f *Forest) FeatureImportances() []float64 {
	return append([]float64(nil), f.Importances...)
}

// OOBScore returns the out-of-bag R² and whether it is defined.
func (f *Forest) OOBScore() (float64, bool) {
	if f.OOB == nil {
		return 0, false
	}
	return *f.OOB, true
}

func (f *Forest) oobScore(X, Y [][]float64, inBag [][]bool) *float64 {
	sums := make([][]float64, len(X))
	counts := make([]int, len(X))
	for t := range f.Trees {
		for i, x := range X {
			if inBag[t][i] {
				continue
			}
			if sums[i] == nil {
				sums[i] = make([]float64, f.NOutputs)
			}
			floats.Add(sums[i], f.Trees[t].predict(x))
			counts[i]++
		}
	}

	var yTrue, yPred [][]float64
	for i := range X {
		if counts[i] == 0 {
			continue
		}
		floats.Scale(1/float64(counts[i]), sums[i])
		yTrue = append(yTrue, Y[i])
		yPred = append(yPred, sums[i])
	}
	if len(yTrue) < 2 {
		return nil
	}
	score := R2Score(yTrue, yPred)
	return &score
}

func bootstrap(n int, rng *rand.Rand) ([]int, []bool) {
	sample := make([]int, n)
	bag := make([]bool, n)
	for i := range sample {
		j := rng.IntN(n)
		sample[i] = j
		bag[j] = true
	}
	return sample, bag
}

func normalized(v []float64) []float64 {
	out := append([]float64(nil), v...)
	if total := floats.Sum(out); total > 0 {
		floats.Scale(1/total, out)
	}
	return out
}

func checkShape(X, Y [][]float64) (nFeatures, nOutputs int, err error) {
	if len(X) == 0 {
		return 0, 0, ErrEmptyTrainingSet
	}
	if len(X) != len(Y) {
		return 0, 0, fmt.Errorf("%w: %d rows in X, %d in Y", ErrDimension, len(X), len(Y))
	}
	nFeatures, nOutputs = len(X[0]), len(Y[0])
	if nFeatures == 0 || nOutputs == 0 {
		return 0, 0, fmt.Errorf("%w: zero-width input", ErrDimension)
	}
	for i := range X {
		if len(X[i]) != nFeatures || len(Y[i]) != nOutputs {
			return 0, 0, fmt.Errorf("%w: ragged row %d", ErrDimension, i)
		}
	}
	return nFeatures, nOutputs, nil
}
