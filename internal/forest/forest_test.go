package forest

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

// synthetic returns rows where output 0 depends on feature 0, output 1 on
// feature 1, and feature 2 is noise.
func synthetic(n int, seed uint64) (X, Y [][]float64) {
	rng := rand.New(rand.NewPCG(seed, 1))
	for range n {
		t := 10 + 20*rng.Float64()
		h := 30 + 60*rng.Float64()
		noise := rng.Float64()
		X = append(X, []float64{t, h, noise})
		Y = append(Y, []float64{18 + 0.5*(t-20)/10, 2.5 + 0.05*(h-60)/30})
	}
	return X, Y
}

func smallParams() Params {
	p := DefaultParams()
	p.NTrees = 20
	return p
}

func TestFit_LearnsSignal(t *testing.T) {
	X, Y := synthetic(80, 7)

	f, err := Fit(X, Y, smallParams())
	require.NoError(t, err)

	preds, err := f.PredictBatch(X)
	require.NoError(t, err)
	assert.Greater(t, R2Score(Y, preds), 0.9)

	for _, p := range preds {
		for _, v := range p {
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		}
	}

	imp := f.FeatureImportances()
	require.Len(t, imp, 3)
	assert.InDelta(t, 1.0, floats.Sum(imp), 1e-9)
	assert.Less(t, imp[2], imp[0])

	oob, ok := f.OOBScore()
	require.True(t, ok)
	assert.Greater(t, oob, 0.5)
}

func TestFit_Deterministic(t *testing.T) {
	X, Y := synthetic(40, 3)

	a, err := Fit(X, Y, smallParams())
	require.NoError(t, err)
	b, err := Fit(X, Y, smallParams())
	require.NoError(t, err)

	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	assert.JSONEq(t, string(ja), string(jb))

	p := smallParams()
	p.Seed = 43
	c, err := Fit(X, Y, p)
	require.NoError(t, err)
	jc, _ := json.Marshal(c)
	assert.NotEqual(t, string(ja), string(jc))
}

func TestForest_JSONRoundTripPredictsIdentically(t *testing.T) {
	X, Y := synthetic(30, 11)
	f, err := Fit(X, Y, smallParams())
	require.NoError(t, err)

	data, err := json.Marshal(f)
	require.NoError(t, err)

	var loaded Forest
	require.NoError(t, json.Unmarshal(data, &loaded))

	x := []float64{18.5, 65, 0.3}
	want, err := f.Predict(x)
	require.NoError(t, err)
	got, err := loaded.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestForest_TreePredictions(t *testing.T) {
	X, Y := synthetic(25, 5)
	f, err := Fit(X, Y, smallParams())
	require.NoError(t, err)

	per, err := f.TreePredictions(X[0])
	require.NoError(t, err)
	require.Len(t, per, 20)

	mean := make([]float64, 2)
	for _, p := range per {
		floats.Add(mean, p)
	}
	floats.Scale(1.0/20, mean)

	avg, err := f.Predict(X[0])
	require.NoError(t, err)
	assert.InDeltaSlice(t, avg, mean, 1e-12)
}

func TestForest_DimensionErrors(t *testing.T) {
	X, Y := synthetic(10, 1)
	f, err := Fit(X, Y, smallParams())
	require.NoError(t, err)

	_, err = f.Predict([]float64{1, 2})
	assert.ErrorIs(t, err, ErrDimension)
	_, err = f.TreePredictions([]float64{1, 2, 3, 4})
	assert.ErrorIs(t, err, ErrDimension)

	_, err = Fit(nil, nil, smallParams())
	assert.ErrorIs(t, err, ErrEmptyTrainingSet)
	_, err = Fit(X, Y[:5], smallParams())
	assert.ErrorIs(t, err, ErrDimension)
}

func TestFit_ConstantTargetIsSingleLeaf(t *testing.T) {
	X := [][]float64{{1}, {2}, {3}, {4}}
	Y := [][]float64{{5, 1}, {5, 1}, {5, 1}, {5, 1}}

	f, err := Fit(X, Y, smallParams())
	require.NoError(t, err)
	for _, tree := range f.Trees {
		assert.Len(t, tree.Nodes, 1)
		assert.Equal(t, 0, tree.Depth())
	}
	got, err := f.Predict([]float64{10})
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 1}, got)
}

func TestFit_MaxDepth(t *testing.T) {
	X, Y := synthetic(60, 9)
	p := smallParams()
	p.MaxDepth = 2

	f, err := Fit(X, Y, p)
	require.NoError(t, err)
	for _, tree := range f.Trees {
		assert.LessOrEqual(t, tree.Depth(), 2)
	}
}
