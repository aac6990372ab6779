package forest

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// ErrDegenerateFold is returned by CrossValR2 when a held-out fold is too
// small for R² to be defined.
var ErrDegenerateFold = errors.New("forest: cross-validation fold has fewer than 2 samples")

// Regressor is anything that maps a feature row to an output row.
type Regressor interface {
	Predict(x []float64) ([]float64, error)
}

// TrainFunc fits a Regressor on (X, Y).
type TrainFunc func(X, Y [][]float64) (Regressor, error)

// R2Score returns the coefficient of determination averaged uniformly over
// outputs. An output whose true values are constant scores 1 if predicted
// exactly and 0 otherwise.
func R2Score(yTrue, yPred [][]float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	nOut := len(yTrue[0])
	var total float64
	for o := range nOut {
		truth := column(yTrue, o)
		mean := stat.Mean(truth, nil)
		var ssRes, ssTot float64
		for i, y := range truth {
			d := y - yPred[i][o]
			ssRes += d * d
			m := y - mean
			ssTot += m * m
		}
		switch {
		case ssTot != 0:
			total += 1 - ssRes/ssTot
		case ssRes == 0:
			total++
		}
	}
	return total / float64(nOut)
}

// MeanSquaredError returns the MSE per output.
func MeanSquaredError(yTrue, yPred [][]float64) []float64 {
	return perOutput(yTrue, yPred, func(d float64) float64 { return d * d })
}

// MeanAbsoluteError returns the MAE per output.
func MeanAbsoluteError(yTrue, yPred [][]float64) []float64 {
	return perOutput(yTrue, yPred, func(d float64) float64 {
		if d < 0 {
			return -d
		}
		return d
	})
}

func perOutput(yTrue, yPred [][]float64, loss func(float64) float64) []float64 {
	if len(yTrue) == 0 {
		return nil
	}
	out := make([]float64, len(yTrue[0]))
	for i := range yTrue {
		for o := range out {
			out[o] += loss(yTrue[i][o] - yPred[i][o])
		}
	}
	for o := range out {
		out[o] /= float64(len(yTrue))
	}
	return out
}

// KFold returns k contiguous, unshuffled test folds over n rows. The first
// n%k folds get one extra row.
func KFold(n, k int) [][2]int {
	folds := make([][2]int, 0, k)
	start := 0
	for i := range k {
		size := n / k
		if i < n%k {
			size++
		}
		folds = append(folds, [2]int{start, start + size})
		start += size
	}
	return folds
}

// CrossValR2 runs unshuffled k-fold cross-validation and returns the R² of
// every fold. It fails with ErrDegenerateFold when k < 2 or any fold holds
// fewer than two rows.
func CrossValR2(train TrainFunc, X, Y [][]float64, k int) ([]float64, error) {
	n := len(X)
	if k < 2 || k > n {
		return nil, fmt.Errorf("%w: k=%d, n=%d", ErrDegenerateFold, k, n)
	}

	folds := KFold(n, k)
	scores := make([]float64, 0, k)
	for fi, fold := range folds {
		lo, hi := fold[0], fold[1]
		if hi-lo < 2 {
			return nil, fmt.Errorf("%w: fold %d", ErrDegenerateFold, fi)
		}

		trainX := append(append([][]float64{}, X[:lo]...), X[hi:]...)
		trainY := append(append([][]float64{}, Y[:lo]...), Y[hi:]...)
		model, err := train(trainX, trainY)
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", fi, err)
		}

		preds := make([][]float64, 0, hi-lo)
		for _, x := range X[lo:hi] {
			p, err := model.Predict(x)
			if err != nil {
				return nil, fmt.Errorf("fold %d: %w", fi, err)
			}
			preds = append(preds, p)
		}
		scores = append(scores, R2Score(Y[lo:hi], preds))
	}
	return scores, nil
}

// TrainWith returns a TrainFunc that fits forests with p.
func TrainWith(p Params) TrainFunc {
	return func(X, Y [][]float64) (Regressor, error) {
		return Fit(X, Y, p)
	}
}

func column(m [][]float64, j int) []float64 {
	out := make([]float64, len(m))
	for i := range m {
		out[i] = m[i][j]
	}
	return out
}
