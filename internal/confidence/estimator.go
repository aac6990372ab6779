// Package confidence scores how much a trained regressor's predictions can
// be trusted, as a number in [0.3, 0.95].
//
// The score is a fixed weighted blend of cross-validated fit quality,
// agreement between ensemble members, and training-set size. It is a
// heuristic, not a calibrated probability.
package confidence

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"brewcast/internal/forest"
)

// Bounds and weights of the blend.
const (
	Min = 0.3
	Max = 0.95

	WeightR2          = 0.4
	WeightStability   = 0.3
	WeightSample      = 0.2 // applied inside the sample term
	WeightCVStability = 0.1

	MaxFolds         = 5
	SampleSaturation = 50.0
)

// Model is an ensemble that exposes its members' individual predictions.
type Model interface {
	forest.Regressor
	TreePredictions(x []float64) ([][]float64, error)
}

// Breakdown is the confidence score together with every term that fed it.
type Breakdown struct {
	Confidence      float64   `json:"confidence"`
	R2Term          float64   `json:"r2_term"`
	StabilityTerm   float64   `json:"stability_term"`
	SampleTerm      float64   `json:"sample_term"`
	CVStabilityTerm float64   `json:"cv_stability_term"`
	TrainR2         float64   `json:"train_r2"`
	CVScores        []float64 `json:"cv_scores,omitempty"`
	CVMean          float64   `json:"cv_mean"`
	CVStd           float64   `json:"cv_std"`
	MeanTreeStd     float64   `json:"mean_tree_std"`
	SampleCount     int       `json:"sample_count"`
	Source          Source    `json:"source"`
	FallbackReason  string    `json:"fallback_reason,omitempty"`
}

// Source says how a Breakdown was produced.
type Source string

const (
	SourceEstimated Source = "estimated"
	SourceFallback  Source = "fallback"
	SourceFixed     Source = "fixed"
)

// Estimator computes confidence breakdowns. Train refits the model class on
// each cross-validation split.
type Estimator struct {
	Train forest.TrainFunc
}

// New returns an Estimator that refits forests with p during
// cross-validation.
func New(p forest.Params) *Estimator {
	return &Estimator{Train: forest.TrainWith(p)}
}

// Estimate scores model on its training arrays:
//
//	r2   = clamp01((mean(cv_r2) + train_r2) / 2),   k = min(5, n) folds
//	stab = clamp01(1 - mean_tree_std / 2)
//	smp  = min(1, n/50) * 0.2
//	cvs  = clamp01(1 - std(cv_r2))
//	conf = clamp(0.4*r2 + 0.3*stab + smp + 0.1*cvs, 0.3, 0.95)
//
// If cross-validation or ensemble introspection fails, it returns the
// sample-count fallback instead.
func (e *Estimator) Estimate(model Model, X, Y [][]float64, sampleCount int) (b Breakdown) {
	defer func() {
		if rvr := recover(); rvr != nil {
			b = FallbackBreakdown(sampleCount, fmt.Errorf("panic: %v", rvr))
		}
	}()

	b, err := e.estimate(model, X, Y, sampleCount)
	if err != nil {
		return FallbackBreakdown(sampleCount, err)
	}
	return b
}

func (e *Estimator) estimate(model Model, X, Y [][]float64, sampleCount int) (Breakdown, error) {
	if model == nil || e.Train == nil {
		return Breakdown{}, errors.New("model and trainer are required")
	}
	n := len(X)
	if n == 0 || len(Y) != n {
		return Breakdown{}, fmt.Errorf("need matching non-empty arrays, got %d and %d rows", n, len(Y))
	}

	cvScores, err := forest.CrossValR2(e.Train, X, Y, min(MaxFolds, n))
	if err != nil {
		return Breakdown{}, fmt.Errorf("cross-validation: %w", err)
	}
	cvMean, cvStd := stat.PopMeanStdDev(cvScores, nil)

	preds := make([][]float64, n)
	var stds []float64
	for i, x := range X {
		p, err := model.Predict(x)
		if err != nil {
			return Breakdown{}, fmt.Errorf("predict row %d: %w", i, err)
		}
		preds[i] = p

		members, err := model.TreePredictions(x)
		if err != nil {
			return Breakdown{}, fmt.Errorf("ensemble row %d: %w", i, err)
		}
		if len(members) == 0 {
			return Breakdown{}, errors.New("ensemble has no members")
		}
		for o := range members[0] {
			col := make([]float64, len(members))
			for t := range members {
				col[t] = members[t][o]
			}
			_, sd := stat.PopMeanStdDev(col, nil)
			stds = append(stds, sd)
		}
	}
	trainR2 := forest.R2Score(Y, preds)
	meanTreeStd := stat.Mean(stds, nil)

	b := Breakdown{
		R2Term:          clamp01((cvMean + trainR2) / 2),
		StabilityTerm:   clamp01(1 - meanTreeStd/2),
		SampleTerm:      SampleTerm(sampleCount),
		CVStabilityTerm: clamp01(1 - cvStd),
		TrainR2:         trainR2,
		CVScores:        cvScores,
		CVMean:          cvMean,
		CVStd:           cvStd,
		MeanTreeStd:     meanTreeStd,
		SampleCount:     sampleCount,
		Source:          SourceEstimated,
	}
	b.Confidence = Combine(b.R2Term, b.StabilityTerm, b.SampleTerm, b.CVStabilityTerm)
	return b, nil
}

// Combine applies the weights to already-clamped terms and clamps the
// result to [Min, Max].
func Combine(r2Term, stabilityTerm, sampleTerm, cvStabilityTerm float64) float64 {
	return clamp(
		r2Term*WeightR2+stabilityTerm*WeightStability+sampleTerm+cvStabilityTerm*WeightCVStability,
		Min, Max,
	)
}

// SampleTerm is min(1, n/50) * 0.2.
func SampleTerm(n int) float64 {
	return min(1, max(float64(n), 0)/SampleSaturation) * WeightSample
}

// Fallback is the score used when the full estimate cannot be computed:
// 0.3 + (n-10)*0.02, clamped to [0.3, 0.95].
func Fallback(sampleCount int) float64 {
	return clamp(Min+float64(sampleCount-10)*0.02, Min, Max)
}

// FallbackBreakdown wraps Fallback with the reason it was used.
func FallbackBreakdown(sampleCount int, reason error) Breakdown {
	b := Breakdown{
		Confidence:  Fallback(sampleCount),
		SampleTerm:  SampleTerm(sampleCount),
		SampleCount: sampleCount,
		Source:      SourceFallback,
	}
	if reason != nil {
		b.FallbackReason = reason.Error()
	}
	return b
}

// Fixed returns a breakdown for models that report a constant confidence.
func Fixed(value float64, sampleCount int) Breakdown {
	return Breakdown{
		Confidence:  clamp(value, Min, Max),
		SampleCount: sampleCount,
		Source:      SourceFixed,
	}
}

func clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return max(lo, min(hi, v))
}
