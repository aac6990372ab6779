package registry

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"brewcast/internal/confidence"
	"brewcast/internal/features"
	"brewcast/internal/forest"
	"brewcast/internal/types"
)

// MinTrainingSamples is the fewest observations a model is trained on.
const MinTrainingSamples = 10

// Trainer fits models from observations.
type Trainer struct {
	Params       forest.Params
	TestFraction float64
	MinSamples   int
	DataSource   string
	Estimator    *confidence.Estimator

	now   func() time.Time
	newID func() string
}

// NewTrainer returns a Trainer using p for both the final fit and the
// cross-validation refits.
func NewTrainer(p forest.Params, testFraction float64, minSamples int, dataSource string) *Trainer {
	if minSamples <= 0 {
		minSamples = MinTrainingSamples
	}
	return &Trainer{
		Params:       p,
		TestFraction: testFraction,
		MinSamples:   minSamples,
		DataSource:   dataSource,
		Estimator:    confidence.New(p),
		now:          func() time.Time { return time.Now().UTC() },
		newID:        func() string { return uuid.NewString() },
	}
}

// Train fits a model for key on obs. It fails with not_found_bean when obs
// is empty and validation_insufficient_data below MinSamples.
func (t *Trainer) Train(key string, obs []types.BrewObservation) (*TrainedModel, error) {
	n := len(obs)
	if n == 0 {
		return nil, types.NewAppError(types.ErrCodeNotFoundBean,
			fmt.Sprintf("no brew records found for %q", key), nil)
	}
	if n < t.MinSamples {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationInsufficientData,
			fmt.Sprintf("%q has %d brew records; at least %d are required", key, n, t.MinSamples),
			nil, map[string]any{"sample_count": n, "required": t.MinSamples})
	}

	trainedAt := t.now()
	schema := features.BuildSchema(obs)
	schema.BeanName = key
	schema.DataSource = t.DataSource
	schema.TrainingDate = trainedAt

	X, Y, err := features.EncodeObservations(obs, schema)
	if err != nil {
		return nil, err
	}

	trainIdx, testIdx := trainTestSplit(n, t.TestFraction, t.Params.Seed)
	trainX, trainY := pick(X, trainIdx), pick(Y, trainIdx)
	testX, testY := pick(X, testIdx), pick(Y, testIdx)

	f, err := forest.Fit(trainX, trainY, t.Params)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalTraining, "failed to fit forest", err)
	}

	eval, err := evaluate(f, testX, testY, schema.TargetNames)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalTraining, "failed to evaluate holdout split", err)
	}
	eval.TrainSize = len(trainIdx)
	eval.OOBScore = f.OOB

	return &TrainedModel{
		FormatVersion: modelFormatVersion,
		ID:            t.newID(),
		Key:           key,
		TrainedAt:     trainedAt,
		SampleCount:   n,
		Schema:        schema,
		Forest:        f,
		Evaluation:    eval,
		Confidence:    t.Estimator.Estimate(f, trainX, trainY, n),
		TrainX:        trainX,
		TrainY:        trainY,
	}, nil
}

// trainTestSplit shuffles 0..n-1 with seed and holds out ceil(n*frac)
// rows, keeping at least one row on each side.
func trainTestSplit(n int, frac float64, seed uint64) (train, test []int) {
	perm := rand.New(rand.NewPCG(seed, seed)).Perm(n)
	nTest := int(math.Ceil(float64(n) * frac))
	nTest = max(1, min(nTest, n-1))
	test = slices.Clone(perm[:nTest])
	train = slices.Clone(perm[nTest:])
	slices.Sort(test)
	slices.Sort(train)
	return train, test
}

func pick(m [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for i, j := range idx {
		out[i] = m[j]
	}
	return out
}

func evaluate(f *forest.Forest, X, Y [][]float64, targets []string) (Evaluation, error) {
	preds, err := f.PredictBatch(X)
	if err != nil {
		return Evaluation{}, err
	}
	mse := forest.MeanSquaredError(Y, preds)
	mae := forest.MeanAbsoluteError(Y, preds)

	eval := Evaluation{
		TestSize: len(X),
		R2:       forest.R2Score(Y, preds),
		Targets:  make(map[string]TargetMetrics, len(targets)),
	}
	for o, name := range targets {
		truth, est := make([]float64, len(Y)), make([]float64, len(Y))
		for i := range Y {
			truth[i], est[i] = Y[i][o], preds[i][o]
		}
		r2 := stat.RSquaredFrom(est, truth, nil)
		if math.IsNaN(r2) || math.IsInf(r2, 0) {
			r2 = 0
		}
		eval.Targets[name] = TargetMetrics{MSE: mse[o], MAE: mae[o], R2: r2}
	}
	return eval, nil
}
