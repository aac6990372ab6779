package predict

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brewcast/internal/confidence"
	"brewcast/internal/forest"
	"brewcast/internal/registry"
	"brewcast/internal/storage"
	"brewcast/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func brewObs(bean, origin string, n int) []types.BrewObservation {
	weathers := []types.Weather{types.WeatherClear, types.WeatherCloudy, types.WeatherRain}
	base := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	out := make([]types.BrewObservation, n)
	for i := range n {
		temp := 12 + float64(i%12)
		hum := 45 + float64((i*5)%40)
		out[i] = types.BrewObservation{
			BeanName:       bean,
			BeanOrigin:     origin,
			Date:           base.AddDate(0, 0, i),
			Weather:        weathers[i%len(weathers)],
			Temperature:    temp,
			Humidity:       hum,
			DaysPassed:     float64(3 + i%18),
			Mesh:           18 + (temp-20)/10*0.5,
			Gram:           2.5 + (hum-60)/30*0.05,
			ExtractionTime: 30 + (temp-20)/10*2,
		}
	}
	return out
}

type memSource struct {
	data map[string][]types.BrewObservation
}

func (m memSource) ListObservations(_ context.Context, bean string) ([]types.BrewObservation, error) {
	return m.data[bean], nil
}

func newRegistry(t *testing.T) *registry.PerBean {
	t.Helper()
	src := memSource{data: map[string][]types.BrewObservation{
		"Ethiopia Yirgacheffe": brewObs("Ethiopia Yirgacheffe", "Ethiopia", 14),
		"Kenya AA":             brewObs("Kenya AA", "Kenya", 12),
	}}
	trainer := registry.NewTrainer(forest.Params{NTrees: 10, Seed: 42}, 0.2, registry.MinTrainingSamples, "test")
	return registry.NewPerBean(storage.NewMemoryStore(), src, trainer, discardLogger(), registry.PerBeanOptions{AllowOnDemandTraining: true})
}

func ptr(v float64) *float64 { return &v }

type countingObserver struct {
	mu       sync.Mutex
	variants map[string]int
	errors   int
}

func (c *countingObserver) ObservePrediction(variant string, _ time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.variants == nil {
		c.variants = map[string]int{}
	}
	c.variants[variant]++
	if err != nil {
		c.errors++
	}
}

func TestPredict_Scenario(t *testing.T) {
	obs := &countingObserver{}
	svc := NewService(newRegistry(t), discardLogger(), 2, obs)

	res, err := svc.Predict(context.Background(), types.PredictionRequest{
		BeanName:    "Ethiopia Yirgacheffe",
		Date:        types.NewRequestDate(2025, time.March, 15),
		Weather:     "Clear",
		Temperature: ptr(18.5),
		Humidity:    ptr(65.0),
	}, OptionsFor(VariantDefault))
	require.NoError(t, err)

	for _, v := range []float64{res.Mesh, res.Gram, res.ExtractionTime} {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
	}
	require.NotNil(t, res.Confidence)
	assert.GreaterOrEqual(t, *res.Confidence, confidence.Min)
	assert.LessOrEqual(t, *res.Confidence, confidence.Max)
	assert.Equal(t, "Ethiopia Yirgacheffe", res.ModelKey)
	assert.Equal(t, 14, res.SampleCount)
	assert.Equal(t, 1, obs.variants[VariantDefault])
}

func TestPredict_UnseenWeatherStillPredicts(t *testing.T) {
	svc := NewService(newRegistry(t), discardLogger(), 1, nil)
	_, err := svc.Predict(context.Background(), types.PredictionRequest{
		BeanName: "Kenya AA",
		Date:     types.NewRequestDate(2025, time.March, 15),
		Weather:  "Snow",
	}, OptionsFor(VariantDefault))
	assert.NoError(t, err)
}

func TestPredict_MissingDate(t *testing.T) {
	svc := NewService(newRegistry(t), discardLogger(), 1, nil)
	_, err := svc.Predict(context.Background(), types.PredictionRequest{BeanName: "Kenya AA", Weather: "Clear"}, OptionsFor(VariantDefault))
	assert.Equal(t, types.ErrCodeValidationInvalidDate, types.CodeOf(err))
}

func TestPredict_SavedVariantRequiresModel(t *testing.T) {
	obs := &countingObserver{}
	svc := NewService(newRegistry(t), discardLogger(), 1, obs)
	req := types.PredictionRequest{BeanName: "Kenya AA", Date: types.NewRequestDate(2025, 1, 1), Weather: "Rain"}

	_, err := svc.Predict(context.Background(), req, OptionsFor(VariantSaved))
	assert.Equal(t, types.ErrCodeNotFoundModel, types.CodeOf(err))
	assert.Equal(t, 1, obs.errors)

	_, err = svc.Predict(context.Background(), req, OptionsFor(VariantDefault))
	require.NoError(t, err)
	_, err = svc.Predict(context.Background(), req, OptionsFor(VariantSaved))
	assert.NoError(t, err)
}

func TestPredict_DynamicRetrains(t *testing.T) {
	reg := newRegistry(t)
	svc := NewService(reg, discardLogger(), 1, nil)
	req := types.PredictionRequest{BeanName: "Kenya AA", Date: types.NewRequestDate(2025, 1, 1), Weather: "Rain"}

	a, err := svc.Predict(context.Background(), req, OptionsFor(VariantDynamic))
	require.NoError(t, err)
	b, err := svc.Predict(context.Background(), req, OptionsFor(VariantDynamic))
	require.NoError(t, err)
	assert.NotEqual(t, a.ModelID, b.ModelID)
	assert.Equal(t, a.Mesh, b.Mesh, "retraining on the same data is deterministic")
}

func TestOptionsFor(t *testing.T) {
	assert.Equal(t, registry.ResolveOptions{}, OptionsFor(VariantSaved).Resolve)
	assert.Equal(t, registry.ResolveOptions{AllowTrain: true, ForceRetrain: true}, OptionsFor(VariantDynamic).Resolve)
	assert.Equal(t, registry.ResolveOptions{AllowTrain: true}, OptionsFor(VariantBatch).Resolve)
}

func TestPredictBatch_IsolatesFailures(t *testing.T) {
	svc := NewService(newRegistry(t), discardLogger(), 3, nil)
	date := types.NewRequestDate(2025, time.March, 15)

	out := svc.PredictBatch(context.Background(), []types.PredictionRequest{
		{BeanName: "Ethiopia Yirgacheffe", Date: date, Weather: "Clear", Temperature: ptr(18.5)},
		{BeanName: "Does Not Exist", Date: date, Weather: "Clear"},
		{BeanName: "Kenya AA", Date: date, Weather: "Cloudy"},
	}, OptionsFor(VariantBatch))

	require.Len(t, out.Predictions, 3)
	assert.Equal(t, 2, out.Succeeded)
	assert.Equal(t, 1, out.Failed)

	for i, item := range out.Predictions {
		assert.Equal(t, i, item.Index)
	}
	assert.NotNil(t, out.Predictions[0].Result)
	assert.Equal(t, 18.5, out.Predictions[0].Temperature)
	assert.Equal(t, types.DefaultHumidity, out.Predictions[0].Humidity)

	failed := out.Predictions[1]
	assert.Nil(t, failed.Result)
	require.NotNil(t, failed.Error)
	assert.Equal(t, types.ErrCodeNotFoundBean, failed.Error.Code)
	assert.Equal(t, "Does Not Exist", failed.BeanName)

	assert.NotNil(t, out.Predictions[2].Result)
	assert.Nil(t, out.Predictions[2].Error)
}

func TestPredictBatch_SameBeanSharesModel(t *testing.T) {
	svc := NewService(newRegistry(t), discardLogger(), 4, nil)
	date := types.NewRequestDate(2025, time.March, 15)
	reqs := make([]types.PredictionRequest, 8)
	for i := range reqs {
		reqs[i] = types.PredictionRequest{BeanName: "Kenya AA", Date: date, Weather: "Clear"}
	}

	out := svc.PredictBatch(context.Background(), reqs, OptionsFor(VariantBatch))
	require.Equal(t, 8, out.Succeeded)
	for _, item := range out.Predictions[1:] {
		assert.Equal(t, out.Predictions[0].Result.Mesh, item.Result.Mesh)
	}
}
