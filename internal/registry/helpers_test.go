package registry

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"brewcast/internal/forest"
	"brewcast/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// brewObs returns n deterministic observations whose targets follow the
// temperature and humidity adjustments of real brew logs.
func brewObs(bean, origin string, n int) []types.BrewObservation {
	weathers := []types.Weather{types.WeatherClear, types.WeatherCloudy, types.WeatherRain, types.WeatherSnow}
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]types.BrewObservation, n)
	for i := range n {
		temp := 10 + float64(i%15)
		hum := 40 + float64((i*7)%50)
		tf, hf := (temp-20)/10, (hum-60)/30
		out[i] = types.BrewObservation{
			RecipeID:       int64(i + 1),
			BeanName:       bean,
			BeanOrigin:     origin,
			Date:           base.AddDate(0, 0, i),
			Weather:        weathers[i%len(weathers)],
			Temperature:    temp,
			Humidity:       hum,
			DaysPassed:     float64(5 + i%20),
			Mesh:           18 + tf*0.5 + hf*0.3,
			Gram:           2.5 + tf*0.1 + hf*0.05,
			ExtractionTime: 30 + tf*2 + hf*1.5,
		}
	}
	return out
}

type fakeSource struct {
	mu    sync.Mutex
	data  map[string][]types.BrewObservation
	err   error
	calls map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{data: map[string][]types.BrewObservation{}, calls: map[string]int{}}
}

func (f *fakeSource) add(obs ...types.BrewObservation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range obs {
		f.data[o.BeanName] = append(f.data[o.BeanName], o)
	}
}

func (f *fakeSource) ListObservations(_ context.Context, bean string) ([]types.BrewObservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[bean]++
	if f.err != nil {
		return nil, f.err
	}
	if bean == types.GlobalModelKey {
		var all []types.BrewObservation
		for _, obs := range f.data {
			all = append(all, obs...)
		}
		return all, nil
	}
	return append([]types.BrewObservation(nil), f.data[bean]...), nil
}

func (f *fakeSource) callCount(bean string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[bean]
}

func testParams() forest.Params {
	return forest.Params{NTrees: 10, Seed: 42}
}

func testTrainer() *Trainer {
	return NewTrainer(testParams(), 0.2, MinTrainingSamples, "test_db")
}

type recordingObserver struct {
	mu        sync.Mutex
	resolves  map[string]int
	trainings int
	failures  int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{resolves: map[string]int{}}
}

func (o *recordingObserver) ObserveResolve(_, source string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resolves[source]++
}

func (o *recordingObserver) ObserveTraining(_ string, _ time.Duration, _ int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.trainings++
	if err != nil {
		o.failures++
	}
}

// gatedSource blocks every lookup until release is closed and then fails
// with the caller's context error, if any.
type gatedSource struct {
	*fakeSource
	entered chan struct{}
	release chan struct{}
}

func newGatedSource() *gatedSource {
	return &gatedSource{
		fakeSource: newFakeSource(),
		entered:    make(chan struct{}, 8),
		release:    make(chan struct{}),
	}
}

func (g *gatedSource) ListObservations(ctx context.Context, bean string) ([]types.BrewObservation, error) {
	g.entered <- struct{}{}
	<-g.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.fakeSource.ListObservations(ctx, bean)
}
