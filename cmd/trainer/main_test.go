package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brewcast/internal/confidence"
	"brewcast/internal/registry"
	"brewcast/internal/types"
)

type fakeLister struct {
	names []string
	err   error
}

func (f fakeLister) BeanNamesWithData(context.Context) ([]string, error) {
	return f.names, f.err
}

type fakeTrainer struct {
	inFlight, peak atomic.Int32
	fail           map[string]error
}

func (f *fakeTrainer) Train(_ context.Context, key string) (*registry.TrainedModel, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if err := f.fail[key]; err != nil {
		return nil, err
	}
	return &registry.TrainedModel{Key: key, SampleCount: 30, Confidence: confidence.Breakdown{Confidence: 0.8}}, nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestTrainingKeys(t *testing.T) {
	ctx := context.Background()
	lister := fakeLister{names: []string{"a", "b"}}

	keys, err := trainingKeys(ctx, lister, options{global: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "global"}, keys)

	keys, err = trainingKeys(ctx, lister, options{bean: "only"})
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, keys)

	_, err = trainingKeys(ctx, fakeLister{err: errors.New("db down")}, options{})
	assert.Error(t, err)
}

func TestTrainAll(t *testing.T) {
	tr := &fakeTrainer{fail: map[string]error{
		"sparse": types.NewAppError(types.ErrCodeValidationInsufficientData, "too few", nil),
	}}
	results := trainAll(context.Background(), tr, []string{"c", "sparse", "a", "b", "global"}, 2, discard())

	require.Len(t, results, 5)
	assert.Equal(t, "a", results[0].key)
	assert.Equal(t, 30, results[0].samples)
	assert.LessOrEqual(t, tr.peak.Load(), int32(2))
	assert.NoError(t, report(results, discard()))
}

func TestReport(t *testing.T) {
	insufficient := types.NewAppError(types.ErrCodeValidationInsufficientData, "too few", nil)
	storeErr := types.NewAppError(types.ErrCodeInternalModelStorage, "write failed", nil)

	assert.NoError(t, report(nil, discard()))
	assert.NoError(t, report([]result{{key: "a"}, {key: "b", err: insufficient}}, discard()))
	err := report([]result{{key: "a"}, {key: "b", err: storeErr}}, discard())
	assert.ErrorIs(t, err, storeErr)
	assert.ErrorContains(t, err, "b: ")
	assert.ErrorContains(t, report([]result{{key: "b", err: insufficient}}, discard()), "no model was trained")
}
