// Package predict turns prediction requests into brew parameters: it
// resolves the model, encodes the request against the model's schema, runs
// the forest and attaches the model's confidence.
package predict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"brewcast/internal/features"
	"brewcast/internal/registry"
	"brewcast/internal/types"
)

// Resolver is the part of the model registry the service needs.
type Resolver interface {
	Resolve(ctx context.Context, key string, opts registry.ResolveOptions) (*registry.TrainedModel, error)
}

// Observer receives per-prediction outcomes.
type Observer interface {
	ObservePrediction(variant string, d time.Duration, err error)
}

type noopObserver struct{}

func (noopObserver) ObservePrediction(string, time.Duration, error) {}

// Prediction variants, used as metric labels.
const (
	VariantDefault = "default"
	VariantSaved   = "saved"
	VariantDynamic = "dynamic"
	VariantBatch   = "batch"
)

// Options pick the registry behavior for a call.
type Options struct {
	Variant string
	Resolve registry.ResolveOptions
}

// OptionsFor returns the resolve options of a variant.
func OptionsFor(variant string) Options {
	switch variant {
	case VariantSaved:
		return Options{Variant: variant}
	case VariantDynamic:
		return Options{Variant: variant, Resolve: registry.ResolveOptions{AllowTrain: true, ForceRetrain: true}}
	default:
		return Options{Variant: variant, Resolve: registry.ResolveOptions{AllowTrain: true}}
	}
}

// Service runs predictions.
type Service struct {
	resolver         Resolver
	logger           *slog.Logger
	batchConcurrency int
	observer         Observer
}

// NewService creates a Service. batchConcurrency bounds the number of batch
// items processed at once.
func NewService(resolver Resolver, logger *slog.Logger, batchConcurrency int, observer Observer) *Service {
	if batchConcurrency < 1 {
		batchConcurrency = 1
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &Service{
		resolver:         resolver,
		logger:           logger,
		batchConcurrency: batchConcurrency,
		observer:         observer,
	}
}

// Predict resolves the model for req, encodes req against its schema and
// returns the predicted mesh, gram and extraction time.
func (s *Service) Predict(ctx context.Context, req types.PredictionRequest, opts Options) (*types.PredictionResult, error) {
	start := time.Now()
	res, err := s.predict(ctx, req, opts)
	s.observer.ObservePrediction(opts.Variant, time.Since(start), err)
	return res, err
}

func (s *Service) predict(ctx context.Context, req types.PredictionRequest, opts Options) (*types.PredictionResult, error) {
	model, err := s.resolver.Resolve(ctx, req.ModelKey(), opts.Resolve)
	if err != nil {
		return nil, err
	}

	x, err := features.Encode(req, model.Schema)
	if err != nil {
		return nil, err
	}

	out, err := model.Predict(x)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalSchemaMismatch, "inference failed", err)
	}
	if len(out) != len(features.TargetNames) {
		return nil, types.NewAppError(types.ErrCodeInternalSchemaMismatch,
			fmt.Sprintf("model returned %d outputs, want %d", len(out), len(features.TargetNames)), nil)
	}
	for _, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "model produced a non-finite prediction", nil)
		}
	}

	conf := model.Confidence.Confidence
	return &types.PredictionResult{
		Mesh:           out[0],
		Gram:           out[1],
		ExtractionTime: out[2],
		Confidence:     &conf,
		ModelKey:       model.Key,
		ModelID:        model.ID,
		SampleCount:    model.SampleCount,
	}, nil
}

// PredictBatch runs every request independently. A failing item is reported
// in its own slot and never affects the others; the batch as a whole does
// not fail.
func (s *Service) PredictBatch(ctx context.Context, reqs []types.PredictionRequest, opts Options) types.BatchPredictionResult {
	items := make([]types.BatchItemResult, len(reqs))

	var g errgroup.Group
	g.SetLimit(s.batchConcurrency)
	for i, req := range reqs {
		g.Go(func() error {
			item := echo(i, req)
			res, err := s.Predict(ctx, req, opts)
			if err != nil {
				item.Error = itemError(err)
				types.LoggerFromContext(ctx, s.logger).DebugContext(ctx, "batch item failed", "index", i, "code", item.Error.Code, "error", err)
			} else {
				item.Result = res
			}
			items[i] = item
			return nil
		})
	}
	_ = g.Wait()

	out := types.BatchPredictionResult{Predictions: items}
	for _, it := range items {
		if it.Error != nil {
			out.Failed++
		} else {
			out.Succeeded++
		}
	}
	return out
}

func echo(i int, req types.PredictionRequest) types.BatchItemResult {
	return types.BatchItemResult{
		Index:       i,
		BeanName:    req.BeanName,
		BeanOrigin:  req.BeanOrigin,
		Date:        req.Date,
		Weather:     req.Weather,
		Temperature: req.TemperatureOrDefault(),
		Humidity:    req.HumidityOrDefault(),
		DaysPassed:  req.DaysPassedOrDefault(),
	}
}

func itemError(err error) *types.BatchItemError {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return &types.BatchItemError{Code: appErr.Code, Message: appErr.Message}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &types.BatchItemError{Code: types.ErrCodeInternalUnexpected, Message: "request cancelled"}
	}
	return &types.BatchItemError{Code: types.ErrCodeInternalUnexpected, Message: "an unexpected error occurred"}
}
