// Package registry maps bean keys to trained models. PerBean loads models
// from the blob store or trains them on demand; Static serves one model for
// every key.
package registry

import (
	"context"
	"time"

	"brewcast/internal/types"
)

// Registry strategy names.
const (
	ModeBean   = "bean"
	ModeStatic = "static"
)

// Where a resolved model came from.
const (
	SourceCache   = "cache"
	SourceStore   = "store"
	SourceTrained = "trained"
)

// ResolveOptions control how a missing model is handled.
type ResolveOptions struct {
	// AllowTrain permits synchronous training when nothing is persisted.
	AllowTrain bool
	// ForceRetrain trains a fresh model even if one exists.
	ForceRetrain bool
}

// Registry resolves, trains and lists models.
type Registry interface {
	Resolve(ctx context.Context, key string, opts ResolveOptions) (*TrainedModel, error)
	Train(ctx context.Context, key string) (*TrainedModel, error)
	Reload(ctx context.Context) error
	List(ctx context.Context) ([]IndexEntry, error)
	Mode() string
}

// ObservationSource supplies training data. The global key selects every
// observation.
type ObservationSource interface {
	ListObservations(ctx context.Context, beanName string) ([]types.BrewObservation, error)
}

// Observer receives registry events, typically for metrics.
type Observer interface {
	ObserveResolve(mode, source string)
	ObserveTraining(mode string, d time.Duration, sampleCount int, err error)
}

type noopObserver struct{}

func (noopObserver) ObserveResolve(string, string)                     {}
func (noopObserver) ObserveTraining(string, time.Duration, int, error) {}
