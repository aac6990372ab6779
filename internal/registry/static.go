package registry

import (
	"context"
	"log/slog"

	"brewcast/internal/confidence"
)

// Flat confidences for models that are not scored from training arrays.
const (
	SavedModelConfidence  = 0.85
	StaticModelConfidence = 0.9
)

func savedModelConfidence(sampleCount int) confidence.Breakdown {
	return confidence.Fixed(SavedModelConfidence, sampleCount)
}

// Static serves a single pre-trained model for every key. Its confidence is
// the flat StaticModelConfidence.
type Static struct {
	inner  *PerBean
	key    string
	logger *slog.Logger
}

// NewStatic serves the model stored under key. Training, when requested
// explicitly, uses inner's observation source with the same key.
func NewStatic(inner *PerBean, key string, logger *slog.Logger) *Static {
	return &Static{inner: inner, key: normalizeKey(key), logger: logger}
}

func (s *Static) Mode() string { return ModeStatic }

// Key returns the key every request resolves to.
func (s *Static) Key() string { return s.key }

// Load reads the model eagerly. A missing model is logged, not fatal, so the
// service can start before the first training run.
func (s *Static) Load(ctx context.Context) error {
	_, err := s.Resolve(ctx, s.key, ResolveOptions{})
	if err != nil {
		s.logger.WarnContext(ctx, "static model not loaded", "key", s.key, "error", err)
	}
	return err
}

// Resolve ignores key and returns the static model. ForceRetrain retrains
// it; AllowTrain is honored when nothing is stored yet.
func (s *Static) Resolve(ctx context.Context, _ string, opts ResolveOptions) (*TrainedModel, error) {
	m, err := s.inner.Resolve(ctx, s.key, opts)
	if err != nil {
		return nil, err
	}
	return m.withConfidence(confidence.Fixed(StaticModelConfidence, m.SampleCount)), nil
}

// Train retrains the static model regardless of key.
func (s *Static) Train(ctx context.Context, _ string) (*TrainedModel, error) {
	m, err := s.inner.Train(ctx, s.key)
	if err != nil {
		return nil, err
	}
	return m.withConfidence(confidence.Fixed(StaticModelConfidence, m.SampleCount)), nil
}

func (s *Static) Reload(ctx context.Context) error {
	if err := s.inner.Reload(ctx); err != nil {
		return err
	}
	_ = s.Load(ctx)
	return nil
}

// List returns only the static model's entry.
func (s *Static) List(ctx context.Context) ([]IndexEntry, error) {
	entries, err := s.inner.List(ctx)
	if err != nil {
		return nil, err
	}
	out := []IndexEntry{}
	for _, e := range entries {
		if e.BeanName == s.key {
			out = append(out, e)
		}
	}
	return out, nil
}
