package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"brewcast/internal/storage"
	"brewcast/internal/types"
)

// PerBeanOptions configure a PerBean registry.
type PerBeanOptions struct {
	// AllowOnDemandTraining gates training on a cache and store miss.
	AllowOnDemandTraining bool
	// WriteImportancePlot renders a PNG next to each trained model.
	WriteImportancePlot bool
	Observer            Observer
}

// PerBean keeps one model per bean key. Lookups go to the in-memory cache,
// then the index and model blobs, then synchronous training.
//
// Concurrent misses for the same key share one training run. Explicit Train
// calls are not serialized; the last writer wins on the persisted blobs.
type PerBean struct {
	store   storage.BlobStore
	source  ObservationSource
	trainer *Trainer
	logger  *slog.Logger
	opts    PerBeanOptions

	mu          sync.RWMutex
	models      map[string]*TrainedModel
	index       map[string]IndexEntry
	indexLoaded bool

	indexWriteMu sync.Mutex
	inflight     singleflight.Group
}

// NewPerBean builds a PerBean registry. The index is read lazily.
func NewPerBean(store storage.BlobStore, source ObservationSource, trainer *Trainer, logger *slog.Logger, opts PerBeanOptions) *PerBean {
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	return &PerBean{
		store:   store,
		source:  source,
		trainer: trainer,
		logger:  logger,
		opts:    opts,
		models:  make(map[string]*TrainedModel),
	}
}

func (r *PerBean) Mode() string { return ModeBean }

func normalizeKey(key string) string {
	if k := strings.TrimSpace(key); k != "" {
		return k
	}
	return types.GlobalModelKey
}

func (r *PerBean) Resolve(ctx context.Context, key string, opts ResolveOptions) (*TrainedModel, error) {
	key = normalizeKey(key)

	if opts.ForceRetrain {
		return r.Train(ctx, key)
	}

	r.mu.RLock()
	m, ok := r.models[key]
	r.mu.RUnlock()
	if ok {
		r.opts.Observer.ObserveResolve(ModeBean, SourceCache)
		return m, nil
	}

	m, err := r.loadPersisted(ctx, key)
	if err != nil {
		return nil, err
	}
	if m != nil {
		r.opts.Observer.ObserveResolve(ModeBean, SourceStore)
		return m, nil
	}

	if !opts.AllowTrain || !r.opts.AllowOnDemandTraining {
		return nil, types.NewAppError(types.ErrCodeNotFoundModel,
			fmt.Sprintf("no saved model for %q; train it first", key), nil)
	}

	// The run is shared by every waiter on key, so it must not end with the
	// first caller's request.
	trainCtx := context.WithoutCancel(ctx)
	v, err, _ := r.inflight.Do(key, func() (any, error) {
		return r.Train(trainCtx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*TrainedModel), nil
}

// loadPersisted returns the stored model for key, or nil when the index has
// no usable entry.
func (r *PerBean) loadPersisted(ctx context.Context, key string) (*TrainedModel, error) {
	if err := r.ensureIndex(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	entry, ok := r.index[key]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	data, err := r.store.Get(ctx, entry.ModelFile)
	if errors.Is(err, storage.ErrBlobNotFound) {
		r.logger.WarnContext(ctx, "indexed model blob missing", "key", key, "file", entry.ModelFile)
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalModelStorage,
			fmt.Sprintf("failed to read model for %q", key), err)
	}
	m, err := decodeModel(data)
	if err != nil {
		r.logger.WarnContext(ctx, "discarding unreadable model blob", "key", key, "file", entry.ModelFile, "error", err)
		return nil, nil
	}
	if m.Confidence.Source == "" {
		m = m.withConfidence(savedModelConfidence(m.SampleCount))
	}

	r.mu.Lock()
	r.models[key] = m
	r.mu.Unlock()
	r.logger.InfoContext(ctx, "model loaded", "key", key, "model_id", m.ID, "samples", m.SampleCount)
	return m, nil
}

func (r *PerBean) ensureIndex(ctx context.Context) error {
	r.mu.RLock()
	loaded := r.indexLoaded
	r.mu.RUnlock()
	if loaded {
		return nil
	}

	idx, err := readIndex(ctx, r.store)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if !r.indexLoaded {
		r.index = idx
		r.indexLoaded = true
	}
	r.mu.Unlock()
	return nil
}

// Train fetches observations for key, fits a model, persists it and
// replaces the cached entry.
func (r *PerBean) Train(ctx context.Context, key string) (*TrainedModel, error) {
	key = normalizeKey(key)
	start := time.Now()

	m, err := r.train(ctx, key)
	sampleCount := 0
	if m != nil {
		sampleCount = m.SampleCount
	}
	r.opts.Observer.ObserveTraining(ModeBean, time.Since(start), sampleCount, err)
	if err != nil {
		r.logger.WarnContext(ctx, "training failed", "key", key, "error", err)
		return nil, err
	}
	r.opts.Observer.ObserveResolve(ModeBean, SourceTrained)
	r.logger.InfoContext(ctx, "model trained",
		"key", key,
		"model_id", m.ID,
		"samples", m.SampleCount,
		"holdout_r2", m.Evaluation.R2,
		"confidence", m.Confidence.Confidence,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return m, nil
}

func (r *PerBean) train(ctx context.Context, key string) (*TrainedModel, error) {
	obs, err := r.source.ListObservations(ctx, key)
	if err != nil {
		return nil, err
	}
	m, err := r.trainer.Train(key, obs)
	if err != nil {
		return nil, err
	}
	if err := r.persist(ctx, m); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.models[key] = m
	r.mu.Unlock()
	return m, nil
}

func (r *PerBean) persist(ctx context.Context, m *TrainedModel) error {
	data, err := encodeModel(m)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalModelStorage, "failed to encode model", err)
	}
	entry := IndexEntry{
		BeanName:    m.Key,
		ModelID:     m.ID,
		ModelFile:   ModelFile(m.Key),
		SampleCount: m.SampleCount,
		Confidence:  m.Confidence.Confidence,
		LastUpdated: m.TrainedAt,
	}
	if err := r.store.Put(ctx, entry.ModelFile, data, storage.ContentTypeZstdJSON); err != nil {
		return types.NewAppError(types.ErrCodeInternalModelStorage,
			fmt.Sprintf("failed to write model for %q", m.Key), err)
	}

	if r.opts.WriteImportancePlot {
		// The chart is diagnostic; a failure does not fail training.
		if png, err := RenderImportancePlot(m); err != nil {
			r.logger.WarnContext(ctx, "importance plot failed", "key", m.Key, "error", err)
		} else if err := r.store.Put(ctx, ImportancePlotFile(m.Key), png, "image/png"); err != nil {
			r.logger.WarnContext(ctx, "importance plot not saved", "key", m.Key, "error", err)
		} else {
			entry.ImportancePlot = ImportancePlotFile(m.Key)
		}
	}

	if err := r.ensureIndex(ctx); err != nil {
		return err
	}
	r.indexWriteMu.Lock()
	defer r.indexWriteMu.Unlock()

	r.mu.Lock()
	r.index[m.Key] = entry
	snapshot := make(map[string]IndexEntry, len(r.index))
	for k, v := range r.index {
		snapshot[k] = v
	}
	r.mu.Unlock()

	return writeIndex(ctx, r.store, snapshot)
}

// Reload drops every cached model and re-reads the index.
func (r *PerBean) Reload(ctx context.Context) error {
	idx, err := readIndex(ctx, r.store)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.models = make(map[string]*TrainedModel)
	r.index = idx
	r.indexLoaded = true
	r.mu.Unlock()
	r.logger.InfoContext(ctx, "model registry reloaded", "indexed_models", len(idx))
	return nil
}

// List returns the index entries sorted by bean name.
func (r *PerBean) List(ctx context.Context) ([]IndexEntry, error) {
	if err := r.ensureIndex(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedEntries(r.index), nil
}

// Cached reports whether key is held in memory.
func (r *PerBean) Cached(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.models[normalizeKey(key)]
	return ok
}
