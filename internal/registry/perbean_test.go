package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brewcast/internal/confidence"
	"brewcast/internal/storage"
	"brewcast/internal/types"
)

func newTestPerBean(store storage.BlobStore, src ObservationSource, obs Observer) *PerBean {
	return NewPerBean(store, src, testTrainer(), discardLogger(), PerBeanOptions{
		AllowOnDemandTraining: true,
		WriteImportancePlot:   true,
		Observer:              obs,
	})
}

func TestPerBean_TrainsOnMissAndPersists(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	src := newFakeSource()
	src.add(brewObs("Ethiopia Yirgacheffe", "Ethiopia", 15)...)
	obs := newRecordingObserver()
	reg := newTestPerBean(store, src, obs)

	m, err := reg.Resolve(ctx, "Ethiopia Yirgacheffe", ResolveOptions{AllowTrain: true})
	require.NoError(t, err)
	assert.Equal(t, 15, m.SampleCount)

	assert.ElementsMatch(t, []string{
		IndexKey,
		"random_forest_Ethiopia_Yirgacheffe.json.zst",
		"feature_importance_Ethiopia_Yirgacheffe.png",
	}, store.Keys())

	entries, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Ethiopia Yirgacheffe", entries[0].BeanName)
	assert.Equal(t, m.ID, entries[0].ModelID)
	assert.Equal(t, 15, entries[0].SampleCount)
	assert.Equal(t, "feature_importance_Ethiopia_Yirgacheffe.png", entries[0].ImportancePlot)

	again, err := reg.Resolve(ctx, "Ethiopia Yirgacheffe", ResolveOptions{AllowTrain: true})
	require.NoError(t, err)
	assert.Same(t, m, again)
	assert.Equal(t, 1, src.callCount("Ethiopia Yirgacheffe"))
	assert.Equal(t, 1, obs.trainings)
	assert.Equal(t, 1, obs.resolves[SourceCache])
}

func TestPerBean_ReloadedModelPredictsIdentically(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	src := newFakeSource()
	src.add(brewObs("Kenya AA", "Kenya", 20)...)

	trained, err := newTestPerBean(store, src, nil).Resolve(ctx, "Kenya AA", ResolveOptions{AllowTrain: true})
	require.NoError(t, err)

	fresh := newTestPerBean(store, src, nil)
	loaded, err := fresh.Resolve(ctx, "Kenya AA", ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, src.callCount("Kenya AA"), "loading must not retrain")
	assert.Equal(t, trained.ID, loaded.ID)
	assert.Equal(t, trained.Schema.FeatureNames, loaded.Schema.FeatureNames)
	assert.Equal(t, trained.Confidence, loaded.Confidence)

	for _, x := range trained.TrainX {
		want, err := trained.Predict(x)
		require.NoError(t, err)
		got, err := loaded.Predict(x)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestPerBean_SavedOnlyWithoutModel(t *testing.T) {
	src := newFakeSource()
	src.add(brewObs("Kenya AA", "Kenya", 20)...)
	reg := newTestPerBean(storage.NewMemoryStore(), src, nil)

	_, err := reg.Resolve(context.Background(), "Kenya AA", ResolveOptions{AllowTrain: false})
	assert.Equal(t, types.ErrCodeNotFoundModel, types.CodeOf(err))
	assert.Zero(t, src.callCount("Kenya AA"))
}

func TestPerBean_OnDemandTrainingDisabled(t *testing.T) {
	src := newFakeSource()
	src.add(brewObs("Kenya AA", "Kenya", 20)...)
	reg := NewPerBean(storage.NewMemoryStore(), src, testTrainer(), discardLogger(), PerBeanOptions{})

	_, err := reg.Resolve(context.Background(), "Kenya AA", ResolveOptions{AllowTrain: true})
	assert.Equal(t, types.ErrCodeNotFoundModel, types.CodeOf(err))

	m, err := reg.Train(context.Background(), "Kenya AA")
	require.NoError(t, err)
	assert.Equal(t, 20, m.SampleCount)
}

func TestPerBean_UnknownAndSparseBeans(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.add(brewObs("Sparse", "Brazil", 9)...)
	reg := newTestPerBean(storage.NewMemoryStore(), src, nil)

	_, err := reg.Resolve(ctx, "Nowhere", ResolveOptions{AllowTrain: true})
	assert.Equal(t, types.ErrCodeNotFoundBean, types.CodeOf(err))

	_, err = reg.Resolve(ctx, "Sparse", ResolveOptions{AllowTrain: true})
	assert.Equal(t, types.ErrCodeValidationInsufficientData, types.CodeOf(err))
}

func TestPerBean_SourceErrorPropagates(t *testing.T) {
	src := newFakeSource()
	src.err = types.NewAppError(types.ErrCodeInternalDB, "failed to list observations", errors.New("connection refused"))
	obs := newRecordingObserver()
	reg := newTestPerBean(storage.NewMemoryStore(), src, obs)

	_, err := reg.Resolve(context.Background(), "Kenya AA", ResolveOptions{AllowTrain: true})
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
	assert.Equal(t, 1, obs.failures)
}

func TestPerBean_EmptyKeyIsGlobal(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.add(brewObs("Kenya AA", "Kenya", 8)...)
	src.add(brewObs("Sidamo", "Ethiopia", 8)...)
	reg := newTestPerBean(storage.NewMemoryStore(), src, nil)

	m, err := reg.Resolve(ctx, "  ", ResolveOptions{AllowTrain: true})
	require.NoError(t, err)
	assert.Equal(t, types.GlobalModelKey, m.Key)
	assert.Equal(t, 16, m.SampleCount)
	assert.Contains(t, m.Schema.FeatureNames, "origin_Ethiopia")
	assert.Contains(t, m.Schema.FeatureNames, "origin_Kenya")
}

func TestPerBean_ForceRetrain(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	src.add(brewObs("Kenya AA", "Kenya", 12)...)
	reg := newTestPerBean(storage.NewMemoryStore(), src, nil)

	first, err := reg.Resolve(ctx, "Kenya AA", ResolveOptions{AllowTrain: true})
	require.NoError(t, err)

	src.add(brewObs("Kenya AA", "Kenya", 3)...)
	second, err := reg.Resolve(ctx, "Kenya AA", ResolveOptions{ForceRetrain: true})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 15, second.SampleCount)

	cached, err := reg.Resolve(ctx, "Kenya AA", ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, second.ID, cached.ID)
}

func TestPerBean_ReloadDropsCache(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	src := newFakeSource()
	src.add(brewObs("Kenya AA", "Kenya", 12)...)
	reg := newTestPerBean(store, src, nil)

	_, err := reg.Train(ctx, "Kenya AA")
	require.NoError(t, err)
	assert.True(t, reg.Cached("Kenya AA"))

	require.NoError(t, reg.Reload(ctx))
	assert.False(t, reg.Cached("Kenya AA"))

	_, err = reg.Resolve(ctx, "Kenya AA", ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, src.callCount("Kenya AA"))
}

func TestPerBean_CorruptBlobTreatedAsMissing(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, writeIndex(ctx, store, map[string]IndexEntry{
		"Kenya AA": {BeanName: "Kenya AA", ModelFile: ModelFile("Kenya AA")},
	}))
	require.NoError(t, store.Put(ctx, ModelFile("Kenya AA"), []byte("not a model"), ""))

	reg := newTestPerBean(store, newFakeSource(), nil)
	_, err := reg.Resolve(ctx, "Kenya AA", ResolveOptions{})
	assert.Equal(t, types.ErrCodeNotFoundModel, types.CodeOf(err))
}

func TestPerBean_IndexKeepsOtherBeans(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	src := newFakeSource()
	src.add(brewObs("Kenya AA", "Kenya", 12)...)
	src.add(brewObs("Sidamo", "Ethiopia", 12)...)

	_, err := newTestPerBean(store, src, nil).Train(ctx, "Kenya AA")
	require.NoError(t, err)
	_, err = newTestPerBean(store, src, nil).Train(ctx, "Sidamo")
	require.NoError(t, err)

	idx, err := readIndex(ctx, store)
	require.NoError(t, err)
	assert.Len(t, idx, 2)
}

func TestPerBean_ConcurrentResolve(t *testing.T) {
	ctx := context.Background()
	src := newFakeSource()
	beans := []string{"Kenya AA", "Sidamo", "Santos"}
	for _, b := range beans {
		src.add(brewObs(b, b, 12)...)
	}
	reg := newTestPerBean(storage.NewMemoryStore(), src, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 12)
	for i := range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Resolve(ctx, beans[i%len(beans)], ResolveOptions{AllowTrain: true})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	entries, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestPerBean_SharedTrainingOutlivesCancelledCaller(t *testing.T) {
	src := newGatedSource()
	src.add(brewObs("Kenya AA", "Kenya", 12)...)
	reg := newTestPerBean(storage.NewMemoryStore(), src, nil)

	firstCtx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := reg.Resolve(firstCtx, "Kenya AA", ResolveOptions{AllowTrain: true})
		first <- err
	}()
	<-src.entered

	second := make(chan error, 1)
	go func() {
		_, err := reg.Resolve(context.Background(), "Kenya AA", ResolveOptions{AllowTrain: true})
		second <- err
	}()

	cancel()
	close(src.release)

	assert.NoError(t, <-first)
	assert.NoError(t, <-second)
}

func TestStatic_ServesOneModel(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	src := newFakeSource()
	src.add(brewObs("Kenya AA", "Kenya", 10)...)
	src.add(brewObs("Sidamo", "Ethiopia", 10)...)

	inner := newTestPerBean(store, src, nil)
	static := NewStatic(inner, "", discardLogger())
	assert.Equal(t, ModeStatic, static.Mode())
	assert.Equal(t, types.GlobalModelKey, static.Key())

	assert.Error(t, static.Load(ctx), "nothing trained yet")

	trained, err := static.Train(ctx, "ignored")
	require.NoError(t, err)
	assert.Equal(t, StaticModelConfidence, trained.Confidence.Confidence)

	a, err := static.Resolve(ctx, "Kenya AA", ResolveOptions{})
	require.NoError(t, err)
	b, err := static.Resolve(ctx, "Anything", ResolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, types.GlobalModelKey, a.Key)
	assert.Equal(t, StaticModelConfidence, a.Confidence.Confidence)

	entries, err := static.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.GlobalModelKey, entries[0].BeanName)

	require.NoError(t, static.Reload(ctx))
	assert.True(t, inner.Cached(types.GlobalModelKey))
}

func TestSavedModelWithoutBreakdownGetsFlatConfidence(t *testing.T) {
	ctx := context.Background()
	m, err := testTrainer().Train("Kenya AA", brewObs("Kenya AA", "Kenya", 12))
	require.NoError(t, err)

	legacy := *m
	legacy.Confidence = confidence.Breakdown{}
	legacy.TrainX, legacy.TrainY = nil, nil

	store := storage.NewMemoryStore()
	data, err := encodeModel(&legacy)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, ModelFile("Kenya AA"), data, ""))
	require.NoError(t, writeIndex(ctx, store, map[string]IndexEntry{
		"Kenya AA": {ModelFile: ModelFile("Kenya AA")},
	}))

	loaded, err := newTestPerBean(store, newFakeSource(), nil).Resolve(ctx, "Kenya AA", ResolveOptions{})
	require.NoError(t, err)
	assert.False(t, loaded.HasTrainingArrays())
	assert.Equal(t, SavedModelConfidence, loaded.Confidence.Confidence)
}
