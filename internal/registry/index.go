package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"brewcast/internal/storage"
	"brewcast/internal/types"
)

// IndexKey is the blob holding the bean → model mapping.
const IndexKey = "bean_models_info.json"

// IndexEntry locates the persisted artifacts of one bean's model.
type IndexEntry struct {
	BeanName       string    `json:"bean_name"`
	ModelID        string    `json:"model_id"`
	ModelFile      string    `json:"model_file"`
	ImportancePlot string    `json:"feature_importance_file,omitempty"`
	SampleCount    int       `json:"sample_count"`
	Confidence     float64   `json:"confidence"`
	LastUpdated    time.Time `json:"last_updated"`
}

// ModelFile returns the blob key of the model for bean.
func ModelFile(bean string) string {
	return "random_forest_" + storage.SafeName(bean) + ".json.zst"
}

// ImportancePlotFile returns the blob key of the importance chart for bean.
func ImportancePlotFile(bean string) string {
	return "feature_importance_" + storage.SafeName(bean) + ".png"
}

func readIndex(ctx context.Context, store storage.BlobStore) (map[string]IndexEntry, error) {
	data, err := store.Get(ctx, IndexKey)
	if errors.Is(err, storage.ErrBlobNotFound) {
		return map[string]IndexEntry{}, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalModelStorage, "failed to read model index", err)
	}
	idx := map[string]IndexEntry{}
	if err := storage.DecodeJSON(data, &idx); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalModelStorage, "model index is corrupt", err)
	}
	for name, e := range idx {
		if e.BeanName == "" {
			e.BeanName = name
			idx[name] = e
		}
	}
	return idx, nil
}

// writeIndex stores the index as indented JSON so it stays human readable.
func writeIndex(ctx context.Context, store storage.BlobStore, idx map[string]IndexEntry) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal model index: %w", err)
	}
	if err := store.Put(ctx, IndexKey, data, "application/json"); err != nil {
		return types.NewAppError(types.ErrCodeInternalModelStorage, "failed to write model index", err)
	}
	return nil
}

func sortedEntries(idx map[string]IndexEntry) []IndexEntry {
	out := make([]IndexEntry, 0, len(idx))
	for _, name := range slices.Sorted(maps.Keys(idx)) {
		out = append(out, idx[name])
	}
	return out
}
