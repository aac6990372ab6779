package registry

import (
	"fmt"
	"time"

	"brewcast/internal/confidence"
	"brewcast/internal/features"
	"brewcast/internal/forest"
	"brewcast/internal/storage"
	"brewcast/internal/types"
)

// modelFormatVersion is bumped whenever the persisted layout changes.
const modelFormatVersion = 1

// ModelType is reported by the model info endpoint.
const ModelType = "RandomForestRegressor"

// TargetMetrics are holdout errors for one output.
type TargetMetrics struct {
	MSE float64 `json:"mse"`
	MAE float64 `json:"mae"`
	R2  float64 `json:"r2"`
}

// Evaluation summarizes the holdout split of a training run.
type Evaluation struct {
	TrainSize int                      `json:"train_size"`
	TestSize  int                      `json:"test_size"`
	R2        float64                  `json:"r2"`
	Targets   map[string]TargetMetrics `json:"targets,omitempty"`
	OOBScore  *float64                 `json:"oob_score,omitempty"`
}

// TrainedModel is a fitted forest with the schema it was trained on. It is
// never mutated after creation; retraining produces a new value.
type TrainedModel struct {
	FormatVersion int                  `json:"format_version"`
	ID            string               `json:"model_id"`
	Key           string               `json:"key"`
	TrainedAt     time.Time            `json:"trained_at"`
	SampleCount   int                  `json:"sample_count"`
	Schema        features.Schema      `json:"schema"`
	Forest        *forest.Forest       `json:"forest"`
	Evaluation    Evaluation           `json:"evaluation"`
	Confidence    confidence.Breakdown `json:"confidence"`

	// Training arrays kept for variance estimation. Older blobs omit them.
	TrainX [][]float64 `json:"train_x,omitempty"`
	TrainY [][]float64 `json:"train_y,omitempty"`
}

// HasTrainingArrays reports whether the model retained its training data.
func (m *TrainedModel) HasTrainingArrays() bool {
	return len(m.TrainX) > 0 && len(m.TrainX) == len(m.TrainY)
}

// Predict runs the forest on an already encoded vector.
func (m *TrainedModel) Predict(x features.Vector) ([]float64, error) {
	if len(x) != m.Schema.Len() {
		return nil, types.NewAppError(types.ErrCodeInternalSchemaMismatch,
			fmt.Sprintf("vector has %d columns, model %s expects %d", len(x), m.Key, m.Schema.Len()), nil)
	}
	return m.Forest.Predict(x)
}

// withConfidence returns a shallow copy carrying b.
func (m *TrainedModel) withConfidence(b confidence.Breakdown) *TrainedModel {
	cp := *m
	cp.Confidence = b
	return &cp
}

func (m *TrainedModel) validate() error {
	if m.FormatVersion != modelFormatVersion {
		return fmt.Errorf("unsupported model format version %d", m.FormatVersion)
	}
	if m.Forest == nil || len(m.Forest.Trees) == 0 {
		return fmt.Errorf("model %s has no trees", m.Key)
	}
	if m.Forest.NFeatures != m.Schema.Len() {
		return types.NewAppError(types.ErrCodeInternalSchemaMismatch,
			fmt.Sprintf("model %s: forest has %d features, schema has %d", m.Key, m.Forest.NFeatures, m.Schema.Len()), nil)
	}
	return nil
}

func encodeModel(m *TrainedModel) ([]byte, error) {
	return storage.EncodeJSON(m)
}

func decodeModel(data []byte) (*TrainedModel, error) {
	var m TrainedModel
	if err := storage.DecodeJSON(data, &m); err != nil {
		return nil, err
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ModelInfo describes a model for API responses.
type ModelInfo struct {
	ModelID            string               `json:"model_id"`
	Key                string               `json:"key"`
	ModelType          string               `json:"model_type"`
	NEstimators        int                  `json:"n_estimators"`
	FeatureNames       []string             `json:"feature_names"`
	TargetNames        []string             `json:"target_names"`
	CategoricalColumns []string             `json:"categorical_columns"`
	NumericalColumns   []string             `json:"numerical_columns"`
	DataSource         string               `json:"data_source,omitempty"`
	SampleCount        int                  `json:"sample_count"`
	TrainingDate       time.Time            `json:"training_date"`
	Evaluation         Evaluation           `json:"evaluation"`
	FeatureImportances map[string]float64   `json:"feature_importances,omitempty"`
	Confidence         confidence.Breakdown `json:"confidence"`
}

// Info summarizes m.
func (m *TrainedModel) Info() ModelInfo {
	info := ModelInfo{
		ModelID:            m.ID,
		Key:                m.Key,
		ModelType:          ModelType,
		NEstimators:        len(m.Forest.Trees),
		FeatureNames:       m.Schema.FeatureNames,
		TargetNames:        m.Schema.TargetNames,
		CategoricalColumns: m.Schema.CategoricalColumns,
		NumericalColumns:   m.Schema.NumericalColumns,
		DataSource:         m.Schema.DataSource,
		SampleCount:        m.SampleCount,
		TrainingDate:       m.TrainedAt,
		Evaluation:         m.Evaluation,
		Confidence:         m.Confidence,
	}
	if imp := m.Forest.FeatureImportances(); len(imp) == m.Schema.Len() {
		info.FeatureImportances = make(map[string]float64, len(imp))
		for i, name := range m.Schema.FeatureNames {
			info.FeatureImportances[name] = imp[i]
		}
	}
	return info
}
