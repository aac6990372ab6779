package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"brewcast/internal/core"
	"brewcast/internal/predict"
	"brewcast/internal/registry"
	"brewcast/internal/types"
)

type mockPredictionService struct{ mock.Mock }

func (m *mockPredictionService) Predict(ctx context.Context, req types.PredictionRequest, opts predict.Options) (*types.PredictionResult, error) {
	args := m.Called(ctx, req, opts)
	res, _ := args.Get(0).(*types.PredictionResult)
	return res, args.Error(1)
}

func (m *mockPredictionService) PredictBatch(ctx context.Context, reqs []types.PredictionRequest, opts predict.Options) types.BatchPredictionResult {
	args := m.Called(ctx, reqs, opts)
	return args.Get(0).(types.BatchPredictionResult)
}

type mockRegistry struct{ mock.Mock }

func (m *mockRegistry) Resolve(ctx context.Context, key string, opts registry.ResolveOptions) (*registry.TrainedModel, error) {
	args := m.Called(ctx, key, opts)
	res, _ := args.Get(0).(*registry.TrainedModel)
	return res, args.Error(1)
}

func (m *mockRegistry) Train(ctx context.Context, key string) (*registry.TrainedModel, error) {
	args := m.Called(ctx, key)
	res, _ := args.Get(0).(*registry.TrainedModel)
	return res, args.Error(1)
}

func (m *mockRegistry) Reload(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockRegistry) List(ctx context.Context) ([]registry.IndexEntry, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).([]registry.IndexEntry)
	return res, args.Error(1)
}

func (m *mockRegistry) Mode() string {
	return m.Called().String(0)
}

type mockBeanStore struct{ mock.Mock }

func (m *mockBeanStore) ListBeans(ctx context.Context) ([]types.Bean, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).([]types.Bean)
	return res, args.Error(1)
}

func (m *mockBeanStore) ListUserBeans(ctx context.Context, userID int64) ([]types.Bean, error) {
	args := m.Called(ctx, userID)
	res, _ := args.Get(0).([]types.Bean)
	return res, args.Error(1)
}

func (m *mockBeanStore) Stats(ctx context.Context) (types.DatabaseStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.DatabaseStats), args.Error(1)
}

type stubWeather struct{ reading types.WeatherReading }

func (s stubWeather) Current(context.Context) types.WeatherReading { return s.reading }

// --- Helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRouter(registrars ...func(chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		for _, reg := range registrars {
			reg(r)
		}
	})
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data  json.RawMessage  `json:"data"`
	Meta  map[string]any   `json:"meta"`
	Error core.ErrorDetail `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}
