package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"brewcast/internal/core"
	"brewcast/internal/registry"
	"brewcast/internal/types"
)

// ModelRegistry is the contract of the model registries.
type ModelRegistry interface {
	Resolve(ctx context.Context, key string, opts registry.ResolveOptions) (*registry.TrainedModel, error)
	Train(ctx context.Context, key string) (*registry.TrainedModel, error)
	Reload(ctx context.Context) error
	List(ctx context.Context) ([]registry.IndexEntry, error)
	Mode() string
}

// ModelHandler serves model management endpoints.
type ModelHandler struct {
	registry ModelRegistry
	logger   *slog.Logger
}

// NewModelHandler creates a ModelHandler.
func NewModelHandler(reg ModelRegistry, logger *slog.Logger) *ModelHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelHandler{registry: reg, logger: logger}
}

// RegisterRoutes mounts the endpoints under /models.
func (h *ModelHandler) RegisterRoutes(r chi.Router) {
	r.Route("/models", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/reload", h.HandleReload)
		r.Get("/{bean}", h.HandleInfo)
		r.Get("/{bean}/confidence", h.HandleConfidence)
		r.Post("/{bean}/train", h.HandleTrain)
	})
}

// HandleList returns the persisted model index.
func (h *ModelHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	entries, err := h.registry.List(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: entries,
		Meta: map[string]any{"mode": h.registry.Mode(), "count": len(entries)},
	})
}

// HandleInfo describes a persisted model without training one.
func (h *ModelHandler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.Resolve(r.Context(), beanParam(r), registry.ResolveOptions{})
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: m.Info()})
}

// HandleConfidence returns the confidence breakdown of a persisted model.
func (h *ModelHandler) HandleConfidence(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.Resolve(r.Context(), beanParam(r), registry.ResolveOptions{})
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]any{
		"key":          m.Key,
		"model_id":     m.ID,
		"sample_count": m.SampleCount,
		"confidence":   m.Confidence,
	}})
}

// HandleTrain trains and persists a model synchronously.
func (h *ModelHandler) HandleTrain(w http.ResponseWriter, r *http.Request) {
	key := beanParam(r)
	m, err := h.registry.Train(r.Context(), key)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	types.LoggerFromContext(r.Context(), h.logger).InfoContext(r.Context(), "model trained via API", "key", m.Key, "model_id", m.ID, "samples", m.SampleCount)
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: m.Info()})
}

// HandleReload drops cached models and re-reads the index.
func (h *ModelHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Reload(r.Context()); err != nil {
		core.Error(w, r, err)
		return
	}
	entries, err := h.registry.List(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]any{
		"reloaded": true,
		"models":   len(entries),
	}})
}

// beanParam returns the decoded {bean} segment; "global" selects the model
// trained on every bean.
func beanParam(r *http.Request) string {
	raw := chi.URLParam(r, "bean")
	if decoded, err := url.PathUnescape(raw); err == nil {
		raw = decoded
	}
	if raw == "" {
		return types.GlobalModelKey
	}
	return raw
}
