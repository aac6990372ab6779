// Package handlers contains the HTTP handlers of the Brewcast API. Each
// handler depends on a small locally defined interface and mounts its routes
// through RegisterRoutes.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"brewcast/internal/core"
	"brewcast/internal/predict"
	"brewcast/internal/types"
)

// MaxBatchSize bounds POST /v1/predict/batch.
const MaxBatchSize = 100

// PredictionService is the contract of predict.Service.
type PredictionService interface {
	Predict(ctx context.Context, req types.PredictionRequest, opts predict.Options) (*types.PredictionResult, error)
	PredictBatch(ctx context.Context, reqs []types.PredictionRequest, opts predict.Options) types.BatchPredictionResult
}

// PredictionHandler serves the prediction endpoints.
type PredictionHandler struct {
	service   PredictionService
	validator *core.Validator
	logger    *slog.Logger
}

// NewPredictionHandler creates a PredictionHandler.
func NewPredictionHandler(svc PredictionService, val *core.Validator, logger *slog.Logger) *PredictionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PredictionHandler{service: svc, validator: val, logger: logger}
}

// RegisterRoutes mounts the prediction endpoints under /predict.
func (h *PredictionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/predict", func(r chi.Router) {
		r.Post("/", h.variant(predict.VariantDefault))
		r.Post("/saved", h.variant(predict.VariantSaved))
		r.Post("/dynamic", h.variant(predict.VariantDynamic))
		r.Post("/batch", h.HandleBatch)
	})
}

func (h *PredictionHandler) variant(name string) http.HandlerFunc {
	opts := predict.OptionsFor(name)
	return func(w http.ResponseWriter, r *http.Request) {
		h.handlePredict(w, r, opts)
	}
}

func (h *PredictionHandler) handlePredict(w http.ResponseWriter, r *http.Request, opts predict.Options) {
	var req types.PredictionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.service.Predict(r.Context(), req, opts)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: res})
}

// HandleBatch handles POST /v1/predict/batch. The body is a JSON array of
// prediction requests or {"requests":[...]}. Validation errors reject the
// whole batch; processing failures are reported per item in the 200 response.
func (h *PredictionHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	var req types.BatchPredictionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if len(req.Requests) > MaxBatchSize {
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationBatchSize,
			fmt.Sprintf("batch size exceeds maximum of %d requests", MaxBatchSize),
			nil,
			map[string]any{"max": MaxBatchSize, "got": len(req.Requests)},
		))
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	res := h.service.PredictBatch(r.Context(), req.Requests, predict.OptionsFor(predict.VariantBatch))
	types.LoggerFromContext(r.Context(), h.logger).InfoContext(r.Context(), "batch prediction completed",
		"items", len(req.Requests),
		"succeeded", res.Succeeded,
		"failed", res.Failed,
	)
	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: res,
		Meta: map[string]any{"total": len(req.Requests)},
	})
}
