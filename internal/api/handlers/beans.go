package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"brewcast/internal/core"
	"brewcast/internal/types"
)

// BeanStore reads beans and statistics from the backing store.
type BeanStore interface {
	ListBeans(ctx context.Context) ([]types.Bean, error)
	ListUserBeans(ctx context.Context, userID int64) ([]types.Bean, error)
	Stats(ctx context.Context) (types.DatabaseStats, error)
}

// BeanHandler serves bean listings and database statistics.
type BeanHandler struct {
	store  BeanStore
	logger *slog.Logger
}

// NewBeanHandler creates a BeanHandler.
func NewBeanHandler(store BeanStore, logger *slog.Logger) *BeanHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BeanHandler{store: store, logger: logger}
}

// RegisterRoutes mounts /beans, /users/{userID}/beans and /stats.
func (h *BeanHandler) RegisterRoutes(r chi.Router) {
	r.Get("/beans", h.HandleListBeans)
	r.Get("/users/{userID}/beans", h.HandleListUserBeans)
	r.Get("/stats", h.HandleStats)
}

func (h *BeanHandler) HandleListBeans(w http.ResponseWriter, r *http.Request) {
	beans, err := h.store.ListBeans(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: nonNil(beans),
		Meta: map[string]any{"count": len(beans)},
	})
}

func (h *BeanHandler) HandleListUserBeans(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID < 1 {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidField,
			"userID must be a positive integer",
			nil,
		))
		return
	}

	beans, err := h.store.ListUserBeans(r.Context(), userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: nonNil(beans),
		Meta: map[string]any{"count": len(beans), "user_id": userID},
	})
}

func (h *BeanHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: stats})
}

func nonNil(beans []types.Bean) []types.Bean {
	if beans == nil {
		return []types.Bean{}
	}
	return beans
}
