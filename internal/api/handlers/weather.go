package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"brewcast/internal/core"
	"brewcast/internal/types"
)

// WeatherReader returns current conditions. It never fails; an unavailable
// upstream yields the fallback reading.
type WeatherReader interface {
	Current(ctx context.Context) types.WeatherReading
}

// WeatherHandler serves GET /v1/weather/current.
type WeatherHandler struct {
	reader WeatherReader
}

func NewWeatherHandler(reader WeatherReader) *WeatherHandler {
	return &WeatherHandler{reader: reader}
}

func (h *WeatherHandler) RegisterRoutes(r chi.Router) {
	r.Get("/weather/current", h.HandleCurrent)
}

func (h *WeatherHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	reading := h.reader.Current(r.Context())
	w.Header().Set("Cache-Control", "public, max-age=300")
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: reading})
}
