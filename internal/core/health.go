package core

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// healthCheckTimeout bounds all probes together.
const healthCheckTimeout = 2 * time.Second

// HealthProbe checks one dependency (database, model store, cache).
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthProbeFunc adapts a function to HealthProbe.
type HealthProbeFunc struct {
	ProbeName string
	Fn        func(ctx context.Context) error
}

func (p HealthProbeFunc) Name() string                    { return p.ProbeName }
func (p HealthProbeFunc) Check(ctx context.Context) error { return p.Fn(ctx) }

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth runs every probe concurrently under a shared deadline.
// It returns 200 when all report healthy and 503 otherwise. A probe that
// has not returned by the deadline is reported as timed out.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	probes := s.HealthProbes
	if len(probes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	// Each goroutine writes only its own slot; results are read after
	// done is closed, or not at all for slots still pending.
	results := make([]error, len(probes))
	finished := make([]chan struct{}, len(probes))

	var g errgroup.Group
	for i, probe := range probes {
		finished[i] = make(chan struct{})
		g.Go(func() error {
			defer close(finished[i])
			defer func() {
				if rvr := recover(); rvr != nil {
					results[i] = fmt.Errorf("probe panicked: %v", rvr)
				}
			}()
			results[i] = probe.Check(ctx)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	resp := healthResponse{Status: "healthy", Components: make(map[string]componentStatus, len(probes))}
	for i, probe := range probes {
		status := componentStatus{Status: "healthy"}
		select {
		case <-finished[i]:
			if results[i] != nil {
				status = componentStatus{Status: "unhealthy", Message: results[i].Error()}
			}
		default:
			status = componentStatus{Status: "unhealthy", Message: "health check timed out"}
		}
		if status.Status != "healthy" {
			resp.Status = "unhealthy"
		}
		resp.Components[probe.Name()] = status
	}

	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	JSON(w, r, code, resp)
}
