package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/skydish/api/internal/platform/httpx"
	"github.com/skydish/api/internal/services"
)

type sweepResponse struct {
	Sweep   string `json:"sweep"`
	Matched int    `json:"matched"`
	Applied int    `json:"applied"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
}

// SweepHandlers lets a scheduler trigger reconciliation sweeps over HTTP.
// Authentication is applied by the /internal group middleware.
type SweepHandlers struct {
	sweeper services.ReconciliationSweeper
}

// NewSweepHandlers constructs sweep trigger handlers.
func NewSweepHandlers(sweeper services.ReconciliationSweeper) *SweepHandlers {
	return &SweepHandlers{sweeper: sweeper}
}

// Routes registers the /internal/sweeps endpoints.
func (h *SweepHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/sweeps/unpaid", h.run("unpaid", services.ReconciliationSweeper.SweepUnpaid))
	r.Post("/sweeps/deliveries", h.run("deliveries", services.ReconciliationSweeper.SweepStuckDeliveries))
}

type sweepFunc func(services.ReconciliationSweeper, context.Context) (services.SweepResult, error)

func (h *SweepHandlers) run(name string, sweep sweepFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.sweeper == nil {
			writeServiceUnavailable(ctx, w, "sweeper")
			return
		}
		result, err := sweep(h.sweeper, ctx)
		if err != nil {
			writeOrderError(ctx, w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, sweepResponse{
			Sweep:   name,
			Matched: result.Matched,
			Applied: result.Applied,
			Skipped: result.Skipped,
			Failed:  result.Failed,
		})
	}
}
