package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apierrors "emeharness/internal/errors"
	"emeharness/internal/services"
)

// SimulationHandler runs simulated key exchanges.
type SimulationHandler struct {
	service      *services.SimulationService
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewSimulationHandler creates a new simulation handler
func NewSimulationHandler(service *services.SimulationService, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *SimulationHandler {
	return &SimulationHandler{
		service:      service,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "simulation")),
	}
}

// Simulate handles POST /api/simulate. A report whose keys are not all
// usable is still a 200; the report says what failed.
func (h *SimulationHandler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req services.SimulationRequest
	if err := render.DecodeJSON(http.MaxBytesReader(w, r.Body, MaxLicenseRequestBytes), &req); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	report, err := h.service.Run(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, report)
}
