package http

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "emeharness/internal/errors"
	"emeharness/internal/middleware"
	"emeharness/internal/services"
)

// MaxLicenseRequestBytes bounds the license request body. A clearkey request
// names a handful of 22 character key ids.
const MaxLicenseRequestBytes = 64 << 10

// LicenseHandler serves clearkey licenses.
type LicenseHandler struct {
	service      *services.LicenseService
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service *services.LicenseService, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service:      service,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "license")),
	}
}

// Routes returns the clearkey routes.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.With(middleware.ContentTypeValidator(h.errorHandler,
		"application/json", "application/octet-stream", "text/plain")).
		Post("/license", h.License)
	r.Get("/keys", h.Keys)
	return r
}

// License handles POST /api/clearkey/license. The body is the message of a
// key session and the response is handed to the session's update.
func (h *LicenseHandler) License(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxLicenseRequestBytes))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	license, err := h.service.Respond(r.Context(), payload)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(license); err != nil {
		h.logger.DebugContext(r.Context(), "failed to write license", slog.String("error", err.Error()))
	}
}

// Keys handles GET /api/clearkey/keys
func (h *LicenseHandler) Keys(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Keys(r.Context()))
}
