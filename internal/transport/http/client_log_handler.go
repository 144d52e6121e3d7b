package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "emeharness/internal/errors"
)

// LogBroadcaster relays log lines to connected harness pages.
type LogBroadcaster interface {
	BroadcastLog(ctx context.Context, level, text string)
}

// ClientLogHandler records the log lines the harness page shows, so a run
// can be followed from the server log and from other connected pages.
type ClientLogHandler struct {
	broadcaster  LogBroadcaster
	errorHandler *apierrors.ErrorHandler
	validate     *validator.Validate
	logger       *slog.Logger
}

// NewClientLogHandler creates a new client log handler. broadcaster may be nil.
func NewClientLogHandler(broadcaster LogBroadcaster, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *ClientLogHandler {
	return &ClientLogHandler{
		broadcaster:  broadcaster,
		errorHandler: errorHandler,
		validate:     validator.New(),
		logger:       logger.With(slog.String("handler", "client_log")),
	}
}

// LogRequest represents a client log entry
type LogRequest struct {
	Level   string                 `json:"level" validate:"omitempty,oneof=debug info warn error"`
	Message string                 `json:"message" validate:"required,max=4096"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Source  string                 `json:"source,omitempty"`
}

// Handle processes POST /api/client-log
func (h *ClientLogHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var req LogRequest
	if err := render.DecodeJSON(http.MaxBytesReader(w, r.Body, MaxLicenseRequestBytes), &req); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidationFailed.
			WithMessage("Invalid log entry").
			WithDetails(err.Error()))
		return
	}

	var level slog.Level
	switch req.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		req.Level = "info"
		level = slog.LevelInfo
	}

	attrs := []slog.Attr{slog.String("client_source", req.Source)}
	if req.Data != nil {
		attrs = append(attrs, slog.Any("data", req.Data))
	}
	h.logger.LogAttrs(r.Context(), level, req.Message, attrs...)

	if h.broadcaster != nil {
		hubLevel := req.Level
		if hubLevel == "warn" {
			hubLevel = "warning"
		}
		h.broadcaster.BroadcastLog(r.Context(), hubLevel, req.Message)
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]interface{}{"success": true})
}
