package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	apierrors "emeharness/internal/errors"
	"emeharness/internal/mediasource"
	"emeharness/internal/middleware"
	"emeharness/internal/services"
)

var contentValues = []string{
	string(mediasource.FullEncryption),
	string(mediasource.SubsampleEncryption),
	string(mediasource.Clear),
	string(mediasource.None),
}

// MediaHandler serves media selections and the media files themselves.
type MediaHandler struct {
	service      *services.MediaService
	query        *middleware.QueryParamValidator
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewMediaHandler creates a new media handler
func NewMediaHandler(service *services.MediaService, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *MediaHandler {
	return &MediaHandler{
		service:      service,
		query:        middleware.NewQueryParamValidator(logger, errorHandler),
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "media")),
	}
}

// Selection handles GET /api/media/selection?audio=&video=
func (h *MediaHandler) Selection(w http.ResponseWriter, r *http.Request) {
	audio, ok := h.query.ValidateEnum(w, r, "audio", contentValues, string(mediasource.None))
	if !ok {
		return
	}
	video, ok := h.query.ValidateEnum(w, r, "video", contentValues, string(mediasource.None))
	if !ok {
		return
	}

	resp, err := h.service.Select(r.Context(), audio, video)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

// Files returns a handler serving the media directory under prefix.
// http.ServeContent answers Range requests, which the segment loader relies
// on. Directory listings are not served.
func (h *MediaHandler) Files(prefix string) http.Handler {
	fs := http.StripPrefix(prefix, http.FileServer(http.Dir(h.service.Dir())))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			h.errorHandler.HandleError(w, r, apierrors.NotFoundError("media file"))
			return
		}
		w.Header().Set("Accept-Ranges", "bytes")
		fs.ServeHTTP(w, r)
	})
}
