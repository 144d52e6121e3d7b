package http

import (
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/gorilla/websocket"

	apierrors "emeharness/internal/errors"
	"emeharness/internal/middleware"
	ws "emeharness/internal/websocket"
)

// WebSocketConfig configures the harness event stream endpoint.
type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	// AllowedOrigins lists the page origins that may connect. Empty allows
	// only the server's own origin.
	AllowedOrigins []string
	Client         ws.ClientConfig
}

// WebSocketHandler upgrades harness pages onto the hub.
type WebSocketHandler struct {
	hub          *ws.Hub
	upgrader     websocket.Upgrader
	clientConfig ws.ClientConfig
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewWebSocketHandler creates a new websocket handler
func NewWebSocketHandler(hub *ws.Hub, cfg WebSocketConfig, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *WebSocketHandler {
	if cfg.Client.PongWait == 0 {
		cfg.Client = ws.DefaultClientConfig()
	}
	h := &WebSocketHandler{
		hub:          hub,
		clientConfig: cfg.Client,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "websocket")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// No origin: a non-browser client
			if origin == "" {
				return true
			}
			if len(cfg.AllowedOrigins) == 0 && sameOrigin(origin, r.Host) {
				return true
			}
			if slices.Contains(cfg.AllowedOrigins, origin) {
				return true
			}
			h.logger.WarnContext(r.Context(), "websocket origin not allowed",
				slog.String("origin", origin),
				slog.Any("allowed_origins", cfg.AllowedOrigins))
			return false
		},
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			h.errorHandler.HandleError(w, r, apierrors.ErrWebSocketUpgrade.
				WithStatus(status).
				WithMessage(reason.Error()))
		},
	}
	return h
}

// ServeHTTP handles GET /ws
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered the request.
		h.logger.DebugContext(ctx, "websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := ws.NewClient(h.hub, ws.WrapConn(conn), h.clientConfig, middleware.GetRequestID(ctx), h.logger)
	h.logger.InfoContext(ctx, "websocket client connected",
		slog.String("client_id", client.ID()),
		slog.String("remote_addr", conn.RemoteAddr().String()))
	client.Serve()
}

func sameOrigin(origin, host string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, host)
}
