package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"emeharness/internal/clearkey"
	"emeharness/internal/config"
	apierrors "emeharness/internal/errors"
	"emeharness/internal/infrastructure"
	"emeharness/internal/keytable"
	"emeharness/internal/mediasource"
	customMiddleware "emeharness/internal/middleware"
	"emeharness/internal/services"
	handlers "emeharness/internal/transport/http"
	ws "emeharness/internal/websocket"
)

var (
	// Version is set at build time with -ldflags.
	Version = config.AppVersion
	// BuildTime is set at build time with -ldflags.
	BuildTime = ""
)

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.BusinessMetrics
	ErrorHandler  *apierrors.ErrorHandler
	WebSocketHub  *ws.Hub
	Services      *ServiceContainer

	mu       sync.Mutex
	listener net.Listener
}

// ServiceContainer holds all application services
type ServiceContainer struct {
	Keys       *keytable.Table
	License    *services.LicenseService
	Media      *services.MediaService
	Simulation *services.SimulationService
	Health     *services.HealthService
}

// NewApplication wires every component from cfg. A nil cfg is loaded from
// the default config file locations and the environment.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		loaded, err := config.Load("")
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("Application starting",
		slog.String("name", config.AppName),
		slog.String("version", Version))

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.OTelConfigFrom(cfg.Telemetry), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	metrics, err := infrastructure.CreateBusinessMetrics(otelProviders.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create business metrics: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
		Metrics:       metrics,
		ErrorHandler:  apierrors.NewErrorHandler(logger, cfg.Logging.Level == "debug"),
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices initializes all application services
func (a *Application) initializeServices() error {
	keys, err := keytable.Load(a.Config.Keys.File)
	if err != nil {
		return apierrors.NewConfigError("failed to load key table", err).
			WithContext("path", a.Config.Keys.File)
	}
	policy, err := clearkey.ParsePolicy(a.Config.Keys.UnknownKeyPolicy)
	if err != nil {
		return err
	}
	a.Logger.Info("Key table loaded",
		slog.Int("entries", keys.Len()),
		slog.String("file", a.Config.Keys.File),
		slog.String("unknown_key_policy", string(policy)))

	a.WebSocketHub = ws.NewHub(a.Logger, a.Metrics)

	responder := clearkey.NewResponder(keys, clearkey.WithPolicy(policy), clearkey.WithLogger(a.Logger))
	license := services.NewLicenseService(responder, keys, a.Metrics, a.WebSocketHub, a.Logger)
	media := services.NewMediaService(a.Config.Media.Dir, a.Logger)
	simulation := services.NewSimulationService(license, keys, a.Logger,
		services.WithEventNotifier(a.WebSocketHub),
		services.WithProgressBroadcaster(a.WebSocketHub),
		services.WithSimulationMetrics(a.Metrics),
		services.WithLoaderOptions(mediasource.WithChunkSize(a.Config.Media.ChunkSize)))
	health := services.NewHealthService(services.BuildInfo{
		Name:      config.ServiceName,
		Version:   Version,
		BuildTime: BuildTime,
	}, license, a.WebSocketHub, media, a.Logger)

	a.Services = &ServiceContainer{
		Keys:       keys,
		License:    license,
		Media:      media,
		Simulation: simulation,
		Health:     health,
	}
	return nil
}

func (a *Application) setupRouter() {
	r := chi.NewRouter()
	eh := a.ErrorHandler

	// Only middleware that leaves the ResponseWriter alone runs in front of
	// the websocket upgrade.
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)
	// CORS answers preflights before routing, where OPTIONS has no route.
	if a.Config.Security.EnableCORS {
		r.Use(customMiddleware.CORS(a.getCORSConfig()))
	}
	r.NotFound(eh.NotFound)
	r.MethodNotAllowed(eh.MethodNotAllowed)

	wsHandler := handlers.NewWebSocketHandler(a.WebSocketHub, handlers.WebSocketConfig{
		ReadBufferSize:  a.Config.WebSocket.ReadBufferSize,
		WriteBufferSize: a.Config.WebSocket.WriteBufferSize,
		AllowedOrigins:  a.allowedOrigins(),
		Client: ws.ClientConfig{
			WriteWait:      10 * time.Second,
			PongWait:       a.Config.WebSocket.PongWait,
			PingPeriod:     a.Config.WebSocket.PingPeriod,
			MaxMessageSize: 512,
			SendBuffer:     256,
		},
	}, eh, a.Logger)
	r.With(customMiddleware.WebSocketTraceMiddleware(a.Logger)).Handle("/ws", wsHandler)

	// Prometheus scrapes stay outside the traced group
	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	mediaHandler := handlers.NewMediaHandler(a.Services.Media, eh, a.Logger)

	r.Group(func(r chi.Router) {
		// RequestID → RealIP → CORS → OTel → Logger → Recoverer → headers → rate limit
		r.Use(customMiddleware.NewOTelMiddleware(a.OTelProviders, a.Metrics).Handler)
		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(apierrors.RecoveryMiddleware(eh))
		r.Use(customMiddleware.DefaultSecureHeaders().Handler)
		if a.Config.Security.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				eh,
				a.Logger,
			).Handler)
		}

		// Media is not compressed and not bound by the API timeout.
		r.Handle("/media/*", mediaHandler.Files("/media/"))

		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.Timeout(a.Config.Server.RequestTimeout, a.Logger))
			r.Use(customMiddleware.Compress(5))
			a.setupAPIRoutes(r, mediaHandler)
		})
	})

	a.Router = r
}

// setupAPIRoutes configures API endpoints
func (a *Application) setupAPIRoutes(r chi.Router, mediaHandler *handlers.MediaHandler) {
	eh := a.ErrorHandler
	licenseHandler := handlers.NewLicenseHandler(a.Services.License, eh, a.Logger)
	simulationHandler := handlers.NewSimulationHandler(a.Services.Simulation, eh, a.Logger)
	clientLogHandler := handlers.NewClientLogHandler(a.WebSocketHub, eh, a.Logger)
	healthHandler := handlers.NewHealthHandler(a.Services.Health, a.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Mount("/clearkey", licenseHandler.Routes())
		r.Get("/media/selection", mediaHandler.Selection)
		r.With(customMiddleware.ContentTypeValidator(eh, "application/json")).
			Post("/simulate", simulationHandler.Simulate)
		r.With(customMiddleware.ContentTypeValidator(eh, "application/json")).
			Post("/client-log", clientLogHandler.Handle)

		r.Get("/health", healthHandler.HealthCheck)
		r.Get("/health/live", healthHandler.LivenessCheck)
		r.Get("/version", healthHandler.Version)
	})
}

func (a *Application) allowedOrigins() []string {
	if !a.Config.Security.EnableCORS {
		return nil
	}
	return a.Config.Security.AllowedOrigins
}

func (a *Application) getCORSConfig() customMiddleware.CORSConfig {
	return customMiddleware.CORSConfig{
		AllowedOrigins: a.Config.Security.AllowedOrigins,
		MaxAge:         300,
		Logger:         a.Logger,
	}
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           a.Config.Server.Address(),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(a.Logger.Handler(), slog.LevelWarn),
	}
}

// Start binds the listener and serves in the background. A serve failure
// calls cancel.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	a.mu.Lock()
	a.listener = ln
	a.mu.Unlock()

	a.WebSocketHub.Start()

	go func() {
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.performStartupHealthCheck(ctx)
	a.Logger.InfoContext(ctx, "Application started successfully",
		slog.String("address", "http://"+ln.Addr().String()),
		slog.String("media_dir", a.Config.Media.Dir))
	return nil
}

// Addr returns the bound listen address, or the configured one before Start.
func (a *Application) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return a.Server.Addr
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	// Hijacked websocket connections are not tracked by Shutdown.
	a.WebSocketHub.Stop()

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return nil
}

// Run serves until ctx is done, SIGINT or SIGTERM arrives, or the server
// fails, then shuts down.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	<-ctx.Done()
	a.Logger.InfoContext(ctx, "Received shutdown signal")

	return a.Stop(context.WithoutCancel(ctx))
}

// performStartupHealthCheck logs what would make the harness page fail.
func (a *Application) performStartupHealthCheck(ctx context.Context) {
	status := a.Services.Health.HealthCheck(ctx)
	for name, svc := range status.Services {
		if svc.Status != services.StatusReady {
			a.Logger.WarnContext(ctx, "Startup health check warning",
				slog.String("component", name),
				slog.String("message", svc.Message))
		}
	}

	sel, err := mediasource.SelectMedia(mediasource.FullEncryption, mediasource.FullEncryption)
	if err == nil {
		if err := a.Services.Media.CheckTracks(sel); err != nil {
			a.Logger.WarnContext(ctx, "Sample media not found", slog.String("error", err.Error()))
		}
	}
}
