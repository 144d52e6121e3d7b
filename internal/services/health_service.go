package services

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"emeharness/internal/infrastructure"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                       `json:"status"`
	Timestamp time.Time                    `json:"timestamp"`
	Version   string                       `json:"version"`
	Runtime   *infrastructure.RuntimeStats `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth     `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// Health states
const (
	StatusOK       = "ok"
	StatusAlive    = "alive"
	StatusReady    = "ready"
	StatusNotReady = "not_ready"
	StatusDegraded = "degraded"
)

// KeyCounter reports the size of the key table.
type KeyCounter interface {
	KeyCount() int
}

// HubStats reports websocket hub counters.
type HubStats interface {
	ClientCount() int
	Stats() map[string]interface{}
}

// MediaChecker reports whether media can be served.
type MediaChecker interface {
	Dir() string
	DirAvailable() bool
}

// HealthService provides health check functionality
type HealthService struct {
	build     BuildInfo
	keys      KeyCounter
	hub       HubStats
	media     MediaChecker
	startTime time.Time
	logger    *slog.Logger
}

// NewHealthService creates a health service. hub and media may be nil.
func NewHealthService(build BuildInfo, keys KeyCounter, hub HubStats, media MediaChecker, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	if build.GoVersion == "" {
		build.GoVersion = runtime.Version()
	}
	if build.OS == "" {
		build.OS = runtime.GOOS
	}
	if build.Arch == "" {
		build.Arch = runtime.GOARCH
	}
	return &HealthService{
		build:     build,
		keys:      keys,
		hub:       hub,
		media:     media,
		startTime: time.Now(),
		logger:    logger.With(slog.String("service", "health")),
	}
}

// HealthCheck reports readiness of every component. The overall status is
// degraded when a component is not ready; the key table is the only hard
// requirement.
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    StatusOK,
		Timestamp: time.Now().UTC(),
		Version:   hs.build.Version,
		Services: map[string]ServiceHealth{
			"keys":      hs.checkKeys(),
			"websocket": hs.checkWebSocket(),
			"media":     hs.checkMedia(),
		},
	}

	if status.Services["keys"].Status != StatusReady {
		status.Status = StatusNotReady
	} else {
		for _, svc := range status.Services {
			if svc.Status != StatusReady {
				status.Status = StatusDegraded
				break
			}
		}
	}

	hs.logger.DebugContext(ctx, "health check completed", slog.String("status", status.Status))
	return status
}

// LivenessCheck returns liveness status with runtime counters
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	stats := infrastructure.CollectRuntimeStats(hs.startTime)
	return HealthStatus{
		Status:    StatusAlive,
		Timestamp: time.Now().UTC(),
		Version:   hs.build.Version,
		Runtime:   &stats,
	}
}

// Version returns build information
func (hs *HealthService) Version() BuildInfo {
	return hs.build
}

// Uptime returns the time since the service was created.
func (hs *HealthService) Uptime() time.Duration {
	return time.Since(hs.startTime)
}

func (hs *HealthService) checkKeys() ServiceHealth {
	if hs.keys == nil || hs.keys.KeyCount() == 0 {
		return ServiceHealth{Status: StatusNotReady, Message: "key table is empty"}
	}
	return ServiceHealth{Status: StatusReady, Details: map[string]int{"entries": hs.keys.KeyCount()}}
}

func (hs *HealthService) checkWebSocket() ServiceHealth {
	if hs.hub == nil {
		return ServiceHealth{Status: StatusNotReady, Message: "websocket hub not initialized"}
	}
	return ServiceHealth{Status: StatusReady, Details: hs.hub.Stats()}
}

func (hs *HealthService) checkMedia() ServiceHealth {
	if hs.media == nil {
		return ServiceHealth{Status: StatusNotReady, Message: "media service not initialized"}
	}
	if !hs.media.DirAvailable() {
		return ServiceHealth{Status: StatusNotReady, Message: "media directory not found: " + hs.media.Dir()}
	}
	return ServiceHealth{Status: StatusReady}
}
