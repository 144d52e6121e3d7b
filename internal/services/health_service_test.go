package services

import (
	"context"
	"path/filepath"
	"runtime"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticKeys int

func (k staticKeys) KeyCount() int { return int(k) }

type staticHub struct{}

func (staticHub) ClientCount() int { return 2 }
func (staticHub) Stats() map[string]interface{} {
	return map[string]interface{}{"active_clients": int64(2)}
}

func TestHealthService_HealthCheck(t *testing.T) {
	mediaDir := t.TempDir()

	tests := []struct {
		name       string
		keys       KeyCounter
		hub        HubStats
		media      MediaChecker
		wantStatus string
		notReady   []string
	}{
		{
			name:       "all ready",
			keys:       staticKeys(2),
			hub:        staticHub{},
			media:      NewMediaService(mediaDir, nil),
			wantStatus: StatusOK,
		},
		{
			name:       "empty key table",
			keys:       staticKeys(0),
			hub:        staticHub{},
			media:      NewMediaService(mediaDir, nil),
			wantStatus: StatusNotReady,
			notReady:   []string{"keys"},
		},
		{
			name:       "missing media directory",
			keys:       staticKeys(2),
			hub:        staticHub{},
			media:      NewMediaService(filepath.Join(mediaDir, "nope"), nil),
			wantStatus: StatusDegraded,
			notReady:   []string{"media"},
		},
		{
			name:       "no hub",
			keys:       staticKeys(2),
			media:      NewMediaService(mediaDir, nil),
			wantStatus: StatusDegraded,
			notReady:   []string{"websocket"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := NewHealthService(BuildInfo{Name: "eme-server", Version: "1.2.3"}, tt.keys, tt.hub, tt.media, nil)
			status := hs.HealthCheck(context.Background())

			assert.Equal(t, tt.wantStatus, status.Status)
			assert.Equal(t, "1.2.3", status.Version)
			require.Len(t, status.Services, 3)
			for name, svc := range status.Services {
				if slices.Contains(tt.notReady, name) {
					assert.Equal(t, StatusNotReady, svc.Status, name)
					assert.NotEmpty(t, svc.Message, name)
				} else {
					assert.Equal(t, StatusReady, svc.Status, name)
				}
			}
		})
	}
}

func TestHealthService_LivenessCheck(t *testing.T) {
	hs := NewHealthService(BuildInfo{Version: "dev"}, staticKeys(1), nil, nil, nil)
	status := hs.LivenessCheck(context.Background())

	assert.Equal(t, StatusAlive, status.Status)
	require.NotNil(t, status.Runtime)
	assert.Positive(t, status.Runtime.Goroutines)
	assert.GreaterOrEqual(t, status.Runtime.UptimeSeconds, 0.0)
	assert.Empty(t, status.Services)
}

func TestHealthService_Version(t *testing.T) {
	hs := NewHealthService(BuildInfo{Name: "eme-server", Version: "dev"}, staticKeys(1), nil, nil, nil)
	info := hs.Version()

	assert.Equal(t, "eme-server", info.Name)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, runtime.GOARCH, info.Arch)
	assert.GreaterOrEqual(t, hs.Uptime().Nanoseconds(), int64(0))
}
