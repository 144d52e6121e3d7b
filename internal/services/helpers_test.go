package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"emeharness/internal/eme"
	"emeharness/internal/infrastructure"
	"emeharness/internal/mediasource"
	ws "emeharness/internal/websocket"
)

// newTestMetrics returns business metrics backed by a manual reader.
func newTestMetrics(t *testing.T) (*infrastructure.BusinessMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := infrastructure.CreateBusinessMetrics(mp.Meter("test"))
	require.NoError(t, err)
	return m, reader
}

// counterTotal sums every data point of the named Int64 counter.
func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	notices  []ws.LicenseNotice
	progress map[mediasource.TrackKind][]mediasource.Progress
	texts    map[mediasource.TrackKind][]string
	events   []eme.Event
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{
		progress: make(map[mediasource.TrackKind][]mediasource.Progress),
		texts:    make(map[mediasource.TrackKind][]string),
	}
}

func (f *fakeBroadcaster) BroadcastLicense(_ context.Context, n ws.LicenseNotice) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, n)
}

func (f *fakeBroadcaster) BroadcastProgress(_ context.Context, track mediasource.TrackKind, p mediasource.Progress, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress[track] = append(f.progress[track], p)
	f.texts[track] = append(f.texts[track], text)
}

func (f *fakeBroadcaster) ProgressTexts(track mediasource.TrackKind) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts[track]...)
}

func (f *fakeBroadcaster) Notify(_ context.Context, e eme.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeBroadcaster) Notices() []ws.LicenseNotice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ws.LicenseNotice(nil), f.notices...)
}

func (f *fakeBroadcaster) Events() []eme.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]eme.Event(nil), f.events...)
}

func (f *fakeBroadcaster) Progress(track mediasource.TrackKind) []mediasource.Progress {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mediasource.Progress(nil), f.progress[track]...)
}
