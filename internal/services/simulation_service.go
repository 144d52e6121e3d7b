package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"emeharness/internal/clearkey"
	"emeharness/internal/eme"
	apierrors "emeharness/internal/errors"
	"emeharness/internal/infrastructure"
	"emeharness/internal/keytable"
	"emeharness/internal/mediasource"
)

// ProgressBroadcaster publishes track download progress.
type ProgressBroadcaster interface {
	BroadcastProgress(ctx context.Context, track mediasource.TrackKind, p mediasource.Progress, text string)
}

// SimulationRequest selects the media and whether to fetch it.
type SimulationRequest struct {
	Audio string `json:"audio"`
	Video string `json:"video"`
	// MediaBaseURL, when set, loads the selected tracks from it after the
	// key exchange.
	MediaBaseURL string `json:"media_base_url,omitempty"`
}

// SessionReport is the outcome of one key session.
type SessionReport struct {
	Track     mediasource.TrackKind `json:"track"`
	KeyID     string                `json:"kid"`
	SessionID string                `json:"session_id"`
	Usable    bool                  `json:"usable"`
	Error     string                `json:"error,omitempty"`
}

// MediaReport is the outcome of loading one track.
type MediaReport struct {
	Track    mediasource.TrackKind `json:"track"`
	MimeType string                `json:"mime_type"`
	Bytes    int64                 `json:"bytes"`
	Appends  int                   `json:"appends"`
	Ended    bool                  `json:"ended"`
	Complete bool                  `json:"complete"`
	Progress string                `json:"progress"`
}

// SimulationReport summarises a simulated playback setup.
type SimulationReport struct {
	KeySystem string          `json:"key_system"`
	Sessions  []SessionReport `json:"sessions"`
	Media     []MediaReport   `json:"media,omitempty"`
	Events    []eme.Event     `json:"events"`
	AllUsable bool            `json:"all_usable"`
	Duration  string          `json:"duration"`
}

// SimulationService drives the simulated CDM through the encrypted, message
// and update steps the harness page performs in a browser.
type SimulationService struct {
	responder  eme.LicenseResponder
	keys       *keytable.Table
	notifier   eme.Notifier
	progress   ProgressBroadcaster
	metrics    *infrastructure.BusinessMetrics
	loaderOpts []mediasource.LoaderOption
	logger     *slog.Logger
}

// SimulationOption configures a SimulationService.
type SimulationOption func(*SimulationService)

// WithEventNotifier forwards session events to n.
func WithEventNotifier(n eme.Notifier) SimulationOption {
	return func(s *SimulationService) {
		s.notifier = n
	}
}

// WithProgressBroadcaster forwards media load progress to p.
func WithProgressBroadcaster(p ProgressBroadcaster) SimulationOption {
	return func(s *SimulationService) {
		s.progress = p
	}
}

// WithSimulationMetrics records session events and fetched bytes.
func WithSimulationMetrics(m *infrastructure.BusinessMetrics) SimulationOption {
	return func(s *SimulationService) {
		s.metrics = m
	}
}

// WithLoaderOptions configures the media loader.
func WithLoaderOptions(opts ...mediasource.LoaderOption) SimulationOption {
	return func(s *SimulationService) {
		s.loaderOpts = append(s.loaderOpts, opts...)
	}
}

// NewSimulationService creates the service. keys supplies the key id of
// each encrypted track by its kind.
func NewSimulationService(responder eme.LicenseResponder, keys *keytable.Table, logger *slog.Logger, opts ...SimulationOption) *SimulationService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SimulationService{
		responder: responder,
		keys:      keys,
		logger:    logger.With(slog.String("service", "simulation")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run negotiates key system access for the selection, raises one encrypted
// event per encrypted track and waits for the resulting updates. When the
// request names a media base URL the tracks are loaded afterwards.
func (s *SimulationService) Run(ctx context.Context, req SimulationRequest) (*SimulationReport, error) {
	start := time.Now()

	sel, err := mediasource.ParseSelection(req.Audio, req.Video)
	if err != nil {
		return nil, err
	}

	recorder := &eventRecorder{next: s.notifier, metrics: s.metrics}
	cdm := eme.NewClearKeyCDM(s.logger)
	mediaKeys, err := eme.SetupMediaKeys(ctx, cdm, clearkey.KeySystem,
		[]eme.KeySystemConfiguration{sel.KeySystemConfig()})
	if err != nil {
		return nil, fmt.Errorf("setup media keys: %w", err)
	}
	controller := eme.NewController(mediaKeys, s.responder, s.logger, eme.WithNotifier(recorder))

	report := &SimulationReport{KeySystem: clearkey.KeySystem}
	var sessions []eme.KeySession
	for _, track := range sel.Tracks() {
		if track.Content == mediasource.Clear {
			continue
		}
		kid, ok := s.keys.KeyIDByName(string(track.Kind))
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoKeyForTrack, track.Kind)
		}
		initData, err := keytable.DecodeBase64URL(kid)
		if err != nil {
			return nil, fmt.Errorf("decode kid %s: %w", kid, err)
		}

		sr := SessionReport{Track: track.Kind, KeyID: kid}
		session, err := controller.HandleEncrypted(ctx, eme.EncryptedEvent{
			InitDataType: eme.InitDataWebM,
			InitData:     initData,
		})
		if session != nil {
			sr.SessionID = session.ID()
			sessions = append(sessions, session)
		}
		if err != nil {
			sr.Error = err.Error()
		}
		report.Sessions = append(report.Sessions, sr)
	}
	controller.Wait()

	report.AllUsable = true
	simulated, _ := mediaKeys.(*eme.SimulatedMediaKeys)
	for i := range report.Sessions {
		if simulated != nil {
			_, report.Sessions[i].Usable = simulated.Key(report.Sessions[i].KeyID)
		}
		if !report.Sessions[i].Usable {
			report.AllUsable = false
		}
	}
	for _, session := range sessions {
		_ = session.Close(ctx)
	}

	if req.MediaBaseURL != "" {
		media, err := s.loadMedia(ctx, req.MediaBaseURL, sel)
		if err != nil {
			return nil, err
		}
		report.Media = media
	}

	report.Events = recorder.events()
	report.Duration = time.Since(start).String()
	s.logger.InfoContext(ctx, "simulation finished",
		slog.Int("sessions", len(report.Sessions)),
		slog.Bool("all_usable", report.AllUsable),
		slog.String("duration", report.Duration))
	return report, nil
}

func (s *SimulationService) loadMedia(ctx context.Context, baseURL string, sel *mediasource.Selection) ([]MediaReport, error) {
	opts := append([]mediasource.LoaderOption{
		mediasource.WithLoaderLogger(s.logger),
		mediasource.WithByteRecorder(func(ctx context.Context, track mediasource.TrackKind, n int64) {
			infrastructure.RecordMediaBytes(ctx, s.metrics, string(track), n)
		}),
	}, s.loaderOpts...)
	loader, err := mediasource.NewLoader(baseURL, opts...)
	if err != nil {
		return nil, apierrors.NewAppValidationError("invalid media base url", err)
	}

	trackers := make(map[mediasource.TrackKind]*mediasource.ProgressTracker)
	for _, track := range sel.Tracks() {
		trackers[track.Kind] = mediasource.NewProgressTracker(track.Kind)
	}
	progress := func(track mediasource.Track) mediasource.ProgressFunc {
		tracker := trackers[track.Kind]
		return func(p mediasource.Progress) {
			tracker.Update(p)
			if s.progress != nil {
				s.progress.BroadcastProgress(ctx, track.Kind, p, tracker.String())
			}
		}
	}

	results, err := loader.LoadAll(ctx, sel, progress)
	if err != nil {
		return nil, apierrors.NewNetworkError("load media", err).WithContext("base_url", baseURL)
	}
	out := make([]MediaReport, 0, len(results))
	for _, r := range results {
		out = append(out, MediaReport{
			Track:    r.Track.Kind,
			MimeType: r.Track.MimeType,
			Bytes:    r.Bytes,
			Appends:  r.Buffer.Appends(),
			Ended:    r.Buffer.Ended(),
			Complete: trackers[r.Track.Kind].IsComplete(),
			Progress: trackers[r.Track.Kind].String(),
		})
	}
	return out, nil
}

// eventRecorder keeps the session events of one run, counts them and
// forwards them. Updates notify from their own goroutines.
type eventRecorder struct {
	next    eme.Notifier
	metrics *infrastructure.BusinessMetrics

	mu  sync.Mutex
	log []eme.Event
}

func (r *eventRecorder) Notify(ctx context.Context, event eme.Event) {
	r.mu.Lock()
	r.log = append(r.log, event)
	r.mu.Unlock()

	infrastructure.RecordSessionEvent(ctx, r.metrics, string(event.Type))
	if r.next != nil {
		r.next.Notify(ctx, event)
	}
}

func (r *eventRecorder) events() []eme.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]eme.Event, len(r.log))
	copy(out, r.log)
	return out
}
