package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"emeharness/internal/clearkey"
	"emeharness/internal/infrastructure"
	"emeharness/internal/keytable"
	ws "emeharness/internal/websocket"
)

// LicenseBroadcaster publishes license outcomes to the harness log.
type LicenseBroadcaster interface {
	BroadcastLicense(ctx context.Context, notice ws.LicenseNotice)
}

// KeyInfo describes one key table entry without its key material.
type KeyInfo struct {
	KeyID string `json:"kid"`
	Name  string `json:"name,omitempty"`
}

// KeyListResponse is the key table listing.
type KeyListResponse struct {
	KeySystem string    `json:"key_system"`
	Policy    string    `json:"unknown_key_policy"`
	Keys      []KeyInfo `json:"keys"`
}

// LicenseService answers clearkey license requests. It wraps the responder
// with tracing, metrics and harness log broadcasts and satisfies
// eme.LicenseResponder, so the simulated CDM goes through the same path as
// HTTP clients.
type LicenseService struct {
	responder   *clearkey.Responder
	keys        *keytable.Table
	metrics     *infrastructure.BusinessMetrics
	broadcaster LicenseBroadcaster
	tracer      trace.Tracer
	logger      *slog.Logger
}

// NewLicenseService creates the service. metrics and broadcaster may be nil.
func NewLicenseService(responder *clearkey.Responder, keys *keytable.Table, metrics *infrastructure.BusinessMetrics, broadcaster LicenseBroadcaster, logger *slog.Logger) *LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LicenseService{
		responder:   responder,
		keys:        keys,
		metrics:     metrics,
		broadcaster: broadcaster,
		tracer:      otel.Tracer(infrastructure.MeterName + ".clearkey"),
		logger:      logger.With(slog.String("service", "license")),
	}
}

// Respond turns a raw license request into a raw license.
func (s *LicenseService) Respond(ctx context.Context, payload []byte) ([]byte, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "clearkey.license",
		trace.WithAttributes(attribute.Int("request.size", len(payload))))
	defer span.End()

	license, err := s.responder.Respond(ctx, payload)
	// The kids are read again only to describe the outcome.
	var kids []string
	if req, perr := clearkey.ParseRequest(payload); perr == nil {
		kids = req.KeyIDs
	}

	outcome := infrastructure.LicenseOutcome{
		KeyIDCount: len(kids),
		Duration:   time.Since(start),
		Reason:     failureReason(err),
	}
	if len(kids) > 0 && (err == nil || errors.Is(err, clearkey.ErrUnknownKeyID)) {
		_, known := s.keys.Lookup(kids[0])
		outcome.UnknownKey = !known
	}
	infrastructure.RecordLicenseMetrics(ctx, s.metrics, outcome)

	notice := ws.LicenseNotice{KeyIDs: kids, Duration: outcome.Duration.String()}
	span.SetAttributes(attribute.Int("clearkey.kid_count", len(kids)))
	if err != nil {
		infrastructure.RecordError(ctx, err)
		notice.Error = err.Error()
		s.logger.WarnContext(ctx, "license request rejected",
			slog.String("reason", outcome.Reason),
			slog.String("error", err.Error()))
	} else {
		notice.Served = kids[0]
		span.SetAttributes(attribute.String("clearkey.served_kid", kids[0]))
		s.logger.InfoContext(ctx, "license issued",
			slog.String("kid", kids[0]),
			slog.String("key_name", s.keys.Name(kids[0])),
			slog.Duration("duration", outcome.Duration))
	}
	if s.broadcaster != nil {
		s.broadcaster.BroadcastLicense(ctx, notice)
	}

	return license, err
}

// Keys lists the key ids the service can answer for.
func (s *LicenseService) Keys(ctx context.Context) KeyListResponse {
	ids := s.keys.KeyIDs()
	out := KeyListResponse{
		KeySystem: clearkey.KeySystem,
		Policy:    string(s.responder.Policy()),
		Keys:      make([]KeyInfo, 0, len(ids)),
	}
	for _, id := range ids {
		out.Keys = append(out.Keys, KeyInfo{KeyID: id, Name: s.keys.Name(id)})
	}
	s.logger.DebugContext(ctx, "listed key ids", slog.Int("count", len(ids)))
	return out
}

// KeyCount returns the number of key table entries.
func (s *LicenseService) KeyCount() int {
	return s.keys.Len()
}

func failureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, clearkey.ErrNoKeyIDs):
		return "no_kids"
	case errors.Is(err, clearkey.ErrUnknownKeyID):
		return "unknown_kid"
	case errors.Is(err, clearkey.ErrMalformedRequest):
		return "malformed"
	default:
		return "internal"
	}
}
