package clearkey

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"emeharness/internal/keytable"
)

// Responder builds clearkey licenses. It holds no mutable state, so one
// Responder serves any number of concurrent requests.
type Responder struct {
	keys     *keytable.Table
	policy   UnknownKeyPolicy
	logger   *slog.Logger
	validate *validator.Validate
}

// Option configures a Responder.
type Option func(*Responder)

// WithPolicy sets the unknown key policy. The default is PolicyReject.
func WithPolicy(p UnknownKeyPolicy) Option {
	return func(r *Responder) {
		r.policy = p
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Responder) {
		r.logger = logger
	}
}

// NewResponder returns a Responder answering from keys.
func NewResponder(keys *keytable.Table, opts ...Option) *Responder {
	r := &Responder{
		keys:     keys,
		policy:   PolicyReject,
		logger:   slog.Default(),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "clearkey.responder"))
	return r
}

// Policy returns the unknown key policy in effect.
func (r *Responder) Policy() UnknownKeyPolicy {
	return r.policy
}

// Respond turns a raw license request payload into a raw license payload.
func (r *Responder) Respond(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := ParseRequest(payload)
	if err != nil {
		return nil, err
	}
	license, err := r.License(ctx, req)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(license)
	if err != nil {
		return nil, fmt.Errorf("encode license: %w", err)
	}
	return out, nil
}

// License answers a decoded request. Only the first kid is served.
func (r *Responder) License(ctx context.Context, req *LicenseRequest) (*LicenseResponse, error) {
	if len(req.KeyIDs) == 0 {
		return nil, ErrNoKeyIDs
	}
	if err := r.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if req.Type != "" && req.Type != SessionTemporary && req.Type != SessionPersistentLicense {
		r.logger.DebugContext(ctx, "unrecognised session type", slog.String("type", req.Type))
	}
	if len(req.KeyIDs) != 1 {
		r.logger.WarnContext(ctx, "more than one key requested",
			slog.Int("kid_count", len(req.KeyIDs)),
			slog.String("served_kid", req.KeyIDs[0]))
	}

	kid := req.KeyIDs[0]
	if err := r.validate.Var(kid, "required,base64rawurl"); err != nil {
		return nil, fmt.Errorf("%w: kid %q is not base64url", ErrMalformedRequest, kid)
	}
	jwk := JSONWebKey{
		KeyType:   KeyTypeOctet,
		Algorithm: AlgorithmA128KW,
		KeyID:     kid,
	}

	key, ok := r.keys.Lookup(kid)
	switch {
	case ok:
		jwk.Key = keytable.EncodeBase64URL(key)
	case r.policy == PolicyOmit:
		r.logger.WarnContext(ctx, "key id not in key table, omitting key material",
			slog.String("kid", kid))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeyID, kid)
	}

	return &LicenseResponse{Keys: []JSONWebKey{jwk}}, nil
}

// ParseRequest decodes a UTF-8 JSON license request.
func ParseRequest(payload []byte) (*LicenseRequest, error) {
	if !utf8.Valid(payload) {
		return nil, fmt.Errorf("%w: payload is not UTF-8", ErrMalformedRequest)
	}
	var req LicenseRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	return &req, nil
}

// ParseLicense decodes a license payload. It is the inverse of Respond and is
// used by CDM implementations.
func ParseLicense(payload []byte) (*LicenseResponse, error) {
	var license LicenseResponse
	if err := json.Unmarshal(payload, &license); err != nil {
		return nil, fmt.Errorf("decode license: %w", err)
	}
	return &license, nil
}

// BuildRequest encodes a license request for raw key ids.
func BuildRequest(sessionType string, keyIDs ...[]byte) ([]byte, error) {
	req := LicenseRequest{Type: sessionType, KeyIDs: make([]string, 0, len(keyIDs))}
	for _, id := range keyIDs {
		req.KeyIDs = append(req.KeyIDs, keytable.EncodeBase64URL(id))
	}
	return json.Marshal(req)
}
