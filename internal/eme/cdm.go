package eme

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"emeharness/internal/clearkey"
	"emeharness/internal/keytable"
)

var (
	ErrKeySystemNotSupported     = errors.New("key system not supported")
	ErrConfigurationNotSupported = errors.New("no supported configuration")
	ErrInitDataType              = errors.New("unsupported init data type")
	ErrInvalidInitData           = errors.New("invalid init data")
	ErrSessionClosed             = errors.New("session closed")
	ErrRequestNotGenerated       = errors.New("no license request pending")
	ErrInvalidLicense            = errors.New("invalid license")
)

const maxInitDataSize = 64 * 1024

// ClearKeyCDM is an in-process clearkey content decryption module.
type ClearKeyCDM struct {
	contentTypes []string
	logger       *slog.Logger
}

// NewClearKeyCDM returns a CDM supporting the given content types. With no
// content types any capability is accepted.
func NewClearKeyCDM(logger *slog.Logger, contentTypes ...string) *ClearKeyCDM {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClearKeyCDM{
		contentTypes: contentTypes,
		logger:       logger.With(slog.String("component", "eme.cdm")),
	}
}

// RequestMediaKeySystemAccess grants the first configuration the CDM can
// satisfy.
func (c *ClearKeyCDM) RequestMediaKeySystemAccess(ctx context.Context, keySystem string, configs []KeySystemConfiguration) (KeySystemAccess, error) {
	if keySystem != clearkey.KeySystem {
		return nil, fmt.Errorf("%w: %s", ErrKeySystemNotSupported, keySystem)
	}
	for _, cfg := range configs {
		if c.supports(cfg) {
			c.logger.DebugContext(ctx, "key system access granted", slog.String("key_system", keySystem))
			return &clearKeyAccess{config: cfg, logger: c.logger}, nil
		}
	}
	return nil, ErrConfigurationNotSupported
}

func (c *ClearKeyCDM) supports(cfg KeySystemConfiguration) bool {
	if len(cfg.InitDataTypes) > 0 &&
		!slices.Contains(cfg.InitDataTypes, InitDataWebM) &&
		!slices.Contains(cfg.InitDataTypes, InitDataKeyIDs) {
		return false
	}
	if len(cfg.AudioCapabilities) == 0 && len(cfg.VideoCapabilities) == 0 {
		return false
	}
	if len(c.contentTypes) == 0 {
		return true
	}
	for _, capability := range slices.Concat(cfg.AudioCapabilities, cfg.VideoCapabilities) {
		if !slices.Contains(c.contentTypes, capability.ContentType) {
			return false
		}
	}
	return true
}

type clearKeyAccess struct {
	config KeySystemConfiguration
	logger *slog.Logger
}

func (a *clearKeyAccess) KeySystem() string { return clearkey.KeySystem }
func (a *clearKeyAccess) Configuration() KeySystemConfiguration { return a.config }

func (a *clearKeyAccess) CreateMediaKeys(context.Context) (MediaKeys, error) {
	return &SimulatedMediaKeys{
		keys:   make(map[string][]byte),
		logger: a.logger,
	}, nil
}

// SimulatedMediaKeys holds the keys installed by its sessions.
type SimulatedMediaKeys struct {
	mu     sync.RWMutex
	keys   map[string][]byte
	logger *slog.Logger
}

// CreateSession opens a temporary session.
func (m *SimulatedMediaKeys) CreateSession(context.Context) (KeySession, error) {
	return &simulatedSession{
		id:     uuid.NewString(),
		owner:  m,
		logger: m.logger,
	}, nil
}

// Key returns the installed key for kid.
func (m *SimulatedMediaKeys) Key(kid string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.keys[kid]
	return k, ok
}

// Usable returns the number of installed keys.
func (m *SimulatedMediaKeys) Usable() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys)
}

func (m *SimulatedMediaKeys) install(kid string, key []byte) {
	m.mu.Lock()
	m.keys[kid] = key
	m.mu.Unlock()
}

type simulatedSession struct {
	id     string
	owner  *SimulatedMediaKeys
	logger *slog.Logger

	mu       sync.Mutex
	handlers []func(MessageEvent)
	pending  []string
	closed   bool
}

func (s *simulatedSession) ID() string { return s.id }

func (s *simulatedSession) OnMessage(handler func(MessageEvent)) {
	s.mu.Lock()
	s.handlers = append(s.handlers, handler)
	s.mu.Unlock()
}

// GenerateRequest builds the license request and dispatches it to the
// message handlers on the calling goroutine.
func (s *simulatedSession) GenerateRequest(ctx context.Context, initDataType string, initData []byte) error {
	if len(initData) == 0 || len(initData) > maxInitDataSize {
		return fmt.Errorf("%w: %d bytes", ErrInvalidInitData, len(initData))
	}

	var kids [][]byte
	switch initDataType {
	case InitDataWebM:
		kids = [][]byte{initData}
	case InitDataKeyIDs:
		req, err := clearkey.ParseRequest(initData)
		if err != nil || len(req.KeyIDs) == 0 {
			return fmt.Errorf("%w: keyids init data", ErrInvalidInitData)
		}
		for _, kid := range req.KeyIDs {
			raw, err := keytable.DecodeBase64URL(kid)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidInitData, err)
			}
			kids = append(kids, raw)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInitDataType, initDataType)
	}

	payload, err := clearkey.BuildRequest(clearkey.SessionTemporary, kids...)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	for _, kid := range kids {
		s.pending = append(s.pending, keytable.EncodeBase64URL(kid))
	}
	handlers := slices.Clone(s.handlers)
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "license request generated",
		slog.String("session_id", s.id), slog.Int("kid_count", len(kids)))
	ev := MessageEvent{MessageType: MessageTypeLicenseRequest, Message: payload}
	for _, h := range handlers {
		h(ev)
	}
	return nil
}

// Update validates a JWK set license and installs its keys.
func (s *simulatedSession) Update(ctx context.Context, response []byte) error {
	license, err := parseJWKSet(response)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if len(s.pending) == 0 {
		return ErrRequestNotGenerated
	}

	usable := make(map[string][]byte, len(license.Keys))
	for _, jwk := range license.Keys {
		if jwk.KeyType != clearkey.KeyTypeOctet {
			return fmt.Errorf("%w: key type %q", ErrInvalidLicense, jwk.KeyType)
		}
		if !slices.Contains(s.pending, jwk.KeyID) {
			return fmt.Errorf("%w: kid %s was not requested", ErrInvalidLicense, jwk.KeyID)
		}
		if jwk.Key == "" {
			continue
		}
		key, err := keytable.DecodeBase64URL(jwk.Key)
		if err != nil || len(key) != keytable.KeySize {
			return fmt.Errorf("%w: key for %s is not a %d byte base64url value", ErrInvalidLicense, jwk.KeyID, keytable.KeySize)
		}
		usable[jwk.KeyID] = key
	}
	if len(usable) == 0 {
		return fmt.Errorf("%w: no usable keys", ErrInvalidLicense)
	}
	// Nothing is installed unless the whole set is valid.
	for kid, key := range usable {
		s.owner.install(kid, key)
	}
	s.logger.DebugContext(ctx, "keys installed", slog.String("session_id", s.id), slog.Int("count", len(usable)))
	return nil
}

func (s *simulatedSession) Close(context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func parseJWKSet(response []byte) (*clearkey.LicenseResponse, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(response, &members); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLicense, err)
	}
	if _, ok := members["keys"]; !ok {
		return nil, fmt.Errorf("%w: missing keys member", ErrInvalidLicense)
	}
	license, err := clearkey.ParseLicense(response)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLicense, err)
	}
	return license, nil
}
