package eme

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emeharness/internal/clearkey"
	"emeharness/internal/keytable"
	"emeharness/internal/shared/testutil"
)

const (
	audioKID = "QU-g5jS0AZ7fyJfhfCE3hg"
	videoKID = "LNsO1hGYU-eFBnHD6ZBsPA"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(_ context.Context, ev Event) {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
}

func (n *recordingNotifier) types() []EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]EventType, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

func (n *recordingNotifier) find(t EventType) (Event, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ev := range n.events {
		if ev.Type == t {
			return ev, true
		}
	}
	return Event{}, false
}

// fakeSession records what the controller hands it.
type fakeSession struct {
	updateErr error

	mu       sync.Mutex
	handler  func(MessageEvent)
	updated  [][]byte
	released chan struct{}
}

func newFakeSession(updateErr error) *fakeSession {
	return &fakeSession{updateErr: updateErr, released: make(chan struct{})}
}

func (s *fakeSession) ID() string { return "fake-session" }
func (s *fakeSession) OnMessage(h func(MessageEvent)) { s.handler = h }
func (s *fakeSession) Close(context.Context) error { return nil }
func (s *fakeSession) GenerateRequest(context.Context, string, []byte) error {
	return nil
}

func (s *fakeSession) Update(_ context.Context, response []byte) error {
	<-s.released
	s.mu.Lock()
	s.updated = append(s.updated, response)
	s.mu.Unlock()
	return s.updateErr
}

type fakeKeys struct{ session KeySession }

func (k fakeKeys) CreateSession(context.Context) (KeySession, error) { return k.session, nil }

func newTestController(t *testing.T, keys MediaKeys, policy clearkey.UnknownKeyPolicy) (*Controller, *testutil.BufferedSlogHandler, *recordingNotifier) {
	t.Helper()
	logger, handler := testutil.NewTestLogger(t)
	responder := clearkey.NewResponder(keytable.Default(), clearkey.WithPolicy(policy), clearkey.WithLogger(logger))
	notifier := &recordingNotifier{}
	return NewController(keys, responder, logger, WithNotifier(notifier)), handler, notifier
}

func setupClearKey(t *testing.T) *SimulatedMediaKeys {
	t.Helper()
	cdm := NewClearKeyCDM(nil)
	keys, err := SetupMediaKeys(context.Background(), cdm, clearkey.KeySystem, []KeySystemConfiguration{{
		InitDataTypes:     []string{InitDataWebM},
		AudioCapabilities: []MediaCapability{{ContentType: `audio/webm; codecs="vorbis"`}},
		VideoCapabilities: []MediaCapability{{ContentType: `video/webm; codecs="vp8"`}},
	}})
	require.NoError(t, err)
	return keys.(*SimulatedMediaKeys)
}

func TestController_AudioEndToEnd(t *testing.T) {
	keys := setupClearKey(t)
	ctrl, logs, notifier := newTestController(t, keys, clearkey.PolicyReject)

	initData, err := keytable.DecodeBase64URL(audioKID)
	require.NoError(t, err)

	_, err = ctrl.HandleEncrypted(context.Background(), EncryptedEvent{InitDataType: InitDataWebM, InitData: initData})
	require.NoError(t, err)
	ctrl.Wait()

	key, ok := keys.Key(audioKID)
	require.True(t, ok)
	assert.Equal(t, "acbd22d9083519787f34376c4194b397", hex.EncodeToString(key))

	testutil.AssertLogContains(t, logs, slog.LevelInfo, "got encrypted event")
	testutil.AssertNoErrors(t, logs)
	assert.Equal(t, []EventType{EventEncrypted, EventMessage, EventKeysUpdated}, notifier.types())
}

func TestController_VideoAndAudioSessionsAreIndependent(t *testing.T) {
	keys := setupClearKey(t)
	ctrl, _, _ := newTestController(t, keys, clearkey.PolicyReject)

	var wg sync.WaitGroup
	for _, kid := range []string{audioKID, videoKID} {
		raw, err := keytable.DecodeBase64URL(kid)
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ctrl.HandleEncrypted(context.Background(), EncryptedEvent{InitDataType: InitDataWebM, InitData: raw})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	ctrl.Wait()

	assert.Equal(t, 2, keys.Usable())
}

func TestController_UpdateIsNotAwaited(t *testing.T) {
	session := newFakeSession(nil)
	ctrl, _, notifier := newTestController(t, fakeKeys{session}, clearkey.PolicyReject)

	_, err := ctrl.HandleEncrypted(context.Background(), EncryptedEvent{InitDataType: InitDataWebM, InitData: []byte{1}})
	require.NoError(t, err)

	payload, err := clearkey.BuildRequest(clearkey.SessionTemporary, mustDecode(t, videoKID))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ctrl.HandleMessage(ctx, session, MessageEvent{MessageType: MessageTypeLicenseRequest, Message: payload})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandleMessage blocked on Update")
	}

	// Cancelling the triggering context must not abort the update.
	cancel()
	close(session.released)
	ctrl.Wait()

	session.mu.Lock()
	defer session.mu.Unlock()
	require.Len(t, session.updated, 1)
	assert.JSONEq(t, `{"keys":[{"kty":"oct","alg":"A128KW","kid":"LNsO1hGYU-eFBnHD6ZBsPA","k":"gIua2sOE3h5PVhQPStdhlA"}]}`, string(session.updated[0]))
	_, ok := notifier.find(EventKeysUpdated)
	assert.True(t, ok)
}

func TestController_UpdateFailureIsLogged(t *testing.T) {
	session := newFakeSession(errors.New("rejected by cdm"))
	close(session.released)
	ctrl, logs, notifier := newTestController(t, fakeKeys{session}, clearkey.PolicyReject)

	payload, err := clearkey.BuildRequest(clearkey.SessionTemporary, mustDecode(t, audioKID))
	require.NoError(t, err)
	ctrl.HandleMessage(context.Background(), session, MessageEvent{MessageType: MessageTypeLicenseRequest, Message: payload})
	ctrl.Wait()

	testutil.AssertLogContains(t, logs, slog.LevelError, "update() failed: rejected by cdm")
	ev, ok := notifier.find(EventUpdateFailed)
	require.True(t, ok)
	assert.Equal(t, "rejected by cdm", ev.Error)
	assert.Equal(t, "fake-session", ev.SessionID)
}

func TestController_LicenseFailureSkipsUpdate(t *testing.T) {
	session := newFakeSession(nil)
	close(session.released)
	ctrl, logs, notifier := newTestController(t, fakeKeys{session}, clearkey.PolicyReject)

	ctrl.HandleMessage(context.Background(), session, MessageEvent{MessageType: MessageTypeLicenseRequest, Message: []byte(`{"kids":[]}`)})
	ctrl.Wait()

	session.mu.Lock()
	assert.Empty(t, session.updated)
	session.mu.Unlock()
	testutil.AssertLogContains(t, logs, slog.LevelError, "license generation failed")
	_, ok := notifier.find(EventLicenseFailed)
	assert.True(t, ok)
}

func TestController_OmitPolicyFailsInCDM(t *testing.T) {
	keys := setupClearKey(t)
	ctrl, logs, notifier := newTestController(t, keys, clearkey.PolicyOmit)

	_, err := ctrl.HandleEncrypted(context.Background(), EncryptedEvent{
		InitDataType: InitDataWebM,
		InitData:     make([]byte, 16),
	})
	require.NoError(t, err)
	ctrl.Wait()

	assert.Zero(t, keys.Usable())
	testutil.AssertLogContains(t, logs, slog.LevelWarn, "key id not in key table, omitting key material")
	_, ok := notifier.find(EventUpdateFailed)
	assert.True(t, ok)
}

func TestController_GenerateRequestError(t *testing.T) {
	keys := setupClearKey(t)
	ctrl, _, _ := newTestController(t, keys, clearkey.PolicyReject)

	_, err := ctrl.HandleEncrypted(context.Background(), EncryptedEvent{InitDataType: "cenc", InitData: []byte{1}})
	assert.ErrorIs(t, err, ErrInitDataType)
}

func mustDecode(t *testing.T, kid string) []byte {
	t.Helper()
	raw, err := keytable.DecodeBase64URL(kid)
	require.NoError(t, err)
	return raw
}
