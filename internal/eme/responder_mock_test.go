package eme

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"emeharness/internal/shared/testutil"
)

type mockResponder struct {
	mock.Mock
}

func (m *mockResponder) Respond(ctx context.Context, payload []byte) ([]byte, error) {
	args := m.Called(ctx, payload)
	out, _ := args.Get(0).([]byte)
	return out, args.Error(1)
}

func TestController_PassesMessageToResponder(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	session := newFakeSession(nil)
	close(session.released)
	notifier := &recordingNotifier{}

	license := []byte(`{"keys":[]}`)
	responder := &mockResponder{}
	responder.On("Respond", mock.Anything, []byte("request-bytes")).Return(license, nil).Once()

	ctrl := NewController(fakeKeys{session}, responder, logger, WithNotifier(notifier))
	ctrl.HandleMessage(context.Background(), session, MessageEvent{
		MessageType: MessageTypeLicenseRequest,
		Message:     []byte("request-bytes"),
	})
	ctrl.Wait()

	responder.AssertExpectations(t)
	session.mu.Lock()
	defer session.mu.Unlock()
	require.Len(t, session.updated, 1)
	assert.Equal(t, license, session.updated[0])
}

func TestController_ResponderFailureSkipsUpdate(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	session := newFakeSession(nil)
	close(session.released)
	notifier := &recordingNotifier{}

	responder := &mockResponder{}
	responder.On("Respond", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

	ctrl := NewController(fakeKeys{session}, responder, logger, WithNotifier(notifier))
	ctrl.HandleMessage(context.Background(), session, MessageEvent{MessageType: MessageTypeLicenseRequest, Message: []byte("x")})
	ctrl.Wait()

	responder.AssertNumberOfCalls(t, "Respond", 1)
	assert.Empty(t, session.updated)
	ev, ok := notifier.find(EventLicenseFailed)
	require.True(t, ok)
	assert.Equal(t, "boom", ev.Error)
}
