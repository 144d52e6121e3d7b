package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emeharness/internal/clearkey"
	"emeharness/internal/mediasource"
	"emeharness/internal/shared/testutil"
)

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestErrorToProblem(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger, false)
	req := httptest.NewRequest(http.MethodPost, "/api/clearkey/license", nil)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"no kids", clearkey.ErrNoKeyIDs, http.StatusBadRequest, TypeNoKeyIDs},
		{"malformed", fmt.Errorf("%w: not json", clearkey.ErrMalformedRequest), http.StatusBadRequest, TypeMalformedLicenseRequest},
		{"unknown kid", fmt.Errorf("%w: AAAA", clearkey.ErrUnknownKeyID), http.StatusNotFound, TypeUnknownKeyID},
		{"clear video", mediasource.ErrClearVideo, http.StatusBadRequest, TypeInvalidMediaSelection},
		{"unknown content", fmt.Errorf("audio: %w", mediasource.ErrUnknownContent), http.StatusBadRequest, TypeInvalidMediaSelection},
		{"nothing selected", mediasource.ErrNothingSelected, http.StatusBadRequest, TypeInvalidMediaSelection},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, TypeTimeout},
		{"api error", ErrRateLimitExceeded, http.StatusTooManyRequests, TypeRateLimit},
		{"too large", &http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge, TypePayloadTooLarge},
		{"app validation", NewAppValidationError("bad", nil), http.StatusBadRequest, TypeValidation},
		{"app storage", NewStorageError("disk", fmt.Errorf("eio")), http.StatusInternalServerError, TypeInternal},
		{"app network", NewNetworkError("upstream", nil), http.StatusBadGateway, TypeServiceDown},
		{"plain", fmt.Errorf("boom"), http.StatusInternalServerError, TypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := h.ErrorToProblem(tt.err, req)
			assert.Equal(t, tt.wantStatus, p.Status)
			assert.Equal(t, tt.wantType, p.Type)
			assert.Equal(t, "/api/clearkey/license", p.Instance)
		})
	}
}

func TestErrorToProblem_HidesInternalDetail(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger, false)
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	p := h.ErrorToProblem(NewStorageError("open /secret/path", nil), req)
	assert.NotContains(t, p.Detail, "/secret/path")
}

func TestHandleError(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger, false)

	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.HandleError(w, r, fmt.Errorf("%w: AAAAAAAAAAAAAAAAAAAAAA", clearkey.ErrUnknownKeyID))
	})
	handler = middleware.RequestID(handler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/clearkey/license", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeProblem(t, rec)
	assert.Equal(t, TypeUnknownKeyID, body["type"])
	assert.Equal(t, "Unknown Key ID", body["title"])
	assert.EqualValues(t, 404, body["status"])
	assert.Contains(t, body["detail"], "AAAAAAAAAAAAAAAAAAAAAA")
	assert.NotEmpty(t, body["trace_id"])
	assert.NotContains(t, body, "stack")

	testutil.AssertLogAttr(t, logs, "status", int64(404))
}

func TestHandleError_Nil(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger, false)

	rec := httptest.NewRecorder()
	h.HandleError(rec, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	assert.Zero(t, rec.Body.Len())
	assert.Zero(t, logs.Count())
}

func TestHandleError_StackInDevelopment(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger, true)

	rec := httptest.NewRecorder()
	h.HandleError(rec, httptest.NewRequest(http.MethodGet, "/", nil), fmt.Errorf("boom"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeProblem(t, rec), "stack")
}

func TestAPIErrorProblem_CarriesCodeAndDetails(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger, false)

	rec := httptest.NewRecorder()
	h.HandleError(rec, httptest.NewRequest(http.MethodGet, "/api/media/selection", nil), ErrValidation("audio", "unrecognized"))

	body := decodeProblem(t, rec)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILED", body["error_code"])
	details, ok := body["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "audio", details["field"])
}

func TestRecoveryMiddleware(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger, false)

	handler := RecoveryMiddleware(h)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, TypeInternal, decodeProblem(t, rec)["type"])
	assert.True(t, logs.ContainsMessage("panic recovered"))
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	h := NewErrorHandler(logger, false)

	rec := httptest.NewRecorder()
	h.NotFound(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.MethodNotAllowed(rec, httptest.NewRequest(http.MethodDelete, "/api/clearkey/license", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, decodeProblem(t, rec)["detail"], "DELETE")
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, ErrRateLimitExceeded)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", resp.Error.ErrorCode)
}

func TestAPIError_DerivedCopies(t *testing.T) {
	upgrade := ErrWebSocketUpgrade.WithStatus(http.StatusForbidden).WithMessage("origin not allowed")
	assert.Equal(t, http.StatusForbidden, upgrade.StatusCode)
	assert.Equal(t, "WEBSOCKET_UPGRADE_FAILED", upgrade.ErrorCode)
	assert.Equal(t, "origin not allowed", upgrade.Message)

	notFound := NotFoundError("media file")
	assert.Equal(t, "media file not found", notFound.Message)
	assert.Equal(t, "media file", notFound.Details)

	validation := ErrValidation("audio", "must be one of: clear")
	assert.Equal(t, ValidationError{Field: "audio", Message: "must be one of: clear"}, validation.Details)

	invalid := InvalidRequestWithError(fmt.Errorf("unexpected EOF"))
	assert.Equal(t, "unexpected EOF", invalid.Details)

	// The shared values stay untouched.
	assert.Equal(t, http.StatusInternalServerError, ErrWebSocketUpgrade.StatusCode)
	assert.Equal(t, "WebSocket upgrade failed", ErrWebSocketUpgrade.Message)
	assert.Equal(t, "Resource not found", ErrNotFound.Message)
	assert.Nil(t, ErrNotFound.Details)
	assert.Nil(t, ErrValidationFailed.Details)
	assert.Nil(t, ErrInvalidRequest.Details)

	logger, _ := testutil.NewTestLogger(t)
	p := NewErrorHandler(logger, false).ErrorToProblem(upgrade, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusForbidden, p.Status)
	assert.Equal(t, TypeWebSocketUpgrade, p.Type)
}

func TestProblemDetails_MarshalJSON(t *testing.T) {
	p := NewProblemDetails(http.StatusBadRequest, TypeValidation, "Bad", "", "").
		WithExtension("trace_id", "abc").
		WithExtension("status", 999)

	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"/errors/validation","title":"Bad","status":400,"trace_id":"abc"}`, string(out))
}

func TestAppError(t *testing.T) {
	cause := fmt.Errorf("root")
	err := NewConfigError("load key file", cause).WithContext("path", "keys.yaml")

	assert.Equal(t, "[CONFIG] load key file: root", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "keys.yaml", err.Context["path"])
}
