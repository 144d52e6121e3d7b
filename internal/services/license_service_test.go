package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emeharness/internal/clearkey"
	"emeharness/internal/keytable"
	"emeharness/internal/shared/testutil"
)

const (
	videoKID = "LNsO1hGYU-eFBnHD6ZBsPA"
	audioKID = "QU-g5jS0AZ7fyJfhfCE3hg"
)

func newLicenseService(t *testing.T, opts ...clearkey.Option) (*LicenseService, *fakeBroadcaster, *testutil.BufferedSlogHandler) {
	t.Helper()
	logger, handler := testutil.NewTestLogger(t)
	keys := keytable.Default()
	metrics, _ := newTestMetrics(t)
	b := newFakeBroadcaster()
	responder := clearkey.NewResponder(keys, append([]clearkey.Option{clearkey.WithLogger(logger)}, opts...)...)
	return NewLicenseService(responder, keys, metrics, b, logger), b, handler
}

func TestLicenseService_Respond(t *testing.T) {
	svc, b, handler := newLicenseService(t)

	out, err := svc.Respond(context.Background(), []byte(`{"kids":["`+audioKID+`"],"type":"temporary"}`))
	require.NoError(t, err)

	var license clearkey.LicenseResponse
	require.NoError(t, json.Unmarshal(out, &license))
	require.Len(t, license.Keys, 1)
	assert.Equal(t, audioKID, license.Keys[0].KeyID)
	assert.Equal(t, "rL0i2Qg1GXh_NDdsQZSzlw", license.Keys[0].Key)
	assert.Equal(t, "oct", license.Keys[0].KeyType)
	assert.Equal(t, "A128KW", license.Keys[0].Algorithm)

	notices := b.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, audioKID, notices[0].Served)
	assert.Empty(t, notices[0].Error)

	testutil.AssertLogContains(t, handler, slog.LevelInfo, "license issued")
	testutil.AssertLogAttr(t, handler, "key_name", "audio")
}

func TestLicenseService_MatchesResponderBytes(t *testing.T) {
	svc, _, _ := newLicenseService(t)
	direct := clearkey.NewResponder(keytable.Default())

	for _, payload := range []string{
		`{"kids":["` + videoKID + `"]}`,
		`{"kids":["` + audioKID + `","` + videoKID + `"],"type":"temporary"}`,
	} {
		want, err := direct.Respond(context.Background(), []byte(payload))
		require.NoError(t, err)
		got, err := svc.Respond(context.Background(), []byte(payload))
		require.NoError(t, err)
		assert.Equal(t, want, got, payload)
	}
}

func TestLicenseService_RespondFailures(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
		reason  string
	}{
		{name: "malformed json", payload: `{"kids":`, wantErr: clearkey.ErrMalformedRequest, reason: "malformed"},
		{name: "no kids", payload: `{"kids":[]}`, wantErr: clearkey.ErrNoKeyIDs, reason: "no_kids"},
		{name: "missing kids", payload: `{"type":"temporary"}`, wantErr: clearkey.ErrNoKeyIDs, reason: "no_kids"},
		{name: "unknown kid", payload: `{"kids":["AAAAAAAAAAAAAAAAAAAAAA"]}`, wantErr: clearkey.ErrUnknownKeyID, reason: "unknown_kid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, b, handler := newLicenseService(t)

			out, err := svc.Respond(context.Background(), []byte(tt.payload))
			assert.Nil(t, out)
			assert.ErrorIs(t, err, tt.wantErr)

			notices := b.Notices()
			require.Len(t, notices, 1)
			assert.NotEmpty(t, notices[0].Error)
			assert.Empty(t, notices[0].Served)

			testutil.AssertLogContains(t, handler, slog.LevelWarn, "license request rejected")
			testutil.AssertLogAttr(t, handler, "reason", tt.reason)
		})
	}
}

func TestLicenseService_Metrics(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	keys := keytable.Default()
	metrics, reader := newTestMetrics(t)
	svc := NewLicenseService(clearkey.NewResponder(keys, clearkey.WithPolicy(clearkey.PolicyOmit)), keys, metrics, nil, logger)
	ctx := context.Background()

	_, err := svc.Respond(ctx, []byte(`{"kids":["`+videoKID+`"]}`))
	require.NoError(t, err)
	_, err = svc.Respond(ctx, []byte(`{"kids":["`+videoKID+`","`+audioKID+`"]}`))
	require.NoError(t, err)
	_, err = svc.Respond(ctx, []byte(`{"kids":["AAAAAAAAAAAAAAAAAAAAAA"]}`))
	require.NoError(t, err, "omit policy answers unknown kids")
	_, err = svc.Respond(ctx, []byte(`not json`))
	require.Error(t, err)

	assert.Equal(t, int64(4), counterTotal(t, reader, "license_requests_total"))
	assert.Equal(t, int64(1), counterTotal(t, reader, "license_failures_total"))
	assert.Equal(t, int64(1), counterTotal(t, reader, "license_unknown_keys_total"))
	// the two kid request and the malformed one (zero kids) both differ from one
	assert.Equal(t, int64(2), counterTotal(t, reader, "license_multi_key_requests_total"))
}

func TestLicenseService_OmitPolicyDropsKeyMaterial(t *testing.T) {
	svc, _, _ := newLicenseService(t, clearkey.WithPolicy(clearkey.PolicyOmit))

	out, err := svc.Respond(context.Background(), []byte(`{"kids":["AAAAAAAAAAAAAAAAAAAAAA"]}`))
	require.NoError(t, err)
	assert.NotContains(t, string(out), `"k"`)
}

func TestLicenseService_Keys(t *testing.T) {
	svc, _, _ := newLicenseService(t)

	resp := svc.Keys(context.Background())
	assert.Equal(t, "org.w3.clearkey", resp.KeySystem)
	assert.Equal(t, "reject", resp.Policy)
	assert.Equal(t, []KeyInfo{
		{KeyID: videoKID, Name: "video"},
		{KeyID: audioKID, Name: "audio"},
	}, resp.Keys)
	assert.Equal(t, 2, svc.KeyCount())

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "gIua2sOE3h5PVhQPStdhlA")
}
