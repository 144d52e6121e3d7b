package clearkey

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emeharness/internal/keytable"
	"emeharness/internal/shared/testutil"
)

const (
	videoKID = "LNsO1hGYU-eFBnHD6ZBsPA"
	audioKID = "QU-g5jS0AZ7fyJfhfCE3hg"
)

func newTestResponder(t *testing.T, opts ...Option) (*Responder, *testutil.BufferedSlogHandler) {
	logger, handler := testutil.NewTestLogger(t)
	opts = append([]Option{WithLogger(logger)}, opts...)
	return NewResponder(keytable.Default(), opts...), handler
}

func TestRespond_VideoKey(t *testing.T) {
	r, handler := newTestResponder(t)

	out, err := r.Respond(context.Background(), []byte(`{"kids":["LNsO1hGYU-eFBnHD6ZBsPA"]}`))
	require.NoError(t, err)

	assert.Equal(t,
		`{"keys":[{"kty":"oct","alg":"A128KW","kid":"LNsO1hGYU-eFBnHD6ZBsPA","k":"gIua2sOE3h5PVhQPStdhlA"}]}`,
		string(out))
	testutil.AssertNoLog(t, handler, "more than one key requested")
}

func TestRespond_AudioKeyWithSessionType(t *testing.T) {
	r, _ := newTestResponder(t)

	out, err := r.Respond(context.Background(), []byte(`{"kids":["QU-g5jS0AZ7fyJfhfCE3hg"],"type":"temporary"}`))
	require.NoError(t, err)

	license, err := ParseLicense(out)
	require.NoError(t, err)
	require.Len(t, license.Keys, 1)
	assert.Equal(t, audioKID, license.Keys[0].KeyID)
	assert.Equal(t, "rL0i2Qg1GXh_NDdsQZSzlw", license.Keys[0].Key)
	assert.Equal(t, KeyTypeOctet, license.Keys[0].KeyType)
	assert.Equal(t, AlgorithmA128KW, license.Keys[0].Algorithm)
}

func TestRespond_MultipleKeyIDsUsesFirst(t *testing.T) {
	r, handler := newTestResponder(t)

	payload := []byte(`{"kids":["QU-g5jS0AZ7fyJfhfCE3hg","LNsO1hGYU-eFBnHD6ZBsPA"]}`)
	out, err := r.Respond(context.Background(), payload)
	require.NoError(t, err)

	license, err := ParseLicense(out)
	require.NoError(t, err)
	require.Len(t, license.Keys, 1)
	assert.Equal(t, audioKID, license.Keys[0].KeyID)

	testutil.AssertLogContains(t, handler, slog.LevelWarn, "more than one key requested")
	testutil.AssertLogAttr(t, handler, "kid_count", int64(2))
}

func TestRespond_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{"empty kids", `{"kids":[]}`, ErrNoKeyIDs},
		{"missing kids", `{"type":"temporary"}`, ErrNoKeyIDs},
		{"not json", `kids please`, ErrMalformedRequest},
		{"not utf8", "\xff\xfe", ErrMalformedRequest},
		{"kids wrong type", `{"kids":"LNsO1hGYU-eFBnHD6ZBsPA"}`, ErrMalformedRequest},
		{"kid not base64url", `{"kids":["a+b/cdef"]}`, ErrMalformedRequest},
		{"unknown kid", `{"kids":["AAAAAAAAAAAAAAAAAAAAAA"]}`, ErrUnknownKeyID},
	}

	r, _ := newTestResponder(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := r.Respond(context.Background(), []byte(tt.payload))
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, out)
		})
	}
}

func TestRespond_UnrecognisedSessionType(t *testing.T) {
	r, handler := newTestResponder(t)

	out, err := r.Respond(context.Background(), []byte(`{"kids":["LNsO1hGYU-eFBnHD6ZBsPA"],"type":"forever"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"keys":[{"kty":"oct","alg":"A128KW","kid":"LNsO1hGYU-eFBnHD6ZBsPA","k":"gIua2sOE3h5PVhQPStdhlA"}]}`, string(out))
	testutil.AssertLogContains(t, handler, slog.LevelDebug, "unrecognised session type")
	testutil.AssertLogAttr(t, handler, "type", "forever")
}

func TestRespond_UnknownKeyOmitPolicy(t *testing.T) {
	r, handler := newTestResponder(t, WithPolicy(PolicyOmit))
	assert.Equal(t, PolicyOmit, r.Policy())

	out, err := r.Respond(context.Background(), []byte(`{"kids":["AAAAAAAAAAAAAAAAAAAAAA"]}`))
	require.NoError(t, err)
	assert.Equal(t, `{"keys":[{"kty":"oct","alg":"A128KW","kid":"AAAAAAAAAAAAAAAAAAAAAA"}]}`, string(out))

	var raw map[string][]map[string]any
	require.NoError(t, json.Unmarshal(out, &raw))
	assert.NotContains(t, raw["keys"][0], "k")
	testutil.AssertLogContains(t, handler, slog.LevelWarn, "key id not in key table")
}

func TestRespond_Concurrent(t *testing.T) {
	r, _ := newTestResponder(t)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		kid := videoKID
		if i%2 == 1 {
			kid = audioKID
		}
		wg.Add(1)
		go func(kid string) {
			defer wg.Done()
			payload, _ := json.Marshal(LicenseRequest{KeyIDs: []string{kid}})
			out, err := r.Respond(context.Background(), payload)
			if !assert.NoError(t, err) {
				return
			}
			license, err := ParseLicense(out)
			if assert.NoError(t, err) && assert.Len(t, license.Keys, 1) {
				assert.Equal(t, kid, license.Keys[0].KeyID)
			}
		}(kid)
	}
	wg.Wait()
}

func TestBuildRequest(t *testing.T) {
	raw, err := keytable.DecodeBase64URL(videoKID)
	require.NoError(t, err)

	payload, err := BuildRequest(SessionTemporary, raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kids":["LNsO1hGYU-eFBnHD6ZBsPA"],"type":"temporary"}`, string(payload))

	req, err := ParseRequest(payload)
	require.NoError(t, err)
	assert.Equal(t, []string{videoKID}, req.KeyIDs)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyReject, p)

	p, err = ParsePolicy("omit")
	require.NoError(t, err)
	assert.Equal(t, PolicyOmit, p)

	_, err = ParsePolicy("ignore")
	var perr *PolicyError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "ignore", perr.Value)
}
