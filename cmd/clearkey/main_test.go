package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emeharness/internal/clearkey"
	"emeharness/internal/mediasource"
	"emeharness/internal/services"
)

func runCmd(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Usage(t *testing.T) {
	code, _, stderr := runCmd(t, "")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "usage:")

	code, _, stderr = runCmd(t, "", "bogus")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, `unknown command "bogus"`)

	code, stdout, _ := runCmd(t, "", "help")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "clearkey license")
}

func TestRun_LicenseFromStdin(t *testing.T) {
	code, stdout, stderr := runCmd(t, `{"kids":["QU-g5jS0AZ7fyJfhfCE3hg"],"type":"temporary"}`, "license")
	require.Equal(t, exitOK, code, stderr)

	var license clearkey.LicenseResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &license))
	require.Len(t, license.Keys, 1)
	assert.Equal(t, "rL0i2Qg1GXh_NDdsQZSzlw", license.Keys[0].Key)
}

func TestRun_LicenseFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "request.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"kids":["LNsO1hGYU-eFBnHD6ZBsPA"]}`), 0o644))

	code, stdout, _ := runCmd(t, "", "license", path)
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "gIua2sOE3h5PVhQPStdhlA")
}

func TestRun_LicenseErrors(t *testing.T) {
	tests := []struct {
		name    string
		stdin   string
		args    []string
		want    int
		wantErr string
	}{
		{"unknown kid", `{"kids":["AAAAAAAAAAAAAAAAAAAAAA"]}`, []string{"license"}, exitError, "unknown key id"},
		{"malformed", `{`, []string{"license"}, exitError, "malformed"},
		{"bad policy", `{}`, []string{"license", "-policy", "ignore"}, exitUsage, "ignore"},
		{"missing file", ``, []string{"license", "/does/not/exist.json"}, exitError, "no such file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := runCmd(t, tt.stdin, tt.args...)
			assert.Equal(t, tt.want, code)
			assert.Contains(t, stderr, tt.wantErr)
		})
	}
}

func TestRun_LicenseOmitPolicy(t *testing.T) {
	code, stdout, _ := runCmd(t, `{"kids":["AAAAAAAAAAAAAAAAAAAAAA"]}`, "license", "-policy", "omit")
	require.Equal(t, exitOK, code)
	assert.NotContains(t, stdout, `"k"`)
}

func TestRun_Keys(t *testing.T) {
	code, stdout, _ := runCmd(t, "", "keys")
	require.Equal(t, exitOK, code)

	var resp services.KeyListResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Len(t, resp.Keys, 2)
}

func TestRun_Simulate(t *testing.T) {
	code, stdout, stderr := runCmd(t, "", "simulate", "-audio", "clear", "-video", "fullEncryption")
	require.Equal(t, exitOK, code, stderr)

	var report services.SimulationReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.True(t, report.AllUsable)
	assert.Len(t, report.Sessions, 1)
}

func TestRun_SimulateInvalidSelection(t *testing.T) {
	code, _, stderr := runCmd(t, "", "simulate", "-video", "clear")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "clear video")
}

func TestRun_SimulateLoadsMedia(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "media"), 0o755))
	sel, err := mediasource.SelectMedia(mediasource.FullEncryption, mediasource.None)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, filepath.FromSlash(sel.Audio.URL)), make([]byte, 700), 0o644))

	srv := httptest.NewServer(http.FileServer(http.Dir(root)))
	t.Cleanup(srv.Close)

	code, stdout, stderr := runCmd(t, "", "simulate", "-audio", "fullEncryption", "-video", "none",
		"-base-url", srv.URL+"/", "-chunk-size", "256")
	require.Equal(t, exitOK, code, stderr)

	var report services.SimulationReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	require.Len(t, report.Media, 1)
	assert.Equal(t, int64(700), report.Media[0].Bytes)
	assert.True(t, report.Media[0].Ended)
}
