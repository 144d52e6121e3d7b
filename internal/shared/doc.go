// Package shared holds helpers used by more than one package.
//
// testutil provides a buffered slog handler so tests can assert on the
// harness log lines (encrypted events, multi-key warnings, update failures)
// without parsing JSON output.
package shared
