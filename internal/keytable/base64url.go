package keytable

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// EncodeBase64URL encodes b with the base64url alphabet and no padding, the
// form clearkey uses for both key ids and key material.
func EncodeBase64URL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeBase64URL decodes an unpadded base64url string. Trailing padding is
// tolerated since some players emit it anyway.
func DecodeBase64URL(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, fmt.Errorf("decode base64url %q: %w", s, err)
	}
	return b, nil
}
