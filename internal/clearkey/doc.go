// Package clearkey answers clearkey license requests from a static key table.
//
// A content decryption module asks for keys with a JSON document listing the
// key ids it needs:
//
//	{"kids":["LNsO1hGYU-eFBnHD6ZBsPA"],"type":"temporary"}
//
// and expects a JSON Web Key Set in return:
//
//	{"keys":[{"kty":"oct","alg":"A128KW","kid":"LNsO1hGYU-eFBnHD6ZBsPA","k":"gIua2sOE3h5PVhQPStdhlA"}]}
//
// Key ids and key material are base64url encoded without padding. One key id
// is expected per request; anything else is logged and answered from the
// first id.
package clearkey
