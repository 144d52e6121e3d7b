package clearkey

const (
	// KeySystem is the EME key system string for clearkey
	KeySystem = "org.w3.clearkey"
	// KeyTypeOctet is the JWK key type of a symmetric key
	KeyTypeOctet = "oct"
	// AlgorithmA128KW is the JWK algorithm clearkey licenses carry
	AlgorithmA128KW = "A128KW"
)

// Session types a request may name.
const (
	SessionTemporary         = "temporary"
	SessionPersistentLicense = "persistent-license"
)

// LicenseRequest is the clearkey license request a CDM emits in its
// message event.
type LicenseRequest struct {
	KeyIDs []string `json:"kids" validate:"required,min=1"`
	// Type is informational. Unrecognised session types are logged and
	// served.
	Type string `json:"type,omitempty"`
}

// JSONWebKey is one symmetric key in a license.
type JSONWebKey struct {
	KeyType   string `json:"kty"`
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid"`
	Key       string `json:"k,omitempty"`
}

// LicenseResponse is a JSON Web Key Set handed back to the CDM.
type LicenseResponse struct {
	Keys []JSONWebKey `json:"keys"`
}

// UnknownKeyPolicy decides what happens when a requested kid is not in the
// key table.
type UnknownKeyPolicy string

const (
	// PolicyReject fails the request with ErrUnknownKeyID
	PolicyReject UnknownKeyPolicy = "reject"
	// PolicyOmit answers with a key entry that has no "k" member
	PolicyOmit UnknownKeyPolicy = "omit"
)

// ParsePolicy converts a config string to a policy.
func ParsePolicy(s string) (UnknownKeyPolicy, error) {
	switch UnknownKeyPolicy(s) {
	case PolicyReject, "":
		return PolicyReject, nil
	case PolicyOmit:
		return PolicyOmit, nil
	default:
		return "", &PolicyError{Value: s}
	}
}
