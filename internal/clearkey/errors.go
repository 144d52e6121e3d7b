package clearkey

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRequest is returned when the payload is not a clearkey request
	ErrMalformedRequest = errors.New("malformed license request")
	// ErrNoKeyIDs is returned when the request lists no key ids
	ErrNoKeyIDs = errors.New("license request has no key ids")
	// ErrUnknownKeyID is returned when the requested kid is not in the key table
	ErrUnknownKeyID = errors.New("unknown key id")
)

// PolicyError reports an unrecognised unknown-key policy.
type PolicyError struct {
	Value string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("unknown key policy %q: want %q or %q", e.Value, PolicyReject, PolicyOmit)
}
