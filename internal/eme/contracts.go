package eme

import "context"

// Init data types accepted by clearkey.
const (
	InitDataWebM   = "webm"
	InitDataKeyIDs = "keyids"
)

// MessageTypeLicenseRequest is the message type of a first license request.
const MessageTypeLicenseRequest = "license-request"

// MediaCapability names one content type a configuration needs.
type MediaCapability struct {
	ContentType string `json:"contentType"`
}

// KeySystemConfiguration is the capability descriptor passed to key system
// negotiation.
type KeySystemConfiguration struct {
	InitDataTypes     []string          `json:"initDataTypes"`
	AudioCapabilities []MediaCapability `json:"audioCapabilities,omitempty"`
	VideoCapabilities []MediaCapability `json:"videoCapabilities,omitempty"`
}

// EncryptedEvent is raised by the media element when it meets encrypted
// content.
type EncryptedEvent struct {
	InitDataType string
	InitData     []byte
}

// MessageEvent is raised by a key session when it needs a license.
type MessageEvent struct {
	MessageType string
	Message     []byte
}

// KeySystemAccessRequester negotiates access to a key system.
type KeySystemAccessRequester interface {
	RequestMediaKeySystemAccess(ctx context.Context, keySystem string, configs []KeySystemConfiguration) (KeySystemAccess, error)
}

// KeySystemAccess is a granted key system, able to create media keys.
type KeySystemAccess interface {
	KeySystem() string
	Configuration() KeySystemConfiguration
	CreateMediaKeys(ctx context.Context) (MediaKeys, error)
}

// MediaKeys creates key sessions.
type MediaKeys interface {
	CreateSession(ctx context.Context) (KeySession, error)
}

// KeySession is one license exchange with the CDM.
type KeySession interface {
	ID() string
	// OnMessage registers a handler for message events. Handlers must be
	// registered before GenerateRequest.
	OnMessage(handler func(MessageEvent))
	GenerateRequest(ctx context.Context, initDataType string, initData []byte) error
	// Update hands a license to the CDM.
	Update(ctx context.Context, response []byte) error
	Close(ctx context.Context) error
}

// LicenseResponder turns a license request payload into a license payload.
type LicenseResponder interface {
	Respond(ctx context.Context, payload []byte) ([]byte, error)
}

// SetupMediaKeys negotiates clearkey access and creates media keys.
func SetupMediaKeys(ctx context.Context, requester KeySystemAccessRequester, keySystem string, configs []KeySystemConfiguration) (MediaKeys, error) {
	access, err := requester.RequestMediaKeySystemAccess(ctx, keySystem, configs)
	if err != nil {
		return nil, err
	}
	return access.CreateMediaKeys(ctx)
}
