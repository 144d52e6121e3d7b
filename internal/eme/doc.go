// Package eme models the encrypted media extension host contracts the
// harness drives, and the controller that reacts to their events.
//
// The flow mirrors a player page:
//
//	access, _ := cdm.RequestMediaKeySystemAccess(ctx, clearkey.KeySystem, configs)
//	keys, _ := access.CreateMediaKeys(ctx)
//	ctrl := eme.NewController(keys, responder, logger)
//	session, _ := ctrl.HandleEncrypted(ctx, eme.EncryptedEvent{InitDataType: "webm", InitData: kid})
//
// HandleEncrypted opens a key session and asks it to generate a license
// request. The session's message event is answered by the responder and
// the license is handed to Update without waiting for the result; update
// failures are logged and reported to the Notifier, never retried.
//
// ClearKeyCDM is an in-process implementation of the host side used by the
// CLI simulator and the tests.
package eme
