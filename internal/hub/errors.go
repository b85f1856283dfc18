package hub

import "errors"

// Failures on the live path are logged and contained; these sentinels let
// callers and tests tell them apart with errors.Is.
var (
	// ErrInvalidToken means the handshake credential was missing or failed
	// verification. The connection stays anonymous.
	ErrInvalidToken = errors.New("invalid token")

	// ErrMalformedEnvelope covers unparseable frames and frames missing a
	// required field. The frame is dropped.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrStorageWrite is a blob write failure. The message is still persisted.
	ErrStorageWrite = errors.New("storage write failed")

	// ErrPersistence is a message store failure. The message is not routed.
	ErrPersistence = errors.New("persistence failed")

	// ErrTransportSend is a failed send to one connection.
	ErrTransportSend = errors.New("transport send failed")

	// ErrClosed is returned by Register once the hub has been shut down.
	ErrClosed = errors.New("hub closed")
)
