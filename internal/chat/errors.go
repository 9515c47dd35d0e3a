package chat

import "errors"

var (
	// ErrAuth rejects a connection or action. No state is mutated.
	ErrAuth = errors.New("authentication failed")
	// ErrValidation marks a malformed message. The event is dropped.
	ErrValidation = errors.New("invalid message")
	// ErrNotFound marks an unknown sender or recipient. The event is dropped.
	ErrNotFound = errors.New("user not found")
	// ErrPersistence is the only failure surfaced back to the sender.
	ErrPersistence = errors.New("message could not be saved")
	// ErrDelivery is best-effort and never rolls back a successful save.
	ErrDelivery = errors.New("delivery failed")
	// ErrUnknownConnection is returned by SendTo for a connection that is gone.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrHubClosed refuses connections that arrive after Shutdown.
	ErrHubClosed = errors.New("hub is shut down")
)
