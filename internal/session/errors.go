package session

import "errors"

var (
	// ErrSessionBootstrap marks a credential fetch that failed while reconciling an identity change.
	ErrSessionBootstrap = errors.New("session.bootstrap")
	// ErrMirrorPersistence marks a failed best-effort write of the user record to the backend.
	ErrMirrorPersistence = errors.New("session.mirror_persistence")
	// ErrManagerClosed is returned by WaitReady once the manager has been closed.
	ErrManagerClosed = errors.New("session.closed")

	errMissingProvider = errors.New("session.missing_provider")
)
