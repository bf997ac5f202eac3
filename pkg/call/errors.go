package call

import "errors"

var (
	// ErrPermissionDenied means the user denied microphone access.
	// It is fatal to the current call.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrSessionClosed is returned from operations on a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrMicBusy means another component currently owns the microphone.
	ErrMicBusy = errors.New("microphone owned by another listener")
)
