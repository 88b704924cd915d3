package speech

import "errors"

// Common errors for the voice session.
var (
	// Session errors
	ErrSessionBusy     = errors.New("a response cycle is already in flight")
	ErrSessionClosed   = errors.New("session has been closed")
	ErrClipTooShort    = errors.New("captured clip too short to transcribe")
	ErrEmptyText       = errors.New("no text to speak")
	ErrInvalidState    = errors.New("invalid state for operation")
	ErrStateTransition = errors.New("invalid state transition")

	// Playback errors
	ErrDeviceUnavailable = errors.New("audio output device unavailable")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("required configuration missing")
)

// IsRecoverableError reports whether the session can keep running after
// err. Unrecoverable errors require tearing the session down.
func IsRecoverableError(err error) bool {
	if err == nil {
		return true
	}
	switch {
	case errors.Is(err, ErrSessionClosed),
		errors.Is(err, ErrDeviceUnavailable),
		errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrMissingConfig):
		return false
	}
	return true
}
