package monitor

import "errors"

var (
	// ErrInvalidTarget is returned by AddTarget for malformed identifiers
	ErrInvalidTarget = errors.New("invalid target")

	// ErrStopped is returned by AddTarget once the manager has been stopped
	ErrStopped = errors.New("monitor stopped")
)
