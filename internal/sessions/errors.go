package sessions

import (
	"errors"
	"fmt"
)

var (
	// ErrSendInFlight is returned when a session already has a send awaiting its response
	ErrSendInFlight = errors.New("a message is already awaiting a response for this session")

	// ErrUnknownSession is returned for operations on ids absent from the session store
	ErrUnknownSession = errors.New("unknown session")

	// ErrNotActive is returned when appending to history of a session that is not cached
	ErrNotActive = errors.New("session is not active")
)

// ValidationError represents input rejected before any backend call
type ValidationError struct {
	Field  string // "text", "name"
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
