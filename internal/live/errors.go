package live

import (
	"errors"
	"net/http"
)

// Store-level sentinels. The service translates these into *Error values
// carrying an HTTP status classification.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrRoomNotFound        = errors.New("room not found")
	ErrRecordingNotFound   = errors.New("recording not found")
)

// Error is a business-rule violation raised by the service. The status
// classification is fixed at the construction site so the HTTP layer needs
// no further mapping logic.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

// AsError unwraps a service error, if err is one.
func AsError(err error) (*Error, bool) {
	var le *Error
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

func badRequest(msg string) *Error   { return &Error{Status: http.StatusBadRequest, Message: msg} }
func unauthorized(msg string) *Error { return &Error{Status: http.StatusUnauthorized, Message: msg} }
func forbidden(msg string) *Error    { return &Error{Status: http.StatusForbidden, Message: msg} }
func notFound(msg string) *Error     { return &Error{Status: http.StatusNotFound, Message: msg} }
func conflict(msg string) *Error     { return &Error{Status: http.StatusConflict, Message: msg} }
func gone(msg string) *Error         { return &Error{Status: http.StatusGone, Message: msg} }
