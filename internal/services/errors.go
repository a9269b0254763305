package services

import "errors"

// Domain errors returned by the chat services. Handlers map them to HTTP
// statuses and the socket gateway to `error` events.
var (
	// ErrAccessDenied: the caller is not one of the room's two participants
	ErrAccessDenied = errors.New("access denied")
	// ErrNotFound: unknown room, message, attachment or context
	ErrNotFound = errors.New("not found")
	// ErrInvalidMessage: kind/field mismatch, bad reply reference, closed room, rejected file
	ErrInvalidMessage = errors.New("invalid message")
	// ErrConflict: lost a creation race; recovered internally and never returned to clients
	ErrConflict = errors.New("conflict")
	// ErrStorage: persistence failed, nothing was committed
	ErrStorage = errors.New("storage failure")
)

// ErrRoomNotActive rejects writes to a closed room; it matches ErrInvalidMessage
var ErrRoomNotActive = invalid("room is not active")

// invalid wraps ErrInvalidMessage with a client-facing reason
func invalid(reason string) error {
	return &reasonError{kind: ErrInvalidMessage, reason: reason}
}

func storage(err error) error {
	return &reasonError{kind: ErrStorage, reason: "storage failure", cause: err}
}

type reasonError struct {
	kind   error
	reason string
	cause  error
}

func (e *reasonError) Error() string {
	if e.cause != nil {
		return e.reason + ": " + e.cause.Error()
	}
	return e.reason
}

func (e *reasonError) Is(target error) bool { return target == e.kind }

func (e *reasonError) Unwrap() error { return e.cause }

// Reason returns the message that is safe to show a client for err
func Reason(err error) string {
	var re *reasonError
	if errors.As(err, &re) && re.kind != ErrStorage {
		return re.reason
	}
	switch {
	case errors.Is(err, ErrAccessDenied):
		return "you are not a participant of this room"
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrInvalidMessage):
		return "invalid message"
	}
	return "internal error"
}
