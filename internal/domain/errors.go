package domain

import "errors"

var (
	// ErrEraNotFound is returned when an era id is unknown to the content source.
	ErrEraNotFound = errors.New("era not found")
	// ErrEventNotFound is returned when an event id is unknown to the content source.
	ErrEventNotFound = errors.New("event not found")
	// ErrUnknownBlockKind indicates a content block with an unsupported discriminant.
	ErrUnknownBlockKind = errors.New("unknown content block kind")
	// ErrQuizStateEventRequired is returned when quiz state is cleared without naming the event.
	ErrQuizStateEventRequired = errors.New("quiz state: event id required")
	// ErrQuizStateEventMismatch is returned when the state and the explicit event id disagree.
	ErrQuizStateEventMismatch = errors.New("quiz state: event id mismatch")
	// ErrQuizLocked is returned when a quiz is requested before the event is read.
	ErrQuizLocked = errors.New("quiz locked until the event is read")
	// ErrSessionNotFound is returned when a quiz session id is not active.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrSessionClosed is returned when acting on a completed or abandoned session.
	ErrSessionClosed = errors.New("quiz session closed")
	// ErrOptionOutOfRange indicates an option index outside the question's options.
	ErrOptionOutOfRange = errors.New("option index out of range")
	// ErrNotRevealed is returned when advancing manually before an incorrect answer was revealed.
	ErrNotRevealed = errors.New("current question has not been revealed")
)
