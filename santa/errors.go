package santa

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyName                = errors.New("name is required")
	ErrEmptyItems               = errors.New("at least one wishlist item is required")
	ErrDeviceAlreadyBound       = errors.New("device already submitted under another name")
	ErrInsufficientParticipants = errors.New("at least 2 participants are needed to generate matches")
	ErrDerangementFailed        = errors.New("could not generate matches, try again")
	ErrNotHost                  = errors.New("only the host can do that")
	ErrNoNewParticipants        = errors.New("matches already exist and nobody new has joined")
	ErrMalformedRecord          = errors.New("malformed record")
	ErrInvalidRoom              = errors.New("invalid room code")
	ErrIndexOutOfRange          = errors.New("no wishlist at that position")
	ErrSessionClosed            = errors.New("room session is closed")
)

// DeviceBoundError is returned when a device that already owns a
// submission tries to submit under a different name.
type DeviceBoundError struct {
	ExistingName string
}

func (e *DeviceBoundError) Error() string {
	return fmt.Sprintf("this device already submitted a wishlist as %q", e.ExistingName)
}

func (e *DeviceBoundError) Is(target error) bool {
	return target == ErrDeviceAlreadyBound
}

// MalformedRecordError describes a stored value that failed validation at
// the deserialisation boundary.
type MalformedRecordError struct {
	Field string
	Err   error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed %s record: %v", e.Field, e.Err)
}

func (e *MalformedRecordError) Unwrap() error {
	return e.Err
}

func (e *MalformedRecordError) Is(target error) bool {
	return target == ErrMalformedRecord
}

// Kind buckets errors by how callers should react to them.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthorization
	KindConflict
	KindExhausted
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindExhausted:
		return "exhausted"
	case KindMalformed:
		return "malformed"
	}
	return "unknown"
}

// KindOf classifies err. Anything not produced by this package is
// KindUnknown, which callers treat as a transport failure.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrEmptyName),
		errors.Is(err, ErrEmptyItems),
		errors.Is(err, ErrInsufficientParticipants),
		errors.Is(err, ErrInvalidRoom),
		errors.Is(err, ErrIndexOutOfRange):
		return KindValidation
	case errors.Is(err, ErrNotHost),
		errors.Is(err, ErrDeviceAlreadyBound):
		return KindAuthorization
	case errors.Is(err, ErrNoNewParticipants):
		return KindConflict
	case errors.Is(err, ErrDerangementFailed):
		return KindExhausted
	case errors.Is(err, ErrMalformedRecord):
		return KindMalformed
	}
	return KindUnknown
}
