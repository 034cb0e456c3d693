// Package faults defines the closed error taxonomy shared by every component.
// Errors carry a stable machine-readable code, a human message, and an
// optional wrapped cause.
package faults

import (
	"errors"
	"fmt"
)

// Code identifies a fault category. The set is closed: callers switch on
// codes, so new codes require a deliberate API change.
type Code string

const (
	// Validation
	CodeEventValidationFailed Code = "EVENT_VALIDATION_FAILED"

	// Not found
	CodeEventNotFound       Code = "EVENT_NOT_FOUND"
	CodeRoomNotFound        Code = "ROOM_NOT_FOUND"
	CodeParticipantNotFound Code = "PARTICIPANT_NOT_FOUND"

	// Authorization
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"

	// Transitions
	CodeInvalidStatusTransition Code = "INVALID_STATUS_TRANSITION"
	CodeNoLectureScheduled      Code = "NO_LECTURE_SCHEDULED"
	CodeNoLectureActive         Code = "NO_LECTURE_ACTIVE"

	// Capacity
	CodeRoomFull Code = "ROOM_FULL"

	// Persistence
	CodeDatabaseRead  Code = "DATABASE_READ_ERROR"
	CodeDatabaseWrite Code = "DATABASE_WRITE_ERROR"

	// Lecture lifecycle
	CodeLectureSchedulingFailed   Code = "LECTURE_SCHEDULING_FAILED"
	CodeLectureUpdateFailed       Code = "LECTURE_UPDATE_FAILED"
	CodeLectureCancellationFailed Code = "LECTURE_CANCELLATION_FAILED"
	CodeLectureListFailed         Code = "LECTURE_LIST_FAILED"
	CodeLectureDetailsFailed      Code = "LECTURE_DETAILS_FAILED"

	// Communication
	CodeCommsNotInitialized      Code = "COMMS_NOT_INITIALIZED"
	CodeCommunicationSetupFailed Code = "COMMUNICATION_SETUP_FAILED"
	CodeResourceAllocationFailed Code = "RESOURCE_ALLOCATION_FAILED"
	CodeResourceDeallocFailed    Code = "RESOURCE_DEALLOCATION_FAILED"
	CodeResourceStatusFailed     Code = "RESOURCE_STATUS_FAILED"
)

// Error is the concrete fault type carried across component boundaries.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on code so sentinel comparisons work across wrapping layers.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// New creates a fault with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a fault with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches an underlying cause to a fault.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the fault code from an error chain, or "" when the error
// does not originate from this package.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
