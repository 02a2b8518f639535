// Package blunder provides error-handling wrappers
//
// These wrappers allow callers to provide additional information in Go errors
// while still conforming to the Go error interface.
//
// This package provides APIs to add a scheduler-error-class tag and HTTP
// status information to regular Go errors.
//
// This package is currently implemented on top of the ansel1/merry package:
//   https://github.com/ansel1/merry
//
//   merry comes with built-in support for adding information to errors:
//    - stacktraces
//    - overriding the error message
//    - HTTP status codes
//    - end user error messages
//    - your own additional information
//
//   From merry godoc:
//     You can add any context information to an error with `e = merry.WithValue(e, "code", 12345)`
//     You can retrieve that value with `v, _ := merry.Value(e, "code").(int)`
package blunder

import (
	"fmt"

	"github.com/ansel1/merry"

	"github.com/NVIDIA/ufssched/logger"
)

// FsError classifies errors raised by the scheduler core into the five
// classes the error-handling policy distinguishes: resource exhaustion,
// invariant violation, planning anomaly, allocator deal failure, and
// stat-window inactivity. Unlike a POSIX errno, an FsError also carries the
// recovery policy for its class (see Class below).
type FsError int

const (
	// SuccessError is not an error.
	SuccessError FsError = iota

	// ErrResourceExhaustion: cache full with all slots pinned, or a block
	// submission failed. Not fatal; the caller backs off and re-queues.
	ErrResourceExhaustion

	// ErrInvariantViolation: corrupt cache bookkeeping (double dirty-flip
	// count mismatch, erase of a pinned slot mid-migration, unknown message
	// tag, negative pending weight). Fatal; the worker aborts.
	ErrInvariantViolation

	// ErrPlanningAnomaly: a measured value fell outside its expected range
	// (miss-rate vs. ghost estimate mismatch, leftover pending weight,
	// unexpected migration under a symmetric policy). Not fatal; the
	// caller warns, clamps to a legal range, and continues.
	ErrPlanningAnomaly

	// ErrAllocatorDealFailed: the allocator found no profitable deal in a
	// harvest pass (best-release cost equals best-compensate cost).
	// Terminates the current harvest pass cleanly.
	ErrAllocatorDealFailed

	// ErrStatWindowInactive: the stat window has not accumulated enough
	// samples to plan against. The caller skips planning and retries.
	ErrStatWindowInactive
)

// Class describes how a caller must respond to an FsError.
type Class int

const (
	// ClassBackoff: not fatal, re-queue and retry.
	ClassBackoff Class = iota
	// ClassFatal: abort the owning worker.
	ClassFatal
	// ClassWarn: log and continue, clamping to a legal range.
	ClassWarn
	// ClassAbortPass: cleanly stop the current pass, no persistent state to unwind.
	ClassAbortPass
	// ClassRetry: sleep and retry with no state change.
	ClassRetry
)

// Class returns the recovery policy associated with an FsError.
func (err FsError) Class() Class {
	switch err {
	case ErrResourceExhaustion:
		return ClassBackoff
	case ErrInvariantViolation:
		return ClassFatal
	case ErrPlanningAnomaly:
		return ClassWarn
	case ErrAllocatorDealFailed:
		return ClassAbortPass
	case ErrStatWindowInactive:
		return ClassRetry
	default:
		return ClassWarn
	}
}

// Default errno values for success and failure
const successErrno = 0
const failureErrno = -1

// Value returns the int value for the specified FsError constant
func (err FsError) Value() int {
	return int(err)
}

// NewError creates a new merry/blunder.FsError-annotated error using the given
// format string and arguments.
func NewError(errValue FsError, format string, a ...interface{}) error {
	return merry.WrapSkipping(fmt.Errorf(format, a...), 1).WithValue("errno", int(errValue))
}

// AddError is used to add a scheduler error class to a Go error.
//
// NOTE: Checks whether the error value has already been set
//       Note that by default merry will replace the old with the new.
func AddError(e error, errValue FsError) error {
	if e == nil {
		// Error hasn't been allocated yet; need to create one
		//
		// Usually we wouldn't want to mess with a nil error, but the caller of
		// this function obviously intends to make this a non-nil error.
		//
		// It's recommended that the caller create an error with some context
		// in the error string first, but we don't want to silently not work
		// if they forget to do that.
		return merry.New("regular error").WithValue("errno", int(errValue))
	}

	// For now, check and log if an errno has already been added to
	// this error, to help debugging in the cases where this was not intentional.
	prevValue := Errno(e)
	if prevValue != successErrno && prevValue != failureErrno {
		logger.Warnf("replacing error value %v with value %v for error %v.\n", prevValue, int(errValue), e)
	}

	// Make the error "merry", adding stack trace as well as errno value.
	// This is done all in one line because the merry APIs create a new error each time.
	return merry.WrapSkipping(e, 1).WithValue("errno", int(errValue))
}

func hasErrnoValue(e error) bool {
	// If the "errno" key/value was not present, merry.Value returns nil.
	tmp := merry.Value(e, "errno")
	if tmp != nil {
		return true
	}

	return false
}

func AddHTTPCode(e error, statusCode int) error {
	if e == nil {
		return merry.New("HTTP error").WithHTTPCode(statusCode)
	}

	return merry.WrapSkipping(e, 1).WithHTTPCode(statusCode)
}

// Errno extracts the FsError class from the error, if it was previously
// wrapped. Otherwise a default value is returned.
func Errno(e error) int {
	if e == nil {
		// nil error = success
		return successErrno
	}

	// If the "errno" key/value was not present, merry.Value returns nil.
	var errno = failureErrno
	tmp := merry.Value(e, "errno")
	if tmp != nil {
		errno = tmp.(int)
	}

	return errno
}

func ErrorString(e error) string {
	if e == nil {
		return ""
	}

	// Get the regular error string
	errPlusVal := e.Error()

	// Add the error value to it, if set
	var errno = failureErrno
	tmp := merry.Value(e, "errno")
	if tmp != nil {
		errno = tmp.(int)
		errPlusVal = fmt.Sprintf("%s. Error Value: %v\n", errPlusVal, errno)
	}

	return errPlusVal
}

// Is checks if an error matches a particular FsError
func Is(e error, theError FsError) bool {
	return Errno(e) == theError.Value()
}

// IsNot checks if an error is NOT a particular FsError
func IsNot(e error, theError FsError) bool {
	return Errno(e) != theError.Value()
}

// IsSuccess checks if an error is the success FsError
func IsSuccess(e error) bool {
	return Errno(e) == successErrno
}

// IsNotSuccess checks if an error is NOT the success FsError
func IsNotSuccess(e error) bool {
	return Errno(e) != successErrno
}

func ErrorUpdate(e error, currentVal FsError, changeToVal FsError) error {
	errVal := Errno(e)

	if errVal == int(currentVal) {
		// Change to the new value
		return merry.Wrap(e).WithValue("errno", int(changeToVal))
	}

	return e
}

// HTTPCode wraps merry.HTTPCode, which returns the HTTP status code. Default value is 500.
func HTTPCode(e error) int {
	return merry.HTTPCode(e)
}

// Location returns the file and line number of the code that generated the error.
// Returns zero values if e has no stacktrace.
func Location(e error) (file string, line int) {
	file, line = merry.Location(e)
	return
}

// SourceLine returns the string representation of Location's result
// Returns empty string if e has no stacktrace.
func SourceLine(e error) string {
	return merry.SourceLine(e)
}

// Details wraps merry.Details, which returns all error details including stacktrace in a string.
func Details(e error) string {
	return merry.Details(e)
}

// Stacktrace wraps merry.Stacktrace, which returns error stacktrace (if set) in a string.
func Stacktrace(e error) string {
	return merry.Stacktrace(e)
}
