// Package herr is the hub's shared error taxonomy (spec.md §7), used by
// auth, cache, driver callers and the hub request handlers alike so that
// a single place (hub/router.go) maps Kind to an HTTP status code —
// mirroring the teacher's centralized `p.writeErr` call sites in
// ais/proxy.go.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package herr

import "fmt"

// Kind is the hub's error taxonomy, spec.md §7.
type Kind int

const (
	KindServerError Kind = iota
	KindValidation
	KindAuthTokenTimestamp
	KindBadPath
	KindInvalidInput
	KindDoesNotExist
	KindConflict
	KindNotEnoughProof
	KindPayloadTooLarge
	KindPreconditionFailed
)

// Error is the error type every handler in this module returns instead of
// a bare error.
type Error struct {
	Kind    Kind
	Message string

	// ETag is set on KindPreconditionFailed when the current object's
	// etag is known (spec.md §4.7).
	ETag string
	// OldestValidTokenTimestamp is set on KindAuthTokenTimestamp (spec.md §4.11).
	OldestValidTokenTimestamp int64
}

func (e *Error) Error() string { return e.Message }

func newErr(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *Error {
	return newErr(KindValidation, format, args...)
}

func BadPath(format string, args ...interface{}) *Error {
	return newErr(KindBadPath, format, args...)
}

func DoesNotExist(format string, args ...interface{}) *Error {
	return newErr(KindDoesNotExist, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return newErr(KindConflict, format, args...)
}

func PayloadTooLarge(format string, args ...interface{}) *Error {
	return newErr(KindPayloadTooLarge, format, args...)
}

func ServerError(format string, args ...interface{}) *Error {
	return newErr(KindServerError, format, args...)
}

func InvalidInput(format string, args ...interface{}) *Error {
	return newErr(KindInvalidInput, format, args...)
}

func NotEnoughProof(format string, args ...interface{}) *Error {
	return newErr(KindNotEnoughProof, format, args...)
}

func AuthTimestamp(floor int64) *Error {
	return &Error{
		Kind:                      KindAuthTokenTimestamp,
		Message:                   "AuthTokenTimestampValidationError: token iat is below the revocation floor",
		OldestValidTokenTimestamp: floor,
	}
}

func Precondition(etag string) *Error {
	return &Error{Kind: KindPreconditionFailed, Message: "precondition failed", ETag: etag}
}

// AsHubError unwraps err into a *Error, synthesizing a KindServerError
// wrapper for anything a dependency raised directly.
func AsHubError(err error) *Error {
	if err == nil {
		return nil
	}
	if he, ok := err.(*Error); ok {
		return he
	}
	return ServerError("%v", err)
}

// StatusCode maps a Kind to the HTTP status spec.md §6's error table names.
func (k Kind) StatusCode() int {
	switch k {
	case KindValidation, KindAuthTokenTimestamp:
		return 401
	case KindBadPath:
		return 403
	case KindDoesNotExist:
		return 404
	case KindNotEnoughProof:
		return 402
	case KindConflict:
		return 409
	case KindPayloadTooLarge:
		return 413
	case KindPreconditionFailed:
		return 412
	default:
		// KindInvalidInput falls here too: spec.md §6's error table does not
		// list it explicitly, so it takes the "other → 500" default.
		return 500
	}
}
