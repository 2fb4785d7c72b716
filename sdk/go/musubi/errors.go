// Package musubi provides a Go client for the Musubi shift-matching API.
package musubi

import (
	"errors"
	"fmt"
)

// Error represents an error from the Musubi API with the HTTP status code
// and the server's error code and message.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("musubi: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 404
	}
	return false
}

// IsUnauthorized returns true if the error is a 401.
func IsUnauthorized(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 401
	}
	return false
}

// IsForbidden returns true if the error is a 403.
func IsForbidden(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 403
	}
	return false
}

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 429
	}
	return false
}

// IsConflict returns true if the error is a 409. The server returns 409 for
// both INVALID_STATE and CONCURRENT_UPDATE; use IsInvalidState or
// IsConcurrentUpdate to tell them apart.
func IsConflict(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 409
	}
	return false
}

// IsInvalidState returns true if the server rejected the request because the
// resource is not in a state that permits it, such as responding to a
// proposal that already expired.
func IsInvalidState(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == "INVALID_STATE"
	}
	return false
}

// IsConcurrentUpdate returns true if the request lost a version race with a
// concurrent writer. Retrying after re-reading the resource usually
// succeeds.
func IsConcurrentUpdate(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == "CONCURRENT_UPDATE"
	}
	return false
}
