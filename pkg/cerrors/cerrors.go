// Copyright (c) Facebook, Inc. and its affiliates.
//
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package cerrors

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the executor answers a lookup with 404, or when
// an entity cannot be found in storage. Depending on the caller it means
// "look elsewhere" or "this is gone for good".
var ErrNotFound = errors.New("not found")

// ErrUnrecoverable marks failures that retrying cannot fix: missing
// configuration, or a build that vanished from the executor.
var ErrUnrecoverable = errors.New("unrecoverable error")

// ErrInvalidResult is returned when the executor reports a status or result
// code outside of the known vocabulary.
var ErrInvalidResult = errors.New("invalid result")

// HTTPError is returned by executor calls which got a response that is
// neither a success nor a 404.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
}

// Error returns the error string associated with the error
func (e *HTTPError) Error() string {
	return fmt.Sprintf("invalid response for %s %s: status code was %d", e.Method, e.URL, e.StatusCode)
}

// UnrecoverableError wraps the reason of an unrecoverable failure. It
// matches ErrUnrecoverable with errors.Is.
type UnrecoverableError struct {
	Reason string
	Err    error
}

// Error returns the error string associated with the error
func (e *UnrecoverableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unrecoverable: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("unrecoverable: %s", e.Reason)
}

// Unwrap returns the underlying error, if any.
func (e *UnrecoverableError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrUnrecoverable) succeed.
func (e *UnrecoverableError) Is(target error) bool {
	return target == ErrUnrecoverable
}

// Unrecoverable returns a new UnrecoverableError.
func Unrecoverable(reason string, err error) error {
	return &UnrecoverableError{Reason: reason, Err: err}
}

// InvalidResultError reports a result code that could not be mapped. It
// matches ErrInvalidResult with errors.Is.
type InvalidResultError struct {
	// Kind is the vocabulary the value was checked against, e.g. "build
	// result" or "test result".
	Kind  string
	Value string
}

// Error returns the error string associated with the error
func (e *InvalidResultError) Error() string {
	return fmt.Sprintf("invalid %s: %q", e.Kind, e.Value)
}

// Is makes errors.Is(err, ErrInvalidResult) succeed.
func (e *InvalidResultError) Is(target error) bool {
	return target == ErrInvalidResult
}
