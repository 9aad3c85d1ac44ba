// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package server

import (
	"errors"
	"fmt"
	"net/http"

	"storj.io/filevault/pkg/auth"
	"storj.io/filevault/pkg/link"
)

// ErrorResponse is a struct for error responses that also implements the
// error interface. Code is the machine readable error kind from the API
// contract; Message carries an optional developer facing detail.
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error"`
	Message    string `json:"message,omitempty"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return e.Code + ": " + e.Message
	}
	return e.Code
}

var (
	// ErrUnauthorized is returned for a missing or unknown api key, a bad
	// token signature, or an expired token.
	ErrUnauthorized = &ErrorResponse{StatusCode: http.StatusUnauthorized, Code: "unauthorized"}

	// ErrForbidden is returned when the resolved role is insufficient.
	ErrForbidden = &ErrorResponse{StatusCode: http.StatusForbidden, Code: "forbidden"}

	// ErrNotFound is returned for tombstoned or absent records and for
	// blobs missing on disk.
	ErrNotFound = &ErrorResponse{StatusCode: http.StatusNotFound, Code: "not_found"}
)

func errInvalidRequest(format string, args ...interface{}) *ErrorResponse {
	return &ErrorResponse{
		StatusCode: http.StatusBadRequest,
		Code:       "invalid_request",
		Message:    fmt.Sprintf(format, args...),
	}
}

func errInternal(err error) *ErrorResponse {
	return &ErrorResponse{
		StatusCode: http.StatusInternalServerError,
		Code:       "internal_error",
		Message:    err.Error(),
	}
}

// asErrorResponse classifies any error from the lower layers into the API
// taxonomy. Unclassified errors become internal_error with the developer
// facing detail preserved.
func asErrorResponse(err error) *ErrorResponse {
	var response *ErrorResponse
	switch {
	case errors.As(err, &response):
		return response
	case errors.Is(err, auth.ErrUnauthorized),
		errors.Is(err, link.ErrBadSignature),
		errors.Is(err, link.ErrExpired):
		return ErrUnauthorized
	case errors.Is(err, link.ErrMalformed):
		return errInvalidRequest("invalid token")
	}
	return errInternal(err)
}
