package client

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass represents a classification of query failures.
type ErrorClass string

const (
	// ErrorClassNetwork represents timeouts, connection resets and other transport errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents response bodies that could not be decoded.
	ErrorClassDecode ErrorClass = "decode"

	// ErrorClassCapacity represents 429/502/503/504: the service is overloaded.
	ErrorClassCapacity ErrorClass = "capacity"

	// ErrorClassClient represents other 4xx responses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents other 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassQuery represents a query that could not be built or sent.
	ErrorClassQuery ErrorClass = "query"

	// ErrorClassShape represents valid JSON without results.bindings.
	ErrorClassShape ErrorClass = "shape"

	// ErrorClassCanceled represents context cancellation.
	ErrorClassCanceled ErrorClass = "canceled"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is wrapped by the error of a RetryableFailure outcome.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrEmptyQuery is returned for blank query text.
	ErrEmptyQuery = errors.New("empty query")

	// ErrUnexpectedShape is returned when the response lacks results.bindings.
	ErrUnexpectedShape = errors.New("response has no results.bindings")
)

// QueryError is a classified failure of one query attempt.
type QueryError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("query %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("query %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// Retryable reports whether failures of this class are worth retrying.
func Retryable(class ErrorClass) bool {
	switch class {
	case ErrorClassNetwork, ErrorClassDecode, ErrorClassCapacity:
		return true
	default:
		return false
	}
}

// ClassifyStatus maps an HTTP status >= 400 to an error class.
func ClassifyStatus(status int) ErrorClass {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return ErrorClassCapacity
	}
	if status >= 500 {
		return ErrorClassServer
	}
	return ErrorClassClient
}
