// Package apperr defines the closed set of errors the engine reports to callers.
//
// Each error carries a machine-readable code, a human message and the HTTP status
// the controller answers with. Errors are only built through the factory
// functions below; anything else reaching the API boundary is reported as an
// internal server error.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a class of error.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidParameter
	KindTestNotFound
	KindTestRunNotFound
	KindInvalidRegionRequest
	KindInvalidConfiguration
	KindInvalidInfrastructureConfiguration
	KindNoBaselineSet
	KindStackNotFound
	KindForbidden
)

var kindInfo = map[Kind]struct {
	code   string
	status int
}{
	KindInternal:                           {"INTERNAL_SERVER_ERROR", http.StatusInternalServerError},
	KindInvalidParameter:                   {"InvalidParameter", http.StatusBadRequest},
	KindTestNotFound:                       {"TEST_NOT_FOUND", http.StatusNotFound},
	KindTestRunNotFound:                    {"TESTRUN_NOT_FOUND", http.StatusNotFound},
	KindInvalidRegionRequest:               {"InvalidRegionRequest", http.StatusBadRequest},
	KindInvalidConfiguration:               {"InvalidConfiguration", http.StatusBadRequest},
	KindInvalidInfrastructureConfiguration: {"InvalidInfrastructureConfiguration", http.StatusBadRequest},
	KindNoBaselineSet:                      {"NO_BASELINE_SET", http.StatusConflict},
	KindStackNotFound:                      {"STACK_NOT_FOUND", http.StatusNotFound},
	KindForbidden:                          {"FORBIDDEN", http.StatusForbidden},
}

// Error is an engine error with a code and HTTP status.
type Error struct {
	Kind    Kind
	Message string
	// Err is the optional underlying cause.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code(), e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code(), e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Code returns the machine-readable code, e.g. "TEST_NOT_FOUND".
func (e *Error) Code() string { return kindInfo[e.Kind].code }

// Status returns the HTTP status code for the error.
func (e *Error) Status() int { return kindInfo[e.Kind].status }

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// InvalidParameter reports malformed input.
func InvalidParameter(format string, args ...any) *Error {
	return newf(KindInvalidParameter, format, args...)
}

// TestNotFound reports an unknown scenario.
func TestNotFound(testID string) *Error {
	return newf(KindTestNotFound, "testId '%s' not found", testID)
}

// TestRunNotFound reports an unknown run of an existing scenario.
func TestRunNotFound(testID, testRunID string) *Error {
	return newf(KindTestRunNotFound, "testRunId '%s' not found for testId '%s'", testRunID, testID)
}

// InvalidRegionRequest reports a request naming a region that cannot be used.
func InvalidRegionRequest(format string, args ...any) *Error {
	return newf(KindInvalidRegionRequest, format, args...)
}

// InvalidConfiguration reports a malformed or missing engine configuration.
func InvalidConfiguration(format string, args ...any) *Error {
	return newf(KindInvalidConfiguration, format, args...)
}

// NoInfrastructure reports a region without stored infrastructure configuration.
func NoInfrastructure(region string) *Error {
	return newf(KindInvalidInfrastructureConfiguration,
		"no stored infrastructure configuration for region %s", region)
}

// InvalidInfrastructure reports stored infrastructure data that cannot be used.
func InvalidInfrastructure(format string, args ...any) *Error {
	return newf(KindInvalidInfrastructureConfiguration, format, args...)
}

// NoBaselineSet reports a clear request on a scenario without a baseline.
func NoBaselineSet(testID string) *Error {
	return newf(KindNoBaselineSet, "no baseline set for testId '%s'", testID)
}

// StackNotFound reports a missing deployment stack.
func StackNotFound(name string) *Error {
	return newf(KindStackNotFound, "stack '%s' not found", name)
}

// Forbidden reports that the engine lacks permission to inspect the deployment.
func Forbidden(err error) *Error {
	return &Error{Kind: KindForbidden, Message: "access denied", Err: err}
}

// Internal wraps an unexpected failure.
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err's chain contains an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// StatusFromError maps any error to an HTTP status and code.
// Errors outside this package are internal server errors.
func StatusFromError(err error) (int, string) {
	if e, ok := As(err); ok {
		return e.Status(), e.Code()
	}
	info := kindInfo[KindInternal]
	return info.status, info.code
}
