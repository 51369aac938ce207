// Package errs defines the error kinds surfaced by dbrag. Every error that
// crosses a component boundary carries a Kind so handlers and the answer
// fusion can report "<Kind>: <message>" without inspecting concrete types.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error by where it happened.
type Kind string

const (
	KindConnection          Kind = "ConnectionError"
	KindSchemaIntrospection Kind = "SchemaIntrospectionError"
	KindSessionNotFound     Kind = "SessionNotFoundError"
	KindForbiddenStatement  Kind = "ForbiddenStatementError"
	KindQueryExecution      Kind = "QueryExecutionError"
	KindEmbeddingBackend    Kind = "EmbeddingBackendError"
	KindGeneration          Kind = "GenerationError"
	KindRequestTimeout      Kind = "RequestTimeoutError"
	KindInvalidInput        Kind = "InvalidInputError"
	KindNotFound            Kind = "NotFoundError"
	KindInternal            Kind = "InternalError"
)

// Error is the structured error used across packages.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		if e.Message == "" {
			return e.Cause.Error()
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so errors.Is(err, errs.SessionNotFound)
// works regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap keeps the cause reachable through errors.Is/As.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Sentinels for errors.Is comparisons.
var (
	Connection          = New(KindConnection, "")
	SchemaIntrospection = New(KindSchemaIntrospection, "")
	SessionNotFound     = New(KindSessionNotFound, "")
	ForbiddenStatement  = New(KindForbiddenStatement, "")
	QueryExecution      = New(KindQueryExecution, "")
	EmbeddingBackend    = New(KindEmbeddingBackend, "")
	Generation          = New(KindGeneration, "")
	RequestTimeout      = New(KindRequestTimeout, "")
	InvalidInput        = New(KindInvalidInput, "")
	NotFound            = New(KindNotFound, "")
)

// KindOf extracts the kind from an error chain. Errors that never passed
// through this package report KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Describe renders "<Kind>: <message>", the form used in answer placeholders
// and HTTP error bodies.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", KindOf(err), err.Error())
}
