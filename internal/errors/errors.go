package errors

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sort"
	"strings"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrTypeFilterValidation    ErrorType = "filter_validation"
	ErrTypeSchemaFieldNotFound ErrorType = "schema_field_not_found"
	ErrTypeBadRequest          ErrorType = "bad_request"
	ErrTypeRecordValidation    ErrorType = "record_validation"
	ErrTypeUnprocessable       ErrorType = "unprocessable"
	ErrTypeMissingContent      ErrorType = "missing_content"
	ErrTypeNotFound            ErrorType = "not_found"
	ErrTypeStorage             ErrorType = "storage"
	ErrTypeConfig              ErrorType = "config"
	ErrTypeNetwork             ErrorType = "network"
	ErrTypeInternal            ErrorType = "internal"
)

// Error represents a structured error with type and optional suggestions
type Error struct {
	Type        ErrorType
	Message     string
	Cause       error
	Suggestions []string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithSuggestion adds a suggestion for resolving the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// New creates a new structured error
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new structured error with formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with formatted message
func Wrapf(err error, errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// IsType checks if an error is of a specific type, looking through the whole chain
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var structErr *Error
		if !errors.As(err, &structErr) {
			return false
		}

		if structErr.Type == errType {
			return true
		}

		err = structErr.Cause
	}

	return false
}

// GetType returns the error type if it's a structured error
func GetType(err error) ErrorType {
	var aggErr *AggregateError
	if errors.As(err, &aggErr) {
		return ErrTypeInternal
	}

	var structErr *Error
	if errors.As(err, &structErr) {
		return structErr.Type
	}

	return ErrTypeInternal
}

// NewConfigError creates a configuration error with suggestions
func NewConfigError(message, field string) *Error {
	err := New(ErrTypeConfig, message)
	if field != "" {
		err.Message = fmt.Sprintf("%s (field: %s)", message, field)
	}

	return err.
		WithSuggestion("Check your configuration file syntax").
		WithSuggestion("Run with --help to see valid configuration options")
}

// NewFilterValidation creates a client-input error for a malformed filter
func NewFilterValidation(format string, args ...interface{}) *Error {
	return Newf(ErrTypeFilterValidation, format, args...)
}

// NewSchemaFieldNotFound reports an unresolved column or field as a filter validation error
func NewSchemaFieldNotFound(format string, args ...interface{}) *Error {
	return Wrap(
		Newf(ErrTypeSchemaFieldNotFound, format, args...),
		ErrTypeFilterValidation,
		fmt.Sprintf(format, args...),
	)
}

// HTTPStatus maps an error to the response status a caller should use
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	switch GetType(err) {
	case ErrTypeFilterValidation, ErrTypeSchemaFieldNotFound, ErrTypeBadRequest:
		return http.StatusBadRequest
	case ErrTypeRecordValidation, ErrTypeUnprocessable, ErrTypeMissingContent:
		return http.StatusUnprocessableEntity
	case ErrTypeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Detail renders an error as a response body
func Detail(err error) map[string]interface{} {
	var aggErr *AggregateError
	if errors.As(err, &aggErr) {
		return map[string]interface{}{"errors": aggErr.Failures()}
	}

	reason := err.Error()

	var structErr *Error
	if errors.As(err, &structErr) {
		reason = structErr.Message
	}

	return map[string]interface{}{
		"code":   HTTPStatus(err),
		"reason": reason,
	}
}

// AggregateError collects failures per identifier and reports them
// together. An identifier may fail more than once, e.g. a record owning
// several datasets.
type AggregateError struct {
	failures map[string][]string
	count    int
}

// NewAggregateError creates an empty aggregate
func NewAggregateError() *AggregateError {
	return &AggregateError{failures: make(map[string][]string)}
}

// Add records a failure for id; nil errors are ignored
func (e *AggregateError) Add(id string, err error) {
	if err == nil {
		return
	}

	e.failures[id] = append(e.failures[id], err.Error())
	e.count++
}

// Len returns the number of failures
func (e *AggregateError) Len() int {
	return e.count
}

// Failures returns a copy of the id -> messages map, messages in the order
// they were added
func (e *AggregateError) Failures() map[string][]string {
	out := make(map[string][]string, len(e.failures))
	for k, v := range e.failures {
		out[k] = slices.Clone(v)
	}

	return out
}

// IDs returns the failing identifiers in sorted order
func (e *AggregateError) IDs() []string {
	ids := make([]string, 0, len(e.failures))
	for id := range e.failures {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// ErrOrNil returns the aggregate only when it holds failures
func (e *AggregateError) ErrOrNil() error {
	if e == nil || e.count == 0 {
		return nil
	}

	return e
}

func (e *AggregateError) Error() string {
	parts := make([]string, 0, e.count)
	for _, id := range e.IDs() {
		for _, msg := range e.failures[id] {
			parts = append(parts, fmt.Sprintf("%s: %s", id, msg))
		}
	}

	return fmt.Sprintf("%s: %d fetch error(s): %s", ErrTypeInternal, len(parts), strings.Join(parts, "; "))
}
