// Package errors provides structured error handling for pastebridge
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/memtensor/pastebridge/pkg/types"
)

// ErrorCode represents specific error codes
type ErrorCode string

const (
	// Validation errors
	ErrCodeValidation    ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrCodeMissingField  ErrorCode = "MISSING_FIELD"

	// Pipeline errors
	ErrCodeReadFailure    ErrorCode = "READ_FAILURE"
	ErrCodeExtractFailure ErrorCode = "EXTRACT_FAILURE"
	ErrCodeUploadFailure  ErrorCode = "UPLOAD_FAILURE"
	ErrCodeRewriteGap     ErrorCode = "REWRITE_GAP"
	ErrCodeReportFailure  ErrorCode = "REPORT_FAILURE"

	// State errors
	ErrCodeBusy           ErrorCode = "BUSY"
	ErrCodeEditorNotReady ErrorCode = "EDITOR_NOT_READY"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"

	// System errors
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeTimeout  ErrorCode = "TIMEOUT"
	ErrCodeStorage  ErrorCode = "STORAGE_ERROR"

	// Configuration errors
	ErrCodeConfigError    ErrorCode = "CONFIG_ERROR"
	ErrCodeConfigNotFound ErrorCode = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  ErrorCode = "CONFIG_INVALID"
)

// ErrBusy is matched by errors.Is when a paste is rejected because another one is in flight
var ErrBusy = stderrors.New("paste already in progress")

// PasteError represents a structured error in pastebridge
type PasteError struct {
	Type       types.ErrorType        `json:"type"`
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	StackTrace string                 `json:"stack_trace,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
}

// Error implements the error interface
func (e *PasteError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (caused by: %v)", e.Code, e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *PasteError) Unwrap() error {
	return e.Cause
}

// Is makes busy errors match ErrBusy
func (e *PasteError) Is(target error) bool {
	return target == ErrBusy && e.Code == ErrCodeBusy
}

// WithDetail adds a detail to the error
func (e *PasteError) WithDetail(key string, value interface{}) *PasteError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithRequestID adds a request ID to the error
func (e *PasteError) WithRequestID(requestID string) *PasteError {
	e.RequestID = requestID
	return e
}

// WithStackTrace adds a stack trace to the error
func (e *PasteError) WithStackTrace() *PasteError {
	e.StackTrace = getStackTrace()
	return e
}

// NewPasteError creates a new error
func NewPasteError(errType types.ErrorType, code ErrorCode, message string) *PasteError {
	return &PasteError{
		Type:    errType,
		Code:    code,
		Message: message,
	}
}

// NewPasteErrorWithCause creates a new error with a cause
func NewPasteErrorWithCause(errType types.ErrorType, code ErrorCode, message string, cause error) *PasteError {
	return &PasteError{
		Type:    errType,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Validation error constructors
func NewValidationError(message string) *PasteError {
	return NewPasteError(types.ErrorTypeValidation, ErrCodeValidation, message)
}

func NewInvalidInputError(message string) *PasteError {
	return NewPasteError(types.ErrorTypeValidation, ErrCodeInvalidInput, message)
}

func NewMissingFieldError(field string) *PasteError {
	return NewPasteError(types.ErrorTypeValidation, ErrCodeMissingField,
		fmt.Sprintf("missing required field: %s", field)).WithDetail("field", field)
}

// Pipeline error constructors

// NewReadFailure reports one clipboard representation that could not be read
func NewReadFailure(representation types.Representation, cause error) *PasteError {
	return NewPasteErrorWithCause(types.ErrorTypeExternal, ErrCodeReadFailure,
		fmt.Sprintf("cannot read %s", representation), cause).
		WithDetail("representation", string(representation))
}

// NewExtractFailure reports malformed embedded structure for one extractor
func NewExtractFailure(kind types.ExtractorKind, cause error) *PasteError {
	return NewPasteErrorWithCause(types.ErrorTypeValidation, ErrCodeExtractFailure,
		fmt.Sprintf("%s extraction failed", kind), cause).
		WithDetail("extractor", string(kind))
}

// NewUploadFailure reports a failed upload of a single task
func NewUploadFailure(task types.ImageTask, cause error) *PasteError {
	return NewPasteErrorWithCause(types.ErrorTypeExternal, ErrCodeUploadFailure,
		"image upload failed", cause).
		WithDetail("source_kind", string(task.SourceKind)).
		WithDetail("original_index", task.OriginalIndex)
}

// NewRewriteGap reports reference sites left without a resolved URL
func NewRewriteGap(sites, resolved int) *PasteError {
	return NewPasteError(types.ErrorTypeValidation, ErrCodeRewriteGap,
		fmt.Sprintf("%d reference sites but %d resolved urls", sites, resolved)).
		WithDetail("sites", sites).WithDetail("resolved", resolved)
}

func NewReportFailure(endpoint string, cause error) *PasteError {
	return NewPasteErrorWithCause(types.ErrorTypeExternal, ErrCodeReportFailure,
		"telemetry report failed", cause).WithDetail("endpoint", endpoint)
}

// State error constructors

// NewBusyError rejects a paste while another one holds the busy guard
func NewBusyError(key string) *PasteError {
	return NewPasteError(types.ErrorTypeConflict, ErrCodeBusy, ErrBusy.Error()).WithDetail("key", key)
}

func NewEditorNotReadyError(attempts int, cause error) *PasteError {
	return NewPasteErrorWithCause(types.ErrorTypeInternal, ErrCodeEditorNotReady,
		fmt.Sprintf("editor not ready after %d attempts", attempts), cause).
		WithDetail("attempts", attempts)
}

func NewNotFoundError(resource string) *PasteError {
	return NewPasteError(types.ErrorTypeNotFound, ErrCodeNotFound,
		fmt.Sprintf("%s not found", resource)).WithDetail("resource", resource)
}

// System error constructors
func NewInternalError(message string) *PasteError {
	return NewPasteError(types.ErrorTypeInternal, ErrCodeInternal, message)
}

func NewInternalErrorWithCause(message string, cause error) *PasteError {
	return NewPasteErrorWithCause(types.ErrorTypeInternal, ErrCodeInternal, message, cause)
}

func NewTimeoutError(operation string) *PasteError {
	return NewPasteError(types.ErrorTypeInternal, ErrCodeTimeout,
		fmt.Sprintf("%s operation timed out", operation)).WithDetail("operation", operation)
}

func NewStorageError(message string, cause error) *PasteError {
	return NewPasteErrorWithCause(types.ErrorTypeInternal, ErrCodeStorage, message, cause)
}

// Configuration error constructors
func NewConfigError(message string) *PasteError {
	return NewPasteError(types.ErrorTypeValidation, ErrCodeConfigError, message)
}

func NewConfigNotFoundError(configPath string) *PasteError {
	return NewPasteError(types.ErrorTypeNotFound, ErrCodeConfigNotFound,
		fmt.Sprintf("configuration file not found: %s", configPath)).WithDetail("config_path", configPath)
}

func NewConfigInvalidError(message string) *PasteError {
	return NewPasteError(types.ErrorTypeValidation, ErrCodeConfigInvalid, message)
}

// Helper functions
func getStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var trace strings.Builder
	for {
		frame, more := frames.Next()
		trace.WriteString(fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function))
		if !more {
			break
		}
	}

	return trace.String()
}

// IsPasteError checks if an error is, or wraps, a PasteError
func IsPasteError(err error) bool {
	return GetPasteError(err) != nil
}

// GetPasteError extracts a PasteError from an error chain
func GetPasteError(err error) *PasteError {
	var pasteErr *PasteError
	if stderrors.As(err, &pasteErr) {
		return pasteErr
	}
	return nil
}

// HasCode reports whether err carries the given code
func HasCode(err error, code ErrorCode) bool {
	pasteErr := GetPasteError(err)
	return pasteErr != nil && pasteErr.Code == code
}

// WrapError wraps an error as a PasteError
func WrapError(err error, errType types.ErrorType, code ErrorCode, message string) *PasteError {
	return NewPasteErrorWithCause(errType, code, message, err)
}

// ErrorList represents a list of errors
type ErrorList struct {
	Errors []*PasteError `json:"errors"`
}

// Error implements the error interface
func (el *ErrorList) Error() string {
	var messages []string
	for _, err := range el.Errors {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// Add adds an error to the list
func (el *ErrorList) Add(err *PasteError) {
	el.Errors = append(el.Errors, err)
}

// HasErrors returns true if there are errors
func (el *ErrorList) HasErrors() bool {
	return len(el.Errors) > 0
}

// ToError returns the ErrorList as an error if it has errors, otherwise nil
func (el *ErrorList) ToError() error {
	if el.HasErrors() {
		return el
	}
	return nil
}

// NewErrorList creates a new error list
func NewErrorList() *ErrorList {
	return &ErrorList{
		Errors: make([]*PasteError, 0),
	}
}

// Collect collects multiple errors into an ErrorList
func Collect(errors ...*PasteError) *ErrorList {
	el := NewErrorList()
	for _, err := range errors {
		if err != nil {
			el.Add(err)
		}
	}
	return el
}
