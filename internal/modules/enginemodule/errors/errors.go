// Package errors provides structured error handling for the engine.
// It defines error types, sentinel errors, and helpers so callers can
// classify failures with errors.Is and errors.As.
package errors

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// ErrorType classifies where an error originated.
type ErrorType string

const (
	ErrorTypeSession    ErrorType = "session"
	ErrorTypeScan       ErrorType = "scan"
	ErrorTypePreview    ErrorType = "preview"
	ErrorTypeQueue      ErrorType = "queue"
	ErrorTypePipeline   ErrorType = "pipeline"
	ErrorTypeStorage    ErrorType = "storage"
	ErrorTypeRegistry   ErrorType = "registry"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeInternal   ErrorType = "internal"
)

// Sentinel errors for common scenarios
var (
	// ErrHandleClosed indicates use of a handle after close
	ErrHandleClosed = errors.New("handle closed")

	// ErrInvalidState indicates a control call not allowed in the current phase
	ErrInvalidState = errors.New("invalid state")

	ErrTitleNotFound = errors.New("title not found")
	ErrJobNotFound   = errors.New("job not found")

	// ErrPreviewOutOfRange indicates a preview index outside the title's previews
	ErrPreviewOutOfRange = errors.New("preview index out of range")

	// ErrPreviewNotCached indicates no cached buffer for (title, index)
	ErrPreviewNotCached = errors.New("preview not cached")

	// ErrDecodeFailed indicates a source frame could not be decoded
	ErrDecodeFailed = errors.New("decode failed")

	// ErrNoReader indicates no registered reader accepts the source
	ErrNoReader = errors.New("no reader for source")

	ErrUnreadableSource   = errors.New("unreadable source")
	ErrWorkObjectNotFound = errors.New("work object not found")
	ErrCancelled          = errors.New("operation cancelled")
	ErrStageFailed        = errors.New("pipeline stage failed")
	ErrInvalidInput       = errors.New("invalid input")
)

// EngineError provides structured error information with context
type EngineError struct {
	Type    ErrorType
	Op      string
	Err     error
	Details map[string]interface{}
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s error in %s: %v", e.Type, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for sentinel errors
func (e *EngineError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// New creates a new EngineError
func New(errType ErrorType, op string, err error) *EngineError {
	return &EngineError{
		Type:    errType,
		Op:      op,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithDetail adds a key-value detail to the error
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	e.Details[key] = value
	return e
}

func SessionError(op string, err error) *EngineError    { return New(ErrorTypeSession, op, err) }
func ScanError(op string, err error) *EngineError       { return New(ErrorTypeScan, op, err) }
func PreviewError(op string, err error) *EngineError    { return New(ErrorTypePreview, op, err) }
func QueueError(op string, err error) *EngineError      { return New(ErrorTypeQueue, op, err) }
func PipelineError(op string, err error) *EngineError   { return New(ErrorTypePipeline, op, err) }
func StorageError(op string, err error) *EngineError    { return New(ErrorTypeStorage, op, err) }
func RegistryError(op string, err error) *EngineError   { return New(ErrorTypeRegistry, op, err) }
func ValidationError(op string, err error) *EngineError { return New(ErrorTypeValidation, op, err) }
func InternalError(op string, err error) *EngineError   { return New(ErrorTypeInternal, op, err) }

// Wrap wraps an error with operation context if it's not already an EngineError
func Wrap(err error, errType ErrorType, op string) error {
	if err == nil {
		return nil
	}
	var eErr *EngineError
	if errors.As(err, &eErr) {
		return err
	}
	return New(errType, op, err)
}

// GetType extracts the error type from an error
func GetType(err error) ErrorType {
	var eErr *EngineError
	if errors.As(err, &eErr) {
		return eErr.Type
	}
	return ErrorTypeInternal
}

// GetOperation extracts the operation from an error
func GetOperation(err error) string {
	var eErr *EngineError
	if errors.As(err, &eErr) {
		return eErr.Op
	}
	return "unknown"
}

// GetDetails extracts error details
func GetDetails(err error) map[string]interface{} {
	var eErr *EngineError
	if errors.As(err, &eErr) {
		return eErr.Details
	}
	return nil
}

// Is and As re-export the standard helpers so callers need one import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target interface{}) bool { return errors.As(err, target) }

// Recover converts a panic in the calling goroutine into an internal error
// stored in *errp. Use as `defer errors.Recover("op", &err)`.
func Recover(op string, errp *error) {
	if r := recover(); r != nil {
		*errp = InternalError(op, fmt.Errorf("panic: %v", r)).
			WithDetail("stack", string(debug.Stack()))
	}
}
