// Package apperr implements the error taxonomy the consumer's retry engine
// classifies handler failures against: ModelError, BusinessError,
// TechnicalError (with ExternalServiceError as a retryable sub-kind), and
// unclassified errors which fall through to the "unknown" branch.
//
// Modeled on baechuer-real-time-ressys's domain.Error / errors.AppError:
// a small struct carrying a stable code plus an optional wrapped cause,
// dispatched with errors.As rather than type switches on sentinel values.
package apperr

import "fmt"

// ModelError means the payload did not match the entity's expected shape.
// The consumer acks it and logs; it is never retried.
type ModelError struct {
	Code  string
	Cause error
}

func (e *ModelError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("model error (%s): %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("model error (%s)", e.Code)
}

func (e *ModelError) Unwrap() error { return e.Cause }

// NewModelError wraps cause as a ModelError with the given stable code.
func NewModelError(code string, cause error) *ModelError {
	return &ModelError{Code: code, Cause: cause}
}

// BusinessError means the handler rejected the input as semantically
// invalid. Ack'd, logged at info; never retried.
type BusinessError struct {
	Code    string
	Message string
	Cause   error
}

func (e *BusinessError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("business error (%s): %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("business error (%s): %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error { return e.Cause }

// NewBusinessError builds a BusinessError.
func NewBusinessError(code, message string) *BusinessError {
	return &BusinessError{Code: code, Message: message}
}

// TechnicalError means the handler hit a transient condition. The consumer
// enters the retry ladder for it until MAX_RETRIES is exhausted.
type TechnicalError struct {
	Code  string
	Cause error
}

func (e *TechnicalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("technical error (%s): %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("technical error (%s)", e.Code)
}

func (e *TechnicalError) Unwrap() error { return e.Cause }

// NewTechnicalError wraps cause as a TechnicalError.
func NewTechnicalError(code string, cause error) *TechnicalError {
	return &TechnicalError{Code: code, Cause: cause}
}

// ExternalServiceError is a TechnicalError sub-kind for failed upstream
// calls. It embeds *TechnicalError so errors.As(err, &technicalErr) still
// matches it — the decision table doesn't need a separate branch.
type ExternalServiceError struct {
	*TechnicalError
	Service string
}

// NewExternalServiceError wraps cause as an ExternalServiceError for the named upstream service.
func NewExternalServiceError(service string, cause error) *ExternalServiceError {
	return &ExternalServiceError{
		TechnicalError: NewTechnicalError("external_service:"+service, cause),
		Service:        service,
	}
}

// Unwrap returns the embedded *TechnicalError rather than the promoted
// field's own Cause, so errors.As(err, &technicalErr) matches
// *ExternalServiceError one level down the chain instead of skipping
// straight past it to the root cause.
func (e *ExternalServiceError) Unwrap() error { return e.TechnicalError }

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("external service error (%s): %v", e.Service, e.TechnicalError)
}
