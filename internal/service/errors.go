package service

// Error codes returned by service operations, mapped to HTTP statuses by the
// handlers.
const (
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeValidation    = "VALIDATION"
	ErrCodeProviderError = "PROVIDER_ERROR"
	ErrCodeInternal      = "INTERNAL"
)

// ServiceError represents a business logic error with a code for HTTP mapping.
type ServiceError struct {
	Code    string
	Message string
}

func (e *ServiceError) Error() string {
	return e.Message
}

func notFound(message string) *ServiceError {
	return &ServiceError{Code: ErrCodeNotFound, Message: message}
}

func conflict(message string) *ServiceError {
	return &ServiceError{Code: ErrCodeConflict, Message: message}
}

func invalid(message string) *ServiceError {
	return &ServiceError{Code: ErrCodeValidation, Message: message}
}
