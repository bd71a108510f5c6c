package verifier

import "fmt"

// ServiceError is a well-formed endpoint response with success=false, or a
// success response whose verdict could not be understood.
type ServiceError struct {
	Message string
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return "verification service error"
	}
	return "verification service error: " + e.Message
}

// TransportError covers network failures, timeouts and unreadable bodies.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("verification transport error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("verification transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
