package app

import "fmt"

// DomainError is an operation failure the HTTP layer can translate
// directly: Status becomes the response code, Code and Message the error
// body, Details an optional payload (for example the rejected field).
// mapError passes these through untouched.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// domainError is the constructor used at validation and authorization
// checkpoints throughout the service.
func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}
