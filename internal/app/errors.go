package app

import (
	"fmt"
	"net/http"
)

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

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func errNotFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func errPermissionDenied(message string) *DomainError {
	return domainError(http.StatusForbidden, "PERMISSION_DENIED", message, nil)
}

func errPayloadTooLarge(message string) *DomainError {
	return domainError(http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", message, nil)
}

func errQuotaExceeded(message string) *DomainError {
	return domainError(http.StatusForbidden, "QUOTA_EXCEEDED", message, nil)
}

func errInvalidContent(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "INVALID_CONTENT", message, nil)
}

func errInvalidOperation(message string) *DomainError {
	return domainError(http.StatusConflict, "INVALID_OPERATION", message, nil)
}

func errUnavailable(message string) *DomainError {
	return domainError(http.StatusServiceUnavailable, "UNAVAILABLE", message, nil)
}
