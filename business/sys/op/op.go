// Package op defines the operation outcome vocabulary shared by the ledger
// services and the dispatcher. Domain failures travel as typed Error values;
// any other error is infrastructure and surfaces as INTERNAL.
package op

import (
	"errors"
	"fmt"
)

// Status is the outcome of a ledger operation as seen by clients.
type Status string

// The set of statuses a response envelope may carry.
const (
	StatusOK                  Status = "OK"
	StatusExists              Status = "EXISTS"
	StatusNotFound            Status = "NOT_FOUND"
	StatusForbidden           Status = "FORBIDDEN"
	StatusInsufficientBalance Status = "INSUFFICIENT_BALANCE"
	StatusError               Status = "ERROR"
	StatusInternal            Status = "INTERNAL"
)

// Error is a domain failure carrying the status for the response envelope
// and optional detail data.
type Error struct {
	Status  Status
	Message string
	Data    any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

// NewError constructs a domain error with the specified status.
func NewError(status Status, message string) *Error {
	return &Error{Status: status, Message: message}
}

// Errf constructs a domain error with a formatted message.
func Errf(status Status, format string, args ...any) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts a domain error when err carries one.
func AsError(err error) (*Error, bool) {
	var oe *Error
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}
