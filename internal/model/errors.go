package model

import (
	"errors"
	"fmt"
)

// RecipientError means no deliverable address could be resolved for a
// reminder. The record stays unsent and is retried on the next scan.
// ReminderID is empty when the error comes from a layer that only sees the
// address; callers holding the record fill it in.
type RecipientError struct {
	ReminderID string
	To         string
	Reason     string
}

func (e *RecipientError) Error() string {
	if e.ReminderID == "" {
		return fmt.Sprintf("recipient resolution failed: %s", e.Reason)
	}
	return fmt.Sprintf("recipient resolution failed for %s: %s", e.ReminderID, e.Reason)
}

// IsRecipientError reports whether err (or any error in its chain) is a RecipientError.
func IsRecipientError(err error) bool {
	var target *RecipientError
	return errors.As(err, &target)
}

// TransportError wraps a rejection from the email provider.
type TransportError struct {
	To  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("email transport failed for %s: %v", e.To, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError reports whether err (or any error in its chain) is a TransportError.
func IsTransportError(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

// PersistenceError wraps a relational read or write failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistenceError reports whether err (or any error in its chain) is a PersistenceError.
func IsPersistenceError(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}

// ErrorClass labels a per-record failure in a scan result.
type ErrorClass string

const (
	ErrorClassRecipient   ErrorClass = "recipient"
	ErrorClassTransport   ErrorClass = "transport"
	ErrorClassPersistence ErrorClass = "persistence"
	ErrorClassUnknown     ErrorClass = "unknown"
)

// ClassifyError maps err onto the failure taxonomy.
func ClassifyError(err error) ErrorClass {
	switch {
	case IsRecipientError(err):
		return ErrorClassRecipient
	case IsTransportError(err):
		return ErrorClassTransport
	case IsPersistenceError(err):
		return ErrorClassPersistence
	default:
		return ErrorClassUnknown
	}
}
