// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// ErrNoReport is returned when no campaign has been started since the last clear.
var ErrNoReport = errors.New("no report available yet")

// ErrCampaignNotFound is returned when a persisted campaign does not exist.
type ErrCampaignNotFound struct {
	CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %s not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id string) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// AuthenticationError means the transport rejected the sender credential.
type AuthenticationError struct {
	Sender string
	Err    error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Sender, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

func NewAuthenticationError(sender string, err error) error {
	return &AuthenticationError{Sender: sender, Err: err}
}

// InvalidRecipientError means the address is malformed or the mailbox was
// rejected. Never retried.
type InvalidRecipientError struct {
	Email string
	Err   error
}

func (e *InvalidRecipientError) Error() string {
	return fmt.Sprintf("invalid recipient %s: %v", e.Email, e.Err)
}

func (e *InvalidRecipientError) Unwrap() error { return e.Err }

func NewInvalidRecipient(email string, err error) error {
	return &InvalidRecipientError{Email: email, Err: err}
}

// TransientTransportError is a failure worth retrying: timeouts, 4xx replies,
// dropped connections, throttling.
type TransientTransportError struct {
	Err error
}

func (e *TransientTransportError) Error() string {
	return fmt.Sprintf("transient transport error: %v", e.Err)
}

func (e *TransientTransportError) Unwrap() error { return e.Err }

func NewTransient(err error) error {
	return &TransientTransportError{Err: err}
}

// FatalTransportError stops the whole campaign: credential revoked mid-run,
// sending quota exhausted.
type FatalTransportError struct {
	Err error
}

func (e *FatalTransportError) Error() string {
	return fmt.Sprintf("fatal transport error: %v", e.Err)
}

func (e *FatalTransportError) Unwrap() error { return e.Err }

func NewFatal(err error) error {
	return &FatalTransportError{Err: err}
}

// PermanentError is a per-recipient failure that retrying cannot fix, such as
// an attachment that cannot be read.
type PermanentError struct {
	Email string
	Err   error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("cannot deliver to %s: %v", e.Email, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

func NewPermanent(email string, err error) error {
	return &PermanentError{Email: email, Err: err}
}

// ConflictError is returned when an operation is not allowed in the current
// campaign phase.
type ConflictError struct {
	Op     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func NewConflict(op, reason string) error {
	return &ConflictError{Op: op, Reason: reason}
}

// ValidationError reports bad input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// Class is the retry-relevant category of a send result.
type Class int

const (
	ClassSuccess Class = iota
	ClassInvalidRecipient
	ClassTransient
	ClassFatal
	ClassPermanent
)

func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassInvalidRecipient:
		return "invalid_recipient"
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	case ClassPermanent:
		return "permanent"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Classify maps a send error to its class. Errors nobody classified are
// treated as transient so they get a bounded number of retries.
func Classify(err error) Class {
	if err == nil {
		return ClassSuccess
	}

	var (
		invalid   *InvalidRecipientError
		transient *TransientTransportError
		fatal     *FatalTransportError
		auth      *AuthenticationError
		permanent *PermanentError
	)
	switch {
	case errors.As(err, &invalid):
		return ClassInvalidRecipient
	case errors.As(err, &fatal), errors.As(err, &auth):
		return ClassFatal
	case errors.As(err, &permanent):
		return ClassPermanent
	case errors.As(err, &transient):
		return ClassTransient
	}
	return ClassTransient
}

func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

func IsAuthentication(err error) bool {
	var a *AuthenticationError
	return errors.As(err, &a)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNotFound(err error) bool {
	var n *ErrCampaignNotFound
	return errors.As(err, &n)
}
