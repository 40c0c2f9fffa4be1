package domain

import "fmt"

// Error types for consistent error handling across the API.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrInsufficientCredits indicates the account balance cannot cover the
// requested generation. The account is left untouched.
type ErrInsufficientCredits struct {
	Available int64
	Required  int64
}

func (e *ErrInsufficientCredits) Error() string {
	return fmt.Sprintf("insufficient credits: available=%d required=%d", e.Available, e.Required)
}

// ErrDuplicateEvent indicates a payment event was already applied.
// Redelivered webhooks are absorbed, never re-credited.
type ErrDuplicateEvent struct {
	ExternalID string
}

func (e *ErrDuplicateEvent) Error() string {
	return fmt.Sprintf("payment event already applied: %s", e.ExternalID)
}

// ErrRefundInvariant indicates a refund was attempted against an entry
// that is not a completed spend. This is a bug, not a user error.
type ErrRefundInvariant struct {
	EntryID string
	Reason  string
}

func (e *ErrRefundInvariant) Error() string {
	return fmt.Sprintf("refund invariant violated for entry %s: %s", e.EntryID, e.Reason)
}

// ErrGenerationFailed indicates the LLM job failed after credits were
// debited; the debit has been refunded by the time this surfaces.
type ErrGenerationFailed struct {
	StoryID string
	Err     error
}

func (e *ErrGenerationFailed) Error() string {
	return fmt.Sprintf("generation failed for story %s (credits refunded): %v", e.StoryID, e.Err)
}

func (e *ErrGenerationFailed) Unwrap() error {
	return e.Err
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrForbidden indicates the user lacks permission for the operation.
type ErrForbidden struct {
	Action string
}

func (e *ErrForbidden) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Action)
}

// ErrConflict indicates a resource already exists (e.g. duplicate email).
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}

// ErrAccountInactive indicates the account was deactivated.
type ErrAccountInactive struct {
	AccountID string
}

func (e *ErrAccountInactive) Error() string {
	return fmt.Sprintf("account is inactive: %s", e.AccountID)
}
