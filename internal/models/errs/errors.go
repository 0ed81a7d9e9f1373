package errs

import (
	"errors"
	"fmt"
)

// Common sentinel errors.
var (
	ErrNotFound           = errors.New("not found")
	ErrDataConflict       = errors.New("data conflict")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Pipeline stage errors. Each maps to one failure class of the
	// submission pipeline so callers can tell which stage failed and
	// whether durable state was touched.
	ErrCatalog         = errors.New("catalog")            // unknown product, no side effects
	ErrPersistence     = errors.New("persistence")        // create failed, safe to retry from scratch
	ErrPaymentDeclined = errors.New("payment declined")   // order kept in payment_failed
	ErrLedger          = errors.New("ledger")             // confirm must be retried as a whole
	ErrIllegalStatus   = errors.New("illegal transition") // transition outside the lifecycle
)

// Type just for marshalling purpose.
// Should only be used immediately before marshalling.
type JSON struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

// Let users know which required request parameter is not provided.
type RequiredFieldError struct {
	FieldName string
}

func (e *RequiredFieldError) Error() string {
	return fmt.Sprintf("field %q is required, but not provided", e.FieldName)
}

func (e *RequiredFieldError) Is(target error) bool {
	return target == ErrInvalidRequest
}

// Names the product the catalog failed to resolve.
type UnknownProductError struct {
	ProductID string
}

func (e *UnknownProductError) Error() string {
	return fmt.Sprintf("%s: unknown product %q", ErrCatalog, e.ProductID)
}

func (e *UnknownProductError) Is(target error) bool {
	return target == ErrCatalog
}

// Carries the gateway's decline reason for a failed capture.
type PaymentDeclinedError struct {
	OrderID string
	Reason  string
}

func (e *PaymentDeclinedError) Error() string {
	return fmt.Sprintf("%s: order %s: %s", ErrPaymentDeclined, e.OrderID, e.Reason)
}

func (e *PaymentDeclinedError) Is(target error) bool {
	return target == ErrPaymentDeclined
}

// Reports a status transition outside the order lifecycle.
type IllegalTransitionError struct {
	From string
	To   string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrIllegalStatus, e.From, e.To)
}

func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalStatus
}
