package payment

import (
	"context"

	"github.com/mikaelchan95/easiapp-order-service/internal/models/order"
	"github.com/shopspring/decimal"
)

// Outcome of a capture attempt.
type Outcome string

const (
	Captured Outcome = "captured"
	Declined Outcome = "declined"
)

// Result of a capture attempt. A Declined outcome carries the
// gateway's reason; an error return means the outcome is unknown and
// the orchestrator treats it as a decline.
type Result struct {
	Outcome   Outcome `json:"outcome"`
	Reference string  `json:"reference,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

// Adapter captures a payment for the given method and amount. The call
// must be bounded by the context's deadline; a timeout is a decline.
type Adapter interface {
	Capture(ctx context.Context, method order.PaymentMethod, amount decimal.Decimal) (*Result, error)
}
