package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/order"
	"github.com/mikaelchan95/easiapp-order-service/pkg/logger"
	"github.com/shopspring/decimal"
)

// DeclineToken is the method token the simulated adapter declines.
// Lets the demo exercise the payment_failed path on demand.
const DeclineToken = "SIM-DECLINE"

// Simulated is the in-process stand-in for a real payment gateway.
// A production deployment swaps it for the HTTP gateway adapter
// without touching the orchestrator.
type Simulated struct {
	logger logger.Logger
	// Artificial processing delay.
	delay time.Duration
}

func NewSimulated(logger logger.Logger, delay time.Duration) *Simulated {
	return &Simulated{logger: logger, delay: delay}
}

var _ Adapter = (*Simulated)(nil)

func (s *Simulated) Capture(ctx context.Context, method order.PaymentMethod, amount decimal.Decimal) (*Result, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if method.Token == DeclineToken {
		s.logger.Infof("simulated decline for %s payment of %s", method.Type, amount)
		return &Result{
			Outcome: Declined,
			Reason:  "insufficient funds",
		}, nil
	}

	return &Result{
		Outcome:   Captured,
		Reference: "sim-" + uuid.NewString(),
	}, nil
}
