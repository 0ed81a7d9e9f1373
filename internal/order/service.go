package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avito-tech/go-transaction-manager/trm/v2"
	"github.com/google/uuid"
	"github.com/mikaelchan95/easiapp-order-service/internal/catalog"
	"github.com/mikaelchan95/easiapp-order-service/internal/config"
	"github.com/mikaelchan95/easiapp-order-service/internal/ledger"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/errs"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/event"
	modelLedger "github.com/mikaelchan95/easiapp-order-service/internal/models/ledger"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/order"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/principal"
	"github.com/mikaelchan95/easiapp-order-service/internal/notifier"
	"github.com/mikaelchan95/easiapp-order-service/internal/payment"
	"github.com/mikaelchan95/easiapp-order-service/pkg/logger"
	"github.com/mikaelchan95/easiapp-order-service/pkg/metrics"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
)

// SubmitRequest is the submission payload consumed from the UI
// collaborator.
type SubmitRequest struct {
	CartItems       []CartItem          `json:"cartItems"`
	DeliveryAddress order.Address       `json:"deliveryAddress"`
	DeliverySlot    order.DeliverySlot  `json:"deliverySlot"`
	PaymentMethod   order.PaymentMethod `json:"paymentMethod"`
	CompanyID       string              `json:"companyId,omitempty"`
}

// CartItem references a catalog product; name and price are always
// re-resolved server side.
type CartItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// SubmitResult is returned on a fully confirmed submission.
// PointsAwarded is present only for non-company orders.
type SubmitResult struct {
	OrderID       string                   `json:"orderId"`
	OrderNumber   string                   `json:"orderNumber"`
	PointsAwarded *modelLedger.PointsAward `json:"pointsAwarded,omitempty"`
}

// Balance is the principal's ledger view: points for individuals,
// credit for company accounts.
type Balance struct {
	Points *modelLedger.UserPoints    `json:"points,omitempty"`
	Credit *modelLedger.CompanyCredit `json:"credit,omitempty"`
}

// Service drives the four-stage submission pipeline and owns every
// order status transition.
type Service struct {
	repo     Repository
	catalog  catalog.Resolver
	ledgers  ledger.Repository
	payments payment.Adapter
	notifier *notifier.Notifier
	trm      trm.Manager
	logger   logger.Logger
	metrics  *metrics.PipelineMetrics
	config   *config.Config
}

func NewService(
	repo Repository,
	resolver catalog.Resolver,
	ledgers ledger.Repository,
	payments payment.Adapter,
	notif *notifier.Notifier,
	trManager trm.Manager,
	logger logger.Logger,
	metrics *metrics.PipelineMetrics,
	config *config.Config,
) (*Service, error) {
	if config == nil {
		return nil, errors.New("nil dependency: config")
	}
	if trManager == nil {
		return nil, errors.New("nil dependency: transaction manager")
	}
	if payments == nil {
		return nil, errors.New("nil dependency: payment adapter")
	}
	if notif == nil {
		return nil, errors.New("nil dependency: notifier")
	}
	if metrics == nil {
		return nil, errors.New("nil dependency: metrics")
	}
	return &Service{
		repo:     repo,
		catalog:  resolver,
		ledgers:  ledgers,
		payments: payments,
		notifier: notif,
		trm:      trManager,
		logger:   logger,
		metrics:  metrics,
		config:   config,
	}, nil
}

// SubmitOrder runs the submission pipeline: validate, create, capture
// payment, confirm. Stages are strictly sequential; the caller's
// cancellation is honored only until the order row is committed.
func (s *Service) SubmitOrder(ctx context.Context, req *SubmitRequest, p *principal.Principal) (*SubmitResult, error) {
	if err := validateRequest(req, p); err != nil {
		s.metrics.Submissions.WithLabelValues("invalid").Inc()
		return nil, err
	}

	// Stage 1: resolve the cart against the catalog and price it.
	o, err := s.validate(ctx, req, p)
	if err != nil {
		s.metrics.StageFailures.WithLabelValues("validate").Inc()
		outcome := "validate_error"
		if errors.Is(err, errs.ErrCatalog) {
			outcome = "catalog_error"
		}
		s.metrics.Submissions.WithLabelValues(outcome).Inc()
		return nil, err
	}

	// Stage 2: persist the order aggregate atomically.
	if err = s.create(ctx, o); err != nil {
		s.metrics.StageFailures.WithLabelValues("create").Inc()
		s.metrics.Submissions.WithLabelValues("persistence_error").Inc()
		return nil, err
	}

	// The order row exists now. From here on a caller hanging up must
	// not abort the pipeline silently; abandoning the order goes
	// through the explicit cancellation path instead.
	ctx = context.WithoutCancel(ctx)

	// Stages 3 and 4.
	award, err := s.captureAndConfirm(ctx, o, order.Pending)
	if err != nil {
		return nil, err
	}

	s.metrics.Submissions.WithLabelValues("confirmed").Inc()

	return &SubmitResult{
		OrderID:       o.ID,
		OrderNumber:   o.Number,
		PointsAwarded: award,
	}, nil
}

// RetryOrderPayment re-enters the pipeline at the capture stage for an
// order whose previous capture was declined.
func (s *Service) RetryOrderPayment(ctx context.Context, orderID string, p *principal.Principal) (*SubmitResult, error) {
	o, err := s.getOwned(ctx, orderID, p)
	if err != nil {
		return nil, err
	}

	if o.Status != order.PaymentFailed {
		return nil, &errs.IllegalTransitionError{From: string(o.Status), To: string(order.Confirmed)}
	}

	award, err := s.captureAndConfirm(context.WithoutCancel(ctx), o, order.PaymentFailed)
	if err != nil {
		return nil, err
	}

	s.metrics.Submissions.WithLabelValues("confirmed_on_retry").Inc()

	return &SubmitResult{
		OrderID:       o.ID,
		OrderNumber:   o.Number,
		PointsAwarded: award,
	}, nil
}

// CancelOrder abandons the order at its current terminal-safe state.
func (s *Service) CancelOrder(ctx context.Context, orderID string, p *principal.Principal) error {
	o, err := s.getOwned(ctx, orderID, p)
	if err != nil {
		return err
	}

	return s.Transition(ctx, o, order.Cancelled, order.ActorCustomer)
}

// LookupOrder returns the order with its line items, checked against the
// principal's ownership.
func (s *Service) LookupOrder(ctx context.Context, orderID string, p *principal.Principal) (*order.Order, error) {
	return s.getOwned(ctx, orderID, p)
}

// ListOrders lists the principal's orders, newest first. Company
// principals see every order placed on the company account, matching
// the per-order ownership rule in getOwned.
func (s *Service) ListOrders(ctx context.Context, p *principal.Principal) ([]*order.Order, error) {
	if p.Kind == principal.Company && p.CompanyID != "" {
		return s.repo.GetOrdersByCompanyID(ctx, p.CompanyID)
	}
	return s.repo.GetOrdersByUserID(ctx, p.UserID)
}

// OrderHistory returns the order's append-only status history.
func (s *Service) OrderHistory(ctx context.Context, orderID string, p *principal.Principal) ([]*order.HistoryEntry, error) {
	if _, err := s.getOwned(ctx, orderID, p); err != nil {
		return nil, err
	}
	return s.repo.GetHistory(ctx, orderID)
}

// LookupBalance returns the principal's ledger balance.
func (s *Service) LookupBalance(ctx context.Context, p *principal.Principal) (*Balance, error) {
	if p.Kind == principal.Company && p.CompanyID != "" {
		credit, err := s.ledgers.GetCompanyCredit(ctx, p.CompanyID)
		if err != nil {
			return nil, err
		}
		return &Balance{Credit: credit}, nil
	}

	points, err := s.ledgers.GetUserPoints(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			// No confirmed orders yet, zero balance.
			return &Balance{Points: &modelLedger.UserPoints{UserID: p.UserID}}, nil
		}
		return nil, err
	}
	return &Balance{Points: points}, nil
}

func (s *Service) getOwned(ctx context.Context, orderID string, p *principal.Principal) (*order.Order, error) {
	o, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	owned := o.UserID == p.UserID ||
		(o.CompanyID != "" && o.CompanyID == p.CompanyID)
	if !owned {
		// Do not leak existence of other principals' orders.
		return nil, errs.ErrNotFound
	}

	return o, nil
}

// validateRequest fails fast on missing input; no store is touched.
func validateRequest(req *SubmitRequest, p *principal.Principal) error {
	switch {
	case p == nil || p.UserID == "":
		return &errs.RequiredFieldError{FieldName: "principal"}
	case len(req.CartItems) == 0:
		return &errs.RequiredFieldError{FieldName: "cartItems"}
	case req.DeliveryAddress.Empty():
		return &errs.RequiredFieldError{FieldName: "deliveryAddress"}
	case req.DeliverySlot.Empty():
		return &errs.RequiredFieldError{FieldName: "deliverySlot"}
	case req.PaymentMethod.Type == "":
		return &errs.RequiredFieldError{FieldName: "paymentMethod"}
	}

	for _, item := range req.CartItems {
		if item.ProductID == "" {
			return &errs.RequiredFieldError{FieldName: "cartItems.productId"}
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: quantity must be at least 1", errs.ErrInvalidRequest)
		}
	}

	if req.CompanyID != "" && req.CompanyID != p.CompanyID {
		return fmt.Errorf("%w: company %q does not match principal",
			errs.ErrInvalidRequest, req.CompanyID)
	}

	return nil
}

// validate re-resolves every line item through the catalog and prices
// the order. Client-supplied prices are never trusted.
func (s *Service) validate(ctx context.Context, req *SubmitRequest, p *principal.Principal) (*order.Order, error) {
	items := make([]order.LineItem, 0, len(req.CartItems))
	subtotal := decimal.Zero

	for _, cartItem := range req.CartItems {
		product, err := s.catalog.Resolve(ctx, cartItem.ProductID)
		if err != nil {
			return nil, err
		}

		lineTotal := product.Price.Mul(decimal.NewFromInt(int64(cartItem.Quantity)))

		items = append(items, order.LineItem{
			ID:        uuid.NewString(),
			ProductID: product.ID,
			Name:      product.Name,
			ImageURL:  product.ImageURL,
			UnitPrice: product.Price,
			Quantity:  cartItem.Quantity,
			LineTotal: lineTotal,
		})

		subtotal = subtotal.Add(lineTotal)
	}

	tax := subtotal.Mul(decimal.NewFromFloat(s.config.Pipeline.TaxRate)).Round(2)
	fee := req.DeliverySlot.Fee
	discount := decimal.Zero
	total := subtotal.Add(tax).Add(fee).Sub(discount)

	return &order.Order{
		UserID:        p.UserID,
		CompanyID:     req.CompanyID,
		Items:         items,
		Subtotal:      subtotal,
		Tax:           tax,
		DeliveryFee:   fee,
		Discount:      discount,
		Total:         total,
		PaymentMethod: req.PaymentMethod,
		PaymentStatus: order.PayPending,
		Status:        order.Pending,
		Address:       req.DeliveryAddress,
		Slot:          req.DeliverySlot,
	}, nil
}

// create persists the aggregate in one transaction, retrying with a
// fresh order number on a uniqueness collision.
func (s *Service) create(ctx context.Context, o *order.Order) error {
	var err error

	for attempt := 0; attempt < s.config.Pipeline.OrderNumberAttempts; attempt++ {
		o.ID = uuid.NewString()
		o.Number = NewNumber(time.Now())

		for i := range o.Items {
			o.Items[i].OrderID = o.ID
		}

		err = s.trm.Do(ctx, func(ctx context.Context) error {
			return s.repo.CreateOrder(ctx, o)
		})
		if err == nil {
			s.publishOrder(o, event.Created, o)
			return nil
		}
		if errors.Is(err, errs.ErrAlreadyExists) {
			s.logger.Infof("order number %s collided, regenerating", o.Number)
			continue
		}
		break
	}

	return fmt.Errorf("%w: create order: %s", errs.ErrPersistence, err)
}

// captureAndConfirm runs stages 3 and 4 for an order currently in the
// given status.
func (s *Service) captureAndConfirm(ctx context.Context, o *order.Order, from order.Status) (*modelLedger.PointsAward, error) {
	if err := s.capture(ctx, o, from); err != nil {
		return nil, err
	}

	award, err := s.confirm(ctx, o, from)
	if err != nil {
		s.metrics.StageFailures.WithLabelValues("confirm").Inc()
		s.metrics.Submissions.WithLabelValues("ledger_error").Inc()
		return nil, err
	}

	return award, nil
}

// capture invokes the payment adapter bounded by the configured
// timeout. Company credit terms capture synthetically. A timeout or
// adapter error is treated identically to a decline: the order lands
// in payment_failed and no ledger mutation occurs.
func (s *Service) capture(ctx context.Context, o *order.Order, from order.Status) error {
	if o.IsCompany() && o.PaymentMethod.Type == order.MethodCompanyTerms {
		return nil
	}

	captureCtx, cancel := context.WithTimeout(ctx, s.config.Payment.CaptureTimeout)
	defer cancel()

	reason := ""

	result, err := s.payments.Capture(captureCtx, o.PaymentMethod, o.Total)
	switch {
	case err != nil:
		reason = err.Error()
		s.logger.Errorf("capture order %s: %s", o.Number, err)
	case result.Outcome != payment.Captured:
		reason = result.Reason
	default:
		return nil
	}

	s.metrics.StageFailures.WithLabelValues("capture").Inc()
	s.metrics.Submissions.WithLabelValues("payment_declined").Inc()

	// On a retried capture the order already sits in payment_failed.
	if from != order.PaymentFailed {
		if err = s.transitionTo(ctx, o, from, order.PaymentFailed, order.PayFailed, order.ActorOrchestrator); err != nil {
			s.logger.Errorf("mark order %s payment_failed: %s", o.Number, err)
		}
	}

	return &errs.PaymentDeclinedError{OrderID: o.ID, Reason: reason}
}

// confirm applies the ledger mutation and the confirmed transition as
// one atomic unit and retries the combined write until it lands. The
// ledger mutation is idempotent per order id via the applied marker,
// so a retry after a crash never double-applies.
func (s *Service) confirm(ctx context.Context, o *order.Order, from order.Status) (*modelLedger.PointsAward, error) {
	var award *modelLedger.PointsAward

	earned := modelLedger.Earned(o.Total, s.config.Pipeline.EarnRate)

	backoff := retry.WithMaxRetries(
		uint64(s.config.Pipeline.ConfirmAttempts),
		retry.NewExponential(100*time.Millisecond),
	)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		award = nil

		err := s.trm.Do(ctx, func(ctx context.Context) error {
			applied, err := s.ledgers.MarkApplied(ctx, o.ID)
			if err != nil {
				return fmt.Errorf("mark ledger applied: %w", err)
			}

			if o.IsCompany() {
				if applied {
					remaining, err := s.ledgers.DebitCompanyCredit(ctx, o.CompanyID, o.Total)
					if err != nil {
						return fmt.Errorf("debit company credit: %w", err)
					}
					if remaining.IsNegative() {
						// Over-limit is permitted, only observed.
						s.logger.Warnf("company %s over credit limit by %s after order %s",
							o.CompanyID, remaining.Neg(), o.Number)
					}
				}
			} else {
				switch {
				case applied:
					points, err := s.ledgers.CreditUserPoints(ctx, o.UserID, earned)
					if err != nil {
						return fmt.Errorf("credit user points: %w", err)
					}
					award = &modelLedger.PointsAward{
						CurrentPoints:  points.Points,
						LifetimePoints: points.LifetimePoints,
						PointsEarned:   earned,
					}
				default:
					// A previous attempt already credited the
					// points; report the balance as it stands.
					points, err := s.ledgers.GetUserPoints(ctx, o.UserID)
					if err != nil {
						return fmt.Errorf("get user points: %w", err)
					}
					award = &modelLedger.PointsAward{
						CurrentPoints:  points.Points,
						LifetimePoints: points.LifetimePoints,
						PointsEarned:   earned,
					}
				}
			}

			if err = s.repo.UpdateStatus(ctx, o.ID, from, order.Confirmed, order.Paid); err != nil {
				if errors.Is(err, errs.ErrDataConflict) {
					cur, curErr := s.repo.GetOrderByID(ctx, o.ID)
					if curErr == nil && cur.Status == order.Confirmed {
						// An earlier retry landed the whole unit.
						return nil
					}
				}
				return fmt.Errorf("transition to confirmed: %w", err)
			}

			return s.repo.SaveHistory(ctx, &order.HistoryEntry{
				OrderID:   o.ID,
				OldStatus: from,
				NewStatus: order.Confirmed,
				Actor:     order.ActorOrchestrator,
			})
		})
		if err != nil {
			s.logger.Errorf("confirm order %s: %s", o.Number, err)
			return retry.RetryableError(err)
		}

		return nil
	})
	if err != nil {
		// Never swallowed: the caller must retry the combined unit or
		// escalate to manual reconciliation.
		return nil, fmt.Errorf("%w: confirm order %s: %s", errs.ErrLedger, o.Number, err)
	}

	o.Status = order.Confirmed
	o.PaymentStatus = order.Paid

	s.metrics.Transitions.WithLabelValues(string(order.Confirmed)).Inc()
	s.publishOrder(o, event.StatusChanged, statusPayload{
		OrderID: o.ID,
		Number:  o.Number,
		Status:  order.Confirmed,
	})
	s.publishLedger(o, earned)

	return award, nil
}

// Transition is the single path every non-confirm status change goes
// through, whether driven by the scheduler, the cancellation path or
// an admin action. It enforces the lifecycle, appends history and
// publishes the change.
func (s *Service) Transition(ctx context.Context, o *order.Order, to order.Status, actor string) error {
	return s.transitionTo(ctx, o, o.Status, to, o.PaymentStatus, actor)
}

func (s *Service) transitionTo(ctx context.Context, o *order.Order, from, to order.Status, pay order.PaymentStatus, actor string) error {
	if !order.CanTransition(from, to) {
		return &errs.IllegalTransitionError{From: string(from), To: string(to)}
	}

	err := s.trm.Do(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateStatus(ctx, o.ID, from, to, pay); err != nil {
			return err
		}

		return s.repo.SaveHistory(ctx, &order.HistoryEntry{
			OrderID:   o.ID,
			OldStatus: from,
			NewStatus: to,
			Actor:     actor,
		})
	})
	if err != nil {
		return err
	}

	o.Status = to
	o.PaymentStatus = pay

	s.metrics.Transitions.WithLabelValues(string(to)).Inc()
	s.publishOrder(o, event.StatusChanged, statusPayload{
		OrderID: o.ID,
		Number:  o.Number,
		Status:  to,
	})

	return nil
}

type statusPayload struct {
	OrderID string       `json:"order_id"`
	Number  string       `json:"number"`
	Status  order.Status `json:"status"`
}

func (s *Service) publishOrder(o *order.Order, kind event.Kind, payload interface{}) {
	keys := []notifier.Key{
		notifier.OrderKey(o.ID),
		notifier.UserKey(o.UserID),
	}
	if o.IsCompany() {
		keys = append(keys, notifier.CompanyKey(o.CompanyID))
	}

	s.notifier.Publish(event.Event{
		EntityType: event.EntityOrder,
		EntityID:   o.ID,
		Kind:       kind,
		Payload:    payload,
		Timestamp:  time.Now(),
	}, keys...)
}

func (s *Service) publishLedger(o *order.Order, earned int64) {
	entityID := o.UserID
	keys := []notifier.Key{notifier.UserKey(o.UserID)}
	payload := interface{}(map[string]interface{}{
		"order_id":      o.ID,
		"points_earned": earned,
	})

	if o.IsCompany() {
		entityID = o.CompanyID
		keys = []notifier.Key{notifier.CompanyKey(o.CompanyID)}
		payload = map[string]interface{}{
			"order_id": o.ID,
			"debited":  o.Total,
		}
	}

	s.notifier.Publish(event.Event{
		EntityType: event.EntityLedger,
		EntityID:   entityID,
		Kind:       event.LedgerUpdated,
		Payload:    payload,
		Timestamp:  time.Now(),
	}, keys...)
}
