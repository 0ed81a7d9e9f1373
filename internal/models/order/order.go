package order

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status of an order within its fulfillment lifecycle.
type Status string

const (
	Pending        Status = "pending"
	Confirmed      Status = "confirmed"
	PaymentFailed  Status = "payment_failed"
	Preparing      Status = "preparing"
	OutForDelivery Status = "out_for_delivery"
	Delivered      Status = "delivered"
	Cancelled      Status = "cancelled"
	Returned       Status = "returned"
)

// Actors recorded in the status history.
const (
	ActorOrchestrator = "orchestrator"
	ActorScheduler    = "scheduler"
	ActorCustomer     = "customer"
)

// PaymentStatus of the order's capture attempt.
type PaymentStatus string

const (
	PayPending PaymentStatus = "pending"
	Paid       PaymentStatus = "paid"
	PayFailed  PaymentStatus = "failed"
)

// transitions enumerates every legal status transition. Anything not
// listed here is a lifecycle defect and must be rejected.
var transitions = map[Status][]Status{
	Pending:        {Confirmed, PaymentFailed, Cancelled},
	PaymentFailed:  {Confirmed, Cancelled},
	Confirmed:      {Preparing, Cancelled},
	Preparing:      {OutForDelivery, Cancelled},
	OutForDelivery: {Delivered},
	Delivered:      {Returned},
}

// CanTransition reports whether moving from one status to another
// is legal within the order lifecycle.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NumberPattern is the required shape of a human-readable order number.
var NumberPattern = regexp.MustCompile(`^ORD-\d{4}-\d{6}$`)

// FormatNumber builds an order number from a year and a sequence value.
func FormatNumber(year int, seq int) string {
	return fmt.Sprintf("ORD-%04d-%06d", year, seq%1000000)
}

// Order is the durable order aggregate. Once the order reaches
// CONFIRMED its items and totals are immutable; only Status and
// PaymentStatus may change thereafter.
type Order struct {
	ID            string          `db:"id" json:"id"`
	Number        string          `db:"number" json:"number"`
	UserID        string          `db:"user_id" json:"user_id"`
	CompanyID     string          `db:"company_id" json:"company_id,omitempty"`
	Items         []LineItem      `json:"items"`
	Subtotal      decimal.Decimal `db:"subtotal" json:"subtotal"`
	Tax           decimal.Decimal `db:"tax" json:"tax"`
	DeliveryFee   decimal.Decimal `db:"delivery_fee" json:"delivery_fee"`
	Discount      decimal.Decimal `db:"discount" json:"discount"`
	Total         decimal.Decimal `db:"total" json:"total"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	PaymentStatus PaymentStatus   `db:"payment_status" json:"payment_status"`
	Status        Status          `db:"status" json:"status"`
	Address       Address         `json:"delivery_address"`
	Slot          DeliverySlot    `json:"delivery_slot"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// IsCompany reports whether the order is placed on company credit terms.
func (o *Order) IsCompany() bool {
	return o.CompanyID != ""
}

// LineItem is a point-in-time snapshot of an ordered product.
// Created once at order-creation time, never mutated.
type LineItem struct {
	ID        string          `db:"id" json:"id"`
	OrderID   string          `db:"order_id" json:"order_id"`
	ProductID string          `db:"product_id" json:"product_id"`
	Name      string          `db:"name" json:"name"`
	ImageURL  string          `db:"image_url" json:"image_url,omitempty"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	Quantity  int             `db:"quantity" json:"quantity"`
	LineTotal decimal.Decimal `db:"line_total" json:"line_total"`
}

// PaymentMethod describes how the order is paid for. Company terms
// capture synthetically; anything else goes through the gateway.
type PaymentMethod struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}

// MethodCompanyTerms is the payment method type for orders paid on
// the company's agreed credit terms.
const MethodCompanyTerms = "company_terms"

// Address is the delivery address snapshot carried by the order.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
}

// Empty reports whether no address was provided.
func (a Address) Empty() bool {
	return a.Line1 == "" && a.City == "" && a.PostalCode == ""
}

// DeliverySlot is the chosen delivery date and time window.
type DeliverySlot struct {
	// Date in the form 2006-01-02.
	Date string `json:"date"`
	// TimeSlot in the form 15:04-15:04.
	TimeSlot string `json:"time_slot"`
	// Fee charged for this slot.
	Fee decimal.Decimal `json:"fee"`
}

// Empty reports whether no slot was provided.
func (s DeliverySlot) Empty() bool {
	return s.Date == "" || s.TimeSlot == ""
}

// Window resolves the slot into absolute start and end times in the
// given location.
func (s DeliverySlot) Window(loc *time.Location) (start, end time.Time, err error) {
	day, err := time.ParseInLocation("2006-01-02", s.Date, loc)
	if err != nil {
		return start, end, fmt.Errorf("parse slot date: %w", err)
	}

	from, to, ok := strings.Cut(s.TimeSlot, "-")
	if !ok {
		return start, end, fmt.Errorf("parse time slot %q: want 15:04-15:04", s.TimeSlot)
	}

	startClock, err := time.Parse("15:04", from)
	if err != nil {
		return start, end, fmt.Errorf("parse slot start: %w", err)
	}
	endClock, err := time.Parse("15:04", to)
	if err != nil {
		return start, end, fmt.Errorf("parse slot end: %w", err)
	}

	start = day.Add(time.Duration(startClock.Hour())*time.Hour + time.Duration(startClock.Minute())*time.Minute)
	end = day.Add(time.Duration(endClock.Hour())*time.Hour + time.Duration(endClock.Minute())*time.Minute)

	return start, end, nil
}

// IsToday reports whether the slot's date falls on the given day.
func (s DeliverySlot) IsToday(now time.Time, loc *time.Location) bool {
	day, err := time.ParseInLocation("2006-01-02", s.Date, loc)
	if err != nil {
		return false
	}
	y1, m1, d1 := day.Date()
	y2, m2, d2 := now.In(loc).Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// HistoryEntry is one row of the append-only status history log.
type HistoryEntry struct {
	ID        int       `db:"id" json:"id"`
	OrderID   string    `db:"order_id" json:"order_id"`
	OldStatus Status    `db:"old_status" json:"old_status"`
	NewStatus Status    `db:"new_status" json:"new_status"`
	Actor     string    `db:"actor" json:"actor"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
