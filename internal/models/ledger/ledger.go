package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// CompanyCredit is the revolving credit balance of a company account.
// CurrentCredit is the available credit and may go negative when an
// order overruns the limit; the overrun is observed and logged, never
// prevented.
type CompanyCredit struct {
	CompanyID     string          `db:"company_id" json:"company_id"`
	CreditLimit   decimal.Decimal `db:"credit_limit" json:"credit_limit"`
	CurrentCredit decimal.Decimal `db:"current_credit" json:"current_credit"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// UserPoints is the loyalty balance of an individual account.
// LifetimePoints is monotonic and never decreases.
type UserPoints struct {
	UserID         string    `db:"user_id" json:"user_id"`
	Points         int64     `db:"points" json:"points"`
	LifetimePoints int64     `db:"lifetime_points" json:"lifetime_points"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// PointsAward is returned to the caller after a non-company order is
// confirmed so locally cached balances can be updated without a
// re-query.
type PointsAward struct {
	CurrentPoints  int64 `json:"currentPoints"`
	LifetimePoints int64 `json:"lifetimePoints"`
	PointsEarned   int64 `json:"pointsEarned"`
}

// Earned computes the points awarded for an order total at the
// configured earn rate, floored to a whole number of points.
func Earned(total decimal.Decimal, earnRate float64) int64 {
	return total.Mul(decimal.NewFromFloat(earnRate)).Floor().IntPart()
}
