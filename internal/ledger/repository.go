package ledger

import (
	"context"
	"database/sql"
	"errors"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/errs"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/ledger"
	"github.com/mikaelchan95/easiapp-order-service/pkg/logger"
	"github.com/shopspring/decimal"
)

// Repository is the durable balance store. Every mutation is a single
// atomic statement so concurrent confirmations never lose updates.
type Repository interface {
	GetCompanyCredit(ctx context.Context, companyID string) (*ledger.CompanyCredit, error)
	GetUserPoints(ctx context.Context, userID string) (*ledger.UserPoints, error)

	// DebitCompanyCredit decrements the company's available credit by
	// the given amount and returns the remaining credit. The balance
	// may go negative; the overrun is the caller's to observe.
	DebitCompanyCredit(ctx context.Context, companyID string, amount decimal.Decimal) (decimal.Decimal, error)

	// CreditUserPoints adds earned points to both the spendable and
	// the lifetime balance and returns the updated balances.
	CreditUserPoints(ctx context.Context, userID string, earned int64) (*ledger.UserPoints, error)

	// MarkApplied records that the order's ledger effect has been
	// applied. Returns false if a marker already exists, in which
	// case the caller must not mutate the ledger again.
	MarkApplied(ctx context.Context, orderID string) (bool, error)
}

type Repo struct {
	db     *sql.DB
	getter *trmsql.CtxGetter
	logger logger.Logger
}

func NewRepository(db *sql.DB, getter *trmsql.CtxGetter, logger logger.Logger) (*Repo, error) {
	if db == nil {
		return nil, errors.New("nil dependency: database")
	}
	if getter == nil {
		return nil, errors.New("nil dependency: transaction getter")
	}

	return &Repo{db: db, getter: getter, logger: logger}, nil
}

var _ Repository = (*Repo)(nil)

func (r *Repo) GetCompanyCredit(ctx context.Context, companyID string) (*ledger.CompanyCredit, error) {
	const query = `
		SELECT company_id, credit_limit, current_credit, updated_at
		FROM company_credit WHERE company_id = $1;
	`

	credit := new(ledger.CompanyCredit)

	err := r.getter.DefaultTrOrDB(ctx, r.db).QueryRowContext(ctx, query, companyID).Scan(
		&credit.CompanyID,
		&credit.CreditLimit,
		&credit.CurrentCredit,
		&credit.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}

	return credit, nil
}

func (r *Repo) GetUserPoints(ctx context.Context, userID string) (*ledger.UserPoints, error) {
	const query = `
		SELECT user_id, points, lifetime_points, updated_at
		FROM user_points WHERE user_id = $1;
	`

	points := new(ledger.UserPoints)

	err := r.getter.DefaultTrOrDB(ctx, r.db).QueryRowContext(ctx, query, userID).Scan(
		&points.UserID,
		&points.Points,
		&points.LifetimePoints,
		&points.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}

	return points, nil
}

// The decrement happens inside the statement, never as a read-then-write
// pair, so two racing confirmations against the same company both land.
func (r *Repo) DebitCompanyCredit(ctx context.Context, companyID string, amount decimal.Decimal) (decimal.Decimal, error) {
	const query = `
		UPDATE company_credit SET
			current_credit = current_credit - $1,
			updated_at = now()
		WHERE company_id = $2
			RETURNING current_credit;
	`

	var remaining decimal.Decimal

	err := r.getter.DefaultTrOrDB(ctx, r.db).
		QueryRowContext(ctx, query, amount, companyID).
		Scan(&remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return remaining, errs.ErrNotFound
		}
		return remaining, err
	}

	return remaining, nil
}

func (r *Repo) CreditUserPoints(ctx context.Context, userID string, earned int64) (*ledger.UserPoints, error) {
	const query = `
		INSERT INTO user_points (user_id, points, lifetime_points)
		VALUES ($1, $2, $2)
		ON CONFLICT (user_id) DO UPDATE SET
			points = user_points.points + $2,
			lifetime_points = user_points.lifetime_points + $2,
			updated_at = now()
		RETURNING user_id, points, lifetime_points, updated_at;
	`

	points := new(ledger.UserPoints)

	err := r.getter.DefaultTrOrDB(ctx, r.db).
		QueryRowContext(ctx, query, userID, earned).
		Scan(
			&points.UserID,
			&points.Points,
			&points.LifetimePoints,
			&points.UpdatedAt,
		)
	if err != nil {
		return nil, err
	}

	return points, nil
}

func (r *Repo) MarkApplied(ctx context.Context, orderID string) (bool, error) {
	const query = `
		INSERT INTO ledger_applications (order_id)
		VALUES ($1)
		ON CONFLICT (order_id) DO NOTHING;
	`

	res, err := r.getter.DefaultTrOrDB(ctx, r.db).ExecContext(ctx, query, orderID)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected == 1, nil
}
