package order

import (
	"context"
	"database/sql"
	"errors"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/errs"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/order"
	"github.com/mikaelchan95/easiapp-order-service/pkg/logger"
)

// Repository is the durable order store. CreateOrder persists the
// header and every line item; callers wrap it in a transaction so a
// partial aggregate is never observable.
type Repository interface {
	CreateOrder(ctx context.Context, o *order.Order) error
	GetOrderByID(ctx context.Context, id string) (*order.Order, error)
	GetOrdersByUserID(ctx context.Context, userID string) ([]*order.Order, error)
	GetOrdersByCompanyID(ctx context.Context, companyID string) ([]*order.Order, error)

	// UpdateStatus transitions the order from an expected status to a
	// new one. Returns errs.ErrDataConflict when the order is no
	// longer in the expected status.
	UpdateStatus(ctx context.Context, id string, from, to order.Status, pay order.PaymentStatus) error

	SaveHistory(ctx context.Context, entry *order.HistoryEntry) error
	GetHistory(ctx context.Context, orderID string) ([]*order.HistoryEntry, error)

	// GetInFlightOrders returns confirmed orders that have not yet
	// been delivered, for the fulfillment recovery sweep.
	GetInFlightOrders(ctx context.Context) ([]*order.Order, error)
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

func (r *Repo) CreateOrder(ctx context.Context, o *order.Order) error {
	const insertOrder = `
		INSERT INTO orders (
			id, number, user_id, company_id,
			subtotal, tax, delivery_fee, discount, total,
			payment_method_type, payment_token, payment_status, status,
			address_line1, address_line2, address_city, address_postal_code,
			slot_date, slot_time
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14, $15, $16, $17, $18, $19);
	`

	tr := r.getter.DefaultTrOrDB(ctx, r.db)

	_, err := tr.ExecContext(ctx, insertOrder,
		o.ID, o.Number, o.UserID, o.CompanyID,
		o.Subtotal, o.Tax, o.DeliveryFee, o.Discount, o.Total,
		o.PaymentMethod.Type, o.PaymentMethod.Token, o.PaymentStatus, o.Status,
		o.Address.Line1, o.Address.Line2, o.Address.City, o.Address.PostalCode,
		o.Slot.Date, o.Slot.TimeSlot,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return errs.ErrAlreadyExists
		}
		return err
	}

	const insertItem = `
		INSERT INTO order_items (
			id, order_id, product_id, name, image_url,
			unit_price, quantity, line_total
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`

	for _, item := range o.Items {
		_, err = tr.ExecContext(ctx, insertItem,
			item.ID, o.ID, item.ProductID, item.Name, item.ImageURL,
			item.UnitPrice, item.Quantity, item.LineTotal,
		)
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *Repo) GetOrderByID(ctx context.Context, id string) (*order.Order, error) {
	const query = `
		SELECT id, number, user_id, company_id,
			subtotal, tax, delivery_fee, discount, total,
			payment_method_type, payment_token, payment_status, status,
			address_line1, address_line2, address_city, address_postal_code,
			slot_date, slot_time, created_at, updated_at
		FROM orders WHERE id = $1;
	`

	o := new(order.Order)

	err := r.getter.DefaultTrOrDB(ctx, r.db).QueryRowContext(ctx, query, id).Scan(
		&o.ID, &o.Number, &o.UserID, &o.CompanyID,
		&o.Subtotal, &o.Tax, &o.DeliveryFee, &o.Discount, &o.Total,
		&o.PaymentMethod.Type, &o.PaymentMethod.Token, &o.PaymentStatus, &o.Status,
		&o.Address.Line1, &o.Address.Line2, &o.Address.City, &o.Address.PostalCode,
		&o.Slot.Date, &o.Slot.TimeSlot, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}

	items, err := r.getItems(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items

	return o, nil
}

func (r *Repo) getItems(ctx context.Context, orderID string) ([]order.LineItem, error) {
	const query = `
		SELECT id, order_id, product_id, name, image_url,
			unit_price, quantity, line_total
		FROM order_items WHERE order_id = $1 ORDER BY id;
	`

	rows, err := r.getter.DefaultTrOrDB(ctx, r.db).QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, err
	}

	items := make([]order.LineItem, 0)

	for rows.Next() {
		var item order.LineItem
		err = rows.Scan(
			&item.ID, &item.OrderID, &item.ProductID, &item.Name, &item.ImageURL,
			&item.UnitPrice, &item.Quantity, &item.LineTotal,
		)
		if err != nil {
			return nil, err
		}

		items = append(items, item)
	}

	defer func() {
		if err = rows.Close(); err != nil {
			r.logger.Errorf("close rows: %s", err)
		}
	}()

	// Rows.Err will report the last error encountered by Rows.Scan.
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (r *Repo) GetOrdersByUserID(ctx context.Context, userID string) ([]*order.Order, error) {
	const query = `
		SELECT id, number, user_id, company_id,
			subtotal, tax, delivery_fee, discount, total,
			payment_method_type, payment_token, payment_status, status,
			address_line1, address_line2, address_city, address_postal_code,
			slot_date, slot_time, created_at, updated_at
		FROM orders WHERE user_id = $1 ORDER BY created_at DESC;
	`

	return r.queryOrders(ctx, query, userID)
}

func (r *Repo) GetOrdersByCompanyID(ctx context.Context, companyID string) ([]*order.Order, error) {
	const query = `
		SELECT id, number, user_id, company_id,
			subtotal, tax, delivery_fee, discount, total,
			payment_method_type, payment_token, payment_status, status,
			address_line1, address_line2, address_city, address_postal_code,
			slot_date, slot_time, created_at, updated_at
		FROM orders WHERE company_id = $1 ORDER BY created_at DESC;
	`

	return r.queryOrders(ctx, query, companyID)
}

func (r *Repo) GetInFlightOrders(ctx context.Context) ([]*order.Order, error) {
	const query = `
		SELECT id, number, user_id, company_id,
			subtotal, tax, delivery_fee, discount, total,
			payment_method_type, payment_token, payment_status, status,
			address_line1, address_line2, address_city, address_postal_code,
			slot_date, slot_time, created_at, updated_at
		FROM orders
		WHERE status IN ('confirmed', 'preparing', 'out_for_delivery')
		ORDER BY created_at;
	`

	return r.queryOrders(ctx, query)
}

func (r *Repo) queryOrders(ctx context.Context, query string, args ...any) ([]*order.Order, error) {
	rows, err := r.getter.DefaultTrOrDB(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	orders := make([]*order.Order, 0)

	for rows.Next() {
		o := new(order.Order)
		err = rows.Scan(
			&o.ID, &o.Number, &o.UserID, &o.CompanyID,
			&o.Subtotal, &o.Tax, &o.DeliveryFee, &o.Discount, &o.Total,
			&o.PaymentMethod.Type, &o.PaymentMethod.Token, &o.PaymentStatus, &o.Status,
			&o.Address.Line1, &o.Address.Line2, &o.Address.City, &o.Address.PostalCode,
			&o.Slot.Date, &o.Slot.TimeSlot, &o.CreatedAt, &o.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}

		orders = append(orders, o)
	}

	defer func() {
		if err = rows.Close(); err != nil {
			r.logger.Errorf("close rows: %s", err)
		}
	}()

	// Rows.Err will report the last error encountered by Rows.Scan.
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

func (r *Repo) UpdateStatus(ctx context.Context, id string, from, to order.Status, pay order.PaymentStatus) error {
	const query = `
		UPDATE orders SET
			status = $1,
			payment_status = $2,
			updated_at = now()
		WHERE id = $3 AND status = $4
			RETURNING id;
	`

	var updated string

	err := r.getter.DefaultTrOrDB(ctx, r.db).
		QueryRowContext(ctx, query, to, pay, id, from).
		Scan(&updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Either the order does not exist or a concurrent
			// transition won.
			return errs.ErrDataConflict
		}
		return err
	}

	return nil
}

func (r *Repo) SaveHistory(ctx context.Context, entry *order.HistoryEntry) error {
	const query = `
		INSERT INTO status_history (order_id, old_status, new_status, actor)
		VALUES ($1, $2, $3, $4);
	`

	_, err := r.getter.DefaultTrOrDB(ctx, r.db).
		ExecContext(ctx, query, entry.OrderID, entry.OldStatus, entry.NewStatus, entry.Actor)
	if err != nil {
		return err
	}

	return nil
}

func (r *Repo) GetHistory(ctx context.Context, orderID string) ([]*order.HistoryEntry, error) {
	const query = `
		SELECT id, order_id, old_status, new_status, actor, created_at
		FROM status_history WHERE order_id = $1 ORDER BY id;
	`

	rows, err := r.getter.DefaultTrOrDB(ctx, r.db).QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, err
	}

	entries := make([]*order.HistoryEntry, 0)

	for rows.Next() {
		entry := new(order.HistoryEntry)
		err = rows.Scan(
			&entry.ID, &entry.OrderID, &entry.OldStatus,
			&entry.NewStatus, &entry.Actor, &entry.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	defer func() {
		if err = rows.Close(); err != nil {
			r.logger.Errorf("close rows: %s", err)
		}
	}()

	// Rows.Err will report the last error encountered by Rows.Scan.
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}
