package catalog

import (
	"context"
	"database/sql"
	"errors"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/catalog"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/errs"
	"github.com/mikaelchan95/easiapp-order-service/pkg/logger"
)

// Resolver maps a product id to its authoritative catalog record.
// Line items snapshot the resolved name and price, never the values a
// client sent with the cart.
type Resolver interface {
	Resolve(ctx context.Context, productID string) (*catalog.Product, error)
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

var _ Resolver = (*Repo)(nil)

func (r *Repo) Resolve(ctx context.Context, productID string) (*catalog.Product, error) {
	const query = "SELECT id, name, price, image_url FROM products WHERE id = $1"

	product := new(catalog.Product)

	err := r.getter.DefaultTrOrDB(ctx, r.db).QueryRowContext(ctx, query, productID).Scan(
		&product.ID,
		&product.Name,
		&product.Price,
		&product.ImageURL,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &errs.UnknownProductError{ProductID: productID}
		}
		return nil, err
	}

	return product, nil
}
