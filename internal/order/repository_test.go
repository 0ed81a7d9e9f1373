package order

import (
	"context"
	"errors"
	"sync"

	"github.com/avito-tech/go-transaction-manager/trm/v2"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/catalog"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/errs"
	modelLedger "github.com/mikaelchan95/easiapp-order-service/internal/models/ledger"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/order"
	"github.com/mikaelchan95/easiapp-order-service/internal/payment"
	"github.com/shopspring/decimal"
)

// Lock in case of t.Parallel call.
type mockRepository struct {
	orders  map[string]*order.Order
	history []order.HistoryEntry
	mu      sync.RWMutex

	createErr      error
	collisions     int
	failStatusOnce bool
}

func newMockRepository() *mockRepository {
	return &mockRepository{orders: make(map[string]*order.Order)}
}

func (m *mockRepository) CreateOrder(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}
	if m.collisions > 0 {
		m.collisions--
		return errs.ErrAlreadyExists
	}
	for _, existing := range m.orders {
		if existing.Number == o.Number {
			return errs.ErrAlreadyExists
		}
	}

	stored := *o
	stored.Items = append([]order.LineItem(nil), o.Items...)
	m.orders[o.ID] = &stored

	return nil
}

func (m *mockRepository) GetOrderByID(_ context.Context, id string) (*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, errs.ErrNotFound
	}

	found := *o
	found.Items = append([]order.LineItem(nil), o.Items...)

	return &found, nil
}

func (m *mockRepository) GetOrdersByUserID(_ context.Context, userID string) ([]*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orders := make([]*order.Order, 0)
	for _, o := range m.orders {
		if o.UserID == userID {
			found := *o
			orders = append(orders, &found)
		}
	}

	return orders, nil
}

func (m *mockRepository) GetOrdersByCompanyID(_ context.Context, companyID string) ([]*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orders := make([]*order.Order, 0)
	for _, o := range m.orders {
		if o.CompanyID == companyID {
			found := *o
			orders = append(orders, &found)
		}
	}

	return orders, nil
}

func (m *mockRepository) UpdateStatus(_ context.Context, id string, from, to order.Status, pay order.PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failStatusOnce {
		m.failStatusOnce = false
		return errors.New("connection reset by peer")
	}

	o, ok := m.orders[id]
	if !ok || o.Status != from {
		return errs.ErrDataConflict
	}

	o.Status = to
	o.PaymentStatus = pay

	return nil
}

func (m *mockRepository) SaveHistory(_ context.Context, entry *order.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, *entry)

	return nil
}

func (m *mockRepository) GetHistory(_ context.Context, orderID string) ([]*order.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]*order.HistoryEntry, 0)
	for i := range m.history {
		if m.history[i].OrderID == orderID {
			entry := m.history[i]
			entries = append(entries, &entry)
		}
	}

	return entries, nil
}

func (m *mockRepository) GetInFlightOrders(_ context.Context) ([]*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orders := make([]*order.Order, 0)
	for _, o := range m.orders {
		switch o.Status {
		case order.Confirmed, order.Preparing, order.OutForDelivery:
			found := *o
			orders = append(orders, &found)
		}
	}

	return orders, nil
}

type mockLedgers struct {
	credits map[string]*modelLedger.CompanyCredit
	points  map[string]*modelLedger.UserPoints
	applied map[string]bool
	mu      sync.Mutex

	debitCalls  int
	creditCalls int
}

func newMockLedgers() *mockLedgers {
	return &mockLedgers{
		credits: make(map[string]*modelLedger.CompanyCredit),
		points:  make(map[string]*modelLedger.UserPoints),
		applied: make(map[string]bool),
	}
}

func (m *mockLedgers) GetCompanyCredit(_ context.Context, companyID string) (*modelLedger.CompanyCredit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	credit, ok := m.credits[companyID]
	if !ok {
		return nil, errs.ErrNotFound
	}

	found := *credit

	return &found, nil
}

func (m *mockLedgers) GetUserPoints(_ context.Context, userID string) (*modelLedger.UserPoints, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	points, ok := m.points[userID]
	if !ok {
		return nil, errs.ErrNotFound
	}

	found := *points

	return &found, nil
}

func (m *mockLedgers) DebitCompanyCredit(_ context.Context, companyID string, amount decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	credit, ok := m.credits[companyID]
	if !ok {
		return decimal.Decimal{}, errs.ErrNotFound
	}

	m.debitCalls++
	credit.CurrentCredit = credit.CurrentCredit.Sub(amount)

	return credit.CurrentCredit, nil
}

func (m *mockLedgers) CreditUserPoints(_ context.Context, userID string, earned int64) (*modelLedger.UserPoints, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.creditCalls++

	points, ok := m.points[userID]
	if !ok {
		points = &modelLedger.UserPoints{UserID: userID}
		m.points[userID] = points
	}

	points.Points += earned
	points.LifetimePoints += earned

	found := *points

	return &found, nil
}

func (m *mockLedgers) MarkApplied(_ context.Context, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.applied[orderID] {
		return false, nil
	}
	m.applied[orderID] = true

	return true, nil
}

type mockCatalog struct {
	products map[string]catalog.Product
	err      error
}

func (m *mockCatalog) Resolve(_ context.Context, productID string) (*catalog.Product, error) {
	if m.err != nil {
		return nil, m.err
	}

	product, ok := m.products[productID]
	if !ok {
		return nil, &errs.UnknownProductError{ProductID: productID}
	}

	return &product, nil
}

type mockAdapter struct {
	mu      sync.Mutex
	decline bool
	reason  string
	err     error
	calls   int
}

func (m *mockAdapter) Capture(_ context.Context, _ order.PaymentMethod, _ decimal.Decimal) (*payment.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++

	if m.err != nil {
		return nil, m.err
	}
	if m.decline {
		return &payment.Result{Outcome: payment.Declined, Reason: m.reason}, nil
	}

	return &payment.Result{Outcome: payment.Captured, Reference: "ref-test"}, nil
}

// Runs the unit of work without a surrounding transaction.
type passThroughManager struct{}

func (passThroughManager) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (passThroughManager) DoWithSettings(ctx context.Context, _ trm.Settings, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

var _ trm.Manager = passThroughManager{}
