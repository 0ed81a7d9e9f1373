package fulfillment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mikaelchan95/easiapp-order-service/internal/config"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/order"
	"github.com/mikaelchan95/easiapp-order-service/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Lock in case of t.Parallel call.
type mockTransitioner struct {
	mu    sync.Mutex
	calls map[string]order.Status
	err   error
}

func (m *mockTransitioner) Transition(_ context.Context, o *order.Order, to order.Status, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	if m.calls == nil {
		m.calls = make(map[string]order.Status)
	}
	m.calls[o.ID] = to

	return nil
}

type mockSource struct {
	orders []*order.Order
}

func (m *mockSource) GetInFlightOrders(_ context.Context) ([]*order.Order, error) {
	return m.orders, nil
}

func testFulfillmentConfig() *config.Config {
	return &config.Config{
		HTTPServer: config.HTTPServer{ShutdownTimeout: time.Second},
		Fulfillment: config.Fulfillment{
			PreparingDelay:  2 * time.Minute,
			DispatchLead:    30 * time.Minute,
			MinDeliveryLead: 20 * time.Minute,
			DemoStepDelay:   5 * time.Minute,
			SweepInterval:   10 * time.Millisecond,
		},
	}
}

func testScheduler(t *testing.T, svc OrderTransitioner, source OrderSource) *Scheduler {
	t.Helper()

	s, err := NewScheduler(svc, source, testFulfillmentConfig(), logger.NewNop())
	require.NoError(t, err, "failed to init scheduler")
	s.loc = time.UTC

	return s
}

func TestNextTransition(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	sameDay := order.DeliverySlot{Date: "2026-03-14", TimeSlot: "14:00-16:00"}
	future := order.DeliverySlot{Date: "2026-03-20", TimeSlot: "14:00-16:00"}

	tests := []struct {
		name     string
		o        *order.Order
		wantNext order.Status
		wantDue  time.Time
		wantOK   bool
	}{
		{
			name: "confirmed same-day",
			o: &order.Order{
				Status:    order.Confirmed,
				Slot:      sameDay,
				UpdatedAt: now.Add(-10 * time.Minute),
			},
			wantNext: order.Preparing,
			wantDue:  now.Add(-8 * time.Minute),
			wantOK:   true,
		},
		{
			name: "confirmed future slot",
			o: &order.Order{
				Status:    order.Confirmed,
				Slot:      future,
				UpdatedAt: now,
			},
			wantNext: order.Preparing,
			wantDue:  now.Add(5 * time.Minute),
			wantOK:   true,
		},
		{
			name: "preparing same-day dispatches ahead of the window",
			o: &order.Order{
				Status:    order.Preparing,
				Slot:      sameDay,
				UpdatedAt: now,
			},
			wantNext: order.OutForDelivery,
			wantDue:  time.Date(2026, 3, 14, 13, 30, 0, 0, time.UTC),
			wantOK:   true,
		},
		{
			name: "out for delivery lands at the window midpoint",
			o: &order.Order{
				Status:    order.OutForDelivery,
				Slot:      sameDay,
				CreatedAt: now.Add(-time.Hour),
				UpdatedAt: now,
			},
			wantNext: order.Delivered,
			wantDue:  time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC),
			wantOK:   true,
		},
		{
			name: "delivery floored for a late same-day order",
			o: &order.Order{
				Status:    order.OutForDelivery,
				Slot:      sameDay,
				CreatedAt: time.Date(2026, 3, 14, 14, 50, 0, 0, time.UTC),
				UpdatedAt: now,
			},
			wantNext: order.Delivered,
			wantDue:  time.Date(2026, 3, 14, 15, 10, 0, 0, time.UTC),
			wantOK:   true,
		},
		{
			name: "out for delivery future slot",
			o: &order.Order{
				Status:    order.OutForDelivery,
				Slot:      future,
				UpdatedAt: now,
			},
			wantNext: order.Delivered,
			wantDue:  now.Add(5 * time.Minute),
			wantOK:   true,
		},
		{
			name:   "delivered orders have no next transition",
			o:      &order.Order{Status: order.Delivered, Slot: sameDay},
			wantOK: false,
		},
		{
			name:   "pending orders are not the scheduler's business",
			o:      &order.Order{Status: order.Pending, Slot: sameDay},
			wantOK: false,
		},
		{
			name: "unparseable slot",
			o: &order.Order{
				Status: order.Preparing,
				Slot:   order.DeliverySlot{Date: "2026-03-14", TimeSlot: "afternoonish"},
			},
			wantOK: false,
		},
	}
	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := testScheduler(t, &mockTransitioner{}, &mockSource{})

			next, due, ok := s.nextTransition(tt.o, now)

			require.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantNext, next, "next status")
			assert.True(t, due.Equal(tt.wantDue), "due at %s, want %s", due, tt.wantDue)
		})
	}
}

func TestSweepAdvancesDueOrders(t *testing.T) {
	tomorrow := time.Now().AddDate(0, 0, 1).Format("2006-01-02")
	slot := order.DeliverySlot{Date: tomorrow, TimeSlot: "14:00-16:00"}

	source := &mockSource{orders: []*order.Order{
		{
			ID:        "due",
			Number:    "ORD-2026-000001",
			Status:    order.Confirmed,
			Slot:      slot,
			UpdatedAt: time.Now().Add(-10 * time.Minute),
		},
		{
			ID:        "not-due",
			Number:    "ORD-2026-000002",
			Status:    order.Confirmed,
			Slot:      slot,
			UpdatedAt: time.Now(),
		},
	}}

	svc := &mockTransitioner{}
	s := testScheduler(t, svc, source)

	s.Sweep(context.Background())

	assert.Equal(t, map[string]order.Status{"due": order.Preparing}, svc.calls,
		"only the due order advances")
}

func TestSchedulerRunStop(t *testing.T) {
	svc := &mockTransitioner{}
	s := testScheduler(t, svc, &mockSource{orders: []*order.Order{{
		ID:        "due",
		Status:    order.Confirmed,
		Slot:      order.DeliverySlot{Date: "2099-01-01", TimeSlot: "14:00-16:00"},
		UpdatedAt: time.Now().Add(-10 * time.Minute),
	}}})

	s.Run()

	// The startup recovery sweep alone must pick up the due order.
	assert.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return svc.calls["due"] == order.Preparing
	}, time.Second, 5*time.Millisecond, "recovery sweep")

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
