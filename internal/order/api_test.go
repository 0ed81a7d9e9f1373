package order

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/errs"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/event"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/order"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/principal"
	"github.com/mikaelchan95/easiapp-order-service/internal/notifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Lock in case of t.Parallel call.
type mockOrderService struct {
	mu       sync.Mutex
	submits  []SubmitRequest
	orderIDs []string
}

func (m *mockOrderService) Submit(w http.ResponseWriter, _ *http.Request, params SubmitRequest) {
	m.mu.Lock()
	m.submits = append(m.submits, params)
	m.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}

func (m *mockOrderService) RetryPayment(w http.ResponseWriter, _ *http.Request, orderID string) {
	m.record(orderID)
	w.WriteHeader(http.StatusOK)
}

func (m *mockOrderService) Cancel(w http.ResponseWriter, _ *http.Request, orderID string) {
	m.record(orderID)
	w.WriteHeader(http.StatusNoContent)
}

func (m *mockOrderService) GetOrders(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (m *mockOrderService) GetOrder(w http.ResponseWriter, _ *http.Request, orderID string) {
	m.record(orderID)
	w.WriteHeader(http.StatusOK)
}

func (m *mockOrderService) GetHistory(w http.ResponseWriter, _ *http.Request, orderID string) {
	m.record(orderID)
	w.WriteHeader(http.StatusOK)
}

func (m *mockOrderService) GetBalance(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (m *mockOrderService) Events(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (m *mockOrderService) record(orderID string) {
	m.mu.Lock()
	m.orderIDs = append(m.orderIDs, orderID)
	m.mu.Unlock()
}

func TestSubmitOperationMiddleware(t *testing.T) {
	path := "/api/orders"

	type want struct {
		response   string
		statusCode int
	}

	tests := []struct {
		name    string
		payload io.Reader
		want    want
		wantErr bool
	}{
		{
			name:    "OK",
			payload: strings.NewReader(`{"cartItems":[{"productId":"macallan-12","quantity":2}]}`),
			want: want{
				statusCode: http.StatusCreated,
				response:   "",
			},
			wantErr: false,
		},
		{
			name:    "empty body",
			payload: strings.NewReader(""),
			want: want{
				statusCode: http.StatusBadRequest,
				response:   fmt.Sprintf("%v: empty body", errs.ErrInvalidRequest),
			},
			wantErr: true,
		},
		{
			name:    "invalid data type: companyId is number",
			payload: strings.NewReader(`{"companyId":123}`),
			want: want{
				statusCode: http.StatusBadRequest,
				response: fmt.Sprintf("%v: companyId must be of type string, got number",
					errs.ErrInvalidRequest),
			},
			wantErr: true,
		},
		{
			name:    "invalid data type: cartItems is object",
			payload: strings.NewReader(`{"cartItems":{}}`),
			want: want{
				statusCode: http.StatusBadRequest,
				response: fmt.Sprintf("%v: cartItems must be of type []order.CartItem, got object",
					errs.ErrInvalidRequest),
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := httptest.NewRequest(http.MethodPost, path, tt.payload)
			w := httptest.NewRecorder()

			siw := ServerInterfaceWrapper{
				Handler:          &mockOrderService{},
				ErrorHandlerFunc: ErrorHandlerFunc,
			}

			siw.Submit(w, r)

			res := w.Result()

			errorResponse := new(errs.JSON)

			if tt.wantErr {
				err := json.NewDecoder(res.Body).Decode(&errorResponse)
				require.NoError(t, err, "failed to decode JSON response")
			}
			r.Body.Close()
			res.Body.Close()

			assert.Equal(t, tt.want.statusCode, res.StatusCode, "status mismatch")
			if tt.wantErr {
				assert.Equal(t, errorResponse.Error, tt.want.response, "error message mismatch")
			}
		})
	}
}

func TestWithOrderIDOperationMiddleware(t *testing.T) {
	t.Run("missing order id", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/api/orders//cancel", http.NoBody)
		w := httptest.NewRecorder()

		siw := ServerInterfaceWrapper{
			Handler:          &mockOrderService{},
			ErrorHandlerFunc: ErrorHandlerFunc,
		}

		siw.Cancel(w, r)

		res := w.Result()
		defer res.Body.Close()

		errorResponse := new(errs.JSON)
		require.NoError(t, json.NewDecoder(res.Body).Decode(&errorResponse))

		assert.Equal(t, http.StatusBadRequest, res.StatusCode)
		assert.Equal(t, `field "orderID" is required, but not provided`, errorResponse.Error)
	})

	t.Run("order id from route", func(t *testing.T) {
		mock := &mockOrderService{}

		siw := ServerInterfaceWrapper{
			Handler:          mock,
			ErrorHandlerFunc: ErrorHandlerFunc,
		}

		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("orderID", "o-9")

		r := httptest.NewRequest(http.MethodPost, "/api/orders/o-9/cancel", http.NoBody)
		r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
		w := httptest.NewRecorder()

		siw.Cancel(w, r)

		assert.Equal(t, http.StatusNoContent, w.Result().StatusCode)
		assert.Equal(t, []string{"o-9"}, mock.orderIDs)
	})
}

func TestHandlerRouting(t *testing.T) {
	mock := &mockOrderService{}
	router := HandlerWithOptions(mock, ChiServerOptions{BaseURL: "/api"})

	tests := []struct {
		method string
		target string
		body   io.Reader
		status int
	}{
		{http.MethodPost, "/api/orders", strings.NewReader(`{}`), http.StatusCreated},
		{http.MethodGet, "/api/orders", nil, http.StatusOK},
		{http.MethodGet, "/api/orders/o-1", nil, http.StatusOK},
		{http.MethodGet, "/api/orders/o-1/history", nil, http.StatusOK},
		{http.MethodPost, "/api/orders/o-1/payment", nil, http.StatusOK},
		{http.MethodPost, "/api/orders/o-1/cancel", nil, http.StatusNoContent},
		{http.MethodGet, "/api/balance", nil, http.StatusOK},
		{http.MethodGet, "/api/events", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.target, tt.body)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, r)

			assert.Equal(t, tt.status, w.Result().StatusCode)
		})
	}
}

func TestErrorHandlerFunc(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		stage  string
	}{
		{
			name:   "missing field",
			err:    &errs.RequiredFieldError{FieldName: "cartItems"},
			status: http.StatusBadRequest,
			stage:  "validate",
		},
		{
			name:   "unknown product",
			err:    &errs.UnknownProductError{ProductID: "x"},
			status: http.StatusUnprocessableEntity,
			stage:  "validate",
		},
		{
			name:   "create failed",
			err:    fmt.Errorf("%w: create order: boom", errs.ErrPersistence),
			status: http.StatusInternalServerError,
			stage:  "create",
		},
		{
			name:   "payment declined",
			err:    &errs.PaymentDeclinedError{OrderID: "o-1", Reason: "insufficient funds"},
			status: http.StatusPaymentRequired,
			stage:  "capture_payment",
		},
		{
			name:   "ledger failure",
			err:    fmt.Errorf("%w: confirm order ORD-2026-000001: boom", errs.ErrLedger),
			status: http.StatusInternalServerError,
			stage:  "confirm",
		},
		{
			name:   "not found",
			err:    errs.ErrNotFound,
			status: http.StatusNotFound,
			stage:  "",
		},
		{
			name:   "illegal transition",
			err:    &errs.IllegalTransitionError{From: "delivered", To: "cancelled"},
			status: http.StatusConflict,
			stage:  "",
		},
		{
			name:   "data conflict",
			err:    errs.ErrDataConflict,
			status: http.StatusConflict,
			stage:  "",
		},
	}
	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := httptest.NewRequest(http.MethodPost, "/api/orders", http.NoBody)
			w := httptest.NewRecorder()

			ErrorHandlerFunc(w, r, tt.err)

			res := w.Result()
			defer res.Body.Close()

			errorResponse := new(errs.JSON)
			require.NoError(t, json.NewDecoder(res.Body).Decode(&errorResponse))

			assert.Equal(t, tt.status, res.StatusCode, "status mismatch")
			assert.Equal(t, tt.err.Error(), errorResponse.Error, "error message mismatch")
			assert.Equal(t, tt.stage, errorResponse.Stage, "stage mismatch")
		})
	}
}

func TestSubmitHandler(t *testing.T) {
	t.Run("no principal", func(t *testing.T) {
		svc := newTestService(t, newMockRepository(), newMockLedgers(), testCatalog(), &mockAdapter{})

		r := httptest.NewRequest(http.MethodPost, "/api/orders", http.NoBody)
		w := httptest.NewRecorder()

		svc.Submit(w, r, *testRequest())

		assert.Equal(t, http.StatusUnauthorized, w.Result().StatusCode)
	})

	t.Run("OK", func(t *testing.T) {
		svc := newTestService(t, newMockRepository(), newMockLedgers(), testCatalog(), &mockAdapter{})

		r := httptest.NewRequest(http.MethodPost, "/api/orders", http.NoBody)
		r = r.WithContext(principal.NewContext(r.Context(), individual()))
		w := httptest.NewRecorder()

		svc.Submit(w, r, *testRequest())

		res := w.Result()
		defer res.Body.Close()

		require.Equal(t, http.StatusCreated, res.StatusCode)

		result := new(SubmitResult)
		require.NoError(t, json.NewDecoder(res.Body).Decode(result))
		assert.Regexp(t, order.NumberPattern, result.OrderNumber)
		require.NotNil(t, result.PointsAwarded)
		assert.Equal(t, int64(228), result.PointsAwarded.PointsEarned)
	})

	t.Run("declined", func(t *testing.T) {
		svc := newTestService(t, newMockRepository(), newMockLedgers(), testCatalog(),
			&mockAdapter{decline: true, reason: "insufficient funds"})

		r := httptest.NewRequest(http.MethodPost, "/api/orders", http.NoBody)
		r = r.WithContext(principal.NewContext(r.Context(), individual()))
		w := httptest.NewRecorder()

		svc.Submit(w, r, *testRequest())

		res := w.Result()
		defer res.Body.Close()

		assert.Equal(t, http.StatusPaymentRequired, res.StatusCode)

		errorResponse := new(errs.JSON)
		require.NoError(t, json.NewDecoder(res.Body).Decode(&errorResponse))
		assert.Equal(t, "capture_payment", errorResponse.Stage)
	})
}

func TestEventsHandler(t *testing.T) {
	svc := newTestService(t, newMockRepository(), newMockLedgers(), testCatalog(), &mockAdapter{})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	r := httptest.NewRequest(http.MethodGet, "/api/events", http.NoBody)
	r = r.WithContext(principal.NewContext(ctx, individual()))
	w := httptest.NewRecorder()

	// Publish until the stream closes so the subscription, created
	// inside the handler, is guaranteed to observe an event.
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				svc.notifier.Publish(event.Event{
					EntityType: event.EntityOrder,
					EntityID:   "o-1",
					Kind:       event.StatusChanged,
				}, notifier.UserKey("u-1"))
			}
		}
	}()

	svc.Events(w, r)

	body := w.Body.String()
	assert.Contains(t, body, "event: status_changed", "SSE event frame")
	assert.Contains(t, body, `"entityId":"o-1"`, "SSE data frame")
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
}

func TestEventsHandlerForeignCompany(t *testing.T) {
	svc := newTestService(t, newMockRepository(), newMockLedgers(), testCatalog(), &mockAdapter{})

	r := httptest.NewRequest(http.MethodGet, "/api/events?kind=company&id=c-900", http.NoBody)
	r = r.WithContext(principal.NewContext(r.Context(), individual()))
	w := httptest.NewRecorder()

	svc.Events(w, r)

	assert.Equal(t, http.StatusNotFound, w.Result().StatusCode,
		"foreign company streams must not be observable")
}
