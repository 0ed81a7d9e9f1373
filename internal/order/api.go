package order

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/errs"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/event"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/principal"
	"github.com/mikaelchan95/easiapp-order-service/internal/notifier"
)

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// Submit an order (POST /api/orders)
	Submit(w http.ResponseWriter, r *http.Request, params SubmitRequest)
	// Retry a declined payment (POST /api/orders/{orderID}/payment)
	RetryPayment(w http.ResponseWriter, r *http.Request, orderID string)
	// Cancel an order (POST /api/orders/{orderID}/cancel)
	Cancel(w http.ResponseWriter, r *http.Request, orderID string)
	// List the principal's orders (GET /api/orders)
	GetOrders(w http.ResponseWriter, r *http.Request)
	// Get one order with line items (GET /api/orders/{orderID})
	GetOrder(w http.ResponseWriter, r *http.Request, orderID string)
	// Get the order's status history (GET /api/orders/{orderID}/history)
	GetHistory(w http.ResponseWriter, r *http.Request, orderID string)
	// Get the principal's ledger balance (GET /api/balance)
	GetBalance(w http.ResponseWriter, r *http.Request)
	// Stream change events (GET /api/events)
	Events(w http.ResponseWriter, r *http.Request)
}

var _ ServerInterface = (*Service)(nil)

// Submit an order (POST /api/orders).
func (s *Service) Submit(w http.ResponseWriter, r *http.Request, params SubmitRequest) {
	p, found := principal.FromContext(r.Context())
	if !found {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	result, err := s.SubmitOrder(r.Context(), &params, p)
	if err != nil {
		ErrorHandlerFunc(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err = json.NewEncoder(w).Encode(result); err != nil {
		s.logger.Errorf("encode submit result: %s", err)
	}
}

// Retry a declined payment (POST /api/orders/{orderID}/payment).
func (s *Service) RetryPayment(w http.ResponseWriter, r *http.Request, orderID string) {
	p, found := principal.FromContext(r.Context())
	if !found {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	result, err := s.RetryOrderPayment(r.Context(), orderID, p)
	if err != nil {
		ErrorHandlerFunc(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(result); err != nil {
		s.logger.Errorf("encode retry result: %s", err)
	}
}

// Cancel an order (POST /api/orders/{orderID}/cancel).
func (s *Service) Cancel(w http.ResponseWriter, r *http.Request, orderID string) {
	p, found := principal.FromContext(r.Context())
	if !found {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if err := s.CancelOrder(r.Context(), orderID, p); err != nil {
		ErrorHandlerFunc(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// List the principal's orders (GET /api/orders).
func (s *Service) GetOrders(w http.ResponseWriter, r *http.Request) {
	p, found := principal.FromContext(r.Context())
	if !found {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	orders, err := s.ListOrders(r.Context(), p)
	if err != nil {
		ErrorHandlerFunc(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(orders); err != nil {
		s.logger.Errorf("encode orders: %s", err)
	}
}

// Get one order with line items (GET /api/orders/{orderID}).
func (s *Service) GetOrder(w http.ResponseWriter, r *http.Request, orderID string) {
	p, found := principal.FromContext(r.Context())
	if !found {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	o, err := s.LookupOrder(r.Context(), orderID, p)
	if err != nil {
		ErrorHandlerFunc(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(o); err != nil {
		s.logger.Errorf("encode order: %s", err)
	}
}

// Get the order's status history (GET /api/orders/{orderID}/history).
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request, orderID string) {
	p, found := principal.FromContext(r.Context())
	if !found {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	entries, err := s.OrderHistory(r.Context(), orderID, p)
	if err != nil {
		ErrorHandlerFunc(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(entries); err != nil {
		s.logger.Errorf("encode history: %s", err)
	}
}

// Get the principal's ledger balance (GET /api/balance).
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	p, found := principal.FromContext(r.Context())
	if !found {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	balance, err := s.LookupBalance(r.Context(), p)
	if err != nil {
		ErrorHandlerFunc(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(balance); err != nil {
		s.logger.Errorf("encode balance: %s", err)
	}
}

// Events streams change events for the requested key over SSE
// (GET /api/events?kind=order&id=...). Without parameters the stream
// follows the principal's own user key.
func (s *Service) Events(w http.ResponseWriter, r *http.Request) {
	p, found := principal.FromContext(r.Context())
	if !found {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	key, err := s.subscriptionKey(r, p)
	if err != nil {
		ErrorHandlerFunc(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		ErrorHandlerFunc(w, r, errors.New("streaming unsupported"))
		return
	}

	handle := s.notifier.Subscribe(key)
	defer s.notifier.Unsubscribe(handle)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-handle.C():
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				s.logger.Errorf("marshal event: %s", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, payload)
			flusher.Flush()
		}
	}
}

func (s *Service) subscriptionKey(r *http.Request, p *principal.Principal) (notifier.Key, error) {
	kind := r.URL.Query().Get("kind")
	id := r.URL.Query().Get("id")

	switch event.SubjectKind(kind) {
	case event.ByOrder:
		if _, err := s.LookupOrder(r.Context(), id, p); err != nil {
			return notifier.Key{}, err
		}
		return notifier.OrderKey(id), nil
	case event.ByCompany:
		if id != p.CompanyID {
			return notifier.Key{}, errs.ErrNotFound
		}
		return notifier.CompanyKey(id), nil
	case event.ByUser, "":
		return notifier.UserKey(p.UserID), nil
	}

	return notifier.Key{}, fmt.Errorf("%w: unknown subscription kind %q",
		errs.ErrInvalidRequest, kind)
}

// ErrorHandlerFunc handles sending of an error in the JSON format,
// writing appropriate status code and naming the pipeline stage that
// failed so the caller can offer a targeted retry.
func ErrorHandlerFunc(w http.ResponseWriter, _ *http.Request, err error) {
	errJSON := errs.JSON{Error: err.Error(), Stage: stageOf(err)}
	code := http.StatusInternalServerError

	switch {
	// Status Bad Request (400).
	case errors.Is(err, errs.ErrInvalidRequest):
		code = http.StatusBadRequest

	// Status Payment Required (402).
	case errors.Is(err, errs.ErrPaymentDeclined):
		code = http.StatusPaymentRequired

	// Status Not Found (404).
	case errors.Is(err, errs.ErrNotFound):
		code = http.StatusNotFound

	// Status Conflict (409).
	case errors.Is(err, errs.ErrDataConflict),
		errors.Is(err, errs.ErrAlreadyExists),
		errors.Is(err, errs.ErrIllegalStatus):
		code = http.StatusConflict

	// Status Unprocessable Entity (422).
	case errors.Is(err, errs.ErrCatalog):
		code = http.StatusUnprocessableEntity
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err = json.NewEncoder(w).Encode(errJSON); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func stageOf(err error) string {
	switch {
	case errors.Is(err, errs.ErrInvalidRequest), errors.Is(err, errs.ErrCatalog):
		return "validate"
	case errors.Is(err, errs.ErrPersistence):
		return "create"
	case errors.Is(err, errs.ErrPaymentDeclined):
		return "capture_payment"
	case errors.Is(err, errs.ErrLedger):
		return "confirm"
	}
	return ""
}

// ServerInterfaceWrapper converts payloads to parameters.
type ServerInterfaceWrapper struct {
	Handler            ServerInterface
	ErrorHandlerFunc   func(w http.ResponseWriter, r *http.Request, err error)
	HandlerMiddlewares []MiddlewareFunc
}

type MiddlewareFunc func(http.Handler) http.Handler

// Submit operation middleware.
func (siw *ServerInterfaceWrapper) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Parameter object where we will unmarshal the request body.
	var params SubmitRequest

	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		siw.ErrorHandlerFunc(w, r, checkJSONDecodeError(err))
		return
	}
	r.Body.Close()

	handler := http.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.Submit(w, r, params)
	}))

	for _, middleware := range siw.HandlerMiddlewares {
		handler = middleware(handler)
	}

	handler.ServeHTTP(w, r.WithContext(ctx))
}

// RetryPayment operation middleware.
func (siw *ServerInterfaceWrapper) RetryPayment(w http.ResponseWriter, r *http.Request) {
	siw.withOrderID(w, r, siw.Handler.RetryPayment)
}

// Cancel operation middleware.
func (siw *ServerInterfaceWrapper) Cancel(w http.ResponseWriter, r *http.Request) {
	siw.withOrderID(w, r, siw.Handler.Cancel)
}

// GetOrder operation middleware.
func (siw *ServerInterfaceWrapper) GetOrder(w http.ResponseWriter, r *http.Request) {
	siw.withOrderID(w, r, siw.Handler.GetOrder)
}

// GetHistory operation middleware.
func (siw *ServerInterfaceWrapper) GetHistory(w http.ResponseWriter, r *http.Request) {
	siw.withOrderID(w, r, siw.Handler.GetHistory)
}

// GetOrders operation middleware.
func (siw *ServerInterfaceWrapper) GetOrders(w http.ResponseWriter, r *http.Request) {
	siw.plain(w, r, siw.Handler.GetOrders)
}

// GetBalance operation middleware.
func (siw *ServerInterfaceWrapper) GetBalance(w http.ResponseWriter, r *http.Request) {
	siw.plain(w, r, siw.Handler.GetBalance)
}

// Events operation middleware.
func (siw *ServerInterfaceWrapper) Events(w http.ResponseWriter, r *http.Request) {
	siw.plain(w, r, siw.Handler.Events)
}

func (siw *ServerInterfaceWrapper) withOrderID(w http.ResponseWriter, r *http.Request,
	fn func(w http.ResponseWriter, r *http.Request, orderID string),
) {
	ctx := r.Context()

	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		siw.ErrorHandlerFunc(w, r, &errs.RequiredFieldError{FieldName: "orderID"})
		return
	}

	handler := http.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fn(w, r, orderID)
	}))

	for _, middleware := range siw.HandlerMiddlewares {
		handler = middleware(handler)
	}

	handler.ServeHTTP(w, r.WithContext(ctx))
}

func (siw *ServerInterfaceWrapper) plain(w http.ResponseWriter, r *http.Request,
	fn func(w http.ResponseWriter, r *http.Request),
) {
	ctx := r.Context()

	handler := http.Handler(http.HandlerFunc(fn))

	for _, middleware := range siw.HandlerMiddlewares {
		handler = middleware(handler)
	}

	handler.ServeHTTP(w, r.WithContext(ctx))
}

func checkJSONDecodeError(err error) error {
	var e *json.UnmarshalTypeError
	if errors.As(err, &e) {
		return fmt.Errorf("%w: %s must be of type %s, got %s",
			errs.ErrInvalidRequest, e.Field, e.Type, e.Value)
	}
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: empty body", errs.ErrInvalidRequest)
	}

	return err
}

type ChiServerOptions struct {
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
	BaseRouter       chi.Router
	BaseURL          string
	Middlewares      []MiddlewareFunc
}

// Handler creates http.Handler with default options.
func Handler(si ServerInterface) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{})
}

// HandlerWithOptions creates http.Handler with additional options.
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter

	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = ErrorHandlerFunc
	}

	wrapper := ServerInterfaceWrapper{
		Handler:            si,
		ErrorHandlerFunc:   options.ErrorHandlerFunc,
		HandlerMiddlewares: options.Middlewares,
	}

	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/orders", wrapper.Submit)
		r.Get(options.BaseURL+"/orders", wrapper.GetOrders)
		r.Get(options.BaseURL+"/orders/{orderID}", wrapper.GetOrder)
		r.Get(options.BaseURL+"/orders/{orderID}/history", wrapper.GetHistory)
		r.Post(options.BaseURL+"/orders/{orderID}/payment", wrapper.RetryPayment)
		r.Post(options.BaseURL+"/orders/{orderID}/cancel", wrapper.Cancel)
		r.Get(options.BaseURL+"/balance", wrapper.GetBalance)
		r.Get(options.BaseURL+"/events", wrapper.Events)
	})

	return r
}
