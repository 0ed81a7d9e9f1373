package fulfillment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mikaelchan95/easiapp-order-service/internal/config"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/order"
	"github.com/mikaelchan95/easiapp-order-service/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// OrderTransitioner is the single transition path shared with the
// orchestrator, so no scheduler-driven change can bypass the
// lifecycle, history or notification invariants.
type OrderTransitioner interface {
	Transition(ctx context.Context, o *order.Order, to order.Status, actor string) error
}

// OrderSource lists confirmed orders that still need to be driven
// forward.
type OrderSource interface {
	GetInFlightOrders(ctx context.Context) ([]*order.Order, error)
}

// Scheduler advances confirmed orders through preparing,
// out_for_delivery and delivered on a timing policy derived from the
// chosen delivery slot. It is sweep-driven: all due transitions are
// recomputed from persisted state, so a process restart never loses a
// scheduled transition.
//
// The fixed demo delays for future-dated slots stand in for a real
// carrier integration; a production deployment replaces them with
// carrier webhooks.
type Scheduler struct {
	svc    OrderTransitioner
	source OrderSource
	config *config.Config
	logger logger.Logger
	loc    *time.Location
	wg     *sync.WaitGroup
	done   chan struct{}
	stop   sync.Once
}

func NewScheduler(
	svc OrderTransitioner,
	source OrderSource,
	config *config.Config,
	logger logger.Logger,
) (*Scheduler, error) {
	if svc == nil {
		return nil, errors.New("nil dependency: order transitioner")
	}
	if source == nil {
		return nil, errors.New("nil dependency: order source")
	}
	if config == nil {
		return nil, errors.New("nil dependency: config")
	}

	return &Scheduler{
		svc:    svc,
		source: source,
		config: config,
		logger: logger,
		loc:    time.Local,
		wg:     &sync.WaitGroup{},
		done:   make(chan struct{}),
	}, nil
}

// Run starts the sweep loop.
func (s *Scheduler) Run() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()
	}()
}

// Stop terminates the sweep loop and waits for an in-progress sweep
// to finish, bounded by the shutdown timeout.
func (s *Scheduler) Stop() {
	s.stop.Do(func() {
		close(s.done)
	})

	ready := make(chan struct{})
	go func() {
		defer close(ready)
		s.wg.Wait()
	}()

	select {
	case <-time.After(s.config.HTTPServer.ShutdownTimeout):
		s.logger.Error("fulfillment scheduler stop: shutdown timeout exceeded")
	case <-ready:
		return
	}
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.config.Fulfillment.SweepInterval)
	defer ticker.Stop()

	// Recovery sweep on startup covers orders that were mid-schedule
	// when the previous process died.
	s.Sweep(context.Background())

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.Sweep(context.Background())
		}
	}
}

// Sweep advances every in-flight order whose next transition is due.
func (s *Scheduler) Sweep(ctx context.Context) {
	orders, err := s.source.GetInFlightOrders(ctx)
	if err != nil {
		s.logger.Errorf("fulfillment sweep: %s", err)
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	now := time.Now()

	for _, o := range orders {
		o := o
		g.Go(func() error {
			s.advance(ctx, o, now)
			return nil
		})
	}

	_ = g.Wait()
}

func (s *Scheduler) advance(ctx context.Context, o *order.Order, now time.Time) {
	next, due, ok := s.nextTransition(o, now)
	if !ok || now.Before(due) {
		return
	}

	if err := s.svc.Transition(ctx, o, next, order.ActorScheduler); err != nil {
		s.logger.Errorf("advance order %s to %s: %s", o.Number, next, err)
		return
	}

	s.logger.Infof("order %s advanced to %s", o.Number, next)
}

// nextTransition computes the order's next status and the moment it
// falls due. Same-day slots are timed against the slot window; future
// slots use the fixed demo delays.
func (s *Scheduler) nextTransition(o *order.Order, now time.Time) (order.Status, time.Time, bool) {
	sameDay := o.Slot.IsToday(now, s.loc)

	switch o.Status {
	case order.Confirmed:
		if sameDay {
			return order.Preparing, o.UpdatedAt.Add(s.config.Fulfillment.PreparingDelay), true
		}
		return order.Preparing, o.UpdatedAt.Add(s.config.Fulfillment.DemoStepDelay), true

	case order.Preparing:
		if sameDay {
			start, _, err := o.Slot.Window(s.loc)
			if err != nil {
				s.logger.Errorf("order %s slot: %s", o.Number, err)
				return "", time.Time{}, false
			}
			return order.OutForDelivery, start.Add(-s.config.Fulfillment.DispatchLead), true
		}
		return order.OutForDelivery, o.UpdatedAt.Add(s.config.Fulfillment.DemoStepDelay), true

	case order.OutForDelivery:
		if sameDay {
			start, end, err := o.Slot.Window(s.loc)
			if err != nil {
				s.logger.Errorf("order %s slot: %s", o.Number, err)
				return "", time.Time{}, false
			}
			midpoint := start.Add(end.Sub(start) / 2)
			// CreatedAt approximates confirmation closely enough to
			// floor implausibly fast same-day deliveries.
			floor := o.CreatedAt.Add(s.config.Fulfillment.MinDeliveryLead)
			if midpoint.Before(floor) {
				midpoint = floor
			}
			return order.Delivered, midpoint, true
		}
		return order.Delivered, o.UpdatedAt.Add(s.config.Fulfillment.DemoStepDelay), true
	}

	return "", time.Time{}, false
}
