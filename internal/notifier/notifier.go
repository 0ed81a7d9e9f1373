package notifier

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mikaelchan95/easiapp-order-service/internal/models/event"
	"github.com/mikaelchan95/easiapp-order-service/pkg/logger"
	"github.com/mikaelchan95/easiapp-order-service/pkg/metrics"
)

// DefaultQueueSize bounds the per-subscriber event queue.
const DefaultQueueSize = 32

// Key addresses a subscription: every mutation event is published
// under the order key plus the owning user or company key.
type Key struct {
	Kind event.SubjectKind
	ID   string
}

// Notifier fans out order and ledger mutations to subscribers.
// Delivery is at-least-once and ordered per subscriber; a full queue
// drops the oldest event and enqueues a resync signal instead, so a
// slow consumer never blocks a mutation.
type Notifier struct {
	mu        sync.RWMutex
	subs      map[Key]map[string]*subscriber
	queueSize int
	logger    logger.Logger
	metrics   *metrics.PipelineMetrics
}

type subscriber struct {
	id  string
	key Key
	ch  chan event.Event

	// Guards producers and the channel close; the consumer only
	// reads from ch.
	mu           sync.Mutex
	closed       bool
	resyncQueued bool
}

// Handle is a live subscription. Events arrive on C until
// Unsubscribe is called.
type Handle struct {
	sub *subscriber
}

// C returns the subscription's event channel.
func (h *Handle) C() <-chan event.Event {
	return h.sub.ch
}

// Key returns the key this handle is subscribed to.
func (h *Handle) Key() Key {
	return h.sub.key
}

func New(queueSize int, logger logger.Logger, metrics *metrics.PipelineMetrics) (*Notifier, error) {
	if queueSize <= 1 {
		return nil, errors.New("queue size must exceed 1")
	}
	if metrics == nil {
		return nil, errors.New("nil dependency: metrics")
	}

	return &Notifier{
		subs:      make(map[Key]map[string]*subscriber),
		queueSize: queueSize,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// Subscribe registers a new subscriber for every subsequent event
// published under the given key.
func (n *Notifier) Subscribe(key Key) *Handle {
	sub := &subscriber{
		id:  uuid.NewString(),
		key: key,
		ch:  make(chan event.Event, n.queueSize),
	}

	n.mu.Lock()
	if n.subs[key] == nil {
		n.subs[key] = make(map[string]*subscriber)
	}
	n.subs[key][sub.id] = sub
	n.mu.Unlock()

	n.metrics.ActiveSubscribers.Inc()

	return &Handle{sub: sub}
}

// Unsubscribe removes the subscription and closes its channel.
func (n *Notifier) Unsubscribe(h *Handle) {
	if h == nil {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	group, ok := n.subs[h.sub.key]
	if !ok {
		return
	}
	if _, ok = group[h.sub.id]; !ok {
		return
	}

	delete(group, h.sub.id)
	if len(group) == 0 {
		delete(n.subs, h.sub.key)
	}

	// Publish snapshots subscribers before sending, so a removed
	// subscriber may still be targeted. Close under the producer
	// lock so send observes the flag before touching the channel.
	h.sub.mu.Lock()
	h.sub.closed = true
	close(h.sub.ch)
	h.sub.mu.Unlock()

	n.metrics.ActiveSubscribers.Dec()
}

// Publish delivers the event to every subscriber of every given key.
// Fire-and-forget: it never blocks on a slow consumer.
func (n *Notifier) Publish(ev event.Event, keys ...Key) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	n.mu.RLock()
	targets := make([]*subscriber, 0, len(keys))
	for _, key := range keys {
		for _, sub := range n.subs[key] {
			targets = append(targets, sub)
		}
	}
	n.mu.RUnlock()

	for _, sub := range targets {
		n.send(sub, ev)
	}
}

func (n *Notifier) send(sub *subscriber, ev event.Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.closed {
		return
	}

	// A drained queue means any earlier resync was consumed.
	if len(sub.ch) == 0 {
		sub.resyncQueued = false
	}

	select {
	case sub.ch <- ev:
		return
	default:
	}

	// Queue full: drop the oldest undelivered event. The consumer
	// must re-fetch full state, so a resync signal takes the place of
	// whatever was lost. Consistency over completeness.
	select {
	case dropped := <-sub.ch:
		n.metrics.NotifierDrops.Inc()
		// The resync itself may be the victim. Clear the flag so
		// it gets queued again instead of the incoming event.
		if dropped.Kind == event.Resync {
			sub.resyncQueued = false
		}
	default:
	}

	if !sub.resyncQueued {
		sub.resyncQueued = true
		n.logger.Warnf("subscriber %s on %s/%s overflowed, resync queued",
			sub.id, sub.key.Kind, sub.key.ID)
		ev = event.Event{
			EntityType: ev.EntityType,
			EntityID:   ev.EntityID,
			Kind:       event.Resync,
			Timestamp:  time.Now(),
		}
	}

	// Room exists: producers are serialized per subscriber and the
	// consumer only drains.
	sub.ch <- ev
}

// OrderKey addresses subscriptions on a single order.
func OrderKey(orderID string) Key {
	return Key{Kind: event.ByOrder, ID: orderID}
}

// UserKey addresses subscriptions on all of a user's orders and points.
func UserKey(userID string) Key {
	return Key{Kind: event.ByUser, ID: userID}
}

// CompanyKey addresses subscriptions on a company's orders and credit.
func CompanyKey(companyID string) Key {
	return Key{Kind: event.ByCompany, ID: companyID}
}
