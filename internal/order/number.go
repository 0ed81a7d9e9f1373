package order

import (
	"math/rand"
	"time"

	"github.com/mikaelchan95/easiapp-order-service/internal/models/order"
)

// NewNumber generates a candidate order number for the given moment.
// Uniqueness is enforced at insert time; on a collision the caller
// regenerates and retries a bounded number of times.
func NewNumber(now time.Time) string {
	return order.FormatNumber(now.Year(), rand.Intn(1_000_000))
}
