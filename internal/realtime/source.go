// Package realtime turns record writes into live record-set notifications.
//
// A Hub couples the record store with change events: every subscription is
// re-queried and handed the full current record set whenever a matching
// record is created, edited or deleted. A Binder owns a single subscription
// on behalf of a consumer and guarantees that no callback runs once it has
// been unsubscribed.
package realtime

import (
	"context"

	"github.com/noah-isme/sma-progress-api/internal/models"
)

// Source is the subscribe side of the record store.
type Source interface {
	Subscribe(filter models.RecordFilter, onChange func([]models.Record)) (unsubscribe func(), err error)
}

// Querier reads the records matching a filter.
type Querier interface {
	List(ctx context.Context, filter models.RecordFilter) ([]models.Record, error)
}

// Publisher announces record changes.
type Publisher interface {
	Publish(ctx context.Context, change models.RecordChange) error
}

// Observer is notified when live subscriptions open and close.
type Observer interface {
	SubscriptionOpened()
	SubscriptionClosed()
}
