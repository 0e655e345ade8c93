package realtime

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-progress-api/internal/models"
	appErrors "github.com/noah-isme/sma-progress-api/pkg/errors"
)

// State is the lifecycle position of a Binder.
type State string

const (
	StateIdle         State = "idle"
	StateSubscribing  State = "subscribing"
	StateActive       State = "active"
	StateUnsubscribed State = "unsubscribed"
	StateErrored      State = "errored"
)

// Binder holds at most one live subscription for a consumer. Subscribing
// again tears down the previous subscription first, and no onChange call is
// made once a subscription has been cancelled, even if the source still has
// a notification in flight. Each delivery is decided under the binder lock,
// the same lock cancellation takes; a call decided before the cancel may
// still be running when the cancel returns. Cancel does not wait for it, so
// onChange may itself cancel.
type Binder struct {
	source Source
	logger *zap.Logger

	mu       sync.Mutex
	state    State
	gen      uint64
	filter   models.RecordFilter
	onChange func([]models.Record)
	cancel   func()
	pending  [][]models.Record
	draining bool
}

// NewBinder constructs an idle binder over source.
func NewBinder(source Source, logger *zap.Logger) *Binder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Binder{source: source, logger: logger, state: StateIdle}
}

// State returns the current lifecycle state.
func (b *Binder) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Filter returns the filter of the current or last subscription.
func (b *Binder) Filter() models.RecordFilter {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filter
}

// Subscribe starts delivering the records matching filter to onChange. The
// returned function cancels this subscription only; calling it more than once
// or after a later Subscribe is a no-op.
func (b *Binder) Subscribe(filter models.RecordFilter, onChange func([]models.Record)) (func(), error) {
	if onChange == nil {
		return func() {}, appErrors.Clone(appErrors.ErrValidation, "onChange callback is required")
	}

	b.mu.Lock()
	previous := b.detachLocked()
	b.gen++
	gen := b.gen
	b.state = StateSubscribing
	b.filter = filter
	b.onChange = onChange
	b.pending = nil
	b.draining = false
	b.mu.Unlock()

	if previous != nil {
		previous()
	}

	cancel, err := b.subscribeSource(gen, filter)
	if err != nil {
		b.mu.Lock()
		if b.gen == gen {
			b.state = StateErrored
			b.pending = nil
			b.onChange = nil
		}
		b.mu.Unlock()
		b.logger.Warn("live query subscription failed", zap.String("filter", filter.String()), zap.Error(err))
		return func() {}, appErrors.WrapAs(err, appErrors.ErrSubscription, "")
	}

	b.mu.Lock()
	if b.gen != gen || b.state != StateSubscribing {
		// Cancelled while the source was being set up.
		b.mu.Unlock()
		cancel()
		return func() {}, nil
	}
	b.state = StateActive
	b.cancel = cancel
	start := len(b.pending) > 0 && !b.draining
	if start {
		b.draining = true
	}
	b.mu.Unlock()

	if start {
		b.drain(gen)
	}
	return func() { b.unsubscribe(gen) }, nil
}

// Unsubscribe cancels the current subscription, if any.
func (b *Binder) Unsubscribe() {
	b.mu.Lock()
	gen := b.gen
	b.mu.Unlock()
	b.unsubscribe(gen)
}

func (b *Binder) unsubscribe(gen uint64) {
	b.mu.Lock()
	if b.gen != gen {
		b.mu.Unlock()
		return
	}
	cancel := b.detachLocked()
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// detachLocked moves a live subscription to Unsubscribed and returns the
// source cancel function for the caller to run outside the lock.
func (b *Binder) detachLocked() func() {
	if b.state != StateSubscribing && b.state != StateActive {
		return nil
	}
	cancel := b.cancel
	b.state = StateUnsubscribed
	b.cancel = nil
	b.onChange = nil
	b.pending = nil
	return cancel
}

func (b *Binder) subscribeSource(gen uint64, filter models.RecordFilter) (cancel func(), err error) {
	defer func() {
		if r := recover(); r != nil {
			cancel = nil
			err = fmt.Errorf("subscribe panicked: %v", r)
		}
	}()
	cancel, err = b.source.Subscribe(filter, func(records []models.Record) {
		b.deliver(gen, records)
	})
	if err == nil && cancel == nil {
		cancel = func() {}
	}
	return cancel, err
}

func (b *Binder) deliver(gen uint64, records []models.Record) {
	b.mu.Lock()
	if b.gen != gen || (b.state != StateSubscribing && b.state != StateActive) {
		b.mu.Unlock()
		return
	}
	b.pending = append(b.pending, records)
	if b.state != StateActive || b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true
	b.mu.Unlock()
	b.drain(gen)
}

// drain hands queued snapshots to onChange one at a time, outside the lock,
// re-checking the generation before every call.
func (b *Binder) drain(gen uint64) {
	for {
		b.mu.Lock()
		if b.gen != gen || b.state != StateActive || len(b.pending) == 0 {
			if b.gen == gen {
				b.draining = false
			}
			b.mu.Unlock()
			return
		}
		records := b.pending[0]
		b.pending = b.pending[1:]
		onChange := b.onChange
		b.mu.Unlock()

		onChange(records)
	}
}
