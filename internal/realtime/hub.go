package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-progress-api/internal/models"
	appErrors "github.com/noah-isme/sma-progress-api/pkg/errors"
)

const defaultQueryTimeout = 5 * time.Second

// HubOption customises a Hub.
type HubOption func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(logger *zap.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithQueryTimeout bounds each re-query of a subscription.
func WithQueryTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithObserver reports subscription counts, typically to metrics.
func WithObserver(o Observer) HubOption {
	return func(h *Hub) {
		h.observer = o
	}
}

// Hub fans record changes out to live subscriptions.
type Hub struct {
	store    Querier
	logger   *zap.Logger
	timeout  time.Duration
	observer Observer

	mu       sync.RWMutex
	watchers map[uint64]*watcher
	nextID   uint64
	closed   bool
	wg       sync.WaitGroup
}

type watcher struct {
	id       uint64
	filter   models.RecordFilter
	onChange func([]models.Record)
	notify   chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewHub constructs a hub reading from store.
func NewHub(store Querier, opts ...HubOption) *Hub {
	h := &Hub{
		store:    store,
		logger:   zap.NewNop(),
		timeout:  defaultQueryTimeout,
		watchers: make(map[uint64]*watcher),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers onChange for the records matching filter. The initial
// record set is read before Subscribe returns so that setup failures surface
// to the caller; it is delivered asynchronously like every later change.
func (h *Hub) Subscribe(filter models.RecordFilter, onChange func([]models.Record)) (func(), error) {
	if !filter.Keyed() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "live queries require a student or course id")
	}
	if onChange == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "onChange callback is required")
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, appErrors.Clone(appErrors.ErrSubscription, "live query hub is closed")
	}
	h.nextID++
	w := &watcher{
		id:       h.nextID,
		filter:   filter,
		onChange: onChange,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	// Registered before the initial read so no change can slip in between.
	h.watchers[w.id] = w
	h.mu.Unlock()

	initial, err := h.query(filter)
	if err != nil {
		h.remove(w)
		return nil, appErrors.WrapAs(err, appErrors.ErrSubscription, "failed to load initial records")
	}

	if h.observer != nil {
		h.observer.SubscriptionOpened()
	}
	h.wg.Add(1)
	go h.run(w, initial)

	h.logger.Debug("live query subscribed", zap.String("filter", filter.String()), zap.Uint64("watcher", w.id))
	return func() { h.cancel(w) }, nil
}

// Notify schedules a refresh of every subscription affected by change.
func (h *Hub) Notify(change models.RecordChange) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, w := range h.watchers {
		if !w.filter.Matches(change.StudentID, change.CourseID) {
			continue
		}
		select {
		case w.notify <- struct{}{}:
		default:
			// A refresh is already pending and will read this change too.
		}
	}
}

// Publish implements Publisher for single instance deployments.
func (h *Hub) Publish(_ context.Context, change models.RecordChange) error {
	h.Notify(change)
	return nil
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers)
}

// Close cancels every subscription and waits for their delivery loops.
// Callers must not invoke Close from inside an onChange callback.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	watchers := make([]*watcher, 0, len(h.watchers))
	for _, w := range h.watchers {
		watchers = append(watchers, w)
	}
	h.mu.Unlock()

	for _, w := range watchers {
		h.cancel(w)
	}
	h.wg.Wait()
}

func (h *Hub) run(w *watcher, initial []models.Record) {
	defer h.wg.Done()

	h.deliver(w, initial)
	for {
		select {
		case <-w.done:
			return
		case <-w.notify:
			records, err := h.query(w.filter)
			if err != nil {
				// The consumer keeps its last snapshot until the next change.
				h.logger.Warn("live query refresh failed", zap.String("filter", w.filter.String()), zap.Error(err))
				continue
			}
			h.deliver(w, records)
		}
	}
}

func (h *Hub) deliver(w *watcher, records []models.Record) {
	select {
	case <-w.done:
		return
	default:
	}
	w.onChange(records)
}

func (h *Hub) query(filter models.RecordFilter) ([]models.Record, error) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	records, err := h.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []models.Record{}
	}
	return records, nil
}

func (h *Hub) cancel(w *watcher) {
	w.once.Do(func() {
		close(w.done)
		h.remove(w)
		if h.observer != nil {
			h.observer.SubscriptionClosed()
		}
		h.logger.Debug("live query unsubscribed", zap.String("filter", w.filter.String()), zap.Uint64("watcher", w.id))
	})
}

func (h *Hub) remove(w *watcher) {
	h.mu.Lock()
	delete(h.watchers, w.id)
	h.mu.Unlock()
}
