package realtime

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-progress-api/internal/models"
	"github.com/noah-isme/sma-progress-api/internal/stats"
)

// LiveStats recomputes aggregates whenever a bound record set changes and
// keeps the last good update for late readers.
type LiveStats struct {
	binder    *Binder
	trendDays int
	now       func() time.Time
	logger    *zap.Logger

	mu   sync.RWMutex
	last models.LiveUpdate
	has  bool
}

// NewLiveStats constructs a LiveStats over source. A trendDays of zero skips
// the trend series.
func NewLiveStats(source Source, trendDays int, logger *zap.Logger) *LiveStats {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveStats{
		binder:    NewBinder(source, logger),
		trendDays: trendDays,
		now:       time.Now,
		logger:    logger,
	}
}

// Start binds filter and calls onUpdate with every recomputed aggregate.
// Calling Start again rebinds to the new filter.
func (l *LiveStats) Start(filter models.RecordFilter, onUpdate func(models.LiveUpdate)) error {
	_, err := l.binder.Subscribe(filter, func(records []models.Record) {
		update, ok := l.compute(filter, records)
		if !ok {
			return
		}
		if onUpdate != nil {
			onUpdate(update)
		}
	})
	return err
}

// Stop cancels the live binding. The last update stays readable.
func (l *LiveStats) Stop() {
	l.binder.Unsubscribe()
}

// State exposes the binder state.
func (l *LiveStats) State() State {
	return l.binder.State()
}

// Snapshot returns the last computed update.
func (l *LiveStats) Snapshot() (models.LiveUpdate, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.last, l.has
}

func (l *LiveStats) compute(filter models.RecordFilter, records []models.Record) (models.LiveUpdate, bool) {
	now := l.now()
	update := models.LiveUpdate{
		Filter:  filter,
		Records: records,
		Stats:   stats.ComputeStats(records),
		At:      now,
	}
	if l.trendDays > 0 {
		trend, err := stats.ComputeTrend(records, l.trendDays, now)
		if err != nil {
			l.logger.Warn("live trend failed, keeping previous update", zap.Error(err))
			return models.LiveUpdate{}, false
		}
		update.Trend = &trend
	}

	l.mu.Lock()
	l.last = update
	l.has = true
	l.mu.Unlock()
	return update, true
}
