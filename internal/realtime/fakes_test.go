package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/noah-isme/sma-progress-api/internal/models"
)

type fakeSource struct {
	mu        sync.Mutex
	callbacks []func([]models.Record)
	filters   []models.RecordFilter
	cancelled []int
	err       error
	panicWith interface{}
	onSub     func(cb func([]models.Record))
}

func (f *fakeSource) Subscribe(filter models.RecordFilter, onChange func([]models.Record)) (func(), error) {
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	idx := len(f.callbacks)
	f.callbacks = append(f.callbacks, onChange)
	f.filters = append(f.filters, filter)
	f.mu.Unlock()
	if f.onSub != nil {
		f.onSub(onChange)
	}
	return func() {
		f.mu.Lock()
		f.cancelled = append(f.cancelled, idx)
		f.mu.Unlock()
	}, nil
}

// emit delivers records through the callback of subscription idx, whether or
// not it was cancelled, like a notification already in flight.
func (f *fakeSource) emit(idx int, records []models.Record) {
	f.mu.Lock()
	cb := f.callbacks[idx]
	f.mu.Unlock()
	cb(records)
}

func (f *fakeSource) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancelled)
}

type memoryStore struct {
	mu      sync.Mutex
	records []models.Record
	err     error
	calls   int
}

func (s *memoryStore) List(_ context.Context, filter models.RecordFilter) ([]models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([]models.Record, 0)
	for _, r := range s.records {
		if filter.Matches(r.StudentID, r.CourseID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memoryStore) add(r models.Record) models.RecordChange {
	s.mu.Lock()
	s.records = append(s.records, r)
	s.mu.Unlock()
	return models.RecordChange{Op: models.ChangeCreated, RecordID: r.ID, StudentID: r.StudentID, CourseID: r.CourseID}
}

func (s *memoryStore) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

var errStoreDown = errors.New("store unavailable")

type countingObserver struct {
	mu     sync.Mutex
	opened int
	closed int
}

func (o *countingObserver) SubscriptionOpened() {
	o.mu.Lock()
	o.opened++
	o.mu.Unlock()
}

func (o *countingObserver) SubscriptionClosed() {
	o.mu.Lock()
	o.closed++
	o.mu.Unlock()
}

func (o *countingObserver) counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened, o.closed
}

func rec(id, student, course string, typ models.RecordType, value int) models.Record {
	return models.Record{ID: id, StudentID: student, CourseID: course, Type: typ, Value: value}
}
