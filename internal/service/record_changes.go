package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-progress-api/internal/models"
)

// ChangeNotifier fans record changes out to the statistics cache and the live
// change feed. A nil notifier drops every change.
type ChangeNotifier struct {
	records     recordLister
	publisher   changePublisher
	invalidator statsInvalidator
	logger      *zap.Logger
	now         func() time.Time
}

// NewChangeNotifier constructs a notifier. publisher and invalidator may be nil.
func NewChangeNotifier(records recordLister, publisher changePublisher, invalidator statsInvalidator, logger *zap.Logger) *ChangeNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangeNotifier{records: records, publisher: publisher, invalidator: invalidator, logger: logger, now: time.Now}
}

// Notify invalidates the statistics covering change and publishes it. The
// write already succeeded, so a publish failure is only logged; live views
// catch up on the next change.
func (n *ChangeNotifier) Notify(ctx context.Context, change models.RecordChange) {
	if n == nil {
		return
	}
	if n.invalidator != nil {
		n.invalidator.Invalidate(change)
	}
	if n.publisher == nil {
		return
	}
	if err := n.publisher.Publish(context.WithoutCancel(ctx), change); err != nil {
		n.logger.Warn("publish record change failed",
			zap.String("record_id", change.RecordID),
			zap.String("student_id", change.StudentID),
			zap.String("course_id", change.CourseID),
			zap.String("op", string(change.Op)),
			zap.Error(err))
	}
}

// Removals lists the records matching filter and returns one deletion per
// student and course pair among them. Call it before a delete that cascades
// to records, then pass the result to NotifyAll once the delete committed.
func (n *ChangeNotifier) Removals(ctx context.Context, filter models.RecordFilter) ([]models.RecordChange, error) {
	if n == nil || n.records == nil {
		return nil, nil
	}
	records, err := n.records.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	at := n.now().UTC()
	seen := make(map[[2]string]bool)
	var changes []models.RecordChange
	for _, r := range records {
		pair := [2]string{r.StudentID, r.CourseID}
		if seen[pair] {
			continue
		}
		seen[pair] = true
		changes = append(changes, models.RecordChange{
			Op:        models.ChangeDeleted,
			StudentID: r.StudentID,
			CourseID:  r.CourseID,
			At:        at,
		})
	}
	return changes, nil
}

// NotifyAll notifies every change in order.
func (n *ChangeNotifier) NotifyAll(ctx context.Context, changes []models.RecordChange) {
	for _, change := range changes {
		n.Notify(ctx, change)
	}
}
