package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-progress-api/internal/models"
	appErrors "github.com/noah-isme/sma-progress-api/pkg/errors"
)

type failingCourseStats struct{}

func (failingCourseStats) Course(ctx context.Context, courseID string) (*models.StatsSnapshot, bool, error) {
	return nil, false, errDBDown
}

func TestCourseServiceCRUD(t *testing.T) {
	repo := newFakeCourseRepo()
	svc := NewCourseService(repo, nil, NewValidator(), zap.NewNop())
	ctx := context.Background()

	course, err := svc.Create(ctx, CourseRequest{Name: " 2° Medio A ", TeacherID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "2° Medio A", course.Name)
	assert.Empty(t, course.StudentIDs)

	updated, err := svc.Update(ctx, course.ID, CourseRequest{Name: "2° Medio B", TeacherID: "t2"})
	require.NoError(t, err)
	assert.Equal(t, "t2", updated.TeacherID)

	ok, err := svc.TaughtBy(ctx, course.ID, "t2")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.TaughtBy(ctx, course.ID, "t1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, svc.Delete(ctx, course.ID))
	_, err = svc.Get(ctx, course.ID)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = svc.Create(ctx, CourseRequest{Name: "Sin profesor"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestCourseServiceDashboard(t *testing.T) {
	repo := newFakeCourseRepo(
		models.Course{ID: "math", Name: "Matemática", TeacherID: "t1", StudentIDs: []string{"ana", "ben"}},
		models.Course{ID: "art", Name: "Arte", TeacherID: "t1", StudentIDs: []string{"ana"}},
		models.Course{ID: "music", Name: "Música", TeacherID: "t2"},
	)
	stats := newStatsServiceForTest(newFakeRecordStore(courseRecords()...), nil, nil)
	svc := NewCourseService(repo, stats, nil, nil)

	summaries, err := svc.Dashboard(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, "art", summaries[0].Course.ID)
	assert.Equal(t, 1, summaries[0].StudentCount)
	assert.Equal(t, 2.0, summaries[0].OverallAverage)

	assert.Equal(t, "math", summaries[1].Course.ID)
	assert.Equal(t, 2, summaries[1].StudentCount)
	assert.Equal(t, 3, summaries[1].Stats.Get(models.RecordParticipation).Count)
	assert.InDelta(t, (13.0/3.0+4.0)/2, summaries[1].OverallAverage, 1e-9)
}

func TestCourseServiceDashboardErrors(t *testing.T) {
	repo := newFakeCourseRepo(models.Course{ID: "math", Name: "Matemática", TeacherID: "t1"})
	svc := NewCourseService(repo, failingCourseStats{}, nil, nil)

	_, err := svc.Dashboard(context.Background(), "t1")
	assert.ErrorIs(t, err, errDBDown)

	_, err = svc.Dashboard(context.Background(), "")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestCourseServiceDeleteReportsRemovedRecords(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	records := newFakeRecordStore(
		record("ana", "math", models.RecordParticipation, 4, at),
		record("ben", "math", models.RecordBehavior, 3, at),
		record("ben", "math", models.RecordPunctuality, 2, at),
		record("ana", "art", models.RecordPunctuality, 5, at),
	)
	repo := newFakeCourseRepo(models.Course{ID: "math", Name: "Matemática", TeacherID: "t1"})
	svc := NewCourseService(repo, nil, NewValidator(), zap.NewNop())
	pub := &recordingPublisher{}
	inv := &recordingInvalidator{}
	svc.SetChangeNotifier(NewChangeNotifier(records, pub, inv, zap.NewNop()))

	require.NoError(t, svc.Delete(context.Background(), "math"))
	assert.ElementsMatch(t, []string{"deleted:ana:math", "deleted:ben:math"}, changePairs(pub.published()))
	assert.Equal(t, 2, inv.count())
	for _, change := range pub.published() {
		assert.Empty(t, change.RecordID)
	}
}
