package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-progress-api/internal/models"
	appErrors "github.com/noah-isme/sma-progress-api/pkg/errors"
)

type parentChecker interface {
	IsParentOf(ctx context.Context, email, studentID string) (bool, error)
}

type teacherChecker interface {
	TaughtBy(ctx context.Context, courseID, teacherID string) (bool, error)
}

// Access decides which students and courses the caller may see or score.
// Administrators see everything, teachers act on the courses they teach and
// read any student, parents only read their own children.
type Access struct {
	parents  parentChecker
	teachers teacherChecker
}

// NewAccess builds the access rules.
func NewAccess(parents parentChecker, teachers teacherChecker) *Access {
	return &Access{parents: parents, teachers: teachers}
}

// CanReadFilter authorises a read over the records selected by filter.
func (a *Access) CanReadFilter(c *gin.Context, filter models.RecordFilter) error {
	claims := claimsFromContext(c)
	if claims == nil {
		return appErrors.ErrUnauthorized
	}
	switch claims.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleTeacher:
		if filter.CourseID != "" {
			return a.requireTeacher(c, claims, filter.CourseID)
		}
		return nil
	case models.RoleParent:
		if filter.StudentID == "" {
			return appErrors.Clone(appErrors.ErrForbidden, "parents can only view their children")
		}
		return a.requireParent(c, claims, filter.StudentID)
	default:
		return appErrors.ErrForbidden
	}
}

// CanReadStudent authorises a read of one student's data.
func (a *Access) CanReadStudent(c *gin.Context, studentID string) error {
	return a.CanReadFilter(c, models.ByStudent(studentID))
}

// CanWriteCourse authorises scoring or editing records of a course.
func (a *Access) CanWriteCourse(c *gin.Context, courseID string) error {
	claims := claimsFromContext(c)
	if claims == nil {
		return appErrors.ErrUnauthorized
	}
	switch claims.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleTeacher:
		return a.requireTeacher(c, claims, courseID)
	default:
		return appErrors.Clone(appErrors.ErrForbidden, "only teachers can record scores")
	}
}

func (a *Access) requireTeacher(c *gin.Context, claims *models.JWTClaims, courseID string) error {
	ok, err := a.teachers.TaughtBy(c.Request.Context(), courseID, claims.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrForbidden, "course is taught by another teacher")
	}
	return nil
}

func (a *Access) requireParent(c *gin.Context, claims *models.JWTClaims, studentID string) error {
	ok, err := a.parents.IsParentOf(c.Request.Context(), claims.Email, studentID)
	if err != nil {
		return err
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrForbidden, "student is not registered under this parent")
	}
	return nil
}
