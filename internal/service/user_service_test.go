package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-progress-api/internal/models"
	appErrors "github.com/noah-isme/sma-progress-api/pkg/errors"
)

type mockUserRepo struct {
	users   map[string]*models.User
	listErr error
	upserts int
}

func (m *mockUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	var users []models.User
	for _, u := range m.users {
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		users = append(users, *u)
	}
	return users, len(users), nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := m.users[id]; ok {
		copy := *user
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) Update(ctx context.Context, user *models.User) error {
	if _, ok := m.users[user.ID]; !ok {
		return sql.ErrNoRows
	}
	copy := *user
	m.users[user.ID] = &copy
	return nil
}

func (m *mockUserRepo) Delete(ctx context.Context, id string) error {
	if _, ok := m.users[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.users, id)
	return nil
}

func (m *mockUserRepo) Upsert(ctx context.Context, user *models.User) error {
	if m.users == nil {
		m.users = map[string]*models.User{}
	}
	m.upserts++
	copy := *user
	m.users[user.ID] = &copy
	return nil
}

func TestUserServiceList(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{
		"1": {ID: "1", Email: "a@example.com", Role: models.RoleAdmin},
		"2": {ID: "2", Email: "b@example.com", Role: models.RoleParent},
	}}
	svc := NewUserService(repo, nil, zap.NewNop())
	role := models.RoleParent
	users, pagination, err := svc.List(context.Background(), models.UserFilter{Role: &role, Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, 1, pagination.TotalCount)
	assert.Equal(t, 10, pagination.PageSize)

	repo.listErr = errDBDown
	_, _, err = svc.List(context.Background(), models.UserFilter{})
	assert.True(t, errors.Is(err, appErrors.ErrInternal))
}

func TestUserServiceUpdate(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{"1": {ID: "1", Email: "a@example.com", Name: "Old", Role: models.RoleTeacher}}}
	svc := NewUserService(repo, nil, zap.NewNop())

	user, err := svc.Update(context.Background(), "1", UpdateUserRequest{Name: "New", Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, "New", user.Name)
	assert.Equal(t, models.RoleAdmin, repo.users["1"].Role)

	_, err = svc.Update(context.Background(), "1", UpdateUserRequest{Name: "New", Role: "director"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.Update(context.Background(), "404", UpdateUserRequest{Name: "New", Role: models.RoleParent})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestUserServiceDelete(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{
		"1": {ID: "1", Role: models.RoleAdmin},
		"2": {ID: "2", Role: models.RoleTeacher},
	}}
	svc := NewUserService(repo, nil, zap.NewNop())

	err := svc.Delete(context.Background(), "1", "1")
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	require.NoError(t, svc.Delete(context.Background(), "2", "1"))
	assert.NotContains(t, repo.users, "2")

	err = svc.Delete(context.Background(), "2", "1")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}
