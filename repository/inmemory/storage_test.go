package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"todoapi/internal/domain/errors"
	"todoapi/internal/domain/models"
)

func newTestStorage() *Storage {
	return NewStorage(bcrypt.MinCost)
}

func createTestAccount(t *testing.T, s *Storage, username string) *models.Account {
	t.Helper()
	account, err := s.CreateAccount(context.Background(), &models.RegisterRequest{
		Username: username,
		Password: "SecurePass123",
		Email:    username + "@example.com",
	})
	require.NoError(t, err)
	return account
}

func createTestTodo(t *testing.T, s *Storage, title string, deadline models.Date) *models.Todo {
	t.Helper()
	todo, err := s.CreateTodo(context.Background(), &models.CreateTodoRequest{
		Title:    title,
		Deadline: deadline,
		Username: "john_doe",
	})
	require.NoError(t, err)
	return todo
}

func futureDate(days int) models.Date {
	d := time.Now().AddDate(0, 0, days)
	return models.NewDate(d.Year(), d.Month(), d.Day())
}

func TestStorageCreateAccount(t *testing.T) {
	tests := []struct {
		name    string
		request *models.RegisterRequest
		want    struct {
			err error
		}
		setup func(*testing.T, *Storage)
	}{
		{
			name: "successful creation with defaults",
			request: &models.RegisterRequest{
				Username: "john_doe",
				Password: "SecurePass123",
				Email:    "john@example.com",
				FullName: "John Doe",
			},
			want: struct {
				err error
			}{
				err: nil,
			},
			setup: func(t *testing.T, s *Storage) {},
		},
		{
			name: "duplicate username",
			request: &models.RegisterRequest{
				Username: "john_doe",
				Password: "SecurePass123",
			},
			want: struct {
				err error
			}{
				err: errors.ErrUserAlreadyExists,
			},
			setup: func(t *testing.T, s *Storage) {
				createTestAccount(t, s, "john_doe")
			},
		},
		{
			name: "duplicate email",
			request: &models.RegisterRequest{
				Username: "jane_doe",
				Password: "SecurePass123",
				Email:    "john_doe@example.com",
			},
			want: struct {
				err error
			}{
				err: errors.ErrEmailAlreadyExists,
			},
			setup: func(t *testing.T, s *Storage) {
				createTestAccount(t, s, "john_doe")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStorage()
			tt.setup(t, s)

			account, err := s.CreateAccount(context.Background(), tt.request)

			if tt.want.err != nil {
				assert.ErrorIs(t, err, tt.want.err)
				assert.Nil(t, account)
			} else {
				require.NoError(t, err)
				assert.NotEmpty(t, account.ID)
				assert.True(t, account.IsActive)
				assert.False(t, account.IsSuperuser)
				assert.NotEmpty(t, account.PasswordHash)
				assert.NotEqual(t, tt.request.Password, account.PasswordHash)
			}
		})
	}
}

func TestStorageCreateAccountKeepsFirstOnConflict(t *testing.T) {
	s := newTestStorage()
	first := createTestAccount(t, s, "john_doe")

	_, err := s.CreateAccount(context.Background(), &models.RegisterRequest{
		Username: "john_doe",
		Password: "OtherPass456",
	})
	assert.ErrorIs(t, err, errors.ErrUserAlreadyExists)

	got, err := s.GetAccountByID(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.PasswordHash, got.PasswordHash)
}

func TestStorageAuthenticate(t *testing.T) {
	tests := []struct {
		name     string
		username string
		password string
		want     struct {
			err error
		}
		setup func(*testing.T, *Storage)
	}{
		{
			name:     "correct credentials",
			username: "john_doe",
			password: "SecurePass123",
			want: struct {
				err error
			}{
				err: nil,
			},
			setup: func(t *testing.T, s *Storage) {
				createTestAccount(t, s, "john_doe")
			},
		},
		{
			name:     "wrong password",
			username: "john_doe",
			password: "WrongPass456",
			want: struct {
				err error
			}{
				err: errors.ErrUserNotFound,
			},
			setup: func(t *testing.T, s *Storage) {
				createTestAccount(t, s, "john_doe")
			},
		},
		{
			name:     "unknown username",
			username: "nobody",
			password: "SecurePass123",
			want: struct {
				err error
			}{
				err: errors.ErrUserNotFound,
			},
			setup: func(t *testing.T, s *Storage) {},
		},
		{
			name:     "deactivated account with correct password",
			username: "john_doe",
			password: "SecurePass123",
			want: struct {
				err error
			}{
				err: errors.ErrUserNotFound,
			},
			setup: func(t *testing.T, s *Storage) {
				account := createTestAccount(t, s, "john_doe")
				_, err := s.SetAccountActive(context.Background(), account.ID, false)
				require.NoError(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStorage()
			tt.setup(t, s)

			account, err := s.Authenticate(context.Background(), tt.username, tt.password)

			if tt.want.err != nil {
				assert.ErrorIs(t, err, tt.want.err)
				assert.Nil(t, account)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.username, account.Username)
			}
		})
	}
}

func TestStorageUpdateAccount(t *testing.T) {
	s := newTestStorage()
	account := createTestAccount(t, s, "john_doe")
	oldHash := account.PasswordHash

	newName := "John A. Doe"
	updated, err := s.UpdateAccount(context.Background(), account.ID, &models.UpdateAccountRequest{
		FullName: &newName,
	})
	require.NoError(t, err)
	assert.Equal(t, newName, updated.FullName)
	assert.Equal(t, account.Username, updated.Username)
	assert.Equal(t, oldHash, updated.PasswordHash)
	assert.True(t, updated.UpdatedAt.After(account.UpdatedAt) || updated.UpdatedAt.Equal(account.UpdatedAt))

	newPassword := "AnotherPass456"
	updated, err = s.UpdateAccount(context.Background(), account.ID, &models.UpdateAccountRequest{
		Password: &newPassword,
	})
	require.NoError(t, err)
	assert.NotEqual(t, oldHash, updated.PasswordHash)

	_, err = s.Authenticate(context.Background(), "john_doe", newPassword)
	assert.NoError(t, err)

	empty, err := s.UpdateAccount(context.Background(), account.ID, &models.UpdateAccountRequest{})
	require.NoError(t, err)
	assert.Equal(t, newName, empty.FullName)

	_, err = s.UpdateAccount(context.Background(), "00000000-0000-0000-0000-000000000000", &models.UpdateAccountRequest{FullName: &newName})
	assert.ErrorIs(t, err, errors.ErrUserNotFound)
}

func TestStorageListAccounts(t *testing.T) {
	s := newTestStorage()
	first := createTestAccount(t, s, "user_one")
	second := createTestAccount(t, s, "user_two")
	_, err := s.SetAccountActive(context.Background(), second.ID, false)
	require.NoError(t, err)

	all, err := s.ListAccounts(context.Background(), 0, 0, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)

	active := true
	onlyActive, err := s.ListAccounts(context.Background(), 0, 0, &active)
	require.NoError(t, err)
	require.Len(t, onlyActive, 1)
	assert.Equal(t, "user_one", onlyActive[0].Username)

	count, err := s.CountAccounts(context.Background(), &active)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStorageDeleteAccount(t *testing.T) {
	s := newTestStorage()
	account := createTestAccount(t, s, "john_doe")

	assert.NoError(t, s.DeleteAccount(context.Background(), account.ID))
	assert.ErrorIs(t, s.DeleteAccount(context.Background(), account.ID), errors.ErrUserNotFound)

	_, err := s.GetAccountByID(context.Background(), account.ID)
	assert.ErrorIs(t, err, errors.ErrUserNotFound)
}

func TestStorageCreateTodo(t *testing.T) {
	tests := []struct {
		name    string
		request *models.CreateTodoRequest
		want    struct {
			err error
		}
	}{
		{
			name: "valid todo with defaults",
			request: &models.CreateTodoRequest{
				Title:    "Project Plan",
				Deadline: futureDate(1),
				Username: "john_doe",
			},
			want: struct {
				err error
			}{
				err: nil,
			},
		},
		{
			name: "deadline today is allowed",
			request: &models.CreateTodoRequest{
				Title:    "Due today",
				Deadline: models.Today(),
				Username: "john_doe",
			},
			want: struct {
				err error
			}{
				err: nil,
			},
		},
		{
			name: "deadline yesterday is rejected",
			request: &models.CreateTodoRequest{
				Title:    "Too late",
				Deadline: futureDate(-1),
				Username: "john_doe",
			},
			want: struct {
				err error
			}{
				err: errors.ErrDeadlineInPast,
			},
		},
		{
			name: "invalid label",
			request: &models.CreateTodoRequest{
				Title:    "Labeled",
				Deadline: futureDate(1),
				Labels:   []string{"Invalid"},
				Username: "john_doe",
			},
			want: struct {
				err error
			}{
				err: errors.ErrInvalidLabel,
			},
		},
		{
			name: "valid labels",
			request: &models.CreateTodoRequest{
				Title:    "Labeled",
				Deadline: futureDate(1),
				Labels:   []string{"Work", "Urgent"},
				Username: "john_doe",
			},
			want: struct {
				err error
			}{
				err: nil,
			},
		},
		{
			name: "invalid priority",
			request: &models.CreateTodoRequest{
				Title:    "Prioritized",
				Priority: "critical",
				Deadline: futureDate(1),
				Username: "john_doe",
			},
			want: struct {
				err error
			}{
				err: errors.ErrInvalidPriority,
			},
		},
		{
			name: "empty title",
			request: &models.CreateTodoRequest{
				Title:    "",
				Deadline: futureDate(1),
				Username: "john_doe",
			},
			want: struct {
				err error
			}{
				err: errors.ErrInvalidTitle,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStorage()

			todo, err := s.CreateTodo(context.Background(), tt.request)

			if tt.want.err != nil {
				assert.ErrorIs(t, err, tt.want.err)
				assert.Nil(t, todo)
			} else {
				require.NoError(t, err)
				assert.NotEmpty(t, todo.ID)
				assert.Equal(t, models.PriorityMedium, todo.Priority)
				assert.NotNil(t, todo.Labels)
				assert.False(t, todo.CreatedAt.IsZero())
			}
		})
	}
}

func TestStorageGetTodoByID(t *testing.T) {
	s := newTestStorage()
	todo := createTestTodo(t, s, "Project Plan", futureDate(1))

	got, err := s.GetTodoByID(context.Background(), todo.ID)
	require.NoError(t, err)
	assert.Equal(t, todo.Title, got.Title)

	_, err = s.GetTodoByID(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	_, err = s.GetTodoByID(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestStorageUpdateTodoPartial(t *testing.T) {
	s := newTestStorage()
	todo, err := s.CreateTodo(context.Background(), &models.CreateTodoRequest{
		Title:       "Project Plan",
		Description: "Write the plan",
		Priority:    models.PriorityHigh,
		Deadline:    futureDate(3),
		Labels:      []string{"Work"},
		Username:    "john_doe",
	})
	require.NoError(t, err)

	completed := true
	updated, err := s.UpdateTodo(context.Background(), todo.ID, &models.UpdateTodoRequest{
		Completed: &completed,
	})
	require.NoError(t, err)

	assert.True(t, updated.Completed)
	assert.Equal(t, todo.Title, updated.Title)
	assert.Equal(t, todo.Description, updated.Description)
	assert.Equal(t, todo.Priority, updated.Priority)
	assert.Equal(t, todo.Deadline.String(), updated.Deadline.String())
	assert.Equal(t, todo.Labels, updated.Labels)
	assert.Equal(t, todo.CreatedAt, updated.CreatedAt)

	badLabel := &models.UpdateTodoRequest{Labels: []string{"Nope"}}
	_, err = s.UpdateTodo(context.Background(), todo.ID, badLabel)
	assert.ErrorIs(t, err, errors.ErrInvalidLabel)

	noop, err := s.UpdateTodo(context.Background(), todo.ID, &models.UpdateTodoRequest{})
	require.NoError(t, err)
	assert.True(t, noop.Completed)

	_, err = s.UpdateTodo(context.Background(), "00000000-0000-0000-0000-000000000000", &models.UpdateTodoRequest{Completed: &completed})
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestStorageListTodosPagination(t *testing.T) {
	s := newTestStorage()
	createTestTodo(t, s, "first", futureDate(1))
	createTestTodo(t, s, "second", futureDate(2))
	createTestTodo(t, s, "third", futureDate(3))
	createTestTodo(t, s, "fourth", futureDate(4))

	firstPage, err := s.ListTodos(context.Background(), 0, 2, nil, "")
	require.NoError(t, err)
	require.Len(t, firstPage, 2)
	assert.Equal(t, "first", firstPage[0].Title)
	assert.Equal(t, "second", firstPage[1].Title)

	secondPage, err := s.ListTodos(context.Background(), 2, 2, nil, "")
	require.NoError(t, err)
	require.Len(t, secondPage, 2)
	assert.Equal(t, "third", secondPage[0].Title)
	assert.Equal(t, "fourth", secondPage[1].Title)

	for _, a := range firstPage {
		for _, b := range secondPage {
			assert.NotEqual(t, a.ID, b.ID)
		}
	}
}

func TestStorageListTodosFilters(t *testing.T) {
	s := newTestStorage()
	ctx := context.Background()

	_, err := s.CreateTodo(ctx, &models.CreateTodoRequest{
		Title: "open high", Priority: models.PriorityHigh, Deadline: futureDate(1), Username: "john_doe",
	})
	require.NoError(t, err)
	_, err = s.CreateTodo(ctx, &models.CreateTodoRequest{
		Title: "done low", Completed: true, Priority: models.PriorityLow, Deadline: futureDate(2), Username: "jane_doe",
	})
	require.NoError(t, err)

	completed := true
	done, err := s.ListTodos(ctx, 0, 0, &completed, "")
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "done low", done[0].Title)

	high, err := s.ListTodos(ctx, 0, 0, nil, models.PriorityHigh)
	require.NoError(t, err)
	require.Len(t, high, 1)
	assert.Equal(t, "open high", high[0].Title)

	notDone := false
	both, err := s.ListTodos(ctx, 0, 0, &notDone, models.PriorityHigh)
	require.NoError(t, err)
	require.Len(t, both, 1)

	johns, err := s.ListTodosByUsername(ctx, "john_doe", 0, 0, nil, "")
	require.NoError(t, err)
	require.Len(t, johns, 1)
	assert.Equal(t, "open high", johns[0].Title)

	count, err := s.CountTodos(ctx, &completed)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	johnsCount, err := s.CountTodosByUsername(ctx, "john_doe", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, johnsCount)
}

func TestStorageListTodosByUsernamePriorityPagination(t *testing.T) {
	s := newTestStorage()
	ctx := context.Background()

	_, err := s.CreateTodo(ctx, &models.CreateTodoRequest{
		Title: "soon one", Priority: models.PriorityMedium, Deadline: futureDate(1), Username: "john_doe",
	})
	require.NoError(t, err)
	_, err = s.CreateTodo(ctx, &models.CreateTodoRequest{
		Title: "soon two", Priority: models.PriorityMedium, Deadline: futureDate(2), Username: "john_doe",
	})
	require.NoError(t, err)
	_, err = s.CreateTodo(ctx, &models.CreateTodoRequest{
		Title: "urgent later", Priority: models.PriorityHigh, Deadline: futureDate(5), Username: "john_doe",
	})
	require.NoError(t, err)

	high, err := s.ListTodosByUsername(ctx, "john_doe", 0, 2, nil, models.PriorityHigh)
	require.NoError(t, err)
	require.Len(t, high, 1)
	assert.Equal(t, "urgent later", high[0].Title)

	medium, err := s.ListTodosByUsername(ctx, "john_doe", 1, 1, nil, models.PriorityMedium)
	require.NoError(t, err)
	require.Len(t, medium, 1)
	assert.Equal(t, "soon two", medium[0].Title)
}

func TestStorageCreateTodoEmptyLabels(t *testing.T) {
	s := newTestStorage()
	todo := createTestTodo(t, s, "no labels", futureDate(1))
	assert.Equal(t, []string{}, todo.Labels)

	stored, err := s.GetTodoByID(context.Background(), todo.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{}, stored.Labels)
}

func TestStorageGetAccountByEmail(t *testing.T) {
	s := newTestStorage()
	ctx := context.Background()

	created := createTestAccount(t, s, "john_doe")

	account, err := s.GetAccountByEmail(ctx, "john_doe@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, account.ID)
	assert.Equal(t, "john_doe", account.Username)

	_, err = s.GetAccountByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, errors.ErrUserNotFound)

	_, err = s.GetAccountByEmail(ctx, "")
	assert.ErrorIs(t, err, errors.ErrUserNotFound)
}

func TestStorageSearchTodosWildcard(t *testing.T) {
	s := newTestStorage()
	createTestTodo(t, s, "Project Plan", futureDate(1))
	createTestTodo(t, s, "project", futureDate(2))
	createTestTodo(t, s, "object", futureDate(3))

	found, err := s.SearchTodos(context.Background(), "proj*", "", 0, 0)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "Project Plan", found[0].Title)
	assert.Equal(t, "project", found[1].Title)
}

func TestStorageSearchTodosWildcardEscapesMetacharacters(t *testing.T) {
	s := newTestStorage()
	createTestTodo(t, s, "pay (rent)", futureDate(1))
	createTestTodo(t, s, "pay rent", futureDate(2))

	found, err := s.SearchTodos(context.Background(), "pay (*", "", 0, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "pay (rent)", found[0].Title)
}

func TestStorageSearchTodosText(t *testing.T) {
	s := newTestStorage()
	ctx := context.Background()

	_, err := s.CreateTodo(ctx, &models.CreateTodoRequest{
		Title: "Buy groceries", Description: "milk and bread", Deadline: futureDate(1), Username: "john_doe",
	})
	require.NoError(t, err)
	_, err = s.CreateTodo(ctx, &models.CreateTodoRequest{
		Title: "Clean house", Description: "vacuum the floors", Deadline: futureDate(2), Username: "jane_doe",
	})
	require.NoError(t, err)

	found, err := s.SearchTodos(ctx, "milk bread", "", 0, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Buy groceries", found[0].Title)

	scoped, err := s.SearchTodos(ctx, "milk bread", "jane_doe", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, scoped)

	none, err := s.SearchTodos(ctx, "missing", "", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStorageDeleteTodo(t *testing.T) {
	s := newTestStorage()
	todo := createTestTodo(t, s, "Project Plan", futureDate(1))

	assert.NoError(t, s.DeleteTodo(context.Background(), todo.ID))
	assert.ErrorIs(t, s.DeleteTodo(context.Background(), todo.ID), errors.ErrNotFound)
	assert.ErrorIs(t, s.DeleteTodo(context.Background(), "not-a-uuid"), errors.ErrNotFound)
}
