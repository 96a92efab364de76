package storage

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"todoapi/internal/auth"
	"todoapi/internal/domain/errors"
	"todoapi/internal/domain/models"
)

const defaultListLimit = 100

// dummyHash keeps the response time of Authenticate for an unknown username
// close to the wrong-password path.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

type Storage struct {
	mu         sync.RWMutex
	accounts   map[string]models.Account
	todos      map[string]models.Todo
	bcryptCost int
}

func NewStorage(bcryptCost int) *Storage {
	if bcryptCost <= 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Storage{
		accounts:   make(map[string]models.Account),
		todos:      make(map[string]models.Todo),
		bcryptCost: bcryptCost,
	}
}

func (s *Storage) CreateAccount(ctx context.Context, req *models.RegisterRequest) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.accounts {
		if existing.Username == req.Username {
			return nil, errors.ErrUserAlreadyExists
		}
		if req.Email != "" && existing.Email == req.Email {
			return nil, errors.ErrEmailAlreadyExists
		}
	}

	hash, err := auth.HashPassword(req.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	account := models.Account{
		ID:           uuid.New().String(),
		Username:     req.Username,
		PasswordHash: hash,
		Email:        req.Email,
		FullName:     req.FullName,
		IsActive:     true,
		IsSuperuser:  false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.accounts[account.ID] = account
	return &account, nil
}

func (s *Storage) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, exists := s.accounts[id]
	if !exists {
		return nil, errors.ErrUserNotFound
	}
	return &account, nil
}

func (s *Storage) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, account := range s.accounts {
		if account.Username == username {
			account := account
			return &account, nil
		}
	}
	return nil, errors.ErrUserNotFound
}

func (s *Storage) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if email == "" {
		return nil, errors.ErrUserNotFound
	}
	for _, account := range s.accounts {
		if account.Email == email {
			account := account
			return &account, nil
		}
	}
	return nil, errors.ErrUserNotFound
}

func (s *Storage) ListAccounts(ctx context.Context, skip, limit int, isActive *bool) ([]models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var accounts []models.Account
	for _, account := range s.accounts {
		if isActive != nil && account.IsActive != *isActive {
			continue
		}
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool {
		if !accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
		}
		return accounts[i].ID < accounts[j].ID
	})
	return paginateAccounts(accounts, skip, limit), nil
}

func (s *Storage) UpdateAccount(ctx context.Context, id string, patch *models.UpdateAccountRequest) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.accounts[id]
	if !exists {
		return nil, errors.ErrUserNotFound
	}
	if patch.Empty() {
		return &account, nil
	}

	if patch.Email != nil {
		for _, existing := range s.accounts {
			if existing.ID != id && *patch.Email != "" && existing.Email == *patch.Email {
				return nil, errors.ErrEmailAlreadyExists
			}
		}
		account.Email = *patch.Email
	}
	if patch.FullName != nil {
		account.FullName = *patch.FullName
	}
	if patch.Password != nil {
		hash, err := auth.HashPassword(*patch.Password, s.bcryptCost)
		if err != nil {
			return nil, err
		}
		account.PasswordHash = hash
	}
	if patch.IsActive != nil {
		account.IsActive = *patch.IsActive
	}
	account.UpdatedAt = time.Now().UTC()

	s.accounts[id] = account
	return &account, nil
}

func (s *Storage) DeleteAccount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[id]; !exists {
		return errors.ErrUserNotFound
	}
	delete(s.accounts, id)
	return nil
}

func (s *Storage) SetAccountActive(ctx context.Context, id string, active bool) (*models.Account, error) {
	return s.UpdateAccount(ctx, id, &models.UpdateAccountRequest{IsActive: &active})
}

func (s *Storage) CountAccounts(ctx context.Context, isActive *bool) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, account := range s.accounts {
		if isActive != nil && account.IsActive != *isActive {
			continue
		}
		count++
	}
	return count, nil
}

// Authenticate deliberately reports every failure mode the same way, so a
// caller cannot tell an unknown username from a wrong password or a
// deactivated account.
func (s *Storage) Authenticate(ctx context.Context, username, password string) (*models.Account, error) {
	account, err := s.GetAccountByUsername(ctx, username)
	if err != nil {
		auth.VerifyPassword(dummyHash, password)
		return nil, errors.ErrUserNotFound
	}
	if !auth.VerifyPassword(account.PasswordHash, password) {
		return nil, errors.ErrUserNotFound
	}
	if !account.IsActive {
		return nil, errors.ErrUserNotFound
	}
	return account, nil
}

func (s *Storage) CreateTodo(ctx context.Context, req *models.CreateTodoRequest) (*models.Todo, error) {
	now := time.Now().UTC()
	todo := models.Todo{
		ID:          uuid.New().String(),
		Title:       req.Title,
		Description: req.Description,
		Completed:   req.Completed,
		Priority:    req.Priority,
		Deadline:    req.Deadline,
		Labels:      append([]string(nil), req.Labels...),
		Username:    req.Username,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if todo.Priority == "" {
		todo.Priority = models.PriorityMedium
	}
	if todo.Labels == nil {
		todo.Labels = []string{}
	}
	if err := todo.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.todos[todo.ID] = todo
	return &todo, nil
}

func (s *Storage) GetTodoByID(ctx context.Context, id string) (*models.Todo, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	todo, exists := s.todos[id]
	if !exists {
		return nil, errors.ErrNotFound
	}
	return &todo, nil
}

func (s *Storage) ListTodos(ctx context.Context, skip, limit int, completed *bool, priority string) ([]models.Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collectTodos(skip, limit, func(t *models.Todo) bool {
		if completed != nil && t.Completed != *completed {
			return false
		}
		if priority != "" && t.Priority != priority {
			return false
		}
		return true
	}), nil
}

func (s *Storage) ListTodosByUsername(ctx context.Context, username string, skip, limit int, completed *bool, priority string) ([]models.Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collectTodos(skip, limit, func(t *models.Todo) bool {
		if t.Username != username {
			return false
		}
		if completed != nil && t.Completed != *completed {
			return false
		}
		if priority != "" && t.Priority != priority {
			return false
		}
		return true
	}), nil
}

func (s *Storage) UpdateTodo(ctx context.Context, id string, patch *models.UpdateTodoRequest) (*models.Todo, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	todo, exists := s.todos[id]
	if !exists {
		return nil, errors.ErrNotFound
	}
	if patch.Empty() {
		return &todo, nil
	}

	if patch.Title != nil {
		if err := models.ValidateTitle(*patch.Title); err != nil {
			return nil, err
		}
		todo.Title = *patch.Title
	}
	if patch.Description != nil {
		if err := models.ValidateDescription(*patch.Description); err != nil {
			return nil, err
		}
		todo.Description = *patch.Description
	}
	if patch.Completed != nil {
		todo.Completed = *patch.Completed
	}
	if patch.Priority != nil {
		if err := models.ValidatePriority(*patch.Priority); err != nil {
			return nil, err
		}
		todo.Priority = *patch.Priority
	}
	if patch.Deadline != nil {
		if err := models.ValidateDeadline(*patch.Deadline); err != nil {
			return nil, err
		}
		todo.Deadline = *patch.Deadline
	}
	if patch.Labels != nil {
		if err := models.ValidateLabels(patch.Labels); err != nil {
			return nil, err
		}
		todo.Labels = append([]string(nil), patch.Labels...)
	}
	todo.UpdatedAt = time.Now().UTC()

	s.todos[id] = todo
	return &todo, nil
}

func (s *Storage) DeleteTodo(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.todos[id]; !exists {
		return errors.ErrNotFound
	}
	delete(s.todos, id)
	return nil
}

func (s *Storage) SearchTodos(ctx context.Context, query, username string, skip, limit int) ([]models.Todo, error) {
	var match func(t *models.Todo) bool

	if models.IsWildcardQuery(query) {
		re, err := regexp.Compile("(?i)" + models.WildcardRegex(query))
		if err != nil {
			return nil, errors.ErrBadRequest
		}
		match = func(t *models.Todo) bool {
			return re.MatchString(t.Title) || re.MatchString(t.Description)
		}
	} else {
		tokens := models.QueryTokens(query)
		if len(tokens) == 0 {
			return nil, nil
		}
		match = func(t *models.Todo) bool {
			text := strings.ToLower(t.Title + " " + t.Description)
			for _, token := range tokens {
				if !strings.Contains(text, token) {
					return false
				}
			}
			return true
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collectTodos(skip, limit, func(t *models.Todo) bool {
		if username != "" && t.Username != username {
			return false
		}
		return match(t)
	}), nil
}

func (s *Storage) CountTodos(ctx context.Context, completed *bool) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, todo := range s.todos {
		if completed != nil && todo.Completed != *completed {
			continue
		}
		count++
	}
	return count, nil
}

func (s *Storage) CountTodosByUsername(ctx context.Context, username string, completed *bool) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, todo := range s.todos {
		if todo.Username != username {
			continue
		}
		if completed != nil && todo.Completed != *completed {
			continue
		}
		count++
	}
	return count, nil
}

// collectTodos filters, orders by deadline ascending and paginates. Callers
// must hold at least a read lock.
func (s *Storage) collectTodos(skip, limit int, keep func(*models.Todo) bool) []models.Todo {
	var todos []models.Todo
	for _, todo := range s.todos {
		if keep(&todo) {
			todos = append(todos, todo)
		}
	}
	sort.Slice(todos, func(i, j int) bool {
		if !todos[i].Deadline.Equal(todos[j].Deadline.Time) {
			return todos[i].Deadline.Before(todos[j].Deadline.Time)
		}
		return todos[i].ID < todos[j].ID
	})
	return paginateTodos(todos, skip, limit)
}

func paginateTodos(todos []models.Todo, skip, limit int) []models.Todo {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if skip < 0 {
		skip = 0
	}
	if skip >= len(todos) {
		return nil
	}
	end := skip + limit
	if end > len(todos) {
		end = len(todos)
	}
	return todos[skip:end]
}

func paginateAccounts(accounts []models.Account, skip, limit int) []models.Account {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if skip < 0 {
		skip = 0
	}
	if skip >= len(accounts) {
		return nil
	}
	end := skip + limit
	if end > len(accounts) {
		end = len(accounts)
	}
	return accounts[skip:end]
}
