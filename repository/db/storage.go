package db

import (
	"context"
	stderrors "errors"
	"log"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"todoapi/internal/auth"
	"todoapi/internal/domain/errors"
	"todoapi/internal/domain/models"
)

const (
	connectTimeout = 5 * time.Second
	opTimeout      = 15 * time.Second

	defaultListLimit = 100

	uniqueViolation = "23505"

	accountColumns = "id, username, password_hash, email, full_name, is_active, is_superuser, created_at, updated_at"
	todoColumns    = "id, title, description, completed, priority, deadline, labels, username, created_at, updated_at"
)

// dummyHash keeps the response time of Authenticate for an unknown username
// close to the wrong-password path.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

var qb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type Storage struct {
	pool       *pgxpool.Pool
	bcryptCost int

	queryCreateAccount  string
	queryAccountByID    string
	queryAccountByName  string
	queryAccountByEmail string
	queryDeleteAccount  string
	queryCreateTodo     string
	queryTodoByID       string
	queryDeleteTodo     string
}

func NewStorage(connStr string, bcryptCost int) (*Storage, error) {
	if bcryptCost <= 0 {
		bcryptCost = bcrypt.DefaultCost
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Println("[ERROR] Не удалось подключиться к базе данных:", err)
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		log.Println("[ERROR] База данных недоступна:", err)
		return nil, errors.ErrDatabaseConnection
	}

	s := &Storage{
		pool:       pool,
		bcryptCost: bcryptCost,

		queryCreateAccount: `INSERT INTO users (id, username, password_hash, email, full_name)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING is_active, is_superuser, created_at, updated_at`,
		queryAccountByID:    `SELECT ` + accountColumns + ` FROM users WHERE id = $1`,
		queryAccountByName:  `SELECT ` + accountColumns + ` FROM users WHERE username = $1`,
		queryAccountByEmail: `SELECT ` + accountColumns + ` FROM users WHERE email = $1`,
		queryDeleteAccount:  `DELETE FROM users WHERE id = $1`,
		queryCreateTodo: `INSERT INTO todos (id, title, description, completed, priority, deadline, labels, username)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING created_at, updated_at`,
		queryTodoByID:   `SELECT ` + todoColumns + ` FROM todos WHERE id = $1`,
		queryDeleteTodo: `DELETE FROM todos WHERE id = $1`,
	}
	log.Println("[SUCCESS] Соединение с базой данных установлено успешно")
	return s, nil
}

func (s *Storage) Close() {
	s.pool.Close()
}

func (s *Storage) CreateAccount(ctx context.Context, req *models.RegisterRequest) (*models.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	hash, err := auth.HashPassword(req.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	account := models.Account{
		ID:           uuid.New().String(),
		Username:     req.Username,
		PasswordHash: hash,
		Email:        req.Email,
		FullName:     req.FullName,
	}
	row := s.pool.QueryRow(ctx, s.queryCreateAccount,
		account.ID, account.Username, account.PasswordHash, nullifyEmpty(req.Email), req.FullName)
	if err := row.Scan(&account.IsActive, &account.IsSuperuser, &account.CreatedAt, &account.UpdatedAt); err != nil {
		if conflict := uniqueConflict(err); conflict != nil {
			return nil, conflict
		}
		log.Println("[ERROR] Не удалось создать пользователя:", err)
		return nil, err
	}
	log.Println("[SUCCESS] Пользователь успешно создан:", account.Username)
	return &account, nil
}

func (s *Storage) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.ErrUserNotFound
	}
	return s.getAccount(ctx, s.queryAccountByID, id)
}

func (s *Storage) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	return s.getAccount(ctx, s.queryAccountByName, username)
}

func (s *Storage) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	if email == "" {
		return nil, errors.ErrUserNotFound
	}
	return s.getAccount(ctx, s.queryAccountByEmail, email)
}

func (s *Storage) getAccount(ctx context.Context, query string, arg interface{}) (*models.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	account, err := scanAccount(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ErrUserNotFound
		}
		log.Println("[ERROR] Ошибка при получении пользователя:", err)
		return nil, err
	}
	return account, nil
}

func (s *Storage) ListAccounts(ctx context.Context, skip, limit int, isActive *bool) ([]models.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	q := qb.Select(accountColumns).From("users")
	if isActive != nil {
		q = q.Where(sq.Eq{"is_active": *isActive})
	}
	q = q.OrderBy("created_at ASC", "id ASC").
		Offset(uint64(clampSkip(skip))).
		Limit(uint64(clampLimit(limit)))

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		log.Println("[ERROR] Ошибка при получении списка пользователей:", err)
		return nil, err
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

func (s *Storage) UpdateAccount(ctx context.Context, id string, patch *models.UpdateAccountRequest) (*models.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.ErrUserNotFound
	}
	if patch.Empty() {
		return s.GetAccountByID(ctx, id)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	q := qb.Update("users").Set("updated_at", time.Now().UTC())
	if patch.Email != nil {
		q = q.Set("email", nullifyEmpty(*patch.Email))
	}
	if patch.FullName != nil {
		q = q.Set("full_name", *patch.FullName)
	}
	if patch.Password != nil {
		hash, err := auth.HashPassword(*patch.Password, s.bcryptCost)
		if err != nil {
			return nil, err
		}
		q = q.Set("password_hash", hash)
	}
	if patch.IsActive != nil {
		q = q.Set("is_active", *patch.IsActive)
	}
	q = q.Where(sq.Eq{"id": id}).Suffix("RETURNING " + accountColumns)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	account, err := scanAccount(s.pool.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ErrUserNotFound
		}
		if conflict := uniqueConflict(err); conflict != nil {
			return nil, conflict
		}
		log.Println("[ERROR] Не удалось обновить пользователя:", err)
		return nil, err
	}
	return account, nil
}

func (s *Storage) DeleteAccount(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.ErrUserNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, s.queryDeleteAccount, id)
	if err != nil {
		log.Println("[ERROR] Не удалось удалить пользователя:", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrUserNotFound
	}
	log.Println("[SUCCESS] Пользователь успешно удален:", id)
	return nil
}

func (s *Storage) SetAccountActive(ctx context.Context, id string, active bool) (*models.Account, error) {
	return s.UpdateAccount(ctx, id, &models.UpdateAccountRequest{IsActive: &active})
}

func (s *Storage) CountAccounts(ctx context.Context, isActive *bool) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	q := qb.Select("count(*)").From("users")
	if isActive != nil {
		q = q.Where(sq.Eq{"is_active": *isActive})
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, err
	}

	var count int
	if err := s.pool.QueryRow(ctx, sqlStr, args...).Scan(&count); err != nil {
		log.Println("[ERROR] Ошибка при подсчете пользователей:", err)
		return 0, err
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
	todo := models.Todo{
		ID:          uuid.New().String(),
		Title:       req.Title,
		Description: req.Description,
		Completed:   req.Completed,
		Priority:    req.Priority,
		Deadline:    req.Deadline,
		Labels:      append([]string(nil), req.Labels...),
		Username:    req.Username,
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

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := s.pool.QueryRow(ctx, s.queryCreateTodo,
		todo.ID, todo.Title, todo.Description, todo.Completed, todo.Priority,
		todo.Deadline.Time, todo.Labels, todo.Username)
	if err := row.Scan(&todo.CreatedAt, &todo.UpdatedAt); err != nil {
		log.Println("[ERROR] Не удалось создать задачу:", err)
		return nil, err
	}
	log.Println("[SUCCESS] Задача успешно создана:", todo.ID)
	return &todo, nil
}

func (s *Storage) GetTodoByID(ctx context.Context, id string) (*models.Todo, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	todo, err := scanTodo(s.pool.QueryRow(ctx, s.queryTodoByID, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ErrNotFound
		}
		log.Println("[ERROR] Ошибка при получении задачи:", err)
		return nil, err
	}
	return todo, nil
}

func (s *Storage) ListTodos(ctx context.Context, skip, limit int, completed *bool, priority string) ([]models.Todo, error) {
	q := qb.Select(todoColumns).From("todos")
	if completed != nil {
		q = q.Where(sq.Eq{"completed": *completed})
	}
	if priority != "" {
		q = q.Where(sq.Eq{"priority": priority})
	}
	return s.queryTodos(ctx, q, skip, limit)
}

func (s *Storage) ListTodosByUsername(ctx context.Context, username string, skip, limit int, completed *bool, priority string) ([]models.Todo, error) {
	q := qb.Select(todoColumns).From("todos").Where(sq.Eq{"username": username})
	if completed != nil {
		q = q.Where(sq.Eq{"completed": *completed})
	}
	if priority != "" {
		q = q.Where(sq.Eq{"priority": priority})
	}
	return s.queryTodos(ctx, q, skip, limit)
}

func (s *Storage) SearchTodos(ctx context.Context, query, username string, skip, limit int) ([]models.Todo, error) {
	q := qb.Select(todoColumns).From("todos")
	if models.IsWildcardQuery(query) {
		pattern := models.WildcardRegex(query)
		q = q.Where("(title ~* ? OR description ~* ?)", pattern, pattern)
	} else {
		q = q.Where("to_tsvector('english', title || ' ' || description) @@ plainto_tsquery('english', ?)", query)
	}
	if username != "" {
		q = q.Where(sq.Eq{"username": username})
	}
	return s.queryTodos(ctx, q, skip, limit)
}

func (s *Storage) queryTodos(ctx context.Context, q sq.SelectBuilder, skip, limit int) ([]models.Todo, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	q = q.OrderBy("deadline ASC", "id ASC").
		Offset(uint64(clampSkip(skip))).
		Limit(uint64(clampLimit(limit)))

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		log.Println("[ERROR] Ошибка при получении списка задач:", err)
		return nil, err
	}
	defer rows.Close()

	var todos []models.Todo
	for rows.Next() {
		todo, err := scanTodo(rows)
		if err != nil {
			return nil, err
		}
		todos = append(todos, *todo)
	}
	return todos, rows.Err()
}

func (s *Storage) UpdateTodo(ctx context.Context, id string, patch *models.UpdateTodoRequest) (*models.Todo, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.ErrNotFound
	}
	if patch.Empty() {
		return s.GetTodoByID(ctx, id)
	}

	q := qb.Update("todos").Set("updated_at", time.Now().UTC())
	if patch.Title != nil {
		if err := models.ValidateTitle(*patch.Title); err != nil {
			return nil, err
		}
		q = q.Set("title", *patch.Title)
	}
	if patch.Description != nil {
		if err := models.ValidateDescription(*patch.Description); err != nil {
			return nil, err
		}
		q = q.Set("description", *patch.Description)
	}
	if patch.Completed != nil {
		q = q.Set("completed", *patch.Completed)
	}
	if patch.Priority != nil {
		if err := models.ValidatePriority(*patch.Priority); err != nil {
			return nil, err
		}
		q = q.Set("priority", *patch.Priority)
	}
	if patch.Deadline != nil {
		if err := models.ValidateDeadline(*patch.Deadline); err != nil {
			return nil, err
		}
		q = q.Set("deadline", patch.Deadline.Time)
	}
	if patch.Labels != nil {
		if err := models.ValidateLabels(patch.Labels); err != nil {
			return nil, err
		}
		q = q.Set("labels", patch.Labels)
	}
	q = q.Where(sq.Eq{"id": id}).Suffix("RETURNING " + todoColumns)

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	todo, err := scanTodo(s.pool.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ErrNotFound
		}
		log.Println("[ERROR] Не удалось обновить задачу:", err)
		return nil, err
	}
	return todo, nil
}

func (s *Storage) DeleteTodo(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, s.queryDeleteTodo, id)
	if err != nil {
		log.Println("[ERROR] Не удалось удалить задачу:", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrNotFound
	}
	return nil
}

func (s *Storage) CountTodos(ctx context.Context, completed *bool) (int, error) {
	q := qb.Select("count(*)").From("todos")
	if completed != nil {
		q = q.Where(sq.Eq{"completed": *completed})
	}
	return s.countTodos(ctx, q)
}

func (s *Storage) CountTodosByUsername(ctx context.Context, username string, completed *bool) (int, error) {
	q := qb.Select("count(*)").From("todos").Where(sq.Eq{"username": username})
	if completed != nil {
		q = q.Where(sq.Eq{"completed": *completed})
	}
	return s.countTodos(ctx, q)
}

func (s *Storage) countTodos(ctx context.Context, q sq.SelectBuilder) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, err
	}
	var count int
	if err := s.pool.QueryRow(ctx, sqlStr, args...).Scan(&count); err != nil {
		log.Println("[ERROR] Ошибка при подсчете задач:", err)
		return 0, err
	}
	return count, nil
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var account models.Account
	var email *string
	err := row.Scan(&account.ID, &account.Username, &account.PasswordHash, &email,
		&account.FullName, &account.IsActive, &account.IsSuperuser,
		&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if email != nil {
		account.Email = *email
	}
	return &account, nil
}

func scanTodo(row pgx.Row) (*models.Todo, error) {
	var todo models.Todo
	var deadline time.Time
	err := row.Scan(&todo.ID, &todo.Title, &todo.Description, &todo.Completed,
		&todo.Priority, &deadline, &todo.Labels, &todo.Username,
		&todo.CreatedAt, &todo.UpdatedAt)
	if err != nil {
		return nil, err
	}
	todo.Deadline = models.NewDate(deadline.Year(), deadline.Month(), deadline.Day())
	return &todo, nil
}

// uniqueConflict maps a unique-constraint violation onto the conflict
// sentinel for the column involved, or returns nil for any other error.
func uniqueConflict(err error) error {
	var pgErr *pgconn.PgError
	if !stderrors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return nil
	}
	if pgErr.ConstraintName == "users_email_key" {
		return errors.ErrEmailAlreadyExists
	}
	return errors.ErrUserAlreadyExists
}

func nullifyEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func clampSkip(skip int) int {
	if skip < 0 {
		return 0
	}
	return skip
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
