package models

import (
	"regexp"
	"time"
	"unicode"
	"unicode/utf8"

	"todoapi/internal/domain/errors"
)

type Account struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Email        string    `json:"email,omitempty"`
	FullName     string    `json:"full_name,omitempty"`
	IsActive     bool      `json:"is_active"`
	IsSuperuser  bool      `json:"is_superuser"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=4,max=32"`
	Password string `json:"password" validate:"required"`
	Email    string `json:"email" validate:"omitempty,email"`
	FullName string `json:"full_name" validate:"omitempty,max=100"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type UpdateAccountRequest struct {
	Email    *string `json:"email" validate:"omitempty,email"`
	FullName *string `json:"full_name" validate:"omitempty,max=100"`
	Password *string `json:"password"`
	IsActive *bool   `json:"is_active"`
}

func (r *UpdateAccountRequest) Empty() bool {
	return r.Email == nil && r.FullName == nil && r.Password == nil && r.IsActive == nil
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

var allowedPriorities = map[string]bool{
	PriorityLow:    true,
	PriorityMedium: true,
	PriorityHigh:   true,
}

var allowedLabels = map[string]bool{
	"Work":     true,
	"Personal": true,
	"Urgent":   true,
}

type Todo struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	Priority    string    `json:"priority"`
	Deadline    Date      `json:"deadline"`
	Labels      []string  `json:"labels"`
	Username    string    `json:"username"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type CreateTodoRequest struct {
	Title       string   `json:"title" validate:"required,min=1,max=100"`
	Description string   `json:"description" validate:"omitempty,max=500"`
	Completed   bool     `json:"completed"`
	Priority    string   `json:"priority" validate:"omitempty,oneof=low medium high"`
	Deadline    Date     `json:"deadline"`
	Labels      []string `json:"labels"`
	Username    string   `json:"-"`
}

type UpdateTodoRequest struct {
	Title       *string  `json:"title" validate:"omitempty,min=1,max=100"`
	Description *string  `json:"description" validate:"omitempty,max=500"`
	Completed   *bool    `json:"completed"`
	Priority    *string  `json:"priority" validate:"omitempty,oneof=low medium high"`
	Deadline    *Date    `json:"deadline"`
	Labels      []string `json:"labels"`
}

func (r *UpdateTodoRequest) Empty() bool {
	return r.Title == nil && r.Description == nil && r.Completed == nil &&
		r.Priority == nil && r.Deadline == nil && r.Labels == nil
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{4,32}$`)

func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return errors.ErrInvalidUsername
	}
	return nil
}

// ValidatePassword enforces the password policy: 8..72 bytes, at least one
// uppercase letter, one lowercase letter and one digit. The upper bound is the
// bcrypt input cap, so nothing past it can be silently dropped.
func ValidatePassword(password string) error {
	if len(password) < 8 || len(password) > 72 {
		return errors.ErrInvalidPassword
	}
	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		return errors.ErrInvalidPassword
	}
	return nil
}

func ValidateTitle(title string) error {
	n := utf8.RuneCountInString(title)
	if n < 1 || n > 100 {
		return errors.ErrInvalidTitle
	}
	return nil
}

func ValidateDescription(description string) error {
	if utf8.RuneCountInString(description) > 500 {
		return errors.ErrInvalidDescription
	}
	return nil
}

func ValidatePriority(priority string) error {
	if !allowedPriorities[priority] {
		return errors.ErrInvalidPriority
	}
	return nil
}

// ValidateDeadline requires a set calendar date not earlier than today's
// wall-clock date.
func ValidateDeadline(deadline Date) error {
	if deadline.IsZero() {
		return errors.ErrInvalidDeadline
	}
	if deadline.Before(Today().Time) {
		return errors.ErrDeadlineInPast
	}
	return nil
}

func ValidateLabels(labels []string) error {
	for _, label := range labels {
		if !allowedLabels[label] {
			return errors.ErrInvalidLabel
		}
	}
	return nil
}

// Validate checks every field against the creation rules.
func (t *Todo) Validate() error {
	if err := ValidateTitle(t.Title); err != nil {
		return err
	}
	if err := ValidateDescription(t.Description); err != nil {
		return err
	}
	if err := ValidatePriority(t.Priority); err != nil {
		return err
	}
	if err := ValidateDeadline(t.Deadline); err != nil {
		return err
	}
	if err := ValidateLabels(t.Labels); err != nil {
		return err
	}
	return ValidateUsername(t.Username)
}
