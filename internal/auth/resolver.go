package auth

import (
	"context"
	"log"

	"todoapi/internal/domain/errors"
	"todoapi/internal/domain/models"
)

// AccountSource is the read-only account lookup the resolver needs.
type AccountSource interface {
	GetAccountByUsername(ctx context.Context, username string) (*models.Account, error)
}

// Resolver maps bearer tokens onto active accounts. Resolution never mutates
// account state.
type Resolver struct {
	tokens   *TokenService
	accounts AccountSource
}

func NewResolver(tokens *TokenService, accounts AccountSource) *Resolver {
	return &Resolver{tokens: tokens, accounts: accounts}
}

// Resolve validates the token and loads the account it names. An invalid or
// expired token and an unknown subject both yield ErrUnauthorized; a
// deactivated account yields ErrForbidden.
func (r *Resolver) Resolve(ctx context.Context, raw string) (*models.Account, error) {
	subject, err := r.tokens.Validate(raw)
	if err != nil {
		log.Printf("[WARN] Недействительный токен: %s", truncateToken(raw))
		return nil, errors.ErrUnauthorized
	}
	account, err := r.accounts.GetAccountByUsername(ctx, subject)
	if err != nil {
		log.Printf("[WARN] Субъект токена не найден: %s", subject)
		return nil, errors.ErrUnauthorized
	}
	if !account.IsActive {
		log.Printf("[WARN] Попытка доступа деактивированного пользователя: %s", subject)
		return nil, errors.ErrForbidden
	}
	return account, nil
}

// ResolveOptional is Resolve for endpoints that accept anonymous callers: a
// missing or invalid token yields no identity instead of an error.
func (r *Resolver) ResolveOptional(ctx context.Context, raw string) *models.Account {
	if raw == "" {
		return nil
	}
	account, err := r.Resolve(ctx, raw)
	if err != nil {
		return nil
	}
	return account
}

// RequireSuperuser gates privileged operations.
func RequireSuperuser(account *models.Account) error {
	if account == nil || !account.IsSuperuser {
		return errors.ErrForbidden
	}
	return nil
}

// truncateToken keeps logged tokens short enough to be useless.
func truncateToken(raw string) string {
	if len(raw) <= 8 {
		return raw
	}
	return raw[:8] + "..."
}
