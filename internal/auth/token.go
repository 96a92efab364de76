package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"todoapi/internal/domain/errors"
)

const DefaultTokenTTL = 30 * time.Minute

// TokenService issues and validates self-contained HS256 bearer tokens. The
// signing secret is process-wide configuration; validation is stateless, so an
// issued token stays valid until its expiry.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}
}

func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token carrying the subject and an absolute expiry.
func (s *TokenService) Issue(subject string) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": now.Add(s.ttl).Unix(),
		"iat": now.Unix(),
	})
	return token.SignedString(s.secret)
}

// Validate returns the subject of a valid token. Signature mismatch, a wrong
// algorithm, decode failure and expiry all collapse into ErrInvalidToken.
func (s *TokenService) Validate(raw string) (string, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", errors.ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.ErrInvalidToken
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return "", errors.ErrInvalidToken
	}
	subject, ok := claims["sub"].(string)
	if !ok || subject == "" {
		return "", errors.ErrInvalidToken
	}
	return subject, nil
}
