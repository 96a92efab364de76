package auth

import (
	"golang.org/x/crypto/bcrypt"

	"todoapi/internal/domain/errors"
)

// MaxPasswordBytes is the bcrypt input cap. Longer passwords are rejected
// instead of being silently truncated, so the effective input length is
// 8..72 bytes.
const MaxPasswordBytes = 72

func HashPassword(plain string, cost int) (string, error) {
	if len(plain) > MaxPasswordBytes {
		return "", errors.ErrInvalidPassword
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a bcrypt hash with a plain password. A malformed
// hash is a mismatch, never a panic.
func VerifyPassword(hash, plain string) bool {
	if len(plain) > MaxPasswordBytes {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
