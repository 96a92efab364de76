package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"todoapi/internal/auth"
	"todoapi/internal/domain/errors"
	"todoapi/internal/domain/models"
)

const accountContextKey = "account"

// bearerToken pulls the raw token from the Authorization header, or returns
// an empty string when the header is absent or not a bearer scheme.
func bearerToken(ctx *gin.Context) string {
	header := ctx.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// RequireAuth resolves the bearer token and aborts with 401 or 403 when the
// caller has no usable identity.
func RequireAuth(resolver *auth.Resolver) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		raw := bearerToken(ctx)
		if raw == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errors.ErrUnauthorized.Error()})
			return
		}

		account, err := resolver.Resolve(ctx.Request.Context(), raw)
		if err != nil {
			if err == errors.ErrForbidden {
				ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": errors.ErrForbidden.Error()})
				return
			}
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errors.ErrUnauthorized.Error()})
			return
		}

		ctx.Set(accountContextKey, account)
		ctx.Next()
	}
}

// OptionalAuth attaches an identity when a valid token is present and lets
// anonymous requests through untouched.
func OptionalAuth(resolver *auth.Resolver) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if account := resolver.ResolveOptional(ctx.Request.Context(), bearerToken(ctx)); account != nil {
			ctx.Set(accountContextKey, account)
		}
		ctx.Next()
	}
}

func currentAccount(ctx *gin.Context) *models.Account {
	value, ok := ctx.Get(accountContextKey)
	if !ok {
		return nil
	}
	account, ok := value.(*models.Account)
	if !ok {
		return nil
	}
	return account
}
