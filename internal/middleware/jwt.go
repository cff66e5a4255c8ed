package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/edunotice/internal/models"
	appErrors "github.com/noah-isme/edunotice/pkg/errors"
	"github.com/noah-isme/edunotice/pkg/response"
)

// ContextOperatorKey is the gin context key storing the operator claims.
const ContextOperatorKey = "currentOperator"

// TokenValidator verifies bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*models.OperatorClaims, error)
}

// JWT protects routes by requiring a valid operator token.
func JWT(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header"))
			c.Abort()
			return
		}

		claims, err := tokens.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextOperatorKey, claims)
		c.Next()
	}
}

// Operator returns the claims set by JWT, if any.
func Operator(c *gin.Context) (*models.OperatorClaims, bool) {
	value, ok := c.Get(ContextOperatorKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*models.OperatorClaims)
	return claims, ok
}
