package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/edunotice/internal/middleware"
)

// operatorEmail returns the email of the authenticated operator, or "" when absent.
func operatorEmail(c *gin.Context) string {
	claims, ok := middleware.Operator(c)
	if !ok || claims == nil {
		return ""
	}
	if claims.Email != "" {
		return claims.Email
	}
	return claims.Subject
}
