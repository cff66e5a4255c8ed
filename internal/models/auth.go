package models

import "github.com/golang-jwt/jwt/v5"

// OperatorClaims is the payload of a token presented to the ops API.
type OperatorClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}
