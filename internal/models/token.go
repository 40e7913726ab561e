package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims carries the dashboard session identity inside a signed token.
// Tokens are minted by the external OAuth collaborator; this service only
// validates them.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email"`
	Role   UserRole `json:"role"`
	jwt.RegisteredClaims
}
