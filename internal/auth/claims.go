package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const TokenTypeAccess TokenType = "access"

// Claims carried by operator access tokens. CompanyID scopes every read.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	CompanyID string    `json:"company_id"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
