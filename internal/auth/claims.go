package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

// TokenTypeAccess is the only type this service accepts. The identity service
// also mints refresh tokens, which must never authenticate an API call.
const TokenTypeAccess TokenType = "access"

// Claims are the only supported JWT claims shape for API callers.
// Channel membership is not encoded here; it is owned by the channel service.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	TokenType TokenType `json:"token_type"`
}
