package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the operator token body. Both token types carry the role so a
// refresh can re-mint an access token without a user store.
type Claims struct {
	jwt.RegisteredClaims

	OperatorID string    `json:"operator_id"`
	Role       string    `json:"role"`
	TokenType  TokenType `json:"token_type"`
}

func (c Claims) Identity() Identity {
	return Identity{OperatorID: c.OperatorID, Role: c.Role}
}
