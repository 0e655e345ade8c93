package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the payload of access tokens minted by the identity provider.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
	Email  string   `json:"email"`
	Name   string   `json:"name"`
	jwt.RegisteredClaims
}
