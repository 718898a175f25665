package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// refreshTokenLifetime is fixed at 7 days regardless of access token expiry.
const refreshTokenLifetime = 7 * 24 * time.Hour

// Claims carried by both access and refresh tokens. Type is "refresh" on
// refresh tokens and empty on access tokens.
type Claims struct {
	Email string `json:"email,omitempty"`
	Type  string `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies HS256 tokens.
type TokenIssuer struct {
	secret []byte
	expiry time.Duration
}

// NewTokenIssuer creates a TokenIssuer with the given signing secret and
// access token lifetime.
func NewTokenIssuer(secret string, expiry time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), expiry: expiry}
}

// AccessToken mints an access token for the user.
func (t *TokenIssuer) AccessToken(userID, email string) (string, error) {
	return t.sign(userID, email, "", t.expiry)
}

// RefreshToken mints a refresh token for the user.
func (t *TokenIssuer) RefreshToken(userID, email string) (string, error) {
	return t.sign(userID, email, "refresh", refreshTokenLifetime)
}

func (t *TokenIssuer) sign(userID, email, tokenType string, lifetime time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: email,
		Type:  tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an access token, rejecting refresh tokens.
func (t *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	claims, err := t.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type == "refresh" {
		return nil, fmt.Errorf("refresh token used as access token")
	}
	return claims, nil
}

// VerifyRefresh parses and validates a refresh token.
func (t *TokenIssuer) VerifyRefresh(tokenString string) (*Claims, error) {
	claims, err := t.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != "refresh" {
		return nil, fmt.Errorf("not a refresh token")
	}
	return claims, nil
}

func (t *TokenIssuer) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
