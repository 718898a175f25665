// Package services contains the business logic layer between the HTTP
// handlers and the stores.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/unifyinbox/unifyinbox/pkg/auth"
	"github.com/unifyinbox/unifyinbox/pkg/models"
	"github.com/unifyinbox/unifyinbox/pkg/store"
)

// minPasswordLength guards against trivially weak passwords.
const minPasswordLength = 8

// UserStorage is the slice of the store AuthService needs. Satisfied by
// *store.Store.
type UserStorage interface {
	CreateUser(ctx context.Context, email, name, passwordHash string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// TokenPair is the access and refresh token minted on register, login, and
// refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// AuthService handles registration, login, and token refresh.
type AuthService struct {
	store  UserStorage
	issuer *auth.TokenIssuer
}

// NewAuthService creates an AuthService.
func NewAuthService(st UserStorage, issuer *auth.TokenIssuer) *AuthService {
	return &AuthService{store: st, issuer: issuer}
}

// Register creates an account and mints the first token pair.
func (s *AuthService) Register(ctx context.Context, email, name, password string) (*models.User, *TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, nil, NewValidationError("email", "must be a valid email address")
	}
	if strings.TrimSpace(name) == "" {
		return nil, nil, NewValidationError("name", "required")
	}
	if len(password) < minPasswordLength {
		return nil, nil, NewValidationError("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return nil, nil, ErrAlreadyExists
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("failed to check existing user: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, nil, err
	}
	user, err := s.store.CreateUser(ctx, email, strings.TrimSpace(name), hash)
	if err != nil {
		return nil, nil, err
	}

	pair, err := s.mintPair(user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Login verifies credentials and mints a token pair. Unknown emails and bad
// passwords are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (*models.User, *TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrUnauthorized
		}
		return nil, nil, err
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return nil, nil, ErrUnauthorized
	}

	pair, err := s.mintPair(user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Refresh exchanges a valid refresh token for a fresh pair.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.issuer.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, ErrUnauthorized
	}
	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return s.mintPair(user)
}

// Me returns the account behind a verified access token.
func (s *AuthService) Me(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *AuthService) mintPair(user *models.User) (*TokenPair, error) {
	access, err := s.issuer.AccessToken(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to mint access token: %w", err)
	}
	refresh, err := s.issuer.RefreshToken(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to mint refresh token: %w", err)
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
