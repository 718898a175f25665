package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/unifyinbox/unifyinbox/pkg/models"
	"github.com/unifyinbox/unifyinbox/pkg/services"
)

// RegisterRequest is the signup payload.
type RegisterRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// LoginRequest is the login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest carries a refresh token.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// AuthResponse is returned on register and login.
type AuthResponse struct {
	User   *models.User        `json:"user"`
	Tokens *services.TokenPair `json:"tokens"`
}

func (s *Server) registerHandler(c *echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	user, tokens, err := s.authService.Register(c.Request().Context(), req.Email, req.Name, req.Password)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, &AuthResponse{User: user, Tokens: tokens})
}

func (s *Server) loginHandler(c *echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	user, tokens, err := s.authService.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &AuthResponse{User: user, Tokens: tokens})
}

func (s *Server) refreshHandler(c *echo.Context) error {
	var req RefreshRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	tokens, err := s.authService.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, tokens)
}

func (s *Server) meHandler(c *echo.Context) error {
	user, err := s.authService.Me(c.Request().Context(), currentUserID(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, user)
}
