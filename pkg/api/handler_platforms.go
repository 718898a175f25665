package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/unifyinbox/unifyinbox/pkg/services"
)

func (s *Server) listPlatformsHandler(c *echo.Context) error {
	creds, err := s.platformService.List(c.Request().Context(), currentUserID(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, creds)
}

func (s *Server) connectPlatformHandler(c *echo.Context) error {
	var req services.ConnectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	// The path names the platform; the body only carries tokens.
	req.Platform = c.Param("platform")

	cred, err := s.platformService.Connect(c.Request().Context(), currentUserID(c), req)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, cred)
}

func (s *Server) disconnectPlatformHandler(c *echo.Context) error {
	if err := s.platformService.Disconnect(c.Request().Context(), currentUserID(c), c.Param("platform")); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
