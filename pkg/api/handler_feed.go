package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/unifyinbox/unifyinbox/pkg/models"
	"github.com/unifyinbox/unifyinbox/pkg/store"
)

func (s *Server) feedHandler(c *echo.Context) error {
	var filter store.FeedFilter
	if v := c.QueryParam("platform"); v != "" {
		platform := models.Platform(v)
		filter.Platform = &platform
	}
	if v := c.QueryParam("label"); v != "" {
		label := models.PriorityLabel(v)
		filter.Label = &label
	}

	var offset, limit int
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset")
		}
		offset = n
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}

	feed, err := s.feedService.Feed(c.Request().Context(), currentUserID(c), filter, offset, limit)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, feed)
}

func (s *Server) threadHandler(c *echo.Context) error {
	platform := models.Platform(c.Param("platform"))
	threadID := c.Param("thread_id")

	thread, err := s.feedService.Thread(c.Request().Context(), currentUserID(c), platform, threadID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, thread)
}
