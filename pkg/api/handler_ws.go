package api

import (
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler upgrades to WebSocket and delegates to the ConnectionManager.
// Browsers cannot set headers on WebSocket requests, so the access token
// arrives as a query parameter. A bad token is reported over the socket
// with close code 4001 rather than an HTTP error, which browsers surface
// more usefully.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.connManager == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "WebSocket not available")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return err
	}

	claims, err := s.issuer.Verify(c.QueryParam("token"))
	if err != nil {
		conn.Close(websocket.StatusCode(4001), "invalid token")
		return nil
	}

	// HandleConnection blocks until the socket closes.
	s.connManager.HandleConnection(c.Request().Context(), conn, claims.Subject)
	return nil
}
