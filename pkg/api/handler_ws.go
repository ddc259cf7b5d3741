package api

import (
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler handles GET /ws — upgrades to a WebSocket and hands the
// connection to the hub. Upgrades are restricted to the configured origin
// allow-list; an empty list means same-origin only.
func (s *Server) wsHandler(c *echo.Context) error {
	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedWSOrigins,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "WebSocket upgrade failed")
	}

	s.hub.HandleConnection(c.Request().Context(), conn)
	return nil
}
