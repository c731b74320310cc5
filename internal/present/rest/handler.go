package rest

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/edufeed-org/oer-finder-plugin-sub000/internal/service"
)

// Handler exposes the operational endpoints of the feed.
type Handler struct {
	feed *service.FeedService
}

func NewHandler(feed *service.FeedService) *Handler {
	return &Handler{feed: feed}
}

func (h *Handler) Register(e *echo.Echo) {
	e.GET("/health", h.handleHealth)
	e.GET("/stats", h.handleStats)
}

func (h *Handler) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

func (h *Handler) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.feed.Stats())
}
