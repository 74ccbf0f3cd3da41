package messaging

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/nutrition/nutrition/internal/platform/middleware"
)

// TransportHTTP labels messages received on the HTTP endpoint.
const TransportHTTP = "http"

// HTTPRequest is the body of POST /messages.
type HTTPRequest struct {
	Identity string `json:"identity"`
	Text     string `json:"text"`
}

// HTTPResponse carries the reply. Reply is empty when handled is false.
type HTTPResponse struct {
	Handled bool   `json:"handled"`
	Reply   string `json:"reply,omitempty"`
}

type HTTPHandler struct {
	router *Router
}

func NewHTTPHandler(router *Router) *HTTPHandler {
	return &HTTPHandler{router: router}
}

func (h *HTTPHandler) RegisterRoutes(api *echo.Group) {
	api.POST("/messages", h.Receive, middleware.BodyLimit("16K"))
}

func (h *HTTPHandler) Receive(c echo.Context) error {
	var req HTTPRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}
	reply, handled := h.router.Dispatch(c.Request().Context(), TransportHTTP, Message{Identity: req.Identity, Text: req.Text})
	return c.JSON(http.StatusOK, HTTPResponse{Handled: handled, Reply: reply.Text})
}
