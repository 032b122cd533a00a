package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"notion-proxy-go/internal/model"
	"notion-proxy-go/internal/service"
)

// ForwardHandler relays POST /notion/request envelopes to the upstream API.
type ForwardHandler struct {
	service *service.ForwardService
	logger  *slog.Logger
}

// NewForwardHandler creates a ForwardHandler.
func NewForwardHandler(svc *service.ForwardService, logger *slog.Logger) *ForwardHandler {
	return &ForwardHandler{
		service: svc,
		logger:  logger.With("component", "forward_handler"),
	}
}

// Handle binds the Forward Request envelope, relays it upstream, and replies
// with the upstream's status code and the result envelope. Upstream error
// statuses pass through unchanged; only transport failures produce the local
// {"error": ...} shape.
func (h *ForwardHandler) Handle(c echo.Context) error {
	var fr model.ForwardRequest
	if err := c.Bind(&fr); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request body",
		})
	}

	result, err := h.service.Forward(c.Request().Context(), &fr)
	if err != nil {
		return h.mapError(c, err)
	}

	return c.JSON(result.StatusCode, result)
}

func (h *ForwardHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("forward error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, service.ErrEmptyPath) || errors.Is(err, service.ErrUnsupportedMethod) {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream connection failed",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "upstream request failed",
	})
}
