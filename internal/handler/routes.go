package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, forward *ForwardHandler, health *HealthHandler, manifest *ManifestHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	e.POST("/notion/request", forward.Handle)

	e.GET("/.well-known/openapi.json", manifest.OpenAPI)
	e.GET("/.well-known/ai-plugin.json", manifest.PluginManifest)
}
