package handler

import (
	_ "embed"
	"net/http"

	"github.com/labstack/echo/v4"
)

// openapiDocument is the static API schema served for tool discovery. It is
// compiled into the binary so the proxy has nothing to read at runtime.
//
//go:embed openapi.json
var openapiDocument []byte

// ManifestHandler serves the discovery documents AI-assistant platforms use
// to register the proxy as a tool.
type ManifestHandler struct{}

// NewManifestHandler creates a ManifestHandler.
func NewManifestHandler() *ManifestHandler {
	return &ManifestHandler{}
}

// OpenAPI serves the embedded OpenAPI document.
func (h *ManifestHandler) OpenAPI(c echo.Context) error {
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, openapiDocument)
}

// PluginManifest serves the plugin manifest. The schema URL is derived from
// the request so the manifest is correct behind any hostname.
func (h *ManifestHandler) PluginManifest(c echo.Context) error {
	base := c.Scheme() + "://" + c.Request().Host

	return c.JSON(http.StatusOK, map[string]any{
		"schema_version": "v1",
		"name_for_human": "Notion Proxy",
		"name_for_model": "notion_proxy",
		"description_for_human": "Access and manage Notion workspaces through the complete Notion API. " +
			"Create, read, update pages, databases, and blocks.",
		"description_for_model": "Use this tool to interact with Notion workspaces via the Notion API. " +
			"Supports all Notion operations: create/edit pages and databases, query data with filters and sorts, " +
			"manage blocks and rich text content, search across workspaces, and handle user permissions. " +
			"Specify HTTP method, API path, query params, and JSON body as needed. " +
			"Authentication is handled automatically. Returns raw Notion API responses with status codes.",
		"auth": map[string]string{"type": "none"},
		"api": map[string]string{
			"type": "openapi",
			"url":  base + "/.well-known/openapi.json",
		},
	})
}
