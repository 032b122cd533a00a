// Package mcpserver republishes the forwarding operation as an MCP tool for
// connector-style callers.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"notion-proxy-go/internal/handler"
	"notion-proxy-go/internal/model"
	"notion-proxy-go/internal/service"
)

// toolInput mirrors the envelope accepted by POST /notion/request. The MCP
// SDK derives the tool's input schema from this struct.
type toolInput struct {
	Method string         `json:"method"`
	Path   string         `json:"path"`
	Params map[string]any `json:"params,omitempty"`
	Body   map[string]any `json:"body,omitempty"`
}

// Server wraps an MCP server exposing the single notion_request tool. It is
// a thin adapter over the same ForwardService the HTTP route uses.
type Server struct {
	mcp    *mcp.Server
	logger *slog.Logger
}

// New creates a Server with the notion_request tool registered.
func New(svc *service.ForwardService, version handler.Version, logger *slog.Logger) *Server {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "notion-proxy",
		Version: string(version),
	}, nil)

	s := &Server{
		mcp:    srv,
		logger: logger.With("component", "mcp_server"),
	}

	mcp.AddTool(srv, &mcp.Tool{
		Name: "notion_request",
		Description: "Proxy an arbitrary Notion API call. Specify the HTTP method " +
			"(GET, POST, PATCH, or DELETE), the endpoint path such as /v1/pages or " +
			"/v1/databases/{database_id}/query, optional query parameters, and an " +
			"optional JSON body. Authentication and API versioning are handled " +
			"automatically; the raw Notion response is returned with its status code.",
	}, s.makeToolHandler(svc))

	return s
}

// makeToolHandler adapts the forwarding service to the MCP tool calling
// convention. Upstream statuses, including errors, are returned as results;
// only invalid envelopes and transport failures become tool errors.
func (s *Server) makeToolHandler(svc *service.ForwardService) func(context.Context, *mcp.CallToolRequest, toolInput) (*mcp.CallToolResult, model.ForwardResult, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in toolInput) (*mcp.CallToolResult, model.ForwardResult, error) {
		result, err := svc.Forward(ctx, &model.ForwardRequest{
			Method: in.Method,
			Path:   in.Path,
			Params: in.Params,
			Body:   in.Body,
		})
		if err != nil {
			s.logger.Error("tool call failed",
				"err", err,
				"path", in.Path,
			)
			return nil, model.ForwardResult{}, fmt.Errorf("calling Notion: %w", err)
		}

		s.logger.Info("tool call",
			"method", in.Method,
			"path", in.Path,
			"status", result.StatusCode,
			"request_id", result.NotionRequestID,
		)

		return nil, *result, nil
	}
}

// Handler returns an http.Handler serving the MCP server over Streamable
// HTTP at /mcp and SSE at /sse, so both connector transports work against
// the same listener.
func (s *Server) Handler() http.Handler {
	getServer := func(*http.Request) *mcp.Server { return s.mcp }

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(getServer, nil))

	sse := mcp.NewSSEHandler(getServer, nil)
	mux.Handle("/sse", sse)
	mux.Handle("/sse/", sse)

	return mux
}

// Connect attaches the MCP server to a transport. Used by the in-memory
// transport in tests; HTTP serving goes through Handler.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
