// Package model defines the envelope shared by the HTTP and MCP transports.
package model

// ForwardRequest is the envelope a caller submits to have a single request
// relayed to the Notion API. It exists only for the duration of one call.
type ForwardRequest struct {
	Method string         `json:"method"`
	Path   string         `json:"path"`
	Params map[string]any `json:"params,omitempty"`
	Body   map[string]any `json:"body,omitempty"`
}

// ForwardResult carries the upstream's reply back to the caller. Data holds
// the decoded JSON body when the upstream sent JSON, the raw text otherwise,
// or nil for an empty body.
type ForwardResult struct {
	StatusCode      int    `json:"status_code"`
	Data            any    `json:"data"`
	NotionRequestID string `json:"notion_request_id,omitempty"`
}
