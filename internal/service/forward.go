// Package service implements the core forwarding logic.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"notion-proxy-go/internal/client"
	"notion-proxy-go/internal/config"
	"notion-proxy-go/internal/model"
)

// ErrEmptyPath is returned when the envelope carries a blank path.
var ErrEmptyPath = errors.New("path must not be empty")

// ErrUnsupportedMethod is returned for verbs the Notion API does not accept.
var ErrUnsupportedMethod = errors.New("method must be one of GET, POST, PATCH, DELETE")

// allowedMethods are the verbs the Notion API supports.
var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// allowedUpstreamHosts restricts which hosts the proxy will forward to.
var allowedUpstreamHosts = map[string]bool{
	"api.notion.com": true,
}

// Response headers Notion uses to carry its request identifier.
const (
	requestIDHeader    = "X-Request-Id"
	altRequestIDHeader = "X-Notion-Request-Id"
)

const userAgent = "notion-proxy-go/1.0"

// ForwardService relays Forward Requests to the upstream Notion API. It is
// the single forwarding implementation behind both the HTTP route and the
// MCP tool.
type ForwardService struct {
	client  *client.NotionClient
	cfg     *config.Config
	logger  *slog.Logger
	baseURL *url.URL
}

// NewForwardService creates a ForwardService.
func NewForwardService(c *client.NotionClient, cfg *config.Config, logger *slog.Logger) (*ForwardService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	if !allowedUpstreamHosts[u.Hostname()] {
		return nil, fmt.Errorf("upstream host %q is not in the allowlist", u.Hostname())
	}

	return &ForwardService{
		client:  c,
		cfg:     cfg,
		logger:  logger.With("component", "forward_service"),
		baseURL: u,
	}, nil
}

// NewForwardServiceForTest creates a ForwardService without host allowlist
// validation. This is intended only for tests that use httptest servers on
// localhost.
func NewForwardServiceForTest(c *client.NotionClient, cfg *config.Config, logger *slog.Logger) (*ForwardService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	return &ForwardService{
		client:  c,
		cfg:     cfg,
		logger:  logger.With("component", "forward_service"),
		baseURL: u,
	}, nil
}

// Forward relays a Forward Request to the Notion API and returns the
// upstream's reply. Upstream 4xx/5xx statuses are results, not errors; only
// transport failures and invalid envelopes produce a non-nil error.
//
// The caller-supplied path is sent as-is apart from leading-slash
// normalization; addressing arbitrary paths on the upstream host is the
// operation's contract.
func (s *ForwardService) Forward(ctx context.Context, fr *model.ForwardRequest) (*model.ForwardResult, error) {
	method := strings.ToUpper(strings.TrimSpace(fr.Method))
	if !allowedMethods[method] {
		return nil, fmt.Errorf("%w; got %q", ErrUnsupportedMethod, fr.Method)
	}

	path, err := normalizePath(fr.Path)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if method != http.MethodGet && fr.Body != nil {
		encoded, err := json.Marshal(fr.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	s.logger.Debug("forwarding request",
		"method", method,
		"path", path,
	)

	resp, err := s.client.Do(ctx, method, s.buildUpstreamURL(path, fr.Params), s.buildHeader(), body)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	return &model.ForwardResult{
		StatusCode:      resp.StatusCode,
		Data:            decodeBody(raw),
		NotionRequestID: requestID(resp.Header),
	}, nil
}

// buildHeader constructs the outbound headers carrying the integration token
// and the pinned Notion API version.
func (s *ForwardService) buildHeader() http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+s.cfg.Notion.Token)
	h.Set("Notion-Version", s.cfg.Notion.Version)
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", userAgent)
	return h
}

func (s *ForwardService) buildUpstreamURL(path string, params map[string]any) string {
	u := *s.baseURL
	u.Path = path
	u.RawQuery = encodeParams(params)
	return u.String()
}

// encodeParams flattens a JSON params object into a query string. Array
// values become repeated parameters.
func encodeParams(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	q := make(url.Values, len(params))
	for key, val := range params {
		if items, ok := val.([]any); ok {
			for _, item := range items {
				q.Add(key, queryValue(item))
			}
			continue
		}
		q.Add(key, queryValue(val))
	}
	return q.Encode()
}

// queryValue renders a decoded JSON value as a query parameter. JSON numbers
// arrive as float64; integral values must not pick up a ".0" suffix.
func queryValue(v any) string {
	switch vv := v.(type) {
	case string:
		return vv
	case float64:
		return strconv.FormatFloat(vv, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(vv)
	case nil:
		return ""
	default:
		return fmt.Sprint(vv)
	}
}

// normalizePath trims whitespace and ensures a leading slash.
func normalizePath(p string) (string, error) {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		return "", ErrEmptyPath
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	return trimmed, nil
}

// decodeBody parses the upstream body as JSON, falling back to the raw text.
func decodeBody(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// requestID extracts Notion's request identifier from the response headers.
func requestID(h http.Header) string {
	if id := h.Get(requestIDHeader); id != "" {
		return id
	}
	return h.Get(altRequestIDHeader)
}
