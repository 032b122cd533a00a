package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"notion-proxy-go/internal/client"
	"notion-proxy-go/internal/config"
	"notion-proxy-go/internal/model"
)

// newTestService builds a ForwardService pointed at the given upstream URL.
func newTestService(t *testing.T, upstreamURL string) *ForwardService {
	t.Helper()

	cfg := &config.Config{
		Notion: config.NotionConfig{
			Token:   "secret_test_token",
			Version: "2024-05-01",
		},
		Upstream: config.UpstreamConfig{
			BaseURL:         upstreamURL,
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	nc := client.NewNotionClient(cfg, logger, nil)
	svc, err := NewForwardServiceForTest(nc, cfg, logger)
	if err != nil {
		t.Fatalf("NewForwardServiceForTest: %v", err)
	}
	return svc
}

func TestForward_InjectsAuthHeaders(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret_test_token" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer secret_test_token")
		}
		if got := r.Header.Get("Notion-Version"); got != "2024-05-01" {
			t.Errorf("Notion-Version = %q, want %q", got, "2024-05-01")
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q, want %q", got, "application/json")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"abc"}`))
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL)

	result, err := svc.Forward(context.Background(), &model.ForwardRequest{
		Method: "GET",
		Path:   "/v1/pages/abc",
	})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	if result.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", result.StatusCode, http.StatusOK)
	}
	want := map[string]any{"id": "abc"}
	if !reflect.DeepEqual(result.Data, want) {
		t.Errorf("Data = %#v, want %#v", result.Data, want)
	}
}

func TestForward_BodyPassedThroughUnchanged(t *testing.T) {
	sent := map[string]any{
		"parent": map[string]any{"database_id": "x"},
		"properties": map[string]any{
			"title": map[string]any{
				"title": []any{map[string]any{"text": map[string]any{"content": "Page Title"}}},
			},
		},
	}

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		var got map[string]any
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("unmarshal body: %v", err)
		}
		if !reflect.DeepEqual(got, sent) {
			t.Errorf("upstream body = %#v, want %#v", got, sent)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL)

	if _, err := svc.Forward(context.Background(), &model.ForwardRequest{
		Method: "POST",
		Path:   "/v1/pages",
		Body:   sent,
	}); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
}

func TestForward_UpstreamErrorIsResult(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid"}`))
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL)

	result, err := svc.Forward(context.Background(), &model.ForwardRequest{
		Method: "POST",
		Path:   "/v1/pages",
		Body:   map[string]any{"parent": map[string]any{"database_id": "x"}},
	})
	if err != nil {
		t.Fatalf("Forward() error = %v, upstream errors must not be local errors", err)
	}

	if result.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want %d", result.StatusCode, http.StatusBadRequest)
	}
	want := map[string]any{"message": "invalid"}
	if !reflect.DeepEqual(result.Data, want) {
		t.Errorf("Data = %#v, want %#v", result.Data, want)
	}
}

func TestForward_GETDropsBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		if len(raw) != 0 {
			t.Errorf("GET request carried a body: %q", raw)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL)

	if _, err := svc.Forward(context.Background(), &model.ForwardRequest{
		Method: "GET",
		Path:   "/v1/users",
		Body:   map[string]any{"ignored": true},
	}); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
}

func TestForward_QueryParams(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if got := q.Get("start_cursor"); got != "abc" {
			t.Errorf("start_cursor = %q, want %q", got, "abc")
		}
		if got := q.Get("page_size"); got != "100" {
			t.Errorf("page_size = %q, want %q", got, "100")
		}
		if got := q["filter_properties"]; len(got) != 2 {
			t.Errorf("filter_properties = %v, want 2 repeated values", got)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL)

	if _, err := svc.Forward(context.Background(), &model.ForwardRequest{
		Method: "GET",
		Path:   "/v1/databases/abc",
		Params: map[string]any{
			"start_cursor":      "abc",
			"page_size":         float64(100),
			"filter_properties": []any{"title", "status"},
		},
	}); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
}

func TestForward_RequestIDExtraction(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"primary header", map[string]string{"X-Request-Id": "req-1"}, "req-1"},
		{"fallback header", map[string]string{"X-Notion-Request-Id": "req-2"}, "req-2"},
		{"primary wins", map[string]string{"X-Request-Id": "req-1", "X-Notion-Request-Id": "req-2"}, "req-1"},
		{"absent", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				_, _ = w.Write([]byte(`{}`))
			}))
			defer upstream.Close()

			svc := newTestService(t, upstream.URL)
			result, err := svc.Forward(context.Background(), &model.ForwardRequest{
				Method: "GET",
				Path:   "/v1/users/me",
			})
			if err != nil {
				t.Fatalf("Forward() error = %v", err)
			}
			if result.NotionRequestID != tt.want {
				t.Errorf("NotionRequestID = %q, want %q", result.NotionRequestID, tt.want)
			}
		})
	}
}

func TestForward_NonJSONBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("plain text reply"))
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL)
	result, err := svc.Forward(context.Background(), &model.ForwardRequest{
		Method: "GET",
		Path:   "/v1/users",
	})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if result.Data != "plain text reply" {
		t.Errorf("Data = %#v, want raw text", result.Data)
	}
}

func TestForward_EmptyBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL)
	result, err := svc.Forward(context.Background(), &model.ForwardRequest{
		Method: "GET",
		Path:   "/v1/users",
	})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if result.Data != nil {
		t.Errorf("Data = %#v, want nil for empty body", result.Data)
	}
}

func TestForward_TransportFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	upstream.Close() // connection refused from here on

	svc := newTestService(t, upstream.URL)
	_, err := svc.Forward(context.Background(), &model.ForwardRequest{
		Method: "GET",
		Path:   "/v1/users",
	})
	if err == nil {
		t.Fatal("Forward() expected transport error, got nil")
	}
}

func TestForward_InvalidEnvelope(t *testing.T) {
	svc := newTestService(t, "https://api.notion.com")

	tests := []struct {
		name    string
		req     *model.ForwardRequest
		wantErr error
	}{
		{"unsupported method", &model.ForwardRequest{Method: "TRACE", Path: "/v1/users"}, ErrUnsupportedMethod},
		{"empty method", &model.ForwardRequest{Method: "", Path: "/v1/users"}, ErrUnsupportedMethod},
		{"empty path", &model.ForwardRequest{Method: "GET", Path: "  "}, ErrEmptyPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Forward(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Forward() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"already slashed", "/v1/pages", "/v1/pages", false},
		{"missing slash", "v1/pages", "/v1/pages", false},
		{"surrounding whitespace", "  /v1/search ", "/v1/search", false},
		{"empty", "", "", true},
		{"whitespace only", "   ", "", true},
		{"traversal passes through", "/v1/../admin", "/v1/../admin", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizePath(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalizePath(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("normalizePath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestQueryValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", "abc", "abc"},
		{"integral float", float64(100), "100"},
		{"fractional float", 2.5, "2.5"},
		{"bool", true, "true"},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := queryValue(tt.in); got != tt.want {
				t.Errorf("queryValue(%#v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewForwardService_HostAllowlist(t *testing.T) {
	cfg := &config.Config{
		Notion:   config.NotionConfig{Token: "secret"},
		Upstream: config.UpstreamConfig{BaseURL: "https://evil.example.com"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	nc := client.NewNotionClient(cfg, logger, nil)

	if _, err := NewForwardService(nc, cfg, logger); err == nil {
		t.Fatal("NewForwardService() expected allowlist error, got nil")
	}

	cfg.Upstream.BaseURL = "https://api.notion.com"
	if _, err := NewForwardService(nc, cfg, logger); err != nil {
		t.Fatalf("NewForwardService() error = %v", err)
	}
}
