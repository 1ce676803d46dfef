package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"imgshift/internal/pipeline"
)

// Client calls a running daemon.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient targets the daemon at bind ("host:port" or a full URL).
func NewClient(bind, token string) *Client {
	base := strings.TrimRight(strings.TrimSpace(bind), "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{base: base, token: token, http: &http.Client{Timeout: 10 * time.Second}}
}

// StatusError is a non-2xx reply decoded from an ErrorResponse.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("daemon returned %d %s: %s", e.Status, e.Code, e.Message)
}

// ErrorKind exposes the server-side classification.
func (e *StatusError) ErrorKind() string { return e.Code }

func (c *Client) get(ctx context.Context, path string, query url.Values, header http.Header, out any) error {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contact daemon: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var payload ErrorResponse
		_ = json.Unmarshal(body, &payload)
		return &StatusError{Status: resp.StatusCode, Code: payload.Code, Message: payload.Error}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Health checks liveness.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var resp HealthResponse
	err := c.get(ctx, "/api/health", nil, nil, &resp)
	return resp, err
}

// Formats lists supported targets.
func (c *Client) Formats(ctx context.Context) ([]pipeline.FormatView, error) {
	var resp []pipeline.FormatView
	err := c.get(ctx, "/api/formats", nil, nil, &resp)
	return resp, err
}

// Stats fetches a statistics snapshot as user.
func (c *Client) Stats(ctx context.Context, user, scope string) (pipeline.StatsView, error) {
	var resp pipeline.StatsView
	header := http.Header{}
	header.Set(UserHeader, user)
	err := c.get(ctx, "/api/stats", url.Values{"scope": {scope}}, header, &resp)
	return resp, err
}
